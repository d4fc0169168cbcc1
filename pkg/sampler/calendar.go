package sampler

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vjranagit/sampleby/internal/arith"
	"github.com/vjranagit/sampleby/pkg/calendar"
)

// Average Gregorian lengths: 365.2425 days per year over the 400 year cycle.
const (
	approxYearMicros  int64 = 31_556_952 * calendar.MicrosPerSecond
	approxMonthMicros       = approxYearMicros / calendar.MonthsPerYear
)

// CalendarSampler produces buckets of k days, weeks, months or years.
//
// Buckets are aligned to calendar periods: SetStart snaps the anchor to
// the midnight, Monday, first of the month or January 1st at or before
// the given timestamp, and every boundary is the start of a period whose
// distance to the anchor period is a multiple of k. Bucket arithmetic is
// done on calendar fields, so month and year buckets have their true,
// varying lengths.
type CalendarSampler struct {
	unit Unit
	step int64
	// anchor is the period index of the start: days since the epoch, ISO
	// weeks since the epoch, year*12+month-1, or the year.
	anchor int64
}

// NewCalendarSampler returns a sampler with buckets of step units. unit
// must be Day, Week, Month or Year.
func NewCalendarSampler(unit Unit, step int64) (*CalendarSampler, error) {
	if !unit.IsCalendar() {
		return nil, errors.Wrapf(ErrUnsupportedGranularity, "%s is not a calendar unit", unit)
	}
	if step <= 0 {
		return nil, errors.Wrapf(ErrInvalidBucketWidth, "step %d", step)
	}
	if _, ok := arith.MulWithOverflow(step, unitApproxMicros(unit)); !ok {
		return nil, errors.Wrapf(ErrInvalidBucketWidth, "%d%s overflows", step, unit)
	}
	return &CalendarSampler{unit: unit, step: step}, nil
}

func (s *CalendarSampler) sampler() {}

// SetStart implements TimestampSampler. The anchor is the start of the
// period containing ts.
func (s *CalendarSampler) SetStart(ts int64) {
	s.anchor = s.periodIndex(ts)
}

// Start returns the boundary of the anchor period.
func (s *CalendarSampler) Start() (int64, error) {
	return s.periodStart(s.anchor)
}

// Round implements TimestampSampler.
func (s *CalendarSampler) Round(ts int64) (int64, error) {
	// Period indexes are bounded by the number of days in the int64
	// microsecond range, so none of this can overflow.
	q := arith.FloorDiv(s.periodIndex(ts)-s.anchor, s.step)
	return s.periodStart(s.anchor + q*s.step)
}

// NextTimestamp implements TimestampSampler.
func (s *CalendarSampler) NextTimestamp(ts int64) (int64, error) {
	return s.NextTimestampN(ts, 1)
}

// PreviousTimestamp implements TimestampSampler.
func (s *CalendarSampler) PreviousTimestamp(ts int64) (int64, error) {
	return s.NextTimestampN(ts, -1)
}

// NextTimestampN implements TimestampSampler. Months and years are added
// on calendar fields, keeping the time of day; a day of month missing from
// the target month is clamped to the month's last day.
func (s *CalendarSampler) NextTimestampN(ts int64, n int64) (int64, error) {
	units, ok := arith.MulWithOverflow(n, s.step)
	if !ok {
		return 0, overflowf("%d buckets of %d%s", n, s.step, s.unit)
	}

	switch s.unit {
	case Day, Week:
		width := calendar.MicrosPerDay
		if s.unit == Week {
			width = calendar.MicrosPerWeek
		}
		delta, ok := arith.MulWithOverflow(units, width)
		if !ok {
			return 0, overflowf("%d%s", units, s.unit)
		}
		next, ok := arith.AddWithOverflow(ts, delta)
		if !ok {
			return 0, overflowf("%d + %d%s", ts, units, s.unit)
		}
		return next, nil
	case Year:
		if units, ok = arith.MulWithOverflow(units, calendar.MonthsPerYear); !ok {
			return 0, overflowf("%d%s", n*s.step, s.unit)
		}
	}

	f, err := calendar.AddMonths(calendar.Decompose(ts), units)
	if err != nil {
		return 0, errors.Mark(err, ErrArithmeticOverflow)
	}
	next, err := calendar.Compose(f)
	if err != nil {
		return 0, errors.Mark(err, ErrArithmeticOverflow)
	}
	return next, nil
}

// BucketSize implements TimestampSampler. Day and week buckets are exact;
// month and year sizes are the Gregorian averages returned by
// ApproxBucketSize. Use BucketWidth for the exact width of a given bucket.
func (s *CalendarSampler) BucketSize() int64 {
	return s.ApproxBucketSize()
}

// ApproxBucketSize implements TimestampSampler.
func (s *CalendarSampler) ApproxBucketSize() int64 {
	return s.step * unitApproxMicros(s.unit)
}

// BucketWidth implements TimestampSampler.
func (s *CalendarSampler) BucketWidth(boundary int64) (int64, error) {
	next, err := s.NextTimestamp(boundary)
	if err != nil {
		return 0, err
	}
	return next - boundary, nil
}

// Granularity implements TimestampSampler.
func (s *CalendarSampler) Granularity() Granularity {
	return Granularity{Step: s.step, Unit: s.unit}
}

func (s *CalendarSampler) String() string {
	return "CalendarSampler(" + s.Granularity().String() + ")"
}

func (s *CalendarSampler) periodIndex(ts int64) int64 {
	switch s.unit {
	case Day:
		return arith.FloorDiv(ts, calendar.MicrosPerDay)
	case Week:
		return calendar.WeekIndex(arith.FloorDiv(ts, calendar.MicrosPerDay))
	case Month:
		f := calendar.Decompose(ts)
		return calendar.MonthIndex(f.Year, f.Month)
	default:
		return int64(calendar.Decompose(ts).Year)
	}
}

func (s *CalendarSampler) periodStart(idx int64) (int64, error) {
	var f calendar.Fields
	switch s.unit {
	case Day:
		ts, ok := arith.MulWithOverflow(idx, calendar.MicrosPerDay)
		if !ok {
			return 0, overflowf("day %d", idx)
		}
		return ts, nil
	case Week:
		day, ok := calendar.WeekStart(idx)
		if !ok {
			return 0, overflowf("week %d", idx)
		}
		ts, ok := arith.MulWithOverflow(day, calendar.MicrosPerDay)
		if !ok {
			return 0, overflowf("week %d", idx)
		}
		return ts, nil
	case Month:
		f = calendar.Fields{
			Year:  int(arith.FloorDiv(idx, calendar.MonthsPerYear)),
			Month: time.Month(arith.FloorMod(idx, calendar.MonthsPerYear) + 1),
			Day:   1,
		}
	default:
		f = calendar.Fields{Year: int(idx), Month: time.January, Day: 1}
	}
	ts, err := calendar.Compose(f)
	if err != nil {
		return 0, errors.Mark(err, ErrArithmeticOverflow)
	}
	return ts, nil
}

func unitApproxMicros(u Unit) int64 {
	switch u {
	case Day:
		return calendar.MicrosPerDay
	case Week:
		return calendar.MicrosPerWeek
	case Month:
		return approxMonthMicros
	case Year:
		return approxYearMicros
	}
	return 0
}
