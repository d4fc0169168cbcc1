// Package calendar decomposes microsecond timestamps into proleptic
// Gregorian calendar fields and composes them back.
//
// All operations are in UTC. Timestamps are int64 microseconds relative to
// the Unix epoch and may be negative.
package calendar

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vjranagit/sampleby/internal/arith"
)

const (
	MicrosPerSecond int64 = 1_000_000
	MicrosPerMinute       = 60 * MicrosPerSecond
	MicrosPerHour         = 60 * MicrosPerMinute
	MicrosPerDay          = 24 * MicrosPerHour
	MicrosPerWeek         = 7 * MicrosPerDay

	// MonthsPerYear is the number of months in a Gregorian year.
	MonthsPerYear = 12

	// int64 microseconds span roughly years -290308 to 294247.
	minYear = -300_000
	maxYear = 300_000

	// 1970-01-01 is a Thursday, three days after Monday 1969-12-29.
	epochWeekdayOffset = 3
)

// ErrOverflow is returned when a calendar date cannot be represented as an
// int64 microsecond timestamp.
var ErrOverflow = errors.New("calendar: timestamp out of range")

// Fields is a timestamp split into its calendar date and time of day.
type Fields struct {
	Year  int
	Month time.Month
	Day   int
	// TimeOfDay is microseconds since midnight, in [0, MicrosPerDay).
	TimeOfDay int64
}

// Decompose splits ts into calendar fields. It is total over int64.
func Decompose(ts int64) Fields {
	days := arith.FloorDiv(ts, MicrosPerDay)
	y, m, d := dateOf(days)
	return Fields{
		Year:      y,
		Month:     m,
		Day:       d,
		TimeOfDay: arith.FloorMod(ts, MicrosPerDay),
	}
}

// Compose is the inverse of Decompose. Out of range days and months are
// normalized the way time.Date normalizes them.
func Compose(f Fields) (int64, error) {
	if f.Year < minYear || f.Year > maxYear {
		return 0, errors.Wrapf(ErrOverflow, "year %d", f.Year)
	}
	days, tod := EpochDay(f.Year, f.Month, f.Day), f.TimeOfDay
	if days < 0 && tod > 0 {
		// Count back from the following midnight so the day containing
		// math.MinInt64 stays representable.
		days++
		tod -= MicrosPerDay
	}
	ts, ok := arith.MulWithOverflow(days, MicrosPerDay)
	if !ok {
		return 0, errors.Wrapf(ErrOverflow, "%04d-%02d-%02d", f.Year, f.Month, f.Day)
	}
	if ts, ok = arith.AddWithOverflow(ts, tod); !ok {
		return 0, errors.Wrapf(ErrOverflow, "%04d-%02d-%02d", f.Year, f.Month, f.Day)
	}
	return ts, nil
}

// EpochDay returns the number of days between 1970-01-01 and the given date.
func EpochDay(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// dateOf is the inverse of EpochDay.
func dateOf(days int64) (int, time.Month, int) {
	return time.Unix(days*86400, 0).UTC().Date()
}

// AddMonths moves f by n months. When the day of month does not exist in
// the target month it is clamped to the last day of that month, so
// Jan 31 + 1 month is Feb 28 (or Feb 29 in a leap year).
func AddMonths(f Fields, n int64) (Fields, error) {
	idx, ok := arith.AddWithOverflow(MonthIndex(f.Year, f.Month), n)
	if !ok {
		return Fields{}, errors.Wrapf(ErrOverflow, "adding %d months", n)
	}
	y := arith.FloorDiv(idx, MonthsPerYear)
	if y < minYear || y > maxYear {
		return Fields{}, errors.Wrapf(ErrOverflow, "adding %d months", n)
	}
	f.Year = int(y)
	f.Month = time.Month(arith.FloorMod(idx, MonthsPerYear) + 1)
	if last := DaysInMonth(f.Year, f.Month); f.Day > last {
		f.Day = last
	}
	return f, nil
}

// MonthIndex numbers months continuously: year*12 + month-1.
func MonthIndex(year int, month time.Month) int64 {
	return int64(year)*MonthsPerYear + int64(month) - 1
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsLeapYear reports whether year has a February 29th.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInYear returns 366 for leap years and 365 otherwise.
func DaysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// WeekIndex returns the number of ISO weeks (starting on Monday) between
// the week containing 1970-01-01 and the week containing the given epoch day.
func WeekIndex(epochDay int64) int64 {
	return arith.FloorDiv(epochDay+epochWeekdayOffset, 7)
}

// WeekStart returns the epoch day of the Monday that starts the week with
// the given index.
func WeekStart(week int64) (int64, bool) {
	d, ok := arith.MulWithOverflow(week, 7)
	if !ok {
		return 0, false
	}
	return arith.SubWithOverflow(d, epochWeekdayOffset)
}

// Time converts ts into a UTC time.Time. Only meaningful within the range
// of time.Time, which covers every int64 microsecond value.
func Time(ts int64) time.Time {
	return time.UnixMicro(ts).UTC()
}
