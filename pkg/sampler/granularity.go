package sampler

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vjranagit/sampleby/internal/arith"
	"github.com/vjranagit/sampleby/pkg/calendar"
)

// Unit is a SAMPLE BY unit token.
type Unit byte

const (
	Microsecond Unit = 'U'
	Millisecond Unit = 'T'
	Second      Unit = 's'
	Minute      Unit = 'm'
	Hour        Unit = 'h'
	Day         Unit = 'd'
	Week        Unit = 'w'
	Month       Unit = 'M'
	Year        Unit = 'y'
)

// fixedUnits is ordered from the largest unit to the smallest so that
// canonical forms pick the coarsest exact unit.
var fixedUnits = [...]Unit{Hour, Minute, Second, Millisecond, Microsecond}

// Micros returns the width of one unit in microseconds, or 0 for calendar
// units whose width varies.
func (u Unit) Micros() int64 {
	switch u {
	case Microsecond:
		return 1
	case Millisecond:
		return 1000
	case Second:
		return calendar.MicrosPerSecond
	case Minute:
		return calendar.MicrosPerMinute
	case Hour:
		return calendar.MicrosPerHour
	}
	return 0
}

// IsFixed reports whether every bucket of this unit has the same width.
func (u Unit) IsFixed() bool {
	return u.Micros() != 0
}

// IsCalendar reports whether u is anchored to calendar fields.
func (u Unit) IsCalendar() bool {
	switch u {
	case Day, Week, Month, Year:
		return true
	}
	return false
}

func (u Unit) String() string {
	switch u {
	case Microsecond:
		return "U"
	case Millisecond:
		return "T"
	case Second:
		return "s"
	case Minute:
		return "m"
	case Hour:
		return "h"
	case Day:
		return "d"
	case Week:
		return "w"
	case Month:
		return "M"
	case Year:
		return "y"
	}
	return "Unit(" + strconv.Itoa(int(u)) + ")"
}

// Granularity is a step multiplier applied to a unit, as in "15m".
type Granularity struct {
	Step int64
	Unit Unit
}

// Parse parses a granularity such as "15m", "2w" or "M". A missing step
// means 1.
func Parse(s string) (Granularity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Granularity{}, errors.Wrap(ErrUnsupportedGranularity, "empty granularity")
	}

	u := Unit(s[len(s)-1])
	if !u.IsFixed() && !u.IsCalendar() {
		return Granularity{}, errors.Wrapf(ErrUnsupportedGranularity, "%q", s)
	}

	step := int64(1)
	if digits := s[:len(s)-1]; digits != "" {
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return Granularity{}, errors.Wrapf(ErrInvalidBucketWidth, "%q", s)
			}
			return Granularity{}, errors.Wrapf(ErrUnsupportedGranularity, "%q", s)
		}
		step = n
	}
	if step <= 0 {
		return Granularity{}, errors.Wrapf(ErrInvalidBucketWidth, "%q", s)
	}
	return Granularity{Step: step, Unit: u}, nil
}

// Width returns the width in microseconds of a fixed granularity. ok is
// false for calendar granularities and for widths that overflow int64.
func (g Granularity) Width() (width int64, ok bool) {
	if !g.Unit.IsFixed() {
		return 0, false
	}
	width, ok = arith.MulWithOverflow(g.Step, g.Unit.Micros())
	return width, ok && width > 0
}

// Canonical returns g with fixed widths expressed in the coarsest unit that
// divides them exactly, so that "60m" and "1h" compare equal.
func (g Granularity) Canonical() Granularity {
	width, ok := g.Width()
	if !ok {
		return g
	}
	for _, u := range fixedUnits {
		if width%u.Micros() == 0 {
			return Granularity{Step: width / u.Micros(), Unit: u}
		}
	}
	return g
}

func (g Granularity) String() string {
	c := g.Canonical()
	return strconv.FormatInt(c.Step, 10) + c.Unit.String()
}
