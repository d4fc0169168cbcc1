package sampleby

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrTooManyBuckets is returned when a query would produce more buckets
	// than Options.MaxBuckets.
	ErrTooManyBuckets = errors.New("too many buckets")

	// ErrUnknownFill is returned for unrecognized fill modes.
	ErrUnknownFill = errors.New("unknown fill mode")

	// ErrUnknownAlign is returned for unrecognized alignment modes.
	ErrUnknownAlign = errors.New("unknown alignment")

	// ErrInvalidRange is returned when From is not before To.
	ErrInvalidRange = errors.New("invalid range")
)

// FillMode selects what is emitted for buckets without samples.
type FillMode int

const (
	// FillNone skips empty buckets.
	FillNone FillMode = iota
	// FillNull emits empty buckets marked as null.
	FillNull
	// FillPrev repeats the previous bucket's aggregates.
	FillPrev
	// FillLinear interpolates between the surrounding buckets.
	FillLinear
	// FillValue emits a constant.
	FillValue
)

func (m FillMode) String() string {
	switch m {
	case FillNone:
		return "none"
	case FillNull:
		return "null"
	case FillPrev:
		return "prev"
	case FillLinear:
		return "linear"
	case FillValue:
		return "value"
	}
	return "FillMode(" + strconv.Itoa(int(m)) + ")"
}

// Fill is a fill mode and, for FillValue, its constant.
type Fill struct {
	Mode  FillMode
	Value float64
}

// ParseFill parses "none", "null", "prev", "linear" or a number. The empty
// string means none.
func ParseFill(s string) (Fill, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return Fill{Mode: FillNone}, nil
	case "null":
		return Fill{Mode: FillNull}, nil
	case "prev":
		return Fill{Mode: FillPrev}, nil
	case "linear":
		return Fill{Mode: FillLinear}, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Fill{}, errors.Wrapf(ErrUnknownFill, "%q", s)
	}
	return Fill{Mode: FillValue, Value: v}, nil
}

func (f Fill) String() string {
	if f.Mode == FillValue {
		return strconv.FormatFloat(f.Value, 'g', -1, 64)
	}
	return f.Mode.String()
}

// Align selects the anchor handed to the sampler.
type Align int

const (
	// AlignCalendar anchors buckets at From, or at the Unix epoch when the
	// query has no range.
	AlignCalendar Align = iota
	// AlignFirstObservation anchors buckets at the earliest sample.
	AlignFirstObservation
)

func (a Align) String() string {
	if a == AlignFirstObservation {
		return "first"
	}
	return "calendar"
}

// ParseAlign parses "calendar" or "first". The empty string means calendar.
func ParseAlign(s string) (Align, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "calendar":
		return AlignCalendar, nil
	case "first", "first_observation":
		return AlignFirstObservation, nil
	}
	return 0, errors.Wrapf(ErrUnknownAlign, "%q", s)
}

// Options configures Aggregate.
type Options struct {
	Fill  Fill
	Align Align

	// Bounded restricts output to buckets that overlap [From, To). Samples
	// outside the range are ignored; with a fill mode other than none the
	// whole range is covered.
	Bounded bool
	From    int64
	To      int64

	// MaxBuckets caps the output size. Zero means unlimited.
	MaxBuckets int
}

func (o Options) validate() error {
	if o.Bounded && o.From >= o.To {
		return errors.Wrapf(ErrInvalidRange, "[%d, %d)", o.From, o.To)
	}
	return nil
}
