// Package sampler maps timestamps onto the buckets of a SAMPLE BY query.
//
// A sampler is built for a single query from a Granularity, anchored once
// with SetStart, and then asked for the bucket boundary of every row with
// Round. NextTimestamp, NextTimestampN and PreviousTimestamp walk the
// bucket lattice, for instance to fill gaps between populated buckets.
//
// Two variants exist. FixedSampler covers constant-width buckets expressed
// in microseconds (micro, milli, second, minute and hour multiples).
// CalendarSampler covers day, week, month and year multiples, whose width
// in microseconds varies from bucket to bucket. Both work on int64
// microseconds since the Unix epoch in proleptic Gregorian UTC.
//
// Samplers are not safe for concurrent use; each query owns its own.
package sampler

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidBucketWidth is returned when a sampler is constructed with a
	// non-positive or unrepresentable bucket width.
	ErrInvalidBucketWidth = errors.New("invalid bucket width")

	// ErrUnsupportedGranularity is returned for unknown granularity units.
	ErrUnsupportedGranularity = errors.New("unsupported granularity")

	// ErrArithmeticOverflow is returned when a bucket boundary falls outside
	// the int64 microsecond range.
	ErrArithmeticOverflow = errors.New("timestamp arithmetic overflow")
)

// TimestampSampler assigns timestamps to buckets.
type TimestampSampler interface {
	// SetStart fixes the anchor every boundary is aligned to. It must be
	// called before any other method; calling it again re-anchors the
	// sampler and invalidates previously returned boundaries.
	SetStart(ts int64)

	// Round returns the boundary b of the bucket containing ts, such that
	// b <= ts < NextTimestamp(b). This holds for timestamps before the
	// anchor and for negative timestamps.
	Round(ts int64) (int64, error)

	// NextTimestamp returns the boundary following boundary ts.
	NextTimestamp(ts int64) (int64, error)

	// NextTimestampN returns the boundary n buckets after ts, or before it
	// when n is negative.
	NextTimestampN(ts int64, n int64) (int64, error)

	// PreviousTimestamp returns the boundary preceding boundary ts.
	PreviousTimestamp(ts int64) (int64, error)

	// BucketSize returns the bucket width in microseconds. It is exact for
	// constant-width samplers and the same approximation as
	// ApproxBucketSize for month and year samplers.
	BucketSize() int64

	// ApproxBucketSize returns an average bucket width suitable for
	// pre-sizing buffers.
	ApproxBucketSize() int64

	// BucketWidth returns the exact width of the bucket starting at
	// boundary.
	BucketWidth(boundary int64) (int64, error)

	// Granularity returns the granularity the sampler was built from.
	Granularity() Granularity

	// String describes the sampler for query plans. Samplers built from
	// equal granularities have equal descriptions.
	String() string

	sampler()
}

var (
	_ TimestampSampler = (*FixedSampler)(nil)
	_ TimestampSampler = (*CalendarSampler)(nil)
)

// New returns the sampler for g.
func New(g Granularity) (TimestampSampler, error) {
	if g.Step <= 0 {
		return nil, errors.Wrapf(ErrInvalidBucketWidth, "step %d", g.Step)
	}
	switch {
	case g.Unit.IsCalendar():
		return NewCalendarSampler(g.Unit, g.Step)
	case g.Unit.IsFixed():
		width, ok := g.Width()
		if !ok {
			return nil, errors.Wrapf(ErrInvalidBucketWidth, "%d%s overflows", g.Step, g.Unit)
		}
		return NewFixedSampler(width)
	default:
		return nil, errors.Wrapf(ErrUnsupportedGranularity, "unit %q", string(rune(g.Unit)))
	}
}

// NewFromString parses s as a granularity such as "15m" or "1M" and
// returns its sampler.
func NewFromString(s string) (TimestampSampler, error) {
	g, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return New(g)
}

// Boundaries returns up to n consecutive boundaries of s, starting with the
// boundary of the bucket containing from. It stops early at the end of the
// representable range.
func Boundaries(s TimestampSampler, from int64, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	b, err := s.Round(from)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, n)
	out = append(out, b)
	for len(out) < n {
		if b, err = s.NextTimestamp(b); err != nil {
			if errors.Is(err, ErrArithmeticOverflow) {
				break
			}
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func overflowf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrArithmeticOverflow, format, args...)
}
