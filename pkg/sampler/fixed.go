package sampler

import (
	"github.com/cockroachdb/errors"
	"github.com/vjranagit/sampleby/internal/arith"
)

// FixedSampler produces buckets of a constant width in microseconds.
type FixedSampler struct {
	bucket int64
	start  int64
	// FloorMod(start, bucket), the phase of the bucket lattice.
	phase int64
}

// NewFixedSampler returns a sampler with buckets of the given width in
// microseconds.
func NewFixedSampler(bucket int64) (*FixedSampler, error) {
	if bucket <= 0 {
		return nil, errors.Wrapf(ErrInvalidBucketWidth, "%dus", bucket)
	}
	return &FixedSampler{bucket: bucket}, nil
}

func (s *FixedSampler) sampler() {}

// SetStart implements TimestampSampler.
func (s *FixedSampler) SetStart(ts int64) {
	s.start = ts
	s.phase = arith.FloorMod(ts, s.bucket)
}

// Start returns the anchor set by SetStart.
func (s *FixedSampler) Start() int64 {
	return s.start
}

// Round implements TimestampSampler. It returns
// start + floor((ts-start)/bucket)*bucket without computing ts-start,
// which could overflow.
func (s *FixedSampler) Round(ts int64) (int64, error) {
	offset := arith.FloorMod(arith.FloorMod(ts, s.bucket)-s.phase, s.bucket)
	b, ok := arith.SubWithOverflow(ts, offset)
	if !ok {
		return 0, overflowf("rounding %d to %dus", ts, s.bucket)
	}
	return b, nil
}

// NextTimestamp implements TimestampSampler.
func (s *FixedSampler) NextTimestamp(ts int64) (int64, error) {
	next, ok := arith.AddWithOverflow(ts, s.bucket)
	if !ok {
		return 0, overflowf("%d + %dus", ts, s.bucket)
	}
	return next, nil
}

// NextTimestampN implements TimestampSampler.
func (s *FixedSampler) NextTimestampN(ts int64, n int64) (int64, error) {
	delta, ok := arith.MulWithOverflow(n, s.bucket)
	if !ok {
		return 0, overflowf("%d buckets of %dus", n, s.bucket)
	}
	next, ok := arith.AddWithOverflow(ts, delta)
	if !ok {
		return 0, overflowf("%d + %d buckets of %dus", ts, n, s.bucket)
	}
	return next, nil
}

// PreviousTimestamp implements TimestampSampler.
func (s *FixedSampler) PreviousTimestamp(ts int64) (int64, error) {
	prev, ok := arith.SubWithOverflow(ts, s.bucket)
	if !ok {
		return 0, overflowf("%d - %dus", ts, s.bucket)
	}
	return prev, nil
}

// BucketSize implements TimestampSampler.
func (s *FixedSampler) BucketSize() int64 {
	return s.bucket
}

// ApproxBucketSize implements TimestampSampler. Fixed buckets are exact.
func (s *FixedSampler) ApproxBucketSize() int64 {
	return s.bucket
}

// BucketWidth implements TimestampSampler.
func (s *FixedSampler) BucketWidth(int64) (int64, error) {
	return s.bucket, nil
}

// Granularity implements TimestampSampler.
func (s *FixedSampler) Granularity() Granularity {
	return Granularity{Step: s.bucket, Unit: Microsecond}.Canonical()
}

func (s *FixedSampler) String() string {
	return "FixedSampler(" + s.Granularity().String() + ")"
}
