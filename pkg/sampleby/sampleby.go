// Package sampleby groups samples into time buckets and aggregates them,
// the way a SAMPLE BY query does.
//
// Aggregate anchors the sampler once, rounds every sample to its bucket
// boundary and walks the sampler's bucket lattice to fill gaps.
package sampleby

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vjranagit/sampleby/pkg/sampler"
	"github.com/vjranagit/sampleby/pkg/types"
)

// Aggregate reduces samples to one bucket per populated sampler bucket,
// plus filled buckets as requested by opts. Samples may be in any order;
// buckets are returned in ascending order. Aggregate calls SetStart on s.
func Aggregate(s sampler.TimestampSampler, samples []types.Sample, opts Options) ([]types.Bucket, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	sorted := make([]types.Sample, 0, len(samples))
	for _, sample := range samples {
		if opts.Bounded && (sample.Timestamp < opts.From || sample.Timestamp >= opts.To) {
			continue
		}
		sorted = append(sorted, sample)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	switch {
	case opts.Align == AlignFirstObservation && len(sorted) > 0:
		s.SetStart(sorted[0].Timestamp)
	case opts.Bounded:
		s.SetStart(opts.From)
	default:
		s.SetStart(0)
	}

	populated, err := group(s, sorted)
	if err != nil {
		return nil, err
	}
	return fill(s, populated, opts)
}

// group collapses runs of sorted samples sharing a boundary.
func group(s sampler.TimestampSampler, sorted []types.Sample) ([]types.Bucket, error) {
	var buckets []types.Bucket
	var cur *types.Bucket
	for _, sample := range sorted {
		b, err := s.Round(sample.Timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "sample at %d", sample.Timestamp)
		}
		if cur == nil || cur.Timestamp != b {
			buckets = append(buckets, types.Bucket{
				Timestamp: b,
				Min:       sample.Value,
				Max:       sample.Value,
				First:     sample.Value,
			})
			cur = &buckets[len(buckets)-1]
		}
		cur.Count++
		cur.Sum += sample.Value
		cur.Last = sample.Value
		if sample.Value < cur.Min {
			cur.Min = sample.Value
		}
		if sample.Value > cur.Max {
			cur.Max = sample.Value
		}
	}
	for i := range buckets {
		buckets[i].Avg = buckets[i].Sum / float64(buckets[i].Count)
	}
	return buckets, nil
}

type filler struct {
	s    sampler.TimestampSampler
	opts Options
	out  []types.Bucket
}

func fill(s sampler.TimestampSampler, populated []types.Bucket, opts Options) ([]types.Bucket, error) {
	f := &filler{s: s, opts: opts}
	if opts.Fill.Mode == FillNone {
		if opts.MaxBuckets > 0 && len(populated) > opts.MaxBuckets {
			return nil, errors.Wrapf(ErrTooManyBuckets, "%d > %d", len(populated), opts.MaxBuckets)
		}
		return populated, nil
	}
	f.out = make([]types.Bucket, 0, f.estimate(populated))

	var prev *types.Bucket
	var cursor int64
	walking := false
	if opts.Bounded {
		first, err := s.Round(opts.From)
		if err != nil {
			return nil, err
		}
		cursor, walking = first, true
	}

	for i := range populated {
		next := &populated[i]
		if walking {
			if err := f.gap(cursor, next.Timestamp, prev, next); err != nil {
				return nil, err
			}
		}
		if err := f.emit(*next); err != nil {
			return nil, err
		}
		prev = next

		var err error
		cursor, err = s.NextTimestamp(next.Timestamp)
		if errors.Is(err, sampler.ErrArithmeticOverflow) {
			// next is the last representable bucket.
			return f.out, nil
		}
		if err != nil {
			return nil, err
		}
		walking = true
	}

	if opts.Bounded && walking {
		if err := f.gap(cursor, opts.To, prev, nil); err != nil {
			return nil, err
		}
	}
	return f.out, nil
}

// gap emits filled buckets for every boundary in [from, to). The walk ends
// early at the last representable boundary.
func (f *filler) gap(from, to int64, prev, next *types.Bucket) error {
	for ts := from; ts < to; {
		if err := f.emit(f.filled(ts, prev, next)); err != nil {
			return err
		}
		var err error
		ts, err = f.s.NextTimestamp(ts)
		if errors.Is(err, sampler.ErrArithmeticOverflow) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *filler) filled(ts int64, prev, next *types.Bucket) types.Bucket {
	b := types.Bucket{Timestamp: ts, Filled: true}
	switch f.opts.Fill.Mode {
	case FillPrev:
		if prev == nil {
			b.Null = true
			return b
		}
		b.Sum, b.Min, b.Max = prev.Sum, prev.Min, prev.Max
		b.First, b.Last, b.Avg = prev.First, prev.Last, prev.Avg
	case FillLinear:
		if prev == nil || next == nil {
			b.Null = true
			return b
		}
		frac := float64(ts-prev.Timestamp) / float64(next.Timestamp-prev.Timestamp)
		lerp := func(a, z float64) float64 { return a + (z-a)*frac }
		b.Sum = lerp(prev.Sum, next.Sum)
		b.Min = lerp(prev.Min, next.Min)
		b.Max = lerp(prev.Max, next.Max)
		b.First = lerp(prev.First, next.First)
		b.Last = lerp(prev.Last, next.Last)
		b.Avg = lerp(prev.Avg, next.Avg)
	case FillValue:
		v := f.opts.Fill.Value
		b.Sum, b.Min, b.Max, b.First, b.Last, b.Avg = v, v, v, v, v, v
	default:
		b.Null = true
	}
	return b
}

func (f *filler) emit(b types.Bucket) error {
	if f.opts.MaxBuckets > 0 && len(f.out) >= f.opts.MaxBuckets {
		return errors.Wrapf(ErrTooManyBuckets, "limit %d", f.opts.MaxBuckets)
	}
	f.out = append(f.out, b)
	return nil
}

// estimate sizes the output from the sampler's approximate bucket width.
func (f *filler) estimate(populated []types.Bucket) int {
	var lo, hi int64
	switch {
	case f.opts.Bounded:
		lo, hi = f.opts.From, f.opts.To
	case len(populated) > 1:
		lo, hi = populated[0].Timestamp, populated[len(populated)-1].Timestamp
	default:
		return len(populated)
	}
	n := (hi-lo)/f.s.ApproxBucketSize() + 2
	if n < 0 || n > 1<<16 {
		n = 1 << 16
	}
	if f.opts.MaxBuckets > 0 && n > int64(f.opts.MaxBuckets) {
		n = int64(f.opts.MaxBuckets)
	}
	return int(n)
}
