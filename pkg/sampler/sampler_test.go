package sampler

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/sampleby/pkg/calendar"
)

func at(year int, month time.Month, day, hour int) int64 {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC).UnixMicro()
}

func mustSampler(t *testing.T, token string, start int64) TimestampSampler {
	t.Helper()
	s, err := NewFromString(token)
	require.NoError(t, err, token)
	s.SetStart(start)
	return s
}

func mustRound(t *testing.T, s TimestampSampler, ts int64) int64 {
	t.Helper()
	b, err := s.Round(ts)
	require.NoError(t, err, "%s round %d", s, ts)
	return b
}

func TestFixedSamplerNegativeTimestamps(t *testing.T) {
	s, err := NewFixedSampler(86_400_000_000)
	require.NoError(t, err)
	s.SetStart(0)

	assert.Equal(t, int64(-86_400_000_000), mustRound(t, s, -1))
	assert.Equal(t, int64(-86_400_000_000), mustRound(t, s, -86_400_000_000))
	assert.Equal(t, int64(-172_800_000_000), mustRound(t, s, -86_400_000_001))
	assert.Equal(t, int64(0), mustRound(t, s, 0))
	assert.Equal(t, int64(0), mustRound(t, s, 86_399_999_999))
}

func TestFixedSamplerAnchor(t *testing.T) {
	s, err := NewFixedSampler(10)
	require.NoError(t, err)
	s.SetStart(3)

	tests := []struct {
		ts, want int64
	}{
		{3, 3},
		{12, 3},
		{13, 13},
		{2, -7},
		{-7, -7},
		{-8, -17},
		{math.MaxInt64, math.MaxInt64 - 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustRound(t, s, tt.ts), "round(%d)", tt.ts)
	}

	// Re-anchoring moves the lattice.
	s.SetStart(5)
	assert.Equal(t, int64(5), mustRound(t, s, 12))
	assert.Equal(t, int64(5), s.Start())
}

func TestFixedSamplerSteps(t *testing.T) {
	s, err := NewFixedSampler(15 * calendar.MicrosPerMinute)
	require.NoError(t, err)
	s.SetStart(0)

	next, err := s.NextTimestamp(0)
	require.NoError(t, err)
	assert.Equal(t, 15*calendar.MicrosPerMinute, next)

	prev, err := s.PreviousTimestamp(0)
	require.NoError(t, err)
	assert.Equal(t, -15*calendar.MicrosPerMinute, prev)

	n, err := s.NextTimestampN(0, -4)
	require.NoError(t, err)
	assert.Equal(t, -calendar.MicrosPerHour, n)

	assert.Equal(t, 15*calendar.MicrosPerMinute, s.BucketSize())
	assert.Equal(t, 15*calendar.MicrosPerMinute, s.ApproxBucketSize())
	assert.Equal(t, "FixedSampler(15m)", s.String())
}

func TestFixedSamplerOverflow(t *testing.T) {
	s, err := NewFixedSampler(10)
	require.NoError(t, err)
	s.SetStart(0)

	// The bucket containing MinInt64 starts below it.
	_, err = s.Round(math.MinInt64)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)

	_, err = s.NextTimestamp(math.MaxInt64 - 5)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)

	_, err = s.PreviousTimestamp(math.MinInt64 + 5)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)

	_, err = s.NextTimestampN(0, math.MaxInt64)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)
}

func TestInvalidBucketWidth(t *testing.T) {
	for _, bucket := range []int64{0, -1, math.MinInt64} {
		_, err := NewFixedSampler(bucket)
		require.True(t, errors.Is(err, ErrInvalidBucketWidth), bucket)
	}
	_, err := NewCalendarSampler(Month, 0)
	require.True(t, errors.Is(err, ErrInvalidBucketWidth))
	_, err = NewCalendarSampler(Year, math.MaxInt64/1000)
	require.True(t, errors.Is(err, ErrInvalidBucketWidth))
	_, err = NewCalendarSampler(Hour, 1)
	require.True(t, errors.Is(err, ErrUnsupportedGranularity))
}

func TestMonthRollover(t *testing.T) {
	s := mustSampler(t, "1M", at(2024, time.January, 31, 0))

	jan := mustRound(t, s, at(2024, time.January, 31, 0))
	assert.Equal(t, at(2024, time.January, 1, 0), jan)

	feb, err := s.NextTimestamp(jan)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.February, 1, 0), feb)

	mar, err := s.NextTimestamp(feb)
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.March, 1, 0), mar)

	dec, err := s.PreviousTimestamp(jan)
	require.NoError(t, err)
	assert.Equal(t, at(2023, time.December, 1, 0), dec)
}

func TestMonthClampOffBoundary(t *testing.T) {
	s := mustSampler(t, "1M", 0)

	next, err := s.NextTimestamp(at(2024, time.January, 31, 6))
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.February, 29, 6), next)

	next, err = s.NextTimestamp(at(2023, time.January, 31, 6))
	require.NoError(t, err)
	assert.Equal(t, at(2023, time.February, 28, 6), next)

	ys := mustSampler(t, "1y", 0)
	next, err = ys.NextTimestamp(at(2024, time.February, 29, 0))
	require.NoError(t, err)
	assert.Equal(t, at(2025, time.February, 28, 0), next)
}

func TestQuarterBuckets(t *testing.T) {
	s := mustSampler(t, "3M", at(2024, time.February, 15, 12))

	start, err := s.(*CalendarSampler).Start()
	require.NoError(t, err)
	assert.Equal(t, at(2024, time.February, 1, 0), start)

	assert.Equal(t, at(2023, time.November, 1, 0), mustRound(t, s, at(2024, time.January, 10, 0)))
	assert.Equal(t, at(2024, time.February, 1, 0), mustRound(t, s, at(2024, time.April, 30, 23)))
	assert.Equal(t, at(2024, time.May, 1, 0), mustRound(t, s, at(2024, time.May, 1, 0)))
	assert.Equal(t, at(2023, time.August, 1, 0), mustRound(t, s, at(2023, time.October, 31, 23)))
}

func TestYearLeapExactness(t *testing.T) {
	s := mustSampler(t, "1y", at(2024, time.January, 1, 0))

	w, err := s.BucketWidth(at(2024, time.January, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 366*calendar.MicrosPerDay, w)

	s.SetStart(at(2023, time.January, 1, 0))
	w, err = s.BucketWidth(at(2023, time.January, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 365*calendar.MicrosPerDay, w)

	// 1900 is not a leap year, 2000 is.
	w, err = s.BucketWidth(at(1900, time.January, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 365*calendar.MicrosPerDay, w)
	w, err = s.BucketWidth(at(2000, time.January, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 366*calendar.MicrosPerDay, w)
}

func TestYearNegative(t *testing.T) {
	s := mustSampler(t, "1y", 0)

	assert.Equal(t, at(1969, time.January, 1, 0), mustRound(t, s, -1))
	assert.Equal(t, at(-500, time.January, 1, 0), mustRound(t, s, at(-500, time.June, 3, 7)))

	s2 := mustSampler(t, "10y", 0)
	assert.Equal(t, at(1960, time.January, 1, 0), mustRound(t, s2, -1))
	assert.Equal(t, at(1900, time.January, 1, 0), mustRound(t, s2, at(1909, time.December, 31, 23)))
}

func TestWeekAndDayBuckets(t *testing.T) {
	w := mustSampler(t, "1w", 0)
	// 1970-01-01 is a Thursday; its week starts Monday 1969-12-29.
	assert.Equal(t, -3*calendar.MicrosPerDay, mustRound(t, w, 0))
	assert.Equal(t, at(2024, time.May, 13, 0), mustRound(t, w, at(2024, time.May, 19, 23)))
	assert.Equal(t, calendar.MicrosPerWeek, w.BucketSize())

	w2 := mustSampler(t, "2w", at(2024, time.May, 15, 0))
	assert.Equal(t, at(2024, time.May, 13, 0), mustRound(t, w2, at(2024, time.May, 26, 23)))
	assert.Equal(t, at(2024, time.May, 27, 0), mustRound(t, w2, at(2024, time.May, 27, 0)))
	assert.Equal(t, at(2024, time.April, 29, 0), mustRound(t, w2, at(2024, time.May, 12, 23)))

	d := mustSampler(t, "2d", at(2024, time.January, 1, 13))
	assert.Equal(t, at(2024, time.January, 1, 0), mustRound(t, d, at(2024, time.January, 2, 5)))
	assert.Equal(t, at(2024, time.January, 3, 0), mustRound(t, d, at(2024, time.January, 3, 0)))
	assert.Equal(t, at(2023, time.December, 30, 0), mustRound(t, d, at(2023, time.December, 31, 23)))
}

func TestCalendarOverflow(t *testing.T) {
	s := mustSampler(t, "1d", 0)
	_, err := s.Round(math.MinInt64)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)

	m := mustSampler(t, "1M", 0)
	_, err = m.Round(math.MinInt64)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)
	require.True(t, errors.Is(err, calendar.ErrOverflow), err)

	last := mustRound(t, m, math.MaxInt64)
	_, err = m.NextTimestamp(last)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)

	y := mustSampler(t, "1y", 0)
	_, err = y.NextTimestampN(0, math.MaxInt64/2)
	require.True(t, errors.Is(err, ErrArithmeticOverflow), err)
}

var propertyTokens = []string{
	"1U", "7U", "250T", "1s", "90s", "15m", "1h", "7h",
	"1d", "3d", "1w", "2w", "1M", "3M", "13M", "1y", "4y",
}

var propertyTimestamps = []int64{
	0, -1, 1,
	at(2024, time.February, 29, 12) + 123_456,
	at(2023, time.December, 31, 23) + calendar.MicrosPerHour - 1,
	at(1969, time.July, 20, 20) + 17*calendar.MicrosPerMinute,
	at(1600, time.March, 1, 0),
	at(-4713, time.November, 24, 12),
	at(2100, time.February, 28, 23),
	at(12024, time.August, 15, 3),
}

var propertyStarts = []int64{
	0,
	at(2024, time.January, 31, 0),
	at(1999, time.December, 31, 23) + 59*calendar.MicrosPerMinute,
	-12_345_678_901,
}

func TestBucketContainment(t *testing.T) {
	for _, token := range propertyTokens {
		for _, start := range propertyStarts {
			s := mustSampler(t, token, start)
			for _, ts := range propertyTimestamps {
				b := mustRound(t, s, ts)
				require.LessOrEqual(t, b, ts, "%s start=%d ts=%d", s, start, ts)
				require.Equal(t, b, mustRound(t, s, b), "%s idempotence at %d", s, ts)

				next, err := s.NextTimestamp(b)
				require.NoError(t, err)
				require.Greater(t, next, b)
				require.Less(t, ts, next, "%s ts=%d outside [%d, %d)", s, ts, b, next)

				prev, err := s.PreviousTimestamp(b)
				require.NoError(t, err)
				require.Less(t, prev, b)
				require.Equal(t, prev, mustRound(t, s, prev))
				require.Equal(t, prev, mustRound(t, s, b-1))

				// Everything strictly inside the bucket rounds to b.
				require.Equal(t, b, mustRound(t, s, next-1))
				require.Equal(t, b, mustRound(t, s, b+(next-b)/2))
				require.Equal(t, next, mustRound(t, s, next))

				width, err := s.BucketWidth(b)
				require.NoError(t, err)
				require.Equal(t, next-b, width)
			}
		}
	}
}

func TestStepComposition(t *testing.T) {
	for _, token := range propertyTokens {
		s := mustSampler(t, token, at(2024, time.January, 31, 0))
		for _, ts := range propertyTimestamps {
			b := mustRound(t, s, ts)
			for m := int64(-5); m <= 5; m++ {
				bm, err := s.NextTimestampN(b, m)
				require.NoError(t, err)
				for n := int64(-5); n <= 5; n++ {
					got, err := s.NextTimestampN(bm, n)
					require.NoError(t, err)
					want, err := s.NextTimestampN(b, m+n)
					require.NoError(t, err)
					require.Equal(t, want, got, "%s b=%d m=%d n=%d", s, b, m, n)
				}
			}

			// Repeated single steps agree with the closed form.
			walk := b
			for i := int64(1); i <= 14; i++ {
				var err error
				walk, err = s.NextTimestamp(walk)
				require.NoError(t, err)
				closed, err := s.NextTimestampN(b, i)
				require.NoError(t, err)
				require.Equal(t, closed, walk)
			}
		}
	}
}

func TestApproxWithinExactRange(t *testing.T) {
	for _, token := range []string{"1d", "1w", "1M", "3M", "1y", "2y", "15m"} {
		s := mustSampler(t, token, at(1900, time.January, 1, 0))
		minW, maxW := int64(math.MaxInt64), int64(0)
		b := mustRound(t, s, at(1900, time.January, 1, 0))
		for i := 0; i < 1200; i++ {
			w, err := s.BucketWidth(b)
			require.NoError(t, err)
			minW = min(minW, w)
			maxW = max(maxW, w)
			b += w
		}
		approx := s.ApproxBucketSize()
		assert.GreaterOrEqual(t, approx, minW, token)
		assert.LessOrEqual(t, approx, maxW, token)
		assert.Equal(t, approx, s.BucketSize(), token)
	}

	m := mustSampler(t, "1M", 0)
	assert.Equal(t, int64(2_629_746_000_000), m.ApproxBucketSize())
	y := mustSampler(t, "1y", 0)
	assert.Equal(t, int64(31_556_952_000_000), y.ApproxBucketSize())
}

func TestFactory(t *testing.T) {
	seen := make(map[string]string)
	for _, token := range propertyTokens {
		a := mustSampler(t, token, 42)
		b := mustSampler(t, token, 42)

		desc := a.String()
		require.Equal(t, desc, b.String())
		if other, ok := seen[desc]; ok {
			t.Fatalf("%q and %q share description %q", token, other, desc)
		}
		seen[desc] = token

		for _, ts := range propertyTimestamps {
			ra, err := a.Round(ts)
			require.NoError(t, err)
			rb, err := b.Round(ts)
			require.NoError(t, err)
			require.Equal(t, ra, rb)

			na, err := a.NextTimestampN(ra, 3)
			require.NoError(t, err)
			nb, err := b.NextTimestampN(rb, 3)
			require.NoError(t, err)
			require.Equal(t, na, nb)
		}
	}

	fixed := mustSampler(t, "60m", 0)
	_, isFixed := fixed.(*FixedSampler)
	assert.True(t, isFixed)
	assert.Equal(t, "FixedSampler(1h)", fixed.String())

	cal := mustSampler(t, "M", 0)
	_, isCalendar := cal.(*CalendarSampler)
	assert.True(t, isCalendar)
	assert.Equal(t, "CalendarSampler(1M)", cal.String())
	assert.Equal(t, Granularity{Step: 1, Unit: Month}, cal.Granularity())
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Granularity
		err  error
	}{
		{in: "15m", want: Granularity{Step: 15, Unit: Minute}},
		{in: " 2w ", want: Granularity{Step: 2, Unit: Week}},
		{in: "M", want: Granularity{Step: 1, Unit: Month}},
		{in: "1000U", want: Granularity{Step: 1000, Unit: Microsecond}},
		{in: "", err: ErrUnsupportedGranularity},
		{in: "5x", err: ErrUnsupportedGranularity},
		{in: "abcM", err: ErrUnsupportedGranularity},
		{in: "0m", err: ErrInvalidBucketWidth},
		{in: "-1h", err: ErrInvalidBucketWidth},
		{in: "99999999999999999999m", err: ErrInvalidBucketWidth},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.err != nil {
			require.True(t, errors.Is(err, tt.err), "%q: %v", tt.in, err)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := NewFromString("9223372036854775807h")
	require.True(t, errors.Is(err, ErrInvalidBucketWidth), err)

	_, err = New(Granularity{Step: 1, Unit: Unit('q')})
	require.True(t, errors.Is(err, ErrUnsupportedGranularity), err)
}

func TestCanonical(t *testing.T) {
	tests := map[string]string{
		"60m":   "1h",
		"1000T": "1s",
		"90s":   "90s",
		"1500T": "1500T",
		"3600s": "1h",
		"24h":   "24h",
		"12M":   "12M",
		"7d":    "7d",
	}
	for in, want := range tests {
		g, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, want, g.String(), in)
	}
}

func TestBoundaries(t *testing.T) {
	s := mustSampler(t, "1M", 0)
	got, err := Boundaries(s, at(2024, time.January, 31, 12), 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{
		at(2024, time.January, 1, 0),
		at(2024, time.February, 1, 0),
		at(2024, time.March, 1, 0),
	}, got)

	got, err = Boundaries(s, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// The walk stops at the last representable boundary.
	h := mustSampler(t, "1h", 0)
	got, err = Boundaries(h, math.MaxInt64, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.LessOrEqual(t, got[0], int64(math.MaxInt64))
}
