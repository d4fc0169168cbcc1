package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/sampleby/pkg/sampler"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExplainMonth(t *testing.T) {
	out, err := runCmd(t, "explain", "--by", "1M", "--from", "2024-01-31T00:00:00Z", "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "CalendarSampler(1M)", lines[0])
	assert.Contains(t, lines[2], "2024-01-01T00:00:00Z")
	assert.Contains(t, lines[3], "2024-02-01T00:00:00Z")
	assert.Contains(t, lines[4], "2024-03-01T00:00:00Z")
	// February 2024 has 29 days.
	assert.True(t, strings.HasSuffix(lines[3], "2505600000000us"), lines[3])
}

func TestExplainCalendarNegative(t *testing.T) {
	out, err := runCmd(t, "explain", "--by", "1d", "--from", "-1", "-n", "1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "CalendarSampler(1d)\n"), out)
	assert.Contains(t, out, "-86400000000\t1969-12-31T00:00:00Z")
}

func TestExplainFixedNegative(t *testing.T) {
	out, err := runCmd(t, "explain", "--by", "24h", "--from", "-1", "-n", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "FixedSampler("), lines[0])
	// Fixed buckets are anchored at --from rather than at midnight.
	assert.Equal(t, "-1\t1969-12-31T23:59:59.999999Z\t86400000000us", lines[2])
	assert.Equal(t, "86399999999\t1970-01-01T23:59:59.999999Z\t86400000000us", lines[3])
}

func TestExplainErrors(t *testing.T) {
	_, err := runCmd(t, "explain", "--by", "0h")
	require.ErrorIs(t, err, sampler.ErrInvalidBucketWidth)

	_, err = runCmd(t, "explain", "--by", "1h", "--from", "soon")
	require.Error(t, err)

	_, err = runCmd(t, "explain")
	require.Error(t, err)
}
