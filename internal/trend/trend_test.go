package trend_test

import (
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/bugnest/internal/trend"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute_DailyFourteenBuckets(t *testing.T) {
	counts := map[time.Time]int64{day(3): 7, day(14): 2}

	buckets, err := trend.Compute(trend.Window{Min: day(1), Max: day(14)}, trend.Day, trend.MapLookup(counts))
	require.NoError(t, err)
	require.Len(t, buckets, 14)

	assert.Equal(t, "2024-01-01", buckets[0].Timestamp)
	assert.Equal(t, "2024-01-14", buckets[13].Timestamp)
	assert.Equal(t, int64(0), buckets[0].Count)
	assert.Equal(t, int64(7), buckets[2].Count)
	assert.Equal(t, int64(2), buckets[13].Count)
}

func TestCompute_HourlyLabels(t *testing.T) {
	min := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	max := time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC)

	buckets, err := trend.Compute(trend.Window{Min: min, Max: max}, trend.Hour, nil)
	require.NoError(t, err)

	labels := make([]string, len(buckets))
	for i, b := range buckets {
		labels[i] = b.Timestamp
	}
	assert.Equal(t, []string{"2024-01-01 22", "2024-01-01 23", "2024-01-02 00", "2024-01-02 01"}, labels)
}

func TestCompute_SinglePointWindow(t *testing.T) {
	buckets, err := trend.Compute(trend.Window{Min: day(5), Max: day(5)}, trend.Day, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "2024-01-05", buckets[0].Timestamp)
	assert.Equal(t, trend.MinDocCount, buckets[0].Count)
}

func TestCompute_UnalignedEndpointsAreTruncated(t *testing.T) {
	min := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)
	max := time.Date(2024, 1, 1, 12, 10, 0, 0, time.UTC)

	buckets, err := trend.Compute(trend.Window{Min: min, Max: max}, trend.Hour, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "2024-01-01 12", buckets[2].Timestamp)
}

func TestCompute_NonUTCInputUsesUTCBuckets(t *testing.T) {
	tz := time.FixedZone("UTC+8", 8*3600)
	min := time.Date(2024, 1, 2, 7, 0, 0, 0, tz) // 2024-01-01 23:00 UTC
	max := time.Date(2024, 1, 2, 9, 0, 0, 0, tz) // 2024-01-02 01:00 UTC

	buckets, err := trend.Compute(trend.Window{Min: min, Max: max}, trend.Hour, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "2024-01-01 23", buckets[0].Timestamp)
}

func TestCompute_InvalidWindow(t *testing.T) {
	_, err := trend.Compute(trend.Window{Min: day(2), Max: day(1)}, trend.Day, nil)
	require.Error(t, err)

	var iw *trend.InvalidWindowError
	require.True(t, errors.As(err, &iw))
	assert.Equal(t, day(2), iw.Min)
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestCompute_AscendingUniqueNoGaps(t *testing.T) {
	buckets, err := trend.Compute(trend.Window{Min: day(1), Max: day(1).Add(71 * time.Hour)}, trend.Hour, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 72)

	seen := map[string]bool{}
	prev := ""
	for _, b := range buckets {
		assert.False(t, seen[b.Timestamp], "duplicate label %s", b.Timestamp)
		seen[b.Timestamp] = true
		assert.Greater(t, b.Timestamp, prev)
		prev = b.Timestamp
	}
}

func TestResolve_Auto(t *testing.T) {
	assert.Equal(t, trend.Hour, trend.Auto.Resolve(trend.Window{Min: day(1), Max: day(3)}))
	assert.Equal(t, trend.Day, trend.Auto.Resolve(trend.Window{Min: day(1), Max: day(3).Add(time.Second)}))
	assert.Equal(t, trend.Day, trend.Day.Resolve(trend.Window{Min: day(1), Max: day(1)}))
}

func TestParseGranularity(t *testing.T) {
	g, err := trend.ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, trend.Auto, g)

	g, err = trend.ParseGranularity("day")
	require.NoError(t, err)
	assert.Equal(t, trend.Day, g)

	_, err = trend.ParseGranularity("week")
	var ug *trend.UnknownGranularityError
	assert.ErrorAs(t, err, &ug)
}

func TestCompute_UnknownGranularity(t *testing.T) {
	buckets, err := trend.Compute(trend.Window{Min: day(1), Max: day(14)}, trend.Granularity("week"), nil)
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.Nil(t, buckets)
	assert.Zero(t, trend.BucketCount(trend.Window{Min: day(1), Max: day(14)}, trend.Granularity("week")))
}

func TestPresets(t *testing.T) {
	now := time.Date(2024, 1, 14, 15, 42, 10, 0, time.UTC)

	w := trend.Last24Hours(now)
	assert.Equal(t, time.Date(2024, 1, 14, 15, 0, 0, 0, time.UTC), w.Max)
	assert.Equal(t, time.Date(2024, 1, 13, 16, 0, 0, 0, time.UTC), w.Min)
	assert.Equal(t, 24, trend.BucketCount(w, trend.Hour))

	w = trend.Last14Days(now)
	assert.Equal(t, day(14), w.Max)
	assert.Equal(t, day(1), w.Min)
	assert.Equal(t, 14, trend.BucketCount(w, trend.Day))
}
