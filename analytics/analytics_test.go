package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/store"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analytics-test.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, events.NewBus(nil))
}

func seedSeries(t *testing.T, a *Analyzer, network, name string, values []float64) {
	t.Helper()
	base := time.Now().Add(-time.Duration(len(values)) * time.Minute)
	for i, v := range values {
		require.NoError(t, a.RecordMetric(context.Background(), models.PerformanceMetric{
			NetworkID: network, Name: name, Value: v, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestGetTimeSeriesOrdersByTimestamp(t *testing.T) {
	a := newTestAnalyzer(t)
	seedSeries(t, a, "sepolia", "tps", []float64{10, 20, 30})

	series, err := a.GetTimeSeries(context.Background(), "tps", store.PerformanceMetricFilter{Network: "sepolia"})
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.True(t, series[0].Timestamp.Before(series[1].Timestamp))
}

func TestGetAggregatedGroupsByBucket(t *testing.T) {
	a := newTestAnalyzer(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Hour)
	require.NoError(t, a.RecordMetrics(ctx, []models.PerformanceMetric{
		{NetworkID: "sepolia", Name: "tps", Value: 10, Timestamp: now},
		{NetworkID: "sepolia", Name: "tps", Value: 20, Timestamp: now.Add(time.Minute)},
		{NetworkID: "sepolia", Name: "tps", Value: 100, Timestamp: now.Add(2 * time.Hour)},
	}))

	buckets, err := a.GetAggregated(ctx, "tps", BucketHour, store.PerformanceMetricFilter{Network: "sepolia"})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, 2, buckets[0].Count)
	assert.InDelta(t, 15, buckets[0].Mean, 0.001)
	assert.Equal(t, 1, buckets[1].Count)
}

func TestAnalyzeTrendsInsufficientData(t *testing.T) {
	a := newTestAnalyzer(t)
	seedSeries(t, a, "sepolia", "tps", []float64{10, 20})

	trend, err := a.AnalyzeTrends(context.Background(), "tps", store.PerformanceMetricFilter{Network: "sepolia"})
	require.NoError(t, err)
	assert.Equal(t, TrendInsufficientData, trend.Class)
}

func TestAnalyzeTrendsDetectsStrongIncrease(t *testing.T) {
	a := newTestAnalyzer(t)
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i) * 10
	}
	seedSeries(t, a, "sepolia", "gas_used", values)

	trend, err := a.AnalyzeTrends(context.Background(), "gas_used", store.PerformanceMetricFilter{Network: "sepolia"})
	require.NoError(t, err)
	assert.Equal(t, TrendStronglyIncreasing, trend.Class)
	assert.Greater(t, trend.Slope, 0.0)
	assert.Greater(t, trend.RSquared, 0.9)
}

func TestDetectRegressionsFlagsGasRegression(t *testing.T) {
	a := newTestAnalyzer(t)
	values := make([]float64, 20)
	for i := range values {
		values[i] = 100 + float64(i)*5 // rises well past the 15% gas_used threshold
	}
	seedSeries(t, a, "sepolia", "gas_used", values)

	regressions, err := a.DetectRegressions(context.Background(), "sepolia", nil)
	require.NoError(t, err)
	require.NotEmpty(t, regressions)
	assert.Equal(t, "gas_used", regressions[0].MetricName)
}

func TestDetectRegressionsPublishesOnBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics-bus-test.db")
	s, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus(nil)
	sub := bus.Subscribe(4)
	a := New(s, bus)

	values := make([]float64, 20)
	for i := range values {
		values[i] = 100 + float64(i)*5
	}
	seedSeries(t, a, "sepolia", "gas_used", values)

	regressions, err := a.DetectRegressions(context.Background(), "sepolia", nil)
	require.NoError(t, err)
	require.NotEmpty(t, regressions)

	select {
	case ev := <-sub.C():
		assert.Equal(t, events.RegressionDetected, ev.Name)
		assert.Equal(t, "sepolia", ev.Fields["networkId"])
		assert.Equal(t, "gas_used", ev.Fields["metricName"])
	default:
		t.Fatal("expected a regression_detected event")
	}
}

func TestDetectRegressionsNoneWhenStable(t *testing.T) {
	a := newTestAnalyzer(t)
	values := make([]float64, 20)
	for i := range values {
		values[i] = 100
	}
	seedSeries(t, a, "sepolia", "gas_used", values)

	regressions, err := a.DetectRegressions(context.Background(), "sepolia", nil)
	require.NoError(t, err)
	assert.Empty(t, regressions)
}

func TestCompareNetworksHigherIsBetterByDefault(t *testing.T) {
	a := newTestAnalyzer(t)
	seedSeries(t, a, "fast", "tps", []float64{100, 100, 100})
	seedSeries(t, a, "slow", "tps", []float64{50, 50, 50})

	comparison, err := a.CompareNetworks(context.Background(), "tps")
	require.NoError(t, err)
	require.Len(t, comparison, 2)

	byID := map[string]NetworkComparison{}
	for _, c := range comparison {
		byID[c.NetworkID] = c
	}
	assert.Greater(t, byID["fast"].RelativeScore, byID["slow"].RelativeScore)
}

func TestCompareNetworksLowerIsBetterForResponseTime(t *testing.T) {
	a := newTestAnalyzer(t)
	seedSeries(t, a, "fast", "response_time", []float64{10, 10, 10})
	seedSeries(t, a, "slow", "response_time", []float64{100, 100, 100})

	comparison, err := a.CompareNetworks(context.Background(), "response_time")
	require.NoError(t, err)

	byID := map[string]NetworkComparison{}
	for _, c := range comparison {
		byID[c.NetworkID] = c
	}
	assert.Greater(t, byID["fast"].RelativeScore, byID["slow"].RelativeScore)
}

func TestDetectOutliersTukeyFences(t *testing.T) {
	values := []float64{10, 11, 12, 13, 14, 15, 100}
	outliers := DetectOutliers(values)
	assert.Contains(t, outliers, 100.0)
	assert.NotContains(t, outliers, 12.0)
}

func TestDetectOutliersTooFewSamples(t *testing.T) {
	assert.Nil(t, DetectOutliers([]float64{1, 2}))
}
