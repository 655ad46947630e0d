// Package analytics implements the read-only Analytics / Time-Series
// component: descriptive statistics, trend classification, regression
// detection, and cross-network comparison, computed over the Result
// Store's performance_metrics table.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/meridianlabs/testorch/events"
	"github.com/meridianlabs/testorch/models"
	"github.com/meridianlabs/testorch/store"
)

// Analyzer is the Analytics / Time-Series component, layered read-only
// over a Result Store. Detected regressions are published on bus.
type Analyzer struct {
	store *store.Store
	bus   *events.Bus
}

// New builds an Analyzer over an already-open Store, publishing detected
// regressions on bus.
func New(s *store.Store, bus *events.Bus) *Analyzer {
	return &Analyzer{store: s, bus: bus}
}

// RecordMetric is a convenience insert, delegating to the Store.
func (a *Analyzer) RecordMetric(ctx context.Context, m models.PerformanceMetric) error {
	return a.store.InsertPerformanceMetric(ctx, m)
}

// RecordMetrics batch-inserts several samples in one transaction.
func (a *Analyzer) RecordMetrics(ctx context.Context, ms []models.PerformanceMetric) error {
	return a.store.InsertPerformanceMetrics(ctx, ms)
}

// GetTimeSeries returns samples for (networkId, metricName) ordered by
// timestamp ascending.
func (a *Analyzer) GetTimeSeries(ctx context.Context, name string, f store.PerformanceMetricFilter) ([]models.PerformanceMetric, error) {
	f.Name = name
	return a.store.GetPerformanceMetrics(ctx, f)
}

// Bucket is a time-bucket granularity for GetAggregated.
type Bucket string

const (
	BucketMinute Bucket = "minute"
	BucketHour   Bucket = "hour"
	BucketDay    Bucket = "day"
	BucketWeek   Bucket = "week"
	BucketMonth  Bucket = "month"
)

// BucketStats summarizes one time bucket's worth of samples.
type BucketStats struct {
	BucketStart time.Time
	Count       int
	Mean        float64
	Min         float64
	Max         float64
	StdDev      float64
}

// GetAggregated groups the series into buckets and computes per-bucket
// descriptive statistics.
func (a *Analyzer) GetAggregated(ctx context.Context, name string, bucket Bucket, f store.PerformanceMetricFilter) ([]BucketStats, error) {
	series, err := a.GetTimeSeries(ctx, name, f)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, nil
	}

	grouped := make(map[time.Time][]float64)
	var order []time.Time
	for _, m := range series {
		start := truncateToBucket(m.Timestamp, bucket)
		if _, ok := grouped[start]; !ok {
			order = append(order, start)
		}
		grouped[start] = append(grouped[start], m.Value)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]BucketStats, 0, len(order))
	for _, start := range order {
		values := grouped[start]
		out = append(out, BucketStats{
			BucketStart: start,
			Count:       len(values),
			Mean:        stat.Mean(values, nil),
			Min:         minOf(values),
			Max:         maxOf(values),
			StdDev:      stat.StdDev(values, nil),
		})
	}
	return out, nil
}

func truncateToBucket(t time.Time, b Bucket) time.Time {
	t = t.UTC()
	switch b {
	case BucketMinute:
		return t.Truncate(time.Minute)
	case BucketHour:
		return t.Truncate(time.Hour)
	case BucketDay:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case BucketWeek:
		y, m, d := t.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -int(day.Weekday()))
	case BucketMonth:
		y, m, _ := t.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Hour)
	}
}

func minOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// TrendClass classifies a metric's trajectory over time.
type TrendClass string

const (
	TrendStable             TrendClass = "stable"
	TrendIncreasing         TrendClass = "increasing"
	TrendStronglyIncreasing TrendClass = "strongly_increasing"
	TrendDecreasing         TrendClass = "decreasing"
	TrendStronglyDecreasing TrendClass = "strongly_decreasing"
	TrendInsufficientData   TrendClass = "insufficient_data"
)

// TrendResult is the output of AnalyzeTrends.
type TrendResult struct {
	Slope            float64
	RSquared         float64
	PercentageChange float64
	Class            TrendClass
}

const minSamplesForTrend = 3

// AnalyzeTrends runs a linear regression of value against timestamp
// (seconds since the first sample), classifying the slope and comparing
// the recent half of the window against the baseline (earlier) half.
func (a *Analyzer) AnalyzeTrends(ctx context.Context, name string, f store.PerformanceMetricFilter) (TrendResult, error) {
	series, err := a.GetTimeSeries(ctx, name, f)
	if err != nil {
		return TrendResult{}, err
	}
	if len(series) < minSamplesForTrend {
		return TrendResult{Class: TrendInsufficientData}, nil
	}

	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	t0 := series[0].Timestamp
	for i, m := range series {
		xs[i] = m.Timestamp.Sub(t0).Seconds()
		ys[i] = m.Value
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)

	mid := len(series) / 2
	baseline := mean(ys[:mid])
	recent := mean(ys[mid:])
	var pctChange float64
	if baseline != 0 {
		pctChange = (recent - baseline) / math.Abs(baseline) * 100
	}

	return TrendResult{Slope: beta, RSquared: r2, PercentageChange: pctChange, Class: classifyTrend(pctChange)}, nil
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return stat.Mean(vs, nil)
}

func classifyTrend(pctChange float64) TrendClass {
	switch {
	case pctChange >= 20:
		return TrendStronglyIncreasing
	case pctChange >= 2:
		return TrendIncreasing
	case pctChange <= -20:
		return TrendStronglyDecreasing
	case pctChange <= -2:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// RegressionThreshold configures the directional sensitivity for one
// metric name, per spec.md §4.H.
type RegressionThreshold struct {
	MetricName       string
	Direction        Direction
	ThresholdPercent float64
}

// Direction says which way is "worse" for a metric.
type Direction string

const (
	HigherIsWorse Direction = "higher_is_worse"
	LowerIsWorse  Direction = "lower_is_worse"
)

// DefaultThresholds is the threshold table named in spec.md §4.H.
var DefaultThresholds = []RegressionThreshold{
	{MetricName: "success_rate", Direction: LowerIsWorse, ThresholdPercent: 5},
	{MetricName: "response_time", Direction: HigherIsWorse, ThresholdPercent: 20},
	{MetricName: "gas_used", Direction: HigherIsWorse, ThresholdPercent: 15},
	{MetricName: "tps", Direction: LowerIsWorse, ThresholdPercent: 10},
	{MetricName: "block_time", Direction: HigherIsWorse, ThresholdPercent: 25},
}

const minRSquaredForRegression = 0.3

// Regression is one detected regression for a (networkId, metricName).
type Regression struct {
	NetworkID        string
	MetricName       string
	Severity         models.Severity
	PercentageChange float64
	Confidence       float64
}

// DetectRegressions evaluates every configured threshold against the
// network's current trend and flags the ones that crossed it with
// sufficient regression confidence (r² ≥ 0.3).
func (a *Analyzer) DetectRegressions(ctx context.Context, networkID string, thresholds []RegressionThreshold) ([]Regression, error) {
	if thresholds == nil {
		thresholds = DefaultThresholds
	}
	var out []Regression
	for _, th := range thresholds {
		trend, err := a.AnalyzeTrends(ctx, th.MetricName, store.PerformanceMetricFilter{Network: networkID})
		if err != nil {
			return nil, fmt.Errorf("analytics: trend for %s/%s: %w", networkID, th.MetricName, err)
		}
		if trend.Class == TrendInsufficientData || trend.RSquared < minRSquaredForRegression {
			continue
		}
		regressed := (th.Direction == HigherIsWorse && trend.PercentageChange >= th.ThresholdPercent) ||
			(th.Direction == LowerIsWorse && trend.PercentageChange <= -th.ThresholdPercent)
		if !regressed {
			continue
		}
		reg := Regression{
			NetworkID: networkID, MetricName: th.MetricName,
			Severity:         severityFor(math.Abs(trend.PercentageChange), th.ThresholdPercent),
			PercentageChange: trend.PercentageChange,
			Confidence:       trend.RSquared,
		}
		out = append(out, reg)
		if a.bus != nil {
			a.bus.Publish(events.RegressionDetected, events.RegressionDetectedFields(reg.NetworkID, reg.MetricName, reg.Severity, reg.PercentageChange, reg.Confidence))
		}
	}
	return out, nil
}

func severityFor(magnitude, threshold float64) models.Severity {
	ratio := magnitude / threshold
	switch {
	case ratio >= 3:
		return models.SeveritySevere
	case ratio >= 1.5:
		return models.SeverityModerate
	default:
		return models.SeverityMinor
	}
}

// NetworkComparison is one network's standing within CompareNetworks.
type NetworkComparison struct {
	NetworkID      string
	Mean           float64
	RelativeScore  float64 // 1.0 = group average; >1 means better than average in either direction
}

// lowerIsBetter is the explicit directionality table named in spec.md
// §4.H ("decide directionality per metric; lower-is-better set defined
// explicitly").
var lowerIsBetter = map[string]bool{
	"response_time": true,
	"gas_used":      true,
	"block_time":    true,
}

// CompareNetworks computes a per-network summary and a relative-to-group
// score for one metric across every network that has samples for it.
func (a *Analyzer) CompareNetworks(ctx context.Context, metricName string) ([]NetworkComparison, error) {
	series, err := a.GetTimeSeries(ctx, metricName, store.PerformanceMetricFilter{})
	if err != nil {
		return nil, err
	}
	byNetwork := make(map[string][]float64)
	var order []string
	for _, m := range series {
		if _, ok := byNetwork[m.NetworkID]; !ok {
			order = append(order, m.NetworkID)
		}
		byNetwork[m.NetworkID] = append(byNetwork[m.NetworkID], m.Value)
	}
	if len(byNetwork) == 0 {
		return nil, nil
	}

	means := make(map[string]float64, len(byNetwork))
	var groupSum float64
	for id, vs := range byNetwork {
		means[id] = stat.Mean(vs, nil)
		groupSum += means[id]
	}
	groupMean := groupSum / float64(len(byNetwork))

	out := make([]NetworkComparison, 0, len(order))
	for _, id := range order {
		m := means[id]
		var score float64
		if groupMean != 0 {
			score = m / groupMean
			if lowerIsBetter[metricName] {
				score = groupMean / m
			}
		}
		out = append(out, NetworkComparison{NetworkID: id, Mean: m, RelativeScore: score})
	}
	return out, nil
}

// DetectOutliers applies Tukey fences (Q1 - 1.5*IQR, Q3 + 1.5*IQR) to a
// sample, returning the values that fall outside them.
func DetectOutliers(values []float64) []float64 {
	if len(values) < 4 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := stat.Quantile(0.25, stat.Empirical, sorted, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, sorted, nil)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	var outliers []float64
	for _, v := range values {
		if v < lower || v > upper {
			outliers = append(outliers, v)
		}
	}
	return outliers
}
