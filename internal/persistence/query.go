package persistence

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Aggregation is the reducer applied over a bucket's values.
type Aggregation string

const (
	AggAvg    Aggregation = "avg"
	AggMin    Aggregation = "min"
	AggMax    Aggregation = "max"
	AggMedian Aggregation = "median"
	AggP95    Aggregation = "p95"
	AggP99    Aggregation = "p99"
	AggStdDev Aggregation = "stddev"
	AggCount  Aggregation = "count"
)

// AggregateQuery is the input to QueryAggregated.
type AggregateQuery struct {
	MetricName string
	Start      time.Time
	End        time.Time
	Bucket     time.Duration
	Agg        Aggregation
}

// Bucket is a single ordered time bucket result.
type Bucket struct {
	Start time.Time
	Value float64
	Count int
}

// QueryAggregated loads metrics rows in [Start,End], groups them into
// fixed-width buckets, and reduces each bucket's values via Agg.
func (s *GormSink) QueryAggregated(ctx context.Context, req AggregateQuery) ([]Bucket, error) {
	if req.Bucket <= 0 {
		return nil, fmt.Errorf("persistence: bucket duration must be positive")
	}

	var rows []MetricRecord
	err := s.db.WithContext(ctx).
		Where("name = ? AND timestamp BETWEEN ? AND ?", req.MetricName, req.Start, req.End).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	grouped := make(map[int64][]float64)
	var order []int64
	for _, r := range rows {
		key := req.Start.Add(r.Timestamp.Sub(req.Start).Truncate(req.Bucket)).Unix()
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], r.Value)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]Bucket, 0, len(order))
	for _, key := range order {
		values := grouped[key]
		out = append(out, Bucket{
			Start: time.Unix(key, 0).UTC(),
			Value: reduce(values, req.Agg),
			Count: len(values),
		})
	}
	return out, nil
}

func reduce(values []float64, agg Aggregation) float64 {
	if len(values) == 0 {
		return 0
	}
	switch agg {
	case AggCount:
		return float64(len(values))
	case AggMin:
		m := values[0]
		for _, v := range values {
			if v < m {
				m = v
			}
		}
		return m
	case AggMax:
		m := values[0]
		for _, v := range values {
			if v > m {
				m = v
			}
		}
		return m
	case AggMedian:
		return percentile(values, 0.5)
	case AggP95:
		return percentile(values, 0.95)
	case AggP99:
		return percentile(values, 0.99)
	case AggStdDev:
		return stdDev(values)
	default: // AggAvg
		return mean(values)
	}
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RetentionPolicy configures how long a table's rows are kept, and the
// age after which older-but-retained rows are eligible for
// compression by a scheduled sweep.
type RetentionPolicy struct {
	MetricsRetention  time.Duration
	OrdersRetention   time.Duration
	FillsRetention    time.Duration
	PositionsRetention time.Duration
	CompressAfter     time.Duration
}

// ApplyRetention deletes rows older than each table's retention
// window. Compression (CompressAfter) is left to the storage engine's
// own tooling; this sweep only enforces the hard delete boundary.
func (s *GormSink) ApplyRetention(ctx context.Context, policy RetentionPolicy) error {
	now := time.Now()

	if policy.MetricsRetention > 0 {
		cutoff := now.Add(-policy.MetricsRetention)
		if err := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&MetricRecord{}).Error; err != nil {
			return err
		}
	}
	if policy.OrdersRetention > 0 {
		cutoff := now.Add(-policy.OrdersRetention)
		if err := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&OrderRecord{}).Error; err != nil {
			return err
		}
	}
	if policy.FillsRetention > 0 {
		cutoff := now.Add(-policy.FillsRetention)
		if err := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&FillRecord{}).Error; err != nil {
			return err
		}
	}
	if policy.PositionsRetention > 0 {
		cutoff := now.Add(-policy.PositionsRetention)
		if err := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&PositionRecord{}).Error; err != nil {
			return err
		}
	}
	return nil
}
