package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
)

func newTestSink(t *testing.T) *GormSink {
	t.Helper()
	sink, err := Open(zap.NewNop(), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestGormSink_UpsertOrder_InsertsThenUpdatesByClientOrderID(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	order := &oms.Order{
		Venue:         ids.VenueID("polymarket"),
		Market:        ids.MarketID("BTC-USD"),
		Side:          oms.SideBuy,
		Type:          oms.TypeLimit,
		Size:          decimal.NewFromInt(1),
		Status:        oms.StatusSubmitting,
		ClientOrderID: "client-1",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, sink.UpsertOrder(ctx, order))

	order.Status = oms.StatusWorking
	order.VenueOrderID = "venue-123"
	require.NoError(t, sink.UpsertOrder(ctx, order))

	var count int64
	sink.db.Model(&OrderRecord{}).Where("client_order_id = ?", "client-1").Count(&count)
	assert.Equal(t, int64(1), count, "a second upsert with the same client order id must update, not insert")

	var record OrderRecord
	require.NoError(t, sink.db.Where("client_order_id = ?", "client-1").First(&record).Error)
	assert.Equal(t, string(oms.StatusWorking), record.Status)
	assert.Equal(t, "venue-123", record.VenueOrderID)
}

func TestGormSink_RecordFillAndPosition(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	err := sink.RecordFill(ctx, &oms.Fill{
		FillID:  "f1",
		OrderID: ids.NewOrderID(),
		Price:   decimal.NewFromInt(100),
		Size:    decimal.NewFromInt(1),
	}, ids.VenueID("polymarket"), ids.MarketID("BTC-USD"), oms.SideBuy)
	require.NoError(t, err)

	err = sink.RecordPosition(ctx, &oms.Position{
		Market:     ids.MarketID("BTC-USD"),
		Size:       decimal.NewFromInt(1),
		EntryPrice: decimal.NewFromInt(100),
	}, ids.VenueID("polymarket"))
	require.NoError(t, err)

	var fillCount, positionCount int64
	sink.db.Model(&FillRecord{}).Count(&fillCount)
	sink.db.Model(&PositionRecord{}).Count(&positionCount)
	assert.Equal(t, int64(1), fillCount)
	assert.Equal(t, int64(1), positionCount)
}

func TestGormSink_QueryAggregated_BucketsAndReduces(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []float64{10, 20, 30} {
		record := MetricRecord{Timestamp: base.Add(time.Duration(i) * time.Second), Name: "submit_latency_ms", Value: v}
		require.NoError(t, sink.db.Create(&record).Error)
	}

	buckets, err := sink.QueryAggregated(ctx, AggregateQuery{
		MetricName: "submit_latency_ms",
		Start:      base,
		End:        base.Add(time.Hour),
		Bucket:     time.Hour,
		Agg:        AggAvg,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 3, buckets[0].Count)
	assert.InDelta(t, 20.0, buckets[0].Value, 0.0001)
}

func TestGormSink_QueryAggregated_RejectsNonPositiveBucket(t *testing.T) {
	sink := newTestSink(t)
	_, err := sink.QueryAggregated(context.Background(), AggregateQuery{Bucket: 0})
	assert.Error(t, err)
}

func TestGormSink_RecordMetric_BuffersUntilCapacityThenFlushes(t *testing.T) {
	sink := newTestSink(t)
	sink.metricCap = 3
	ctx := context.Background()

	require.NoError(t, sink.RecordMetric(ctx, "submit_latency_ms", 1, nil))
	require.NoError(t, sink.RecordMetric(ctx, "submit_latency_ms", 2, nil))

	var count int64
	sink.db.Model(&MetricRecord{}).Count(&count)
	assert.Equal(t, int64(0), count, "buffered metrics below capacity must not be durable yet")

	require.NoError(t, sink.RecordMetric(ctx, "submit_latency_ms", 3, nil))

	sink.db.Model(&MetricRecord{}).Count(&count)
	assert.Equal(t, int64(3), count, "reaching capacity must flush the buffer")
}

func TestGormSink_Close_FlushesRemainingBufferedMetrics(t *testing.T) {
	sink, err := Open(zap.NewNop(), "file::memory:?cache=shared")
	require.NoError(t, err)
	sink.metricCap = 100
	ctx := context.Background()

	// A second connection keeps the shared in-memory database alive and
	// queryable after sink.Close releases its own connection.
	observer, err := Open(zap.NewNop(), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { observer.Close() })

	require.NoError(t, sink.RecordMetric(ctx, "submit_latency_ms", 1, nil))
	require.NoError(t, sink.RecordMetric(ctx, "submit_latency_ms", 2, nil))

	var count int64
	sink.db.Model(&MetricRecord{}).Count(&count)
	assert.Equal(t, int64(0), count)

	require.NoError(t, sink.Close())

	observer.db.Model(&MetricRecord{}).Count(&count)
	assert.Equal(t, int64(2), count, "Close must drain buffered metrics before releasing the connection")
}

func TestGormSink_ApplyRetention_DeletesOlderThanWindow(t *testing.T) {
	sink := newTestSink(t)

	old := MetricRecord{Timestamp: time.Now().Add(-48 * time.Hour), Name: "m", Value: 1}
	fresh := MetricRecord{Timestamp: time.Now(), Name: "m", Value: 2}
	require.NoError(t, sink.db.Create(&old).Error)
	require.NoError(t, sink.db.Create(&fresh).Error)

	err := sink.ApplyRetention(context.Background(), RetentionPolicy{MetricsRetention: 24 * time.Hour})
	require.NoError(t, err)

	var count int64
	sink.db.Model(&MetricRecord{}).Count(&count)
	assert.Equal(t, int64(1), count)
}
