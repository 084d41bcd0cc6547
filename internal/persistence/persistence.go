// Package persistence implements the Persistence Sink: a buffer-and-
// flush interface over four append-oriented tables (metrics, orders,
// fills, positions) plus the aggregation query and retention sweep.
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
)

// Metrics are batched in memory and flushed either when the buffer
// fills or on a fixed interval, whichever comes first, so only the
// emission that fills the buffer waits on a database round-trip.
const (
	defaultMetricBufferCapacity = 500
	defaultMetricFlushInterval  = 2 * time.Second
)

// Sink is the Persistence capability: buffer metrics, append execution
// events, and answer aggregation queries. Every method call may
// suspend (it is an I/O-bound operation per spec.md's concurrency
// model), so all take a context.
type Sink interface {
	RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) error
	UpsertOrder(ctx context.Context, order *oms.Order) error
	RecordFill(ctx context.Context, fill *oms.Fill, venue ids.VenueID, market ids.MarketID, side oms.OrderSide) error
	RecordPosition(ctx context.Context, position *oms.Position, venue ids.VenueID) error
	QueryAggregated(ctx context.Context, req AggregateQuery) ([]Bucket, error)
	ApplyRetention(ctx context.Context, policy RetentionPolicy) error
	Close() error
}

// MetricRecord is the `metrics` table row.
type MetricRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Name      string    `gorm:"index;not null"`
	Value     float64   `gorm:"not null"`
	Labels    string    `gorm:"type:text"` // json
}

func (MetricRecord) TableName() string { return "metrics" }

// OrderRecord is the `orders` table row, upserted on ClientOrderID.
type OrderRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp     time.Time `gorm:"index;not null"`
	Venue         string    `gorm:"index;not null"`
	Market        string    `gorm:"index;not null"`
	Side          string    `gorm:"not null"`
	OrderType     string    `gorm:"not null"`
	Price         *string
	Size          string `gorm:"not null"`
	Status        string `gorm:"index;not null"`
	ClientOrderID string `gorm:"uniqueIndex;not null"`
	VenueOrderID  string
	TimeInForce   string
}

func (OrderRecord) TableName() string { return "orders" }

// FillRecord is the `fills` table row, append-only.
type FillRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	OrderID   string    `gorm:"index;not null"`
	Venue     string    `gorm:"not null"`
	Market    string    `gorm:"index;not null"`
	Side      string    `gorm:"not null"`
	Price     string    `gorm:"not null"`
	Size      string    `gorm:"not null"`
	Fee       string    `gorm:"not null"`
	FeeCurrency string
	TradeID   string
	Liquidity string
}

func (FillRecord) TableName() string { return "fills" }

// PositionRecord is the `positions` table row, append-only snapshots.
type PositionRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp     time.Time `gorm:"index;not null"`
	Market        string    `gorm:"index;not null"`
	Venue         string    `gorm:"not null"`
	Size          string    `gorm:"not null"`
	AvgEntryPrice string    `gorm:"not null"`
	UnrealizedPnL string
	RealizedPnL   string
	MarkPrice     string
}

func (PositionRecord) TableName() string { return "positions" }

// GormSink is the GORM-backed Sink implementation, exercised here
// against SQLite (the driver choice is a deployment detail; any GORM
// dialect satisfies the same schema contract).
type GormSink struct {
	logger *zap.Logger
	db     *gorm.DB

	metricMu      sync.Mutex
	metricBuffer  []MetricRecord
	metricCap     int
	flushInterval time.Duration
	stopFlush     chan struct{}
	flushStopped  chan struct{}
}

// Open connects to dsn, migrates the four tables, and starts the
// periodic metric-buffer flush.
func Open(log *zap.Logger, dsn string) (*GormSink, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&MetricRecord{}, &OrderRecord{}, &FillRecord{}, &PositionRecord{}); err != nil {
		return nil, err
	}

	s := &GormSink{
		logger:        log.Named("persistence"),
		db:            db,
		metricCap:     defaultMetricBufferCapacity,
		flushInterval: defaultMetricFlushInterval,
		stopFlush:     make(chan struct{}),
		flushStopped:  make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// flushLoop periodically drains the metric buffer until stopped.
func (s *GormSink) flushLoop() {
	defer close(s.flushStopped)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopFlush:
			return
		case <-ticker.C:
			if err := s.flushMetrics(context.Background()); err != nil {
				s.logger.Warn("periodic metric flush failed", zap.Error(err))
			}
		}
	}
}

// flushMetrics drains the buffer and bulk-inserts it. A no-op when empty.
func (s *GormSink) flushMetrics(ctx context.Context) error {
	s.metricMu.Lock()
	if len(s.metricBuffer) == 0 {
		s.metricMu.Unlock()
		return nil
	}
	batch := s.metricBuffer
	s.metricBuffer = nil
	s.metricMu.Unlock()

	return s.db.WithContext(ctx).Create(&batch).Error
}

func strPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// RecordMetric buffers a metrics row, flushing immediately once the
// buffer reaches capacity rather than writing synchronously per call;
// the periodic flushLoop drains whatever remains on its own cadence.
func (s *GormSink) RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) error {
	encoded, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	record := MetricRecord{Timestamp: time.Now(), Name: name, Value: value, Labels: string(encoded)}

	s.metricMu.Lock()
	s.metricBuffer = append(s.metricBuffer, record)
	full := len(s.metricBuffer) >= s.metricCap
	s.metricMu.Unlock()

	if full {
		return s.flushMetrics(ctx)
	}
	return nil
}

// UpsertOrder inserts or updates an order row keyed by ClientOrderID,
// the spec's documented upsert key.
func (s *GormSink) UpsertOrder(ctx context.Context, order *oms.Order) error {
	record := OrderRecord{
		Timestamp:     order.CreatedAt,
		Venue:         string(order.Venue),
		Market:        string(order.Market),
		Side:          string(order.Side),
		OrderType:     string(order.Type),
		Price:         strPtr(order.Price),
		Size:          order.Size.String(),
		Status:        string(order.Status),
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  order.VenueOrderID,
		TimeInForce:   string(order.TimeInForce),
	}

	var existing OrderRecord
	err := s.db.WithContext(ctx).Where("client_order_id = ?", order.ClientOrderID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.WithContext(ctx).Create(&record).Error
	}
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"status":         record.Status,
		"venue_order_id": record.VenueOrderID,
	}).Error
}

// RecordFill appends a fills row.
func (s *GormSink) RecordFill(ctx context.Context, fill *oms.Fill, venue ids.VenueID, market ids.MarketID, side oms.OrderSide) error {
	record := FillRecord{
		Timestamp:   fill.Timestamp,
		OrderID:     string(fill.OrderID),
		Venue:       string(venue),
		Market:      string(market),
		Side:        string(side),
		Price:       fill.Price.String(),
		Size:        fill.Size.String(),
		Fee:         fill.Fee.String(),
		FeeCurrency: fill.FeeCurrency,
		TradeID:     fill.FillID,
		Liquidity:   string(fill.Liquidity),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// RecordPosition appends a positions snapshot row.
func (s *GormSink) RecordPosition(ctx context.Context, position *oms.Position, venue ids.VenueID) error {
	record := PositionRecord{
		Timestamp:     time.Now(),
		Market:        string(position.Market),
		Venue:         string(venue),
		Size:          position.Size.String(),
		AvgEntryPrice: position.EntryPrice.String(),
		UnrealizedPnL: position.UnrealizedPnL.String(),
		RealizedPnL:   position.RealizedPnL.String(),
		MarkPrice:     position.MarkPrice.String(),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Close stops the periodic flush, drains any remaining buffered
// metrics, and releases the underlying connection.
func (s *GormSink) Close() error {
	close(s.stopFlush)
	<-s.flushStopped

	if err := s.flushMetrics(context.Background()); err != nil {
		s.logger.Warn("final metric flush failed", zap.Error(err))
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
