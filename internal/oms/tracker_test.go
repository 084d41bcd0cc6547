package oms

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
)

func newTestOrder() *Order {
	return &Order{
		ID:          ids.NewOrderID(),
		Venue:       ids.VenueID("polymarket"),
		Market:      ids.MarketID("BTC-USD"),
		Side:        SideBuy,
		Type:        TypeLimit,
		Size:        decimal.NewFromInt(10),
		TimeInForce: TIFGTC,
		Status:      StatusWorking,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestTracker_TrackAndGetOrder(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	order := newTestOrder()
	tr.TrackOrder(order)

	got, err := tr.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	got.Status = StatusFilled
	reread, err := tr.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, reread.Status, "mutating a returned clone must not affect tracker state")
}

func TestTracker_GetOrder_NotFound(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	_, err := tr.GetOrder(ids.NewOrderID())
	require.Error(t, err)
	var notFound *errs.OrderNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestTracker_UpdateStatus_RejectsTransitionOutOfTerminal(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	order := newTestOrder()
	order.Status = StatusFilled
	tr.TrackOrder(order)

	err := tr.UpdateStatus(order.ID, StatusWorking)
	require.Error(t, err)
	var invalid *errs.InvalidOrderStateError
	assert.ErrorAs(t, err, &invalid)
}

func TestTracker_RecordFill_PartialThenFullVWAP(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	order := newTestOrder()
	tr.TrackOrder(order)

	require.NoError(t, tr.RecordFill(&Fill{
		FillID:  "f1",
		OrderID: order.ID,
		Price:   decimal.NewFromInt(100),
		Size:    decimal.NewFromInt(4),
	}))

	got, err := tr.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, got.Status)
	assert.True(t, got.AvgFillPrice.Equal(decimal.NewFromInt(100)))

	require.NoError(t, tr.RecordFill(&Fill{
		FillID:  "f2",
		OrderID: order.ID,
		Price:   decimal.NewFromInt(110),
		Size:    decimal.NewFromInt(6),
	}))

	got, err = tr.GetOrder(order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, got.Status)
	// VWAP: (100*4 + 110*6) / 10 = 106
	assert.True(t, got.AvgFillPrice.Equal(decimal.NewFromInt(106)), "expected VWAP 106, got %s", got.AvgFillPrice)
	assert.Len(t, tr.GetFills(order.ID), 2)
}

func TestTracker_RecordFill_ClampsOverfill(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	order := newTestOrder()
	tr.TrackOrder(order)

	require.NoError(t, tr.RecordFill(&Fill{
		FillID:  "f1",
		OrderID: order.ID,
		Price:   decimal.NewFromInt(100),
		Size:    decimal.NewFromInt(15),
	}))

	got, err := tr.GetOrder(order.ID)
	require.NoError(t, err)
	assert.True(t, got.FilledSize.Equal(order.Size), "filled size must be clamped to order size")
	assert.Equal(t, StatusFilled, got.Status)
}

func TestTracker_GetActiveAndTerminalOrders(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	active := newTestOrder()
	tr.TrackOrder(active)

	terminal := newTestOrder()
	terminal.Status = StatusFilled
	tr.TrackOrder(terminal)

	assert.Len(t, tr.GetActiveOrders(), 1)
	assert.Len(t, tr.GetTerminalOrders(), 1)
	assert.Equal(t, 2, tr.Count())
}

func TestTracker_ClearTerminalOrders(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	order := newTestOrder()
	order.Status = StatusCancelled
	order.UpdatedAt = time.Now().Add(-1 * time.Hour)
	tr.TrackOrder(order)

	removed := tr.ClearTerminalOrders(10 * time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_RemoveOrder(t *testing.T) {
	tr := NewTracker(zap.NewNop())
	order := newTestOrder()
	tr.TrackOrder(order)
	tr.RemoveOrder(order.ID)

	_, err := tr.GetOrder(order.ID)
	assert.Error(t, err)
	assert.Empty(t, tr.GetFills(order.ID))
}
