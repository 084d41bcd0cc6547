package oms

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
)

// Tracker is the authoritative in-memory store of orders and fills.
// Two keyed maps, each guarded by its own reader-writer lock; read
// operations return cloned snapshots so callers never observe
// tracker-internal mutation.
type Tracker struct {
	logger *zap.Logger

	ordersMu sync.RWMutex
	orders   map[ids.OrderID]*Order

	fillsMu sync.RWMutex
	fills   map[ids.OrderID][]*Fill
}

// NewTracker constructs an empty Tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger.Named("oms"),
		orders: make(map[ids.OrderID]*Order),
		fills:  make(map[ids.OrderID][]*Fill),
	}
}

// TrackOrder registers a new order under its id.
func (t *Tracker) TrackOrder(order *Order) {
	t.ordersMu.Lock()
	defer t.ordersMu.Unlock()
	t.orders[order.ID] = order
}

// GetOrder returns a cloned snapshot of the tracked order.
func (t *Tracker) GetOrder(id ids.OrderID) (*Order, error) {
	t.ordersMu.RLock()
	defer t.ordersMu.RUnlock()
	o, ok := t.orders[id]
	if !ok {
		return nil, &errs.OrderNotFoundError{OrderID: string(id)}
	}
	return o.Clone(), nil
}

// UpdateStatus transitions a tracked order to a new status and bumps
// UpdatedAt. Terminal states are absorbing: transitioning out of one
// is rejected.
func (t *Tracker) UpdateStatus(id ids.OrderID, status Status) error {
	t.ordersMu.Lock()
	defer t.ordersMu.Unlock()
	o, ok := t.orders[id]
	if !ok {
		return &errs.OrderNotFoundError{OrderID: string(id)}
	}
	if o.Status.IsTerminal() {
		return &errs.InvalidOrderStateError{Current: string(o.Status), Operation: "update_status"}
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

// RecordFill applies a fill to its order: updates FilledSize, the
// value-weighted AvgFillPrice over cumulative fills, transitions
// status to Filled or PartiallyFilled, and appends the fill to the
// order's fill list.
//
// Overfills are clamped defensively (the Execution Engine's adapters
// are expected never to report more than Size, but a clamp here keeps
// the 0 <= FilledSize <= Size invariant total).
func (t *Tracker) RecordFill(fill *Fill) error {
	t.ordersMu.Lock()
	defer t.ordersMu.Unlock()

	o, ok := t.orders[fill.OrderID]
	if !ok {
		return &errs.OrderNotFoundError{OrderID: string(fill.OrderID)}
	}

	t.fillsMu.Lock()
	t.fills[fill.OrderID] = append(t.fills[fill.OrderID], fill)
	allFills := append([]*Fill(nil), t.fills[fill.OrderID]...)
	t.fillsMu.Unlock()

	newFilled := o.FilledSize.Add(fill.Size)
	if newFilled.GreaterThan(o.Size) {
		t.logger.Warn("fill overfilled order, clamping",
			zap.String("order_id", string(o.ID)),
			zap.String("filled", newFilled.String()),
			zap.String("size", o.Size.String()),
		)
		newFilled = o.Size
	}
	o.FilledSize = newFilled

	var weightedSum decimal.Decimal
	var totalSize decimal.Decimal
	for _, f := range allFills {
		weightedSum = weightedSum.Add(f.Price.Mul(f.Size))
		totalSize = totalSize.Add(f.Size)
	}
	if !totalSize.IsZero() {
		avg := weightedSum.Div(totalSize)
		o.AvgFillPrice = &avg
	}

	if o.IsFilled() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = time.Now()

	return nil
}

// GetFills returns the cloned fill list for an order.
func (t *Tracker) GetFills(id ids.OrderID) []*Fill {
	t.fillsMu.RLock()
	defer t.fillsMu.RUnlock()
	src := t.fills[id]
	out := make([]*Fill, len(src))
	for i, f := range src {
		cp := *f
		out[i] = &cp
	}
	return out
}

// GetAllOrders returns cloned snapshots of every tracked order.
func (t *Tracker) GetAllOrders() []*Order {
	t.ordersMu.RLock()
	defer t.ordersMu.RUnlock()
	out := make([]*Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o.Clone())
	}
	return out
}

// GetActiveOrders returns orders whose status is Working or PartiallyFilled.
func (t *Tracker) GetActiveOrders() []*Order {
	t.ordersMu.RLock()
	defer t.ordersMu.RUnlock()
	out := make([]*Order, 0)
	for _, o := range t.orders {
		if o.Status.IsActive() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// GetTerminalOrders returns orders in an absorbing state.
func (t *Tracker) GetTerminalOrders() []*Order {
	t.ordersMu.RLock()
	defer t.ordersMu.RUnlock()
	out := make([]*Order, 0)
	for _, o := range t.orders {
		if o.Status.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// RemoveOrder deletes an order and its fills from the tracker.
func (t *Tracker) RemoveOrder(id ids.OrderID) {
	t.ordersMu.Lock()
	delete(t.orders, id)
	t.ordersMu.Unlock()

	t.fillsMu.Lock()
	delete(t.fills, id)
	t.fillsMu.Unlock()
}

// ClearTerminalOrders removes terminal orders older than maxAge,
// returning the count removed. maxAge <= 0 clears every terminal order
// regardless of age.
func (t *Tracker) ClearTerminalOrders(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	t.ordersMu.Lock()
	toRemove := make([]ids.OrderID, 0)
	for id, o := range t.orders {
		if !o.Status.IsTerminal() {
			continue
		}
		if maxAge <= 0 || o.UpdatedAt.Before(cutoff) {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		delete(t.orders, id)
	}
	t.ordersMu.Unlock()

	t.fillsMu.Lock()
	for _, id := range toRemove {
		delete(t.fills, id)
	}
	t.fillsMu.Unlock()

	return len(toRemove)
}

// Count returns the number of tracked orders.
func (t *Tracker) Count() int {
	t.ordersMu.RLock()
	defer t.ordersMu.RUnlock()
	return len(t.orders)
}
