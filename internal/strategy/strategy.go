// Package strategy defines the Strategy callback contract and the
// per-strategy mutable context the Coordinator hands to it.
package strategy

import (
	"context"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
)

// MarketTick is a snapshot of a market's best bid/ask/last/volume.
type MarketTick struct {
	Market     ids.MarketID
	Timestamp  int64 // unix nanos, so backtests can replay historical ticks verbatim
	Bid        *float64
	Ask        *float64
	BidSize    *float64
	AskSize    *float64
	Last       *float64
	Volume24h  *float64
}

// Mid returns (bid+ask)/2, falling back to Last, then zero.
func (t MarketTick) Mid() float64 {
	if t.Bid != nil && t.Ask != nil {
		return (*t.Bid + *t.Ask) / 2
	}
	if t.Last != nil {
		return *t.Last
	}
	return 0
}

// Strategy is the callback contract every strategy implements. The
// Coordinator guarantees these callbacks are never invoked
// concurrently with themselves for a given strategy instance.
type Strategy interface {
	ID() string
	Initialize(ctx context.Context, sc *Context) error
	OnMarketTick(ctx context.Context, market ids.MarketID, tick MarketTick, sc *Context) error
	OnFill(ctx context.Context, fill *oms.Fill, sc *Context) error
	OnCancel(ctx context.Context, orderID ids.OrderID, sc *Context) error
	OnTimer(ctx context.Context, sc *Context) error
	Shutdown(ctx context.Context, sc *Context) error
}
