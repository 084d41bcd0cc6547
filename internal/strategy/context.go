package strategy

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/venue"
)

// epsilon is the tolerance below which a position is considered flat.
var epsilon = decimal.New(1, -9)

// OrderSubmitter is the subset of the Execution Engine a
// StrategyContext needs to place orders. Kept as an interface so this
// package never imports internal/execution, avoiding a cycle (the
// Coordinator, which does import both, wires the concrete Engine in).
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order *oms.Order) (venue.OrderAck, error)
	CancelOrder(ctx context.Context, orderID ids.OrderID) (venue.CancelAck, error)
}

// Position is a strategy-local view of a market holding. UpdatePosition
// maintains it; UpdateMarkPrice changes only its mark price and
// unrealized PnL.
type Position struct {
	Market        ids.MarketID
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// Context is the per-strategy mutable bundle the Coordinator hands to
// every callback: positions, open orders, string parameters with
// typed accessors, and a metrics buffer.
type Context struct {
	StrategyID string
	logger     *zap.Logger

	riskEngine *risk.Engine
	submitter  OrderSubmitter

	mu         sync.RWMutex
	positions  map[ids.MarketID]*Position
	openOrders map[ids.OrderID]*oms.Order
	parameters map[string]string
	metrics    []string
}

// NewContext constructs an empty StrategyContext.
func NewContext(strategyID string, logger *zap.Logger, riskEngine *risk.Engine, submitter OrderSubmitter) *Context {
	return &Context{
		StrategyID: strategyID,
		logger:     logger.Named("strategy." + strategyID),
		riskEngine: riskEngine,
		submitter:  submitter,
		positions:  make(map[ids.MarketID]*Position),
		openOrders: make(map[ids.OrderID]*oms.Order),
		parameters: make(map[string]string),
	}
}

// SetParameter stores a string parameter.
func (c *Context) SetParameter(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parameters[key] = value
}

// Parameter returns a raw string parameter.
func (c *Context) Parameter(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.parameters[key]
	return v, ok
}

// ParameterDecimal parses a parameter as a decimal, returning def if
// absent or unparseable.
func (c *Context) ParameterDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v, ok := c.Parameter(key)
	if !ok {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return def
	}
	return d
}

// Position returns a copy of the strategy's current holding in market,
// or the zero position if none exists yet.
func (c *Context) Position(market ids.MarketID) Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.positions[market]; ok {
		return *p
	}
	return Position{Market: market}
}

// Positions returns a snapshot of every market the strategy currently
// holds or has ever held a position in.
func (c *Context) Positions() map[ids.MarketID]Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ids.MarketID]Position, len(c.positions))
	for k, p := range c.positions {
		out[k] = *p
	}
	return out
}

// OpenOrders returns a snapshot of the strategy's open orders.
func (c *Context) OpenOrders() []*oms.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*oms.Order, 0, len(c.openOrders))
	for _, o := range c.openOrders {
		out = append(out, o.Clone())
	}
	return out
}

// RecordMetric appends a free-form metric sample to the strategy's
// buffer; the buffer is single-owner (this Context), matching the
// spec's concurrency model for strategy-local buffers.
func (c *Context) RecordMetric(sample string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, sample)
}

// Metrics returns a copy of the recorded metric samples.
func (c *Context) Metrics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.metrics...)
}

// SubmitOrder performs the context's own position lookup, builds a
// RiskContext, evaluates risk, and on acceptance submits to the
// engine, storing the returned id in the open-orders map.
func (c *Context) SubmitOrder(ctx context.Context, order *oms.Order) (ids.OrderID, error) {
	current := c.Position(order.Market)

	proposedSize := order.Size
	if order.Side == oms.SideSell {
		proposedSize = proposedSize.Neg()
	}

	if c.riskEngine != nil {
		riskCtx := risk.Context{
			MarketID:          order.Market,
			CurrentPosition:   current.Size,
			ProposedSize:      proposedSize,
			InventoryValueUSD: current.Size.Abs().Mul(current.MarkPrice),
		}
		decision := c.riskEngine.Evaluate(riskCtx)
		if !decision.Allowed {
			return "", &errs.RiskRejectedError{Policies: decision.ViolatedPolicies}
		}
	}

	ack, err := c.submitter.SubmitOrder(ctx, order)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.openOrders[ack.OrderID] = order
	c.mu.Unlock()

	return ack.OrderID, nil
}

// CancelOrder requests cancellation of orderID through the engine.
// The open-orders map is updated on the coordinator's RouteCancel
// confirmation, not here, matching SubmitOrder's own division of
// labor between submission and ack-driven bookkeeping.
func (c *Context) CancelOrder(ctx context.Context, orderID ids.OrderID) error {
	_, err := c.submitter.CancelOrder(ctx, orderID)
	return err
}

// RemoveOpenOrder drops an order from the open-orders map, typically
// on fill-to-terminal or cancel confirmation.
func (c *Context) RemoveOpenOrder(orderID ids.OrderID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.openOrders, orderID)
}

// UpdatePosition is the ONLY way a position is opened or resized: it
// recomputes the volume-weighted entry price and refreshes unrealized
// PnL = size * (markPrice - entryPrice). When the resulting size is
// within epsilon of zero, entry price resets to zero.
func (c *Context) UpdatePosition(market ids.MarketID, sizeDelta, fillPrice decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.positions[market]
	if !ok {
		p = &Position{Market: market}
		c.positions[market] = p
	}

	newSize := p.Size.Add(sizeDelta)

	if newSize.Abs().LessThan(epsilon) {
		p.Size = decimal.Zero
		p.EntryPrice = decimal.Zero
	} else if p.Size.Sign() == 0 || p.Size.Sign() == sizeDelta.Sign() {
		// Opening or adding to a position: volume-weighted entry price.
		oldValue := p.EntryPrice.Mul(p.Size.Abs())
		addedValue := fillPrice.Mul(sizeDelta.Abs())
		p.EntryPrice = oldValue.Add(addedValue).Div(newSize.Abs())
		p.Size = newSize
	} else {
		// Reducing (or flipping) a position: entry price is unchanged
		// while reducing; realized PnL accrues on the reduced portion.
		reduced := decimal.Min(sizeDelta.Abs(), p.Size.Abs())
		pnlSign := decimal.NewFromInt(1)
		if p.Size.Sign() < 0 {
			pnlSign = decimal.NewFromInt(-1)
		}
		p.RealizedPnL = p.RealizedPnL.Add(pnlSign.Mul(reduced).Mul(fillPrice.Sub(p.EntryPrice)))
		p.Size = newSize
		if p.Size.Sign() != 0 && p.Size.Sign() != (p.Size.Sub(sizeDelta)).Sign() {
			// flipped sides: new leg's entry price is this fill's price
			p.EntryPrice = fillPrice
		}
	}

	if p.MarkPrice.IsZero() {
		p.MarkPrice = fillPrice
	}
	p.UnrealizedPnL = p.Size.Mul(p.MarkPrice.Sub(p.EntryPrice))
}

// UpdateMarkPrice refreshes the mark price used for unrealized PnL,
// typically called from OnMarketTick.
func (c *Context) UpdateMarkPrice(market ids.MarketID, markPrice decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[market]
	if !ok {
		return
	}
	p.MarkPrice = markPrice
	p.UnrealizedPnL = p.Size.Mul(p.MarkPrice.Sub(p.EntryPrice))
}
