// Package coordinator implements the Strategy Coordinator: strategy
// registration, market-tick/fill/cancel/timer routing, and cross-market
// exposure aggregation across every registered strategy.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
	"github.com/atlas-desktop/trading-backend/internal/workers"
)

// registration bundles a live strategy with its own serialized
// dispatch pool and context.
type registration struct {
	strat   strategy.Strategy
	sc      *strategy.Context
	pool    *workers.Pool
	markets map[ids.MarketID]struct{}
}

// Coordinator fans market ticks, fills, cancels, and timer events out
// to every registered strategy, in registration order, aborting a
// given tick's fan-out on the first strategy error (callers that want
// best-effort fan-out can wrap Strategy implementations to swallow
// their own errors).
//
// Each strategy gets its own single-worker pool: callbacks for a given
// strategy are never invoked concurrently with themselves, but
// different strategies' callbacks run independently of one another.
type Coordinator struct {
	logger *zap.Logger

	riskEngine *risk.Engine
	submitter  strategy.OrderSubmitter

	mu    sync.RWMutex
	order []string // registration order, for deterministic fan-out
	regs  map[string]*registration
}

// New constructs a Coordinator.
func New(logger *zap.Logger, riskEngine *risk.Engine, submitter strategy.OrderSubmitter) *Coordinator {
	return &Coordinator{
		logger:     logger.Named("coordinator"),
		riskEngine: riskEngine,
		submitter:  submitter,
		regs:       make(map[string]*registration),
	}
}

// RegisterStrategy initializes a strategy, gives it its own serialized
// dispatch pool and context, and subscribes it to the given markets.
func (c *Coordinator) RegisterStrategy(ctx context.Context, strat strategy.Strategy, markets []ids.MarketID) error {
	id := strat.ID()

	c.mu.Lock()
	if _, exists := c.regs[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: strategy %q already registered", id)
	}
	c.mu.Unlock()

	sc := strategy.NewContext(id, c.logger, c.riskEngine, c.submitter)

	poolCfg := workers.DefaultPoolConfig("strategy." + id)
	pool := workers.NewPool(c.logger, poolCfg)
	pool.Start()

	reg := &registration{
		strat:   strat,
		sc:      sc,
		pool:    pool,
		markets: make(map[ids.MarketID]struct{}, len(markets)),
	}
	for _, m := range markets {
		reg.markets[m] = struct{}{}
	}

	if err := strat.Initialize(ctx, sc); err != nil {
		pool.Stop()
		return fmt.Errorf("coordinator: initialize %q: %w", id, err)
	}

	c.mu.Lock()
	c.regs[id] = reg
	c.order = append(c.order, id)
	c.mu.Unlock()

	return nil
}

// UnregisterStrategy shuts the strategy down and removes it from the
// dispatch index.
func (c *Coordinator) UnregisterStrategy(ctx context.Context, id string) error {
	c.mu.Lock()
	reg, ok := c.regs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: strategy %q not registered", id)
	}
	delete(c.regs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	err := reg.strat.Shutdown(ctx, reg.sc)
	if stopErr := reg.pool.Stop(); stopErr != nil {
		c.logger.Warn("pool stop failed during unregister", zap.String("strategy_id", id), zap.Error(stopErr))
	}
	return err
}

// snapshot returns registrations subscribed to market, in registration order.
func (c *Coordinator) snapshot(market ids.MarketID, requireMarket bool) []*registration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*registration, 0, len(c.order))
	for _, id := range c.order {
		reg := c.regs[id]
		if requireMarket {
			if _, ok := reg.markets[market]; !ok {
				continue
			}
		}
		out = append(out, reg)
	}
	return out
}

// RouteMarketTick fans a tick out to every strategy subscribed to its
// market, in registration order, aborting on the first error.
func (c *Coordinator) RouteMarketTick(ctx context.Context, tick strategy.MarketTick) error {
	for _, reg := range c.snapshot(tick.Market, true) {
		reg.sc.UpdateMarkPrice(tick.Market, decimal.NewFromFloat(tick.Mid()))

		reg := reg
		err := reg.pool.SubmitWait(workers.TaskFunc(func() error {
			return reg.strat.OnMarketTick(ctx, tick.Market, tick, reg.sc)
		}))
		if err != nil {
			return fmt.Errorf("coordinator: on_market_tick %q: %w", reg.strat.ID(), err)
		}
	}
	return nil
}

// RouteFill dispatches a fill directly to the owning strategy (not a
// fan-out: a fill belongs to exactly one strategy's open order). order
// is the fill's parent order, supplied by the caller since a Fill
// record alone carries no market/side.
func (c *Coordinator) RouteFill(ctx context.Context, strategyID string, order *oms.Order, fill *oms.Fill) error {
	c.mu.RLock()
	reg, ok := c.regs[strategyID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("coordinator: strategy %q not registered", strategyID)
	}

	delta := fill.Size
	if order.Side == oms.SideSell {
		delta = delta.Neg()
	}
	reg.sc.UpdatePosition(order.Market, delta, fill.Price)
	if order.IsFilled() {
		reg.sc.RemoveOpenOrder(fill.OrderID)
	}

	return reg.pool.SubmitWait(workers.TaskFunc(func() error {
		return reg.strat.OnFill(ctx, fill, reg.sc)
	}))
}

// RouteCancel dispatches a cancel confirmation directly to the owning strategy.
func (c *Coordinator) RouteCancel(ctx context.Context, strategyID string, orderID ids.OrderID) error {
	c.mu.RLock()
	reg, ok := c.regs[strategyID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("coordinator: strategy %q not registered", strategyID)
	}

	reg.sc.RemoveOpenOrder(orderID)

	return reg.pool.SubmitWait(workers.TaskFunc(func() error {
		return reg.strat.OnCancel(ctx, orderID, reg.sc)
	}))
}

// OnTimerAll invokes OnTimer on every registered strategy, in
// registration order, continuing past individual failures and
// returning the first error encountered (if any) after all have run.
func (c *Coordinator) OnTimerAll(ctx context.Context) error {
	var firstErr error
	for _, reg := range c.snapshot("", false) {
		reg := reg
		err := reg.pool.SubmitWait(workers.TaskFunc(func() error {
			return reg.strat.OnTimer(ctx, reg.sc)
		}))
		if err != nil {
			c.logger.Warn("on_timer failed", zap.String("strategy_id", reg.strat.ID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// AggregateExposure sums |size| * mark_price across every registered
// strategy's position in market, giving the cross-strategy exposure
// the declarative risk engine's InventoryLimit rule needs but no
// single strategy's own context can see on its own.
func (c *Coordinator) AggregateExposure(market ids.MarketID) decimal.Decimal {
	total := decimal.Zero
	for _, reg := range c.snapshot(market, true) {
		p := reg.sc.Position(market)
		total = total.Add(p.Size.Abs().Mul(p.MarkPrice))
	}
	return total
}

// OpenOrdersByStrategy returns each strategy's currently open orders
// in market, keyed by strategy id — used by the Backtest Engine to
// find newly-opened orders to feed through the Fill Simulator.
func (c *Coordinator) OpenOrdersByStrategy(market ids.MarketID) map[string][]*oms.Order {
	out := make(map[string][]*oms.Order)
	for _, reg := range c.snapshot(market, true) {
		var filtered []*oms.Order
		for _, o := range reg.sc.OpenOrders() {
			if o.Market == market {
				filtered = append(filtered, o)
			}
		}
		if len(filtered) > 0 {
			out[reg.strat.ID()] = filtered
		}
	}
	return out
}

// RealizedPnL returns a strategy's realized PnL in market, or zero if
// the strategy holds no recorded position there.
func (c *Coordinator) RealizedPnL(strategyID string, market ids.MarketID) decimal.Decimal {
	c.mu.RLock()
	reg, ok := c.regs[strategyID]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	return reg.sc.Position(market).RealizedPnL
}

// TotalPnL sums realized and unrealized PnL across every registered
// strategy and every market it has a position in, the aggregate the
// Backtest Engine samples into its equity curve.
func (c *Coordinator) TotalPnL() (realized, unrealized decimal.Decimal) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	realized, unrealized = decimal.Zero, decimal.Zero
	for _, reg := range c.regs {
		for _, p := range reg.sc.Positions() {
			realized = realized.Add(p.RealizedPnL)
			unrealized = unrealized.Add(p.UnrealizedPnL)
		}
	}
	return realized, unrealized
}

// StrategyIDs returns the registered strategy ids in registration order.
func (c *Coordinator) StrategyIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}
