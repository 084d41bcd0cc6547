package strategy

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
)

// CrossMarketArbConfig configures a CrossMarketArb.
type CrossMarketArbConfig struct {
	// MinSpreadBps is the minimum price discrepancy, in basis points
	// relative to the two markets' midpoint, required to trade.
	MinSpreadBps decimal.Decimal
	// Size is the quantity traded on each leg.
	Size decimal.Decimal
	// MaxPosition caps the absolute position this strategy will carry
	// in either market.
	MaxPosition decimal.Decimal
}

// DefaultCrossMarketArbConfig mirrors the original strategy's defaults.
func DefaultCrossMarketArbConfig() CrossMarketArbConfig {
	return CrossMarketArbConfig{
		MinSpreadBps: decimal.NewFromInt(10),
		Size:         decimal.NewFromInt(50),
		MaxPosition:  decimal.NewFromInt(500),
	}
}

// CrossMarketArb watches two markets for a price discrepancy and, once
// it exceeds MinSpreadBps, buys the cheaper market and sells the
// richer one in equal size.
type CrossMarketArb struct {
	id      string
	marketA ids.MarketID
	marketB ids.MarketID
	config  CrossMarketArbConfig
	logger  *zap.Logger

	lastPrices map[ids.MarketID]decimal.Decimal
}

// NewCrossMarketArb constructs a CrossMarketArb watching marketA and marketB.
func NewCrossMarketArb(id string, marketA, marketB ids.MarketID, config CrossMarketArbConfig, logger *zap.Logger) *CrossMarketArb {
	return &CrossMarketArb{
		id:         id,
		marketA:    marketA,
		marketB:    marketB,
		config:     config,
		logger:     logger.Named("strategy." + id),
		lastPrices: make(map[ids.MarketID]decimal.Decimal),
	}
}

func (a *CrossMarketArb) ID() string { return a.id }

// spreadBps is the absolute difference between priceA and priceB, in
// basis points relative to their midpoint, or zero for a non-positive
// midpoint.
func spreadBps(priceA, priceB decimal.Decimal) decimal.Decimal {
	mid := priceA.Add(priceB).Div(decimal.NewFromInt(2))
	if mid.LessThan(decimal.New(1, -8)) {
		return decimal.Zero
	}
	return priceA.Sub(priceB).Abs().Div(mid).Mul(decimal.NewFromInt(10000))
}

func (a *CrossMarketArb) Initialize(ctx context.Context, sc *Context) error {
	a.logger.Info("cross-market arbitrage strategy initialized",
		zap.String("market_a", string(a.marketA)),
		zap.String("market_b", string(a.marketB)),
	)
	return nil
}

func (a *CrossMarketArb) OnMarketTick(ctx context.Context, market ids.MarketID, tick MarketTick, sc *Context) error {
	if market != a.marketA && market != a.marketB {
		return nil
	}

	price := decimal.NewFromFloat(tick.Mid())
	if price.LessThan(decimal.New(1, -8)) {
		return nil
	}
	a.lastPrices[market] = price

	priceA, ok := a.lastPrices[a.marketA]
	if !ok {
		return nil
	}
	priceB, ok := a.lastPrices[a.marketB]
	if !ok {
		return nil
	}

	spread := spreadBps(priceA, priceB)
	sc.RecordMetric(metricValueSample("strategy.arb_spread_bps", a.marketA, spread.InexactFloat64()))

	if spread.LessThan(a.config.MinSpreadBps) {
		return nil
	}

	buyMarket, sellMarket, buyPrice, sellPrice := a.marketB, a.marketA, priceB, priceA
	if priceA.LessThan(priceB) {
		buyMarket, sellMarket, buyPrice, sellPrice = a.marketA, a.marketB, priceA, priceB
	}

	a.logger.Info("arbitrage opportunity detected",
		zap.String("spread_bps", spread.String()),
		zap.String("buy_market", string(buyMarket)),
		zap.String("sell_market", string(sellMarket)),
	)
	sc.RecordMetric(metricSample("strategy.signal_generated", buyMarket, map[string]string{"signal": "arbitrage"}))

	return a.executeArbitrage(ctx, sc, buyMarket, sellMarket, buyPrice, sellPrice)
}

func (a *CrossMarketArb) executeArbitrage(ctx context.Context, sc *Context, buyMarket, sellMarket ids.MarketID, buyPrice, sellPrice decimal.Decimal) error {
	buyPosition := sc.Position(buyMarket).Size
	sellPosition := sc.Position(sellMarket).Size

	if buyPosition.Add(a.config.Size).GreaterThan(a.config.MaxPosition) {
		a.logger.Warn("buy position limit would be exceeded", zap.String("market", string(buyMarket)), zap.String("position", buyPosition.String()))
		return nil
	}
	if sellPosition.Sub(a.config.Size).LessThan(a.config.MaxPosition.Neg()) {
		a.logger.Warn("sell position limit would be exceeded", zap.String("market", string(sellMarket)), zap.String("position", sellPosition.String()))
		return nil
	}

	buyOrder := &oms.Order{
		ID:          ids.NewOrderID(),
		Venue:       "polymarket",
		Market:      buyMarket,
		Side:        oms.SideBuy,
		Type:        oms.TypeLimit,
		Price:       &buyPrice,
		Size:        a.config.Size,
		TimeInForce: oms.TIFIOC,
	}
	if _, err := sc.SubmitOrder(ctx, buyOrder); err != nil {
		a.logger.Error("buy leg failed", zap.String("market", string(buyMarket)), zap.Error(err))
		return err
	}
	a.logger.Info("buy leg submitted", zap.String("market", string(buyMarket)), zap.String("price", buyPrice.String()))
	sc.RecordMetric(metricSample("strategy.order_placed", buyMarket, map[string]string{"side": "buy"}))

	sellOrder := &oms.Order{
		ID:          ids.NewOrderID(),
		Venue:       "polymarket",
		Market:      sellMarket,
		Side:        oms.SideSell,
		Type:        oms.TypeLimit,
		Price:       &sellPrice,
		Size:        a.config.Size,
		TimeInForce: oms.TIFIOC,
	}
	if _, err := sc.SubmitOrder(ctx, sellOrder); err != nil {
		a.logger.Error("sell leg failed", zap.String("market", string(sellMarket)), zap.Error(err))
		return err
	}
	a.logger.Info("sell leg submitted", zap.String("market", string(sellMarket)), zap.String("price", sellPrice.String()))
	sc.RecordMetric(metricSample("strategy.order_placed", sellMarket, map[string]string{"side": "sell"}))

	return nil
}

func (a *CrossMarketArb) OnFill(ctx context.Context, fill *oms.Fill, sc *Context) error {
	for _, market := range [2]ids.MarketID{a.marketA, a.marketB} {
		pos := sc.Position(market)
		sc.RecordMetric(metricSample("strategy.order_filled", market, nil))
		sc.RecordMetric(metricValueSample("strategy.pnl_unrealized", market, pos.UnrealizedPnL.InexactFloat64()))
	}

	a.logger.Info("fill received", zap.String("price", fill.Price.String()), zap.String("size", fill.Size.String()))
	return nil
}

func (a *CrossMarketArb) OnCancel(ctx context.Context, orderID ids.OrderID, sc *Context) error {
	a.logger.Debug("order cancelled", zap.String("order_id", string(orderID)))
	return nil
}

func (a *CrossMarketArb) OnTimer(ctx context.Context, sc *Context) error {
	for _, market := range [2]ids.MarketID{a.marketA, a.marketB} {
		pos := sc.Position(market)
		sc.RecordMetric(metricValueSample("strategy.pnl_unrealized", market, pos.UnrealizedPnL.InexactFloat64()))
		sc.RecordMetric(metricValueSample("strategy.position_size", market, pos.Size.InexactFloat64()))
	}
	return nil
}

func (a *CrossMarketArb) Shutdown(ctx context.Context, sc *Context) error {
	for _, open := range sc.OpenOrders() {
		if err := sc.CancelOrder(ctx, open.ID); err != nil {
			a.logger.Warn("failed to cancel order on shutdown", zap.String("order_id", string(open.ID)), zap.Error(err))
		}
	}
	a.logger.Info("cross-market arbitrage strategy shutdown")
	return nil
}
