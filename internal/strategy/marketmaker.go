package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/errs"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
)

// MarketMakerConfig configures a MarketMaker.
type MarketMakerConfig struct {
	// TargetSpreadBps is the quoted spread around mid, in basis points.
	TargetSpreadBps decimal.Decimal
	// QuoteSize is the size placed on each side.
	QuoteSize decimal.Decimal
	// MaxPosition is the absolute position size this strategy will hold.
	MaxPosition decimal.Decimal
	// InventoryTarget is the position the strategy considers neutral.
	InventoryTarget decimal.Decimal
	// SkewFactor scales how far inventory imbalance widens/shifts the quote.
	SkewFactor decimal.Decimal
	// MinQuoteInterval is the minimum tick-timestamp gap between requotes.
	MinQuoteInterval time.Duration
}

// DefaultMarketMakerConfig mirrors the original strategy's defaults.
func DefaultMarketMakerConfig() MarketMakerConfig {
	return MarketMakerConfig{
		TargetSpreadBps:  decimal.NewFromInt(20),
		QuoteSize:        decimal.NewFromInt(100),
		MaxPosition:      decimal.NewFromInt(1000),
		InventoryTarget:  decimal.Zero,
		SkewFactor:       decimal.NewFromFloat(0.5),
		MinQuoteInterval: 100 * time.Millisecond,
	}
}

// MarketMaker continuously quotes bid and ask prices around a single
// market's mid price, skewing the quote with current inventory to
// encourage mean reversion toward InventoryTarget.
type MarketMaker struct {
	id     string
	market ids.MarketID
	config MarketMakerConfig
	logger *zap.Logger

	lastQuoteTime int64 // tick timestamp (unix nanos) of the last requote
	quoted        bool
}

// NewMarketMaker constructs a MarketMaker quoting a single market.
func NewMarketMaker(id string, market ids.MarketID, config MarketMakerConfig, logger *zap.Logger) *MarketMaker {
	return &MarketMaker{
		id:     id,
		market: market,
		config: config,
		logger: logger.Named("strategy." + id),
	}
}

func (m *MarketMaker) ID() string { return m.id }

// inventorySkew is (position - target) / maxPosition, zero when
// maxPosition is effectively zero.
func (m *MarketMaker) inventorySkew(position decimal.Decimal) decimal.Decimal {
	if m.config.MaxPosition.LessThan(decimal.New(1, -8)) {
		return decimal.Zero
	}
	return position.Sub(m.config.InventoryTarget).Div(m.config.MaxPosition)
}

// quotes derives (bid, ask) from mid and the current position: when
// long, the ask narrows and the bid widens relative to the neutral
// quote (and vice versa when short), encouraging inventory to mean
// revert toward InventoryTarget.
func (m *MarketMaker) quotes(mid, position decimal.Decimal) (bid, ask decimal.Decimal) {
	baseSpread := mid.Mul(m.config.TargetSpreadBps).Div(decimal.NewFromInt(10000))
	skew := m.inventorySkew(position)

	spreadAdjustment := decimal.NewFromInt(1).Add(skew.Abs().Mul(m.config.SkewFactor))
	adjustedSpread := baseSpread.Mul(spreadAdjustment)

	half := decimal.NewFromFloat(0.5)
	skewShift := skew.Mul(adjustedSpread).Mul(half)

	bid = mid.Sub(adjustedSpread.Mul(half)).Sub(skewShift)
	ask = mid.Add(adjustedSpread.Mul(half)).Sub(skewShift)
	return bid, ask
}

// shouldRequote reports whether tickTime is at least MinQuoteInterval
// past the last requote. Requoting is gated on tick timestamps rather
// than the wall clock so backtests replaying historical ticks requote
// deterministically regardless of how fast they run.
func (m *MarketMaker) shouldRequote(tickTime int64) bool {
	if !m.quoted {
		return true
	}
	return time.Duration(tickTime-m.lastQuoteTime) >= m.config.MinQuoteInterval
}

func (m *MarketMaker) Initialize(ctx context.Context, sc *Context) error {
	m.logger.Info("market maker initialized",
		zap.String("market", string(m.market)),
		zap.String("target_spread_bps", m.config.TargetSpreadBps.String()),
	)
	return nil
}

func (m *MarketMaker) OnMarketTick(ctx context.Context, market ids.MarketID, tick MarketTick, sc *Context) error {
	if market != m.market {
		return nil
	}
	if !m.shouldRequote(tick.Timestamp) {
		return nil
	}

	position := sc.Position(market).Size
	if position.Abs().GreaterThanOrEqual(m.config.MaxPosition) {
		m.logger.Warn("position limit reached, not quoting",
			zap.String("position", position.String()),
			zap.String("max_position", m.config.MaxPosition.String()),
		)
		return nil
	}

	mid := decimal.NewFromFloat(tick.Mid())
	if mid.LessThan(decimal.New(1, -8)) {
		return nil
	}

	bid, ask := m.quotes(mid, position)

	for _, open := range sc.OpenOrders() {
		if open.Market != market {
			continue
		}
		if err := sc.CancelOrder(ctx, open.ID); err != nil {
			m.logger.Warn("failed to cancel resting quote", zap.String("order_id", string(open.ID)), zap.Error(err))
		}
	}

	canBuy := position.Add(m.config.QuoteSize).LessThanOrEqual(m.config.MaxPosition)
	canSell := position.Sub(m.config.QuoteSize).GreaterThanOrEqual(m.config.MaxPosition.Neg())

	if canBuy {
		if err := m.submitQuote(ctx, sc, oms.SideBuy, bid); err != nil {
			return err
		}
	}
	if canSell {
		if err := m.submitQuote(ctx, sc, oms.SideSell, ask); err != nil {
			return err
		}
	}

	m.lastQuoteTime = tick.Timestamp
	m.quoted = true
	return nil
}

func (m *MarketMaker) submitQuote(ctx context.Context, sc *Context, side oms.OrderSide, price decimal.Decimal) error {
	order := &oms.Order{
		ID:          ids.NewOrderID(),
		Venue:       "polymarket",
		Market:      m.market,
		Side:        side,
		Type:        oms.TypeLimit,
		Price:       &price,
		Size:        m.config.QuoteSize,
		TimeInForce: oms.TIFGTC,
	}

	_, err := sc.SubmitOrder(ctx, order)
	if err != nil {
		var rejected *errs.RiskRejectedError
		if errors.As(err, &rejected) {
			m.logger.Warn("quote rejected by risk engine",
				zap.String("side", string(side)),
				zap.Strings("policies", rejected.Policies),
			)
			return nil
		}
		return err
	}

	sc.RecordMetric(metricSample("strategy.order_placed", m.market, map[string]string{"side": string(side)}))
	return nil
}

func (m *MarketMaker) OnFill(ctx context.Context, fill *oms.Fill, sc *Context) error {
	sc.RecordMetric(metricSample("strategy.order_filled", m.market, nil))

	pos := sc.Position(m.market)
	sc.RecordMetric(metricValueSample("strategy.pnl_unrealized", pos.Market, pos.UnrealizedPnL.InexactFloat64()))
	sc.RecordMetric(metricValueSample("strategy.position_size", pos.Market, pos.Size.InexactFloat64()))

	m.logger.Info("fill received",
		zap.String("price", fill.Price.String()),
		zap.String("size", fill.Size.String()),
	)
	return nil
}

func (m *MarketMaker) OnCancel(ctx context.Context, orderID ids.OrderID, sc *Context) error {
	m.logger.Debug("order cancelled", zap.String("order_id", string(orderID)))
	return nil
}

func (m *MarketMaker) OnTimer(ctx context.Context, sc *Context) error {
	pos := sc.Position(m.market)
	sc.RecordMetric(metricValueSample("strategy.pnl_unrealized", m.market, pos.UnrealizedPnL.InexactFloat64()))
	return nil
}

func (m *MarketMaker) Shutdown(ctx context.Context, sc *Context) error {
	for _, open := range sc.OpenOrders() {
		if err := sc.CancelOrder(ctx, open.ID); err != nil {
			m.logger.Warn("failed to cancel order on shutdown", zap.String("order_id", string(open.ID)), zap.Error(err))
		}
	}
	m.logger.Info("market maker shutdown", zap.String("market", string(m.market)))
	return nil
}
