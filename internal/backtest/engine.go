package backtest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/coordinator"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
)

// Config configures a backtest run.
type Config struct {
	InitialCapital   decimal.Decimal
	TimerEveryNTicks int // 0 disables the timer hook
}

// DefaultConfig returns a $100,000 run with a timer hook every 100 ticks.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   decimal.NewFromInt(100000),
		TimerEveryNTicks: 100,
	}
}

// Trade is a single simulated fill, recorded for the trade list and
// PnL accounting.
type Trade struct {
	StrategyID string
	OrderID    ids.OrderID
	Market     ids.MarketID
	Side       oms.OrderSide
	Price      decimal.Decimal
	Size       decimal.Decimal
	Fee        decimal.Decimal
	PnL        decimal.Decimal
	Timestamp  time.Time
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
}

// Result is the outcome of a backtest run, before Metrics() folds it
// into summary statistics.
type Result struct {
	Trades      []Trade
	EquityCurve []EquityPoint
}

// Engine drives a Coordinator from a historical tick stream, using a
// FillSimulator in place of a live VenueAdapter.
type Engine struct {
	logger      *zap.Logger
	coordinator *coordinator.Coordinator
	simulator   *FillSimulator
	config      Config
}

// New constructs a backtest Engine over an already-registered Coordinator.
func New(logger *zap.Logger, coord *coordinator.Coordinator, simulator *FillSimulator, config Config) *Engine {
	return &Engine{
		logger:      logger.Named("backtest"),
		coordinator: coord,
		simulator:   simulator,
		config:      config,
	}
}

// Run replays ticks in the order given (callers are responsible for
// chronological ordering) and returns the resulting trade list and
// equity curve.
func (e *Engine) Run(ctx context.Context, ticks []strategy.MarketTick) (*Result, error) {
	result := &Result{
		EquityCurve: make([]EquityPoint, 0, len(ticks)),
	}

	for i, tick := range ticks {
		before := e.coordinator.OpenOrdersByStrategy(tick.Market)

		if err := e.coordinator.RouteMarketTick(ctx, tick); err != nil {
			return result, err
		}

		after := e.coordinator.OpenOrdersByStrategy(tick.Market)
		newlyOpen := diffNewOrders(before, after)

		for strategyID, orders := range newlyOpen {
			for _, order := range orders {
				fill, ok := e.simulator.Simulate(order, tick)
				if !ok {
					continue
				}

				beforePnL := e.coordinator.RealizedPnL(strategyID, order.Market)
				order.FilledSize = order.FilledSize.Add(fill.Size)
				order.AvgFillPrice = &fill.Price
				if order.IsFilled() {
					order.Status = oms.StatusFilled
				} else {
					order.Status = oms.StatusPartiallyFilled
				}

				if err := e.coordinator.RouteFill(ctx, strategyID, order, fill); err != nil {
					e.logger.Warn("route_fill failed during backtest", zap.Error(err))
					continue
				}
				afterPnL := e.coordinator.RealizedPnL(strategyID, order.Market)

				result.Trades = append(result.Trades, Trade{
					StrategyID: strategyID,
					OrderID:    order.ID,
					Market:     order.Market,
					Side:       order.Side,
					Price:      fill.Price,
					Size:       fill.Size,
					Fee:        fill.Fee,
					PnL:        afterPnL.Sub(beforePnL),
					Timestamp:  time.Unix(0, tick.Timestamp),
				})
			}
		}

		realized, unrealized := e.coordinator.TotalPnL()
		result.EquityCurve = append(result.EquityCurve, EquityPoint{
			Timestamp: time.Unix(0, tick.Timestamp),
			Equity:    e.config.InitialCapital.Add(realized).Add(unrealized),
		})

		if e.config.TimerEveryNTicks > 0 && (i+1)%e.config.TimerEveryNTicks == 0 {
			if err := e.coordinator.OnTimerAll(ctx); err != nil {
				e.logger.Warn("on_timer_all reported an error during backtest", zap.Error(err))
			}
		}
	}

	return result, nil
}

func diffNewOrders(before, after map[string][]*oms.Order) map[string][]*oms.Order {
	seen := make(map[ids.OrderID]bool)
	for _, orders := range before {
		for _, o := range orders {
			seen[o.ID] = true
		}
	}

	out := make(map[string][]*oms.Order)
	for strategyID, orders := range after {
		var fresh []*oms.Order
		for _, o := range orders {
			if !seen[o.ID] {
				fresh = append(fresh, o)
			}
		}
		if len(fresh) > 0 {
			out[strategyID] = fresh
		}
	}
	return out
}
