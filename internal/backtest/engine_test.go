package backtest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/coordinator"
	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/strategy"
	"github.com/atlas-desktop/trading-backend/internal/venue"
)

// passthroughSubmitter assigns the venue order id equal to the engine
// order id, mirroring what a real adapter ack would carry for a
// simulated single-fill venue.
type passthroughSubmitter struct{}

func (passthroughSubmitter) SubmitOrder(ctx context.Context, order *oms.Order) (venue.OrderAck, error) {
	return venue.OrderAck{OrderID: order.ID, Status: oms.StatusWorking}, nil
}

func (passthroughSubmitter) CancelOrder(ctx context.Context, orderID ids.OrderID) (venue.CancelAck, error) {
	return venue.CancelAck{OrderID: orderID, Success: true}, nil
}

// onceBuyer submits a single crossing buy limit order the first time it
// sees a tick, then goes quiet.
type onceBuyer struct {
	submitted bool
}

func (s *onceBuyer) ID() string { return "once-buyer" }

func (s *onceBuyer) Initialize(ctx context.Context, sc *strategy.Context) error { return nil }

func (s *onceBuyer) OnMarketTick(ctx context.Context, market ids.MarketID, tick strategy.MarketTick, sc *strategy.Context) error {
	if s.submitted || tick.Ask == nil {
		return nil
	}
	s.submitted = true
	price := decimal.NewFromFloat(*tick.Ask).Add(decimal.NewFromInt(1))
	_, err := sc.SubmitOrder(ctx, &oms.Order{
		ID:     ids.NewOrderID(),
		Market: market,
		Side:   oms.SideBuy,
		Type:   oms.TypeLimit,
		Price:  &price,
		Size:   decimal.NewFromInt(1),
	})
	return err
}

func (s *onceBuyer) OnFill(ctx context.Context, fill *oms.Fill, sc *strategy.Context) error { return nil }

func (s *onceBuyer) OnCancel(ctx context.Context, orderID ids.OrderID, sc *strategy.Context) error {
	return nil
}

func (s *onceBuyer) OnTimer(ctx context.Context, sc *strategy.Context) error { return nil }

func (s *onceBuyer) Shutdown(ctx context.Context, sc *strategy.Context) error { return nil }

func TestBacktestEngine_Run_ProducesFillAndEquityCurve(t *testing.T) {
	coord := coordinator.New(zap.NewNop(), nil, passthroughSubmitter{})
	market := ids.MarketID("BTC-USD")
	strat := &onceBuyer{}
	require.NoError(t, coord.RegisterStrategy(context.Background(), strat, []ids.MarketID{market}))
	defer coord.UnregisterStrategy(context.Background(), strat.ID())

	sim := NewFillSimulator(DefaultFillSimConfig(), 7)
	engine := New(zap.NewNop(), coord, sim, DefaultConfig())

	bid1, ask1 := 99.0, 100.0
	bid2, ask2 := 99.0, 100.0
	ticks := []strategy.MarketTick{
		{Market: market, Timestamp: 1, Bid: &bid1, Ask: &ask1},
		{Market: market, Timestamp: 2, Bid: &bid2, Ask: &ask2},
	}

	result, err := engine.Run(context.Background(), ticks)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1, "the crossing limit order should fill exactly once")
	assert.Equal(t, strat.ID(), result.Trades[0].StrategyID)
	assert.Len(t, result.EquityCurve, 2)

	metrics := Calculate(result, DefaultConfig().InitialCapital)
	assert.Equal(t, 1, metrics.TradeCount)
}

func TestBacktestEngine_Run_NoStrategiesProducesEmptyTrades(t *testing.T) {
	coord := coordinator.New(zap.NewNop(), nil, passthroughSubmitter{})
	sim := NewFillSimulator(DefaultFillSimConfig(), 1)
	engine := New(zap.NewNop(), coord, sim, DefaultConfig())

	bid, ask := 99.0, 100.0
	ticks := []strategy.MarketTick{
		{Market: ids.MarketID("BTC-USD"), Timestamp: 1, Bid: &bid, Ask: &ask},
	}

	result, err := engine.Run(context.Background(), ticks)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Len(t, result.EquityCurve, 1)
}
