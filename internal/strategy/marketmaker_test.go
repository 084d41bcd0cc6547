package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
	"github.com/atlas-desktop/trading-backend/internal/risk"
)

func floatPtr(v float64) *float64 { return &v }

func scenario5RiskEngine() *risk.Engine {
	market := ids.MarketID("BTC-USD")
	return risk.NewEngine(zap.NewNop(), []risk.Rule{
		risk.NewPositionLimitRule(&market, decimal.NewFromInt(500)),
		risk.NewInventoryLimitRule(decimal.NewFromInt(10000)),
	})
}

func TestMarketMaker_QuotesBothSidesAroundMid(t *testing.T) {
	market := ids.MarketID("BTC-USD")
	config := DefaultMarketMakerConfig()
	config.TargetSpreadBps = decimal.NewFromInt(20)
	config.QuoteSize = decimal.NewFromInt(50)
	config.MaxPosition = decimal.NewFromInt(500)

	mm := NewMarketMaker("mm-1", market, config, zap.NewNop())
	submitter := &fakeSubmitter{}
	sc := NewContext("mm-1", zap.NewNop(), scenario5RiskEngine(), submitter)
	require.NoError(t, mm.Initialize(context.Background(), sc))

	tick := MarketTick{Market: market, Timestamp: 1, Last: floatPtr(100)}
	require.NoError(t, mm.OnMarketTick(context.Background(), market, tick, sc))

	require.Len(t, submitter.submitted, 2, "a neutral position should quote both sides")

	var buy, sell *oms.Order
	for _, o := range submitter.submitted {
		switch o.Side {
		case oms.SideBuy:
			buy = o
		case oms.SideSell:
			sell = o
		}
	}
	require.NotNil(t, buy)
	require.NotNil(t, sell)

	assert.True(t, buy.Price.LessThan(decimal.NewFromInt(100)))
	assert.True(t, sell.Price.GreaterThan(decimal.NewFromInt(100)))
	assert.True(t, buy.Size.Equal(decimal.NewFromInt(50)))
	assert.True(t, sell.Size.Equal(decimal.NewFromInt(50)))

	spread := sell.Price.Sub(*buy.Price)
	assert.InDelta(t, 0.2, spread.InexactFloat64(), 0.001, "20bps of mid=100 is a 0.2-wide spread")
}

func TestMarketMaker_StopsQuotingAtPositionLimit(t *testing.T) {
	market := ids.MarketID("BTC-USD")
	config := DefaultMarketMakerConfig()
	config.MaxPosition = decimal.NewFromInt(500)

	mm := NewMarketMaker("mm-1", market, config, zap.NewNop())
	submitter := &fakeSubmitter{}
	sc := NewContext("mm-1", zap.NewNop(), scenario5RiskEngine(), submitter)
	sc.UpdatePosition(market, decimal.NewFromInt(500), decimal.NewFromInt(100))

	tick := MarketTick{Market: market, Timestamp: 1, Last: floatPtr(100)}
	require.NoError(t, mm.OnMarketTick(context.Background(), market, tick, sc))

	assert.Empty(t, submitter.submitted, "at the position limit the strategy must not requote")
}

func TestMarketMaker_RiskRejectionIsSwallowedNotPropagated(t *testing.T) {
	market := ids.MarketID("BTC-USD")
	config := DefaultMarketMakerConfig()
	config.QuoteSize = decimal.NewFromInt(50)

	tightEngine := risk.NewEngine(zap.NewNop(), []risk.Rule{
		risk.NewPositionLimitRule(&market, decimal.NewFromInt(10)), // smaller than quote size
	})

	mm := NewMarketMaker("mm-1", market, config, zap.NewNop())
	submitter := &fakeSubmitter{}
	sc := NewContext("mm-1", zap.NewNop(), tightEngine, submitter)

	tick := MarketTick{Market: market, Timestamp: 1, Last: floatPtr(100)}
	err := mm.OnMarketTick(context.Background(), market, tick, sc)
	require.NoError(t, err, "a risk-rejected quote must not fail the tick")
	assert.Empty(t, submitter.submitted)
}

func TestMarketMaker_RequoteCancelsPriorOrders(t *testing.T) {
	market := ids.MarketID("BTC-USD")
	config := DefaultMarketMakerConfig()
	config.MinQuoteInterval = 0

	mm := NewMarketMaker("mm-1", market, config, zap.NewNop())
	submitter := &fakeSubmitter{}
	sc := NewContext("mm-1", zap.NewNop(), scenario5RiskEngine(), submitter)

	tick := MarketTick{Market: market, Timestamp: 1, Last: floatPtr(100)}
	require.NoError(t, mm.OnMarketTick(context.Background(), market, tick, sc))
	require.Len(t, submitter.submitted, 2)

	tick2 := MarketTick{Market: market, Timestamp: 2, Last: floatPtr(100.05)}
	require.NoError(t, mm.OnMarketTick(context.Background(), market, tick2, sc))

	assert.Len(t, submitter.cancelled, 2, "requoting must cancel both resting quotes first")
}

func TestMarketMaker_IgnoresTicksForOtherMarkets(t *testing.T) {
	market := ids.MarketID("BTC-USD")
	other := ids.MarketID("ETH-USD")
	mm := NewMarketMaker("mm-1", market, DefaultMarketMakerConfig(), zap.NewNop())
	submitter := &fakeSubmitter{}
	sc := NewContext("mm-1", zap.NewNop(), nil, submitter)

	tick := MarketTick{Market: other, Timestamp: 1, Last: floatPtr(100)}
	require.NoError(t, mm.OnMarketTick(context.Background(), other, tick, sc))
	assert.Empty(t, submitter.submitted)
}
