package oms

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/trading-backend/internal/ids"
)

func validOrder() *Order {
	price := decimal.NewFromInt(100)
	return &Order{
		Venue:  ids.VenueID("polymarket"),
		Market: ids.MarketID("BTC-USD"),
		Side:   SideBuy,
		Type:   TypeLimit,
		Price:  &price,
		Size:   decimal.NewFromInt(1),
	}
}

func TestValidator_AcceptsWellFormedLimitOrder(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	assert.NoError(t, v.Validate(validOrder()))
}

func TestValidator_RejectsMissingVenue(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	order := validOrder()
	order.Venue = ""
	require.Error(t, v.Validate(order))
}

func TestValidator_RejectsNonPositiveSize(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	order := validOrder()
	order.Size = decimal.Zero
	require.Error(t, v.Validate(order))
}

func TestValidator_RejectsLimitOrderWithoutPrice(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	order := validOrder()
	order.Price = nil
	require.Error(t, v.Validate(order))
}

func TestValidator_RejectsMarketOrderWithPrice(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	order := validOrder()
	order.Type = TypeMarket
	require.Error(t, v.Validate(order), "a market order must not carry a price")
}

func TestValidator_AcceptsMarketOrderWithoutPrice(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	order := validOrder()
	order.Type = TypeMarket
	order.Price = nil
	assert.NoError(t, v.Validate(order))
}

func TestValidator_RejectsSizeOutsideUpdatedBounds(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())
	order := validOrder()
	order.Size = decimal.NewFromInt(5)
	require.NoError(t, v.Validate(order))

	v.UpdateConfig(ValidatorConfig{
		MinSize:  decimal.NewFromInt(10),
		MaxSize:  decimal.NewFromInt(100),
		MinPrice: decimal.NewFromFloat(0.0001),
		MaxPrice: decimal.NewFromInt(1_000_000),
	})
	require.Error(t, v.Validate(order))
}
