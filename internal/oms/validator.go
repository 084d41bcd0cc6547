package oms

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/errs"
)

// ValidatorConfig holds the mutable bounds the Validator checks new
// orders against.
type ValidatorConfig struct {
	MinSize  decimal.Decimal
	MaxSize  decimal.Decimal
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
}

// DefaultValidatorConfig returns permissive-but-sane bounds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinSize:  decimal.NewFromFloat(0.0001),
		MaxSize:  decimal.NewFromInt(1_000_000),
		MinPrice: decimal.NewFromFloat(0.0001),
		MaxPrice: decimal.NewFromInt(1_000_000),
	}
}

// Validator performs stateless sanity checks at the boundary of the
// Execution Engine. It holds no order state of its own.
type Validator struct {
	config ValidatorConfig
}

// NewValidator constructs a Validator with the given bounds.
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// UpdateConfig swaps the bounds used by subsequent Validate calls.
func (v *Validator) UpdateConfig(config ValidatorConfig) {
	v.config = config
}

// Validate checks a proposed order against the configured bounds.
func (v *Validator) Validate(order *Order) error {
	if order.Venue == "" {
		return errs.NewValidationError("venue identifier is empty")
	}
	if order.Market == "" {
		return errs.NewValidationError("market identifier is empty")
	}
	if order.Size.LessThanOrEqual(decimal.Zero) {
		return errs.NewValidationError("size must be positive")
	}
	if order.Size.LessThan(v.config.MinSize) || order.Size.GreaterThan(v.config.MaxSize) {
		return errs.NewValidationError("size outside configured bounds")
	}

	switch order.Type {
	case TypeLimit, TypePostOnly:
		if order.Price == nil {
			return errs.NewValidationError("limit/post-only order requires a price")
		}
		if order.Price.LessThanOrEqual(decimal.Zero) {
			return errs.NewValidationError("price must be positive")
		}
		if order.Price.LessThan(v.config.MinPrice) || order.Price.GreaterThan(v.config.MaxPrice) {
			return errs.NewValidationError("price outside configured bounds")
		}
	case TypeMarket:
		if order.Price != nil {
			return errs.NewValidationError("market order must not carry a price")
		}
	default:
		return errs.NewValidationError("unknown order type")
	}

	return nil
}
