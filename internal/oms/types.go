// Package oms implements the Order Tracker: the authoritative
// in-memory store of orders and fills, plus the stateless order
// validator that gates the Execution Engine's request path.
package oms

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/ids"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType is the order's execution style.
type OrderType string

const (
	TypeLimit    OrderType = "limit"
	TypeMarket   OrderType = "market"
	TypePostOnly OrderType = "post_only"
)

// TimeInForce is the lifetime policy of a live order.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// Status is a node in the order lifecycle state machine.
type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitting      Status = "submitting"
	StatusWorking         Status = "working"
	StatusPartiallyFilled Status = "partially_filled"
	StatusCancelling      Status = "cancelling"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// terminal is the absorbing-state set; no transition leaves it.
var terminal = map[Status]bool{
	StatusFilled:    true,
	StatusCancelled: true,
	StatusRejected:  true,
	StatusExpired:   true,
}

// IsTerminal reports whether s is one of the absorbing states.
func (s Status) IsTerminal() bool { return terminal[s] }

// IsActive reports whether s is Working or PartiallyFilled.
func (s Status) IsActive() bool { return s == StatusWorking || s == StatusPartiallyFilled }

// fillEpsilon is the tolerance used for "filled_size == size" comparisons.
var fillEpsilon = decimal.New(1, -9)

// Order is the OMS's authoritative record of a single order.
//
// Invariants: 0 <= FilledSize <= Size; Status == Filled iff
// |FilledSize - Size| < epsilon; Limit/PostOnly require Price; Market
// forbids Price.
type Order struct {
	ID            ids.OrderID     `json:"id"`
	Venue         ids.VenueID     `json:"venue"`
	Market        ids.MarketID    `json:"market"`
	Side          OrderSide       `json:"side"`
	Type          OrderType       `json:"order_type"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Size          decimal.Decimal `json:"size"`
	TimeInForce   TimeInForce     `json:"time_in_force"`
	ClientOrderID string          `json:"client_order_id"`
	Status        Status          `json:"status"`
	FilledSize    decimal.Decimal `json:"filled_size"`
	AvgFillPrice  *decimal.Decimal `json:"avg_fill_price,omitempty"`
	VenueOrderID  string          `json:"venue_order_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a deep-enough copy safe to hand to a caller outside
// the tracker's lock.
func (o *Order) Clone() *Order {
	cp := *o
	if o.Price != nil {
		p := *o.Price
		cp.Price = &p
	}
	if o.AvgFillPrice != nil {
		a := *o.AvgFillPrice
		cp.AvgFillPrice = &a
	}
	return &cp
}

// IsFilled reports whether the order has reached its filled target
// within tolerance.
func (o *Order) IsFilled() bool {
	return o.Size.Sub(o.FilledSize).Abs().LessThan(fillEpsilon)
}

// Liquidity is the maker/taker role of a fill.
type Liquidity string

const (
	LiquidityMaker Liquidity = "maker"
	LiquidityTaker Liquidity = "taker"
	LiquidityNone  Liquidity = ""
)

// Fill is a single execution against an order.
type Fill struct {
	FillID       string          `json:"fill_id"`
	OrderID      ids.OrderID     `json:"order_id"`
	VenueOrderID string          `json:"venue_order_id,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Fee          decimal.Decimal `json:"fee"`
	FeeCurrency  string          `json:"fee_currency"`
	Timestamp    time.Time       `json:"timestamp"`
	Liquidity    Liquidity       `json:"liquidity"`
}

// Position is the per-market, per-context holding.
//
// Invariant: Size == 0 implies EntryPrice == 0. Updated only by fill
// ingestion.
type Position struct {
	Market        ids.MarketID    `json:"market"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ValueUSD is |size| * mark price.
func (p *Position) ValueUSD() decimal.Decimal {
	return p.Size.Abs().Mul(p.MarkPrice)
}

func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}
