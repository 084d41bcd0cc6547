// Package venue defines the abstract VenueAdapter capability: the
// polymorphic boundary between the Execution Engine and any concrete
// venue binding (Polymarket, CEX, DEX).
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/ids"
	"github.com/atlas-desktop/trading-backend/internal/oms"
)

// OrderAck is the venue's acknowledgement of a submission.
type OrderAck struct {
	OrderID      ids.OrderID
	VenueOrderID string
	Status       oms.Status
	Timestamp    time.Time
	Message      string
}

// CancelAck is the venue's acknowledgement of a cancel request.
type CancelAck struct {
	OrderID      ids.OrderID
	VenueOrderID string
	Success      bool
	Timestamp    time.Time
	Message      string
}

// Adapter is the capability every venue binding exposes. Adapters are
// mutable (they carry an internal engine-id -> venue-id mapping) and
// require exclusive access per call: implementations MUST serialize
// their own mutation, typically behind a single mutex, so that
// place/cancel/modify/status/health against one adapter observe a
// total order.
type Adapter interface {
	VenueID() ids.VenueID

	PlaceOrder(ctx context.Context, order *oms.Order) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID ids.OrderID) (CancelAck, error)
	GetOrderStatus(ctx context.Context, orderID ids.OrderID) (oms.Status, error)
	GetOpenOrders(ctx context.Context) ([]*oms.Order, error)
	ModifyOrder(ctx context.Context, orderID ids.OrderID, newPrice, newSize *decimal.Decimal) (OrderAck, error)
	HealthCheck(ctx context.Context) bool
}
