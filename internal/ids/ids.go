// Package ids defines the opaque identifier types shared across the
// execution stack: order handles and the short venue/market codes
// orders and policies are scoped by.
package ids

import "github.com/google/uuid"

// OrderID is an opaque, universally-unique handle assigned at order
// creation. Comparable and safe to use as a map key.
type OrderID string

// NewOrderID generates a fresh 128-bit order handle.
func NewOrderID() OrderID {
	return OrderID(uuid.New().String())
}

func (id OrderID) String() string { return string(id) }

// IsZero reports whether the id was never assigned.
func (id OrderID) IsZero() bool { return id == "" }

// VenueID is a short, case-sensitive code identifying a trading venue
// (e.g. "polymarket", "binance").
type VenueID string

func (v VenueID) String() string { return string(v) }

// MarketID is a short, case-sensitive code identifying a tradable
// market within a venue (e.g. a condition token id, a symbol).
type MarketID string

func (m MarketID) String() string { return string(m) }
