package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Side is the contract side an order buys.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side of the contract.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OrderStatus mirrors the exchange's order lifecycle states.
type OrderStatus string

const (
	StatusResting   OrderStatus = "resting"
	StatusExecuted  OrderStatus = "executed"
	StatusCancelled OrderStatus = "cancelled"
	StatusExpired   OrderStatus = "expired"
	StatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether the status is final: terminal orders hold no
// exposure and are dropped from the local cache.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusCancelled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// Order is the local view of an exchange order. Orders are owned by the
// reconciler; the strategy only ever proposes DesiredOrders.
type Order struct {
	ID            string
	Ticker        string
	Side          Side
	Price         int // cents
	Quantity      int
	Remaining     int
	Status        OrderStatus
	ClientOrderID string
	PlacedAt      time.Time
	ExpiresAt     time.Time
}

// Active reports whether the order still holds exposure on the book.
func (o Order) Active() bool {
	return o.Remaining > 0 && !o.Status.Terminal()
}

// Cost returns the capital committed by the remaining quantity: notional plus
// the rounded-up exchange fee.
func (o Order) Cost() float64 {
	return OrderCost(o.Price, o.Remaining)
}

// DesiredOrder is a strategy's proposal: buy qty contracts of side at price,
// resting for at most TTL before the reconciler cancels it.
type DesiredOrder struct {
	Ticker   string
	Side     Side
	Price    int // cents
	Quantity int
	TTL      time.Duration
}

const clientOrderPrefix = "MM_"

// NewClientOrderID encodes the order's expiry instant into the client order
// id, so lifetimes survive a crash/restart without extra local state.
// Format: MM_{expiryUnix}_{uuid8}.
func NewClientOrderID(expiry time.Time) string {
	return fmt.Sprintf("%s%d_%s", clientOrderPrefix, expiry.Unix(), uuid.NewString()[:8])
}

// ClientOrderExpiry recovers the expiry instant from a client order id.
// Returns false for ids this engine did not mint.
func ClientOrderExpiry(id string) (time.Time, bool) {
	if !strings.HasPrefix(id, clientOrderPrefix) {
		return time.Time{}, false
	}
	parts := strings.Split(id, "_")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

// Position is the per-contract holding refreshed from the exchange on every
// full sync. A contract never carries both sides at once; the strategy's
// mutual-exclusivity gate rejects the straddle before placement.
type Position struct {
	Ticker string
	YesQty int
	NoQty  int
	Cost   float64 // cost basis incl. fees, dollars
}

// Qty returns the held quantity for the given side.
func (p Position) Qty(side Side) int {
	if side == SideYes {
		return p.YesQty
	}
	return p.NoQty
}
