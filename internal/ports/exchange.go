package ports

import (
	"context"

	"github.com/acortes/kalmaker/internal/domain"
)

// Balance is the account's cash and marked portfolio value in dollars.
type Balance struct {
	Cash           float64
	PortfolioValue float64
}

// CreateOrderRequest is a signed limit buy submitted to the exchange.
type CreateOrderRequest struct {
	Ticker        string
	Side          domain.Side
	Price         int // cents
	Quantity      int
	ClientOrderID string
}

// CreateOrderResult is the exchange's acknowledgement of a placed order.
type CreateOrderResult struct {
	OrderID     string
	Status      domain.OrderStatus
	FilledCount int
}

// Exchange is the signed REST surface the engine trades against.
//
// Any call may return kalshi.ErrNoResponse after retries exhaust; callers
// must treat that as UNKNOWN state, never as an empty result — assuming "no
// open orders" on a failed fetch risks placing duplicates.
type Exchange interface {
	// Balance returns available cash and portfolio value.
	Balance(ctx context.Context) (Balance, error)

	// Positions returns all non-zero market positions.
	Positions(ctx context.Context) ([]domain.Position, error)

	// Orders returns open orders, optionally filtered by ticker ("" = all).
	Orders(ctx context.Context, ticker string) ([]domain.Order, error)

	// CreateOrder places a limit buy order.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error)

	// CancelOrder cancels a resting order by exchange order ID.
	CancelOrder(ctx context.Context, orderID string) error
}
