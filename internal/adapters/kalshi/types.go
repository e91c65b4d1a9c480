package kalshi

import (
	"time"

	"github.com/acortes/kalmaker/internal/domain"
)

// Wire types for the Kalshi trade API v2. Prices are integer cents; balances
// are integer cents converted to dollars at the boundary.

type balanceResponse struct {
	Balance        int64 `json:"balance"`
	PortfolioValue int64 `json:"portfolio_value"`
}

type positionsResponse struct {
	MarketPositions []marketPosition `json:"market_positions"`
}

type marketPosition struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"` // signed: >0 YES, <0 NO
	MarketExposure int64  `json:"market_exposure"`
	FeesPaid       int64  `json:"fees_paid"`
}

type ordersResponse struct {
	Orders []apiOrder `json:"orders"`
}

type apiOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	YesPrice       *int   `json:"yes_price"`
	NoPrice        *int   `json:"no_price"`
	InitialCount   int    `json:"initial_count"`
	RemainingCount int    `json:"remaining_count"`
	Status         string `json:"status"`
	CreatedTime    string `json:"created_time"`
}

type createOrderRequest struct {
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Side          string `json:"side"`
	Ticker        string `json:"ticker"`
	Type          string `json:"type"`
	YesPrice      *int   `json:"yes_price,omitempty"`
	NoPrice       *int   `json:"no_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

type createOrderResponse struct {
	Order struct {
		OrderID     string `json:"order_id"`
		Status      string `json:"status"`
		FilledCount int    `json:"filled_count"`
	} `json:"order"`
}

// toDomain converts an API order to the local view. Orders minted by this
// engine carry their expiry inside the client order id.
func (o apiOrder) toDomain() domain.Order {
	side := domain.SideYes
	price := 0
	if o.Side == "no" {
		side = domain.SideNo
		if o.NoPrice != nil {
			price = *o.NoPrice
		}
	} else if o.YesPrice != nil {
		price = *o.YesPrice
	}

	placedAt, _ := time.Parse(time.RFC3339, o.CreatedTime)
	expiresAt, _ := domain.ClientOrderExpiry(o.ClientOrderID)

	return domain.Order{
		ID:            o.OrderID,
		Ticker:        o.Ticker,
		Side:          side,
		Price:         price,
		Quantity:      o.InitialCount,
		Remaining:     o.RemainingCount,
		Status:        normalizeStatus(o.Status),
		ClientOrderID: o.ClientOrderID,
		PlacedAt:      placedAt,
		ExpiresAt:     expiresAt,
	}
}

// normalizeStatus maps API status strings onto the domain lifecycle. The API
// spells "canceled" with one l.
func normalizeStatus(s string) domain.OrderStatus {
	switch s {
	case "resting", "pending", "":
		return domain.StatusResting
	case "executed":
		return domain.StatusExecuted
	case "canceled", "cancelled":
		return domain.StatusCancelled
	case "expired":
		return domain.StatusExpired
	case "rejected":
		return domain.StatusRejected
	}
	return domain.OrderStatus(s)
}

func (p marketPosition) toDomain() domain.Position {
	pos := domain.Position{
		Ticker: p.Ticker,
		Cost:   float64(p.MarketExposure+p.FeesPaid) / 100.0,
	}
	if p.Position > 0 {
		pos.YesQty = p.Position
	} else {
		pos.NoQty = -p.Position
	}
	return pos
}
