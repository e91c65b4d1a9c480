package ports

import (
	"context"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
)

// OrderRecord is one row of the append-only trade/order audit log.
type OrderRecord struct {
	TickTime  time.Time // timestamp of the quote that triggered the order
	ExecTime  time.Time // wall clock at submission
	LatencyMS float64
	Strategy  string
	Ticker    string
	Side      domain.Side
	Price     int
	Quantity  int
	Cost      float64
	Fee       float64
	OrderID   string
	Status    domain.OrderStatus
}

// Snapshot is the budget-reset state captured once per calendar day.
type Snapshot struct {
	Date             string // YYYY-MM-DD
	Timestamp        time.Time
	DailyStartEquity float64
	Balance          float64
	PortfolioValue   float64
	Positions        []domain.Position
	StrategyName     string
	RiskFraction     float64
}

// TradeStore persists the audit log and daily snapshots.
type TradeStore interface {
	SaveOrder(ctx context.Context, rec OrderRecord) error
	CountOrdersSince(ctx context.Context, since time.Time) (int, error)
	OrdersSince(ctx context.Context, since time.Time) ([]OrderRecord, error)

	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context) (Snapshot, bool, error)

	// OpenLocalOrders returns exchange order IDs recorded locally that were
	// never seen reaching a terminal state, for the startup state check.
	OpenLocalOrders(ctx context.Context) ([]string, error)
	MarkOrderTerminal(ctx context.Context, orderID string, status domain.OrderStatus) error

	Close() error
}
