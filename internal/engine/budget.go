package engine

import (
	"math"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
)

// BudgetConfig sets the daily risk envelope.
type BudgetConfig struct {
	RiskFraction float64 // share of daily start equity the engine may spend
	ResetHour    int     // local hour after which a new calendar day resets the budget
}

// Budget tracks the engine's own spending against a daily allowance. The
// shadow balance is decremented on every placement and credited back on
// cancels, so the engine stays inside its envelope even when the exchange
// balance lags fills. Spendable cash is the minimum of the two views.
type Budget struct {
	cfg         BudgetConfig
	date        string // YYYY-MM-DD of the last reset
	startEquity float64
	shadow      float64
}

func NewBudget(cfg BudgetConfig) *Budget {
	return &Budget{cfg: cfg}
}

// NeedsReset reports whether a new trading day has started. The first call of
// a fresh process always resets.
func (b *Budget) NeedsReset(now time.Time) bool {
	if b.date == "" {
		return true
	}
	return now.Format(time.DateOnly) != b.date && now.Hour() >= b.cfg.ResetHour
}

// Reset pins the day's start equity and refills the shadow balance, less the
// capital already locked in positions and resting orders carried across the
// day boundary. Carried exposure spends from the new allowance like any other.
func (b *Budget) Reset(now time.Time, equity, committed float64) {
	b.date = now.Format(time.DateOnly)
	b.startEquity = equity
	b.shadow = math.Max(0, equity*b.cfg.RiskFraction-committed)
}

// Restore rebuilds mid-day state after a restart: the day's start equity from
// the snapshot, minus capital already committed to open orders and positions.
func (b *Budget) Restore(date string, startEquity, committed float64) {
	b.date = date
	b.startEquity = startEquity
	b.shadow = math.Max(0, startEquity*b.cfg.RiskFraction-committed)
}

// Spendable returns the cash the engine may commit right now: exchange cash
// capped by the remaining shadow allowance.
func (b *Budget) Spendable(cash float64) float64 {
	return math.Max(0, math.Min(cash, b.shadow))
}

// Commit charges a placement against the shadow balance.
func (b *Budget) Commit(cost float64) {
	b.shadow = math.Max(0, b.shadow-cost)
}

// Release credits back the cost of a cancelled order, capped at the day's
// full allowance.
func (b *Budget) Release(cost float64) {
	b.shadow = math.Min(b.shadow+cost, b.startEquity*b.cfg.RiskFraction)
}

// FitQuantity scales an order down until its full cost, fee included, fits
// the spendable cash. Returns 0 when not even one contract fits.
func (b *Budget) FitQuantity(price, qty int, cash float64) int {
	spendable := b.Spendable(cash)
	if price <= 0 || qty <= 0 {
		return 0
	}
	if q := int(spendable / (float64(price) / 100.0)); q < qty {
		qty = q
	}
	for qty > 0 && domain.OrderCost(price, qty) > spendable {
		qty--
	}
	return qty
}

// StartEquity returns the equity captured at the day's reset.
func (b *Budget) StartEquity() float64 { return b.startEquity }

// Shadow returns the remaining shadow allowance.
func (b *Budget) Shadow() float64 { return b.shadow }

// Date returns the day the budget was last reset for.
func (b *Budget) Date() string { return b.date }
