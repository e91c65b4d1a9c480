package strategy

// maker.go — regime-gated, inventory-aware market maker.
//
// Two gates decide whether the maker runs at all: the hour-of-day regime and
// spread tightness against a rolling percentile threshold. Past the gates,
// the maker estimates fair value from a rolling mean of mids, requires the
// edge over the executable ask to clear fee plus margin, and sizes the order
// under notional, loss, and inventory caps. It is a one-sided accumulator
// per contract: it never quotes against existing inventory.

import (
	"fmt"
	"math"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
)

// Action tells the reconciler what to do with the ticker's resting orders.
type Action int

const (
	// ActionHold leaves existing orders alone.
	ActionHold Action = iota
	// ActionClear cancels every resting order for the ticker.
	ActionClear
	// ActionQuote replaces the desired order set with Result.Order.
	ActionQuote
)

// Result is one strategy evaluation: what to do, and why.
type Result struct {
	Action   Action
	Order    *domain.DesiredOrder // set iff Action == ActionQuote
	Decision domain.Decision
}

// Inventory is the combined exposure the strategy must respect: contracts
// already filled plus quantity resting in flight. Handing it filled-only
// would let the maker over-commit while orders are pending.
type Inventory struct {
	Yes int
	No  int
}

func (i Inventory) qty(side domain.Side) int {
	if side == domain.SideYes {
		return i.Yes
	}
	return i.No
}

// HourRange is an inclusive active-hours window, e.g. {5, 8} covers 05-08h.
type HourRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Config holds the maker's tuning parameters.
type Config struct {
	FairWindow          int         // mids in the fair-value window
	SpreadWindow        int         // spreads kept for the tightness threshold
	SpreadMinSamples    int         // below this, threshold = mean of history
	TightnessPercentile float64     // spread percentile gating entry
	ActiveHours         []HourRange // empty = always active
	MarginCents         float64     // required edge beyond the fee
	ScalingCents        float64     // edge that maps to full base size
	MaxNotionalFrac     float64     // of spendable cash
	MaxLossFrac         float64     // of spendable cash
	MaxInventory        int         // contracts per ticker, 0 = uncapped
	InventoryPenaltyK   float64     // size taper constant
	OrderTTL            time.Duration
	DummyQty            int // quantity for the pre-size fee estimate
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		FairWindow:          20,
		SpreadWindow:        500,
		SpreadMinSamples:    100,
		TightnessPercentile: 20,
		ActiveHours:         []HourRange{{5, 8}, {13, 17}, {21, 23}},
		MarginCents:         0.5,
		ScalingCents:        4.0,
		MaxNotionalFrac:     0.25,
		MaxLossFrac:         0.06,
		MaxInventory:        50,
		InventoryPenaltyK:   200,
		OrderTTL:            15 * time.Second,
		DummyQty:            10,
	}
}

// Maker holds per-ticker rolling state. State is created lazily per ticker
// and never shared across tickers.
type Maker struct {
	name    string
	cfg     Config
	fairs   map[string]*Window
	spreads map[string]*Window
}

// NewMaker creates a maker with the given configuration.
func NewMaker(name string, cfg Config) *Maker {
	if cfg.DummyQty <= 0 {
		cfg.DummyQty = 10
	}
	return &Maker{
		name:    name,
		cfg:     cfg,
		fairs:   make(map[string]*Window),
		spreads: make(map[string]*Window),
	}
}

// Name returns the strategy name used in logs and the audit trail.
func (m *Maker) Name() string { return m.name }

// SetMaxInventory overrides the per-contract inventory cap. Used when the cap
// is derived from daily start equity rather than fixed.
func (m *Maker) SetMaxInventory(n int) { m.cfg.MaxInventory = n }

// Evaluate runs the gates and sizing for one tick. now is the tick's
// timestamp, used for the hour gate; order expiry is wall clock.
func (m *Maker) Evaluate(q domain.Quote, now time.Time, inv Inventory, spendableCash float64) Result {
	decision := domain.Decision{Ticker: q.Ticker, Reason: domain.ReasonMissingPrices, At: now}

	mid, ok := q.Mid()
	if !ok {
		decision.Detail = "no usable yes bid/ask"
		return Result{Action: ActionHold, Decision: decision}
	}
	spread, _ := q.Spread()
	decision.Mid = mid
	decision.Spread = spread

	// Spread history accrues on every priced tick, gated or not, so the
	// threshold reflects the market rather than our participation.
	sw := m.spreadWindow(q.Ticker)
	sw.Push(spread)

	if !m.activeHour(now.Hour()) {
		decision.Reason = domain.ReasonInactiveHours
		decision.Detail = fmt.Sprintf("hour %d outside active windows", now.Hour())
		return Result{Action: ActionClear, Decision: decision}
	}

	threshold := sw.Mean()
	if sw.Len() > m.cfg.SpreadMinSamples {
		threshold = sw.Percentile(m.cfg.TightnessPercentile)
	}
	if spread > threshold {
		decision.Reason = domain.ReasonWideSpread
		decision.Detail = fmt.Sprintf("spread %.1fc > threshold %.1fc", spread, threshold)
		return Result{Action: ActionClear, Decision: decision}
	}

	fw := m.fairWindow(q.Ticker)
	fw.Push(mid)
	if !fw.Full() {
		decision.Reason = domain.ReasonWarmup
		decision.Detail = fmt.Sprintf("%d/%d mids", fw.Len(), m.cfg.FairWindow)
		return Result{Action: ActionHold, Decision: decision}
	}

	fair := fw.Mean()
	fairProb := fair / 100.0
	decision.Fair = fair

	// Edge vs the executable price on each side.
	side, price, edgeCents := domain.SideYes, 0, 0.0
	switch {
	case q.HasYesAsk() && fairProb-float64(q.YesAsk)/100.0 > 0:
		side = domain.SideYes
		price = q.YesAsk
		edgeCents = (fairProb - float64(q.YesAsk)/100.0) * 100.0
	case q.HasNoAsk() && (1.0-fairProb)-float64(q.NoAsk)/100.0 > 0:
		side = domain.SideNo
		price = q.NoAsk
		edgeCents = ((1.0 - fairProb) - float64(q.NoAsk)/100.0) * 100.0
	default:
		decision.Reason = domain.ReasonNoEdge
		decision.Detail = fmt.Sprintf("fair %.1f vs yes_ask %d / no_ask %d", fair, q.YesAsk, q.NoAsk)
		return Result{Action: ActionHold, Decision: decision}
	}
	decision.EdgeCents = edgeCents

	// Gate on the rounded fee for a reference quantity before sizing.
	feeEstCents := domain.ConvexFee(price, m.cfg.DummyQty) / float64(m.cfg.DummyQty) * 100.0
	required := feeEstCents + m.cfg.MarginCents
	if edgeCents < required {
		decision.Reason = domain.ReasonEdgeBelowFee
		decision.Detail = fmt.Sprintf("edge %.2fc < required %.2fc", edgeCents, required)
		return Result{Action: ActionHold, Decision: decision}
	}

	qty, reason, detail := m.size(side, price, edgeCents, inv, spendableCash)
	if qty <= 0 {
		decision.Reason = reason
		decision.Detail = detail
		return Result{Action: ActionHold, Decision: decision}
	}

	// A contract is a one-sided book: refuse to straddle.
	if inv.qty(side.Opposite()) > 0 {
		decision.Reason = domain.ReasonOppositeInventory
		decision.Detail = fmt.Sprintf("holding %d on %s", inv.qty(side.Opposite()), side.Opposite())
		return Result{Action: ActionHold, Decision: decision}
	}

	decision.Reason = domain.ReasonSignal
	decision.Detail = fmt.Sprintf("buy %s %d @ %dc", side, qty, price)

	return Result{
		Action: ActionQuote,
		Order: &domain.DesiredOrder{
			Ticker:   q.Ticker,
			Side:     side,
			Price:    price,
			Quantity: qty,
			TTL:      m.cfg.OrderTTL,
		},
		Decision: decision,
	}
}

// size computes the order quantity under the notional, loss, inventory, and
// penalty caps, then re-validates the edge with the actual rounded-up fee:
// fee rounding can flip a marginal trade from profitable to not.
func (m *Maker) size(side domain.Side, price int, edgeCents float64, inv Inventory, cash float64) (int, domain.DecisionReason, string) {
	feeCents := domain.ContinuousFeeCents(price)
	edgeAfterFee := edgeCents - feeCents - m.cfg.MarginCents
	if edgeAfterFee <= 0 {
		return 0, domain.ReasonEdgeBelowFee, fmt.Sprintf("edge after fee %.2fc <= 0", edgeAfterFee)
	}

	scale := math.Min(1.0, edgeAfterFee/m.cfg.ScalingCents)

	costUnit := float64(price)/100.0 + feeCents/100.0
	if costUnit <= 0 {
		return 0, domain.ReasonZeroSize, "zero cost unit"
	}

	qtyByNotional := int(cash * m.cfg.MaxNotionalFrac / costUnit)
	qtyByLoss := int(cash * m.cfg.MaxLossFrac / costUnit)
	baseQty := min(qtyByNotional, qtyByLoss)
	if baseQty <= 0 {
		return 0, domain.ReasonZeroSize, fmt.Sprintf("cash $%.2f too small", cash)
	}

	current := inv.qty(side)
	room := math.MaxInt32
	if m.cfg.MaxInventory > 0 {
		room = m.cfg.MaxInventory - current
		if room <= 0 {
			return 0, domain.ReasonInventoryFull, fmt.Sprintf("inventory %d at cap %d", current, m.cfg.MaxInventory)
		}
	}

	penalty := 1.0 / (1.0 + float64(current)/m.cfg.InventoryPenaltyK)
	qty := int(float64(baseQty) * scale * penalty)
	qty = max(1, min(qty, room))

	feeReal := domain.ConvexFee(price, qty)
	feeRealCents := feeReal / float64(qty) * 100.0
	if edgeCents-feeRealCents-m.cfg.MarginCents <= 0 {
		return 0, domain.ReasonEdgeBelowFee,
			fmt.Sprintf("edge %.2fc below rounded fee %.2fc + margin", edgeCents, feeRealCents)
	}

	return qty, domain.ReasonSignal, ""
}

func (m *Maker) activeHour(h int) bool {
	if len(m.cfg.ActiveHours) == 0 {
		return true
	}
	for _, r := range m.cfg.ActiveHours {
		if h >= r.From && h <= r.To {
			return true
		}
	}
	return false
}

func (m *Maker) fairWindow(ticker string) *Window {
	w, ok := m.fairs[ticker]
	if !ok {
		w = NewWindow(m.cfg.FairWindow)
		m.fairs[ticker] = w
	}
	return w
}

func (m *Maker) spreadWindow(ticker string) *Window {
	w, ok := m.spreads[ticker]
	if !ok {
		w = NewWindow(m.cfg.SpreadWindow)
		m.spreads[ticker] = w
	}
	return w
}
