package domain

import "time"

// DecisionReason classifies why the strategy did or did not quote on a tick.
// Every evaluation produces exactly one reason; the free-text Detail carries
// the numbers an operator needs to reconstruct the call.
type DecisionReason string

const (
	ReasonMissingPrices     DecisionReason = "missing_prices"
	ReasonInactiveHours     DecisionReason = "inactive_hours"
	ReasonWideSpread        DecisionReason = "wide_spread"
	ReasonWarmup            DecisionReason = "warmup"
	ReasonNoEdge            DecisionReason = "no_edge"
	ReasonEdgeBelowFee      DecisionReason = "edge_below_fee"
	ReasonZeroSize          DecisionReason = "zero_size"
	ReasonInventoryFull     DecisionReason = "inventory_full"
	ReasonOppositeInventory DecisionReason = "opposite_inventory"
	ReasonSignal            DecisionReason = "signal"

	// Engine-level outcomes, recorded when the tick never reaches the strategy
	// or its proposal is blocked downstream.
	ReasonUnknownOrders DecisionReason = "unknown_orders"
	ReasonBudget        DecisionReason = "budget_exhausted"
)

// Decision is the strategy's last evaluation for a ticker, surfaced in the
// status file so an operator can tell "no opportunity" from "blocked."
type Decision struct {
	Ticker    string         `json:"ticker"`
	Mid       float64        `json:"mid"`
	Spread    float64        `json:"spread"`
	Fair      float64        `json:"fair,omitempty"`
	EdgeCents float64        `json:"edge,omitempty"`
	Reason    DecisionReason `json:"reason"`
	Detail    string         `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}
