package domain

import "math"

// feeRate is Kalshi's convex maker/taker fee coefficient.
const feeRate = 0.07

// ConvexFee returns the exchange fee in dollars for buying qty contracts at
// the given price: ceil(0.07 * qty * p * (1-p) * 100) / 100, rounded up to
// the cent in the exchange's favor. Zero at the price bounds, maximal at 50.
func ConvexFee(priceCents, qty int) float64 {
	p := float64(priceCents) / 100.0
	raw := feeRate * float64(qty) * p * (1 - p)
	return math.Ceil(raw*100) / 100.0
}

// ContinuousFeeCents returns the unrounded per-contract fee in cents. The
// strategy uses it for smooth edge arithmetic before re-validating with the
// rounded ConvexFee for the chosen integer quantity.
func ContinuousFeeCents(priceCents int) float64 {
	p := float64(priceCents) / 100.0
	return feeRate * p * (1 - p) * 100.0
}

// OrderCost returns the total capital in dollars committed by buying qty
// contracts at price: notional plus the rounded-up fee.
func OrderCost(priceCents, qty int) float64 {
	return float64(qty)*float64(priceCents)/100.0 + ConvexFee(priceCents, qty)
}
