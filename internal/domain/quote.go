package domain

import (
	"regexp"
	"strings"
	"time"
)

// NoPrice marks an absent price in a quote. Kalshi books are often one-sided,
// so every field of a Quote may legitimately be missing.
const NoPrice = -1

// Quote is one row of the market-data log: the best resting prices for a
// single contract at a single instant. Prices are integer cents in [0,100].
type Quote struct {
	Ticker    string
	Timestamp time.Time
	YesBid    int
	YesAsk    int
	NoBid     int
	NoAsk     int
}

// HasYesAsk reports whether the YES side can be bought at a known price.
func (q Quote) HasYesAsk() bool { return q.YesAsk != NoPrice }

// HasNoAsk reports whether the NO side can be bought at a known price.
func (q Quote) HasNoAsk() bool { return q.NoAsk != NoPrice }

// Actionable reports whether the quote carries at least one executable side.
// Rows missing both asks are discarded before they reach the engine.
func (q Quote) Actionable() bool { return q.HasYesAsk() || q.HasNoAsk() }

// BestYesBid returns the best YES bid, deriving it from the NO ask when the
// YES side of the book is empty (a resting NO ask at p implies a YES bid at
// 100-p). Returns NoPrice when neither is available.
func (q Quote) BestYesBid() int {
	if q.YesBid != NoPrice {
		return q.YesBid
	}
	if q.NoAsk != NoPrice {
		return 100 - q.NoAsk
	}
	return NoPrice
}

// Mid returns the YES mid-price in cents, or false when either side needed to
// compute it is missing.
func (q Quote) Mid() (float64, bool) {
	bid := q.BestYesBid()
	if bid == NoPrice || q.YesAsk == NoPrice {
		return 0, false
	}
	return (float64(bid) + float64(q.YesAsk)) / 2.0, true
}

// Spread returns yes_ask - best_yes_bid in cents, or false when incomputable.
func (q Quote) Spread() (float64, bool) {
	bid := q.BestYesBid()
	if bid == NoPrice || q.YesAsk == NoPrice {
		return 0, false
	}
	return float64(q.YesAsk - bid), true
}

// tickerDateRe matches the date segment of a Kalshi ticker,
// e.g. KXHIGHNY-25AUG29-B87.5 → "25AUG29".
var tickerDateRe = regexp.MustCompile(`-(\d{2}[A-Z]{3}\d{2})`)

// TickerDate extracts the market date encoded in a contract ticker.
// Returns false if the ticker carries no recognizable date segment.
func TickerDate(ticker string) (time.Time, bool) {
	m := tickerDateRe.FindStringSubmatch(strings.ToUpper(ticker))
	if m == nil {
		return time.Time{}, false
	}
	seg := m[1] // YYMONDD, e.g. 25AUG29
	mon := seg[2:3] + strings.ToLower(seg[3:5])
	t, err := time.Parse("06Jan02", seg[:2]+mon+seg[5:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
