package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acortes/kalmaker/internal/domain"
)

const ticker = "KXHIGHNY-25AUG29-B87.5"

func activeTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, 8, 29, 14, 0, 0, 0, time.UTC)
}

func testMaker() *Maker {
	cfg := DefaultConfig()
	cfg.FairWindow = 20
	cfg.SpreadMinSamples = 100
	return NewMaker("test-mm", cfg)
}

func quote(bid, ask int) domain.Quote {
	return domain.Quote{
		Ticker: ticker,
		YesBid: bid,
		YesAsk: ask,
		NoBid:  domain.NoPrice,
		NoAsk:  domain.NoPrice,
	}
}

// warm fills the fair window with mids around 40c (bid 38 / ask 42).
func warm(m *Maker, now time.Time, n int) {
	for i := 0; i < n; i++ {
		m.Evaluate(quote(38, 42), now, Inventory{}, 1000)
	}
}

func TestEvaluate_MissingPrices(t *testing.T) {
	m := testMaker()
	q := domain.Quote{Ticker: ticker, YesBid: domain.NoPrice, YesAsk: domain.NoPrice, NoBid: domain.NoPrice, NoAsk: 70}

	res := m.Evaluate(q, activeTime(t), Inventory{}, 1000)
	assert.Equal(t, ActionHold, res.Action)
	assert.Equal(t, domain.ReasonMissingPrices, res.Decision.Reason)
}

func TestEvaluate_InactiveHoursClears(t *testing.T) {
	m := testMaker()
	night := time.Date(2025, 8, 29, 2, 0, 0, 0, time.UTC)

	res := m.Evaluate(quote(38, 42), night, Inventory{}, 1000)
	assert.Equal(t, ActionClear, res.Action)
	assert.Equal(t, domain.ReasonInactiveHours, res.Decision.Reason)
}

func TestEvaluate_WideSpreadClears(t *testing.T) {
	m := testMaker()
	now := activeTime(t)
	for i := 0; i < 10; i++ {
		m.Evaluate(quote(40, 42), now, Inventory{}, 1000) // spread 2
	}

	res := m.Evaluate(quote(30, 42), now, Inventory{}, 1000) // spread 12
	assert.Equal(t, ActionClear, res.Action)
	assert.Equal(t, domain.ReasonWideSpread, res.Decision.Reason)
}

func TestEvaluate_Warmup(t *testing.T) {
	m := testMaker()

	res := m.Evaluate(quote(38, 42), activeTime(t), Inventory{}, 1000)
	assert.Equal(t, ActionHold, res.Action)
	assert.Equal(t, domain.ReasonWarmup, res.Decision.Reason)
}

func TestEvaluate_NoEdge(t *testing.T) {
	m := testMaker()
	now := activeTime(t)
	warm(m, now, 20)

	// Fair ~40, ask 42: nothing to buy on either side.
	res := m.Evaluate(quote(38, 42), now, Inventory{}, 1000)
	assert.Equal(t, ActionHold, res.Action)
	assert.Equal(t, domain.ReasonNoEdge, res.Decision.Reason)
}

func TestEvaluate_SignalScenario(t *testing.T) {
	// Warm strategy (mids ≈ 40c), then yes_ask=30 / yes_bid=28: edge ≈ 9.5c
	// clears fee (~1.5c rounded for the reference qty) + 0.5c margin.
	m := testMaker()
	now := activeTime(t)
	warm(m, now, 20)

	res := m.Evaluate(quote(28, 30), now, Inventory{}, 1000)
	require.Equal(t, ActionQuote, res.Action)
	require.NotNil(t, res.Order)

	assert.Equal(t, domain.ReasonSignal, res.Decision.Reason)
	assert.Equal(t, domain.SideYes, res.Order.Side)
	assert.Equal(t, 30, res.Order.Price, "order rests at the executable ask")
	assert.Equal(t, 15*time.Second, res.Order.TTL)
	assert.InDelta(t, 9.45, res.Decision.EdgeCents, 0.1)

	// Size governed by the smallest cap: loss cap allows ~190, inventory
	// cap is 50.
	assert.Equal(t, 50, res.Order.Quantity)
}

func TestEvaluate_SizeRespectsLossCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInventory = 0 // uncapped: loss fraction should govern
	m := NewMaker("test-mm", cfg)
	now := activeTime(t)
	warm(m, now, 20)

	res := m.Evaluate(quote(28, 30), now, Inventory{}, 1000)
	require.Equal(t, ActionQuote, res.Action)

	costUnit := 0.30 + domain.ContinuousFeeCents(30)/100.0
	wantMax := int(1000 * cfg.MaxLossFrac / costUnit)
	assert.LessOrEqual(t, res.Order.Quantity, wantMax)
	assert.Greater(t, res.Order.Quantity, wantMax/2)
}

func TestEvaluate_OppositeInventoryRefuses(t *testing.T) {
	m := testMaker()
	now := activeTime(t)
	warm(m, now, 20)

	res := m.Evaluate(quote(28, 30), now, Inventory{No: 5}, 1000)
	assert.Equal(t, ActionHold, res.Action)
	assert.Equal(t, domain.ReasonOppositeInventory, res.Decision.Reason)
	assert.Nil(t, res.Order)
}

func TestEvaluate_InventoryFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInventory = 10
	m := NewMaker("test-mm", cfg)
	now := activeTime(t)
	warm(m, now, 20)

	res := m.Evaluate(quote(28, 30), now, Inventory{Yes: 10}, 1000)
	assert.Equal(t, ActionHold, res.Action)
	assert.Equal(t, domain.ReasonInventoryFull, res.Decision.Reason)
}

func TestEvaluate_InventoryPenaltyTapersSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInventory = 0
	now := time.Date(2025, 8, 29, 14, 0, 0, 0, time.UTC)

	flat := NewMaker("a", cfg)
	warm(flat, now, 20)
	loaded := NewMaker("b", cfg)
	warm(loaded, now, 20)

	resFlat := flat.Evaluate(quote(28, 30), now, Inventory{}, 1000)
	resLoaded := loaded.Evaluate(quote(28, 30), now, Inventory{Yes: 200}, 1000)

	require.Equal(t, ActionQuote, resFlat.Action)
	require.Equal(t, ActionQuote, resLoaded.Action)
	assert.Less(t, resLoaded.Order.Quantity, resFlat.Order.Quantity)
}

func TestEvaluate_TinyCashZeroSize(t *testing.T) {
	m := testMaker()
	now := activeTime(t)
	warm(m, now, 20)

	res := m.Evaluate(quote(28, 30), now, Inventory{}, 0.10)
	assert.Equal(t, ActionHold, res.Action)
	assert.Equal(t, domain.ReasonZeroSize, res.Decision.Reason)
}

func TestEvaluate_NeverStraddles_RandomTicks(t *testing.T) {
	// Property: whatever the tick sequence, the maker never proposes a side
	// the inventory already opposes.
	cfg := DefaultConfig()
	cfg.ActiveHours = nil
	m := NewMaker("prop", cfg)
	now := activeTime(t)

	inv := Inventory{}
	seed := uint64(42)
	next := func(n int) int {
		seed = seed*6364136223846793005 + 1442695040888963407
		return int(seed>>33) % n
	}

	for i := 0; i < 2000; i++ {
		bid := 1 + next(90)
		ask := bid + 1 + next(8)
		res := m.Evaluate(quote(bid, ask), now, inv, 500)
		if res.Action != ActionQuote {
			continue
		}
		if res.Order.Side == domain.SideYes {
			assert.Zero(t, inv.No, "straddle proposed at tick %d", i)
			inv.Yes += res.Order.Quantity
		} else {
			assert.Zero(t, inv.Yes, "straddle proposed at tick %d", i)
			inv.No += res.Order.Quantity
		}
	}
}
