package notify

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
)

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintStatus(StatusInput{
		Timestamp:        time.Date(2025, 8, 29, 14, 0, 0, 0, time.UTC),
		Date:             "2025-08-29",
		State:            "RUNNING",
		TradingEnabled:   true,
		Balance:          812.40,
		PortfolioValue:   187.60,
		DailyStartEquity: 1000,
		SpendableCash:    470.10,
		OrdersToday:      3,
		Positions: []domain.Position{
			{Ticker: "KXHIGHNY-25AUG29-B87.5", YesQty: 50, Cost: 15.74},
		},
		Decisions: []domain.Decision{
			{Ticker: "KXHIGHNY-25AUG29-B87.5", Mid: 29, Spread: 2, Fair: 39.45,
				EdgeCents: 9.45, Reason: domain.ReasonSignal, Detail: "buy yes 50 @ 30c"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "[LIVE][RUNNING]")
	assert.Contains(t, out, "trading enabled")
	assert.Contains(t, out, "cash $812.40")
	assert.Contains(t, out, "KXHIGHNY-25AUG29-B87.5")
	assert.Contains(t, out, "signal")
	assert.Contains(t, out, "buy yes 50 @ 30c")
}

func TestPrintStatus_DisabledPaper(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintStatus(StatusInput{Paper: true, TradingEnabled: false})

	out := buf.String()
	assert.Contains(t, out, "[PAPER]")
	assert.Contains(t, out, "trading DISABLED")
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintSnapshot(ports.Snapshot{}, false)
	assert.Contains(t, buf.String(), "No snapshot recorded")

	buf.Reset()
	c.PrintSnapshot(ports.Snapshot{
		Date:             "2025-08-29",
		Timestamp:        time.Date(2025, 8, 29, 5, 0, 1, 0, time.UTC),
		DailyStartEquity: 1000,
		Balance:          800,
		PortfolioValue:   200,
		StrategyName:     "weather-mm",
		RiskFraction:     0.5,
	}, true)

	out := buf.String()
	assert.Contains(t, out, "DAILY SNAPSHOT 2025-08-29")
	assert.Contains(t, out, "weather-mm")
	assert.Contains(t, out, "$500.00 (50% of equity)")
}

func TestPrintOrders(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.PrintOrders(nil)
	assert.Contains(t, buf.String(), "No orders recorded")

	buf.Reset()
	c.PrintOrders([]ports.OrderRecord{
		{
			ExecTime: time.Date(2025, 8, 29, 14, 0, 1, 0, time.UTC),
			Ticker:   "KXHIGHNY-25AUG29-B87.5",
			Side:     domain.SideYes,
			Price:    30, Quantity: 50,
			Cost: 15.74, Fee: 0.74, LatencyMS: 42,
			Status: domain.StatusResting,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "30c")
	assert.Contains(t, out, "1 orders | committed $15.74 | fees $0.74")
}
