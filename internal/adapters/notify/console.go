package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
)

// Console renders operator reports to a terminal.
type Console struct {
	out io.Writer
}

// NewConsole creates a reporter writing to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a reporter for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// StatusInput bundles everything PrintStatus needs.
type StatusInput struct {
	Timestamp        time.Time
	Date             string
	State            string
	TradingEnabled   bool
	Paper            bool
	Balance          float64
	PortfolioValue   float64
	DailyStartEquity float64
	SpendableCash    float64
	OrdersToday      int
	Positions        []domain.Position
	Decisions        []domain.Decision
}

// PrintStatus prints the account header, open positions, and the last
// per-ticker strategy decision.
func (c *Console) PrintStatus(in StatusInput) {
	mode := "LIVE"
	if in.Paper {
		mode = "PAPER"
	}
	trading := "enabled"
	if !in.TradingEnabled {
		trading = "DISABLED"
	}
	state := ""
	if in.State != "" {
		state = "[" + in.State + "]"
	}

	fmt.Fprintf(c.out, "\n[%s][%s]%s %s | trading %s | cash $%.2f | portfolio $%.2f | start equity $%.2f | spendable $%.2f | orders today %d\n",
		in.Timestamp.Format("15:04:05"), mode, state, in.Date, trading,
		in.Balance, in.PortfolioValue, in.DailyStartEquity, in.SpendableCash, in.OrdersToday)

	if len(in.Positions) > 0 {
		c.printPositions(in.Positions)
	}
	if len(in.Decisions) > 0 {
		c.printDecisions(in.Decisions)
	}
}

func (c *Console) printPositions(positions []domain.Position) {
	sort.Slice(positions, func(i, j int) bool { return positions[i].Ticker < positions[j].Ticker })

	table := tablewriter.NewWriter(c.out)
	table.Header("Ticker", "YES", "NO", "Cost")
	for _, p := range positions {
		table.Append(
			p.Ticker,
			fmt.Sprintf("%d", p.YesQty),
			fmt.Sprintf("%d", p.NoQty),
			fmt.Sprintf("$%.2f", p.Cost),
		)
	}
	table.Render()
}

func (c *Console) printDecisions(decisions []domain.Decision) {
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].Ticker < decisions[j].Ticker })

	table := tablewriter.NewWriter(c.out)
	table.Header("Ticker", "Mid", "Spread", "Fair", "Edge", "Reason", "Detail")
	for _, d := range decisions {
		table.Append(
			d.Ticker,
			fmt.Sprintf("%.1fc", d.Mid),
			fmt.Sprintf("%.1fc", d.Spread),
			fmt.Sprintf("%.1fc", d.Fair),
			fmt.Sprintf("%.2fc", d.EdgeCents),
			string(d.Reason),
			d.Detail,
		)
	}
	table.Render()
}

// PrintSnapshot prints the daily snapshot the risk budget was derived from.
func (c *Console) PrintSnapshot(snap ports.Snapshot, found bool) {
	if !found {
		fmt.Fprintln(c.out, "\n  No snapshot recorded yet. Run the trader first.")
		return
	}

	fmt.Fprintf(c.out, "\n=== DAILY SNAPSHOT %s ===\n", snap.Date)
	fmt.Fprintf(c.out, "  Taken:        %s\n", snap.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(c.out, "  Strategy:     %s\n", snap.StrategyName)
	fmt.Fprintf(c.out, "  Start equity: $%.2f\n", snap.DailyStartEquity)
	fmt.Fprintf(c.out, "  Balance:      $%.2f\n", snap.Balance)
	fmt.Fprintf(c.out, "  Portfolio:    $%.2f\n", snap.PortfolioValue)
	fmt.Fprintf(c.out, "  Risk budget:  $%.2f (%.0f%% of equity)\n",
		snap.DailyStartEquity*snap.RiskFraction, snap.RiskFraction*100)

	if len(snap.Positions) > 0 {
		fmt.Fprintln(c.out)
		c.printPositions(snap.Positions)
	}
	fmt.Fprintln(c.out)
}

// PrintOrders prints the order audit trail, newest last.
func (c *Console) PrintOrders(records []ports.OrderRecord) {
	if len(records) == 0 {
		fmt.Fprintln(c.out, "\n  No orders recorded.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Ticker", "Side", "Price", "Qty", "Cost", "Fee", "Latency", "Status")

	var totalCost, totalFee float64
	for _, r := range records {
		totalCost += r.Cost
		totalFee += r.Fee
		table.Append(
			r.ExecTime.Format("15:04:05"),
			r.Ticker,
			string(r.Side),
			fmt.Sprintf("%dc", r.Price),
			fmt.Sprintf("%d", r.Quantity),
			fmt.Sprintf("$%.2f", r.Cost),
			fmt.Sprintf("$%.2f", r.Fee),
			fmt.Sprintf("%.0fms", r.LatencyMS),
			string(r.Status),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  %d orders | committed $%.2f | fees $%.2f\n\n", len(records), totalCost, totalFee)
}
