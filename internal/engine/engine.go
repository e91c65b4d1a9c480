package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
	"github.com/acortes/kalmaker/internal/strategy"
)

// Config tunes the engine loop. Zero values are filled by New with the
// production defaults.
type Config struct {
	LoopInterval       time.Duration // pause between iterations
	SyncInterval       time.Duration // full account resync cadence
	StatusPath         string
	SnapshotPath       string
	ControlFlagPath    string
	CrashLogPath       string
	Paper              bool    // evaluate and log, never touch the exchange book
	InventoryPerDollar float64 // per-ticker contract cap per dollar of start equity
}

func (c *Config) fillDefaults() {
	if c.LoopInterval <= 0 {
		c.LoopInterval = time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = time.Minute
	}
	if c.StatusPath == "" {
		c.StatusPath = "trader_status.json"
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = "daily_snapshot.json"
	}
	if c.ControlFlagPath == "" {
		c.ControlFlagPath = "trading_enabled.txt"
	}
	if c.CrashLogPath == "" {
		c.CrashLogPath = "crash.log"
	}
	if c.InventoryPerDollar <= 0 {
		c.InventoryPerDollar = 0.5
	}
}

// Engine drives the trading loop: drain ticks, evaluate the strategy per
// tick, reconcile the order book toward its proposals, and persist an
// operator status file. It is single-threaded; every exchange interaction
// happens on the loop goroutine.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	ex     ports.Exchange
	ticks  ports.TickSource
	store  ports.TradeStore
	maker  *strategy.Maker
	rec    *Reconciler
	budget *Budget
	status *StatusWriter
	flag   *ControlFlag
	now    func() time.Time

	balance        ports.Balance
	balanceKnown   bool
	positions      map[string]domain.Position
	positionsKnown bool
	decisions      map[string]domain.Decision
	lastSync       time.Time
	ordersToday    int
}

// New wires an engine and verifies that the exchange's open orders agree
// with the local audit log. An open order on the exchange that the log never
// recorded means another instance (or a human) is trading the account;
// running against it would double exposure, so New refuses. A fresh store
// with no history adopts whatever the exchange reports.
func New(ctx context.Context, cfg Config, log *slog.Logger, ex ports.Exchange,
	ticks ports.TickSource, store ports.TradeStore, maker *strategy.Maker, budget *Budget) (*Engine, error) {

	cfg.fillDefaults()

	e := &Engine{
		cfg:       cfg,
		log:       log,
		ex:        ex,
		ticks:     ticks,
		store:     store,
		maker:     maker,
		rec:       NewReconciler(ex, store, log),
		budget:    budget,
		status:    NewStatusWriter(cfg.StatusPath),
		flag:      NewControlFlag(cfg.ControlFlagPath),
		now:       time.Now,
		positions: make(map[string]domain.Position),
		decisions: make(map[string]domain.Decision),
	}

	if err := e.checkStartupState(ctx); err != nil {
		return nil, err
	}
	if err := e.restoreBudget(ctx); err != nil {
		return nil, err
	}
	if err := e.status.Write(Status{Timestamp: e.now(), State: StateStarting}); err != nil {
		log.Warn("status write failed", "err", err)
	}
	return e, nil
}

func (e *Engine) checkStartupState(ctx context.Context) error {
	localIDs, err := e.store.OpenLocalOrders(ctx)
	if err != nil {
		return fmt.Errorf("engine: startup check: %w", err)
	}
	remote, err := e.ex.Orders(ctx, "")
	if err != nil {
		return fmt.Errorf("engine: startup check: %w", err)
	}

	_, haveSnap, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine: startup check: %w", err)
	}
	fresh := !haveSnap && len(localIDs) == 0

	local := make(map[string]bool, len(localIDs))
	for _, id := range localIDs {
		local[id] = true
	}

	var unrecorded []string
	remoteOpen := make(map[string]bool, len(remote))
	for _, o := range remote {
		if !o.Active() {
			continue
		}
		remoteOpen[o.ID] = true
		if !local[o.ID] {
			unrecorded = append(unrecorded, o.ID)
		}
	}
	if len(unrecorded) > 0 && !fresh {
		return fmt.Errorf("engine: %d open orders on exchange not in local log (%s); refusing to trade a shared account",
			len(unrecorded), strings.Join(unrecorded, ", "))
	}
	if len(unrecorded) > 0 {
		e.log.Warn("fresh store, adopting open exchange orders", "count", len(unrecorded))
	}

	// Orders we recorded as open that vanished from the book were filled or
	// expired while the process was down.
	for _, id := range localIDs {
		if remoteOpen[id] {
			continue
		}
		e.log.Info("local open order resolved off-process", "order_id", id)
		if err := e.store.MarkOrderTerminal(ctx, id, domain.StatusExecuted); err != nil {
			e.log.Warn("marking resolved order failed", "order_id", id, "err", err)
		}
	}
	return nil
}

// restoreBudget resumes the current day's envelope from the latest snapshot,
// charging it with the capital already committed to open orders and
// positions. A snapshot from an earlier day is left for the sync reset.
func (e *Engine) restoreBudget(ctx context.Context) error {
	snap, ok, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore budget: %w", err)
	}
	if !ok || snap.Date != e.now().Format(time.DateOnly) {
		return nil
	}

	var committed float64
	orders, err := e.ex.Orders(ctx, "")
	if err != nil {
		return fmt.Errorf("engine: restore budget: %w", err)
	}
	for _, o := range orders {
		if o.Active() {
			committed += o.Cost()
		}
	}
	positions, err := e.ex.Positions(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore budget: %w", err)
	}
	for _, p := range positions {
		committed += p.Cost
	}

	e.budget.Restore(snap.Date, snap.DailyStartEquity, committed)
	e.maker.SetMaxInventory(inventoryCap(snap.DailyStartEquity, e.cfg.InventoryPerDollar))
	e.log.Info("budget restored from snapshot",
		"date", snap.Date, "start_equity", snap.DailyStartEquity, "committed", committed)
	return nil
}

// Run loops until the context is cancelled. A panic is appended to the crash
// log and re-raised so the supervisor sees the real failure.
func (e *Engine) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			writeCrashLog(e.cfg.CrashLogPath, r, debug.Stack())
			e.log.Error("engine panicked", "panic", r)
			panic(r)
		}
	}()

	e.log.Info("engine started",
		"loop", e.cfg.LoopInterval, "sync", e.cfg.SyncInterval, "paper", e.cfg.Paper)

	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()
	for {
		e.RunOnce(ctx)
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes one loop iteration. Errors are logged, not returned: a
// failed sync or tick must never stop the loop.
func (e *Engine) RunOnce(ctx context.Context) {
	now := e.now()

	if e.lastSync.IsZero() || now.Sub(e.lastSync) >= e.cfg.SyncInterval {
		e.sync(ctx, now)
	}

	enabled := e.flag.Enabled()

	quotes, err := e.ticks.Poll()
	if err != nil {
		e.log.Error("tick poll failed", "err", err)
	}
	today := dateOnly(now)
	for _, q := range quotes {
		if d, ok := domain.TickerDate(q.Ticker); ok && d.Before(today) {
			continue
		}
		if enabled {
			e.handleTick(ctx, q)
		} else {
			e.sweepExpired(ctx, q.Ticker)
		}
	}

	e.writeStatus(now, enabled)
}

// sync refreshes balance and positions and rolls the daily budget when a new
// trading day has started.
func (e *Engine) sync(ctx context.Context, now time.Time) {
	bal, err := e.ex.Balance(ctx)
	if err != nil {
		e.log.Error("balance sync failed", "err", err)
	} else {
		e.balance = bal
		e.balanceKnown = true
	}

	positions, err := e.ex.Positions(ctx)
	if err != nil {
		e.log.Error("positions sync failed", "err", err)
	} else {
		e.positions = make(map[string]domain.Position, len(positions))
		for _, p := range positions {
			e.positions[p.Ticker] = p
		}
		e.positionsKnown = true
	}

	// The reset waits for real account data. A failed fetch left the balance
	// unknown, and an unknown balance is not zero; resetting on it would pin
	// a $0 budget for the rest of the day.
	if e.balanceKnown && e.positionsKnown && e.budget.NeedsReset(now) {
		e.resetDay(ctx, now)
	}

	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if n, err := e.store.CountOrdersSince(ctx, startOfDay); err != nil {
		e.log.Warn("order count failed", "err", err)
	} else {
		e.ordersToday = n
	}

	e.lastSync = now
}

func (e *Engine) resetDay(ctx context.Context, now time.Time) {
	orders, err := e.ex.Orders(ctx, "")
	if err != nil {
		e.log.Error("daily reset deferred, open orders unknown", "err", err)
		return
	}
	var committed float64
	for _, o := range orders {
		if o.Active() {
			committed += o.Cost()
		}
	}
	for _, p := range e.positions {
		committed += p.Cost
	}

	equity := e.balance.Cash + e.balance.PortfolioValue
	e.budget.Reset(now, equity, committed)
	e.maker.SetMaxInventory(inventoryCap(equity, e.cfg.InventoryPerDollar))

	var positions []domain.Position
	for _, p := range e.positions {
		positions = append(positions, p)
	}
	snap := ports.Snapshot{
		Date:             now.Format(time.DateOnly),
		Timestamp:        now,
		DailyStartEquity: equity,
		Balance:          e.balance.Cash,
		PortfolioValue:   e.balance.PortfolioValue,
		Positions:        positions,
		StrategyName:     e.maker.Name(),
		RiskFraction:     e.budget.cfg.RiskFraction,
	}
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.log.Error("snapshot save failed", "err", err)
	}
	if err := WriteSnapshotFile(e.cfg.SnapshotPath, snap); err != nil {
		e.log.Warn("snapshot file write failed", "err", err)
	}
	e.log.Info("daily budget reset",
		"date", snap.Date, "equity", equity, "committed", committed, "spendable", e.budget.Shadow())
}

func (e *Engine) handleTick(ctx context.Context, q domain.Quote) {
	ticker := q.Ticker

	open, err := e.rec.OpenOrders(ctx, ticker)
	if err != nil {
		// Unknown book state. Acting blind risks duplicate exposure, so the
		// tick is dropped entirely.
		e.log.Warn("order state unknown, skipping tick", "ticker", ticker, "err", err)
		e.decisions[ticker] = domain.Decision{
			Ticker: ticker,
			Reason: domain.ReasonUnknownOrders,
			Detail: err.Error(),
			At:     e.now(),
		}
		return
	}

	if !e.cfg.Paper {
		var released float64
		open, released = e.rec.CancelExpired(ctx, ticker, open)
		e.budget.Release(released)
	}

	// Quoting runs at most once per interval per market. Inside the interval
	// the whole cycle is skipped and the book stands exactly as it is.
	if !e.rec.ShouldRequote(ticker) {
		return
	}

	inv := strategy.Inventory{}
	if p, ok := e.positions[ticker]; ok {
		inv.Yes, inv.No = p.YesQty, p.NoQty
	}
	for _, o := range open {
		if o.Side == domain.SideYes {
			inv.Yes += o.Remaining
		} else {
			inv.No += o.Remaining
		}
	}

	res := e.maker.Evaluate(q, q.Timestamp, inv, e.budget.Spendable(e.balance.Cash))
	e.decisions[ticker] = res.Decision

	switch res.Action {
	case strategy.ActionHold:

	case strategy.ActionClear:
		if len(open) == 0 {
			return
		}
		if e.cfg.Paper {
			e.log.Info("paper clear",
				"ticker", ticker, "orders", len(open), "reason", res.Decision.Reason)
			return
		}
		released, err := e.rec.Clear(ctx, ticker)
		if err != nil {
			e.log.Warn("clear failed", "ticker", ticker, "err", err)
			return
		}
		e.budget.Release(released)
		e.log.Info("cleared resting orders", "ticker", ticker, "reason", res.Decision.Reason)

	case strategy.ActionQuote:
		e.placeQuote(ctx, q, *res.Order, open)
	}
}

func (e *Engine) placeQuote(ctx context.Context, q domain.Quote, desired domain.DesiredOrder, open []domain.Order) {
	ticker := desired.Ticker

	fitted := e.budget.FitQuantity(desired.Price, desired.Quantity, e.balance.Cash)
	if fitted <= 0 {
		e.decisions[ticker] = domain.Decision{
			Ticker: ticker,
			Reason: domain.ReasonBudget,
			Detail: fmt.Sprintf("no headroom for %d @ %dc", desired.Quantity, desired.Price),
			At:     e.now(),
		}
		return
	}
	if fitted < desired.Quantity {
		e.log.Info("order scaled down to budget",
			"ticker", ticker, "from", desired.Quantity, "to", fitted)
		desired.Quantity = fitted
	}

	if e.cfg.Paper {
		e.log.Info("paper order",
			"ticker", ticker, "side", desired.Side, "price", desired.Price, "qty", desired.Quantity)
		return
	}

	rep, err := e.rec.Apply(ctx, desired, open)
	e.budget.Release(rep.ReleasedCost)
	if err != nil {
		e.log.Warn("reconcile failed", "ticker", ticker, "err", err)
		return
	}
	if rep.Matched || rep.Placed == nil {
		return
	}

	placed := rep.Placed.Order
	e.budget.Commit(domain.OrderCost(placed.Price, placed.Quantity))
	execTime := e.now()
	record := ports.OrderRecord{
		TickTime:  q.Timestamp,
		ExecTime:  execTime,
		LatencyMS: float64(execTime.Sub(q.Timestamp)) / float64(time.Millisecond),
		Strategy:  e.maker.Name(),
		Ticker:    ticker,
		Side:      placed.Side,
		Price:     placed.Price,
		Quantity:  placed.Quantity,
		Cost:      domain.OrderCost(placed.Price, placed.Quantity),
		Fee:       domain.ConvexFee(placed.Price, placed.Quantity),
		OrderID:   placed.ID,
		Status:    placed.Status,
	}
	if err := e.store.SaveOrder(ctx, record); err != nil {
		e.log.Error("order record save failed", "order_id", placed.ID, "err", err)
	}
	e.ordersToday++
	e.log.Info("order placed",
		"ticker", ticker, "side", placed.Side, "price", placed.Price,
		"qty", placed.Quantity, "filled", rep.Placed.Result.FilledCount, "order_id", placed.ID)
}

// sweepExpired enforces order TTLs while trading is disabled, so flipping the
// flag off never strands live orders past their lifetime.
func (e *Engine) sweepExpired(ctx context.Context, ticker string) {
	if e.cfg.Paper {
		return
	}
	open, err := e.rec.OpenOrders(ctx, ticker)
	if err != nil || len(open) == 0 {
		return
	}
	_, released := e.rec.CancelExpired(ctx, ticker, open)
	e.budget.Release(released)
}

func (e *Engine) writeStatus(now time.Time, enabled bool) {
	var positions []domain.Position
	for _, p := range e.positions {
		positions = append(positions, p)
	}
	openOrders := 0
	for _, c := range e.rec.cache {
		openOrders += len(c.orders)
	}
	var pnl float64
	if e.budget.StartEquity() > 0 {
		pnl = e.balance.Cash + e.balance.PortfolioValue - e.budget.StartEquity()
	}
	state := StateRunning
	if !enabled {
		state = StatePaused
	}
	s := Status{
		Timestamp:        now,
		State:            state,
		Date:             e.budget.Date(),
		TradingEnabled:   enabled,
		Paper:            e.cfg.Paper,
		Balance:          e.balance.Cash,
		PortfolioValue:   e.balance.PortfolioValue,
		DailyStartEquity: e.budget.StartEquity(),
		PnLToday:         pnl,
		SpendableCash:    e.budget.Spendable(e.balance.Cash),
		OrdersToday:      e.ordersToday,
		OpenOrders:       openOrders,
		Positions:        positions,
		Decisions:        e.decisions,
	}
	if err := e.status.Write(s); err != nil {
		e.log.Warn("status write failed", "err", err)
	}
}

func inventoryCap(equity, perDollar float64) int {
	n := int(equity * perDollar)
	if n < 1 {
		n = 1
	}
	return n
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
