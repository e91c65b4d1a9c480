package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
)

const (
	orderCacheTTL = 1 * time.Second
	requoteEvery  = 2 * time.Second
)

// Placement is a successfully submitted order plus the exchange's ack.
type Placement struct {
	Order  domain.Order
	Result ports.CreateOrderResult
}

// ApplyReport is the outcome of reconciling one desired order against the
// book: what was cancelled, whether an existing order already satisfied the
// desire, and what was newly placed.
type ApplyReport struct {
	Matched      bool
	Placed       *Placement
	ReleasedCost float64 // capital freed by cancels
}

// Reconciler owns the engine's view of its resting orders. It caches order
// fetches briefly, enforces client-side TTLs, and converges the book toward
// the strategy's desired order with the minimum number of API calls.
//
// A fetch failure never downgrades to "no orders": the last known set is
// served stale, and with no cache at all the error propagates so the caller
// skips the tick.
type Reconciler struct {
	ex    ports.Exchange
	store ports.TradeStore
	log   *slog.Logger
	now   func() time.Time

	cacheTTL time.Duration
	requote  time.Duration

	cache     map[string]*orderCache
	lastCycle map[string]time.Time
}

type orderCache struct {
	orders  []domain.Order
	fetched time.Time
}

func NewReconciler(ex ports.Exchange, store ports.TradeStore, log *slog.Logger) *Reconciler {
	return &Reconciler{
		ex:        ex,
		store:     store,
		log:       log,
		now:       time.Now,
		cacheTTL:  orderCacheTTL,
		requote:   requoteEvery,
		cache:     make(map[string]*orderCache),
		lastCycle: make(map[string]time.Time),
	}
}

// ShouldRequote reports whether the ticker's requote interval has elapsed,
// stamping a new cycle when it has. Between cycles resting orders stand
// untouched, whatever the market does.
func (r *Reconciler) ShouldRequote(ticker string) bool {
	now := r.now()
	if last, ok := r.lastCycle[ticker]; ok && now.Sub(last) < r.requote {
		return false
	}
	r.lastCycle[ticker] = now
	return true
}

// OpenOrders returns the active orders for a ticker, served from cache when
// fresh. On a fetch failure the stale cache is returned if one exists;
// otherwise the error propagates and the caller must treat the book state as
// unknown.
func (r *Reconciler) OpenOrders(ctx context.Context, ticker string) ([]domain.Order, error) {
	c := r.cache[ticker]
	if c != nil && r.now().Sub(c.fetched) < r.cacheTTL {
		return c.orders, nil
	}

	orders, err := r.ex.Orders(ctx, ticker)
	if err != nil {
		if c != nil {
			r.log.Warn("order fetch failed, serving stale cache",
				"ticker", ticker, "age", r.now().Sub(c.fetched), "err", err)
			return c.orders, nil
		}
		return nil, fmt.Errorf("engine: open orders for %s: %w", ticker, err)
	}

	active := orders[:0]
	for _, o := range orders {
		if o.Active() {
			active = append(active, o)
		}
	}
	r.cache[ticker] = &orderCache{orders: active, fetched: r.now()}
	return active, nil
}

// CancelExpired cancels every order whose client-order-id encoded lifetime
// has elapsed and returns the survivors plus the capital freed. Orders this
// engine did not mint carry no known lifetime and are left alone.
func (r *Reconciler) CancelExpired(ctx context.Context, ticker string, orders []domain.Order) ([]domain.Order, float64) {
	now := r.now()
	var kept []domain.Order
	var released float64
	for _, o := range orders {
		expiry, ok := domain.ClientOrderExpiry(o.ClientOrderID)
		if !ok || now.Before(expiry) {
			kept = append(kept, o)
			continue
		}
		if err := r.cancel(ctx, o); err != nil {
			r.log.Warn("cancel of expired order failed", "ticker", ticker, "order_id", o.ID, "err", err)
			kept = append(kept, o)
			continue
		}
		released += o.Cost()
		r.log.Info("order expired", "ticker", ticker, "order_id", o.ID, "age", now.Sub(o.PlacedAt))
	}
	if len(kept) != len(orders) {
		r.setCache(ticker, kept)
	}
	return kept, released
}

// Clear cancels every active order for the ticker and returns the capital
// freed. A cancel failure leaves the order in the cache for the next pass.
func (r *Reconciler) Clear(ctx context.Context, ticker string) (float64, error) {
	orders, err := r.OpenOrders(ctx, ticker)
	if err != nil {
		return 0, err
	}
	var released float64
	var kept []domain.Order
	for _, o := range orders {
		if err := r.cancel(ctx, o); err != nil {
			r.log.Warn("cancel failed", "ticker", ticker, "order_id", o.ID, "err", err)
			kept = append(kept, o)
			continue
		}
		released += o.Cost()
	}
	r.setCache(ticker, kept)
	return released, nil
}

// Apply converges the ticker's book toward one desired order. A resting
// order on the same side at the same price with at least the desired
// quantity satisfies the desire as-is; everything else is cancelled and the
// desired order is placed.
func (r *Reconciler) Apply(ctx context.Context, desired domain.DesiredOrder, open []domain.Order) (ApplyReport, error) {
	var rep ApplyReport
	var kept []domain.Order

	for _, o := range open {
		if !rep.Matched && o.Side == desired.Side && o.Price == desired.Price && o.Remaining >= desired.Quantity {
			rep.Matched = true
			kept = append(kept, o)
			continue
		}
		if err := r.cancel(ctx, o); err != nil {
			kept = append(kept, o)
			r.setCache(desired.Ticker, kept)
			return rep, fmt.Errorf("engine: cancel %s: %w", o.ID, err)
		}
		rep.ReleasedCost += o.Cost()
	}

	if rep.Matched {
		r.setCache(desired.Ticker, kept)
		return rep, nil
	}

	now := r.now()
	expiry := now.Add(desired.TTL)
	req := ports.CreateOrderRequest{
		Ticker:        desired.Ticker,
		Side:          desired.Side,
		Price:         desired.Price,
		Quantity:      desired.Quantity,
		ClientOrderID: domain.NewClientOrderID(expiry),
	}
	res, err := r.ex.CreateOrder(ctx, req)
	if err != nil {
		// The order may or may not have reached the book; next tick's
		// fetch resolves it. Never retry blind.
		delete(r.cache, desired.Ticker)
		return rep, fmt.Errorf("engine: place %s: %w", desired.Ticker, err)
	}

	placed := domain.Order{
		ID:            res.OrderID,
		Ticker:        desired.Ticker,
		Side:          desired.Side,
		Price:         desired.Price,
		Quantity:      desired.Quantity,
		Remaining:     desired.Quantity - res.FilledCount,
		Status:        res.Status,
		ClientOrderID: req.ClientOrderID,
		PlacedAt:      now,
		ExpiresAt:     expiry,
	}
	rep.Placed = &Placement{Order: placed, Result: res}
	if placed.Active() {
		kept = append(kept, placed)
	}
	r.setCache(desired.Ticker, kept)
	return rep, nil
}

func (r *Reconciler) cancel(ctx context.Context, o domain.Order) error {
	if err := r.ex.CancelOrder(ctx, o.ID); err != nil {
		return err
	}
	if err := r.store.MarkOrderTerminal(ctx, o.ID, domain.StatusCancelled); err != nil {
		r.log.Warn("marking cancelled order in store failed", "order_id", o.ID, "err", err)
	}
	return nil
}

func (r *Reconciler) setCache(ticker string, orders []domain.Order) {
	r.cache[ticker] = &orderCache{orders: orders, fetched: r.now()}
}
