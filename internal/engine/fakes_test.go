package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/acortes/kalmaker/internal/domain"
	"github.com/acortes/kalmaker/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeExchange struct {
	balance    ports.Balance
	balanceErr error

	positions    []domain.Position
	positionsErr error

	orders      []domain.Order
	ordersErr   error
	ordersCalls int

	created   []ports.CreateOrderRequest
	createErr error
	fillCount int

	cancelled []string
	cancelErr error
}

func (f *fakeExchange) Balance(context.Context) (ports.Balance, error) {
	return f.balance, f.balanceErr
}

func (f *fakeExchange) Positions(context.Context) ([]domain.Position, error) {
	return f.positions, f.positionsErr
}

func (f *fakeExchange) Orders(_ context.Context, ticker string) ([]domain.Order, error) {
	f.ordersCalls++
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	if ticker == "" {
		return f.orders, nil
	}
	var out []domain.Order
	for _, o := range f.orders {
		if o.Ticker == ticker {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req ports.CreateOrderRequest) (ports.CreateOrderResult, error) {
	if f.createErr != nil {
		return ports.CreateOrderResult{}, f.createErr
	}
	f.created = append(f.created, req)
	return ports.CreateOrderResult{
		OrderID:     fmt.Sprintf("ord-%d", len(f.created)),
		Status:      domain.StatusResting,
		FilledCount: f.fillCount,
	}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, orderID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type fakeStore struct {
	records   []ports.OrderRecord
	snapshots []ports.Snapshot
	openIDs   []string
	terminal  map[string]domain.OrderStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{terminal: make(map[string]domain.OrderStatus)}
}

func (f *fakeStore) SaveOrder(_ context.Context, rec ports.OrderRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) CountOrdersSince(_ context.Context, since time.Time) (int, error) {
	n := 0
	for _, r := range f.records {
		if !r.ExecTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) OrdersSince(_ context.Context, since time.Time) ([]ports.OrderRecord, error) {
	var out []ports.OrderRecord
	for _, r := range f.records {
		if !r.ExecTime.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveSnapshot(_ context.Context, snap ports.Snapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeStore) LatestSnapshot(context.Context) (ports.Snapshot, bool, error) {
	if len(f.snapshots) == 0 {
		return ports.Snapshot{}, false, nil
	}
	return f.snapshots[len(f.snapshots)-1], true, nil
}

func (f *fakeStore) OpenLocalOrders(context.Context) ([]string, error) {
	var open []string
	for _, id := range f.openIDs {
		if _, done := f.terminal[id]; !done {
			open = append(open, id)
		}
	}
	return open, nil
}

func (f *fakeStore) MarkOrderTerminal(_ context.Context, orderID string, status domain.OrderStatus) error {
	f.terminal[orderID] = status
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeTicks struct {
	queue [][]domain.Quote
	err   error
}

func (f *fakeTicks) Poll() ([]domain.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	head := f.queue[0]
	f.queue = f.queue[1:]
	return head, nil
}
