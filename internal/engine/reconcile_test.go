package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acortes/kalmaker/internal/domain"
)

var errFetch = errors.New("no response after retries")

func testReconciler(ex *fakeExchange, store *fakeStore) (*Reconciler, *time.Time) {
	r := NewReconciler(ex, store, discardLogger())
	now := time.Date(2025, 8, 29, 14, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func restingOrder(id, ticker string, side domain.Side, price, qty int, expiry time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		Ticker:        ticker,
		Side:          side,
		Price:         price,
		Quantity:      qty,
		Remaining:     qty,
		Status:        domain.StatusResting,
		ClientOrderID: domain.NewClientOrderID(expiry),
	}
}

func TestOpenOrders_CachesWithinTTL(t *testing.T) {
	ex := &fakeExchange{}
	r, now := testReconciler(ex, newFakeStore())
	ex.orders = []domain.Order{restingOrder("o1", "T", domain.SideYes, 30, 10, now.Add(time.Minute))}

	_, err := r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	_, err = r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, 1, ex.ordersCalls, "second call within TTL served from cache")

	*now = now.Add(2 * time.Second)
	_, err = r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, 2, ex.ordersCalls)
}

func TestOpenOrders_ServesStaleOnFetchFailure(t *testing.T) {
	ex := &fakeExchange{}
	r, now := testReconciler(ex, newFakeStore())
	ex.orders = []domain.Order{restingOrder("o1", "T", domain.SideYes, 30, 10, now.Add(time.Minute))}

	first, err := r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	require.Len(t, first, 1)

	*now = now.Add(2 * time.Second)
	ex.ordersErr = errFetch

	stale, err := r.OpenOrders(context.Background(), "T")
	require.NoError(t, err, "stale cache stands in for a transient failure")
	assert.Equal(t, first, stale)
}

func TestOpenOrders_NoCacheFailurePropagates(t *testing.T) {
	ex := &fakeExchange{ordersErr: errFetch}
	r, _ := testReconciler(ex, newFakeStore())

	_, err := r.OpenOrders(context.Background(), "T")
	require.ErrorIs(t, err, errFetch, "unknown state must not look like an empty book")
}

func TestCancelExpired(t *testing.T) {
	ex := &fakeExchange{}
	store := newFakeStore()
	r, now := testReconciler(ex, store)

	expired := restingOrder("old", "T", domain.SideYes, 30, 10, now.Add(-time.Second))
	live := restingOrder("new", "T", domain.SideYes, 30, 10, now.Add(time.Minute))
	foreign := restingOrder("manual", "T", domain.SideYes, 40, 5, time.Time{})
	foreign.ClientOrderID = "someone-elses-id"

	kept, released := r.CancelExpired(context.Background(), "T", []domain.Order{expired, live, foreign})

	require.Len(t, kept, 2)
	assert.Equal(t, []string{"old"}, ex.cancelled)
	assert.Equal(t, domain.StatusCancelled, store.terminal["old"])
	assert.InDelta(t, expired.Cost(), released, 1e-9)
}

func TestApply_ExistingOrderSatisfiesDesire(t *testing.T) {
	ex := &fakeExchange{}
	r, now := testReconciler(ex, newFakeStore())

	open := []domain.Order{restingOrder("o1", "T", domain.SideYes, 30, 20, now.Add(time.Minute))}
	desired := domain.DesiredOrder{Ticker: "T", Side: domain.SideYes, Price: 30, Quantity: 15, TTL: 15 * time.Second}

	rep, err := r.Apply(context.Background(), desired, open)
	require.NoError(t, err)
	assert.True(t, rep.Matched)
	assert.Nil(t, rep.Placed)
	assert.Empty(t, ex.created)
	assert.Empty(t, ex.cancelled)
}

func TestApply_ReplacesMismatchedOrder(t *testing.T) {
	ex := &fakeExchange{}
	r, now := testReconciler(ex, newFakeStore())

	stale := restingOrder("o1", "T", domain.SideYes, 35, 20, now.Add(time.Minute))
	desired := domain.DesiredOrder{Ticker: "T", Side: domain.SideYes, Price: 30, Quantity: 15, TTL: 15 * time.Second}

	rep, err := r.Apply(context.Background(), desired, []domain.Order{stale})
	require.NoError(t, err)
	require.NotNil(t, rep.Placed)

	assert.Equal(t, []string{"o1"}, ex.cancelled)
	require.Len(t, ex.created, 1)
	assert.Equal(t, 30, ex.created[0].Price)
	assert.Equal(t, 15, ex.created[0].Quantity)
	assert.InDelta(t, stale.Cost(), rep.ReleasedCost, 1e-9)

	expiry, ok := domain.ClientOrderExpiry(ex.created[0].ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, now.Add(15*time.Second).Unix(), expiry.Unix())
}

func TestShouldRequote(t *testing.T) {
	r, now := testReconciler(&fakeExchange{}, newFakeStore())

	assert.True(t, r.ShouldRequote("T"), "first cycle always runs")

	*now = now.Add(500 * time.Millisecond)
	assert.False(t, r.ShouldRequote("T"), "inside the interval")

	*now = now.Add(2 * time.Second)
	assert.True(t, r.ShouldRequote("T"), "interval elapsed")

	assert.True(t, r.ShouldRequote("U"), "intervals are per market")
}

func TestApply_PlaceFailureInvalidatesCache(t *testing.T) {
	ex := &fakeExchange{}
	r, _ := testReconciler(ex, newFakeStore())

	_, err := r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	require.Equal(t, 1, ex.ordersCalls)

	ex.createErr = errFetch
	desired := domain.DesiredOrder{Ticker: "T", Side: domain.SideYes, Price: 30, Quantity: 10, TTL: 15 * time.Second}
	_, err = r.Apply(context.Background(), desired, nil)
	require.ErrorIs(t, err, errFetch)

	// The order may have reached the book anyway: the next read must go to
	// the exchange, not the cache.
	ex.createErr = nil
	_, err = r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, 2, ex.ordersCalls)
}

func TestClear_CancelsEverything(t *testing.T) {
	ex := &fakeExchange{}
	store := newFakeStore()
	r, now := testReconciler(ex, store)

	ex.orders = []domain.Order{
		restingOrder("o1", "T", domain.SideYes, 30, 10, now.Add(time.Minute)),
		restingOrder("o2", "T", domain.SideYes, 31, 5, now.Add(time.Minute)),
	}

	released, err := r.Clear(context.Background(), "T")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"o1", "o2"}, ex.cancelled)
	assert.Greater(t, released, 0.0)

	open, err := r.OpenOrders(context.Background(), "T")
	require.NoError(t, err)
	assert.Empty(t, open, "cache reflects the cleared book")
}
