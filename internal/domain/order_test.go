package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOrderID_RoundTrip(t *testing.T) {
	expiry := time.Now().Add(15 * time.Second).Truncate(time.Second)
	id := NewClientOrderID(expiry)

	got, ok := ClientOrderExpiry(id)
	require.True(t, ok)
	assert.True(t, got.Equal(expiry))
}

func TestClientOrderID_Unique(t *testing.T) {
	expiry := time.Now()
	assert.NotEqual(t, NewClientOrderID(expiry), NewClientOrderID(expiry))
}

func TestClientOrderExpiry_ForeignIDs(t *testing.T) {
	for _, id := range []string{"", "abc", "MM_", "MM_x_y", "dashboard_123_ab"} {
		_, ok := ClientOrderExpiry(id)
		assert.False(t, ok, "id %q", id)
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.False(t, StatusResting.Terminal())
	for _, s := range []OrderStatus{StatusExecuted, StatusCancelled, StatusExpired, StatusRejected} {
		assert.True(t, s.Terminal(), string(s))
	}
}

func TestOrder_Active(t *testing.T) {
	o := Order{Remaining: 5, Status: StatusResting}
	assert.True(t, o.Active())

	o.Remaining = 0
	assert.False(t, o.Active())

	o = Order{Remaining: 5, Status: StatusCancelled}
	assert.False(t, o.Active())
}

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, SideNo, SideYes.Opposite())
	assert.Equal(t, SideYes, SideNo.Opposite())
}
