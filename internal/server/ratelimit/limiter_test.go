package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(now *time.Time) *Limiter {
	l := New(Limits{
		IPRequests:     20,
		IPWindow:       10 * time.Minute,
		WalletPerHour:  3,
		IdempotencyTTL: 5 * time.Minute,
	})
	l.now = func() time.Time { return *now }
	return l
}

func TestAllowIP_WindowRollsOver(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	for i := 0; i < 20; i++ {
		require.True(t, l.AllowIP("10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, l.AllowIP("10.0.0.1"), "21st request in the window")
	assert.True(t, l.AllowIP("10.0.0.2"), "other IPs are independent")
	assert.True(t, l.AllowIP(""), "missing IP is not limited")

	now = now.Add(31 * time.Second)
	assert.False(t, l.AllowIP("10.0.0.1"), "capacity does not refill inside the window")

	now = now.Add(9*time.Minute + 28*time.Second)
	assert.False(t, l.AllowIP("10.0.0.1"), "window still open at +9m59s")

	now = now.Add(time.Second)
	assert.True(t, l.AllowIP("10.0.0.1"), "new window")
}

func TestReserveWallet_HourlyCap(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	granted := 0
	for i := 0; i < 60; i++ {
		if _, ok := l.ReserveWallet("0xabc"); ok {
			granted++
		}
		now = now.Add(time.Minute)
	}
	assert.Equal(t, 3, granted)

	_, ok := l.ReserveWallet("0xabc")
	assert.True(t, ok, "hour elapsed")
	_, ok = l.ReserveWallet("0xdef")
	assert.True(t, ok, "wallets are independent")
}

func TestReserveWallet_CancelReturnsSlot(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	for i := 0; i < 10; i++ {
		ticket, ok := l.ReserveWallet("0xabc")
		require.True(t, ok, "attempt %d", i+1)
		now = now.Add(2 * time.Second)
		ticket.Cancel()
	}

	for i := 0; i < 3; i++ {
		_, ok := l.ReserveWallet("0xabc")
		require.True(t, ok, "slot %d", i+1)
	}
	_, ok := l.ReserveWallet("0xabc")
	assert.False(t, ok)
}

func TestReserveWallet_CancelAfterRollover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	stale, ok := l.ReserveWallet("0xabc")
	require.True(t, ok)

	now = now.Add(time.Hour)
	_, ok = l.ReserveWallet("0xabc")
	require.True(t, ok)
	stale.Cancel()

	_, ok = l.ReserveWallet("0xabc")
	require.True(t, ok)
	_, ok = l.ReserveWallet("0xabc")
	require.True(t, ok)
	_, ok = l.ReserveWallet("0xabc")
	assert.False(t, ok, "stale ticket must not free a slot in the new window")

	var nilTicket *Ticket
	assert.NotPanics(t, nilTicket.Cancel)
}

func TestActiveReservation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	assert.False(t, l.HasOtherActive("0xabc", "job-1"))

	l.MarkActive("0xabc", "job-1", now.Add(10*time.Minute))
	assert.False(t, l.HasOtherActive("0xabc", "job-1"), "same job is not blocked")
	assert.True(t, l.HasOtherActive("0xabc", "job-2"))
	assert.False(t, l.HasOtherActive("0xdef", "job-2"))

	l.ReleaseActive("0xabc", "job-other")
	assert.True(t, l.HasOtherActive("0xabc", "job-2"), "release by another job is ignored")

	now = now.Add(10 * time.Minute)
	assert.False(t, l.HasOtherActive("0xabc", "job-2"), "expired lock lapses")

	l.MarkActive("0xabc", "job-1", now.Add(time.Minute))
	l.ReleaseActive("0xabc", "job-1")
	assert.False(t, l.HasOtherActive("0xabc", "job-2"))
}

func TestSeenRequest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	assert.False(t, l.SeenRequest("0xabc", ""))
	assert.False(t, l.SeenRequest("0xabc", ""))

	assert.False(t, l.SeenRequest("0xabc", "req-1"))
	assert.True(t, l.SeenRequest("0xabc", "req-1"))
	assert.False(t, l.SeenRequest("0xdef", "req-1"), "keyed by wallet")
}

func TestSeenRequest_Expires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	assert.False(t, l.SeenRequest("0xabc", "req-1"))

	now = now.Add(4*time.Minute + 59*time.Second)
	assert.True(t, l.SeenRequest("0xabc", "req-1"), "inside the TTL")

	now = now.Add(5 * time.Minute)
	assert.False(t, l.SeenRequest("0xabc", "req-1"), "TTL counts from the last use")
}

func TestSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newTestLimiter(&now)

	l.AllowIP("10.0.0.1")
	l.ReserveWallet("0xabc")
	l.MarkActive("0xabc", "job-1", now.Add(time.Minute))

	l.Sweep()
	ips, wallets, actives := l.Size()
	assert.Equal(t, 1, ips)
	assert.Equal(t, 1, wallets)
	assert.Equal(t, 1, actives)

	now = now.Add(2 * time.Hour)
	l.Sweep()
	ips, wallets, actives = l.Size()
	assert.Zero(t, ips)
	assert.Zero(t, wallets)
	assert.Zero(t, actives)
}
