// Package ratelimit holds the process-wide admission state for reservation
// intents: per-IP and per-wallet fixed-window counters, the
// one-active-reservation lock per wallet and a short-lived client request
// id cache.
//
// All state is in memory. Running more than one server instance requires
// moving it to a shared store.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const walletWindow = time.Hour

type Limits struct {
	IPRequests     int
	IPWindow       time.Duration
	WalletPerHour  int
	IdempotencyTTL time.Duration
	CacheSize      int
}

// window counts events since start. A window is reset, not slid, once
// its length has elapsed.
type window struct {
	start time.Time
	count int
}

func (w *window) roll(now time.Time, length time.Duration) {
	if now.Sub(w.start) >= length {
		w.start = now
		w.count = 0
	}
}

type active struct {
	jobID     string
	expiresAt time.Time
}

type Limiter struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	ips     map[string]*window
	wallets map[string]*window
	active  map[string]active

	// seen maps wallet|clientRequestId to the time it was last used. The
	// LRU only bounds memory; expiry is decided against now.
	seen *expirable.LRU[string, time.Time]
}

func New(limits Limits) *Limiter {
	size := limits.CacheSize
	if size <= 0 {
		size = 10000
	}
	return &Limiter{
		limits:  limits,
		now:     time.Now,
		ips:     make(map[string]*window),
		wallets: make(map[string]*window),
		active:  make(map[string]active),
		seen:    expirable.NewLRU[string, time.Time](size, nil, 2*limits.IdempotencyTTL),
	}
}

func counter(m map[string]*window, key string, now time.Time) *window {
	w, ok := m[key]
	if !ok {
		w = &window{start: now}
		m[key] = w
	}
	return w
}

// AllowIP counts one request against ip's window. The request is rejected
// once the window already holds IPRequests. An unknown ip is not limited.
func (l *Limiter) AllowIP(ip string) bool {
	if ip == "" || l.limits.IPRequests <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := counter(l.ips, ip, now)
	w.roll(now, l.limits.IPWindow)
	if w.count >= l.limits.IPRequests {
		return false
	}
	w.count++
	return true
}

// SeenRequest records clientRequestID for wallet and reports whether the
// same id was already used within the idempotency TTL.
func (l *Limiter) SeenRequest(wallet, clientRequestID string) bool {
	if clientRequestID == "" {
		return false
	}
	key := wallet + "|" + clientRequestID
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.seen.Get(key)
	l.seen.Add(key, now)
	return ok && now.Sub(last) < l.limits.IdempotencyTTL
}

// HasOtherActive reports whether wallet holds an unexpired reservation for
// a job other than jobID.
func (l *Limiter) HasOtherActive(wallet, jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.active[wallet]
	if !ok {
		return false
	}
	if !l.now().Before(a.expiresAt) {
		delete(l.active, wallet)
		return false
	}
	return a.jobID != jobID
}

// Ticket is a provisionally counted hourly reservation slot.
type Ticket struct {
	lim    *Limiter
	wallet string
	start  time.Time
}

// Cancel returns the slot when the quote could not be issued. A slot taken
// in a window that has since rolled over is already gone.
func (t *Ticket) Cancel() {
	if t == nil {
		return
	}
	l := t.lim
	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.wallets[t.wallet]; ok && w.start.Equal(t.start) && w.count > 0 {
		w.count--
	}
}

// ReserveWallet takes one slot from wallet's hourly quota. ok is false when
// the quota is exhausted.
func (l *Limiter) ReserveWallet(wallet string) (*Ticket, bool) {
	if l.limits.WalletPerHour <= 0 {
		return nil, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := counter(l.wallets, wallet, now)
	w.roll(now, walletWindow)
	if w.count >= l.limits.WalletPerHour {
		return nil, false
	}
	w.count++
	return &Ticket{lim: l, wallet: wallet, start: w.start}, true
}

// MarkActive locks wallet to jobID until expiresAt.
func (l *Limiter) MarkActive(wallet, jobID string, expiresAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[wallet] = active{jobID: jobID, expiresAt: expiresAt}
}

// ReleaseActive drops wallet's lock if it still belongs to jobID.
func (l *Limiter) ReleaseActive(wallet, jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.active[wallet]; ok && a.jobID == jobID {
		delete(l.active, wallet)
	}
}

// Sweep evicts elapsed windows and expired active locks.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, w := range l.ips {
		if now.Sub(w.start) >= l.limits.IPWindow {
			delete(l.ips, k)
		}
	}
	for k, w := range l.wallets {
		if now.Sub(w.start) >= walletWindow {
			delete(l.wallets, k)
		}
	}
	for k, a := range l.active {
		if !now.Before(a.expiresAt) {
			delete(l.active, k)
		}
	}
}

// Size returns the number of tracked IPs, wallets and active locks.
func (l *Limiter) Size() (ips, wallets, actives int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ips), len(l.wallets), len(l.active)
}

// RunJanitor calls Sweep every interval until ctx is done.
func (l *Limiter) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
