package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyWatcher fails its first subscription, then delivers ids.
type flakyWatcher struct {
	mu    sync.Mutex
	calls int
	ids   []ethcommon.Hash
}

func (w *flakyWatcher) WatchReservations(ctx context.Context, sink chan<- ethcommon.Hash) (event.Subscription, error) {
	w.mu.Lock()
	w.calls++
	call := w.calls
	w.mu.Unlock()

	if call == 1 {
		return nil, errors.New("dial ws: connection refused")
	}
	if call == 2 {
		return event.NewSubscription(func(quit <-chan struct{}) error {
			return errors.New("stream reset")
		}), nil
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, id := range w.ids {
			select {
			case sink <- id:
			case <-quit:
				return nil
			}
		}
		<-quit
		return nil
	}), nil
}

func (w *flakyWatcher) Calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func TestSubscriber_ResubscribesAndEnqueues(t *testing.T) {
	a := ethcommon.HexToHash("0x0a")
	b := ethcommon.HexToHash("0x0b")
	w := &flakyWatcher{ids: []ethcommon.Hash{a, b, a}}
	q := NewQueue(1, 10, nil)

	s := NewSubscriber(w, q, logging.NewNop())
	s.backoff = &backoff.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return q.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, w.Calls())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
