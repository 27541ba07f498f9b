package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/jpillora/backoff"
)

var errSubscriptionClosed = errors.New("subscription closed")

// Watcher opens a reservation event stream.
type Watcher interface {
	WatchReservations(ctx context.Context, sink chan<- ethcommon.Hash) (event.Subscription, error)
}

// Subscriber keeps a reservation subscription open and feeds the queue.
// A failed or dropped stream is re-opened after an exponential backoff.
type Subscriber struct {
	watcher Watcher
	queue   *Queue
	backoff *backoff.Backoff
	log     logging.Logger
}

func NewSubscriber(w Watcher, q *Queue, log logging.Logger) *Subscriber {
	return &Subscriber{
		watcher: w,
		queue:   q,
		backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    time.Minute,
			Factor: 2,
			Jitter: true,
		},
		log: log.With("module", "subscriber"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := s.backoff.Duration()
		s.log.Error(ctx, "reservation subscription lost, resubscribing", "error", err, "backoff", wait.String(), "attempt", s.backoff.Attempt())

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	ids := make(chan ethcommon.Hash, 64)
	sub, err := s.watcher.WatchReservations(ctx, ids)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	s.log.Info(ctx, "watching reservations")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case id := <-ids:
			s.backoff.Reset()
			reservationID := id.Hex()
			if s.queue.Enqueue(reservationID) {
				s.log.Info(ctx, "reservation received", "reservation_id", reservationID)
			}
		}
	}
}
