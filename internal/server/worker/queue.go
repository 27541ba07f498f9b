// Package worker runs the finalization pipeline: a deduplicating queue of
// reservation ids drained by a fixed pool, fed by a chain event
// subscription.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
)

// Executor handles one reservation id.
type Executor func(ctx context.Context, reservationID string) error

// ErrSkipped is returned by an Executor that deliberately ignored an id.
var ErrSkipped = errors.New("reservation skipped")

// Queue holds reservation ids that are waiting or being processed. An id is
// tracked from Enqueue until its executor returns; enqueuing a tracked id is
// a no-op, so one id never runs twice concurrently.
type Queue struct {
	workerCount int
	metrics     *metrics.Collector

	mu      sync.Mutex
	tracked map[string]struct{}
	started bool

	pending  chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewQueue(workerCount, size int, m *metrics.Collector) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	if size <= 0 {
		size = 1024
	}
	return &Queue{
		workerCount: workerCount,
		metrics:     m,
		tracked:     make(map[string]struct{}),
		pending:     make(chan string, size),
		stopCh:      make(chan struct{}),
	}
}

// Enqueue adds id unless it is already tracked or the queue is full.
func (q *Queue) Enqueue(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.tracked[id]; ok {
		q.metrics.RecordWorker("duplicate")
		return false
	}
	select {
	case q.pending <- id:
	default:
		q.metrics.RecordWorker("queue_full")
		return false
	}
	q.tracked[id] = struct{}{}
	q.metrics.RecordWorker("enqueued")
	q.metrics.SetQueueDepth(len(q.tracked))
	return true
}

// Len is the number of tracked ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracked)
}

// Start launches the worker pool. ctx is passed to every executor call.
func (q *Queue) Start(ctx context.Context, exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(ctx, exec)
	}
}

// Stop waits for in-flight executions to return. Queued ids are discarded.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

func (q *Queue) worker(ctx context.Context, exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case id := <-q.pending:
			err := exec(ctx, id)
			q.done(id, err)
		}
	}
}

func (q *Queue) done(id string, err error) {
	q.mu.Lock()
	delete(q.tracked, id)
	depth := len(q.tracked)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	if errors.Is(err, ErrSkipped) {
		q.metrics.RecordWorker("skipped")
		return
	}
	if err != nil {
		q.metrics.RecordWorker("failed")
		return
	}
	q.metrics.RecordWorker("finalized")
}
