// Package sweeper runs periodic housekeeping on a cron schedule.
package sweeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) (int, error)

// Sweeper runs its tasks on a schedule. A run that is still going when the
// next tick fires is not started twice.
type Sweeper struct {
	cron  *cron.Cron
	group singleflight.Group
	log   logging.Logger

	mu  sync.Mutex
	ctx context.Context
}

func New(log logging.Logger) *Sweeper {
	return &Sweeper{
		cron: cron.New(),
		log:  log.With("module", "sweeper"),
		ctx:  context.Background(),
	}
}

// Add schedules task under name. schedule uses the standard five-field cron
// syntax or descriptors like "@every 1m".
func (s *Sweeper) Add(schedule, name string, task Task) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.Run(ctx, name, task)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Run executes task once, collapsing concurrent runs of the same name.
func (s *Sweeper) Run(ctx context.Context, name string, task Task) {
	_, _, _ = s.group.Do(name, func() (any, error) {
		n, err := task(ctx)
		if err != nil {
			s.log.Error(ctx, "sweep failed", "task", name, "error", err)
			return nil, err
		}
		if n > 0 {
			s.log.Debug(ctx, "sweep done", "task", name, "affected", n)
		}
		return n, nil
	})
}

// Start begins firing scheduled tasks with ctx.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the schedule and waits for running tasks.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
