package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/ratelimit"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
)

// ExpiryService moves jobs whose reservation window has lapsed to expired.
type ExpiryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	limiter     *ratelimit.Limiter
	grace       time.Duration
	metrics     *metrics.Collector
	log         logging.Logger
	now         func() time.Time
}

func NewExpiryService(db *sql.DB, rm repomanager.RepositoryManager, limiter *ratelimit.Limiter, grace time.Duration,
	m *metrics.Collector, log logging.Logger) *ExpiryService {
	return &ExpiryService{
		db:          db,
		repomanager: rm,
		limiter:     limiter,
		grace:       grace,
		metrics:     m,
		log:         log.With("module", "expiry"),
		now:         time.Now,
	}
}

// ExpireDue expires every awaiting_payment or reserved job whose quote ran
// out more than the grace period ago. It returns how many were expired.
func (s *ExpiryService) ExpireDue(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace).Unix()
	if cutoff < 0 {
		return 0, nil
	}

	repo := s.repomanager.Jobs(s.db)
	due, err := repo.ListExpirable(ctx, uint64(cutoff))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, job := range due {
		_, err := mutateJob(ctx, repo, job.ID, func(j *models.PublishJob) error {
			if j.State != models.StateAwaitingPayment && j.State != models.StateReserved {
				return errNoChange
			}
			if j.Quote == nil || int64(j.Quote.ExpiresAt) >= cutoff {
				return errNoChange
			}
			j.State = models.StateExpired
			return nil
		})
		if errors.Is(err, errNoChange) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.log.Warn(ctx, "could not expire job", "job_id", job.ID, "error", err)
			continue
		}
		s.limiter.ReleaseActive(payerOf(job), job.ID)
		expired++
	}

	s.metrics.RecordExpired(expired)
	if expired > 0 {
		s.log.Info(ctx, "expired jobs", "count", expired)
	}
	return expired, nil
}
