package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
)

// MemoryRepository is a process-local Repository used when no DSN is
// configured and in service tests. A single mutex makes each conditional
// update atomic per row.
type MemoryRepository struct {
	mu   sync.Mutex
	jobs map[string]*models.PublishJob
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{jobs: make(map[string]*models.PublishJob), now: time.Now}
}

func (r *MemoryRepository) Create(_ context.Context, job *models.PublishJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return common.ErrVersionConflict
	}
	now := r.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Version = 1
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.PublishJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryRepository) GetByReservationID(_ context.Context, reservationID string) (*models.PublishJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, job := range r.jobs {
		if job.ReservationID != "" && job.ReservationID == reservationID {
			return job.Clone(), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *MemoryRepository) Update(_ context.Context, job *models.PublishJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok || stored.Version != job.Version {
		return common.ErrVersionConflict
	}
	if job.ReservationID != "" {
		for id, other := range r.jobs {
			if id != job.ID && other.ReservationID == job.ReservationID {
				return common.ErrVersionConflict
			}
		}
	}

	job.Version++
	job.UpdatedAt = r.now().UTC()
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryRepository) ListExpirable(_ context.Context, cutoff uint64) ([]*models.PublishJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.PublishJob
	for _, job := range r.jobs {
		if job.State != models.StateAwaitingPayment && job.State != models.StateReserved {
			continue
		}
		if job.Quote != nil && job.Quote.ExpiresAt < cutoff {
			result = append(result, job.Clone())
		}
	}
	return result, nil
}
