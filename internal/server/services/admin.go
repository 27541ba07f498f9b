package services

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Enqueuer accepts reservation ids for finalization. It reports false when
// the id is already in flight or the queue is full.
type Enqueuer interface {
	Enqueue(reservationID string) bool
}

// AdminService backs the operator endpoints.
type AdminService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	queue       Enqueuer
	log         logging.Logger
}

func NewAdminService(db *sql.DB, rm repomanager.RepositoryManager, queue Enqueuer, log logging.Logger) *AdminService {
	return &AdminService{db: db, repomanager: rm, queue: queue, log: log.With("module", "admin")}
}

func (s *AdminService) GetJob(ctx context.Context, jobID string) (*models.PublishJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, common.Validation("invalid_jobId")
	}
	return loadJob(ctx, s.repomanager.Jobs(s.db), jobID)
}

// Refund records that an expired job was refunded out of band. Jobs whose
// payload already reached permanent storage are not refundable.
func (s *AdminService) Refund(ctx context.Context, operator, jobID string) (*models.PublishJob, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, common.Validation("invalid_jobId")
	}
	job, err := mutateJob(ctx, s.repomanager.Jobs(s.db), jobID, func(j *models.PublishJob) error {
		if j.State != models.StateExpired {
			return common.Conflict("job_not_refundable")
		}
		// payload already on permanent storage; finalize may still land
		if j.ArweaveTxID != "" || j.FinalizeTxHash != "" {
			return common.Conflict("job_already_published")
		}
		j.State = models.StateRefunded
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "job refunded", "job_id", jobID, "operator", operator)
	return job, nil
}

// Retry puts a reservation back on the finalization queue.
func (s *AdminService) Retry(ctx context.Context, operator, reservationID string) error {
	id := strings.ToLower(strings.TrimSpace(reservationID))
	if b, err := hexutil.Decode(id); err != nil || len(b) != 32 {
		return common.Validation("invalid_reservationId")
	}
	if s.queue == nil {
		return common.Misconfigured(errWorkerDisabled)
	}
	if !s.queue.Enqueue(id) {
		return common.Conflict("reservation_in_flight")
	}
	s.log.Info(ctx, "reservation re-enqueued", "reservation_id", id, "operator", operator)
	return nil
}
