package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/chain"
	"github.com/ABCWORK9/mintydoc/internal/server/metrics"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/ratelimit"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/jobs"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/repomanager"
	"github.com/ABCWORK9/mintydoc/internal/server/storage/blob"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sethvargo/go-retry"
)

const defaultMIME = "application/octet-stream"

// ErrDropped marks a reservation the finalizer decided not to act on.
var ErrDropped = errors.New("reservation dropped")

// ReservationChain is the contract surface the finalizer needs.
type ReservationChain interface {
	Reservation(ctx context.Context, id ethcommon.Hash) (*chain.Reservation, error)
	Finalize(ctx context.Context, id ethcommon.Hash, arTx, title, mime string) (string, error)
}

// PermanentStore uploads a payload to the permanent-storage network.
type PermanentStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type FinalizeSettings struct {
	MaxAttempts int
	RetryStep   time.Duration
}

// FinalizeService turns an on-chain reservation into a finalized job.
type FinalizeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	chain       ReservationChain
	store       blob.Store
	permanent   PermanentStore
	limiter     *ratelimit.Limiter
	settings    FinalizeSettings
	metrics     *metrics.Collector
	log         logging.Logger
	now         func() time.Time
}

func NewFinalizeService(db *sql.DB, rm repomanager.RepositoryManager, c ReservationChain, store blob.Store,
	permanent PermanentStore, limiter *ratelimit.Limiter, settings FinalizeSettings, m *metrics.Collector, log logging.Logger) *FinalizeService {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 1
	}
	return &FinalizeService{
		db:          db,
		repomanager: rm,
		chain:       c,
		store:       store,
		permanent:   permanent,
		limiter:     limiter,
		settings:    settings,
		metrics:     m,
		log:         log.With("module", "finalizer"),
		now:         time.Now,
	}
}

// Process finalizes one reservation. Reservations that are not live on
// chain, or have no matching job, return ErrDropped. Other errors are
// recorded on the job and the reservation is left to expire or be retried
// by an operator.
func (s *FinalizeService) Process(ctx context.Context, reservationID string) error {
	log := s.log.With("reservation_id", reservationID)

	raw, err := hexutil.Decode(reservationID)
	if err != nil || len(raw) != 32 {
		log.Warn(ctx, "malformed reservation id")
		return ErrDropped
	}
	id := ethcommon.BytesToHash(raw)

	r, err := s.chain.Reservation(ctx, id)
	if err != nil {
		return fmt.Errorf("read reservation: %w", err)
	}
	if r.Status != chain.StatusReserved || r.Expired(s.now()) {
		log.Info(ctx, "reservation not live, skipping", "status", r.Status.String(), "expires_at", r.ExpiresAt)
		return ErrDropped
	}

	repo := s.repomanager.Jobs(s.db)
	job, err := repo.GetByReservationID(ctx, id.Hex())
	if errors.Is(err, common.ErrorNotFound) {
		log.Warn(ctx, "no job for reservation")
		return ErrDropped
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	log = log.With("job_id", job.ID)

	job, err = mutateJob(ctx, repo, job.ID, func(j *models.PublishJob) error {
		switch j.State {
		case models.StateReserved:
			return errNoChange
		case models.StateAwaitingPayment:
			j.State = models.StateReserved
			return nil
		}
		return common.Conflict("job_not_reservable")
	})
	if errors.Is(err, errNoChange) {
		err = nil
	}
	if err != nil {
		log.Warn(ctx, "job cannot be bound to reservation", "error", err)
		return ErrDropped
	}

	title := job.Title
	if title == "" {
		title = job.SHA256
	}
	mime := job.ContentType
	if mime == "" {
		mime = defaultMIME
	}

	arTx := job.ArweaveTxID
	if arTx == "" {
		arTx, err = s.upload(ctx, repo, job)
		if err != nil {
			log.Error(ctx, "permanent upload failed, dropping", "error", err)
			return err
		}
	}

	txHash, err := s.chain.Finalize(ctx, id, arTx, title, mime)
	if err != nil {
		s.record(ctx, repo, job.ID, 0, fmt.Errorf("finalize: %w", err))
		log.Error(ctx, "finalize transaction failed", "error", err, "tx_hash", txHash)
		return err
	}

	// The sweeper may have expired the job while the upload ran. The chain
	// accepted finalizePost, so that outcome wins over the local expiry.
	var lapsed bool
	_, err = mutateJob(ctx, repo, job.ID, func(j *models.PublishJob) error {
		switch j.State {
		case models.StateReserved:
			lapsed = false
		case models.StateExpired:
			lapsed = true
		default:
			return common.Conflict("job_not_finalizable")
		}
		j.State = models.StateFinalized
		j.FinalizeTxHash = txHash
		j.LastError = ""
		return nil
	})
	if err != nil {
		log.Error(ctx, "finalized on chain but job not updated", "error", err, "tx_hash", txHash)
		return err
	}

	if lapsed {
		log.Warn(ctx, "job expired locally before finalize confirmed", "tx_hash", txHash)
	}
	s.limiter.ReleaseActive(payerOf(job), job.ID)
	log.Info(ctx, "reservation finalized", "ar_tx", arTx, "tx_hash", txHash)
	return nil
}

// upload reads the payload and posts it, retrying with linear backoff.
func (s *FinalizeService) upload(ctx context.Context, repo jobs.Repository, job *models.PublishJob) (string, error) {
	data, err := s.store.Fetch(ctx, job.ObjectKey)
	if err != nil {
		err = fmt.Errorf("fetch payload: %w", err)
		s.record(ctx, repo, job.ID, 0, err)
		return "", err
	}

	mime := job.ContentType
	if mime == "" {
		mime = defaultMIME
	}

	var (
		arTx     string
		attempts int
	)
	b := retry.WithMaxRetries(uint64(s.settings.MaxAttempts-1), linearBackoff(s.settings.RetryStep))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempts++
		tx, err := s.permanent.Upload(ctx, data, mime)
		s.metrics.RecordArweaveAttempt(err)
		if err != nil {
			s.log.Warn(ctx, "permanent upload attempt failed", "job_id", job.ID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		arTx = tx
		return nil
	})
	if err != nil {
		s.record(ctx, repo, job.ID, attempts, err)
		return "", err
	}

	_, err = mutateJob(ctx, repo, job.ID, func(j *models.PublishJob) error {
		j.ArweaveTxID = arTx
		j.Attempts += attempts
		return nil
	})
	if err != nil {
		return "", err
	}
	return arTx, nil
}

// linearBackoff waits step, 2*step, 3*step and so on between attempts.
func linearBackoff(step time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return step * time.Duration(n), false
	})
}

// record stores a failure on the job without changing its state.
func (s *FinalizeService) record(ctx context.Context, repo jobs.Repository, id string, attempts int, cause error) {
	_, err := mutateJob(ctx, repo, id, func(j *models.PublishJob) error {
		j.LastError = cause.Error()
		j.Attempts += attempts
		return nil
	})
	if err != nil {
		s.log.Warn(ctx, "could not record finalize failure", "job_id", id, "error", err)
	}
}

func payerOf(j *models.PublishJob) string {
	if j.Quote != nil && j.Quote.Payer != "" {
		return j.Quote.Payer
	}
	return j.Wallet
}
