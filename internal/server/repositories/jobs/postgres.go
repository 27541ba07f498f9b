package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/dbx"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
)

const jobColumns = `id, wallet, sha256, size_bytes, content_type, title, object_key, upload_id,
	upload_status, state, reserve_payer, reserve_price_cents, reserve_expires_at, reserve_nonce,
	reserve_intent_created_at, reserve_reservation_id, arweave_tx_id, finalize_tx_hash,
	last_error, attempts, version, created_at, updated_at`

// txAttempts bounds replays of an update that lost a deadlock or
// serialization race.
const txAttempts = 3

// PostgresRepository stores jobs in the publish_jobs table and records state
// changes in publish_job_transitions.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.PublishJob, error) {
	var (
		j             models.PublishJob
		size          int64
		payer, nonce  sql.NullString
		price, expiry sql.NullInt64
		intentAt      sql.NullTime
		reservationID sql.NullString
	)
	err := row.Scan(&j.ID, &j.Wallet, &j.SHA256, &size, &j.ContentType, &j.Title, &j.ObjectKey, &j.UploadID,
		&j.UploadStatus, &j.State, &payer, &price, &expiry, &nonce,
		&intentAt, &reservationID, &j.ArweaveTxID, &j.FinalizeTxHash,
		&j.LastError, &j.Attempts, &j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.SizeBytes = uint64(size)
	j.ReservationID = reservationID.String
	if price.Valid && expiry.Valid && nonce.Valid {
		j.Quote = &models.ReserveQuote{
			Payer:      payer.String,
			PriceCents: uint32(price.Int64),
			ExpiresAt:  uint64(expiry.Int64),
			Nonce:      nonce.String,
		}
		if intentAt.Valid {
			j.Quote.IntentCreatedAt = intentAt.Time
		}
	}
	return &j, nil
}

// quoteArgs flattens the optional quote into nullable column values.
func quoteArgs(j *models.PublishJob) (payer, price, expiry, nonce, intentAt, reservationID any) {
	if j.ReservationID != "" {
		reservationID = j.ReservationID
	}
	if j.Quote == nil {
		return nil, nil, nil, nil, nil, reservationID
	}
	q := j.Quote
	return q.Payer, int64(q.PriceCents), int64(q.ExpiresAt), q.Nonce, q.IntentCreatedAt, reservationID
}

func (r *PostgresRepository) Create(ctx context.Context, job *models.PublishJob) error {
	now := r.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Version = 1

	payer, price, expiry, nonce, intentAt, rid := quoteArgs(job)
	query := `INSERT INTO publish_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	_, err := r.db.ExecContext(ctx, query,
		job.ID, job.Wallet, job.SHA256, int64(job.SizeBytes), job.ContentType, job.Title, job.ObjectKey, job.UploadID,
		string(job.UploadStatus), string(job.State), payer, price, expiry, nonce,
		intentAt, rid, job.ArweaveTxID, job.FinalizeTxHash,
		job.LastError, job.Attempts, job.Version, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) get(ctx context.Context, where string, arg any) (*models.PublishJob, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs WHERE ` + where
	job, err := scanJob(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.PublishJob, error) {
	return r.get(ctx, "id=$1", id)
}

func (r *PostgresRepository) GetByReservationID(ctx context.Context, reservationID string) (*models.PublishJob, error) {
	return r.get(ctx, "reserve_reservation_id=$1", reservationID)
}

// Update locks the row at the expected version, writes every mutable column
// and appends a transition row when the state changed, all in one transaction.
func (r *PostgresRepository) Update(ctx context.Context, job *models.PublishJob) error {
	now := r.now().UTC()

	err := dbx.WithTx(ctx, r.db, nil, txAttempts, func(ctx context.Context, tx dbx.DBTX) error {
		var prev string
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM publish_jobs WHERE id=$1 AND version=$2 FOR UPDATE`,
			job.ID, job.Version).Scan(&prev)
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("failed to lock job: %w", err)
		}

		payer, price, expiry, nonce, intentAt, rid := quoteArgs(job)
		res, err := tx.ExecContext(ctx, `UPDATE publish_jobs SET
				object_key=$3, upload_id=$4, upload_status=$5, state=$6,
				reserve_payer=$7, reserve_price_cents=$8, reserve_expires_at=$9, reserve_nonce=$10,
				reserve_intent_created_at=$11, reserve_reservation_id=$12,
				arweave_tx_id=$13, finalize_tx_hash=$14, last_error=$15, attempts=$16,
				content_type=$17, title=$18, version=version+1, updated_at=$19
			WHERE id=$1 AND version=$2`,
			job.ID, job.Version,
			job.ObjectKey, job.UploadID, string(job.UploadStatus), string(job.State),
			payer, price, expiry, nonce, intentAt, rid,
			job.ArweaveTxID, job.FinalizeTxHash, job.LastError, job.Attempts,
			job.ContentType, job.Title, now)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected error: %w", err)
		}
		if n != 1 {
			return common.ErrVersionConflict
		}

		if prev != string(job.State) {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO publish_job_transitions (job_id, from_state, to_state, last_error, created_at) VALUES ($1, $2, $3, $4, $5)`,
				job.ID, prev, string(job.State), job.LastError, now)
			if err != nil {
				return fmt.Errorf("failed to record transition: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	job.Version++
	job.UpdatedAt = now
	return nil
}

func (r *PostgresRepository) ListExpirable(ctx context.Context, cutoff uint64) ([]*models.PublishJob, error) {
	query := `SELECT ` + jobColumns + ` FROM publish_jobs
		WHERE state IN ($1, $2) AND reserve_expires_at IS NOT NULL AND reserve_expires_at < $3`
	rows, err := r.db.QueryContext(ctx, query,
		string(models.StateAwaitingPayment), string(models.StateReserved), int64(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to select expirable jobs: %w", err)
	}
	defer rows.Close()

	var result []*models.PublishJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
