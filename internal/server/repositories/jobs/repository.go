// Package jobs persists PublishJob records. Every write is a conditional
// update on the row version; callers re-read and re-check their precondition
// when common.ErrVersionConflict is returned.
package jobs

import (
	"context"

	"github.com/ABCWORK9/mintydoc/internal/server/models"
)

type Repository interface {
	// Create inserts a new job with Version 1.
	Create(ctx context.Context, job *models.PublishJob) error
	// GetByID returns common.ErrorNotFound when no such job exists.
	GetByID(ctx context.Context, id string) (*models.PublishJob, error)
	GetByReservationID(ctx context.Context, reservationID string) (*models.PublishJob, error)
	// Update writes job if the stored version still equals job.Version and
	// bumps job.Version on success.
	Update(ctx context.Context, job *models.PublishJob) error
	// ListExpirable returns awaiting_payment and reserved jobs whose quote
	// expired strictly before cutoff (Unix seconds).
	ListExpirable(ctx context.Context, cutoff uint64) ([]*models.PublishJob, error)
}
