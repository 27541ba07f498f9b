// Package services contains server-side business logic for the publish
// flow: multipart upload orchestration, reservation intents and operator
// actions. Every job mutation goes through mutateJob, which re-reads the row
// and re-checks the caller's precondition when a concurrent writer wins.
package services

import (
	"context"
	"errors"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/ABCWORK9/mintydoc/internal/server/repositories/jobs"
)

const maxMutateAttempts = 3

var errJobNotFound = common.NotFound("job_not_found")

// loadJob maps repository errors onto API errors.
func loadJob(ctx context.Context, repo jobs.Repository, id string) (*models.PublishJob, error) {
	job, err := repo.GetByID(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, errJobNotFound
	}
	if err != nil {
		return nil, common.Internal("job_store_error", err)
	}
	return job, nil
}

// mutateJob loads job id, lets apply check its precondition and modify the
// job, then writes it conditionally. A version conflict restarts from a
// fresh read so apply always sees the latest state.
func mutateJob(ctx context.Context, repo jobs.Repository, id string, apply func(job *models.PublishJob) error) (*models.PublishJob, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		job, err := loadJob(ctx, repo, id)
		if err != nil {
			return nil, err
		}
		if err := apply(job); err != nil {
			return job, err
		}
		err = repo.Update(ctx, job)
		if errors.Is(err, common.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, common.Internal("job_store_error", err)
		}
		return job, nil
	}
	return nil, common.Conflict("job_concurrent_update")
}

var errWorkerDisabled = errors.New("finalization worker is not running")
