package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	job := &models.PublishJob{ID: "j1", State: models.StateAwaitingUpload, UploadStatus: models.UploadInitiated}
	require.NoError(t, repo.Create(ctx, job))
	assert.ErrorIs(t, repo.Create(ctx, job), common.ErrVersionConflict)

	got, err := repo.GetByID(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	_, err = repo.GetByID(ctx, "j2")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	got.ReservationID = "0xrid"
	got.Quote = &models.ReserveQuote{PriceCents: 3, ExpiresAt: 100, Nonce: "0x01"}
	require.NoError(t, repo.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	byRID, err := repo.GetByReservationID(ctx, "0xrid")
	require.NoError(t, err)
	assert.Equal(t, "j1", byRID.ID)

	// returned copies never alias the stored row
	byRID.Quote.PriceCents = 99
	again, _ := repo.GetByID(ctx, "j1")
	assert.Equal(t, uint32(3), again.Quote.PriceCents)
}

func TestMemoryRepository_StaleUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "j1"}))

	a, _ := repo.GetByID(ctx, "j1")
	b, _ := repo.GetByID(ctx, "j1")

	a.State = models.StateAwaitingPayment
	require.NoError(t, repo.Update(ctx, a))

	b.State = models.StateFailed
	assert.ErrorIs(t, repo.Update(ctx, b), common.ErrVersionConflict)
}

func TestMemoryRepository_ConcurrentWritersOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "j1"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		job, _ := repo.GetByID(ctx, "j1")
		wg.Add(1)
		go func(job *models.PublishJob) {
			defer wg.Done()
			job.State = models.StateFailed
			if repo.Update(ctx, job) == nil {
				wins.Add(1)
			}
		}(job)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryRepository_DuplicateReservationID(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "j1", ReservationID: "0xrid"}))
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "j2"}))

	j2, _ := repo.GetByID(ctx, "j2")
	j2.ReservationID = "0xrid"
	assert.ErrorIs(t, repo.Update(ctx, j2), common.ErrVersionConflict)
}

func TestMemoryRepository_ListExpirable(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "old", State: models.StateReserved,
		Quote: &models.ReserveQuote{ExpiresAt: 50}}))
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "fresh", State: models.StateAwaitingPayment,
		Quote: &models.ReserveQuote{ExpiresAt: 500}}))
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "done", State: models.StateFinalized,
		Quote: &models.ReserveQuote{ExpiresAt: 10}}))
	require.NoError(t, repo.Create(ctx, &models.PublishJob{ID: "noquote", State: models.StateAwaitingPayment}))

	got, err := repo.ListExpirable(ctx, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "old", got[0].ID)
}
