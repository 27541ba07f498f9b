package repomanager

import (
	"context"
	"database/sql"

	"github.com/ABCWORK9/mintydoc/internal/server/repositories/jobs"
)

// InMemoryRepositoryManager hands out one shared MemoryRepository and
// ignores the db handle.
type InMemoryRepositoryManager struct {
	jobs *jobs.MemoryRepository
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *InMemoryRepositoryManager) Jobs(*sql.DB) jobs.Repository {
	return m.jobs
}

func NewInMemoryRepositoryManager() RepositoryManager {
	return &InMemoryRepositoryManager{jobs: jobs.NewMemoryRepository()}
}
