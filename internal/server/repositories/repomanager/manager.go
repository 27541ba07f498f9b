// Package repomanager vends job repositories for the configured backend and
// exposes a schema migration hook.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/ABCWORK9/mintydoc/internal/server/repositories/jobs"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Jobs(db *sql.DB) jobs.Repository
}

// New picks the PostgreSQL manager when a DSN is configured and the in-memory
// one otherwise.
func New(dsn string) RepositoryManager {
	if dsn == "" {
		return NewInMemoryRepositoryManager()
	}
	return NewPostgresRepositoryManager()
}
