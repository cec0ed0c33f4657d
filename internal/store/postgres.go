package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// Postgres implements Store on database/sql with the lib/pq driver
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a new Postgres store
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// DB exposes the underlying handle for health checks
func (p *Postgres) DB() *sql.DB {
	return p.db
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
