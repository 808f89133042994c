// Package sqlite implements the feedmill Store on SQLite via sqlx.
package sqlite

import (
	"errors"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"

	"feedmill/internal/feedmill"
)

// Ensure Repo implements the Store interface
var _ feedmill.Store = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// SQLITE_CONSTRAINT_UNIQUE
const sqliteUniqueViolation = 2067

// isUniqueViolation reports whether err is a unique-constraint failure,
// the expected outcome of a duplicate insert racing the dedup check.
func isUniqueViolation(err error) bool {
	sqliteErr := &sqlite.Error{}
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteUniqueViolation
}
