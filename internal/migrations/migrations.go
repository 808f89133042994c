// Package migrations owns the embedded schema and brings a connected
// database up to date.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var migrationsFS embed.FS

// Run applies any pending migrations. Already-applied ones are a no-op,
// so every daemon start calls this unconditionally.
func Run(dbx *sqlx.DB) error {
	src, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("error creating migration source: %w", err)
	}
	db, err := sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("error wrapping db for migration: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "sqlite3", db)
	if err != nil {
		return fmt.Errorf("error building migrator: %w", err)
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error applying migrations: %w", err)
	}
	slog.Info("migrated")

	return nil
}
