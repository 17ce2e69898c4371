// Package migrations embeds the versioned SQL schema for the escalation,
// FAQ, learning_events, and knowledge_chunks tables and applies it with
// golang-migrate.
// Grounded on codeready-toolchain-tarsy's pkg/database/client.go: embed the
// *.sql files with go:embed, open a database/sql connection through the pgx
// stdlib driver (so no lib/pq registration is needed), and hand the already
// -open *sql.DB to postgres.WithInstance rather than letting golang-migrate
// open its own connection.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed *.sql
var embeddedFS embed.FS

// Run applies every pending up migration to the database reachable via
// dsn. It is idempotent: migrate.ErrNoChange is swallowed rather than
// treated as a failure so repeated calls on an already-current schema are
// safe, matching the admin migration endpoint's "safe even if tables
// already exist" comment in the teacher's migrate_test.go.
func Run(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrations.Run: open: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("migrations.Run: ping: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migrations.Run: postgres driver: %w", err)
	}

	source, err := iofs.New(embeddedFS, ".")
	if err != nil {
		return fmt.Errorf("migrations.Run: source: %w", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrations.Run: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations.Run: up: %w", err)
	}
	return nil
}
