// Package historyarchive is the optional Postgres-backed archive of
// completed ReviewPacks, supplementing spec §6's bare "Local cache" mention
// with a longer-horizon audit trail. Adapted from the teacher's
// internal/infra/persistence/postgres store family and its
// internal/infra/persistence/migrations golang-migrate wiring.
package historyarchive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	dbmigrations "github.com/shopping-copilot/core/db/migrations"
)

// ApplyMigrations ensures the embedded schema is applied to the Postgres
// instance reachable via dsn. A nil logger disables informational logging.
func ApplyMigrations(ctx context.Context, dsn string, logger *log.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	sourceDriver, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("initialise embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if logger != nil {
			if sourceErr != nil {
				logger.Printf("history archive migrations source close: %v", sourceErr)
			}
			if dbErr != nil {
				logger.Printf("history archive migrations db close: %v", dbErr)
			}
		}
	}()

	if logger != nil {
		logger.Printf("running history archive migrations")
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			if logger != nil {
				logger.Printf("history archive migrations up-to-date")
			}
			return nil
		}
		return fmt.Errorf("apply history archive migrations: %w", err)
	}
	if logger != nil {
		logger.Printf("history archive migrations applied successfully")
	}
	return nil
}
