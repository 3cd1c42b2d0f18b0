// Package migrations runs the schema migrations under migrations/sql
// against the configured Postgres database at boot, the same startup-check
// shape the teacher uses (migrations.StartupCheck) but driven by
// sql-migrate's FileMigrationSource instead of a packr asset box.
package migrations

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
)

const migrationTable = "schema_migrations"

// Run applies every pending migration in migrations/sql against dsn.
func Run(logger *zap.Logger, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrations: open: %w", err)
	}
	defer db.Close()

	migrate.SetTable(migrationTable)
	src := &migrate.FileMigrationSource{Dir: "migrations/sql"}

	n, err := migrate.Exec(db, "postgres", src, migrate.Up)
	if err != nil {
		return fmt.Errorf("migrations: apply: %w", err)
	}
	logger.Info("migrations: applied", zap.Int("count", n))
	return nil
}
