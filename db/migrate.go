package db

import (
	"database/sql"
	"sort"
	"strings"

	"embed"

	"go.uber.org/zap"

	"github.com/etive-io/asimov/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate runs all pending migrations in filename order. If logger is
// provided, logs migration progress; otherwise operates silently.
func Migrate(database *sql.DB, logger *zap.SugaredLogger) error {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		version := strings.Split(filename, "_")[0]

		applied, err := migrationApplied(database, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		content, err := migrations.ReadFile("sqlite/migrations/" + filename)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", filename)
		}

		tx, err := database.Begin()
		if err != nil {
			return errors.Wrap(err, "begin migration transaction")
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "apply migration %s", filename)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "record migration %s", filename)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "commit migration %s", filename)
		}

		if logger != nil {
			logger.Infow("Applied migration", "version", version, "file", filename)
		}
	}
	return nil
}

func migrationApplied(database *sql.DB, version string) (bool, error) {
	// The schema_migrations table itself is created by migration 000.
	var exists int
	err := database.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check schema_migrations table")
	}
	if exists == 0 {
		return false, nil
	}
	var count int
	err = database.QueryRow(
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "check applied migration")
	}
	return count > 0, nil
}
