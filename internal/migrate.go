package internal

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// MigrateSQLite runs all pending migrations against a SQLite database.
func MigrateSQLite(db *sql.DB) error {
	return migrate(db, "sqlite3", "migrations/sqlite")
}

// MigratePostgres runs all pending migrations against a PostgreSQL database.
func MigratePostgres(db *sql.DB) error {
	return migrate(db, "postgres", "migrations/postgres")
}

func migrate(db *sql.DB, dialect, dir string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}
