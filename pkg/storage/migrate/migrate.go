// Package migrate embeds and applies the structured store's schema with
// goose, so a fresh deployment only needs a reachable database, not a
// separately shipped SQL bundle.
package migrate

import (
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var migrationFS embed.FS

// Up applies all pending migrations to db using the given dialect
// ("postgres" or "sqlite3").
func Up(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(db, "sql")
}

// Status reports the current migration version without applying anything.
func Status(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Status(db, "sql")
}

// Down rolls back the most recently applied migration.
func Down(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Down(db, "sql")
}
