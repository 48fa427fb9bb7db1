package structured

import (
	"github.com/binsight/core/pkg/storage/migrate"
)

// ApplySQLiteSchema runs the embedded migrations against a Store created by
// NewSQLiteStore, for use in package tests that want a real schema without
// a live Postgres instance.
func ApplySQLiteSchema(store Store) error {
	s, ok := store.(*sqlxStore)
	if !ok {
		return errNotSQLiteBacked
	}
	return migrate.Up(s.db.DB, "sqlite3")
}

var errNotSQLiteBacked = sqliteSchemaErr{}

type sqliteSchemaErr struct{}

func (sqliteSchemaErr) Error() string { return "structured: store is not sqlx-backed" }
