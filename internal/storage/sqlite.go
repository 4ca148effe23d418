package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Open connects to the sqlite database named by source. A plain name becomes
// a shared-cache rwc file DSN; names already carrying a file: prefix are used
// verbatim so tests can point at in-memory databases.
func Open(ctx context.Context, dialect, source string) (*sql.DB, error) {
	if source == "" {
		return nil, errors.New("database name cannot be empty")
	}
	dsn := source
	if !strings.HasPrefix(source, "file:") {
		dsn = "file:" + source + "?cache=shared&mode=rwc"
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies all pending goose migrations from migrationsPath.
func Migrate(db *sql.DB, dialect, migrationsPath string) error {
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(db, migrationsPath)
}
