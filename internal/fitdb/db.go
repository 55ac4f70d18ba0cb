package fitdb

import (
	"database/sql"
	"fmt"

	"github.com/banshee-data/atomfit/internal/timeutil"
	_ "modernc.org/sqlite"
)

// DB is a fit results database.
type DB struct {
	*sql.DB
	clock timeutil.Clock
}

// Open opens (creating if needed) the SQLite database at path and brings
// its schema up to date.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// Pragmas are per connection; a single connection keeps them in force
	// and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, clock: timeutil.RealClock{}}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// SetClock replaces the clock used to stamp rows.
func (db *DB) SetClock(c timeutil.Clock) {
	db.clock = c
}

func (db *DB) applyPragmas() error {
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}
