// Package storage persists backend run history in SQLite.
package storage

import (
	"errors"
	"fmt"
	"log"
	"sync"

	// Using modernc.org/sqlite, a pure-Go driver, so builds stay CGO-free
	// and cross-compilation keeps working.
	"database/sql"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when an operation targets an unknown run.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists one row per backend launch. It creates the database
// and tables on first use and supports concurrent access through internal
// locking.
type RunStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewRunStore opens or creates a SQLite database at the given path and
// initializes the schema. Use ":memory:" for tests.
func NewRunStore(path string) (*RunStore, error) {
	log.Printf("storage: opening database at %s", path)

	// foreign_keys for referential integrity; busy_timeout because the
	// status command may read while the shell is writing.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &RunStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Printf("storage: database ready (schema version %d)", currentSchemaVersion)
	return store, nil
}

// Close releases the database connection.
func (s *RunStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
