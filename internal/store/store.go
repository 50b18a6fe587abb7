// Package store provides the in-memory SQLite catalog of recorded events.
//
// The catalog is an index over the JSON event records, rebuilt from them on
// every start. Nothing is written to disk.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// memoryDSN opens a private in-memory database.
const memoryDSN = ":memory:"

// Store represents the SQLite connection holding the event catalog.
type Store struct {
	db *sql.DB
}

// New creates an empty in-memory Store and runs migrations.
func New() (*Store, error) {
	db, err := sql.Open("sqlite", memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}
