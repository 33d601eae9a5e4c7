// Package store is the data access layer for the source registry,
// connectors and ingestion runs.
package store

import (
	"database/sql"
	"time"
)

// Store wraps the datatrack database for ingestion bookkeeping.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// WithClock returns a copy of s using now as its time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{DB: s.DB, now: now}
}

type scanner interface {
	Scan(dest ...any) error
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
