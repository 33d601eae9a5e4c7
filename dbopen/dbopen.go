// Package dbopen opens the datatrack SQLite databases and applies component
// schemas in the order they are given.
//
// Every connection gets foreign_keys=ON, journal_mode=WAL, a 10s
// busy_timeout and synchronous=NORMAL unless an Option says otherwise.
//
//	db, err := dbopen.Open("db/datatrack.db", dbopen.WithMkdirAll(),
//		dbopen.WithSchemaFunc(ingest.ApplySchema), dbopen.WithSchemaFunc(evidence.ApplySchema))
//
// Tests use OpenMemory, which closes the database on cleanup.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const memoryPath = ":memory:"

type config struct {
	driver      string
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []func(*sql.DB) error
}

func (c config) pragmas() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", c.busyTimeout),
		"PRAGMA synchronous = " + c.synchronous,
	}
}

// Option customises Open.
type Option func(*config)

// WithBusyTimeout overrides the busy_timeout pragma (milliseconds).
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous overrides the synchronous pragma.
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates the parent directory of a file database.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema runs raw DDL after the pragmas.
func WithSchema(ddl string) Option {
	return WithSchemaFunc(func(db *sql.DB) error {
		_, err := db.Exec(ddl)
		return err
	})
}

// WithSchemaFunc queues a package ApplySchema function.
func WithSchemaFunc(fn func(*sql.DB) error) Option {
	return func(c *config) { c.schemas = append(c.schemas, fn) }
}

// Open opens the database at path, applies pragmas and then schemas.
// A ":memory:" database is pinned to one connection.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{driver: "sqlite", busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}
	memory := path == memoryPath

	if cfg.mkdirAll && !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir %s: %w", filepath.Dir(path), err)
		}
	}
	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := setup(db, cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, cfg config) error {
	for _, p := range cfg.pragmas() {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for i, apply := range cfg.schemas {
		if err := apply(db); err != nil {
			return fmt.Errorf("dbopen: schema %d: %w", i, err)
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}

// OpenMemory opens a fresh in-memory database for a test and fails the
// test on error.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
