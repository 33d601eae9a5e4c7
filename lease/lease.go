// Package lease implements expiring, fenced claims on named keys backed by
// SQLite.
//
// A lease is held by one holder until it is released or its expiry passes.
// Once expired, any other holder can take it over atomically. This covers
// two patterns in datatrack:
//
//   - "connector:{id}": at most one in-flight run per connector, across
//     process restarts and replicas sharing the database
//   - "scheduler:leader": a single instance drives the cadence loop
//
// Every acquisition gets a fresh token. Extend and Release only act on the
// row carrying that token, so a holder whose lease was taken over cannot
// release the new holder's claim.
//
// Schema (created by ApplySchema):
//
//	CREATE TABLE IF NOT EXISTS leases (
//	    key         TEXT PRIMARY KEY,
//	    holder      TEXT NOT NULL,
//	    token       TEXT NOT NULL,
//	    acquired_at INTEGER NOT NULL,  -- ms since epoch
//	    expires_at  INTEGER NOT NULL   -- ms since epoch
//	);
package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/idgen"
)

// ErrLeaseHeld is returned by Acquire when another live lease exists.
var ErrLeaseHeld = errors.New("lease: key is held")

// ErrLeaseLost is returned by Extend when the lease expired and was taken over
// or released.
var ErrLeaseLost = errors.New("lease: lease lost")

// Schema is applied by ApplySchema.
const Schema = `
CREATE TABLE IF NOT EXISTS leases (
    key         TEXT PRIMARY KEY,
    holder      TEXT NOT NULL,
    token       TEXT NOT NULL,
    acquired_at INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leases_expires ON leases (expires_at);
`

// ApplySchema creates the leases table.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Lease is a held claim.
type Lease struct {
	Key        string
	Holder     string
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Options configures a Manager.
type Options struct {
	// Holder identifies this process. Default: "holder-" + UUIDv7.
	Holder string
	// TTL is the default lease duration. Default: 30 minutes.
	TTL time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Holder == "" {
		o.Holder = "holder-" + idgen.New()
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager acquires and releases leases for one holder.
type Manager struct {
	db    *sql.DB
	opts  Options
	newID idgen.Generator
}

// New creates a Manager. Call ApplySchema once at startup.
func New(db *sql.DB, opts Options) *Manager {
	opts.defaults()
	return &Manager{db: db, opts: opts, newID: idgen.UUIDv7()}
}

// Holder returns the identity this manager acquires leases under.
func (m *Manager) Holder() string { return m.opts.Holder }

// Acquire claims key for ttl (0 means the default TTL). It succeeds if no row
// exists or the existing lease has expired, and returns ErrLeaseHeld
// otherwise, including when this same holder already holds it: leases are not
// re-entrant.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = m.opts.TTL
	}
	now := m.opts.Now()
	l := &Lease{
		Key:        key,
		Holder:     m.opts.Holder,
		Token:      m.newID(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	res, err := m.db.ExecContext(ctx, `
		INSERT INTO leases (key, holder, token, acquired_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			holder = excluded.holder,
			token = excluded.token,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?`,
		l.Key, l.Holder, l.Token, now.UnixMilli(), l.ExpiresAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if n == 0 {
		return nil, ErrLeaseHeld
	}
	m.opts.Logger.Debug("lease: acquired", "key", key, "holder", l.Holder, "expires_at", l.ExpiresAt)
	return l, nil
}

// Extend pushes the expiry of a held lease forward (heartbeat pattern).
func (m *Manager) Extend(ctx context.Context, l *Lease, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.opts.TTL
	}
	now := m.opts.Now()
	exp := now.Add(ttl)
	res, err := m.db.ExecContext(ctx,
		`UPDATE leases SET expires_at = ? WHERE key = ? AND token = ? AND expires_at > ?`,
		exp.UnixMilli(), l.Key, l.Token, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("lease: extend %s: %w", l.Key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	l.ExpiresAt = exp
	return nil
}

// Release deletes the lease if this token still owns it. Releasing a lost
// lease is a no-op.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	_, err := m.db.ExecContext(ctx,
		`DELETE FROM leases WHERE key = ? AND token = ?`, l.Key, l.Token,
	)
	if err != nil {
		return fmt.Errorf("lease: release %s: %w", l.Key, err)
	}
	m.opts.Logger.Debug("lease: released", "key", l.Key, "holder", l.Holder)
	return nil
}

// Held reports whether key has a live (unexpired) lease, by any holder.
func (m *Manager) Held(ctx context.Context, key string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leases WHERE key = ? AND expires_at > ?`,
		key, m.opts.Now().UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lease: held %s: %w", key, err)
	}
	return n > 0, nil
}

// Get returns the current row for key, live or expired, or nil.
func (m *Manager) Get(ctx context.Context, key string) (*Lease, error) {
	var l Lease
	var acq, exp int64
	err := m.db.QueryRowContext(ctx,
		`SELECT key, holder, token, acquired_at, expires_at FROM leases WHERE key = ?`, key,
	).Scan(&l.Key, &l.Holder, &l.Token, &acq, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: get %s: %w", key, err)
	}
	l.AcquiredAt = time.UnixMilli(acq)
	l.ExpiresAt = time.UnixMilli(exp)
	return &l, nil
}

// Purge deletes expired rows and returns how many were removed.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		`DELETE FROM leases WHERE expires_at <= ?`, m.opts.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("lease: purge: %w", err)
	}
	return res.RowsAffected()
}
