package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyAttempts bounds retries on SQLITE_BUSY; attempt n waits n*busyStep.
const (
	busyAttempts = 3
	busyStep     = 100 * time.Millisecond
)

func errContains(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	return errContains(err, "SQLITE_BUSY", "database is locked", "database table is locked")
}

// IsConstraint reports whether err is a UNIQUE or PRIMARY KEY violation.
// Callers use it to turn an insert race into a read of the winning row.
func IsConstraint(err error) bool {
	return errContains(err, "UNIQUE constraint failed", "PRIMARY KEY constraint failed", "SQLITE_CONSTRAINT")
}

// onBusy runs op until it succeeds, fails with a non-BUSY error, or
// busyAttempts are spent.
func onBusy[T any](ctx context.Context, what string, op func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := op()
		if err == nil || !IsBusy(err) || attempt == busyAttempts {
			return v, err
		}
		t := time.NewTimer(time.Duration(attempt) * busyStep)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("dbopen: %s: %w", what, ctx.Err())
		case <-t.C:
		}
	}
}

// RunTx runs fn in a transaction and commits it. The whole transaction is
// retried with a growing wait while SQLite reports BUSY.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := onBusy(ctx, "tx", func() (struct{}, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, fmt.Errorf("dbopen: commit: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Exec is db.ExecContext with the RunTx BUSY policy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return onBusy(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}
