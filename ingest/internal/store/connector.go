package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
)

// UpsertConnector inserts a connector or refreshes its configuration.
// Run state (last run, failure counter) is never touched here.
func (s *Store) UpsertConnector(ctx context.Context, c *Connector) error {
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.ConfigJSON == "" {
		c.ConfigJSON = "{}"
	}
	if c.Cadence == "" {
		c.Cadence = "unknown"
	}
	if c.Status == "" {
		c.Status = StatusActive
	}

	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO connectors (id, source_id, name, type, config_json, cadence, status,
		license_allows_automation, requires_partnership, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  source_id = excluded.source_id, name = excluded.name, type = excluded.type,
		  config_json = excluded.config_json, cadence = excluded.cadence, status = excluded.status,
		  license_allows_automation = excluded.license_allows_automation,
		  requires_partnership = excluded.requires_partnership, updated_at = excluded.updated_at`,
		c.ID, c.SourceID, c.Name, c.Type, c.ConfigJSON, c.Cadence, c.Status,
		c.LicenseAllowsAutomation, c.RequiresPartnership, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert connector: %w", err)
	}
	return nil
}

// GetConnector retrieves a connector by ID. Returns nil, nil if absent.
func (s *Store) GetConnector(ctx context.Context, id string) (*Connector, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+connectorColumns+` FROM connectors WHERE id = ?`, id)
	c, err := scanConnector(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListConnectors returns every connector in registration order.
func (s *Store) ListConnectors(ctx context.Context) ([]*Connector, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+connectorColumns+` FROM connectors ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConnectorStatus changes a connector's status.
func (s *Store) SetConnectorStatus(ctx context.Context, id, status string) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE connectors SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordRunOutcome updates a connector after a run. lastRunId and
// lastRunAt are always set; success stamps lastSuccessAt and resets the
// failure counter, anything else increments it. The new counter value
// is returned.
func (s *Store) RecordRunOutcome(ctx context.Context, connectorID, runID string, at time.Time, success bool) (int, error) {
	var failures int
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var q string
		if success {
			q = `UPDATE connectors SET last_run_id = ?, last_run_at = ?, last_success_at = ?,
				consecutive_failures = 0, updated_at = ? WHERE id = ?`
			if _, err := tx.ExecContext(ctx, q, runID, at.UnixMilli(), at.UnixMilli(), at.UnixMilli(), connectorID); err != nil {
				return err
			}
		} else {
			q = `UPDATE connectors SET last_run_id = ?, last_run_at = ?,
				consecutive_failures = consecutive_failures + 1, updated_at = ? WHERE id = ?`
			if _, err := tx.ExecContext(ctx, q, runID, at.UnixMilli(), at.UnixMilli(), connectorID); err != nil {
				return err
			}
		}
		return tx.QueryRowContext(ctx,
			`SELECT consecutive_failures FROM connectors WHERE id = ?`, connectorID).Scan(&failures)
	})
	if err != nil {
		return 0, fmt.Errorf("store: record run outcome: %w", err)
	}
	return failures, nil
}

const connectorColumns = `id, source_id, name, type, config_json, cadence, status,
	last_run_id, last_run_at, last_success_at, consecutive_failures,
	license_allows_automation, requires_partnership, created_at, updated_at`

func scanConnector(sc scanner) (*Connector, error) {
	var c Connector
	var lastRun, lastSuccess sql.NullInt64
	var created, updated int64
	err := sc.Scan(&c.ID, &c.SourceID, &c.Name, &c.Type, &c.ConfigJSON, &c.Cadence, &c.Status,
		&c.LastRunID, &lastRun, &lastSuccess, &c.ConsecutiveFailures,
		&c.LicenseAllowsAutomation, &c.RequiresPartnership, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.LastRunAt = timePtr(lastRun)
	c.LastSuccessAt = timePtr(lastSuccess)
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return &c, nil
}
