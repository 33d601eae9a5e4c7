package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
)

// InsertRun persists a new run in the running state.
func (s *Store) InsertRun(ctx context.Context, r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = s.now().UTC()
	}
	r.Status = RunRunning
	if r.TriggeredBy == "" {
		r.TriggeredBy = TriggerManual
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO ingestion_runs (id, source_id, connector_id, connector_name, started_at,
		status, triggered_by) VALUES (?, ?, ?, ?, ?, 'running', ?)`,
		r.ID, r.SourceID, r.ConnectorID, r.ConnectorName, r.StartedAt.UnixMilli(), r.TriggeredBy)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// FinishRun writes a run's terminal status, counters, errors and warnings.
func (s *Store) FinishRun(ctx context.Context, r *Run) error {
	if r.CompletedAt == nil {
		now := s.now().UTC()
		r.CompletedAt = &now
	}
	details, err := json.Marshal(nonNilErrors(r.Errors))
	if err != nil {
		return fmt.Errorf("store: marshal errors: %w", err)
	}
	warnings, err := json.Marshal(nonNilStrings(r.Warnings))
	if err != nil {
		return fmt.Errorf("store: marshal warnings: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`UPDATE ingestion_runs SET completed_at = ?, status = ?, records_fetched = ?,
		records_created = ?, records_updated = ?, records_skipped = ?, error_message = ?,
		error_details = ?, warnings = ? WHERE id = ?`,
		msPtr(r.CompletedAt), r.Status, r.RecordsFetched, r.RecordsCreated, r.RecordsUpdated,
		r.RecordsSkipped, r.ErrorMessage, string(details), string(warnings), r.ID)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	return nil
}

// GetRun returns a run by ID. Returns nil, nil if absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ingestion_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// ListRuns returns runs newest first, optionally for one connector.
func (s *Store) ListRuns(ctx context.Context, connectorID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + runColumns + ` FROM ingestion_runs`
	var args []any
	if connectorID != "" {
		q += ` WHERE connector_id = ?`
		args = append(args, connectorID)
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryRuns(ctx, q, args...)
}

// ListRunningRuns returns runs still marked running.
func (s *Store) ListRunningRuns(ctx context.Context) ([]*Run, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE status = 'running' ORDER BY started_at`)
}

func (s *Store) queryRuns(ctx context.Context, q string, args ...any) ([]*Run, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const runColumns = `id, source_id, connector_id, connector_name, started_at, completed_at,
	status, records_fetched, records_created, records_updated, records_skipped,
	error_message, error_details, warnings, triggered_by`

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var started int64
	var completed sql.NullInt64
	var details, warnings string
	err := sc.Scan(&r.ID, &r.SourceID, &r.ConnectorID, &r.ConnectorName, &started, &completed,
		&r.Status, &r.RecordsFetched, &r.RecordsCreated, &r.RecordsUpdated, &r.RecordsSkipped,
		&r.ErrorMessage, &details, &warnings, &r.TriggeredBy)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.CompletedAt = timePtr(completed)
	if err := json.Unmarshal([]byte(details), &r.Errors); err != nil {
		return nil, fmt.Errorf("store: run %s error_details: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return nil, fmt.Errorf("store: run %s warnings: %w", r.ID, err)
	}
	return &r, nil
}

func nonNilErrors(e []RunError) []RunError {
	if e == nil {
		return []RunError{}
	}
	return e
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
