package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/idgen"
)

// Event types.
const (
	EventRunCompleted    = "ingest.run_completed"
	EventCircuitTripped  = "ingest.circuit_tripped"
	EventCircuitReset    = "ingest.circuit_reset"
	EventRunsRecovered   = "ingest.runs_recovered"
	EventDriftCheck      = "drift.check_completed"
	EventEvalSuite       = "eval.suite_completed"
	EventConnectorSeeded = "ingest.connector_seeded"
)

// BusinessEvent is a domain-level event.
type BusinessEvent struct {
	EventType   string
	ServiceName string
	EntityType  string
	EntityID    string
	Action      string
	Details     any // marshalled to JSON
	Success     bool
}

// EventLogger writes business events. A nil *EventLogger discards them.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// NewEventLogger creates an EventLogger on the observability database.
func NewEventLogger(db *sql.DB, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{db: db, newID: idgen.Prefixed("evt_", idgen.Default), logger: logger}
}

// LogEvent records ev. Failures are logged, never returned.
func (l *EventLogger) LogEvent(ctx context.Context, ev BusinessEvent) {
	if l == nil {
		return
	}
	var details sql.NullString
	if ev.Details != nil {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (event_id, event_type, service_name, entity_type,
			entity_id, action, details, success, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.ServiceName, ev.EntityType, ev.EntityID,
		ev.Action, details, ev.Success, time.Now().UnixMilli())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.EventType)
	}
}

// CountEvents returns how many events of eventType were logged since t.
func (l *EventLogger) CountEvents(ctx context.Context, eventType string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM business_event_logs WHERE event_type = ? AND created_at >= ?`,
		eventType, since.UnixMilli()).Scan(&n)
	return n, err
}

// RetentionConfig is per-table retention in days. Zero keeps everything.
type RetentionConfig struct {
	MetricsDays    int
	HTTPLogsDays   int
	EventLogsDays  int
	HeartbeatsDays int
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now()
	targets := []struct {
		query string
		days  int
	}{
		{`DELETE FROM metrics_timeseries WHERE timestamp < ?`, cfg.MetricsDays},
		{`DELETE FROM http_request_logs WHERE created_at < ?`, cfg.HTTPLogsDays},
		{`DELETE FROM business_event_logs WHERE created_at < ?`, cfg.EventLogsDays},
		{`DELETE FROM worker_heartbeats WHERE timestamp < ?`, cfg.HeartbeatsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).UnixMilli()
		if _, err := db.ExecContext(ctx, t.query, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	return nil
}
