package observability

import "database/sql"

// Schema holds the observability tables. It lives in its own database
// (DATATRACK_OBS_DB) so request logging never contends with ingestion
// writes. All timestamps are ms since epoch.
const Schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS business_event_logs (
    event_id     TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL,
    service_name TEXT NOT NULL,
    entity_type  TEXT,
    entity_id    TEXT,
    action       TEXT NOT NULL,
    details      TEXT,
    success      INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_logs_type ON business_event_logs(event_type, created_at DESC);

CREATE TABLE IF NOT EXISTS http_request_logs (
    log_id      TEXT PRIMARY KEY DEFAULT ('hrl_' || hex(randomblob(16))),
    method      TEXT NOT NULL,
    path        TEXT NOT NULL,
    route       TEXT NOT NULL DEFAULT '',
    status_code INTEGER NOT NULL,
    duration_ms REAL NOT NULL,
    request_id  TEXT,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_http_logs_time ON http_request_logs(created_at DESC);

CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id     TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name      TEXT NOT NULL,
    hostname         TEXT NOT NULL,
    worker_pid       INTEGER NOT NULL,
    timestamp        INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb  REAL
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
`

// ApplySchema creates the observability tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
