package store

import "database/sql"

// Schema is the ingestion schema: registry, connectors and run history.
const Schema = `
CREATE TABLE IF NOT EXISTS source_registry (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    url                TEXT NOT NULL DEFAULT '',
    license_terms      TEXT NOT NULL DEFAULT '',
    access_type        TEXT NOT NULL DEFAULT 'open',
    cadence            TEXT NOT NULL DEFAULT 'unknown',
    reliability_tier   TEXT NOT NULL DEFAULT '',
    active             INTEGER NOT NULL DEFAULT 1,
    automation_allowed INTEGER NOT NULL DEFAULT 1,
    partnership_status TEXT NOT NULL DEFAULT 'none',
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connectors (
    id                        TEXT PRIMARY KEY,
    source_id                 TEXT NOT NULL REFERENCES source_registry(id),
    name                      TEXT NOT NULL,
    type                      TEXT NOT NULL,
    config_json               TEXT NOT NULL DEFAULT '{}',
    cadence                   TEXT NOT NULL DEFAULT 'unknown',
    status                    TEXT NOT NULL DEFAULT 'active',
    last_run_id               TEXT NOT NULL DEFAULT '',
    last_run_at               INTEGER,
    last_success_at           INTEGER,
    consecutive_failures      INTEGER NOT NULL DEFAULT 0,
    license_allows_automation INTEGER NOT NULL DEFAULT 1,
    requires_partnership      INTEGER NOT NULL DEFAULT 0,
    created_at                INTEGER NOT NULL,
    updated_at                INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connectors_source ON connectors(source_id);

CREATE TABLE IF NOT EXISTS ingestion_runs (
    id              TEXT PRIMARY KEY,
    source_id       TEXT NOT NULL,
    connector_id    TEXT NOT NULL,
    connector_name  TEXT NOT NULL DEFAULT '',
    started_at      INTEGER NOT NULL,
    completed_at    INTEGER,
    status          TEXT NOT NULL DEFAULT 'running',
    records_fetched INTEGER NOT NULL DEFAULT 0,
    records_created INTEGER NOT NULL DEFAULT 0,
    records_updated INTEGER NOT NULL DEFAULT 0,
    records_skipped INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    error_details   TEXT NOT NULL DEFAULT '[]',
    warnings        TEXT NOT NULL DEFAULT '[]',
    triggered_by    TEXT NOT NULL DEFAULT 'manual'
);
CREATE INDEX IF NOT EXISTS idx_runs_connector ON ingestion_runs(connector_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON ingestion_runs(status);
`

// ApplySchema creates the ingestion tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
