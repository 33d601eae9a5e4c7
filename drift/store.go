package drift

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
)

// Schema is the append-only drift metric log.
const Schema = `
CREATE TABLE IF NOT EXISTS drift_metrics (
    id                 TEXT PRIMARY KEY,
    domain             TEXT NOT NULL,
    metric             TEXT NOT NULL,
    value              REAL NOT NULL,
    baseline           REAL NOT NULL,
    warning_threshold  REAL NOT NULL,
    critical_threshold REAL NOT NULL,
    delta              REAL NOT NULL,
    severity           TEXT NOT NULL DEFAULT '',
    breached           INTEGER NOT NULL DEFAULT 0,
    sample_size        INTEGER NOT NULL DEFAULT 0,
    origin             TEXT NOT NULL DEFAULT 'manual',
    notes              TEXT NOT NULL DEFAULT '',
    recorded_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drift_metric_time ON drift_metrics(domain, metric, recorded_at DESC);
CREATE INDEX IF NOT EXISTS idx_drift_breached ON drift_metrics(breached, recorded_at DESC);
`

// ApplySchema creates the drift tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Metric is one recorded, evaluated observation.
type Metric struct {
	ID         string    `json:"id"`
	Domain     Domain    `json:"domain"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Baseline   float64   `json:"baseline"`
	Warning    float64   `json:"warningThreshold"`
	Critical   float64   `json:"criticalThreshold"`
	Delta      float64   `json:"delta"`
	Severity   Severity  `json:"severity"`
	Breached   bool      `json:"breached"`
	SampleSize int       `json:"sampleSize"`
	Origin     string    `json:"origin"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store persists drift metrics. Rows are never updated.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Insert appends m.
func (s *Store) Insert(ctx context.Context, m *Metric) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO drift_metrics (id, domain, metric, value, baseline, warning_threshold,
			critical_threshold, delta, severity, breached, sample_size, origin, notes, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, string(m.Domain), m.Metric, m.Value, m.Baseline, m.Warning, m.Critical,
		m.Delta, string(m.Severity), m.Breached, m.SampleSize, m.Origin, m.Notes,
		m.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("drift: insert metric: %w", err)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	Domain       Domain
	Metric       string
	BreachedOnly bool
	Since        time.Time
	Limit        int
}

// List returns metrics newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Metric, error) {
	q := `SELECT ` + metricColumns + ` FROM drift_metrics WHERE 1=1`
	var args []any
	if f.Domain != "" {
		q += ` AND domain = ?`
		args = append(args, string(f.Domain))
	}
	if f.Metric != "" {
		q += ` AND metric = ?`
		args = append(args, f.Metric)
	}
	if f.BreachedOnly {
		q += ` AND breached = 1`
	}
	if !f.Since.IsZero() {
		q += ` AND recorded_at >= ?`
		args = append(args, f.Since.UnixMilli())
	}
	q += ` ORDER BY recorded_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.query(ctx, q, args...)
}

// Latest returns the newest row of every metric that has one.
func (s *Store) Latest(ctx context.Context) ([]*Metric, error) {
	return s.query(ctx, `
		SELECT `+metricColumns+` FROM drift_metrics d
		WHERE id = (SELECT id FROM drift_metrics x
		            WHERE x.domain = d.domain AND x.metric = d.metric
		            ORDER BY recorded_at DESC, id DESC LIMIT 1)
		ORDER BY domain, metric`)
}

const metricColumns = `id, domain, metric, value, baseline, warning_threshold, critical_threshold,
	delta, severity, breached, sample_size, origin, notes, recorded_at`

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Metric, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("drift: query metrics: %w", err)
	}
	defer rows.Close()
	var out []*Metric
	for rows.Next() {
		var m Metric
		var domain, severity string
		var recorded int64
		if err := rows.Scan(&m.ID, &domain, &m.Metric, &m.Value, &m.Baseline, &m.Warning,
			&m.Critical, &m.Delta, &severity, &m.Breached, &m.SampleSize, &m.Origin,
			&m.Notes, &recorded); err != nil {
			return nil, fmt.Errorf("drift: scan metric: %w", err)
		}
		m.Domain = Domain(domain)
		m.Severity = Severity(severity)
		m.RecordedAt = time.UnixMilli(recorded).UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}
