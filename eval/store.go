package eval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
)

// Schema is the append-only eval run log.
const Schema = `
CREATE TABLE IF NOT EXISTS eval_runs (
    id              TEXT PRIMARY KEY,
    triggered_by    TEXT NOT NULL DEFAULT 'manual',
    started_at      INTEGER NOT NULL,
    completed_at    INTEGER NOT NULL,
    total           INTEGER NOT NULL,
    passed          INTEGER NOT NULL,
    pass_rate       REAL NOT NULL,
    mean_recall     REAL NOT NULL,
    mean_precision  REAL NOT NULL,
    mean_coverage   REAL NOT NULL,
    latency_p95_ms  REAL NOT NULL DEFAULT 0,
    gate_mean       REAL NOT NULL,
    gate_passed     INTEGER NOT NULL,
    suite_passed    INTEGER NOT NULL,
    report_uri      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_eval_runs_time ON eval_runs(completed_at DESC);
`

// ApplySchema creates the eval tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Summary holds the aggregate numbers compared between runs.
type Summary struct {
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	PassRate      float64 `json:"passRate"`
	MeanRecall    float64 `json:"meanRecall"`
	MeanPrecision float64 `json:"meanPrecision"`
	MeanCoverage  float64 `json:"meanCoverage"`
	LatencyP95Ms  float64 `json:"latencyP95Ms"`
}

// Run is one persisted eval suite execution.
type Run struct {
	ID          string    `json:"id"`
	TriggeredBy string    `json:"triggeredBy"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Summary
	GateMean    float64 `json:"gateMean"`
	GatePassed  bool    `json:"gatePassed"`
	SuitePassed bool    `json:"suitePassed"`
	ReportURI   string  `json:"reportUri,omitempty"`
}

// Store persists eval runs.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Insert appends r.
func (s *Store) Insert(ctx context.Context, r *Run) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO eval_runs (id, triggered_by, started_at, completed_at, total, passed,
			pass_rate, mean_recall, mean_precision, mean_coverage, latency_p95_ms,
			gate_mean, gate_passed, suite_passed, report_uri)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.TriggeredBy, r.StartedAt.UnixMilli(), r.CompletedAt.UnixMilli(), r.Total, r.Passed,
		r.PassRate, r.MeanRecall, r.MeanPrecision, r.MeanCoverage, r.LatencyP95Ms,
		r.GateMean, r.GatePassed, r.SuitePassed, r.ReportURI)
	if err != nil {
		return fmt.Errorf("eval: insert run: %w", err)
	}
	return nil
}

// Latest returns the newest run, or nil if none exists.
func (s *Store) Latest(ctx context.Context) (*Run, error) {
	runs, err := s.List(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// Previous returns the newest run completed before r, or nil.
func (s *Store) Previous(ctx context.Context, r *Run) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM eval_runs
		WHERE completed_at < ? AND id != ? ORDER BY completed_at DESC LIMIT 1`,
		r.CompletedAt.UnixMilli(), r.ID)
	prev, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return prev, err
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM eval_runs ORDER BY completed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("eval: list runs: %w", err)
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

const runColumns = `id, triggered_by, started_at, completed_at, total, passed, pass_rate,
	mean_recall, mean_precision, mean_coverage, latency_p95_ms, gate_mean, gate_passed,
	suite_passed, report_uri`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var r Run
	var started, completed int64
	err := sc.Scan(&r.ID, &r.TriggeredBy, &started, &completed, &r.Total, &r.Passed,
		&r.PassRate, &r.MeanRecall, &r.MeanPrecision, &r.MeanCoverage, &r.LatencyP95Ms,
		&r.GateMean, &r.GatePassed, &r.SuitePassed, &r.ReportURI)
	if err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.CompletedAt = time.UnixMilli(completed).UTC()
	return &r, nil
}
