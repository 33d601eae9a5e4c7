// Package observability records datatrack's own health in SQLite: metric
// timeseries, business events, HTTP request logs and worker heartbeats.
//
// Writers never fail the caller. Persistence errors are logged and the
// datapoint is dropped.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by datatrack.
const (
	MetricRunDurationMs  = "ingest_run_duration_ms"
	MetricRecordsCreated = "ingest_records_created"
	MetricRunFailed      = "ingest_run_failed"
	MetricDriftBreaches  = "drift_breaches"
	MetricEvalPassRate   = "eval_pass_rate"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"`
}

// MetricsConfig configures a MetricsManager.
type MetricsConfig struct {
	// BufferSize triggers a flush when reached. Default: 100.
	BufferSize int
	// FlushInterval is the periodic flush cadence. Default: 5s.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (c *MetricsConfig) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MetricsManager buffers metrics and flushes them in batches.
// A nil *MetricsManager discards everything.
type MetricsManager struct {
	db     *sql.DB
	cfg    MetricsConfig
	buffer []*Metric
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewMetricsManager starts the background flusher. Call Close to stop it.
func NewMetricsManager(db *sql.DB, cfg MetricsConfig) *MetricsManager {
	cfg.defaults()
	mm := &MetricsManager{
		db:     db,
		cfg:    cfg,
		buffer: make([]*Metric, 0, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues m.
func (mm *MetricsManager) Record(m *Metric) {
	if mm == nil {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.cfg.BufferSize {
		mm.flushLocked()
	}
}

// Observe records a labelled value now. labels is a flat key/value list.
func (mm *MetricsManager) Observe(name string, value float64, unit string, labels ...string) {
	if mm == nil {
		return
	}
	var lm map[string]string
	if len(labels) > 1 {
		lm = make(map[string]string, len(labels)/2)
		for i := 0; i+1 < len(labels); i += 2 {
			lm[labels[i]] = labels[i+1]
		}
	}
	mm.Record(&Metric{Name: name, Value: value, Unit: unit, Labels: lm})
}

// Flush writes buffered metrics now.
func (mm *MetricsManager) Flush() {
	if mm == nil {
		return
	}
	mm.mu.Lock()
	mm.flushLocked()
	mm.mu.Unlock()
}

// Query returns metrics named name, newest first. A zero since is unbounded.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]*Metric, error) {
	q := `SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE metric_name = ?`
	args := []any{name}
	if !since.IsZero() {
		q += ` AND timestamp >= ?`
		args = append(args, since.UnixMilli())
	}
	q += ` ORDER BY timestamp DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Close flushes and stops the background goroutine. Safe to call twice.
func (mm *MetricsManager) Close() error {
	if mm == nil {
		return nil
	}
	mm.once.Do(func() { close(mm.stop) })
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.cfg.Logger.Error("observability: metrics begin tx", "error", err)
		return
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.cfg.Logger.Error("observability: metrics prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.UnixMilli(), m.Value, labels, m.Unit); err != nil {
			mm.cfg.Logger.Error("observability: metrics insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		mm.cfg.Logger.Error("observability: metrics commit", "error", err)
	}
	mm.buffer = mm.buffer[:0]
}
