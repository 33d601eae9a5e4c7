package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// HeartbeatWriter records periodic liveness rows for one worker, such as
// the scheduler loop of a serve process.
type HeartbeatWriter struct {
	db       *sql.DB
	worker   string
	hostname string
	pid      int
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewHeartbeatWriter creates a writer. A non-positive interval means 15s.
func NewHeartbeatWriter(db *sql.DB, worker string, interval time.Duration, logger *slog.Logger) *HeartbeatWriter {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatWriter{db: db, worker: worker, hostname: host, pid: os.Getpid(),
		interval: interval, logger: logger, done: make(chan struct{})}
}

// Run writes one heartbeat immediately and then every interval until ctx
// is cancelled.
func (hw *HeartbeatWriter) Run(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()
	for {
		if err := hw.Write(ctx); err != nil && ctx.Err() == nil {
			hw.logger.Warn("observability: heartbeat failed", "error", err, "worker", hw.worker)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Done is closed when Run returns.
func (hw *HeartbeatWriter) Done() <-chan struct{} { return hw.done }

// Write records one heartbeat.
func (hw *HeartbeatWriter) Write(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb)
		VALUES (?,?,?,?,?,?)`,
		hw.worker, hw.hostname, hw.pid, time.Now().UnixMilli(),
		runtime.NumGoroutine(), float64(mem.Alloc)/1024/1024)
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat of a worker.
type HeartbeatStatus struct {
	Worker        string    `json:"worker"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Timestamp     time.Time `json:"timestamp"`
	Goroutines    int       `json:"goroutines"`
	MemoryAllocMB float64   `json:"memoryAllocMb"`
	Alive         bool      `json:"alive"`
}

// LatestHeartbeat returns the newest heartbeat for worker, or nil if none
// was written. Alive is true when it is younger than staleAfter.
func LatestHeartbeat(ctx context.Context, db *sql.DB, worker string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	var hs HeartbeatStatus
	var ts int64
	err := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp, goroutines_count, memory_alloc_mb
		FROM worker_heartbeats WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, worker,
	).Scan(&hs.Worker, &hs.Hostname, &hs.PID, &ts, &hs.Goroutines, &hs.MemoryAllocMB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	hs.Timestamp = time.UnixMilli(ts)
	hs.Alive = time.Since(hs.Timestamp) <= staleAfter
	return &hs, nil
}
