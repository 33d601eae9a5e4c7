package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger returns chi middleware that writes one http_request_logs
// row per request. Insert failures are logged and ignored.
func RequestLogger(db *sql.DB, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			elapsed := float64(time.Since(start).Microseconds()) / 1000
			_, err := db.ExecContext(context.WithoutCancel(r.Context()),
				`INSERT INTO http_request_logs (method, path, route, status_code, duration_ms, request_id, created_at)
				VALUES (?,?,?,?,?,?,?)`,
				r.Method, r.URL.Path, route, status, elapsed, middleware.GetReqID(r.Context()), start.UnixMilli())
			if err != nil {
				logger.Warn("observability: request log failed", "error", err, "path", r.URL.Path)
			}
		})
	}
}

// RequestSummary aggregates logged requests over a window.
type RequestSummary struct {
	Requests  int     `json:"requests"`
	MeanMs    float64 `json:"meanMs"`
	P95Ms     float64 `json:"p95Ms"`
	ErrorRate float64 `json:"errorRate"` // share of 5xx responses
}

// RequestStats summarizes requests logged since t. Health checks are
// excluded. An empty window returns a zero summary.
func RequestStats(ctx context.Context, db *sql.DB, since time.Time) (*RequestSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT duration_ms, status_code FROM http_request_logs
		WHERE created_at >= ? AND path != '/health'
		ORDER BY duration_ms`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("observability: request stats: %w", err)
	}
	defer rows.Close()

	var durations []float64
	var sum float64
	var errs int
	for rows.Next() {
		var d float64
		var status int
		if err := rows.Scan(&d, &status); err != nil {
			return nil, fmt.Errorf("observability: scan request: %w", err)
		}
		durations = append(durations, d)
		sum += d
		if status >= 500 {
			errs++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s := &RequestSummary{Requests: len(durations)}
	if s.Requests == 0 {
		return s, nil
	}
	s.MeanMs = sum / float64(s.Requests)
	idx := int(math.Ceil(0.95*float64(s.Requests))) - 1
	s.P95Ms = durations[idx]
	s.ErrorRate = float64(errs) / float64(s.Requests)
	return s, nil
}
