// Package kit is the thin endpoint layer shared by the HTTP and MCP
// surfaces: one Endpoint per operation, wrapped by middleware, exposed by
// each transport.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Logging logs each call with its transport, duration and error.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{"endpoint", name, "transport", GetTransport(ctx), "duration_ms", time.Since(start).Milliseconds()}
			if err != nil {
				logger.Warn("kit: endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: endpoint", attrs...)
			}
			return resp, err
		}
	}
}
