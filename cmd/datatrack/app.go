package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/drift"
	"github.com/hazyhaar/datatrack/eval"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/ingest"
	"github.com/hazyhaar/datatrack/observability"
)

const version = "0.4.0"

// app holds the wired services shared by every subcommand.
type app struct {
	cfg    *Config
	logger *slog.Logger
	db     *sql.DB
	obs    *sql.DB

	evidence *evidence.Store
	derived  *derived.Store
	gaps     *gaps.Store
	ingest   *ingest.Service
	drift    *drift.Monitor
	eval     *eval.Harness
	metrics  *observability.MetricsManager
	events   *observability.EventLogger
}

// openApp opens both databases and the evidence backend, then wires the
// services.
func openApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*app, error) {
	db, err := dbopen.Open(cfg.DB, dbopen.WithMkdirAll(),
		dbopen.WithSchemaFunc(ingest.ApplySchema),
		dbopen.WithSchemaFunc(evidence.ApplySchema),
		dbopen.WithSchemaFunc(derived.ApplySchema),
		dbopen.WithSchemaFunc(gaps.ApplySchema),
		dbopen.WithSchemaFunc(drift.ApplySchema),
		dbopen.WithSchemaFunc(eval.ApplySchema),
	)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	obs, err := dbopen.Open(cfg.ObsDB, dbopen.WithMkdirAll(), dbopen.WithSchemaFunc(observability.ApplySchema))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open observability db: %w", err)
	}
	blobs, err := evidence.NewBlobs(ctx, cfg.Evidence)
	if err != nil {
		db.Close()
		obs.Close()
		return nil, err
	}
	a, err := newApp(db, obs, blobs, cfg, logger)
	if err != nil {
		db.Close()
		obs.Close()
		return nil, err
	}
	return a, nil
}

// newApp wires the services on already opened databases.
func newApp(db, obs *sql.DB, blobs evidence.Blobs, cfg *Config, logger *slog.Logger, opts ...ingest.ServiceOption) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger, db: db, obs: obs}
	a.metrics = observability.NewMetricsManager(obs, observability.MetricsConfig{Logger: logger})
	a.events = observability.NewEventLogger(obs, logger)

	a.evidence = evidence.NewStore(db, blobs, evidence.WithLogger(logger))
	a.derived = derived.NewStore(db, derived.WithLogger(logger))
	a.gaps = gaps.NewStore(db, gaps.WithLogger(logger))

	opts = append([]ingest.ServiceOption{ingest.WithMetrics(a.metrics), ingest.WithEvents(a.events)}, opts...)
	a.ingest = ingest.New(db, a.evidence, a.derived, a.gaps, cfg.Ingest, logger, opts...)

	h, err := eval.New(db, a.derived, blobs, cfg.Eval, logger,
		eval.WithMetrics(a.metrics), eval.WithEvents(a.events))
	if err != nil {
		a.ingest.Close()
		return nil, err
	}
	a.eval = h

	samplers := append(drift.DefaultSamplers(a.derived, obs, cfg.Drift),
		drift.RetrievalSampler{Latest: h.LatestRetrievalStats})
	m, err := drift.New(db, a.gaps, cfg.Drift, logger,
		drift.WithSamplers(samplers...), drift.WithMetrics(a.metrics), drift.WithEvents(a.events))
	if err != nil {
		a.ingest.Close()
		return nil, err
	}
	a.drift = m
	return a, nil
}

// mcpServer builds an MCP server carrying every tool.
func (a *app) mcpServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "datatrack", Version: version}, nil)
	a.ingest.RegisterMCP(srv)
	a.drift.RegisterMCP(srv)
	a.eval.RegisterMCP(srv)
	a.gaps.RegisterMCP(srv)
	return srv
}

// cleanup trims observability tables to the retention window and drops
// expired leases.
func (a *app) cleanup(ctx context.Context) {
	d := a.cfg.RetentionDays
	err := observability.Cleanup(ctx, a.obs, observability.RetentionConfig{
		MetricsDays: d, HTTPLogsDays: d, EventLogsDays: d, HeartbeatsDays: d,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("observability cleanup", "error", err)
	}
	n, err := a.ingest.PurgeLeases(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("lease purge", "error", err)
	} else if n > 0 {
		a.logger.Info("lease purge", "removed", n)
	}
}

func (a *app) runCleanup(ctx context.Context) {
	a.cleanup(ctx)
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cleanup(ctx)
		}
	}
}

func (a *app) Close() {
	a.ingest.Close()
	a.metrics.Close()
	a.db.Close()
	a.obs.Close()
}
