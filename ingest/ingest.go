// Package ingest orchestrates connector runs: scheduling, mutual
// exclusion, dispatch to typed handlers, run bookkeeping and the circuit
// breaker.
//
// Every payload is stored as evidence before it is parsed. Derived rows
// always point back at the raw object they came from.
package ingest

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/idgen"
	"github.com/hazyhaar/datatrack/ingest/internal/cadence"
	"github.com/hazyhaar/datatrack/ingest/internal/connector"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
	"github.com/hazyhaar/datatrack/ingest/internal/render"
	"github.com/hazyhaar/datatrack/ingest/internal/scheduler"
	"github.com/hazyhaar/datatrack/ingest/internal/store"
	"github.com/hazyhaar/datatrack/lease"
	"github.com/hazyhaar/datatrack/observability"
)

// ApplySchema creates the registry, connector, run and lease tables.
func ApplySchema(db *sql.DB) error {
	if err := store.ApplySchema(db); err != nil {
		return err
	}
	return lease.ApplySchema(db)
}

// Service is the ingestion orchestrator.
type Service struct {
	store    *store.Store
	leases   *lease.Manager
	evidence *evidence.Store
	derived  *derived.Store
	gaps     *gaps.Store
	fetcher  *fetch.Fetcher
	renderer render.Renderer
	chrome   *render.Chrome
	metrics  *observability.MetricsManager
	events   *observability.EventLogger
	config   Config
	logger   *slog.Logger
	now      func() time.Time
	newRunID idgen.Generator
	sched    *scheduler.Scheduler
}

// ServiceOption configures optional Service behavior.
type ServiceOption func(*Service)

// WithURLValidator overrides the URL validator used by the fetcher.
// Use in tests to allow httptest servers on 127.0.0.1.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(s *Service) { s.config.Fetch.URLValidator = fn }
}

// WithClock overrides the time source of the service, its stores and leases.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithRunIDGenerator overrides run ID generation.
func WithRunIDGenerator(g idgen.Generator) ServiceOption {
	return func(s *Service) { s.newRunID = g }
}

// WithRenderer sets the headless renderer used by scrape connectors.
func WithRenderer(r render.Renderer) ServiceOption {
	return func(s *Service) { s.renderer = r }
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.MetricsManager) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithEvents records business events for completed runs and circuit trips.
func WithEvents(e *observability.EventLogger) ServiceOption {
	return func(s *Service) { s.events = e }
}

// New creates a Service. db holds the ingestion tables (see ApplySchema).
func New(db *sql.DB, ev *evidence.Store, dv *derived.Store, gp *gaps.Store, cfg Config, logger *slog.Logger, opts ...ServiceOption) *Service {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		evidence: ev,
		derived:  dv,
		gaps:     gp,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		newRunID: idgen.Prefixed("run_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}

	s.store = store.NewStore(db).WithClock(s.now)
	s.leases = lease.New(db, lease.Options{
		Holder: s.config.Holder,
		TTL:    s.config.RunLeaseTTL,
		Now:    s.now,
		Logger: logger,
	})
	if s.config.Fetch.MaxRetries == 0 {
		s.config.Fetch.MaxRetries = s.config.FetchRetries
	}
	if s.config.Fetch.Logger == nil {
		s.config.Fetch.Logger = logger
	}
	s.fetcher = fetch.New(s.config.Fetch)
	if s.renderer == nil && !s.config.DisableRender {
		rc := s.config.Render
		if rc.Logger == nil {
			rc.Logger = logger
		}
		s.chrome = render.NewChrome(rc)
		s.renderer = s.chrome
	}
	s.sched = scheduler.New(s.leases, s.scheduledBatch, s.config.Scheduler, logger)
	return s
}

// Start recovers runs abandoned by a previous process and launches the
// scheduler loop unless disabled. It returns immediately.
func (s *Service) Start(ctx context.Context) {
	if n, err := s.RecoverAbandonedRuns(ctx); err != nil {
		s.logger.Error("ingest: recover abandoned runs", "error", err)
	} else if n > 0 {
		s.logger.Warn("ingest: recovered abandoned runs", "count", n)
	}
	if !s.config.DisableScheduler {
		go s.sched.Run(ctx)
	}
	s.logger.Info("ingest: started", "holder", s.leases.Holder(), "scheduler", !s.config.DisableScheduler)
}

// Close releases the headless browser, if one was launched.
func (s *Service) Close() error {
	if s.chrome != nil {
		return s.chrome.Close()
	}
	return nil
}

// InFlight reports whether a run of connector id currently holds its lease.
func (s *Service) InFlight(ctx context.Context, id string) (bool, error) {
	return s.leases.Held(ctx, leaseKey(id))
}

// SchedulerLeader returns the scheduler leader lease row, live or
// expired, or nil when no process has led yet.
func (s *Service) SchedulerLeader(ctx context.Context) (*lease.Lease, error) {
	return s.leases.Get(ctx, scheduler.LeaderKey)
}

// PurgeLeases deletes expired lease rows left by crashed runs and
// departed leaders.
func (s *Service) PurgeLeases(ctx context.Context) (int64, error) {
	return s.leases.Purge(ctx)
}

// GetRun returns a run by ID, or nil if absent.
func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns returns the most recent runs of a connector, newest first.
func (s *Service) ListRuns(ctx context.Context, connectorID string, limit int) ([]*Run, error) {
	return s.store.ListRuns(ctx, connectorID, limit)
}

// ListConnectors returns every registered connector.
func (s *Service) ListConnectors(ctx context.Context) ([]*Connector, error) {
	return s.store.ListConnectors(ctx)
}

// ConnectorStatuses lists connectors with their scheduling state.
func (s *Service) ConnectorStatuses(ctx context.Context) ([]ConnectorStatus, error) {
	list, err := s.store.ListConnectors(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]ConnectorStatus, 0, len(list))
	for _, c := range list {
		out = append(out, ConnectorStatus{
			Connector: c,
			Due:       cadence.Due(c, now, s.config.MaxFailures),
			NextDueAt: cadence.NextDue(c, now),
		})
	}
	return out, nil
}

// GetConnector returns a connector or ErrConnectorNotFound.
func (s *Service) GetConnector(ctx context.Context, id string) (*Connector, error) {
	c, err := s.store.GetConnector(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrConnectorNotFound
	}
	return c, nil
}

// ListSources returns the source registry.
func (s *Service) ListSources(ctx context.Context) ([]*Source, error) {
	return s.store.ListSources(ctx)
}

func (s *Service) deps() connector.Deps {
	return connector.Deps{
		Fetcher:  s.fetcher,
		Evidence: s.evidence,
		Derived:  s.derived,
		Renderer: s.renderer,
		Logger:   s.logger,
	}
}

func leaseKey(connectorID string) string { return "connector:" + connectorID }
