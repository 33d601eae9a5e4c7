package drift

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/idgen"
	"github.com/hazyhaar/datatrack/observability"
)

// ErrUnknownMetric is returned for a domain/metric pair not in the catalog.
var ErrUnknownMetric = errors.New("drift: unknown metric")

// Config configures a Monitor.
type Config struct {
	// Overrides replace catalog entries with the same domain and metric.
	Overrides []Definition `yaml:"overrides"`
	// DashboardWindow is the request log window sampled by the dashboard
	// sampler. Default: 24h.
	DashboardWindow time.Duration `yaml:"dashboard_window"`
	// TranslationLanguages are the languages every translated document
	// should exist in. Default: en, fr.
	TranslationLanguages []string `yaml:"translation_languages"`
}

func (c *Config) defaults() {
	if c.DashboardWindow <= 0 {
		c.DashboardWindow = 24 * time.Hour
	}
	if len(c.TranslationLanguages) == 0 {
		c.TranslationLanguages = []string{"en", "fr"}
	}
}

// Sample is a raw observation before evaluation.
type Sample struct {
	Domain     Domain  `json:"domain"`
	Metric     string  `json:"metric"`
	Value      float64 `json:"value"`
	SampleSize int     `json:"sampleSize,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// Sampler measures the metrics of one domain. Returning no samples marks
// the domain as skipped for this check.
type Sampler interface {
	Domain() Domain
	Sample(ctx context.Context) ([]Sample, error)
}

// RecordResult is the evaluated metric and any ticket it filed.
type RecordResult struct {
	Metric        *Metric `json:"metric"`
	TicketID      string  `json:"ticketId,omitempty"`
	TicketCreated bool    `json:"ticketCreated,omitempty"`
}

// CheckResult summarises RunFullDriftCheck.
type CheckResult struct {
	Sampled        int             `json:"sampled"`
	Breaches       int             `json:"breaches"`
	Critical       int             `json:"critical"`
	TicketsCreated int             `json:"ticketsCreated"`
	SamplerErrors  []string        `json:"samplerErrors"`
	Skipped        []Domain        `json:"skipped"`
	Results        []*RecordResult `json:"results"`
}

// Monitor evaluates and records drift metrics.
type Monitor struct {
	store    *Store
	gaps     *gaps.Store
	catalog  *Catalog
	samplers []Sampler
	config   Config
	metrics  *observability.MetricsManager
	events   *observability.EventLogger
	logger   *slog.Logger
	now      func() time.Time
	newID    idgen.Generator
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSamplers registers samplers run by RunFullDriftCheck.
func WithSamplers(s ...Sampler) Option {
	return func(m *Monitor) { m.samplers = append(m.samplers, s...) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// WithMetrics records breach counts per check.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(m *Monitor) { m.metrics = mm }
}

// WithEvents logs a business event per check.
func WithEvents(el *observability.EventLogger) Option {
	return func(m *Monitor) { m.events = el }
}

// New creates a Monitor over the drift tables in db. gp receives tickets
// for critical breaches and may be nil.
func New(db *sql.DB, gp *gaps.Store, cfg Config, logger *slog.Logger, opts ...Option) (*Monitor, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	cat, err := NewCatalog(append(append([]Definition{}, DefaultCatalog...), cfg.Overrides...)...)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		store:   NewStore(db),
		gaps:    gp,
		catalog: cat,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		newID:   idgen.Prefixed("drm_", idgen.Default),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Catalog returns the effective catalog.
func (m *Monitor) Catalog() *Catalog { return m.catalog }

// Store returns the metric store.
func (m *Monitor) Store() *Store { return m.store }

// RecordDriftMetric evaluates s against the catalog and appends it. A
// critical breach opens a gap ticket, deduplicated per domain and metric
// while one is open.
func (m *Monitor) RecordDriftMetric(ctx context.Context, s Sample) (*RecordResult, error) {
	return m.record(ctx, s, "manual")
}

func (m *Monitor) record(ctx context.Context, s Sample, origin string) (*RecordResult, error) {
	def, ok := m.catalog.Lookup(s.Domain, s.Metric)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMetric, s.Domain, s.Metric)
	}
	delta, sev := def.Evaluate(s.Value)
	met := &Metric{
		ID:         m.newID(),
		Domain:     def.Domain,
		Metric:     def.Metric,
		Value:      s.Value,
		Baseline:   def.Baseline,
		Warning:    def.Warning,
		Critical:   def.Critical,
		Delta:      delta,
		Severity:   sev,
		Breached:   sev != SeverityNone,
		SampleSize: s.SampleSize,
		Origin:     origin,
		Notes:      s.Notes,
		RecordedAt: m.now().UTC(),
	}
	if err := m.store.Insert(ctx, met); err != nil {
		return nil, err
	}
	res := &RecordResult{Metric: met}
	if met.Breached {
		m.logger.Warn("drift: breach", "metric", def.Key(), "value", s.Value,
			"baseline", def.Baseline, "delta", delta, "severity", sev)
	}
	if sev == SeverityCritical && m.gaps != nil {
		t, created, err := m.gaps.Open(ctx, &gaps.Ticket{
			MissingItem: fmt.Sprintf("%s drift on %s: %.4g against baseline %.4g",
				def.Domain, def.Metric, s.Value, def.Baseline),
			WhyItMatters: fmt.Sprintf("delta %.4g exceeds the critical threshold %.4g", delta, def.Critical),
			Priority:     gaps.PriorityCritical,
			Origin:       gaps.OriginDrift,
			MetricRef:    met.ID,
			DedupKey:     "drift:" + def.Key(),
		})
		if err != nil {
			return res, fmt.Errorf("drift: open ticket: %w", err)
		}
		res.TicketID = t.ID
		res.TicketCreated = created
	}
	return res, nil
}

// RunFullDriftCheck runs every sampler and records its samples. A
// sampler error is reported and does not stop the check. Catalog domains
// without a sampler, or whose sampler returned nothing, are skipped.
func (m *Monitor) RunFullDriftCheck(ctx context.Context) (*CheckResult, error) {
	out := &CheckResult{SamplerErrors: []string{}, Skipped: []Domain{}, Results: []*RecordResult{}}
	sampled := map[Domain]bool{}
	for _, sp := range m.samplers {
		samples, err := sp.Sample(ctx)
		if err != nil {
			m.logger.Warn("drift: sampler failed", "domain", sp.Domain(), "error", err)
			out.SamplerErrors = append(out.SamplerErrors, fmt.Sprintf("%s: %v", sp.Domain(), err))
			continue
		}
		for _, s := range samples {
			r, err := m.record(ctx, s, "sampler")
			if err != nil {
				out.SamplerErrors = append(out.SamplerErrors, fmt.Sprintf("%s.%s: %v", s.Domain, s.Metric, err))
				continue
			}
			sampled[s.Domain] = true
			out.Sampled++
			out.Results = append(out.Results, r)
			if r.Metric.Breached {
				out.Breaches++
			}
			if r.Metric.Severity == SeverityCritical {
				out.Critical++
			}
			if r.TicketCreated {
				out.TicketsCreated++
			}
		}
	}
	for _, d := range Domains {
		if !sampled[d] {
			out.Skipped = append(out.Skipped, d)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	m.metrics.Observe(observability.MetricDriftBreaches, float64(out.Breaches), "count",
		"critical", fmt.Sprint(out.Critical))
	m.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   observability.EventDriftCheck,
		ServiceName: "drift",
		Action:      "check",
		Success:     len(out.SamplerErrors) == 0,
		Details: map[string]int{
			"sampled":  out.Sampled,
			"breaches": out.Breaches,
			"critical": out.Critical,
			"tickets":  out.TicketsCreated,
		},
	})
	m.logger.Info("drift: check finished", "sampled", out.Sampled, "breaches", out.Breaches,
		"critical", out.Critical, "tickets", out.TicketsCreated, "skipped", len(out.Skipped))
	return out, nil
}
