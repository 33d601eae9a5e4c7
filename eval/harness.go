// Package eval measures retrieval quality against bilingual golden
// questions and gates releases on citation coverage.
//
// A suite run evaluates every role and sector scope, checks the citation
// coverage gate, persists one eval run and uploads its full JSON report
// next to the raw evidence.
package eval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/drift"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/idgen"
	"github.com/hazyhaar/datatrack/observability"
)

// ErrUnknownScope is returned when a scope has no golden questions.
var ErrUnknownScope = errors.New("eval: unknown scope")

// Config configures a Harness. Thresholds default to the published
// acceptance levels.
type Config struct {
	// GoldenPath overrides the built-in golden set with a YAML file.
	GoldenPath string `yaml:"golden_path"`
	// TopK is the number of results retrieved per question. Default: 5.
	TopK int `yaml:"top_k"`
	// Languages evaluated per question. Default: en, fr.
	Languages []string `yaml:"languages"`

	MinRecall   float64 `yaml:"min_recall"`    // Default: 0.70.
	MinCoverage float64 `yaml:"min_coverage"`  // Default: 0.80.
	MinGateMean float64 `yaml:"min_gate_mean"` // Default: 0.95.
	MinPassRate float64 `yaml:"min_pass_rate"` // Default: 0.90.
}

func (c *Config) defaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"en", "fr"}
	}
	if c.MinRecall <= 0 {
		c.MinRecall = 0.70
	}
	if c.MinCoverage <= 0 {
		c.MinCoverage = 0.80
	}
	if c.MinGateMean <= 0 {
		c.MinGateMean = 0.95
	}
	if c.MinPassRate <= 0 {
		c.MinPassRate = 0.90
	}
}

// QuestionResult is the score of one question in one language.
type QuestionResult struct {
	QuestionID string   `json:"questionId"`
	Scope      Scope    `json:"scope"`
	Language   string   `json:"language"`
	Query      string   `json:"query"`
	Retrieved  []string `json:"retrieved"`
	Recall     float64  `json:"recall"`
	Precision  float64  `json:"precision"`
	Coverage   float64  `json:"citationCoverage"`
	LatencyMs  float64  `json:"latencyMs"`
	Passed     bool     `json:"passed"`
	Error      string   `json:"error,omitempty"`
}

// ScopeReport aggregates one scope.
type ScopeReport struct {
	Scope     Scope            `json:"scope"`
	Summary   Summary          `json:"summary"`
	Questions []QuestionResult `json:"questions"`
}

// GateResult is the citation coverage gate outcome.
type GateResult struct {
	Sections  []derived.SectionCoverage `json:"sections"`
	Mean      float64                   `json:"mean"`
	Threshold float64                   `json:"threshold"`
	Passed    bool                      `json:"passed"`
}

// SuiteResult is the full report uploaded for every suite run.
type SuiteResult struct {
	Run        *Run          `json:"run"`
	Scopes     []ScopeReport `json:"scopes"`
	Gate       *GateResult   `json:"gate"`
	Regression *Regression   `json:"regression,omitempty"`
}

// Harness runs evaluations.
type Harness struct {
	golden    *GoldenSet
	retriever Retriever
	derived   *derived.Store
	blobs     evidence.Blobs
	store     *Store
	config    Config
	metrics   *observability.MetricsManager
	events    *observability.EventLogger
	logger    *slog.Logger
	now       func() time.Time
	newID     idgen.Generator
}

// Option configures a Harness.
type Option func(*Harness)

// WithRetriever replaces full-text search as the system under test.
func WithRetriever(r Retriever) Option { return func(h *Harness) { h.retriever = r } }

// WithGolden replaces the golden set.
func WithGolden(g *GoldenSet) Option { return func(h *Harness) { h.golden = g } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(h *Harness) { h.now = now } }

// WithMetrics records the suite pass rate.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(h *Harness) { h.metrics = mm }
}

// WithEvents logs a business event per suite run.
func WithEvents(el *observability.EventLogger) Option {
	return func(h *Harness) { h.events = el }
}

// New creates a Harness. db holds the eval tables, dv is the derived
// store searched and gated, blobs receives the JSON reports.
func New(db *sql.DB, dv *derived.Store, blobs evidence.Blobs, cfg Config, logger *slog.Logger, opts ...Option) (*Harness, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	h := &Harness{
		retriever: SearchRetriever{Derived: dv},
		derived:   dv,
		blobs:     blobs,
		store:     NewStore(db),
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		newID:     idgen.Prefixed("eval_", idgen.Default),
	}
	if cfg.GoldenPath != "" {
		g, err := LoadGolden(cfg.GoldenPath)
		if err != nil {
			return nil, err
		}
		h.golden = g
	}
	for _, o := range opts {
		o(h)
	}
	if h.golden == nil {
		h.golden = DefaultGolden()
	}
	return h, nil
}

// Store returns the eval run store.
func (h *Harness) Store() *Store { return h.store }

// Scopes lists the scopes of the golden set.
func (h *Harness) Scopes() []Scope { return h.golden.Scopes() }

// Passes reports whether a question with these scores passes.
func (h *Harness) Passes(recall, coverage float64) bool {
	return atLeast(recall, h.config.MinRecall) && atLeast(coverage, h.config.MinCoverage)
}

// RunRetrievalEval scores every golden question of scope in every
// configured language. A retrieval error fails that question only.
func (h *Harness) RunRetrievalEval(ctx context.Context, scope Scope) (*ScopeReport, error) {
	questions := h.golden.For(scope)
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	rep := &ScopeReport{Scope: scope}
	for _, q := range questions {
		for _, lang := range h.config.Languages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rep.Questions = append(rep.Questions, h.score(ctx, q, lang))
		}
	}
	rep.Summary = summarize(rep.Questions)
	return rep, nil
}

func (h *Harness) score(ctx context.Context, q Question, lang string) QuestionResult {
	qr := QuestionResult{QuestionID: q.ID, Scope: q.Scope, Language: lang, Query: q.Text(lang), Retrieved: []string{}}
	start := time.Now()
	results, err := h.retriever.Retrieve(ctx, qr.Query, lang, h.config.TopK)
	qr.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		qr.Error = err.Error()
		return qr
	}
	topics := q.Topics(lang)
	for _, r := range results {
		qr.Retrieved = append(qr.Retrieved, r.ID)
	}
	qr.Recall = recall(results, topics)
	qr.Precision = precision(results, topics)
	qr.Coverage = citationCoverage(results, q.RequiredCitations)
	qr.Passed = h.Passes(qr.Recall, qr.Coverage)
	return qr
}

func summarize(qs []QuestionResult) Summary {
	var recalls, precisions, coverages, latencies []float64
	s := Summary{Total: len(qs)}
	for _, q := range qs {
		if q.Passed {
			s.Passed++
		}
		recalls = append(recalls, q.Recall)
		precisions = append(precisions, q.Precision)
		coverages = append(coverages, q.Coverage)
		latencies = append(latencies, q.LatencyMs)
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	s.MeanRecall = mean(recalls)
	s.MeanPrecision = mean(precisions)
	s.MeanCoverage = mean(coverages)
	s.LatencyP95Ms = p95(latencies)
	return s
}

// EvaluateGate averages section coverages against threshold.
func EvaluateGate(sections []derived.SectionCoverage, threshold float64) *GateResult {
	cov := make([]float64, len(sections))
	for i, s := range sections {
		cov[i] = s.Coverage
	}
	g := &GateResult{Sections: sections, Mean: mean(cov), Threshold: threshold}
	g.Passed = len(sections) > 0 && atLeast(g.Mean, threshold)
	return g
}

// RunCitationCoverageGate checks citation coverage over the content
// sections of the derived store.
func (h *Harness) RunCitationCoverageGate(ctx context.Context) (*GateResult, error) {
	sections, err := h.derived.SectionCoverage(ctx)
	if err != nil {
		return nil, err
	}
	g := EvaluateGate(sections, h.config.MinGateMean)
	h.logger.Info("eval: citation gate", "mean", g.Mean, "passed", g.Passed)
	return g, nil
}

// RunFullEvalSuite evaluates every scope, runs the citation gate,
// persists the run and uploads its report to eval_reports/{id}.json.
// The suite passes when the question pass rate reaches MinPassRate and
// the gate passes.
func (h *Harness) RunFullEvalSuite(ctx context.Context, triggeredBy string) (*SuiteResult, error) {
	if triggeredBy == "" {
		triggeredBy = "manual"
	}
	run := &Run{ID: h.newID(), TriggeredBy: triggeredBy, StartedAt: h.now().UTC()}
	res := &SuiteResult{Run: run}

	var all []QuestionResult
	for _, sc := range h.golden.Scopes() {
		rep, err := h.RunRetrievalEval(ctx, sc)
		if err != nil {
			return nil, err
		}
		res.Scopes = append(res.Scopes, *rep)
		all = append(all, rep.Questions...)
	}
	gate, err := h.RunCitationCoverageGate(ctx)
	if err != nil {
		return nil, err
	}
	res.Gate = gate

	run.Summary = summarize(all)
	run.GateMean = gate.Mean
	run.GatePassed = gate.Passed
	run.SuitePassed = run.Total > 0 && atLeast(run.PassRate, h.config.MinPassRate) && gate.Passed
	run.CompletedAt = h.now().UTC()

	prev, err := h.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		reg := CheckForRegression(run.Summary, prev.Summary)
		reg.BaselineRunID = prev.ID
		res.Regression = &reg
	}

	if h.blobs != nil {
		report, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("eval: marshal report: %w", err)
		}
		uri, err := h.blobs.Put(ctx, "eval_reports/"+run.ID+".json", report, "application/json")
		if err != nil {
			return nil, fmt.Errorf("eval: upload report: %w", err)
		}
		run.ReportURI = uri
	}
	if err := h.store.Insert(ctx, run); err != nil {
		return nil, err
	}

	h.logger.Info("eval: suite finished", "run_id", run.ID, "total", run.Total,
		"passed", run.Passed, "pass_rate", run.PassRate, "gate_passed", run.GatePassed,
		"suite_passed", run.SuitePassed)
	h.metrics.Observe(observability.MetricEvalPassRate, run.PassRate, "ratio", "run", run.ID)
	h.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   observability.EventEvalSuite,
		ServiceName: "eval",
		EntityType:  "eval_run",
		EntityID:    run.ID,
		Action:      "suite",
		Success:     run.SuitePassed,
		Details: map[string]any{
			"passRate":   run.PassRate,
			"gateMean":   run.GateMean,
			"regression": res.Regression != nil && res.Regression.Regressed,
		},
	})
	return res, nil
}

// LatestRetrievalStats exposes the newest eval run to the retrieval
// drift sampler. It returns nil when no run exists.
func (h *Harness) LatestRetrievalStats(ctx context.Context) (*drift.RetrievalStats, error) {
	r, err := h.store.Latest(ctx)
	if err != nil || r == nil {
		return nil, err
	}
	return &drift.RetrievalStats{
		RecallAtK:    r.MeanRecall,
		PrecisionAtK: r.MeanPrecision,
		LatencyP95Ms: r.LatencyP95Ms,
		Questions:    r.Total,
	}, nil
}
