package connector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
	"github.com/hazyhaar/datatrack/ingest/internal/render"
	"github.com/hazyhaar/datatrack/ingest/internal/store"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Fetcher  *fetch.Fetcher
	Evidence *evidence.Store
	Derived  *derived.Store
	// Renderer loads pages for scrape configs with render set. Nil falls
	// back to a plain fetch with a warning.
	Renderer render.Renderer
	Logger   *slog.Logger
}

// Target identifies the run a handler works for.
type Target struct {
	ConnectorID string
	SourceID    string
	RunID       string
}

// State accumulates the counters, errors and warnings of one run.
// Handlers only ever append to it.
type State struct {
	Fetched  int
	Created  int
	Updated  int
	Skipped  int
	Errors   []store.RunError
	Warnings []string
}

// Fail records a classified error against item.
func (s *State) Fail(item string, err error) {
	c := Classify(err)
	s.Errors = append(s.Errors, store.RunError{
		Class:     string(c.Class),
		Message:   err.Error(),
		Item:      item,
		Retryable: c.Retryable,
	})
}

// Warn records a non-fatal observation.
func (s *State) Warn(format string, args ...any) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Record counts an upsert outcome.
func (s *State) Record(o derived.Outcome) {
	switch o {
	case derived.Created:
		s.Created++
	case derived.Updated:
		s.Updated++
	case derived.Skipped:
		s.Skipped++
	}
}

// Run executes cfg for t, mutating st. The returned error is non-nil only
// for configuration problems and wraps ErrInvalidConfig.
func Run(ctx context.Context, d Deps, t Target, cfg Config, st *State) error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	d.Logger = d.Logger.With("connector_id", t.ConnectorID, "run_id", t.RunID)

	switch c := cfg.(type) {
	case *RESTConfig:
		return runREST(ctx, d, t, c, st)
	case *CSVConfig:
		return runCSV(ctx, d, t, c, st)
	case *PDFConfig:
		return runPDF(ctx, d, t, c, st)
	case *ScrapeConfig:
		return runScrape(ctx, d, t, c, st)
	default:
		return fmt.Errorf("%w: unsupported config %T", ErrInvalidConfig, cfg)
	}
}

// capture downloads req and stores the body as evidence. It returns false
// after recording the failure on st.
func capture(ctx context.Context, d Deps, t Target, st *State, req fetch.Request, fallbackType string) ([]byte, *evidence.Object, bool) {
	res, err := d.Fetcher.Get(ctx, req)
	if err != nil {
		d.Logger.Warn("connector: fetch failed", "url", req.URL, "error", err)
		st.Fail(req.URL, err)
		return nil, nil, false
	}
	obj, ok := keep(ctx, d, t, st, req.URL, res.Body, contentType(res.ContentType, fallbackType))
	return res.Body, obj, ok
}

func keep(ctx context.Context, d Deps, t Target, st *State, canonical string, body []byte, ct string) (*evidence.Object, bool) {
	put, err := d.Evidence.Put(ctx, evidence.PutInput{
		SourceID:     t.SourceID,
		RunID:        t.RunID,
		ContentType:  ct,
		CanonicalURL: canonical,
		Body:         body,
	})
	if err != nil {
		d.Logger.Error("connector: evidence put failed", "url", canonical, "error", err)
		st.Fail(canonical, fmt.Errorf("evidence: %w", err))
		return nil, false
	}
	if put.Reused {
		st.Warn("unchanged payload from %s (object %s)", canonical, put.Object.ID)
	}
	return put.Object, true
}

func contentType(got, fallback string) string {
	if got != "" {
		return got
	}
	return fallback
}

func upsertPoint(ctx context.Context, d Deps, st *State, item string, p *derived.Point) {
	out, err := d.Derived.UpsertPoint(ctx, p)
	if err != nil {
		st.Fail(item, err)
		return
	}
	st.Record(out)
}

func upsertDocument(ctx context.Context, d Deps, st *State, item string, doc *derived.Document) {
	out, err := d.Derived.UpsertDocument(ctx, doc)
	if err != nil {
		st.Fail(item, err)
		return
	}
	st.Record(out)
}
