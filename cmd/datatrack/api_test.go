package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/drift"
	"github.com/hazyhaar/datatrack/eval"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/horosafe"
	"github.com/hazyhaar/datatrack/ingest"
	"github.com/hazyhaar/datatrack/observability"
)

const testSeed = `
sources:
  - id: stats
    name: National statistics office
    cadence: monthly
    active: true
    automation_allowed: true
    connectors:
      - id: cpi
        type: api_rest
        config:
          url: "https://stats.example.org/series/{indicator}"
          indicators: [CPI]
          resultPath: data
      - id: gdp
        type: api_rest
        cadence: quarterly
        config:
          url: "https://stats.example.org/gdp"
          indicators: [GDP]
  - id: paywalled
    name: Paywalled publisher
    active: true
    automation_allowed: false
    connectors:
      - id: pw-reports
        type: api_rest
        config:
          url: "https://pw.example.org/api"
          indicators: [X]
`

func newTestApp(t *testing.T, opts ...ingest.ServiceOption) *app {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchemaFunc(ingest.ApplySchema),
		dbopen.WithSchemaFunc(evidence.ApplySchema),
		dbopen.WithSchemaFunc(derived.ApplySchema),
		dbopen.WithSchemaFunc(gaps.ApplySchema),
		dbopen.WithSchemaFunc(drift.ApplySchema),
		dbopen.WithSchemaFunc(eval.ApplySchema),
	)
	obs := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(observability.ApplySchema))
	blobs, err := evidence.NewFileBlobs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Ingest: ingest.Config{DisableRender: true, DisableScheduler: true}}
	a, err := newApp(db, obs, blobs, cfg, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.ingest.Close()
		a.metrics.Close()
	})
	return a
}

func seedTestApp(t *testing.T, a *app) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(testSeed), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := loadSeed(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.seed(context.Background(), f); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSeed(t *testing.T) {
	// WHAT: Seeding registers sources and connectors, inherits the source cadence and is repeatable.
	// WHY: Deployments re-apply the same seed file on every release.
	a := newTestApp(t)
	seedTestApp(t, a)
	seedTestApp(t, a)
	ctx := context.Background()

	conns, err := a.ingest.ListConnectors(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 3 {
		t.Fatalf("connectors: %d", len(conns))
	}
	cpi, _ := a.ingest.GetConnector(ctx, "cpi")
	gdp, _ := a.ingest.GetConnector(ctx, "gdp")
	if cpi.Cadence != "monthly" || gdp.Cadence != "quarterly" {
		t.Errorf("cadence: cpi=%s gdp=%s", cpi.Cadence, gdp.Cadence)
	}
	if !cpi.LicenseAllowsAutomation {
		t.Error("license flag not inherited from source")
	}
	n, _ := a.events.CountEvents(ctx, observability.EventConnectorSeeded, time.Now().Add(-time.Minute))
	if n != 6 {
		t.Errorf("seed events: %d", n)
	}
}

func TestSeed_InvalidConnector(t *testing.T) {
	// WHAT: A connector with an unusable config stops the seed with a validation error.
	// WHY: A typo in the seed file must fail at load time, not at the first scheduled run.
	a := newTestApp(t)
	f := &seedFile{Sources: []seedSource{{
		ID: "stats", Name: "Stats", Active: true,
		Connectors: []seedConnector{{ID: "broken", Type: "api_rest", Config: map[string]any{"url": "ftp://x"}}},
	}}}
	sum, err := a.seed(context.Background(), f)
	if !ingest.IsInvalid(err) {
		t.Fatalf("got %v", err)
	}
	if sum.Sources != 1 || sum.Connectors != 0 {
		t.Errorf("summary: %+v", sum)
	}
}

func TestAPI_Connectors(t *testing.T) {
	// WHAT: Connector listing, due listing and the dry-run endpoint respond with JSON.
	// WHY: The dashboard admin view drives runs through these routes.
	a := newTestApp(t)
	seedTestApp(t, a)
	h := newRouter(a)

	w := do(t, h, http.MethodGet, "/api/connectors", nil)
	var list []map[string]any
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || len(list) != 3 {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodGet, "/api/connectors/due", nil)
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || len(list) != 2 {
		t.Errorf("due: %d %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodPost, "/api/connectors/cpi/run", map[string]any{"dry_run": true})
	var res ingest.RunResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || !res.DryRun || !res.Success {
		t.Errorf("dry run: %d %s", w.Code, w.Body)
	}
	if runs, _ := a.ingest.ListRuns(context.Background(), "cpi", 10); len(runs) != 0 {
		t.Errorf("dry run persisted %d runs", len(runs))
	}
}

func TestAPI_RunErrors(t *testing.T) {
	// WHAT: Unknown connectors are 404 and preflight refusals are 422 with reasons.
	// WHY: Clients distinguish a typo from a licensing block.
	a := newTestApp(t)
	seedTestApp(t, a)
	h := newRouter(a)

	if w := do(t, h, http.MethodPost, "/api/connectors/nope/run", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown connector: %d", w.Code)
	}
	w := do(t, h, http.MethodPost, "/api/connectors/pw-reports/run", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("preflight: %d %s", w.Code, w.Body)
	}
	var body struct {
		Reasons []string `json:"reasons"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Reasons) == 0 {
		t.Errorf("no reasons: %s", w.Body)
	}
	if w := do(t, h, http.MethodGet, "/api/runs/run_missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown run: %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/evidence/raw_missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown evidence: %d", w.Code)
	}
}

func TestAPI_DriftAndGaps(t *testing.T) {
	// WHAT: A critical drift metric posted to the API opens a ticket that the gaps routes list and close.
	// WHY: Model-quality metrics only arrive through this route.
	a := newTestApp(t)
	h := newRouter(a)

	w := do(t, h, http.MethodPost, "/api/drift/metrics", drift.Sample{
		Domain: drift.DomainModel, Metric: "hallucination_rate", Value: 0.25,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("record: %d %s", w.Code, w.Body)
	}
	var rec drift.RecordResult
	json.Unmarshal(w.Body.Bytes(), &rec)
	if !rec.TicketCreated {
		t.Fatalf("no ticket: %s", w.Body)
	}

	if w := do(t, h, http.MethodPost, "/api/drift/metrics", map[string]any{"domain": "model", "metric": "vibes", "value": 1}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown metric: %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/gaps?origin=drift", nil)
	var tickets []gaps.Ticket
	json.Unmarshal(w.Body.Bytes(), &tickets)
	if len(tickets) != 1 || tickets[0].ID != rec.TicketID {
		t.Fatalf("gaps: %s", w.Body)
	}

	w = do(t, h, http.MethodPost, "/api/gaps/"+rec.TicketID+"/close", nil)
	if w.Code != http.StatusOK {
		t.Errorf("close: %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodPost, "/api/gaps/gap_missing/close", nil); w.Code != http.StatusNotFound {
		t.Errorf("close unknown: %d", w.Code)
	}
}

func TestAPI_EvalGateAndHealth(t *testing.T) {
	// WHAT: The gate route reports per-section coverage, /health reports ok, and requests are logged.
	// WHY: The dashboard drift sampler reads the request log.
	a := newTestApp(t)
	h := newRouter(a)

	w := do(t, h, http.MethodPost, "/api/eval/gate", nil)
	var gate eval.GateResult
	json.Unmarshal(w.Body.Bytes(), &gate)
	if w.Code != http.StatusOK || len(gate.Sections) == 0 {
		t.Errorf("gate: %d %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodGet, "/health", nil)
	var health struct {
		Status string `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &health)
	if w.Code != http.StatusOK || health.Status != "ok" {
		t.Errorf("health: %d %s", w.Code, w.Body)
	}

	var n int
	a.obs.QueryRow(`SELECT COUNT(*) FROM http_request_logs`).Scan(&n)
	if n != 2 {
		t.Errorf("request logs: %d", n)
	}
}

func TestAPI_RunEvidenceAndSchedule(t *testing.T) {
	// WHAT: A completed run lists its evidence, evidence can be superseded, and connectors report when they are next due.
	// WHY: Auditors trace a run to the exact bytes it stored and operators see the schedule.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"date":"2024-01","value":1.5}]}`)
	}))
	t.Cleanup(upstream.Close)
	a := newTestApp(t, ingest.WithURLValidator(horosafe.AllowLoopback))
	ctx := context.Background()
	if err := a.ingest.RegisterSource(ctx, &ingest.Source{ID: "stats", Name: "Stats", Active: true, AutomationAllowed: true}); err != nil {
		t.Fatal(err)
	}
	if err := a.ingest.RegisterConnector(ctx, &ingest.Connector{
		ID: "cpi", SourceID: "stats", Name: "CPI", Type: ingest.TypeAPIRest, Cadence: "daily",
		ConfigJSON:              fmt.Sprintf(`{"url":%q,"indicators":["CPI"],"resultPath":"data"}`, upstream.URL+"/{indicator}"),
		LicenseAllowsAutomation: true,
	}); err != nil {
		t.Fatal(err)
	}
	h := newRouter(a)

	w := do(t, h, http.MethodPost, "/api/connectors/cpi/run", nil)
	var res ingest.RunResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if w.Code != http.StatusOK || !res.Success {
		t.Fatalf("run: %d %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodGet, "/api/runs/"+res.Run.ID, nil)
	var detail struct {
		Run      ingest.Run         `json:"run"`
		Evidence []*evidence.Object `json:"evidence"`
	}
	json.Unmarshal(w.Body.Bytes(), &detail)
	if w.Code != http.StatusOK || detail.Run.ID != res.Run.ID || len(detail.Evidence) != 1 {
		t.Fatalf("run detail: %d %s", w.Code, w.Body)
	}

	w = do(t, h, http.MethodPost, "/api/evidence/"+detail.Evidence[0].ID+"/supersede", nil)
	var obj evidence.Object
	json.Unmarshal(w.Body.Bytes(), &obj)
	if w.Code != http.StatusOK || obj.Status != evidence.StatusSuperseded {
		t.Errorf("supersede: %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodPost, "/api/evidence/raw_missing/supersede", nil); w.Code != http.StatusNotFound {
		t.Errorf("supersede unknown: %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/connectors", nil)
	var list []ingest.ConnectorStatus
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list) != 1 || list[0].Due || list[0].NextDueAt == nil {
		t.Fatalf("connectors: %s", w.Body)
	}
	if d := time.Until(*list[0].NextDueAt); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("nextDueAt in %v", d)
	}
}

func TestAPI_RunInvalidConfigKeepsRunID(t *testing.T) {
	// WHAT: A run that fails on its stored config answers 400 with the id of the failed run.
	// WHY: The failed run is persisted and the caller needs its id to inspect it.
	a := newTestApp(t)
	seedTestApp(t, a)
	if _, err := a.db.Exec(`UPDATE connectors SET config_json = '{' WHERE id = 'cpi'`); err != nil {
		t.Fatal(err)
	}
	w := do(t, newRouter(a), http.MethodPost, "/api/connectors/cpi/run", nil)
	var body struct {
		Error string `json:"error"`
		RunID string `json:"runId"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if w.Code != http.StatusBadRequest || body.RunID == "" {
		t.Fatalf("invalid config: %d %s", w.Code, w.Body)
	}
	run, err := a.ingest.GetRun(context.Background(), body.RunID)
	if err != nil || run == nil || run.Status != ingest.RunFailed {
		t.Errorf("failed run: %+v %v", run, err)
	}
}
