package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/gaps"
	"github.com/hazyhaar/datatrack/horosafe"
	"github.com/hazyhaar/datatrack/ingest/internal/scheduler"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	svc     *Service
	derived *derived.Store
	gaps    *gaps.Store
	clock   *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchemaFunc(ApplySchema),
		dbopen.WithSchemaFunc(evidence.ApplySchema),
		dbopen.WithSchemaFunc(derived.ApplySchema),
		dbopen.WithSchemaFunc(gaps.ApplySchema),
	)
	blobs, err := evidence.NewFileBlobs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	dv := derived.NewStore(db)
	gp := gaps.NewStore(db, gaps.WithClock(clk.Now))
	svc := New(db, evidence.NewStore(db, blobs), dv, gp,
		Config{DisableRender: true, DisableScheduler: true}, nil,
		WithURLValidator(horosafe.AllowLoopback), WithClock(clk.Now))
	t.Cleanup(func() { svc.Close() })

	if err := svc.RegisterSource(context.Background(), &Source{
		ID: "stats", Name: "National statistics office", Active: true, AutomationAllowed: true,
	}); err != nil {
		t.Fatal(err)
	}
	return &env{svc: svc, derived: dv, gaps: gp, clock: clk}
}

func (e *env) addREST(t *testing.T, id, baseURL string, mutate func(*Connector)) {
	t.Helper()
	c := &Connector{
		ID:                      id,
		SourceID:                "stats",
		Name:                    id,
		Type:                    TypeAPIRest,
		ConfigJSON:              fmt.Sprintf(`{"url":%q,"indicators":["CPI"],"resultPath":"data"}`, baseURL+"/series/{indicator}"),
		Cadence:                 "daily",
		LicenseAllowsAutomation: true,
	}
	if mutate != nil {
		mutate(c)
	}
	if err := e.svc.RegisterConnector(context.Background(), c); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

const partialPayload = `{"data":[
	{"date":"2024-01","value":1.5},
	{"date":"2024-02","value":1.7},
	{"date":"2024-03","value":2.0},
	{"date":"2024-04","value":"n/a"}
]}`

func jsonServer(t *testing.T, body *atomic.Value, status *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := status.Load(); code != 0 && code != http.StatusOK {
			w.WriteHeader(int(code))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body.Load().(string))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunConnector_RESTPartial(t *testing.T) {
	// WHAT: Three valid records and one malformed record give a partial run with three rows.
	// WHY: One bad record must not discard the payload or hide the failure.
	e := newEnv(t)
	var body atomic.Value
	body.Store(partialPayload)
	var status atomic.Int32
	srv := jsonServer(t, &body, &status)
	e.addREST(t, "cpi", srv.URL, nil)
	ctx := context.Background()

	res, err := e.svc.RunConnector(ctx, "cpi", RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Run.Status != RunPartial || res.Success {
		t.Fatalf("status: %s success=%v", res.Run.Status, res.Success)
	}
	if len(res.Run.Errors) < 1 || res.Run.Errors[0].Class != "parse" {
		t.Errorf("errors: %+v", res.Run.Errors)
	}
	if n, _ := e.derived.CountPoints(ctx, "stats"); n != 3 {
		t.Errorf("points: %d", n)
	}

	stored, err := e.svc.GetRun(ctx, res.Run.ID)
	if err != nil || stored == nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != RunPartial || stored.RecordsCreated != 3 || stored.CompletedAt == nil {
		t.Errorf("stored run: %+v", stored)
	}
	c, _ := e.svc.GetConnector(ctx, "cpi")
	if c.ConsecutiveFailures != 1 || c.LastRunID != res.Run.ID || c.LastSuccessAt != nil {
		t.Errorf("connector after partial: %+v", c)
	}
}

func TestRunConnector_ConcurrentRejected(t *testing.T) {
	// WHAT: A second run of the same connector is rejected while the first is in flight.
	// WHY: Two overlapping runs would double-count records and race on the failure counter.
	e := newEnv(t)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"date":"2024-01","value":1}]}`)
	}))
	defer srv.Close()
	e.addREST(t, "x", srv.URL, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var first *RunResult
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = e.svc.RunConnector(ctx, "x", RunOptions{})
	}()
	<-entered

	if inflight, _ := e.svc.InFlight(ctx, "x"); !inflight {
		t.Error("InFlight should be true during the first run")
	}
	if _, err := e.svc.RunConnector(ctx, "x", RunOptions{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second run: %v", err)
	}
	close(release)
	wg.Wait()

	if firstErr != nil || first.Run.Status != RunSuccess {
		t.Fatalf("first run: %+v %v", first, firstErr)
	}
	if inflight, _ := e.svc.InFlight(ctx, "x"); inflight {
		t.Error("InFlight should be false after both runs settle")
	}
	runs, _ := e.svc.ListRuns(ctx, "x", 10)
	if len(runs) != 1 {
		t.Errorf("runs: %d", len(runs))
	}
}

func TestCircuitBreaker(t *testing.T) {
	// WHAT: Five failures exclude the connector and open one ticket; a forced success re-enables it.
	// WHY: A dead source must stop consuming runs without being silently forgotten.
	e := newEnv(t)
	var body atomic.Value
	body.Store(`{"data":[{"date":"2024-01","value":1}]}`)
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := jsonServer(t, &body, &status)
	e.addREST(t, "cpi", srv.URL, nil)
	ctx := context.Background()

	var last *RunResult
	for i := 0; i < 5; i++ {
		res, err := e.svc.RunConnector(ctx, "cpi", RunOptions{})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Run.Status != RunFailed {
			t.Fatalf("run %d status: %s", i, res.Run.Status)
		}
		last = res
	}
	if !last.CircuitOpen || last.TicketID == "" {
		t.Fatalf("circuit not open: %+v", last)
	}

	e.clock.Advance(30 * 24 * time.Hour)
	due, _ := e.svc.GetDueConnectors(ctx)
	if len(due) != 0 {
		t.Errorf("tripped connector is due: %d", len(due))
	}

	again, err := e.svc.RunConnector(ctx, "cpi", RunOptions{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if again.TicketID != last.TicketID {
		t.Errorf("dedup: %s != %s", again.TicketID, last.TicketID)
	}
	tickets, _ := e.gaps.List(ctx, gaps.ListFilter{Origin: gaps.OriginIngestion})
	if len(tickets) != 1 || tickets[0].DedupKey != "connector:cpi" || tickets[0].Priority != gaps.PriorityHigh {
		t.Fatalf("tickets: %+v", tickets)
	}

	status.Store(http.StatusOK)
	ok, err := e.svc.RunConnector(ctx, "cpi", RunOptions{Force: true})
	if err != nil || !ok.Success {
		t.Fatalf("forced success: %+v %v", ok, err)
	}
	c, _ := e.svc.GetConnector(ctx, "cpi")
	if c.ConsecutiveFailures != 0 || c.LastSuccessAt == nil {
		t.Errorf("connector after success: %+v", c)
	}
	open, _ := e.gaps.List(ctx, gaps.ListFilter{Origin: gaps.OriginIngestion, Status: gaps.StatusOpen})
	if len(open) != 0 {
		t.Errorf("breaker ticket still open after recovery: %+v", open)
	}
	e.clock.Advance(25 * time.Hour)
	due, _ = e.svc.GetDueConnectors(ctx)
	if len(due) != 1 || due[0].ID != "cpi" {
		t.Errorf("due after reset: %v", due)
	}

	status.Store(http.StatusInternalServerError)
	for i := 0; i < 5; i++ {
		last, err = e.svc.RunConnector(ctx, "cpi", RunOptions{Force: true})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !last.CircuitOpen || last.TicketID == "" || last.TicketID == again.TicketID {
		t.Errorf("second trip reused ticket %s: %+v", again.TicketID, last)
	}
}

func TestRunConnector_NoInProcessRetry(t *testing.T) {
	// WHAT: With the default config a 503 is fetched once and the run fails without retrying.
	// WHY: Transient failures wait for the next due check; retrying inside the run hides outages.
	e := newEnv(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	e.addREST(t, "cpi", srv.URL, nil)

	res, err := e.svc.RunConnector(context.Background(), "cpi", RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Run.Status != RunFailed {
		t.Errorf("status: %s", res.Run.Status)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("upstream hits in one run: %d", n)
	}
}

func TestRunConnector_Preflight(t *testing.T) {
	// WHAT: A partnership connector without an active partnership is refused unless forced.
	// WHY: Collecting from a source without an agreement breaches its terms.
	e := newEnv(t)
	var body atomic.Value
	body.Store(`{"data":[{"date":"2024-01","value":1}]}`)
	var status atomic.Int32
	srv := jsonServer(t, &body, &status)
	ctx := context.Background()
	if err := e.svc.RegisterSource(ctx, &Source{ID: "partner", Name: "Partner", Active: true, PartnershipStatus: PartnershipPending}); err != nil {
		t.Fatal(err)
	}
	e.addREST(t, "p", srv.URL, func(c *Connector) {
		c.SourceID = "partner"
		c.RequiresPartnership = true
	})

	_, err := e.svc.RunConnector(ctx, "p", RunOptions{})
	var pe *PreflightError
	if !errors.As(err, &pe) || !errors.Is(err, ErrPreflight) {
		t.Fatalf("want preflight error, got %v", err)
	}
	if len(pe.Reasons) != 1 {
		t.Errorf("reasons: %v", pe.Reasons)
	}
	if runs, _ := e.svc.ListRuns(ctx, "p", 10); len(runs) != 0 {
		t.Errorf("preflight failure wrote %d runs", len(runs))
	}

	res, err := e.svc.RunConnector(ctx, "p", RunOptions{Force: true})
	if err != nil || !res.Success {
		t.Fatalf("forced run: %+v %v", res, err)
	}
}

func TestRunConnector_DryRun(t *testing.T) {
	// WHAT: A dry run validates the connector and returns a pending run without fetching.
	// WHY: Operators check new connectors before letting them write.
	e := newEnv(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()
	e.addREST(t, "cpi", srv.URL, nil)
	ctx := context.Background()

	res, err := e.svc.RunConnector(ctx, "cpi", RunOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.DryRun || res.Run.Status != RunPending || res.Run.ID != "" {
		t.Errorf("dry run: %+v", res.Run)
	}
	if hits.Load() != 0 {
		t.Errorf("dry run fetched %d times", hits.Load())
	}
	if runs, _ := e.svc.ListRuns(ctx, "cpi", 10); len(runs) != 0 {
		t.Errorf("dry run persisted %d runs", len(runs))
	}
}

func TestRunConnector_NotFound(t *testing.T) {
	// WHAT: Unknown connector IDs return ErrConnectorNotFound.
	// WHY: The API maps it to 404.
	e := newEnv(t)
	if _, err := e.svc.RunConnector(context.Background(), "nope", RunOptions{}); !errors.Is(err, ErrConnectorNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestRegisterConnector_Validation(t *testing.T) {
	// WHAT: Bad configs, unknown sources and unknown cadences are rejected at registration.
	// WHY: Config errors should surface when a connector is added, not at 3am.
	e := newEnv(t)
	ctx := context.Background()
	cases := []struct {
		name string
		c    *Connector
		want error
	}{
		{"bad json", &Connector{ID: "a", SourceID: "stats", Type: TypeAPIRest, ConfigJSON: `{`}, ErrInvalidConfig},
		{"unknown type", &Connector{ID: "b", SourceID: "stats", Type: "ftp", ConfigJSON: `{}`}, ErrInvalidConfig},
		{"missing url", &Connector{ID: "c", SourceID: "stats", Type: TypeCSV, ConfigJSON: `{"indicator":"X"}`}, ErrInvalidConfig},
		{"unknown source", &Connector{ID: "d", SourceID: "ghost", Type: TypeCSV,
			ConfigJSON: `{"url":"https://example.org/a.csv","indicator":"X"}`}, ErrSourceNotFound},
		{"bad cadence", &Connector{ID: "e", SourceID: "stats", Type: TypeCSV, Cadence: "fortnightly",
			ConfigJSON: `{"url":"https://example.org/a.csv","indicator":"X"}`}, ErrInvalidInput},
		{"bad id", &Connector{ID: "../x", SourceID: "stats", Type: TypeCSV,
			ConfigJSON: `{"url":"https://example.org/a.csv","indicator":"X"}`}, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := e.svc.RegisterConnector(ctx, tc.c); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRunScheduledIngestion(t *testing.T) {
	// WHAT: A batch runs every due connector in order and isolates failures.
	// WHY: One broken source must not block the others.
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			e := newEnv(t)
			e.svc.config.Workers = workers
			var good, bad atomic.Value
			good.Store(`{"data":[{"date":"2024-01","value":1}]}`)
			bad.Store(`{}`)
			var ok, fail atomic.Int32
			fail.Store(http.StatusBadGateway)
			okSrv := jsonServer(t, &good, &ok)
			badSrv := jsonServer(t, &bad, &fail)

			e.addREST(t, "a", okSrv.URL, nil)
			e.addREST(t, "b", badSrv.URL, nil)
			e.addREST(t, "c", okSrv.URL, nil)
			e.addREST(t, "manual", okSrv.URL, func(c *Connector) { c.Cadence = "manual" })

			br, err := e.svc.RunScheduledIngestion(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if br.Total != 3 || br.Succeeded != 2 || br.Failed != 1 {
				t.Fatalf("batch: %+v", br)
			}
			for i, id := range []string{"a", "b", "c"} {
				if br.Items[i].ConnectorID != id {
					t.Errorf("item %d: %s", i, br.Items[i].ConnectorID)
				}
			}
			if br.Items[1].Result.Run.Errors[0].Class != "transient" {
				t.Errorf("class: %+v", br.Items[1].Result.Run.Errors)
			}
			if br.Items[0].Result.Run.TriggeredBy != TriggerSchedule {
				t.Errorf("trigger: %s", br.Items[0].Result.Run.TriggeredBy)
			}
		})
	}
}

func TestRecoverAbandonedRuns(t *testing.T) {
	// WHAT: Running rows without a live lease are failed as abandoned; leased ones are left alone.
	// WHY: A crash mid-run must not leave runs stuck in running forever.
	e := newEnv(t)
	e.addREST(t, "dead", "https://example.org", nil)
	e.addREST(t, "live", "https://example.org", nil)
	ctx := context.Background()

	for _, id := range []string{"dead", "live"} {
		if err := e.svc.store.InsertRun(ctx, &Run{ID: "run_" + id, SourceID: "stats", ConnectorID: id}); err != nil {
			t.Fatal(err)
		}
	}
	e.clock.Advance(time.Minute)
	if _, err := e.svc.leases.Acquire(ctx, leaseKey("live"), time.Hour); err != nil {
		t.Fatal(err)
	}

	n, err := e.svc.RecoverAbandonedRuns(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recovered %d, %v", n, err)
	}
	dead, _ := e.svc.GetRun(ctx, "run_dead")
	if dead.Status != RunFailed || dead.ErrorMessage != "abandoned" {
		t.Errorf("dead run: %+v", dead)
	}
	live, _ := e.svc.GetRun(ctx, "run_live")
	if live.Status != RunRunning {
		t.Errorf("live run: %s", live.Status)
	}
	c, _ := e.svc.GetConnector(ctx, "dead")
	if c.ConsecutiveFailures != 1 {
		t.Errorf("failures: %d", c.ConsecutiveFailures)
	}
}

func TestMCP_IngestTools(t *testing.T) {
	// WHAT: The ingest tools are callable over MCP.
	// WHY: Agents trigger runs and read the due list through these tools.
	e := newEnv(t)
	var body atomic.Value
	body.Store(`{"data":[{"date":"2024-01","value":1}]}`)
	var status atomic.Int32
	srv := jsonServer(t, &body, &status)
	e.addREST(t, "cpi", srv.URL, nil)

	impl := &mcp.Implementation{Name: "ingest-test", Version: "0.1.0"}
	server := mcp.NewServer(impl, nil)
	e.svc.RegisterMCP(server)
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = server.Run(ctx, serverT) }()
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	call := func(name string, args any) string {
		t.Helper()
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if err := res.GetError(); err != nil {
			t.Fatalf("%s tool error: %v", name, err)
		}
		return res.Content[0].(*mcp.TextContent).Text
	}

	var due struct {
		Count int `json:"count"`
	}
	json.Unmarshal([]byte(call("ingest_due_connectors", map[string]any{})), &due)
	if due.Count != 1 {
		t.Errorf("due count: %d", due.Count)
	}

	var run RunResult
	json.Unmarshal([]byte(call("ingest_run_connector", map[string]any{"connector_id": "cpi"})), &run)
	if !run.Success || run.Run.TriggeredBy != TriggerMCP {
		t.Errorf("run: %+v", run.Run)
	}

	var batch BatchResult
	json.Unmarshal([]byte(call("ingest_run_scheduled", map[string]any{})), &batch)
	if batch.Total != 0 {
		t.Errorf("nothing should be due right after a run: %+v", batch)
	}
}

func TestRunScheduledIngestion_Cancelled(t *testing.T) {
	// WHAT: Connectors left unstarted by a cancelled batch keep their id and count as cancelled.
	// WHY: Operators must see which sources a shutdown skipped, not anonymous rejections.
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	t.Cleanup(srv.Close)
	for _, id := range []string{"a", "b", "c"} {
		e.addREST(t, id, srv.URL, nil)
	}

	br, err := e.svc.RunScheduledIngestion(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: %v", err)
	}
	if br.Total != 3 || br.Cancelled != 2 || br.Rejected != 0 {
		t.Fatalf("batch: %+v", br)
	}
	for i, id := range []string{"a", "b", "c"} {
		if br.Items[i].ConnectorID != id {
			t.Errorf("item %d: %q", i, br.Items[i].ConnectorID)
		}
	}
	if br.Items[0].Cancelled || !br.Items[1].Cancelled || !br.Items[2].Cancelled {
		t.Errorf("cancelled flags: %+v", br.Items)
	}
}

func TestConnectorStatuses(t *testing.T) {
	// WHAT: Connector statuses report due-ness and the next due time by cadence.
	// WHY: The admin view shows when each source is collected next.
	e := newEnv(t)
	var body atomic.Value
	body.Store(`{"data":[{"date":"2024-01","value":1}]}`)
	var status atomic.Int32
	srv := jsonServer(t, &body, &status)
	e.addREST(t, "cpi", srv.URL, nil)
	ctx := context.Background()

	list, _ := e.svc.ConnectorStatuses(ctx)
	if len(list) != 1 || !list[0].Due || list[0].NextDueAt != nil {
		t.Fatalf("before first run: %+v", list)
	}
	if _, err := e.svc.RunConnector(ctx, "cpi", RunOptions{}); err != nil {
		t.Fatal(err)
	}
	list, _ = e.svc.ConnectorStatuses(ctx)
	want := e.clock.Now().Add(24 * time.Hour)
	if list[0].Due || list[0].NextDueAt == nil || !list[0].NextDueAt.Equal(want) {
		t.Errorf("after run: due=%v next=%v want %v", list[0].Due, list[0].NextDueAt, want)
	}
	e.clock.Advance(25 * time.Hour)
	list, _ = e.svc.ConnectorStatuses(ctx)
	if !list[0].Due || list[0].NextDueAt != nil {
		t.Errorf("after interval: %+v", list[0])
	}
}

func TestSchedulerLeaderAndPurge(t *testing.T) {
	// WHAT: The leader lease is readable and expired leases are purged.
	// WHY: Health reports who schedules, and crashed holders must not leave rows forever.
	e := newEnv(t)
	ctx := context.Background()
	if l, err := e.svc.SchedulerLeader(ctx); err != nil || l != nil {
		t.Fatalf("no leader yet: %+v %v", l, err)
	}
	if _, err := e.svc.leases.Acquire(ctx, scheduler.LeaderKey, time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.leases.Acquire(ctx, leaseKey("stale"), time.Second); err != nil {
		t.Fatal(err)
	}
	l, err := e.svc.SchedulerLeader(ctx)
	if err != nil || l == nil || l.Holder != e.svc.leases.Holder() {
		t.Fatalf("leader: %+v %v", l, err)
	}
	e.clock.Advance(10 * time.Second)
	n, err := e.svc.PurgeLeases(ctx)
	if err != nil || n != 1 {
		t.Errorf("purged %d: %v", n, err)
	}
	if l, _ := e.svc.SchedulerLeader(ctx); l == nil {
		t.Error("live leader lease purged")
	}
}
