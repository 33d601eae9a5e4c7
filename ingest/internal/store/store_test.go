package store

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
)

func openTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchemaFunc(ApplySchema))
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	return NewStore(db).WithClock(func() time.Time { return now }), &now
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertSource(ctx, &Source{ID: "src-1", Name: "Stats Office", Active: true, AutomationAllowed: true}); err != nil {
		t.Fatalf("source: %v", err)
	}
	for _, id := range []string{"c-1", "c-2"} {
		if err := s.UpsertConnector(ctx, &Connector{ID: id, SourceID: "src-1", Name: id, Type: TypeAPIRest,
			Cadence: "daily", LicenseAllowsAutomation: true}); err != nil {
			t.Fatalf("connector %s: %v", id, err)
		}
	}
}

func TestApplySchema(t *testing.T) {
	// WHAT: Schema creates the ingestion tables.
	// WHY: Every other query depends on them.
	s, _ := openTestStore(t)
	for _, table := range []string{"source_registry", "connectors", "ingestion_runs"} {
		var name string
		if err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestUpsertSource_Defaults(t *testing.T) {
	// WHAT: A source without partnership status defaults to none.
	// WHY: Preflight treats anything but active as unmet.
	s, _ := openTestStore(t)
	seed(t, s)
	src, err := s.GetSource(context.Background(), "src-1")
	if err != nil || src == nil {
		t.Fatalf("get: %v", err)
	}
	if src.PartnershipStatus != PartnershipNone || src.Cadence != "unknown" {
		t.Errorf("defaults: %+v", src)
	}
	if missing, _ := s.GetSource(context.Background(), "nope"); missing != nil {
		t.Error("expected nil for missing source")
	}
}

func TestUpsertConnector_KeepsRunState(t *testing.T) {
	// WHAT: Re-seeding a connector keeps its failure counter and last run.
	// WHY: Seed files are reloaded on every start.
	s, now := openTestStore(t)
	seed(t, s)
	ctx := context.Background()
	if _, err := s.RecordRunOutcome(ctx, "c-1", "run-1", *now, false); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertConnector(ctx, &Connector{ID: "c-1", SourceID: "src-1", Name: "renamed",
		Type: TypeAPIRest, LicenseAllowsAutomation: true}); err != nil {
		t.Fatal(err)
	}
	c, _ := s.GetConnector(ctx, "c-1")
	if c.Name != "renamed" || c.ConsecutiveFailures != 1 || c.LastRunID != "run-1" {
		t.Errorf("connector: %+v", c)
	}
}

func TestListConnectors_RegistrationOrder(t *testing.T) {
	// WHAT: Connectors come back in the order they were registered.
	// WHY: Batch ingestion iterates in array order.
	s, _ := openTestStore(t)
	seed(t, s)
	list, err := s.ListConnectors(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "c-1" || list[1].ID != "c-2" {
		t.Errorf("order: %v", list)
	}
}

func TestRecordRunOutcome(t *testing.T) {
	// WHAT: Failures increment the counter; success resets it and stamps lastSuccessAt.
	// WHY: The circuit breaker reads this counter.
	s, now := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := s.RecordRunOutcome(ctx, "c-1", "run-f", *now, false)
		if err != nil {
			t.Fatal(err)
		}
		if n != i {
			t.Errorf("failure %d: counter %d", i, n)
		}
	}
	c, _ := s.GetConnector(ctx, "c-1")
	if c.LastSuccessAt != nil || c.LastRunAt == nil || !c.LastRunAt.Equal(*now) {
		t.Errorf("after failures: %+v", c)
	}

	n, err := s.RecordRunOutcome(ctx, "c-1", "run-ok", *now, true)
	if err != nil || n != 0 {
		t.Fatalf("success: %d, %v", n, err)
	}
	c, _ = s.GetConnector(ctx, "c-1")
	if c.LastSuccessAt == nil || c.LastRunID != "run-ok" {
		t.Errorf("after success: %+v", c)
	}
}

func TestRunLifecycle(t *testing.T) {
	// WHAT: A run is inserted running and finished with counters, errors and warnings.
	// WHY: Run rows are the audit trail of ingestion.
	s, _ := openTestStore(t)
	seed(t, s)
	ctx := context.Background()

	r := &Run{ID: "run-1", SourceID: "src-1", ConnectorID: "c-1", ConnectorName: "c-1", TriggeredBy: TriggerAPI}
	if err := s.InsertRun(ctx, r); err != nil {
		t.Fatal(err)
	}
	running, _ := s.ListRunningRuns(ctx)
	if len(running) != 1 {
		t.Fatalf("running: %d", len(running))
	}

	r.Status = RunPartial
	r.RecordsFetched, r.RecordsCreated = 3, 3
	r.ErrorMessage = "1 item failed"
	r.Errors = []RunError{{Class: "parse", Message: "bad value", Item: "FR"}}
	if err := s.FinishRun(ctx, r); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != RunPartial || got.RecordsCreated != 3 || got.CompletedAt == nil {
		t.Errorf("run: %+v", got)
	}
	if len(got.Errors) != 1 || got.Errors[0].Item != "FR" {
		t.Errorf("errors: %+v", got.Errors)
	}
	if got.Warnings == nil || len(got.Warnings) != 0 {
		t.Errorf("warnings: %#v", got.Warnings)
	}
	if running, _ := s.ListRunningRuns(ctx); len(running) != 0 {
		t.Errorf("still running: %d", len(running))
	}
}
