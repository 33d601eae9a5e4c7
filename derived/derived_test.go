package derived

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/idgen"
)

type testEnv struct {
	store    *Store
	evidence *evidence.Store
	now      time.Time
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchemaFunc(evidence.ApplySchema),
		dbopen.WithSchemaFunc(ApplySchema))
	blobs, err := evidence.NewFileBlobs(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return env.now }
	env.store = NewStore(db, WithIDGenerator(idgen.Sequence("rec_")), WithClock(clock))
	env.evidence = evidence.NewStore(db, blobs, evidence.WithClock(clock))
	return env
}

func (e *testEnv) rawObject(t *testing.T, body string) string {
	t.Helper()
	res, err := e.evidence.Put(context.Background(), evidence.PutInput{SourceID: "src-1", RunID: "run-1", Body: []byte(body)})
	if err != nil {
		t.Fatal(err)
	}
	return res.Object.ID
}

func TestUpsertPoint_Outcomes(t *testing.T) {
	// WHAT: Insert, identical re-insert and changed value give created, skipped, updated.
	// WHY: The upsert outcome drives run counters.
	env := newEnv(t)
	ctx := context.Background()

	p := &Point{IndicatorCode: "CPI", Date: "2026-01", Value: 2.1, Unit: "%"}
	if got, err := env.store.UpsertPoint(ctx, p); err != nil || got != Created {
		t.Fatalf("first: got %q, %v", got, err)
	}
	if p.Regime != DefaultRegime {
		t.Errorf("regime: got %q", p.Regime)
	}
	again := &Point{IndicatorCode: "CPI", Date: "2026-01", Value: 2.1, Unit: "%"}
	if got, err := env.store.UpsertPoint(ctx, again); err != nil || got != Skipped {
		t.Fatalf("second: got %q, %v", got, err)
	}
	if again.ID != p.ID {
		t.Errorf("id: got %q, want %q", again.ID, p.ID)
	}

	env.now = env.now.Add(time.Hour)
	changed := &Point{IndicatorCode: "CPI", Date: "2026-01", Value: 2.3, Unit: "%"}
	if got, err := env.store.UpsertPoint(ctx, changed); err != nil || got != Updated {
		t.Fatalf("third: got %q, %v", got, err)
	}
	stored, err := env.store.GetPoint(ctx, "CPI", "2026-01", "")
	if err != nil || stored == nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Value != 2.3 || stored.Revision != 2 {
		t.Errorf("stored: value=%v revision=%d", stored.Value, stored.Revision)
	}
	if !stored.UpdatedAt.Equal(env.now) {
		t.Errorf("updated_at: got %v, want %v", stored.UpdatedAt, env.now)
	}
}

func TestUpsertPoint_Idempotent(t *testing.T) {
	// WHAT: N re-ingestions of the same rows leave the row set of one ingestion.
	// WHY: Scheduled re-runs must never duplicate derived data.
	env := newEnv(t)
	ctx := context.Background()
	for range 4 {
		for _, d := range []string{"2026-01", "2026-02", "2026-03"} {
			if _, err := env.store.UpsertPoint(ctx, &Point{IndicatorCode: "GDP", Date: d, Value: 1}); err != nil {
				t.Fatal(err)
			}
		}
	}
	n, err := env.store.CountPoints(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("points: got %d, want 3", n)
	}
}

func TestUpsertPoint_RegimeIsPartOfKey(t *testing.T) {
	// WHAT: Same indicator and date under two regimes are two rows.
	// WHY: Seasonally adjusted and raw series share dates.
	env := newEnv(t)
	ctx := context.Background()
	env.store.UpsertPoint(ctx, &Point{IndicatorCode: "U", Date: "2026-01", Regime: "sa", Value: 5})
	env.store.UpsertPoint(ctx, &Point{IndicatorCode: "U", Date: "2026-01", Regime: "nsa", Value: 6})
	if n, _ := env.store.CountPoints(ctx, ""); n != 2 {
		t.Errorf("points: got %d, want 2", n)
	}
}

func TestUpsertPoint_Invalid(t *testing.T) {
	// WHAT: Missing keys and non-finite values are rejected.
	// WHY: Malformed records are counted as run errors, not stored.
	env := newEnv(t)
	ctx := context.Background()
	cases := []*Point{
		{Date: "2026-01", Value: 1},
		{IndicatorCode: "X", Value: 1},
		{IndicatorCode: "X", Date: "2026-01", Value: math.NaN()},
	}
	for i, p := range cases {
		if _, err := env.store.UpsertPoint(ctx, p); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("case %d: got %v", i, err)
		}
	}
}

func TestUpsertDocument_AndSearch(t *testing.T) {
	// WHAT: Searchable documents are indexed; non-searchable ones are not.
	// WHY: Retrieval eval runs over the FTS index.
	env := newEnv(t)
	ctx := context.Background()

	doc := &Document{Title: "Housing starts report", Body: "Housing starts rose in the third quarter.",
		Kind: KindReport, Searchable: true, Language: "en"}
	if got, err := env.store.UpsertDocument(ctx, doc); err != nil || got != Created {
		t.Fatalf("upsert: %q, %v", got, err)
	}
	hidden := &Document{Title: "Internal", Body: "Housing memo", Searchable: false}
	if _, err := env.store.UpsertDocument(ctx, hidden); err != nil {
		t.Fatal(err)
	}

	hits, err := env.store.Search(ctx, "What happened to housing starts?", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != doc.ID {
		t.Fatalf("hits: %+v", hits)
	}

	if got, _ := env.store.UpsertDocument(ctx, &Document{Title: "Housing starts report",
		Body: doc.Body, Kind: KindReport, Searchable: true, Language: "en"}); got != Skipped {
		t.Errorf("identical: got %q", got)
	}
	if got, _ := env.store.UpsertDocument(ctx, &Document{Title: "Housing starts Q3",
		Body: doc.Body, Kind: KindReport, Searchable: true, Language: "en"}); got != Updated {
		t.Errorf("retitled: got %q", got)
	}
	hits, _ = env.store.Search(ctx, "housing", 10)
	if len(hits) != 1 || hits[0].Title != "Housing starts Q3" {
		t.Errorf("after update: %+v", hits)
	}
}

func TestSearch_AccentInsensitive(t *testing.T) {
	// WHAT: A French query without accents matches accented text.
	// WHY: Golden questions are bilingual and typed inconsistently.
	env := newEnv(t)
	ctx := context.Background()
	env.store.UpsertDocument(ctx, &Document{Title: "Énergie", Body: "La production d'électricité augmente.",
		Searchable: true, Language: "fr"})
	hits, err := env.store.Search(ctx, "electricite", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("hits: got %d, want 1", len(hits))
	}
}

func TestFTSQuery(t *testing.T) {
	// WHAT: Free text becomes quoted OR terms without FTS operators.
	// WHY: Raw questions contain '?' and quotes that break MATCH.
	got := ftsQuery(`What is "CPI" in 2026? a b`)
	want := `"what" OR "cpi" OR "2026"`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if ftsQuery("?? !") != "" {
		t.Error("expected empty query")
	}
}

func TestEvidenceStats(t *testing.T) {
	// WHAT: Citation accuracy, contradiction rate and staleness from stored rows.
	// WHY: These feed the evidence drift domain.
	env := newEnv(t)
	ctx := context.Background()
	raw := env.rawObject(t, "payload")

	env.store.UpsertPoint(ctx, &Point{IndicatorCode: "A", Date: "1", Value: 1, RawObjectID: raw})
	env.store.UpsertPoint(ctx, &Point{IndicatorCode: "A", Date: "2", Value: 1, RawObjectID: raw})
	env.store.UpsertPoint(ctx, &Point{IndicatorCode: "A", Date: "3", Value: 1, RawObjectID: "gone"})
	env.store.UpsertPoint(ctx, &Point{IndicatorCode: "A", Date: "1", Value: 2, RawObjectID: raw})

	env.now = env.now.Add(10 * time.Hour)
	st, err := env.store.EvidenceStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Records != 3 || st.Cited != 2 {
		t.Errorf("records=%d cited=%d", st.Records, st.Cited)
	}
	if math.Abs(st.CitationAccuracy-2.0/3.0) > 1e-9 {
		t.Errorf("accuracy: %v", st.CitationAccuracy)
	}
	if math.Abs(st.ContradictionRate-1.0/3.0) > 1e-9 {
		t.Errorf("contradiction: %v", st.ContradictionRate)
	}
	if math.Abs(st.StalenessHours-10) > 1e-6 {
		t.Errorf("staleness: %v", st.StalenessHours)
	}
}

func TestTranslationStats(t *testing.T) {
	// WHAT: Keys missing a language reduce parity and add to the missing count.
	// WHY: Translation parity is a drift domain.
	env := newEnv(t)
	ctx := context.Background()
	env.store.UpsertDocument(ctx, &Document{Body: "a-en", TranslationKey: "a", Language: "en"})
	env.store.UpsertDocument(ctx, &Document{Body: "a-fr", TranslationKey: "a", Language: "fr"})
	env.store.UpsertDocument(ctx, &Document{Body: "b-en", TranslationKey: "b", Language: "en"})

	st, err := env.store.TranslationStats(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Keys != 2 || st.Complete != 1 || st.Missing != 1 || st.ParityScore != 0.5 {
		t.Errorf("stats: %+v", st)
	}
}

func TestSectionCoverage(t *testing.T) {
	// WHAT: Coverage per section; empty sections count as covered.
	// WHY: The citation gate averages these five values.
	env := newEnv(t)
	ctx := context.Background()
	raw := env.rawObject(t, "r")
	env.store.UpsertDocument(ctx, &Document{Body: "r1", Kind: KindReport, RawObjectID: raw})
	env.store.UpsertDocument(ctx, &Document{Body: "r2", Kind: KindReport})

	cov, err := env.store.SectionCoverage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cov) != len(Sections) {
		t.Fatalf("sections: %d", len(cov))
	}
	for _, c := range cov {
		want := 1.0
		if c.Section == "reports" {
			want = 0.5
		}
		if c.Coverage != want {
			t.Errorf("%s: got %v, want %v", c.Section, c.Coverage, want)
		}
	}
}
