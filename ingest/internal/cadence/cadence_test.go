package cadence

import (
	"testing"
	"time"

	"github.com/hazyhaar/datatrack/ingest/internal/store"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func connector(cad string, lastRunAgo time.Duration) *store.Connector {
	c := &store.Connector{
		ID: "c", Status: store.StatusActive, Cadence: cad, LicenseAllowsAutomation: true,
	}
	if lastRunAgo >= 0 {
		t := now.Add(-lastRunAgo)
		c.LastRunAt = &t
	}
	return c
}

func TestHours(t *testing.T) {
	// WHAT: The fixed cadence table and the unknown fallback.
	// WHY: Scheduling correctness rests on these constants.
	cases := map[string]float64{
		"realtime": 0, "hourly": 1, "daily": 24, "weekly": 168, "monthly": 720,
		"quarterly": 2160, "annual": 8760, "irregular": 720, "unknown": 720,
		"manual": Never, "fortnightly": 720,
	}
	for c, want := range cases {
		if got := Hours(c); got != want {
			t.Errorf("%s: got %v, want %v", c, got, want)
		}
	}
}

func TestDue_WeeklyBoundary(t *testing.T) {
	// WHAT: Weekly is due at 169h and not at 167h.
	// WHY: Off-by-one around the interval would double-fetch or skip a week.
	if !Due(connector("weekly", 169*time.Hour), now, 5) {
		t.Error("169h: expected due")
	}
	if Due(connector("weekly", 167*time.Hour), now, 5) {
		t.Error("167h: expected not due")
	}
	if !Due(connector("weekly", 168*time.Hour), now, 5) {
		t.Error("168h: expected due")
	}
}

func TestDue_NeverRun(t *testing.T) {
	// WHAT: A connector that never ran is due.
	// WHY: New connectors must run on the first tick.
	if !Due(connector("annual", -1), now, 5) {
		t.Error("expected due")
	}
}

func TestDue_CircuitBreaker(t *testing.T) {
	// WHAT: Five consecutive failures exclude a connector regardless of elapsed time.
	// WHY: A broken source must not be hammered every tick.
	c := connector("hourly", 1000*time.Hour)
	c.ConsecutiveFailures = 5
	if Due(c, now, 5) {
		t.Error("failures=5: expected not due")
	}
	c.ConsecutiveFailures = 4
	if !Due(c, now, 5) {
		t.Error("failures=4: expected due")
	}
}

func TestDue_Gates(t *testing.T) {
	// WHAT: Paused, unlicensed and manual connectors are never due.
	// WHY: Scheduling must respect status and license.
	paused := connector("daily", -1)
	paused.Status = store.StatusPaused
	unlicensed := connector("daily", -1)
	unlicensed.LicenseAllowsAutomation = false
	manual := connector("manual", -1)

	for name, c := range map[string]*store.Connector{"paused": paused, "unlicensed": unlicensed, "manual": manual} {
		if Due(c, now, 5) {
			t.Errorf("%s: expected not due", name)
		}
	}
}

func TestNextDue(t *testing.T) {
	// WHAT: NextDue is lastRunAt plus the interval while in the future.
	// WHY: The API reports when each connector runs next.
	next := NextDue(connector("daily", 6*time.Hour), now)
	if next == nil || !next.Equal(now.Add(18*time.Hour)) {
		t.Errorf("got %v", next)
	}
	if NextDue(connector("daily", 30*time.Hour), now) != nil {
		t.Error("overdue: expected nil")
	}
}
