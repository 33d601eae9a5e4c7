// Package cadence decides when a connector is due for its next run.
package cadence

import (
	"time"

	"github.com/hazyhaar/datatrack/ingest/internal/store"
)

// DefaultMaxFailures is the circuit-breaker threshold.
const DefaultMaxFailures = 5

// Never marks a cadence that is only ever run by hand.
const Never = -1

var hours = map[string]float64{
	"realtime":  0,
	"hourly":    1,
	"daily":     24,
	"weekly":    168,
	"monthly":   720,
	"quarterly": 2160,
	"annual":    8760,
	"irregular": 720,
	"unknown":   720,
	"manual":    Never,
}

// Hours returns the re-fetch interval of a cadence. Unrecognised values
// are treated as "unknown".
func Hours(c string) float64 {
	if h, ok := hours[c]; ok {
		return h
	}
	return hours["unknown"]
}

// Valid reports whether c is a known cadence.
func Valid(c string) bool {
	_, ok := hours[c]
	return ok
}

// Due reports whether c should run at now. A connector is due when it is
// active, licensed for automation, below the failure threshold, and
// either has never run or its cadence interval has elapsed.
func Due(c *store.Connector, now time.Time, maxFailures int) bool {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if c.Status != store.StatusActive || !c.LicenseAllowsAutomation {
		return false
	}
	if c.ConsecutiveFailures >= maxFailures {
		return false
	}
	h := Hours(c.Cadence)
	if h == Never {
		return false
	}
	if c.LastRunAt == nil {
		return true
	}
	return now.Sub(*c.LastRunAt).Hours() >= h
}

// NextDue returns when c next becomes due by cadence alone, or nil if it
// never will (manual cadence) or is due now.
func NextDue(c *store.Connector, now time.Time) *time.Time {
	h := Hours(c.Cadence)
	if h == Never || c.LastRunAt == nil {
		return nil
	}
	next := c.LastRunAt.Add(time.Duration(h * float64(time.Hour)))
	if !next.After(now) {
		return nil
	}
	return &next
}
