package ingest

import (
	"time"

	"github.com/hazyhaar/datatrack/ingest/internal/cadence"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
	"github.com/hazyhaar/datatrack/ingest/internal/render"
	"github.com/hazyhaar/datatrack/ingest/internal/scheduler"
)

// Config configures the ingestion service.
type Config struct {
	// MaxFailures is the circuit-breaker threshold. Default: 5.
	MaxFailures int `yaml:"max_failures"`
	// Workers bounds parallel runs in a scheduled batch. Default: 1 (sequential).
	Workers int `yaml:"workers"`
	// RunLeaseTTL bounds how long a connector lease survives without being
	// extended. Default: 30 minutes.
	RunLeaseTTL time.Duration `yaml:"run_lease_ttl"`
	// Holder identifies this process in the leases table.
	Holder string `yaml:"holder"`
	// DisableScheduler keeps Start from launching the scheduler loop.
	DisableScheduler bool `yaml:"disable_scheduler"`
	// FetchRetries is the number of extra in-run attempts after a
	// transient fetch failure. Default: 0, so a failed run waits for the
	// next due check.
	FetchRetries int `yaml:"fetch_retries"`
	// DisableRender makes scrape connectors with render set fall back to
	// a plain fetch.
	DisableRender bool `yaml:"disable_render"`

	Fetch     fetch.Config     `yaml:"-"`
	Render    render.Config    `yaml:"-"`
	Scheduler scheduler.Config `yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = cadence.DefaultMaxFailures
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RunLeaseTTL <= 0 {
		c.RunLeaseTTL = 30 * time.Minute
	}
}
