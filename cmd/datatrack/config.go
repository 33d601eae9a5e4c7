package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/datatrack/drift"
	"github.com/hazyhaar/datatrack/eval"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/ingest"
)

// Config is the datatrack binary configuration. Every field has a
// default; a YAML file and then the environment override it.
type Config struct {
	DB           string `yaml:"db"`
	ObsDB        string `yaml:"obs_db"`
	Port         string `yaml:"port"`
	MCPTransport string `yaml:"mcp_transport"` // "none" disables /mcp
	ChromeWSURL  string `yaml:"chrome_ws_url"`

	// SchedulerInterval is how often the serve loop looks for due connectors.
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`
	// RetentionDays bounds observability rows. Default: 30.
	RetentionDays int `yaml:"retention_days"`

	Evidence evidence.BlobConfig `yaml:"evidence"`
	Ingest   ingest.Config       `yaml:"ingest"`
	Drift    drift.Config        `yaml:"drift"`
	Eval     eval.Config         `yaml:"eval"`
}

func (c *Config) defaults() {
	if c.DB == "" {
		c.DB = "db/datatrack.db"
	}
	if c.ObsDB == "" {
		c.ObsDB = "db/observability.db"
	}
	if c.Port == "" {
		c.Port = "8085"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
}

// loadConfig reads path (optional) and applies environment overrides.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.DB = env("DATATRACK_DB", cfg.DB)
	cfg.ObsDB = env("DATATRACK_OBS_DB", cfg.ObsDB)
	cfg.Port = env("PORT", cfg.Port)
	cfg.MCPTransport = env("MCP_TRANSPORT", cfg.MCPTransport)
	cfg.ChromeWSURL = env("CHROME_WS_URL", cfg.ChromeWSURL)
	cfg.Ingest.Workers = envInt("INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.FetchRetries = envInt("FETCH_RETRIES", cfg.Ingest.FetchRetries)
	cfg.Evidence.ApplyEnv()
	cfg.defaults()

	cfg.Ingest.Render.RemoteURL = cfg.ChromeWSURL
	cfg.Ingest.Scheduler.CheckInterval = cfg.SchedulerInterval
	if cfg.Ingest.Holder == "" {
		host, _ := os.Hostname()
		cfg.Ingest.Holder = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	return &cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
