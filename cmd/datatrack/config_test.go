package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/datatrack/evidence"
)

func TestLoadConfig(t *testing.T) {
	// WHAT: File values load, environment variables win, and defaults fill the rest.
	// WHY: Containers override a shared config file through the environment.
	path := filepath.Join(t.TempDir(), "datatrack.yaml")
	os.WriteFile(path, []byte(`
db: /var/lib/datatrack/main.db
scheduler_interval: 5m
evidence:
  type: s3
  s3:
    bucket: from-file
ingest:
  max_failures: 3
drift:
  translation_languages: [en, fr, de]
eval:
  top_k: 8
`), 0o644)
	t.Setenv("PORT", "9090")
	t.Setenv("EVIDENCE_S3_BUCKET", "from-env")
	t.Setenv("CHROME_WS_URL", "ws://chrome:9222")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB != "/var/lib/datatrack/main.db" || cfg.ObsDB != "db/observability.db" || cfg.Port != "9090" {
		t.Errorf("paths: %+v", cfg)
	}
	if cfg.Evidence.Type != evidence.BlobTypeS3 || cfg.Evidence.S3.Bucket != "from-env" {
		t.Errorf("evidence: %+v", cfg.Evidence)
	}
	if cfg.Ingest.MaxFailures != 3 || cfg.Ingest.Scheduler.CheckInterval != 5*time.Minute {
		t.Errorf("ingest: %+v", cfg.Ingest)
	}
	if cfg.Ingest.Render.RemoteURL != "ws://chrome:9222" || cfg.Ingest.Holder == "" {
		t.Errorf("render/holder: %+v", cfg.Ingest)
	}
	if len(cfg.Drift.TranslationLanguages) != 3 || cfg.Eval.TopK != 8 {
		t.Errorf("drift/eval: %+v %+v", cfg.Drift, cfg.Eval)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	// WHAT: A missing config file is an error, no file at all is not.
	// WHY: A mistyped --config must not silently run on defaults.
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error")
	}
	cfg, err := loadConfig("")
	if err != nil || cfg.Port == "" {
		t.Errorf("defaults: %+v %v", cfg, err)
	}
}

func TestLoadConfig_NoFetchRetriesByDefault(t *testing.T) {
	// WHAT: Fetch retries stay off unless configured, and an explicit zero stays zero.
	// WHY: Transient upstream errors are retried on the next due check, not inside a run.
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.FetchRetries != 0 {
		t.Errorf("default fetch retries: %d", cfg.Ingest.FetchRetries)
	}
	t.Setenv("FETCH_RETRIES", "0")
	if cfg, _ = loadConfig(""); cfg.Ingest.FetchRetries != 0 {
		t.Errorf("FETCH_RETRIES=0 gave %d", cfg.Ingest.FetchRetries)
	}
	t.Setenv("FETCH_RETRIES", "2")
	if cfg, _ = loadConfig(""); cfg.Ingest.FetchRetries != 2 {
		t.Errorf("FETCH_RETRIES=2 gave %d", cfg.Ingest.FetchRetries)
	}
}
