package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BlobType selects the blob backend.
type BlobType string

const (
	BlobTypeFS  BlobType = "fs"
	BlobTypeS3  BlobType = "s3"
	BlobTypeGCS BlobType = "gcs"
)

// BlobConfig selects and configures a backend. It is usually filled from
// the YAML config and then overridden by environment variables.
type BlobConfig struct {
	Type    BlobType `yaml:"type"`
	DataDir string   `yaml:"data_dir"`
	S3      S3Config `yaml:"s3"`
	GCS     struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
	} `yaml:"gcs"`
}

func (c *BlobConfig) defaults() {
	if c.Type == "" {
		c.Type = BlobTypeFS
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
}

// ApplyEnv overrides fields from EVIDENCE_* environment variables.
//
//   - EVIDENCE_STORAGE_TYPE: "fs" (default), "s3" or "gcs"
//   - DATA_DIR: base directory for the fs backend
//   - EVIDENCE_S3_BUCKET, EVIDENCE_S3_REGION (or AWS_REGION),
//     EVIDENCE_S3_ENDPOINT, EVIDENCE_S3_PREFIX
//   - EVIDENCE_GCS_BUCKET, EVIDENCE_GCS_PREFIX
func (c *BlobConfig) ApplyEnv() {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	var typ string
	set(&typ, "EVIDENCE_STORAGE_TYPE")
	if typ != "" {
		c.Type = BlobType(typ)
	}
	set(&c.DataDir, "DATA_DIR")
	set(&c.S3.Bucket, "EVIDENCE_S3_BUCKET")
	set(&c.S3.Region, "EVIDENCE_S3_REGION", "AWS_REGION")
	set(&c.S3.Endpoint, "EVIDENCE_S3_ENDPOINT")
	set(&c.S3.Prefix, "EVIDENCE_S3_PREFIX")
	set(&c.GCS.Bucket, "EVIDENCE_GCS_BUCKET")
	set(&c.GCS.Prefix, "EVIDENCE_GCS_PREFIX")
}

// NewBlobs builds the configured backend.
func NewBlobs(ctx context.Context, cfg BlobConfig) (Blobs, error) {
	cfg.defaults()
	switch cfg.Type {
	case BlobTypeFS:
		return NewFileBlobs(filepath.Join(cfg.DataDir, "evidence"))
	case BlobTypeS3:
		return NewS3Blobs(ctx, cfg.S3)
	case BlobTypeGCS:
		return newGCSBlobs(ctx, cfg.GCS.Bucket, cfg.GCS.Prefix)
	default:
		return nil, fmt.Errorf("evidence: unsupported storage type %q", cfg.Type)
	}
}
