//go:build gcp

package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBlobs stores blobs in a Google Cloud Storage bucket.
type GCSBlobs struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBlobs uses application default credentials.
func NewGCSBlobs(ctx context.Context, bucket, prefix string) (*GCSBlobs, error) {
	if bucket == "" {
		return nil, fmt.Errorf("evidence: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("evidence: gcs client: %w", err)
	}
	return &GCSBlobs{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put writes data unless the object already exists.
func (b *GCSBlobs) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	name := b.prefix + key
	uri := fmt.Sprintf("gs://%s/%s", b.bucket, name)
	obj := b.client.Bucket(b.bucket).Object(name)
	if _, err := obj.Attrs(ctx); err == nil {
		return uri, nil
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("evidence: gcs write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("evidence: gcs close %s: %w", name, err)
	}
	return uri, nil
}

// Get reads an object.
func (b *GCSBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := b.client.Bucket(b.bucket).Object(b.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("evidence: gcs get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Exists checks object attributes.
func (b *GCSBlobs) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.Bucket(b.bucket).Object(b.prefix + key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("evidence: gcs attrs %s: %w", key, err)
	}
	return true, nil
}
