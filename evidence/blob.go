package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hazyhaar/datatrack/horosafe"
)

// ErrBlobNotFound is returned when a key has no stored bytes.
var ErrBlobNotFound = errors.New("evidence: blob not found")

// Blobs is the byte storage behind raw objects and eval reports. Keys are
// slash-separated paths such as "raw/src-1/ab/ab12..." or
// "eval_reports/run-1.json". Put on an existing key must be idempotent for
// identical bytes.
type Blobs interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (uri string, err error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// FileBlobs stores blobs under a local root directory.
type FileBlobs struct {
	root string
}

// NewFileBlobs creates the root directory if needed.
func NewFileBlobs(root string) (*FileBlobs, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: mkdir %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("evidence: abs %s: %w", root, err)
	}
	return &FileBlobs{root: abs}, nil
}

// Put writes data atomically (temp file then rename). An existing key is
// left untouched.
func (b *FileBlobs) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	path, err := horosafe.SafePath(b.root, key)
	if err != nil {
		return "", err
	}
	uri := "file://" + filepath.ToSlash(path)
	if _, err := os.Stat(path); err == nil {
		return uri, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("evidence: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("evidence: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("evidence: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("evidence: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("evidence: rename: %w", err)
	}
	return uri, nil
}

// Get reads a blob.
func (b *FileBlobs) Get(_ context.Context, key string) ([]byte, error) {
	path, err := horosafe.SafePath(b.root, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}
	return data, err
}

// Exists reports whether a blob is present.
func (b *FileBlobs) Exists(_ context.Context, key string) (bool, error) {
	path, err := horosafe.SafePath(b.root, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
