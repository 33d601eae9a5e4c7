// Package evidence is the content-addressed raw object store.
//
// Every byte payload a connector downloads is hashed and persisted here
// before any parsing happens, so a transform failure never loses the
// original evidence. There is exactly one raw_objects row per distinct
// SHA-256; repeated downloads only add a run_evidence link.
package evidence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/idgen"
)

// ErrObjectNotFound is returned when no raw object matches.
var ErrObjectNotFound = errors.New("evidence: object not found")

// Status of a raw object. Only status may change after insert.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
)

// Object is one stored payload.
type Object struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"sourceId"`
	RunID        string    `json:"runId"`
	ContentType  string    `json:"contentType"`
	CanonicalURL string    `json:"canonicalUrl"`
	RetrievedAt  time.Time `json:"retrievedAt"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	StorageURI   string    `json:"storageUri"`
	Status       Status    `json:"status"`
}

// Schema holds raw objects and their run links.
const Schema = `
CREATE TABLE IF NOT EXISTS raw_objects (
    id            TEXT PRIMARY KEY,
    source_id     TEXT NOT NULL,
    run_id        TEXT NOT NULL DEFAULT '',
    content_type  TEXT NOT NULL DEFAULT '',
    canonical_url TEXT NOT NULL DEFAULT '',
    retrieved_at  INTEGER NOT NULL,
    sha256        TEXT NOT NULL UNIQUE,
    size          INTEGER NOT NULL,
    storage_uri   TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_raw_objects_source ON raw_objects(source_id, retrieved_at DESC);

CREATE TABLE IF NOT EXISTS run_evidence (
    run_id        TEXT NOT NULL,
    raw_object_id TEXT NOT NULL REFERENCES raw_objects(id),
    linked_at     INTEGER NOT NULL,
    PRIMARY KEY (run_id, raw_object_id)
);
`

// ApplySchema creates the evidence tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Store persists raw objects in SQLite and their bytes in Blobs.
type Store struct {
	db     *sql.DB
	blobs  Blobs
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides object ID generation.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.newID = g } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore creates a Store.
func NewStore(db *sql.DB, blobs Blobs, opts ...Option) *Store {
	s := &Store{
		db:     db,
		blobs:  blobs,
		newID:  idgen.Prefixed("raw_", idgen.Default),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Blobs returns the underlying blob store.
func (s *Store) Blobs() Blobs { return s.blobs }

// PutInput describes a downloaded payload.
type PutInput struct {
	SourceID     string
	RunID        string
	ContentType  string
	CanonicalURL string
	Body         []byte
}

// PutResult is the stored object and whether an existing one was reused.
type PutResult struct {
	Object *Object `json:"object"`
	Reused bool    `json:"reused"`
}

// Hash returns the lowercase hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlobKey is the storage key of a raw payload.
func BlobKey(sourceID, sha string) string {
	return fmt.Sprintf("raw/%s/%s/%s", sourceID, sha[:2], sha)
}

// Put stores in.Body unless an object with the same hash exists. Either
// way the object is linked to in.RunID. A uniqueness conflict on insert
// means a concurrent Put won; the winner's row is returned.
func (s *Store) Put(ctx context.Context, in PutInput) (*PutResult, error) {
	if in.SourceID == "" {
		return nil, fmt.Errorf("evidence: source id is required")
	}
	sha := Hash(in.Body)

	existing, err := s.GetByHash(ctx, sha)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}
	if existing != nil {
		if err := s.link(ctx, in.RunID, existing.ID); err != nil {
			return nil, err
		}
		s.logger.Debug("evidence: reused", "object_id", existing.ID, "sha256", sha, "run_id", in.RunID)
		return &PutResult{Object: existing, Reused: true}, nil
	}

	uri, err := s.blobs.Put(ctx, BlobKey(in.SourceID, sha), in.Body, in.ContentType)
	if err != nil {
		return nil, err
	}

	obj := &Object{
		ID:           s.newID(),
		SourceID:     in.SourceID,
		RunID:        in.RunID,
		ContentType:  in.ContentType,
		CanonicalURL: in.CanonicalURL,
		RetrievedAt:  s.now().UTC(),
		SHA256:       sha,
		Size:         int64(len(in.Body)),
		StorageURI:   uri,
		Status:       StatusActive,
	}
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO raw_objects (id, source_id, run_id, content_type, canonical_url,
		retrieved_at, sha256, size, storage_uri, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'active')`,
		obj.ID, obj.SourceID, obj.RunID, obj.ContentType, obj.CanonicalURL,
		obj.RetrievedAt.UnixMilli(), obj.SHA256, obj.Size, obj.StorageURI,
	)
	if err != nil {
		if !dbopen.IsConstraint(err) {
			return nil, fmt.Errorf("evidence: insert: %w", err)
		}
		winner, gerr := s.GetByHash(ctx, sha)
		if gerr != nil {
			return nil, fmt.Errorf("evidence: read after conflict: %w", gerr)
		}
		if err := s.link(ctx, in.RunID, winner.ID); err != nil {
			return nil, err
		}
		return &PutResult{Object: winner, Reused: true}, nil
	}
	if err := s.link(ctx, in.RunID, obj.ID); err != nil {
		return nil, err
	}
	s.logger.Info("evidence: stored", "object_id", obj.ID, "sha256", sha,
		"size", obj.Size, "source_id", obj.SourceID, "run_id", obj.RunID)
	return &PutResult{Object: obj}, nil
}

func (s *Store) link(ctx context.Context, runID, objectID string) error {
	if runID == "" {
		return nil
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT OR IGNORE INTO run_evidence (run_id, raw_object_id, linked_at) VALUES (?, ?, ?)`,
		runID, objectID, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("evidence: link run: %w", err)
	}
	return nil
}

// Get returns an object by ID.
func (s *Store) Get(ctx context.Context, id string) (*Object, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM raw_objects WHERE id = ?`, id)
	return scanOne(row)
}

// GetByHash returns the object for a SHA-256.
func (s *Store) GetByHash(ctx context.Context, sha string) (*Object, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM raw_objects WHERE sha256 = ?`, sha)
	return scanOne(row)
}

// ListForRun returns the objects linked to a run, oldest link first.
func (s *Store) ListForRun(ctx context.Context, runID string) ([]*Object, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+qualifiedObjectColumns+`
		FROM run_evidence e JOIN raw_objects o ON o.id = e.raw_object_id
		WHERE e.run_id = ? ORDER BY e.linked_at, o.id`, runID)
	if err != nil {
		return nil, fmt.Errorf("evidence: list for run: %w", err)
	}
	defer rows.Close()

	var out []*Object
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Supersede marks an object superseded. Its bytes are kept.
func (s *Store) Supersede(ctx context.Context, id string) error {
	res, err := dbopen.Exec(ctx, s.db, `UPDATE raw_objects SET status = 'superseded' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("evidence: supersede: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrObjectNotFound
	}
	return nil
}

// Open returns the stored bytes of an object.
func (s *Store) Open(ctx context.Context, id string) (*Object, []byte, error) {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.blobs.Get(ctx, BlobKey(obj.SourceID, obj.SHA256))
	if err != nil {
		return obj, nil, err
	}
	return obj, data, nil
}

// Count returns the number of stored objects.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_objects`).Scan(&n)
	return n, err
}

const objectColumns = `id, source_id, run_id, content_type, canonical_url,
	retrieved_at, sha256, size, storage_uri, status`

const qualifiedObjectColumns = `o.id, o.source_id, o.run_id, o.content_type, o.canonical_url,
	o.retrieved_at, o.sha256, o.size, o.storage_uri, o.status`

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(sc scanner) (*Object, error) {
	o, err := scanObject(sc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrObjectNotFound
	}
	return o, err
}

func scanObject(sc scanner) (*Object, error) {
	var o Object
	var retrieved int64
	var status string
	err := sc.Scan(&o.ID, &o.SourceID, &o.RunID, &o.ContentType, &o.CanonicalURL,
		&retrieved, &o.SHA256, &o.Size, &o.StorageURI, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("evidence: scan object: %w", err)
	}
	o.RetrievedAt = time.UnixMilli(retrieved).UTC()
	o.Status = Status(status)
	return &o, nil
}
