// Package derived holds the normalized records produced from raw evidence:
// time-series points and documents. Both are upserted under a natural key
// so that re-ingesting the same data never duplicates rows.
package derived

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/hazyhaar/datatrack/idgen"
)

// ErrInvalidRecord is returned when a record lacks its natural key.
var ErrInvalidRecord = errors.New("derived: invalid record")

// Outcome of an upsert.
type Outcome string

const (
	Created Outcome = "created"
	Updated Outcome = "updated"
	Skipped Outcome = "skipped"
)

// DefaultRegime is used when a point carries no regime.
const DefaultRegime = "default"

// Point is one observation of an indicator.
type Point struct {
	ID            string    `json:"id"`
	IndicatorCode string    `json:"indicatorCode"`
	Date          string    `json:"date"`
	Regime        string    `json:"regime"`
	Value         float64   `json:"value"`
	Unit          string    `json:"unit,omitempty"`
	SourceID      string    `json:"sourceId"`
	RawObjectID   string    `json:"rawObjectId"`
	RunID         string    `json:"runId"`
	Revision      int       `json:"revision"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Document kinds.
const (
	KindDocument = "document"
	KindReport   = "report"
	KindWebPage  = "web_page"
)

// Document is a text record extracted from a PDF or web page.
type Document struct {
	ID             string    `json:"id"`
	ContentHash    string    `json:"contentHash"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Language       string    `json:"language,omitempty"`
	TranslationKey string    `json:"translationKey,omitempty"`
	Kind           string    `json:"kind"`
	Searchable     bool      `json:"searchable"`
	SourceID       string    `json:"sourceId"`
	RawObjectID    string    `json:"rawObjectId"`
	RunID          string    `json:"runId"`
	MetadataJSON   string    `json:"metadata,omitempty"`
	Revision       int       `json:"revision"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Schema holds the derived tables. documents_fts is a standalone FTS5
// index kept in sync by triggers; only searchable documents are indexed.
const Schema = `
CREATE TABLE IF NOT EXISTS series_points (
    id             TEXT PRIMARY KEY,
    indicator_code TEXT NOT NULL,
    date           TEXT NOT NULL,
    regime         TEXT NOT NULL DEFAULT 'default',
    value          REAL NOT NULL,
    unit           TEXT NOT NULL DEFAULT '',
    source_id      TEXT NOT NULL DEFAULT '',
    raw_object_id  TEXT NOT NULL DEFAULT '',
    run_id         TEXT NOT NULL DEFAULT '',
    revision       INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL,
    UNIQUE (indicator_code, date, regime)
);
CREATE INDEX IF NOT EXISTS idx_series_points_source ON series_points(source_id);

CREATE TABLE IF NOT EXISTS documents (
    id              TEXT PRIMARY KEY,
    content_hash    TEXT NOT NULL UNIQUE,
    url             TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL DEFAULT '',
    body            TEXT NOT NULL DEFAULT '',
    language        TEXT NOT NULL DEFAULT '',
    translation_key TEXT NOT NULL DEFAULT '',
    kind            TEXT NOT NULL DEFAULT 'document',
    searchable      INTEGER NOT NULL DEFAULT 1,
    source_id       TEXT NOT NULL DEFAULT '',
    raw_object_id   TEXT NOT NULL DEFAULT '',
    run_id          TEXT NOT NULL DEFAULT '',
    metadata_json   TEXT NOT NULL DEFAULT '{}',
    revision        INTEGER NOT NULL DEFAULT 1,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_kind ON documents(kind);
CREATE INDEX IF NOT EXISTS idx_documents_translation ON documents(translation_key) WHERE translation_key != '';

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    doc_id UNINDEXED, title, body,
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents WHEN new.searchable = 1 BEGIN
    INSERT INTO documents_fts(doc_id, title, body) VALUES (new.id, new.title, new.body);
END;
CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    DELETE FROM documents_fts WHERE doc_id = old.id;
    INSERT INTO documents_fts(doc_id, title, body) SELECT new.id, new.title, new.body WHERE new.searchable = 1;
END;
CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    DELETE FROM documents_fts WHERE doc_id = old.id;
END;
`

// ApplySchema creates the derived tables.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Store is the derived-data repository. Its stats queries join
// raw_objects, so the evidence schema must live in the same database.
type Store struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(g idgen.Generator) Option { return func(s *Store) { s.newID = g } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore creates a Store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		newID:  idgen.Default,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
