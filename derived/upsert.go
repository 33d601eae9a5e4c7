package derived

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hazyhaar/datatrack/dbopen"
	"github.com/hazyhaar/datatrack/evidence"
)

// valueEpsilon absorbs float noise from re-parsing the same text.
const valueEpsilon = 1e-9

// UpsertPoint writes p under (indicator_code, date, regime). An existing
// row with the same value and unit is left untouched.
func (s *Store) UpsertPoint(ctx context.Context, p *Point) (Outcome, error) {
	if p.IndicatorCode == "" || p.Date == "" {
		return "", fmt.Errorf("%w: point needs indicator code and date", ErrInvalidRecord)
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return "", fmt.Errorf("%w: point value is not finite", ErrInvalidRecord)
	}
	if p.Regime == "" {
		p.Regime = DefaultRegime
	}
	now := s.now().UTC()

	var outcome Outcome
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var id, unit string
		var value float64
		var revision int
		var created int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, value, unit, revision, created_at FROM series_points
			WHERE indicator_code = ? AND date = ? AND regime = ?`,
			p.IndicatorCode, p.Date, p.Regime,
		).Scan(&id, &value, &unit, &revision, &created)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			p.ID = s.newID()
			p.Revision = 1
			p.CreatedAt, p.UpdatedAt = now, now
			_, err = tx.ExecContext(ctx,
				`INSERT INTO series_points (id, indicator_code, date, regime, value, unit,
				source_id, raw_object_id, run_id, revision, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				p.ID, p.IndicatorCode, p.Date, p.Regime, p.Value, p.Unit,
				p.SourceID, p.RawObjectID, p.RunID, now.UnixMilli(), now.UnixMilli())
			outcome = Created
			return err
		case err != nil:
			return err
		}

		p.ID = id
		p.CreatedAt = time.UnixMilli(created).UTC()
		if math.Abs(value-p.Value) <= valueEpsilon && unit == p.Unit {
			p.Revision = revision
			outcome = Skipped
			return nil
		}
		p.Revision = revision + 1
		p.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE series_points SET value = ?, unit = ?, source_id = ?, raw_object_id = ?,
			run_id = ?, revision = ?, updated_at = ? WHERE id = ?`,
			p.Value, p.Unit, p.SourceID, p.RawObjectID, p.RunID, p.Revision, now.UnixMilli(), id)
		outcome = Updated
		return err
	})
	if err != nil {
		return "", fmt.Errorf("derived: upsert point: %w", err)
	}
	return outcome, nil
}

// UpsertDocument writes d under its content hash. ContentHash defaults to
// the SHA-256 of the body. An existing row whose descriptive fields all
// match is left untouched.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) (Outcome, error) {
	if d.ContentHash == "" {
		if d.Body == "" {
			return "", fmt.Errorf("%w: document needs a body or content hash", ErrInvalidRecord)
		}
		d.ContentHash = evidence.Hash([]byte(d.Body))
	}
	if d.Kind == "" {
		d.Kind = KindDocument
	}
	if d.MetadataJSON == "" {
		d.MetadataJSON = "{}"
	}
	now := s.now().UTC()

	var outcome Outcome
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var cur Document
		var created int64
		err := tx.QueryRowContext(ctx,
			`SELECT id, url, title, language, translation_key, kind, searchable,
			metadata_json, revision, created_at
			FROM documents WHERE content_hash = ?`, d.ContentHash,
		).Scan(&cur.ID, &cur.URL, &cur.Title, &cur.Language, &cur.TranslationKey, &cur.Kind,
			&cur.Searchable, &cur.MetadataJSON, &cur.Revision, &created)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			d.ID = s.newID()
			d.Revision = 1
			d.CreatedAt, d.UpdatedAt = now, now
			_, err = tx.ExecContext(ctx,
				`INSERT INTO documents (id, content_hash, url, title, body, language,
				translation_key, kind, searchable, source_id, raw_object_id, run_id,
				metadata_json, revision, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				d.ID, d.ContentHash, d.URL, d.Title, d.Body, d.Language,
				d.TranslationKey, d.Kind, d.Searchable, d.SourceID, d.RawObjectID, d.RunID,
				d.MetadataJSON, now.UnixMilli(), now.UnixMilli())
			outcome = Created
			return err
		case err != nil:
			return err
		}

		d.ID = cur.ID
		d.CreatedAt = time.UnixMilli(created).UTC()
		if cur.URL == d.URL && cur.Title == d.Title && cur.Language == d.Language &&
			cur.TranslationKey == d.TranslationKey && cur.Kind == d.Kind &&
			cur.Searchable == d.Searchable && cur.MetadataJSON == d.MetadataJSON {
			d.Revision = cur.Revision
			outcome = Skipped
			return nil
		}
		d.Revision = cur.Revision + 1
		d.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET url = ?, title = ?, body = ?, language = ?, translation_key = ?,
			kind = ?, searchable = ?, source_id = ?, raw_object_id = ?, run_id = ?,
			metadata_json = ?, revision = ?, updated_at = ? WHERE id = ?`,
			d.URL, d.Title, d.Body, d.Language, d.TranslationKey, d.Kind, d.Searchable,
			d.SourceID, d.RawObjectID, d.RunID, d.MetadataJSON, d.Revision, now.UnixMilli(), cur.ID)
		outcome = Updated
		return err
	})
	if err != nil {
		return "", fmt.Errorf("derived: upsert document: %w", err)
	}
	return outcome, nil
}

// GetPoint returns the point for a natural key, or nil.
func (s *Store) GetPoint(ctx context.Context, indicator, date, regime string) (*Point, error) {
	if regime == "" {
		regime = DefaultRegime
	}
	var p Point
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, indicator_code, date, regime, value, unit, source_id, raw_object_id,
		run_id, revision, created_at, updated_at
		FROM series_points WHERE indicator_code = ? AND date = ? AND regime = ?`,
		indicator, date, regime,
	).Scan(&p.ID, &p.IndicatorCode, &p.Date, &p.Regime, &p.Value, &p.Unit, &p.SourceID,
		&p.RawObjectID, &p.RunID, &p.Revision, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("derived: get point: %w", err)
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return &p, nil
}

// CountPoints returns the number of points, optionally for one source.
func (s *Store) CountPoints(ctx context.Context, sourceID string) (int, error) {
	var n int
	var err error
	if sourceID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM series_points`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM series_points WHERE source_id = ?`, sourceID).Scan(&n)
	}
	return n, err
}

// CountDocuments returns the number of documents, optionally for one source.
func (s *Store) CountDocuments(ctx context.Context, sourceID string) (int, error) {
	var n int
	var err error
	if sourceID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE source_id = ?`, sourceID).Scan(&n)
	}
	return n, err
}
