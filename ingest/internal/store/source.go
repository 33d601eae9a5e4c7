package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertSource inserts a registry entry or refreshes its descriptive fields.
func (s *Store) UpsertSource(ctx context.Context, src *Source) error {
	now := s.now().UTC()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	if src.AccessType == "" {
		src.AccessType = "open"
	}
	if src.Cadence == "" {
		src.Cadence = "unknown"
	}
	if src.PartnershipStatus == "" {
		src.PartnershipStatus = PartnershipNone
	}

	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO source_registry (id, name, url, license_terms, access_type, cadence,
		reliability_tier, active, automation_allowed, partnership_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  name = excluded.name, url = excluded.url, license_terms = excluded.license_terms,
		  access_type = excluded.access_type, cadence = excluded.cadence,
		  reliability_tier = excluded.reliability_tier, active = excluded.active,
		  automation_allowed = excluded.automation_allowed,
		  partnership_status = excluded.partnership_status, updated_at = excluded.updated_at`,
		src.ID, src.Name, src.URL, src.LicenseTerms, src.AccessType, src.Cadence,
		src.ReliabilityTier, src.Active, src.AutomationAllowed, src.PartnershipStatus,
		src.CreatedAt.UnixMilli(), src.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert source: %w", err)
	}
	return nil
}

// GetSource retrieves a source by ID. Returns nil, nil if absent.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM source_registry WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return src, err
}

// ListSources returns all registry entries ordered by ID.
func (s *Store) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+sourceColumns+` FROM source_registry ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

const sourceColumns = `id, name, url, license_terms, access_type, cadence, reliability_tier,
	active, automation_allowed, partnership_status, created_at, updated_at`

func scanSource(sc scanner) (*Source, error) {
	var src Source
	var created, updated int64
	err := sc.Scan(&src.ID, &src.Name, &src.URL, &src.LicenseTerms, &src.AccessType,
		&src.Cadence, &src.ReliabilityTier, &src.Active, &src.AutomationAllowed,
		&src.PartnershipStatus, &created, &updated)
	if err != nil {
		return nil, err
	}
	src.CreatedAt = time.UnixMilli(created).UTC()
	src.UpdatedAt = time.UnixMilli(updated).UTC()
	return &src, nil
}
