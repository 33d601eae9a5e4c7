package derived

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EvidenceStats summarises how well derived rows are backed by evidence.
type EvidenceStats struct {
	Records           int     `json:"records"`
	Cited             int     `json:"cited"`
	CitationAccuracy  float64 `json:"citationAccuracy"`
	StalenessHours    float64 `json:"stalenessHours"`
	Points            int     `json:"points"`
	RevisedPoints     int     `json:"revisedPoints"`
	ContradictionRate float64 `json:"contradictionRate"`
}

// EvidenceStats computes:
//   - citation accuracy: share of points and documents whose raw object
//     exists and is active (1.0 when there are no rows);
//   - staleness: hours since evidence was last linked to a run;
//   - contradiction rate: share of points revised at least once.
func (s *Store) EvidenceStats(ctx context.Context) (*EvidenceStats, error) {
	var st EvidenceStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM series_points) + (SELECT COUNT(*) FROM documents),
		  (SELECT COUNT(*) FROM series_points p WHERE EXISTS
		     (SELECT 1 FROM raw_objects o WHERE o.id = p.raw_object_id AND o.status = 'active'))
		  + (SELECT COUNT(*) FROM documents d WHERE EXISTS
		     (SELECT 1 FROM raw_objects o WHERE o.id = d.raw_object_id AND o.status = 'active')),
		  (SELECT COUNT(*) FROM series_points),
		  (SELECT COUNT(*) FROM series_points WHERE revision > 1)`,
	).Scan(&st.Records, &st.Cited, &st.Points, &st.RevisedPoints)
	if err != nil {
		return nil, fmt.Errorf("derived: evidence stats: %w", err)
	}
	st.CitationAccuracy = ratio(st.Cited, st.Records, 1)
	st.ContradictionRate = ratio(st.RevisedPoints, st.Points, 0)

	var last sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(t) FROM (
		  SELECT MAX(linked_at) AS t FROM run_evidence
		  UNION ALL
		  SELECT MAX(retrieved_at) FROM raw_objects)`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("derived: evidence freshness: %w", err)
	}
	if last.Valid {
		st.StalenessHours = s.now().Sub(time.UnixMilli(last.Int64)).Hours()
		if st.StalenessHours < 0 {
			st.StalenessHours = 0
		}
	}
	return &st, nil
}

// TranslationStats summarises bilingual parity of translated documents.
type TranslationStats struct {
	Keys        int     `json:"keys"`
	Complete    int     `json:"complete"`
	Missing     int     `json:"missing"`
	ParityScore float64 `json:"parityScore"`
}

// TranslationStats groups documents by translation key and counts, for
// each key, the languages in langs that have no document. Parity is the
// share of keys present in every language (1.0 when there are no keys).
func (s *Store) TranslationStats(ctx context.Context, langs []string) (*TranslationStats, error) {
	if len(langs) == 0 {
		langs = []string{"en", "fr"}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT translation_key, language FROM documents
		WHERE translation_key != '' GROUP BY translation_key, language`)
	if err != nil {
		return nil, fmt.Errorf("derived: translation stats: %w", err)
	}
	defer rows.Close()

	present := map[string]map[string]bool{}
	var order []string
	for rows.Next() {
		var key, lang string
		if err := rows.Scan(&key, &lang); err != nil {
			return nil, err
		}
		if present[key] == nil {
			present[key] = map[string]bool{}
			order = append(order, key)
		}
		present[key][lang] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	st := TranslationStats{Keys: len(order)}
	for _, key := range order {
		missing := 0
		for _, l := range langs {
			if !present[key][l] {
				missing++
			}
		}
		if missing == 0 {
			st.Complete++
		}
		st.Missing += missing
	}
	st.ParityScore = ratio(st.Complete, st.Keys, 1)
	return &st, nil
}

// Sections checked by the citation coverage gate.
var Sections = []string{"indicators", "documents", "reports", "translations", "web_pages"}

// SectionCoverage is the citation coverage of one content section.
type SectionCoverage struct {
	Section  string  `json:"section"`
	Total    int     `json:"total"`
	Cited    int     `json:"cited"`
	Coverage float64 `json:"coverage"`
}

var sectionQueries = map[string]string{
	"indicators":   `FROM series_points r WHERE 1=1`,
	"documents":    `FROM documents r WHERE r.kind = 'document'`,
	"reports":      `FROM documents r WHERE r.kind = 'report'`,
	"translations": `FROM documents r WHERE r.translation_key != ''`,
	"web_pages":    `FROM documents r WHERE r.kind = 'web_page'`,
}

// SectionCoverage returns, per section, the share of rows citing an
// existing raw object. An empty section counts as fully covered.
func (s *Store) SectionCoverage(ctx context.Context) ([]SectionCoverage, error) {
	out := make([]SectionCoverage, 0, len(Sections))
	for _, sec := range Sections {
		from := sectionQueries[sec]
		c := SectionCoverage{Section: sec}
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(SUM(CASE WHEN EXISTS
			   (SELECT 1 FROM raw_objects o WHERE o.id = r.raw_object_id) THEN 1 ELSE 0 END), 0) `+from,
		).Scan(&c.Total, &c.Cited)
		if err != nil {
			return nil, fmt.Errorf("derived: coverage %s: %w", sec, err)
		}
		c.Coverage = ratio(c.Cited, c.Total, 1)
		out = append(out, c)
	}
	return out, nil
}

func ratio(num, den int, empty float64) float64 {
	if den == 0 {
		return empty
	}
	return float64(num) / float64(den)
}
