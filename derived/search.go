package derived

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Hit is one full-text search result.
type Hit struct {
	DocumentID  string  `json:"documentId"`
	Title       string  `json:"title"`
	Snippet     string  `json:"snippet"`
	URL         string  `json:"url"`
	Language    string  `json:"language,omitempty"`
	RawObjectID string  `json:"rawObjectId"`
	Rank        float64 `json:"rank"`
}

// Search runs an FTS5 query over searchable documents. Free text is
// reduced to its words and OR-ed, so natural-language questions match
// any of their terms. Best matches come first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.title, snippet(documents_fts, 2, '', '', '…', 24), d.url,
		d.language, d.raw_object_id, f.rank
		FROM documents_fts f
		JOIN documents d ON d.id = f.doc_id
		WHERE documents_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("derived: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.DocumentID, &h.Title, &h.Snippet, &h.URL, &h.Language,
			&h.RawObjectID, &h.Rank); err != nil {
			return nil, fmt.Errorf("derived: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into an FTS5 expression of quoted terms joined
// by OR. Words shorter than three runes are dropped.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < 3 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
