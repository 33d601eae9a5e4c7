package eval

import (
	"context"

	"github.com/hazyhaar/datatrack/derived"
)

// Result is one retrieved item.
type Result struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	// EvidenceID is the raw object the item cites, empty if uncited.
	EvidenceID string `json:"evidenceId,omitempty"`
}

// Retriever answers a question with its top k items.
type Retriever interface {
	Retrieve(ctx context.Context, query, lang string, k int) ([]Result, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query, lang string, k int) ([]Result, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query, lang string, k int) ([]Result, error) {
	return f(ctx, query, lang, k)
}

// SearchRetriever retrieves from the full-text index of derived documents.
type SearchRetriever struct {
	Derived *derived.Store
}

func (r SearchRetriever) Retrieve(ctx context.Context, query, lang string, k int) ([]Result, error) {
	hits, err := r.Derived.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ID:         h.DocumentID,
			Title:      h.Title,
			Text:       h.Snippet,
			Language:   h.Language,
			EvidenceID: h.RawObjectID,
		})
	}
	return out, nil
}
