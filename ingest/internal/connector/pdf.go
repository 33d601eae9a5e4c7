package connector

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
	"github.com/hazyhaar/datatrack/ingest/internal/pdftext"
)

func runPDF(ctx context.Context, d Deps, t Target, c *PDFConfig, st *State) error {
	body, obj, ok := capture(ctx, d, t, st, fetch.Request{URL: c.URL, Timeout: fetch.PDFTimeout}, "application/pdf")
	if !ok {
		return nil
	}

	meta := make(map[string]any, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	doc := &derived.Document{
		ContentHash:    obj.SHA256,
		URL:            c.URL,
		Title:          c.Metadata["title"],
		Language:       c.Language,
		TranslationKey: c.TranslationKey,
		Kind:           c.DocKind,
		Searchable:     c.CreateSearchIndex,
		SourceID:       t.SourceID,
		RawObjectID:    obj.ID,
		RunID:          t.RunID,
	}
	if doc.Kind == "" {
		doc.Kind = derived.KindReport
	}

	if c.ExtractText {
		pdf, err := pdftext.Extract(body)
		if err != nil {
			// The raw object is already stored; only the derived row is lost.
			d.Logger.Warn("connector: pdf text extraction failed", "url", c.URL, "object_id", obj.ID, "error", err)
			if errors.Is(err, pdftext.ErrNoText) {
				st.Fail(c.URL, err)
			} else {
				st.Fail(c.URL, errors.Join(ErrParse, err))
			}
			return nil
		}
		doc.Body = pdf.Text()
		if doc.Title == "" {
			doc.Title = pdf.Title
		}
		meta["pageCount"] = pdf.PageCount
		if pdf.PrintableRatio < 0.9 {
			st.Warn("%s: low printable ratio %.2f, text may be garbled", c.URL, pdf.PrintableRatio)
		}
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(path.Base(c.URL), path.Ext(c.URL))
	}
	if len(meta) > 0 {
		b, _ := json.Marshal(meta)
		doc.MetadataJSON = string(b)
	}

	st.Fetched++
	upsertDocument(ctx, d, st, c.URL, doc)
	return nil
}
