package connector

import (
	"context"
	"encoding/json"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/ingest/internal/extract"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
)

func runScrape(ctx context.Context, d Deps, t Target, c *ScrapeConfig, st *State) error {
	var (
		body []byte
		obj  *evidence.Object
		ok   bool
	)
	switch {
	case c.Render && d.Renderer != nil:
		html, err := d.Renderer.Render(ctx, c.URL)
		if err != nil {
			st.Fail(c.URL, err)
			return nil
		}
		body = html
		obj, ok = keep(ctx, d, t, st, c.URL, body, "text/html")
	default:
		if c.Render {
			st.Warn("no renderer configured, fetched %s without JavaScript", c.URL)
		}
		body, obj, ok = capture(ctx, d, t, st, fetch.Request{URL: c.URL}, "text/html")
	}
	if !ok {
		return nil
	}

	res, err := extract.Extract(body, extract.Options{
		Selectors:  c.Selectors,
		Mode:       c.Mode,
		MinTextLen: c.MinTextLen,
		BaseURL:    c.URL,
	})
	if err != nil {
		d.Logger.Warn("connector: extraction failed", "url", c.URL, "object_id", obj.ID, "error", err)
		st.Fail(c.URL, err)
		return nil
	}

	lang := c.Language
	if lang == "" {
		lang = res.Language
	}
	meta, _ := json.Marshal(map[string]any{
		"mode":   c.Mode,
		"blocks": len(res.Blocks),
	})
	st.Fetched++
	upsertDocument(ctx, d, st, c.URL, &derived.Document{
		URL:            c.URL,
		Title:          res.Title,
		Body:           res.Markdown,
		Language:       lang,
		TranslationKey: c.TranslationKey,
		Kind:           derived.KindWebPage,
		Searchable:     c.CreateSearchIndex,
		SourceID:       t.SourceID,
		RawObjectID:    obj.ID,
		RunID:          t.RunID,
		MetadataJSON:   string(meta),
	})
	return nil
}
