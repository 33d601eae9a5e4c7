// Package connector fetches and normalizes data from external sources.
//
// Every connector type has a typed Config decoded from the JSON stored on
// the connector row. Run dispatches on that type. Handlers store the raw
// payload as evidence before parsing anything, then upsert derived rows and
// record per-item failures on the run State. Only configuration problems
// are returned as errors.
package connector

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/ingest/internal/store"
)

// ErrInvalidConfig is returned for configs that cannot be decoded or fail
// validation.
var ErrInvalidConfig = errors.New("connector: invalid config")

// Config is the typed configuration of one connector type.
type Config interface {
	Kind() string
	Validate() error
}

// DecodeConfig decodes raw into the Config for kind and validates it.
// Unknown fields are rejected.
func DecodeConfig(kind string, raw []byte) (Config, error) {
	var cfg Config
	switch kind {
	case store.TypeAPIRest:
		cfg = &RESTConfig{}
	case store.TypeCSV:
		cfg = &CSVConfig{}
	case store.TypePDF:
		cfg = &PDFConfig{}
	case store.TypeWebScrape:
		cfg = &ScrapeConfig{}
	default:
		return nil, fmt.Errorf("%w: unsupported connector type %q", ErrInvalidConfig, kind)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, kind, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FieldMap names the item keys (REST) or header columns (CSV) holding each
// logical field. Empty entries fall back to the logical name.
type FieldMap struct {
	Date      string `json:"date,omitempty"`
	Value     string `json:"value,omitempty"`
	Indicator string `json:"indicator,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Regime    string `json:"regime,omitempty"`
}

func (f FieldMap) withDefaults() FieldMap {
	if f.Date == "" {
		f.Date = "date"
	}
	if f.Value == "" {
		f.Value = "value"
	}
	return f
}

// RESTConfig configures an api_rest connector.
//
// URL may contain {indicator} and {country} placeholders; one request is
// made per combination. Headers support ${ENV} expansion.
type RESTConfig struct {
	URL         string            `json:"url"`
	Indicators  []string          `json:"indicators,omitempty"`
	Countries   []string          `json:"countries,omitempty"`
	ResultPath  string            `json:"resultPath,omitempty"`
	Fields      FieldMap          `json:"fields,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Unit        string            `json:"unit,omitempty"`
	Regime      string            `json:"regime,omitempty"`
	RateLimitMs int               `json:"rateLimitMs,omitempty"`
}

func (c *RESTConfig) Kind() string { return store.TypeAPIRest }

func (c *RESTConfig) Validate() error {
	if err := validURL(c.URL); err != nil {
		return err
	}
	if strings.Contains(c.URL, "{indicator}") && len(c.Indicators) == 0 {
		return fmt.Errorf("%w: url uses {indicator} but indicators is empty", ErrInvalidConfig)
	}
	if strings.Contains(c.URL, "{country}") && len(c.Countries) == 0 {
		return fmt.Errorf("%w: url uses {country} but countries is empty", ErrInvalidConfig)
	}
	if c.Fields.Indicator == "" && len(c.Indicators) == 0 {
		return fmt.Errorf("%w: indicators or fields.indicator is required", ErrInvalidConfig)
	}
	if !strings.Contains(c.URL, "{indicator}") && len(c.Indicators) > 1 && c.Fields.Indicator == "" {
		return fmt.Errorf("%w: several indicators need an {indicator} placeholder or fields.indicator", ErrInvalidConfig)
	}
	if c.RateLimitMs < 0 {
		return fmt.Errorf("%w: rateLimitMs must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// CSVConfig configures a csv_download connector. ColumnMapping maps the
// logical fields to header names.
type CSVConfig struct {
	URL           string   `json:"url"`
	ColumnMapping FieldMap `json:"columnMapping"`
	Indicator     string   `json:"indicator,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Regime        string   `json:"regime,omitempty"`
	Delimiter     string   `json:"delimiter,omitempty"`
}

func (c *CSVConfig) Kind() string { return store.TypeCSV }

func (c *CSVConfig) Validate() error {
	if err := validURL(c.URL); err != nil {
		return err
	}
	if c.ColumnMapping.Indicator == "" && c.Indicator == "" {
		return fmt.Errorf("%w: columnMapping.indicator or indicator is required", ErrInvalidConfig)
	}
	if len([]rune(c.Delimiter)) > 1 {
		return fmt.Errorf("%w: delimiter must be a single character", ErrInvalidConfig)
	}
	return nil
}

// PDFConfig configures a pdf_download connector.
type PDFConfig struct {
	URL               string            `json:"url"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ExtractText       bool              `json:"extractText"`
	CreateSearchIndex bool              `json:"createSearchIndex"`
	Language          string            `json:"language,omitempty"`
	TranslationKey    string            `json:"translationKey,omitempty"`
	// DocKind is the derived document kind: "report" (default) or "document".
	DocKind string `json:"kind,omitempty"`
}

func (c *PDFConfig) Kind() string { return store.TypePDF }

func (c *PDFConfig) Validate() error {
	if err := validURL(c.URL); err != nil {
		return err
	}
	switch c.DocKind {
	case "", derived.KindReport, derived.KindDocument:
	default:
		return fmt.Errorf("%w: kind must be report or document, got %q", ErrInvalidConfig, c.DocKind)
	}
	if c.CreateSearchIndex && !c.ExtractText {
		return fmt.Errorf("%w: createSearchIndex requires extractText", ErrInvalidConfig)
	}
	return nil
}

// ScrapeConfig configures a web_scrape connector. Render loads the page in
// headless Chrome first.
type ScrapeConfig struct {
	URL               string   `json:"url"`
	Selectors         []string `json:"selectors,omitempty"`
	Mode              string   `json:"mode,omitempty"`
	Render            bool     `json:"render,omitempty"`
	Language          string   `json:"language,omitempty"`
	TranslationKey    string   `json:"translationKey,omitempty"`
	CreateSearchIndex bool     `json:"createSearchIndex"`
	MinTextLen        int      `json:"minTextLen,omitempty"`
}

func (c *ScrapeConfig) Kind() string { return store.TypeWebScrape }

func (c *ScrapeConfig) Validate() error {
	if err := validURL(c.URL); err != nil {
		return err
	}
	switch c.Mode {
	case "", "auto", "density":
	case "css":
		if len(c.Selectors) == 0 {
			return fmt.Errorf("%w: css mode needs selectors", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}

func validURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	probe := strings.NewReplacer("{indicator}", "x", "{country}", "x").Replace(raw)
	u, err := url.Parse(probe)
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute http(s), got %q", ErrInvalidConfig, raw)
	}
	return nil
}
