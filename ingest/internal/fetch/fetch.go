// Package fetch downloads connector payloads over HTTP with SSRF checks,
// per-request timeouts and a response size cap.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/datatrack/evidence"
	"github.com/hazyhaar/datatrack/horosafe"
)

// Default timeouts.
const (
	DefaultTimeout = 30 * time.Second
	PDFTimeout     = 60 * time.Second
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// ErrBlocked wraps URL validation failures.
var ErrBlocked = errors.New("fetch: url blocked")

// Result is a successful download.
type Result struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Hash        string // SHA-256 of Body
	FinalURL    string
}

// Config configures the fetcher.
type Config struct {
	MaxBytes  int64 // Default: 50MB.
	UserAgent string
	// URLValidator validates URLs before fetch and on each redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
	// MaxRetries is the number of extra attempts after a transient
	// failure. Zero disables retries.
	MaxRetries int
	// RetryBackoff is the first wait, doubled on each attempt. Default: 500ms.
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "datatrack-ingest/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Fetcher performs GET requests.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on redirects.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("%w: redirect: %v", ErrBlocked, err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Request describes one GET.
type Request struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration // Default: DefaultTimeout.
}

// Get downloads req.URL. Non-2xx responses return a *StatusError.
// Transient failures are retried up to MaxRetries times.
func (f *Fetcher) Get(ctx context.Context, req Request) (*Result, error) {
	if err := f.config.URLValidator(req.URL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	return withRetry(ctx, f.config.MaxRetries, f.config.RetryBackoff, f.config.Logger, func() (*Result, error) {
		return f.get(ctx, req)
	})
}

func (f *Fetcher) get(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	hreq.Header.Set("User-Agent", f.config.UserAgent)
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{Code: resp.StatusCode, URL: req.URL}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return &Result{
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Hash:        evidence.Hash(body),
		FinalURL:    resp.Request.URL.String(),
	}, nil
}
