// Package render loads JavaScript-heavy pages in headless Chrome and
// returns the rendered DOM.
//
// The browser is launched lazily on first use (or connected to a remote
// instance) and recycled once it exceeds its configured lifetime.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Renderer returns the rendered HTML of a page.
type Renderer interface {
	Render(ctx context.Context, pageURL string) ([]byte, error)
}

// Config configures the Chrome renderer.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string
	// NavTimeout bounds navigation and load. Default: 30s.
	NavTimeout time.Duration
	// Settle is an extra wait after load for client-side rendering.
	// Default: 500ms.
	Settle time.Duration
	// RecycleInterval is the maximum lifetime of a browser. Default: 4h.
	RecycleInterval time.Duration
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Settle <= 0 {
		c.Settle = 500 * time.Millisecond
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Chrome is a Renderer backed by go-rod with stealth patches.
type Chrome struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	started time.Time
	closed  bool
}

// NewChrome creates a Chrome renderer. No process is started until the
// first Render.
func NewChrome(cfg Config) *Chrome {
	cfg.defaults()
	return &Chrome{cfg: cfg}
}

// Render navigates to pageURL in a fresh stealth tab and returns
// document.documentElement.outerHTML.
func (c *Chrome) Render(ctx context.Context, pageURL string) ([]byte, error) {
	b, err := c.ensure()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("render: open tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("render: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		c.cfg.Logger.Warn("render: wait load", "url", pageURL, "error", err)
	}
	select {
	case <-navCtx.Done():
		return nil, fmt.Errorf("render: %s: %w", pageURL, navCtx.Err())
	case <-time.After(c.cfg.Settle):
	}

	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("render: read dom: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cleanup()
	return nil
}

func (c *Chrome) ensure() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("render: closed")
	}
	if c.browser != nil && time.Since(c.started) > c.cfg.RecycleInterval {
		c.cfg.Logger.Info("render: recycling browser", "uptime", time.Since(c.started))
		c.cleanup()
	}
	if c.browser != nil {
		return c.browser, nil
	}

	ws := c.cfg.RemoteURL
	if ws == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("render: launch chrome: %w", err)
		}
		ws = u
		c.lnch = l
	}
	b := rod.New().ControlURL(ws)
	if err := b.Connect(); err != nil {
		c.cleanup()
		return nil, fmt.Errorf("render: connect: %w", err)
	}
	c.browser = b
	c.started = time.Now()
	c.cfg.Logger.Info("render: browser ready", "remote", c.cfg.RemoteURL != "")
	return b, nil
}

func (c *Chrome) cleanup() {
	if c.browser != nil {
		c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, pageURL string) ([]byte, error)

// Render calls f.
func (f Func) Render(ctx context.Context, pageURL string) ([]byte, error) { return f(ctx, pageURL) }
