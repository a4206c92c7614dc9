// Package whatsnew reads the public Entra "What's new" release notes into
// structured items.
package whatsnew

import (
	"context"
	"log/slog"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// Renderer renders a page in a real browser and returns its HTML.
// *scraper.Browser satisfies it.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Client fetches and parses the release-notes page.
type Client struct {
	cfg      config.WhatsNewConfig
	fetcher  *httpFetcher
	conv     *converter.Converter
	renderer Renderer

	// fetch is swapped out in tests.
	fetch func(ctx context.Context, url string) ([]byte, error)
}

// Option configures a Client.
type Option func(*Client)

// WithRenderer lets the client fall back to a browser when the plain HTTP
// response is a script shell.
func WithRenderer(r Renderer) Option {
	return func(c *Client) { c.renderer = r }
}

// NewClient creates a Client for cfg.
func NewClient(cfg config.WhatsNewConfig, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		fetcher: newHTTPFetcher(cfg.Proxy),
		conv:    newMarkdownConverter(),
	}
	c.fetch = c.fetcher.fetch
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches the page and returns its items in page order, newest month
// first as the page lists them.
//
// Pipeline (numbered steps match the inline comments):
//
//  1. Fetch        – utls HTTP GET bounded by the configured timeout
//  2. Render       – browser fallback when the body needs JavaScript
//  3. Isolate      – article container by CSS selector, else readability
//  4. Parse        – h2 months, h3 items, Markdown descriptions
func (c *Client) Get(ctx context.Context) ([]models.WhatsNewItem, error) {
	start := time.Now()
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	// ── 1. Fetch ─────────────────────────────────────────────────────
	body, err := c.fetch(ctx, c.cfg.URL)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeFetchFailed, "could not fetch what's new page", err)
	}
	rawHTML := string(body)

	// ── 2. Render ────────────────────────────────────────────────────
	if needsBrowser(body) {
		if c.renderer == nil {
			slog.Warn("whatsnew: page looks script-rendered and no browser is available", "url", c.cfg.URL)
		} else {
			slog.Info("whatsnew: falling back to browser render", "url", c.cfg.URL)
			rendered, err := c.renderer.Render(ctx, c.cfg.URL, c.cfg.Timeout)
			if err != nil {
				return nil, models.NewHarvestError(models.ErrCodeFetchFailed, "browser render failed", err)
			}
			rawHTML = rendered
		}
	}

	// ── 3. Isolate ───────────────────────────────────────────────────
	content, err := isolate(rawHTML, c.cfg.Content, c.cfg.URL)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "bad content selector", err)
	}

	// ── 4. Parse ─────────────────────────────────────────────────────
	p, err := newParser(c.conv, c.cfg.URL)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeInvalidInput, "bad what's new URL", err)
	}
	items, err := p.parse(content)
	if err != nil {
		// Items that converted are still worth returning.
		slog.Warn("whatsnew: some descriptions failed to convert", "error", err)
	}

	slog.Info("whatsnew: parsed", "items", len(items), "elapsed", time.Since(start))
	return items, nil
}
