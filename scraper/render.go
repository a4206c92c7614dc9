package scraper

import (
	"context"
	"time"
)

// Render loads targetURL in a fresh page and returns the HTML once the DOM
// has settled. It serves static pages whose plain HTTP response is only a
// script shell.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Timeout guard   – hard deadline on the entire operation
//  2. Open page       – stealth and hijack installed before navigation
//  3. Navigate
//  4. Wait            – DOM stable, best effort
//  5. Extract         – page.HTML()
func (b *Browser) Render(ctx context.Context, targetURL string, timeout time.Duration) (string, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ── 2. Open page ──────────────────────────────────────────────────
	page, cleanup, err := b.newPage()
	if err != nil {
		return "", err
	}
	defer cleanup()
	p := page.Context(ctx)

	// ── 3. Navigate ───────────────────────────────────────────────────
	if err := p.Navigate(targetURL); err != nil {
		return "", categorizeError(err, "navigation to target URL failed")
	}

	// ── 4. Wait for the DOM to settle ─────────────────────────────────
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		b.log.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"url", targetURL,
			"error", err,
		)
	}

	// ── 5. Extract rendered HTML ──────────────────────────────────────
	html, err := p.HTML()
	if err != nil {
		return "", categorizeError(err, "failed to extract page HTML")
	}
	return html, nil
}
