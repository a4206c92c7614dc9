// Package scraper drives the admin portal in a real browser: it owns the
// Rod browser, opens the Change Management Hub, switches tabs and filters,
// and hands the rendered list to the harvester.
package scraper

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// Browser manages the browser process and its persistent profile.
// Pages are opened one at a time; the portal session is single-tenant.
type Browser struct {
	browser   *rod.Browser
	cfg       config.BrowserConfig
	startTime time.Time

	log       *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a Browser.
type Option func(*Browser)

// WithLogger sets the logger for the browser and the portal sessions it
// opens. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Browser) { b.log = l }
}

// Launch starts the browser with the configured profile directory so the
// portal sign-in survives between runs.
func Launch(cfg config.BrowserConfig, opts ...Option) (*Browser, error) {
	b := &Browser{cfg: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	if cfg.ProfileDir != "" {
		if err := os.MkdirAll(cfg.ProfileDir, 0o700); err != nil {
			return nil, models.NewHarvestError(models.ErrCodeBrowserCrash, "failed to create profile dir", err)
		}
	}

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.ProfileDir != "" {
		l = l.UserDataDir(cfg.ProfileDir)
	}

	// ── Automation flags ─────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "TranslateUI")
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	b.log.Info("browser launched", "controlURL", controlURL, "profile", cfg.ProfileDir)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewHarvestError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	b.browser = browser
	b.startTime = time.Now()
	return b, nil
}

// newPage opens a tab with the configured viewport, stealth patches and
// resource blocking installed. The returned cleanup closes both.
func (b *Browser) newPage() (*rod.Page, func(), error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, nil, models.NewHarvestError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}

	if b.cfg.ViewportWidth > 0 && b.cfg.ViewportHeight > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             b.cfg.ViewportWidth,
			Height:            b.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); err != nil {
			b.log.Warn("could not set viewport", "error", err)
		}
	}

	// Stealth and hijack must be installed before navigation.
	if b.cfg.Stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			b.log.Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}
	if len(b.cfg.ExtraHeaders) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(b.cfg.ExtraHeaders)}).Call(page); err != nil {
			b.log.Warn("could not set extra headers", "error", err)
		}
	}
	router := setupHijack(page, b.cfg.BlockedResourceTypes, b.cfg.BlockTelemetry)

	cleanup := func() {
		if router != nil {
			_ = router.Stop()
		}
		if err := page.Close(); err != nil {
			b.log.Debug("page close failed", "error", err)
		}
	}
	return page, cleanup, nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// Uptime reports how long the browser has been running.
func (b *Browser) Uptime() time.Duration {
	return time.Since(b.startTime)
}

// Close kills the browser process. It is safe to call more than once.
// Call this on shutdown to prevent zombie browser processes.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.log.Info("closing browser")
	if err := b.browser.Close(); err != nil {
		b.log.Warn("browser close failed", "error", err)
	}
}
