package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"github.com/use-agent/changehub/auth"
	"github.com/use-agent/changehub/cache"
	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/pipeline"
	"github.com/use-agent/changehub/scraper"
	"github.com/use-agent/changehub/sink"
	"github.com/use-agent/changehub/webhook"
	"github.com/use-agent/changehub/whatsnew"
)

// app holds the collaborators shared by the run and serve commands.
type app struct {
	browser  *scraper.Browser
	whatsNew *whatsnew.Client
	sink     *sink.Sink
	notifier *webhook.Notifier
	runner   *pipeline.Runner
}

// newApp launches the browser (unless withBrowser is false) and wires the
// pipeline. The Graph sink is only built when a site, client and tenant
// are configured.
func newApp(cfg *config.Config, withBrowser bool) (*app, error) {
	a := &app{
		notifier: webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret),
	}

	var portal pipeline.TabHarvester
	var wnOpts []whatsnew.Option
	if withBrowser {
		b, err := scraper.Launch(cfg.Browser, scraper.WithLogger(slog.Default().With("component", "browser")))
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		a.browser = b
		portal = &pipeline.Portal{Browser: b, Portal: cfg.Portal, Harvest: cfg.Harvest}
		wnOpts = append(wnOpts, whatsnew.WithRenderer(b))
	}
	a.whatsNew = whatsnew.NewClient(cfg.WhatsNew, wnOpts...)

	opts := []pipeline.Option{
		pipeline.WithWhatsNew(a.whatsNew),
		pipeline.WithNotifier(a.notifier),
	}
	resolver := cache.New()
	if s := newSink(cfg, resolver); s != nil {
		a.sink = s
		opts = append(opts, pipeline.WithSink(s, resolver))
	}
	a.runner = pipeline.New(cfg, portal, opts...)
	return a, nil
}

// newSink returns nil when Graph is not configured.
func newSink(cfg *config.Config, resolver *cache.Resolver) *sink.Sink {
	if !cfg.Graph.Enabled() {
		slog.Debug("graph sink disabled: siteUrl, clientId and tenantId are required")
		return nil
	}
	tokens := auth.NewSource(cfg.Graph,
		auth.WithLogger(slog.Default().With("component", "auth")),
		auth.WithPrompt(func(da *oauth2.DeviceAuthResponse) {
			fmt.Fprintf(os.Stderr, "To sign in, open %s and enter the code %s\n", da.VerificationURI, da.UserCode)
		}),
	)
	return sink.New(cfg.Graph, tokens, resolver, sink.WithLogger(slog.Default().With("component", "sink")))
}

// close releases the browser and waits for pending webhook deliveries.
func (a *app) close() {
	if a.browser != nil {
		a.browser.Close()
	}
	a.notifier.Wait()
}
