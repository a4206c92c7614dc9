package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// telemetryDomains are analytics endpoints the portal reports to. None of
// them are needed to render the list or its detail panes.
var telemetryDomains = map[string]struct{}{
	"browser.events.data.microsoft.com": {},
	"mobile.events.data.microsoft.com":  {},
	"js.monitor.azure.com":              {},
	"dc.services.visualstudio.com":      {},
	"applicationinsights.azure.com":     {},
	"clarity.ms":                        {},
	"google-analytics.com":              {},
	"googletagmanager.com":              {},
}

// isTelemetryDomain checks if a hostname (or any parent domain) is in the
// telemetry blocklist.
func isTelemetryDomain(host string) bool {
	host = strings.ToLower(host)
	if _, ok := telemetryDomains[host]; ok {
		return true
	}
	// Check parent domains (e.g., "eastus-8.in.applicationinsights.azure.com").
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := telemetryDomains[host]; ok {
			return true
		}
	}
	return false
}

// blockedTypes builds an O(1) lookup set from config strings. Unknown
// names are ignored.
func blockedTypes(names []string) map[proto.NetworkResourceType]struct{} {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(names))
	for _, name := range names {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	return blocked
}

// setupHijack installs a request interceptor on the page that blocks the
// specified resource types and optionally requests to telemetry hosts.
//
// Returns the running HijackRouter so the caller can Stop it.
// Returns nil if there is nothing to block.
func setupHijack(page *rod.Page, types []string, blockTelemetry bool) *rod.HijackRouter {
	blocked := blockedTypes(types)
	if len(blocked) == 0 && !blockTelemetry {
		return nil
	}

	router := page.HijackRequests()

	// Pattern "*" + empty resourceType = intercept ALL requests, then
	// decide per-request whether to block or continue.
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}

		if blockTelemetry {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil {
				if isTelemetryDomain(u.Hostname()) {
					ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
					return
				}
			}
		}

		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks, so it must live in its own goroutine.
	// It will exit when router.Stop() is called.
	go router.Run()

	return router
}
