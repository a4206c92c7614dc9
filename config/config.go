package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Portal    PortalConfig    `yaml:"portal"`
	Harvest   HarvestConfig   `yaml:"harvest"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Log       LogConfig       `yaml:"log"`
	Output    OutputConfig    `yaml:"output"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Graph     GraphConfig     `yaml:"graph"`
	WhatsNew  WhatsNewConfig  `yaml:"whatsNew"`
}

// ServerConfig controls the HTTP server used by `changehub serve`.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "127.0.0.1"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless. The portal
	// needs an interactive sign-in the first time, so the default is false.
	Headless bool `yaml:"headless"`

	// ProfileDir is the persistent user-data directory that keeps the
	// portal sign-in between runs.
	ProfileDir string `yaml:"profileDir"`

	// BrowserBin overrides the Chromium/Edge binary path.
	BrowserBin string `yaml:"browserBin"`

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"noSandbox"`

	// Stealth injects the go-rod/stealth evasions before navigation.
	Stealth bool `yaml:"stealth"`

	// ViewportWidth and ViewportHeight size the window; pane dismissal
	// clicks are expressed in this coordinate space.
	ViewportWidth  int `yaml:"viewportWidth"`
	ViewportHeight int `yaml:"viewportHeight"`

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string `yaml:"blockedResourceTypes"`

	// BlockTelemetry drops requests to analytics and telemetry hosts.
	BlockTelemetry bool `yaml:"blockTelemetry"`

	// ExtraHeaders are sent with every portal request. The default pins
	// Accept-Language so tab names and pane headings stay in English.
	ExtraHeaders map[string]string `yaml:"extraHeaders"`
}

// PortalConfig describes how to reach the list inside the admin portal.
type PortalConfig struct {
	URL string `yaml:"url"`

	// ListFrame selects the iframe hosting the virtualized list.
	ListFrame string `yaml:"listFrame"`

	SplashScreen string `yaml:"splashScreen"`
	ProgressDots string `yaml:"progressDots"`

	// Tabs maps each harvested tab to a case-insensitive regular
	// expression matched against the tab's accessible name.
	Tabs map[string]string `yaml:"tabs"`

	// DateFilter is one of ValidDateFilters, or empty for no filter.
	DateFilter string `yaml:"dateFilter"`

	FilterButtonContainer string `yaml:"filterButtonContainer"`
	RadioLabel            string `yaml:"radioLabel"`
	ApplyButton           string `yaml:"applyButton"`

	NavigationTimeout time.Duration `yaml:"navigationTimeout"` // default: 60s
	SplashTimeout     time.Duration `yaml:"splashTimeout"`     // default: 60s
	ProgressTimeout   time.Duration `yaml:"progressTimeout"`   // default: 15s
	GeneralWait       time.Duration `yaml:"generalWait"`       // default: 30s
	ClickTimeout      time.Duration `yaml:"clickTimeout"`      // default: 5s
	ShortDelay        time.Duration `yaml:"shortDelay"`        // default: 2s
	MenuDelay         time.Duration `yaml:"menuDelay"`         // default: 1s
}

// ValidDateFilters are the options offered by the portal's date range menu.
var ValidDateFilters = []string{"Last 1 month", "Last 3 months", "Last 6 months", "Last 1 year"}

// HarvestConfig tunes the virtualized-list harvester.
type HarvestConfig struct {
	Selectors    SelectorConfig    `yaml:"selectors"`
	Timeouts     TimeoutConfig     `yaml:"timeouts"`
	Tuning       TuningConfig      `yaml:"scraper"`
	FieldMapping map[string]string `yaml:"fieldMapping"`

	// TitleKey is the raw cell key whose text identifies the row's
	// detail pane (matched against pane headings).
	TitleKey string `yaml:"titleKey"`

	TextPatterns TextPatterns `yaml:"textPatterns"`
}

// SelectorConfig holds the CSS selectors the harvester relies on.
type SelectorConfig struct {
	List              string `yaml:"list"`
	Row               string `yaml:"row"`
	RowCheck          string `yaml:"rowCheck"`
	RowFields         string `yaml:"rowFields"`
	RowCell           string `yaml:"rowCell"`
	ScrollContainer   string `yaml:"scrollContainer"`
	PaneContainer     string `yaml:"paneContainer"`
	ProgressIndicator string `yaml:"progressIndicator"`
	CloseControl      string `yaml:"closeControl"`
	Heading           string `yaml:"heading"`

	RowIndexAttr string `yaml:"rowIndexAttr"` // default: "data-item-index"
	CellKeyAttr  string `yaml:"cellKeyAttr"`  // default: "data-automation-key"
}

// TimeoutConfig bounds every wait the harvester performs.
type TimeoutConfig struct {
	ListWait          time.Duration `yaml:"listWait"`          // default: 30s
	PaneOpen          time.Duration `yaml:"paneOpen"`          // default: 30s
	Click             time.Duration `yaml:"click"`             // default: 5s
	PaneClose         time.Duration `yaml:"paneClose"`         // default: 5s
	ButtonClose       time.Duration `yaml:"buttonClose"`       // default: 3s
	ProgressIndicator time.Duration `yaml:"progressIndicator"` // default: 15s
	CheckboxDelay     time.Duration `yaml:"checkboxDelay"`     // default: 500ms
}

// TuningConfig controls scrolling, termination and retries.
type TuningConfig struct {
	// ScrollStepPx is the fixed scroll advance. When zero the step is
	// ScrollStepFraction of the container's viewport height.
	ScrollStepPx       int     `yaml:"scrollStepPx"`
	ScrollStepFraction float64 `yaml:"scrollStepFraction"` // default: 0.85

	PassDelay        time.Duration `yaml:"passDelay"`        // default: 800ms
	MaxIdlePasses    int           `yaml:"maxIdlePasses"`    // default: 6
	TotalTimeout     time.Duration `yaml:"totalTimeout"`     // default: 30m
	MaxRetryAttempts int           `yaml:"maxRetryAttempts"` // default: 3

	// ClickOutside is the host-page point clicked to dismiss a pane
	// when no close control is visible.
	ClickOutside Point `yaml:"clickOutside"`
}

// Point is a viewport coordinate.
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// TextPatterns are the heading labels that anchor detail-pane sections.
// Each is a case-insensitive regular expression.
type TextPatterns struct {
	Overview        string `yaml:"overview"`
	NextSteps       string `yaml:"nextSteps"`
	WhatIsChanging  string `yaml:"whatIsChanging"`
	ReleaseContents string `yaml:"releaseContents"`
}

// AuthConfig controls API key authentication for serve mode.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"` // default: true
	APIKeys []string `yaml:"apiKeys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"` // default: 1
	Burst             int     `yaml:"burst"`             // default: 5
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "text"
}

// OutputConfig controls the optional JSON files written after a run.
type OutputConfig struct {
	SaveToFile bool   `yaml:"saveToFile"`
	Dir        string `yaml:"dir"` // default: XDG data dir
}

// WebhookConfig controls run-completion notifications.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// GraphConfig controls the SharePoint list sink and its credentials.
type GraphConfig struct {
	SiteURL  string `yaml:"siteUrl"`
	ClientID string `yaml:"clientId"`
	TenantID string `yaml:"tenantId"`

	// Lists maps a source ("roadmap", "changeAnnouncements", "whatsNew")
	// to its destination list.
	Lists map[string]ListConfig `yaml:"lists"`

	RequestsPerSecond float64       `yaml:"requestsPerSecond"` // default: 4
	Timeout           time.Duration `yaml:"timeout"`           // default: 30s

	// TokenCache is the path of the device-code token cache.
	TokenCache string `yaml:"tokenCache"`
}

// ListConfig describes one destination SharePoint list.
type ListConfig struct {
	Name string `yaml:"name"`

	// DateField is the list column used together with Title to detect
	// items that already exist.
	DateField string `yaml:"dateField"`

	// Mapping maps SharePoint internal column names to record keys.
	Mapping map[string]string `yaml:"mapping"`
}

// Enabled reports whether enough is configured to talk to Graph.
func (g GraphConfig) Enabled() bool {
	return g.SiteURL != "" && g.ClientID != "" && g.TenantID != ""
}

// WhatsNewConfig controls the static "what's new" page fetcher.
type WhatsNewConfig struct {
	URL     string        `yaml:"url"`
	Content string        `yaml:"content"` // CSS selector of the article body
	Timeout time.Duration `yaml:"timeout"` // default: 30s
	Proxy   string        `yaml:"proxy"`
}
