package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// AppName is used for XDG directory paths.
const AppName = "changehub"

// DefaultPortalURL is the Change Management Hub list blade.
const DefaultPortalURL = "https://entra.microsoft.com/#blade/Microsoft_AAD_IAM/ChangeManagementHubList.ReactView"

// DefaultWhatsNewURL is the public release-notes page.
const DefaultWhatsNewURL = "https://learn.microsoft.com/en-us/entra/fundamentals/whats-new"

// Defaults returns a Config populated with built-in values only.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Mode: "release",
		},
		Browser: BrowserConfig{
			Headless:             false,
			ProfileDir:           filepath.Join(xdg.DataHome, AppName, "edge-profile"),
			ViewportWidth:        1920,
			ViewportHeight:       1080,
			BlockedResourceTypes: []string{"Image", "Font", "Media"},
			ExtraHeaders:         map[string]string{"Accept-Language": "en-US,en;q=0.9"},
		},
		Portal: PortalConfig{
			URL:          DefaultPortalURL,
			ListFrame:    `iframe[name="ChangeManagementHubList.ReactView"]`,
			SplashScreen: ".fxs-splash",
			ProgressDots: "div.fxs-progress-dots",
			Tabs: map[string]string{
				"roadmap":             `^Roadmap$`,
				"changeAnnouncements": `^Change announcements$`,
			},
			FilterButtonContainer: `div[data-selection-index='1']`,
			RadioLabel:            ".ms-ChoiceFieldLabel",
			ApplyButton:           `button[aria-label="Apply"]`,
			NavigationTimeout:     60 * time.Second,
			SplashTimeout:         60 * time.Second,
			ProgressTimeout:       15 * time.Second,
			GeneralWait:           30 * time.Second,
			ClickTimeout:          5 * time.Second,
			ShortDelay:            2 * time.Second,
			MenuDelay:             time.Second,
		},
		Harvest: DefaultHarvest(),
		Auth: AuthConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Output: OutputConfig{
			Dir: filepath.Join(xdg.DataHome, AppName, "runs"),
		},
		Graph: GraphConfig{
			Lists: map[string]ListConfig{
				"roadmap":             {Name: "EntraRoadmapItems", DateField: "ReleaseDate"},
				"changeAnnouncements": {Name: "EntraChangeAnnouncements", DateField: "AnnouncementDate"},
				"whatsNew":            {Name: "EntraWhatsNew", DateField: "Month"},
			},
			RequestsPerSecond: 4,
			Timeout:           30 * time.Second,
			TokenCache:        filepath.Join(xdg.CacheHome, AppName, "token-cache.json"),
		},
		WhatsNew: WhatsNewConfig{
			URL:     DefaultWhatsNewURL,
			Content: "main .content",
			Timeout: 30 * time.Second,
		},
	}
}

// DefaultHarvest returns the harvester defaults for the portal's Fluent UI
// DetailsList and its Azure blade detail panes.
func DefaultHarvest() HarvestConfig {
	return HarvestConfig{
		Selectors: SelectorConfig{
			List:              ".ms-DetailsList",
			Row:               "div.ms-DetailsRow",
			RowCheck:          `div[role="checkbox"]`,
			RowFields:         ".ms-DetailsRow-fields",
			RowCell:           ".ms-DetailsRow-cell",
			ScrollContainer:   ".ms-ScrollablePane--contentContainer",
			PaneContainer:     `iframe[name="ChangeManagementHubDetails.ReactView"]`,
			ProgressIndicator: "div.fxs-progress-dots",
			CloseControl:      `button[aria-label="Close"]`,
			Heading:           "h3",
			RowIndexAttr:      "data-item-index",
			CellKeyAttr:       "data-automation-key",
		},
		Timeouts: TimeoutConfig{
			ListWait:          30 * time.Second,
			PaneOpen:          30 * time.Second,
			Click:             5 * time.Second,
			PaneClose:         5 * time.Second,
			ButtonClose:       3 * time.Second,
			ProgressIndicator: 15 * time.Second,
			CheckboxDelay:     500 * time.Millisecond,
		},
		Tuning: TuningConfig{
			ScrollStepFraction: 0.85,
			PassDelay:          800 * time.Millisecond,
			MaxIdlePasses:      6,
			TotalTimeout:       30 * time.Minute,
			MaxRetryAttempts:   3,
			ClickOutside:       Point{X: 100, Y: 500},
		},
		FieldMapping: map[string]string{
			"changeEntityCategory":      "category",
			"changeEntityDeliveryStage": "releaseType",
			"changeEntityService":       "service",
		},
		TitleKey: "title",
		TextPatterns: TextPatterns{
			Overview:        `Overview`,
			NextSteps:       `Next steps`,
			WhatIsChanging:  `What is changing`,
			ReleaseContents: `Here's what you will see in this release`,
		},
	}
}
