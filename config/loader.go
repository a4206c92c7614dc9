package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name searched for.
const DefaultConfigFile = "changehub.yaml"

// ErrConfigNotFound is returned when an explicitly named file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Load builds the configuration in three layers: built-in defaults, the
// YAML file (if any), then CHANGEHUB_* environment variables.
//
// path may be empty, in which case FindConfigFile decides; a missing file
// is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	file := FindConfigFile(path)
	switch {
	case file != "":
		if err := cfg.applyFile(file); err != nil {
			return nil, err
		}
	case path != "":
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for the configuration file in the following order:
//  1. configPath, if given
//  2. $CHANGEHUB_CONFIG
//  3. ./changehub.yaml
//  4. $XDG_CONFIG_HOME/changehub/changehub.yaml
//
// Returns "" when nothing is found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}
	if env := os.Getenv("CHANGEHUB_CONFIG"); env != "" {
		if _, err := os.Stat(env); err == nil {
			return env
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, DefaultConfigFile)
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	if p, err := xdg.SearchConfigFile(filepath.Join(AppName, DefaultConfigFile)); err == nil {
		return p
	}
	return ""
}

// applyFile overlays the YAML file onto cfg. Keys absent from the file
// keep their current values; maps are merged key by key.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides selected values from the environment, using the
// current values as fallbacks.
func (c *Config) applyEnv() {
	c.Server.Host = envOr("CHANGEHUB_HOST", c.Server.Host)
	c.Server.Port = envIntOr("CHANGEHUB_PORT", c.Server.Port)
	c.Server.Mode = envOr("CHANGEHUB_MODE", c.Server.Mode)

	c.Browser.Headless = envBoolOr("CHANGEHUB_HEADLESS", c.Browser.Headless)
	c.Browser.ProfileDir = envOr("CHANGEHUB_PROFILE_DIR", c.Browser.ProfileDir)
	c.Browser.BrowserBin = envOr("CHANGEHUB_BROWSER_BIN", c.Browser.BrowserBin)
	c.Browser.NoSandbox = envBoolOr("CHANGEHUB_NO_SANDBOX", c.Browser.NoSandbox)
	c.Browser.Stealth = envBoolOr("CHANGEHUB_STEALTH", c.Browser.Stealth)
	c.Browser.BlockedResourceTypes = envSliceOr("CHANGEHUB_BLOCKED_RESOURCES", c.Browser.BlockedResourceTypes)
	c.Browser.BlockTelemetry = envBoolOr("CHANGEHUB_BLOCK_TELEMETRY", c.Browser.BlockTelemetry)

	c.Portal.DateFilter = envOr("CHANGEHUB_DATE_FILTER", c.Portal.DateFilter)

	c.Harvest.Tuning.TotalTimeout = envDurationOr("CHANGEHUB_TOTAL_TIMEOUT", c.Harvest.Tuning.TotalTimeout)
	c.Harvest.Tuning.MaxRetryAttempts = envIntOr("CHANGEHUB_MAX_RETRY_ATTEMPTS", c.Harvest.Tuning.MaxRetryAttempts)
	c.Harvest.Tuning.MaxIdlePasses = envIntOr("CHANGEHUB_MAX_IDLE_PASSES", c.Harvest.Tuning.MaxIdlePasses)

	c.Auth.Enabled = envBoolOr("CHANGEHUB_AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.APIKeys = envSliceOr("CHANGEHUB_API_KEYS", c.Auth.APIKeys)

	c.RateLimit.RequestsPerSecond = envFloatOr("CHANGEHUB_RATE_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = envIntOr("CHANGEHUB_RATE_BURST", c.RateLimit.Burst)

	c.Log.Level = envOr("CHANGEHUB_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("CHANGEHUB_LOG_FORMAT", c.Log.Format)

	c.Output.SaveToFile = envBoolOr("CHANGEHUB_SAVE_TO_FILE", c.Output.SaveToFile)
	c.Output.Dir = envOr("CHANGEHUB_OUTPUT_DIR", c.Output.Dir)

	c.Webhook.URL = envOr("CHANGEHUB_WEBHOOK_URL", c.Webhook.URL)
	c.Webhook.Secret = envOr("CHANGEHUB_WEBHOOK_SECRET", c.Webhook.Secret)

	c.Graph.SiteURL = envOr("CHANGEHUB_SITE_URL", c.Graph.SiteURL)
	c.Graph.ClientID = envOr("CHANGEHUB_CLIENT_ID", c.Graph.ClientID)
	c.Graph.TenantID = envOr("CHANGEHUB_TENANT_ID", c.Graph.TenantID)

	c.WhatsNew.Proxy = envOr("CHANGEHUB_PROXY", c.WhatsNew.Proxy)
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Portal.DateFilter != "" && !slices.Contains(ValidDateFilters, c.Portal.DateFilter) {
		return fmt.Errorf("%w: date filter %q (valid options: %s)",
			ErrInvalidConfig, c.Portal.DateFilter, strings.Join(ValidDateFilters, ", "))
	}

	h := c.Harvest
	if h.Tuning.MaxIdlePasses < 1 {
		return fmt.Errorf("%w: maxIdlePasses must be >= 1", ErrInvalidConfig)
	}
	if h.Tuning.MaxRetryAttempts < 1 {
		return fmt.Errorf("%w: maxRetryAttempts must be >= 1", ErrInvalidConfig)
	}
	if h.Tuning.ScrollStepPx <= 0 && (h.Tuning.ScrollStepFraction <= 0 || h.Tuning.ScrollStepFraction > 1) {
		return fmt.Errorf("%w: scrollStepFraction must be in (0, 1] when scrollStepPx is unset", ErrInvalidConfig)
	}
	if h.Tuning.TotalTimeout <= 0 {
		return fmt.Errorf("%w: totalTimeout must be positive", ErrInvalidConfig)
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"listWait", h.Timeouts.ListWait},
		{"paneOpen", h.Timeouts.PaneOpen},
		{"paneClose", h.Timeouts.PaneClose},
		{"click", h.Timeouts.Click},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%w: timeouts.%s must be positive", ErrInvalidConfig, d.name)
		}
	}
	if h.Selectors.Row == "" || h.Selectors.PaneContainer == "" {
		return fmt.Errorf("%w: row and paneContainer selectors are required", ErrInvalidConfig)
	}

	patterns := map[string]string{
		"overview":        h.TextPatterns.Overview,
		"nextSteps":       h.TextPatterns.NextSteps,
		"whatIsChanging":  h.TextPatterns.WhatIsChanging,
		"releaseContents": h.TextPatterns.ReleaseContents,
	}
	for name, p := range c.Portal.Tabs {
		patterns["tab "+name] = p
	}
	for name, p := range patterns {
		if _, err := regexp.Compile("(?i)" + p); err != nil {
			return fmt.Errorf("%w: pattern %s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
