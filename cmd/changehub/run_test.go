package main

import (
	"errors"
	"testing"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

func TestNewRunCmdFlags(t *testing.T) {
	t.Parallel()

	cmd := NewRunCmd()
	flagsWithShort := map[string]string{
		"whats-new": "w",
		"sink":      "s",
		"json":      "j",
	}
	for flag, shorthand := range flagsWithShort {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			t.Errorf("expected flag %q to exist", flag)
			continue
		}
		if f.Shorthand != shorthand {
			t.Errorf("flag %q: expected shorthand %q, got %q", flag, shorthand, f.Shorthand)
		}
	}
	for _, flag := range []string{"tabs", "skip-portal", "save", "output-dir", "date-filter", "headless"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected flag %q to exist", flag)
		}
	}
}

func TestRunOptions(t *testing.T) {
	t.Parallel()

	t.Run("flags map onto options", func(t *testing.T) {
		t.Parallel()
		cmd := NewRunCmd()
		_ = cmd.Flags().Set("tabs", "roadmap,changeAnnouncements")
		_ = cmd.Flags().Set("whats-new", "true")
		_ = cmd.Flags().Set("save", "false")

		cfg := config.Defaults()
		cfg.Output.SaveToFile = true
		opts, err := runOptions(cmd, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if len(opts.Tabs) != 2 || opts.Tabs[0] != models.TabRoadmap || opts.Tabs[1] != models.TabChangeAnnouncements {
			t.Errorf("Tabs = %v", opts.Tabs)
		}
		if !opts.WhatsNew {
			t.Error("WhatsNew not set")
		}
		if opts.Save {
			t.Error("explicit --save=false should win over the config")
		}
	})

	t.Run("save defaults from config", func(t *testing.T) {
		t.Parallel()
		cfg := config.Defaults()
		cfg.Output.SaveToFile = true
		opts, err := runOptions(NewRunCmd(), cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !opts.Save {
			t.Error("Save should follow output.saveToFile")
		}
	})

	t.Run("sink needs graph settings", func(t *testing.T) {
		t.Parallel()
		cmd := NewRunCmd()
		_ = cmd.Flags().Set("sink", "true")
		if _, err := runOptions(cmd, config.Defaults()); err == nil {
			t.Error("expected an error without graph settings")
		}
	})
}

func TestApplyRunFlags(t *testing.T) {
	t.Parallel()

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()
		cmd := NewRunCmd()
		_ = cmd.Flags().Set("headless", "true")
		_ = cmd.Flags().Set("date-filter", "Last 3 months")
		_ = cmd.Flags().Set("output-dir", "/tmp/runs")

		cfg := config.Defaults()
		if err := applyRunFlags(cmd, cfg); err != nil {
			t.Fatal(err)
		}
		if !cfg.Browser.Headless {
			t.Error("headless not applied")
		}
		if cfg.Portal.DateFilter != "Last 3 months" {
			t.Errorf("DateFilter = %q", cfg.Portal.DateFilter)
		}
		if cfg.Output.Dir != "/tmp/runs" {
			t.Errorf("Output.Dir = %q", cfg.Output.Dir)
		}
	})

	t.Run("invalid date filter", func(t *testing.T) {
		t.Parallel()
		cmd := NewRunCmd()
		_ = cmd.Flags().Set("date-filter", "Last week")
		err := applyRunFlags(cmd, config.Defaults())
		if !errors.Is(err, config.ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})
}
