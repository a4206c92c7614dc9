package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/output"
	"github.com/use-agent/changehub/pipeline"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvest the portal lists once",
		Long: `Run opens the Change Management Hub in the configured browser profile,
harvests the Roadmap and Change announcements tabs and enriches every row
from its detail pane.

Examples:
  # Harvest both tabs and print a summary
  changehub run

  # Only the roadmap, last 3 months, saved to files
  changehub run --tabs roadmap --date-filter "Last 3 months" --save

  # Everything, including the release notes, copied to SharePoint
  changehub run --whats-new --sink`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	cmd.Flags().StringSlice("tabs", nil, "Tabs to harvest: roadmap, changeAnnouncements (default: both)")
	cmd.Flags().Bool("skip-portal", false, "Do not open the portal (use with --whats-new)")
	cmd.Flags().BoolP("whats-new", "w", false, "Also read the public what's new page")
	cmd.Flags().BoolP("sink", "s", false, "Insert the results into the configured SharePoint lists")
	cmd.Flags().Bool("save", false, "Write JSON files and a Markdown summary to the output directory")
	cmd.Flags().String("output-dir", "", "Override the output directory")
	cmd.Flags().String("date-filter", "", "Portal date range, e.g. \"Last 3 months\"")
	cmd.Flags().Bool("headless", false, "Run the browser headless (needs an existing sign-in)")
	cmd.Flags().BoolP("json", "j", false, "Print the full run as JSON instead of a summary")

	return cmd
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	opts, err := runOptions(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, !opts.SkipPortal)
	if err != nil {
		return err
	}
	defer a.close()

	run, runErr := a.runner.Run(ctx, opts)
	if run == nil {
		return runErr
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else if err := printSummary(cmd, run.Summary()); err != nil {
		slog.Warn("could not print summary", "error", err)
	}

	for _, f := range run.Files {
		slog.Info("file written", "path", f)
	}
	return runErr
}

// applyRunFlags lets flags override the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if cmd.Flags().Changed("date-filter") {
		cfg.Portal.DateFilter, _ = cmd.Flags().GetString("date-filter")
	}
	if dir, _ := cmd.Flags().GetString("output-dir"); dir != "" {
		cfg.Output.Dir = dir
	}
	return cfg.Validate()
}

func runOptions(cmd *cobra.Command, cfg *config.Config) (pipeline.Options, error) {
	var opts pipeline.Options
	tabs, _ := cmd.Flags().GetStringSlice("tabs")
	for _, t := range tabs {
		opts.Tabs = append(opts.Tabs, models.Tab(t))
	}
	opts.SkipPortal, _ = cmd.Flags().GetBool("skip-portal")
	opts.WhatsNew, _ = cmd.Flags().GetBool("whats-new")
	opts.Sink, _ = cmd.Flags().GetBool("sink")
	opts.Save, _ = cmd.Flags().GetBool("save")
	if !cmd.Flags().Changed("save") {
		opts.Save = cfg.Output.SaveToFile
	}

	if opts.Sink && !cfg.Graph.Enabled() {
		return opts, errors.New("--sink needs graph.siteUrl, graph.clientId and graph.tenantId")
	}
	return opts, nil
}

// printSummary renders the run summary for the terminal.
func printSummary(cmd *cobra.Command, s output.Summary) error {
	var buf bytes.Buffer
	if err := output.WriteSummary(&buf, s); err != nil {
		return err
	}
	return renderMarkdown(cmd, buf.String())
}

// renderMarkdown styles md with glamour, falling back to plain text.
func renderMarkdown(cmd *cobra.Command, md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err == nil {
		if out, err := r.Render(md); err == nil {
			md = out
		}
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), md)
	return err
}
