package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/use-agent/changehub/cache"
	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/whatsnew"
)

// NewWhatsNewCmd creates the whatsnew command.
func NewWhatsNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatsnew",
		Short: "Read the public Entra what's new page",
		Long: `Whatsnew fetches the public release notes, splits them into one item per
announcement and prints them. No browser is launched unless the page turns
out to need one and --browser is given.

Examples:
  changehub whatsnew
  changehub whatsnew --month "March 2025"
  changehub whatsnew --json
  changehub whatsnew --sink`,
		Args: cobra.NoArgs,
		RunE: runWhatsNewCmd,
	}

	cmd.Flags().String("month", "", "Only items of this month, e.g. \"March 2025\"")
	cmd.Flags().BoolP("json", "j", false, "Print items as JSON")
	cmd.Flags().BoolP("sink", "s", false, "Insert the items into the whatsNew SharePoint list")
	cmd.Flags().Bool("browser", false, "Render the page in the browser if the static fetch has no content")

	return cmd
}

func runWhatsNewCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []whatsnew.Option
	if withBrowser, _ := cmd.Flags().GetBool("browser"); withBrowser {
		a, err := newApp(cfg, true)
		if err != nil {
			return err
		}
		defer a.close()
		opts = append(opts, whatsnew.WithRenderer(a.browser))
	}

	items, err := whatsnew.NewClient(cfg.WhatsNew, opts...).Get(ctx)
	if err != nil {
		return err
	}
	if month, _ := cmd.Flags().GetString("month"); month != "" {
		items = filterMonth(items, month)
	}

	if doSink, _ := cmd.Flags().GetBool("sink"); doSink {
		s := newSink(cfg, cache.New())
		if s == nil {
			return fmt.Errorf("--sink needs graph.siteUrl, graph.clientId and graph.tenantId")
		}
		rows := make([]map[string]string, len(items))
		for i, it := range items {
			rows[i] = it.Map()
		}
		res, err := s.Insert(ctx, "whatsNew", rows)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: inserted %d, skipped %d, failed %d\n",
			res.List, res.Inserted, res.Skipped, res.Failed)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	return renderMarkdown(cmd, itemsMarkdown(items))
}

func filterMonth(items []models.WhatsNewItem, month string) []models.WhatsNewItem {
	var out []models.WhatsNewItem
	for _, it := range items {
		if strings.EqualFold(it.Month, month) {
			out = append(out, it)
		}
	}
	return out
}

// itemsMarkdown lays items out grouped by month.
func itemsMarkdown(items []models.WhatsNewItem) string {
	var b strings.Builder
	month := ""
	for _, it := range items {
		if it.Month != month {
			month = it.Month
			fmt.Fprintf(&b, "# %s\n\n", month)
		}
		fmt.Fprintf(&b, "## %s\n\n", it.Title)
		var meta []string
		for _, v := range []string{it.Type, it.ServiceCategory, it.ProductCapability} {
			if v != "" {
				meta = append(meta, v)
			}
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, "*%s*\n\n", strings.Join(meta, " · "))
		}
		if it.Description != "" {
			b.WriteString(it.Description)
			b.WriteString("\n\n")
		}
	}
	if b.Len() == 0 {
		return "No items.\n"
	}
	return b.String()
}
