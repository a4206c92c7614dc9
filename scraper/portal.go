package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/harvest"
	"github.com/use-agent/changehub/models"
)

// DefaultTabs is the order tabs are harvested in.
var DefaultTabs = []models.Tab{models.TabRoadmap, models.TabChangeAnnouncements}

const tabSelector = `[role="tab"]`

// Session is an open Change Management Hub page. It is not safe for
// concurrent use: every operation drives the same page.
type Session struct {
	portal     config.PortalConfig
	harvestCfg config.HarvestConfig
	log        *slog.Logger

	host  harvest.Page
	list  harvest.Document
	sleep func(ctx context.Context, d time.Duration) error
	close func()
}

// OpenPortal navigates a new page to the portal and waits until the list
// frame has rendered past its splash screen.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Open page            – viewport, stealth and hijack installed
//  2. Navigate             – bounded by the navigation timeout
//  3. Attach list frame    – the list lives in its own iframe
//  4. Wait ready           – splash screen and progress dots hidden
func (b *Browser) OpenPortal(ctx context.Context, portal config.PortalConfig, hc config.HarvestConfig) (*Session, error) {
	// ── 1. Open page ─────────────────────────────────────────────────
	rp, cleanup, err := b.newPage()
	if err != nil {
		return nil, err
	}

	// ── 2. Navigate ──────────────────────────────────────────────────
	nctx, cancel := context.WithTimeout(ctx, portal.NavigationTimeout)
	defer cancel()
	if err := rp.Context(nctx).Navigate(portal.URL); err != nil {
		cleanup()
		return nil, categorizeError(err, "navigation to portal failed")
	}
	host := NewPage(rp)
	if err := host.WaitLoad(nctx); err != nil {
		cleanup()
		return nil, categorizeError(err, "portal did not finish loading")
	}
	b.log.Info("portal loaded", "url", portal.URL)

	// ── 3. Attach list frame ─────────────────────────────────────────
	list, err := attachFrame(ctx, host, portal.ListFrame, portal.GeneralWait)
	if err != nil {
		cleanup()
		return nil, err
	}

	s := b.session(host, list, portal, hc)
	s.close = cleanup

	// ── 4. Wait ready ────────────────────────────────────────────────
	s.waitReady(ctx)
	return s, nil
}

// session binds a portal page to the browser's logger.
func (b *Browser) session(host harvest.Page, list harvest.Document, portal config.PortalConfig, hc config.HarvestConfig) *Session {
	return newSession(host, list, portal, hc, b.log.With("component", "portal"))
}

func newSession(host harvest.Page, list harvest.Document, portal config.PortalConfig, hc config.HarvestConfig, log *slog.Logger) *Session {
	return &Session{
		portal:     portal,
		harvestCfg: hc,
		log:        log,
		host:       host,
		list:       list,
		sleep:      harvest.Sleep,
		close:      func() {},
	}
}

// attachFrame waits for the iframe matched by selector and returns its
// document.
func attachFrame(ctx context.Context, host harvest.Document, selector string, timeout time.Duration) (harvest.Document, error) {
	if err := host.WaitFor(ctx, selector, harvest.Attached, timeout); err != nil {
		return nil, models.NewHarvestError(models.ErrCodeListNotFound, "list frame did not attach", err)
	}
	frames, err := host.Elements(ctx, selector)
	if err != nil || len(frames) == 0 {
		return nil, models.NewHarvestError(models.ErrCodeListNotFound, "list frame disappeared", err)
	}
	doc, err := frames[0].Frame(ctx)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeListNotFound, "list frame has no content yet", err)
	}
	return doc, nil
}

// waitReady waits out the splash screen and progress dots. Neither is an
// error: both may already be gone.
func (s *Session) waitReady(ctx context.Context) {
	if s.portal.SplashScreen != "" {
		if err := s.list.WaitFor(ctx, s.portal.SplashScreen, harvest.Hidden, s.portal.SplashTimeout); err != nil {
			s.log.Debug("splash screen still showing", "error", err)
		}
	}
	if s.portal.ProgressDots != "" {
		if err := s.list.WaitFor(ctx, s.portal.ProgressDots, harvest.Hidden, s.portal.ProgressTimeout); err != nil {
			s.log.Debug("progress dots still showing", "error", err)
		}
	}
}

// SelectTab clicks the tab whose accessible name matches the tab's
// configured pattern.
func (s *Session) SelectTab(ctx context.Context, tab models.Tab) error {
	pattern, ok := s.portal.Tabs[string(tab)]
	if !ok {
		return models.NewHarvestError(models.ErrCodeTabNotFound, fmt.Sprintf("no pattern configured for tab %q", tab), nil)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return models.NewHarvestError(models.ErrCodeInvalidInput, "bad tab pattern", err)
	}

	s.waitReady(ctx)
	if err := s.list.WaitFor(ctx, tabSelector, harvest.Visible, s.portal.GeneralWait); err != nil {
		return models.NewHarvestError(models.ErrCodeTabNotFound, "no tabs rendered", err)
	}

	el, err := s.findTab(ctx, re)
	if err != nil {
		return err
	}
	if err := s.click(ctx, el); err != nil {
		return models.NewHarvestError(models.ErrCodeTabNotFound, fmt.Sprintf("could not click tab %q", tab), err)
	}
	s.log.Info("tab selected", "tab", tab)
	return s.sleep(ctx, s.portal.ShortDelay)
}

func (s *Session) findTab(ctx context.Context, re *regexp.Regexp) (harvest.Element, error) {
	tabs, err := s.list.Elements(ctx, tabSelector)
	if err != nil {
		return nil, models.NewHarvestError(models.ErrCodeTabNotFound, "could not enumerate tabs", err)
	}
	for _, el := range tabs {
		if re.MatchString(accessibleName(ctx, el)) {
			return el, nil
		}
	}
	return nil, models.NewHarvestError(models.ErrCodeTabNotFound,
		fmt.Sprintf("no tab named %s among %d tabs", re, len(tabs)), nil)
}

// accessibleName approximates the ARIA name: aria-label, else text.
func accessibleName(ctx context.Context, el harvest.Element) string {
	if label, _ := el.Attribute(ctx, "aria-label"); strings.TrimSpace(label) != "" {
		return strings.TrimSpace(label)
	}
	text, _ := el.Text(ctx)
	return strings.TrimSpace(text)
}

// ApplyDateFilter picks option from the date range menu and applies it.
func (s *Session) ApplyDateFilter(ctx context.Context, option string) error {
	p := s.portal

	// Open the menu.
	buttonSel := p.FilterButtonContainer + " button"
	if err := s.list.WaitFor(ctx, buttonSel, harvest.Visible, p.GeneralWait); err != nil {
		return fmt.Errorf("filter button: %w", err)
	}
	buttons, err := s.list.Elements(ctx, buttonSel)
	if err != nil || len(buttons) == 0 {
		return fmt.Errorf("filter button: %w", firstErr(err, harvest.ErrNotFound))
	}
	if err := s.click(ctx, buttons[0]); err != nil {
		return fmt.Errorf("open filter menu: %w", err)
	}
	if err := s.sleep(ctx, p.MenuDelay); err != nil {
		return err
	}

	// Pick the option.
	labelSel := "span" + p.RadioLabel
	if err := s.list.WaitFor(ctx, labelSel, harvest.Visible, p.ClickTimeout); err != nil {
		return fmt.Errorf("filter options: %w", err)
	}
	labels, err := s.list.Elements(ctx, labelSel)
	if err != nil {
		return fmt.Errorf("filter options: %w", err)
	}
	var choice harvest.Element
	for _, el := range labels {
		if text, _ := el.Text(ctx); strings.Contains(strings.TrimSpace(text), option) {
			choice = el
			break
		}
	}
	if choice == nil {
		return fmt.Errorf("filter option %q: %w", option, harvest.ErrNotFound)
	}
	if err := s.click(ctx, choice); err != nil {
		return fmt.Errorf("select filter option: %w", err)
	}
	if err := s.sleep(ctx, p.MenuDelay); err != nil {
		return err
	}

	// Apply, when the menu asks for it.
	applies, err := s.list.Elements(ctx, p.ApplyButton)
	if err == nil && len(applies) > 0 && !disabled(ctx, applies[0]) {
		if err := s.click(ctx, applies[0]); err != nil {
			return fmt.Errorf("apply filter: %w", err)
		}
		if err := s.sleep(ctx, p.ShortDelay); err != nil {
			return err
		}
	}
	s.log.Info("date filter applied", "filter", option)
	return nil
}

func disabled(ctx context.Context, el harvest.Element) bool {
	if v, _ := el.Attribute(ctx, "aria-disabled"); v == "true" {
		return true
	}
	class, _ := el.Attribute(ctx, "class")
	return strings.Contains(class, "is-disabled")
}

// click tries a normal click, then a forced one.
func (s *Session) click(ctx context.Context, el harvest.Element) error {
	cctx, cancel := context.WithTimeout(ctx, s.portal.ClickTimeout)
	err := el.Click(cctx, harvest.ClickOptions{})
	cancel()
	if err == nil || ctx.Err() != nil {
		return err
	}
	s.log.Debug("normal click failed, forcing", "error", err)

	cctx, cancel = context.WithTimeout(ctx, s.portal.ClickTimeout)
	defer cancel()
	return el.Click(cctx, harvest.ClickOptions{Force: true})
}

// ScrapeTabs harvests each tab in turn (DefaultTabs when none are given).
// A tab that cannot be located is left nil in the result; a harvested tab
// with no rows is an empty, non-nil slice.
//
// Setup failures and cancellation stop the run and are returned together
// with the tabs finished so far.
func (s *Session) ScrapeTabs(ctx context.Context, tabs ...models.Tab) (models.TabResults, error) {
	if len(tabs) == 0 {
		tabs = DefaultTabs
	}

	var results models.TabResults
	for _, tab := range tabs {
		log := s.log.With("tab", tab)

		if err := s.SelectTab(ctx, tab); err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			log.Warn("could not locate tab, skipping", "error", err)
			continue
		}

		if s.portal.DateFilter != "" {
			if err := s.ApplyDateFilter(ctx, s.portal.DateFilter); err != nil {
				if ctx.Err() != nil {
					return results, ctx.Err()
				}
				log.Warn("could not set date range filter, continuing anyway", "error", err)
			}
		}

		h, err := harvest.New(s.harvestCfg, harvest.WithLogger(log))
		if err != nil {
			return results, models.NewHarvestError(models.ErrCodeInvalidInput, "invalid harvest configuration", err)
		}
		records, err := h.Harvest(ctx, s.host, s.list)
		if err != nil {
			if len(records) > 0 {
				results.Set(tab, records)
			}
			return results, err
		}
		if records == nil {
			records = []models.Record{}
		}
		results.Set(tab, records)
		log.Info("tab harvested", "records", len(records))
	}
	return results, nil
}

// Close closes the portal page.
func (s *Session) Close() {
	s.close()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
