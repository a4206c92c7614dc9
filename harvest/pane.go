package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// errNoPane is returned when no candidate pane document is usable.
var errNoPane = errors.New("no detail pane available")

// paneHandle is a matched detail-pane document.
type paneHandle struct {
	doc     Document
	matcher string
}

// paneMatcher picks one document from the ready candidates, or nil.
// An eager matcher only ever needs one pane to decide, so it is tried on
// each pane as soon as that pane is ready.
type paneMatcher struct {
	name  string
	eager bool
	match func(ctx context.Context, h *Harvester, candidates []Document, title string) Document
}

// paneMatchers are tried in order; the first non-nil result wins. An eager
// matcher must never apply to a title that a lazy matcher listed before it
// also applies to.
var paneMatchers = []paneMatcher{
	{name: "title-exact", eager: true, match: matchTitle(func(heading, want string) bool { return heading == want })},
	{name: "title-contains", match: matchTitle(strings.Contains)},
	{name: "first-available", eager: true, match: matchFirstWhenUntitled},
	{name: "last-available", match: matchLast},
}

// matchTitle returns a matcher selecting the first candidate with a
// heading that satisfies cmp against the row title. Both sides are
// compared case-insensitively with whitespace collapsed.
func matchTitle(cmp func(heading, want string) bool) func(context.Context, *Harvester, []Document, string) Document {
	return func(ctx context.Context, h *Harvester, candidates []Document, title string) Document {
		want := normalizeText(title)
		if want == "" {
			return nil
		}
		for _, doc := range candidates {
			_, err := h.findHeading(ctx, doc, func(text string) bool {
				return cmp(normalizeText(text), want)
			})
			if err == nil {
				return doc
			}
		}
		return nil
	}
}

// matchFirstWhenUntitled takes the first candidate for rows without a title.
func matchFirstWhenUntitled(_ context.Context, _ *Harvester, candidates []Document, title string) Document {
	if normalizeText(title) != "" || len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// matchLast is the fallback; the most recently attached pane is most
// likely the one just opened.
func matchLast(_ context.Context, _ *Harvester, candidates []Document, _ string) Document {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[len(candidates)-1]
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// openPane activates the row so the host renders its detail pane. A row
// that is still selected from an earlier activation is deselected first,
// since clicking a selected row does not reopen its pane.
func (h *Harvester) openPane(ctx context.Context, host Page, list Document, row rowRef) error {
	sel := h.cfg.Selectors
	t := h.cfg.Timeouts

	el := h.locateRow(ctx, list, row)
	checks, err := el.Elements(ctx, sel.RowCheck)
	if err != nil {
		return fmt.Errorf("find activation control: %w", err)
	}
	if len(checks) == 0 {
		return fmt.Errorf("find activation control: %w", ErrNotFound)
	}
	check := checks[0]

	if state, _ := check.Attribute(ctx, "aria-checked"); state == "true" {
		h.log.Debug("row already selected, clearing", "row", row.id)
		if err := h.click(ctx, check); err != nil {
			return fmt.Errorf("deselect row: %w", err)
		}
		if err := h.clock.Sleep(ctx, t.CheckboxDelay); err != nil {
			return err
		}
	}

	if err := h.click(ctx, check); err != nil {
		return fmt.Errorf("select row: %w", err)
	}
	if err := host.WaitFor(ctx, sel.PaneContainer, Attached, t.PaneOpen); err != nil {
		return fmt.Errorf("wait for pane: %w", err)
	}
	return nil
}

// locateRow re-finds the row by its identity, since the handle captured
// during the scan may have been recycled by the list. The scanned handle
// is the fallback.
func (h *Harvester) locateRow(ctx context.Context, list Document, row rowRef) Element {
	sel := h.cfg.Selectors
	query := fmt.Sprintf("%s[%s='%d']", sel.Row, sel.RowIndexAttr, row.id)
	els, err := list.Elements(ctx, query)
	if err == nil && len(els) > 0 {
		return els[0]
	}
	return row.el
}

// click tries a normal click, then a forced one, each bounded by the
// click timeout.
func (h *Harvester) click(ctx context.Context, el Element) error {
	timeout := h.cfg.Timeouts.Click

	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := el.Click(cctx, ClickOptions{})
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	h.log.Debug("click failed, forcing", "error", err)

	cctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()
	return el.Click(cctx, ClickOptions{Force: true})
}

// matchPane walks the attached panes in order. The eager matchers run on
// each pane once it is ready and the first pane they accept is returned
// without waiting on the rest; the other matchers then choose among all
// ready panes.
func (h *Harvester) matchPane(ctx context.Context, host Page, title string, id int) (paneHandle, error) {
	containers, err := host.Elements(ctx, h.cfg.Selectors.PaneContainer)
	if err != nil {
		return paneHandle{}, fmt.Errorf("enumerate panes: %w", err)
	}

	var ready []Document
	for i, c := range containers {
		doc, ok := h.readyPane(ctx, c, i)
		if !ok {
			continue
		}
		for _, m := range paneMatchers {
			if m.eager && m.match(ctx, h, []Document{doc}, title) != nil {
				return paneHandle{doc: doc, matcher: m.name}, nil
			}
		}
		ready = append(ready, doc)
	}

	for _, m := range paneMatchers {
		if m.eager {
			continue
		}
		doc := m.match(ctx, h, ready, title)
		if doc == nil {
			continue
		}
		if m.name == "last-available" && title != "" {
			h.log.Warn("no pane heading matched row title, using most recent pane",
				"row", id, "title", title, "candidates", len(ready))
		}
		return paneHandle{doc: doc, matcher: m.name}, nil
	}
	return paneHandle{}, errNoPane
}

// readyPane returns the container's document once it has loaded. The
// progress indicator is waited out on a best-effort basis.
func (h *Harvester) readyPane(ctx context.Context, c Element, i int) (Document, bool) {
	sel := h.cfg.Selectors
	t := h.cfg.Timeouts

	doc, err := c.Frame(ctx)
	if err != nil {
		h.log.Debug("pane has no document", "pane", i, "error", err)
		return nil, false
	}
	if sel.ProgressIndicator != "" {
		if err := doc.WaitFor(ctx, sel.ProgressIndicator, Hidden, t.ProgressIndicator); err != nil {
			h.log.Debug("pane progress indicator still showing", "pane", i, "error", err)
		}
	}
	lctx, cancel := context.WithTimeout(ctx, t.PaneOpen)
	defer cancel()
	if err := doc.WaitLoad(lctx); err != nil {
		h.log.Debug("pane document not ready", "pane", i, "error", err)
		return nil, false
	}
	return doc, true
}

// closePane dismisses the open pane and waits for it to detach. It never
// fails the row: an unclosable pane is logged and the harvest moves on.
func (h *Harvester) closePane(ctx context.Context, host Page, id int) {
	sel := h.cfg.Selectors
	t := h.cfg.Timeouts

	if err := h.dismissPane(ctx, host); err != nil {
		h.log.Debug("pane dismissal failed", "row", id, "error", err)
	}
	if err := host.WaitFor(ctx, sel.PaneContainer, Detached, t.PaneClose); err == nil {
		return
	}

	h.log.Debug("pane still attached, pressing Escape", "row", id)
	if err := host.PressKey(ctx, "Escape"); err != nil {
		h.log.Debug("escape key failed", "row", id, "error", err)
	}
	if err := host.WaitFor(ctx, sel.PaneContainer, Detached, t.PaneClose); err != nil {
		h.log.Warn("detail pane did not close", "row", id, "error", err)
	}
}

// dismissPane clicks the last visible close control, or clicks outside
// the pane when there is none.
func (h *Harvester) dismissPane(ctx context.Context, host Page) error {
	sel := h.cfg.Selectors
	if sel.CloseControl != "" {
		controls, err := host.Elements(ctx, sel.CloseControl)
		if err == nil && len(controls) > 0 {
			last := controls[len(controls)-1]
			if visible, _ := last.Visible(ctx); visible {
				cctx, cancel := context.WithTimeout(ctx, h.cfg.Timeouts.ButtonClose)
				defer cancel()
				return last.Click(cctx, ClickOptions{})
			}
		}
	}
	p := h.cfg.Tuning.ClickOutside
	return host.ClickAt(ctx, p.X, p.Y)
}
