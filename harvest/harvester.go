// Package harvest collects every row of a virtualized list by scrolling it
// pass by pass, and enriches each row with text from its detail pane.
//
// The harvester is driver-agnostic: it talks to the browser only through
// the Page, Document and Element interfaces, which the scraper package
// implements on top of Rod.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
)

// Clock abstracts time so tests can run the loop without real delays.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d, returning early with ctx.Err() on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error { return Sleep(ctx, d) }

// Sleep pauses for d, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Harvester runs harvests with a fixed configuration. It holds no
// per-run state, so one Harvester can harvest several tabs in turn.
type Harvester struct {
	cfg      config.HarvestConfig
	log      *slog.Logger
	clock    Clock
	sections []section
}

// Option configures a Harvester.
type Option func(*Harvester)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Harvester) { h.log = l }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(h *Harvester) { h.clock = c }
}

// New creates a Harvester. It fails only when a section label pattern
// does not compile.
func New(cfg config.HarvestConfig, opts ...Option) (*Harvester, error) {
	sections, err := buildSections(cfg.TextPatterns)
	if err != nil {
		return nil, err
	}
	h := &Harvester{
		cfg:      cfg,
		log:      slog.Default(),
		clock:    realClock{},
		sections: sections,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// session is the mutable state of one harvest. Identities are marked
// seen in the same step that appends their record.
type session struct {
	seen       map[int]struct{}
	records    []models.Record
	idlePasses int
	passes     int
	start      time.Time
}

func newSession(start time.Time) *session {
	return &session{seen: make(map[int]struct{}), start: start}
}

func (s *session) add(rec models.Record) {
	s.seen[rec.Identity] = struct{}{}
	s.records = append(s.records, rec)
}

// fallbackViewportHeight sizes the scroll step when the container could
// not be measured.
const fallbackViewportHeight = 1080

// rowRef is a row queued for extraction during a scan.
type rowRef struct {
	id int
	el Element
}

// Harvest scrolls list from the top until no new rows appear at the
// bottom, returning one record per distinct row in discovery order.
//
// host is the page that renders detail panes; list is the document that
// holds the virtualized list (often an iframe of host).
//
// Row-level failures never fail the harvest. The returned error is a
// *models.HarvestError when the list never appears, or ctx.Err() when ctx
// is cancelled, in which case the records gathered so far are returned
// alongside it. Exceeding the total timeout is not an error.
func (h *Harvester) Harvest(ctx context.Context, host Page, list Document) ([]models.Record, error) {
	sel := h.cfg.Selectors
	tune := h.cfg.Tuning

	// 1. Wait for the list to render.
	if sel.List != "" {
		if err := list.WaitFor(ctx, sel.List, Attached, h.cfg.Timeouts.ListWait); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, models.NewHarvestError(models.ErrCodeListNotFound,
				fmt.Sprintf("list %q did not appear", sel.List), err)
		}
	}

	// 2. Start from the top so every row passes through the viewport.
	s := newSession(h.clock.Now())
	if err := list.ScrollToTop(ctx, sel.ScrollContainer); err != nil {
		h.log.Warn("could not reset scroll position", "error", err)
	}
	if err := h.clock.Sleep(ctx, tune.PassDelay); err != nil {
		return s.records, err
	}

	// 3. Scan, extract, measure, scroll until idle at the bottom.
	for {
		if elapsed := h.clock.Now().Sub(s.start); elapsed > tune.TotalTimeout {
			h.log.Warn("harvest timed out, returning partial results",
				"elapsed", elapsed, "records", len(s.records))
			break
		}
		if err := ctx.Err(); err != nil {
			return s.records, err
		}
		s.passes++

		queue := h.scan(ctx, list, s)
		for _, row := range queue {
			if err := ctx.Err(); err != nil {
				return s.records, err
			}
			s.add(h.processRow(ctx, host, list, row))
		}

		if len(queue) > 0 {
			s.idlePasses = 0
		} else {
			s.idlePasses++
		}

		m, err := list.ScrollMetrics(ctx, sel.ScrollContainer)
		atBottom := true
		if err != nil {
			h.log.Warn("could not measure scroll position", "error", err)
		} else {
			atBottom = m.AtBottom()
		}

		h.log.Debug("pass complete",
			"pass", s.passes,
			"new", len(queue),
			"records", len(s.records),
			"idle", s.idlePasses,
			"scrollTop", m.ScrollTop,
			"atBottom", atBottom,
		)

		if atBottom && s.idlePasses >= tune.MaxIdlePasses {
			break
		}

		if err := list.ScrollBy(ctx, sel.ScrollContainer, h.scrollStep(m)); err != nil {
			h.log.Warn("scroll failed", "error", err)
		}
		if err := h.clock.Sleep(ctx, tune.PassDelay); err != nil {
			return s.records, err
		}
	}

	h.log.Info("harvest complete",
		"records", len(s.records),
		"passes", s.passes,
		"duration", h.clock.Now().Sub(s.start),
	)
	return s.records, nil
}

// scan returns the rendered rows whose identities are new, in row order.
func (h *Harvester) scan(ctx context.Context, list Document, s *session) []rowRef {
	rows, err := list.Elements(ctx, h.cfg.Selectors.Row)
	if err != nil {
		h.log.Warn("could not enumerate rows", "error", err)
		return nil
	}

	var queue []rowRef
	queued := make(map[int]struct{})
	for _, el := range rows {
		id, ok := h.resolveIdentity(ctx, el)
		if !ok {
			continue
		}
		if _, dup := s.seen[id]; dup {
			continue
		}
		if _, dup := queued[id]; dup {
			continue
		}
		queued[id] = struct{}{}
		queue = append(queue, rowRef{id: id, el: el})
	}
	return queue
}

// processRow snapshots the row and enriches it under the retry policy.
// It always yields a record.
func (h *Harvester) processRow(ctx context.Context, host Page, list Document, row rowRef) models.Record {
	raw, title := h.snapshot(ctx, row.el, row.id)

	var d models.Details
	st := RetryState{Attempt: 1, MaxAttempts: h.cfg.Tuning.MaxRetryAttempts}
	for {
		var err error
		d, err = h.enrich(ctx, host, list, row, title)
		if err != nil {
			h.log.Warn("enrichment failed", "row", row.id, "attempt", st.Attempt, "error", err)
		}
		if ctx.Err() != nil || !ShouldRetry(st, d) {
			break
		}
		h.log.Warn("empty description, retrying", "row", row.id, "attempt", st.Attempt)
		st.Attempt++
	}

	h.log.Debug("row harvested", "row", row.id, "title", title, "attempts", st.Attempt)
	return models.NewRecord(raw, d)
}

// enrich runs one open, match, extract and close cycle. The pane is
// closed on every path, including a failed open.
func (h *Harvester) enrich(ctx context.Context, host Page, list Document, row rowRef, title string) (models.Details, error) {
	defer h.closePane(ctx, host, row.id)

	if err := h.openPane(ctx, host, list, row); err != nil {
		return models.Details{}, err
	}
	pane, err := h.matchPane(ctx, host, title, row.id)
	if err != nil {
		return models.Details{}, err
	}
	h.log.Debug("pane matched", "row", row.id, "matcher", pane.matcher)
	return h.extractDetails(ctx, pane.doc, row.id), nil
}

// scrollStep is the fixed pixel step, or a fraction of the viewport when
// no fixed step is configured.
func (h *Harvester) scrollStep(m ScrollMetrics) float64 {
	t := h.cfg.Tuning
	if t.ScrollStepPx > 0 {
		return float64(t.ScrollStepPx)
	}
	if m.ClientHeight > 0 {
		return t.ScrollStepFraction * m.ClientHeight
	}
	return t.ScrollStepFraction * fallbackViewportHeight
}
