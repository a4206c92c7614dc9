// Package pipeline runs a complete harvest: the portal tabs and the
// what's-new page, then files, SharePoint lists and the completion webhook.
// The CLI and the HTTP API share it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/changehub/cache"
	"github.com/use-agent/changehub/config"
	"github.com/use-agent/changehub/models"
	"github.com/use-agent/changehub/output"
	"github.com/use-agent/changehub/sink"
	"github.com/use-agent/changehub/webhook"
)

// maxRuns bounds the run history kept for status queries.
const maxRuns = 50

// TabHarvester harvests portal tabs in one browser session.
type TabHarvester interface {
	HarvestTabs(ctx context.Context, tabs ...models.Tab) (models.TabResults, error)
}

// WhatsNewSource reads the release-notes page. *whatsnew.Client satisfies it.
type WhatsNewSource interface {
	Get(ctx context.Context) ([]models.WhatsNewItem, error)
}

// Inserter writes rows into a destination list. *sink.Sink satisfies it.
type Inserter interface {
	Insert(ctx context.Context, source string, rows []map[string]string) (sink.Result, error)
}

// Options selects what a run does.
type Options struct {
	Tabs       []models.Tab `json:"tabs,omitempty"`
	SkipPortal bool         `json:"skipPortal,omitempty"`
	WhatsNew   bool         `json:"whatsNew,omitempty"`
	Sink       bool         `json:"sink,omitempty"`
	Save       bool         `json:"save,omitempty"`
}

// Status is a run's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is the record of one pipeline execution.
type Run struct {
	ID       string                `json:"id"`
	Status   Status                `json:"status"`
	Options  Options               `json:"options"`
	Started  time.Time             `json:"started"`
	Finished *time.Time            `json:"finished,omitempty"`
	Results  models.TabResults     `json:"results"`
	WhatsNew []models.WhatsNewItem `json:"whatsNew,omitempty"`
	Sinks    []sink.Result         `json:"sinks,omitempty"`
	Files    []string              `json:"files,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
	Error    *models.ErrorDetail   `json:"error,omitempty"`

	err  error
	done chan struct{}
}

// Err returns the error that failed the run.
func (r *Run) Err() error { return r.err }

// Summary condenses a finished run for reports.
func (r *Run) Summary() output.Summary {
	s := output.Summary{
		RunID:    r.ID,
		Started:  r.Started,
		Finished: r.Started,
		Results:  r.Results,
		WhatsNew: -1,
		Sinks:    r.Sinks,
		Err:      r.err,
	}
	if r.Finished != nil {
		s.Finished = *r.Finished
	}
	if r.Options.WhatsNew {
		s.WhatsNew = len(r.WhatsNew)
	}
	return s
}

// Runner executes runs one at a time: the portal is a single browser
// session, so a second run is refused while one is active.
type Runner struct {
	cfg      *config.Config
	portal   TabHarvester
	whatsNew WhatsNewSource
	sink     Inserter
	resolver *cache.Resolver
	notifier *webhook.Notifier
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active string
	runs   map[string]*Run
	order  []string
}

// Option configures a Runner.
type Option func(*Runner)

// WithWhatsNew enables the release-notes source.
func WithWhatsNew(src WhatsNewSource) Option {
	return func(r *Runner) { r.whatsNew = src }
}

// WithSink enables list insertion. The resolver is reset at the start of
// every run.
func WithSink(ins Inserter, resolver *cache.Resolver) Option {
	return func(r *Runner) {
		r.sink = ins
		r.resolver = resolver
	}
}

// WithNotifier sends completion events.
func WithNotifier(n *webhook.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithLogger sets the runner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// New creates a Runner. portal may be nil when only the what's-new page
// is read.
func New(cfg *config.Config, portal TabHarvester, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		portal: portal,
		log:    slog.Default(),
		now:    time.Now,
		runs:   make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins a run in the background and returns its initial state.
// ctx bounds the run itself, so callers answering a request pass a
// context that outlives it. A run already in progress yields a
// HARVEST_IN_PROGRESS error.
func (r *Runner) Start(ctx context.Context, opts Options) (*Run, error) {
	if err := r.validate(opts); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.active != "" {
		active := r.active
		r.mu.Unlock()
		return nil, models.NewHarvestError(models.ErrCodeBusy, fmt.Sprintf("run %s is still in progress", active), nil)
	}
	run := &Run{
		ID:      uuid.NewString(),
		Status:  StatusRunning,
		Options: opts,
		Started: r.now(),
		done:    make(chan struct{}),
	}
	r.active = run.ID
	r.remember(run)
	snapshot := run.snapshot()
	r.mu.Unlock()

	go r.execute(ctx, run)
	return snapshot, nil
}

// Run executes a run and waits for it to finish. The returned error is
// the run's own failure.
func (r *Runner) Run(ctx context.Context, opts Options) (*Run, error) {
	started, err := r.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	<-started.done

	run, _ := r.Get(started.ID)
	return run, run.err
}

// Get returns a copy of the run with the given ID.
func (r *Runner) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, false
	}
	return run.snapshot(), true
}

// Active returns the ID of the run in progress, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

func (r *Runner) validate(opts Options) error {
	if !opts.SkipPortal && r.portal == nil {
		return models.NewHarvestError(models.ErrCodeInvalidInput, "no browser available for the portal", nil)
	}
	if opts.SkipPortal && !opts.WhatsNew {
		return models.NewHarvestError(models.ErrCodeInvalidInput, "nothing to do: portal skipped and what's new not requested", nil)
	}
	if opts.WhatsNew && r.whatsNew == nil {
		return models.NewHarvestError(models.ErrCodeInvalidInput, "what's new source not configured", nil)
	}
	for _, tab := range opts.Tabs {
		if tab != models.TabRoadmap && tab != models.TabChangeAnnouncements {
			return models.NewHarvestError(models.ErrCodeInvalidInput, fmt.Sprintf("unknown tab %q", tab), nil)
		}
	}
	return nil
}

// remember stores run, dropping the oldest finished runs beyond maxRuns.
// Callers hold r.mu.
func (r *Runner) remember(run *Run) {
	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	for len(r.order) > maxRuns {
		oldest := r.order[0]
		if oldest == r.active {
			break
		}
		delete(r.runs, oldest)
		r.order = r.order[1:]
	}
}

func (run *Run) snapshot() *Run {
	cp := *run
	cp.WhatsNew = slices.Clone(run.WhatsNew)
	cp.Sinks = slices.Clone(run.Sinks)
	cp.Files = slices.Clone(run.Files)
	cp.Warnings = slices.Clone(run.Warnings)
	return &cp
}

// outcome accumulates a run's results outside the lock.
type outcome struct {
	results  models.TabResults
	whatsNew []models.WhatsNewItem
	wnErr    error
	sinks    []sink.Result
	files    []string
	warnings []string
	err      error
}

func (o *outcome) warn(log *slog.Logger, msg string, err error) {
	log.Warn(msg, "error", err)
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %v", msg, err))
}

// execute performs the run.
//
// Stages (numbered steps match the inline comments):
//
//  1. Reset        – per-run identifier cache
//  2. Gather       – portal tabs and what's new, concurrently
//  3. Save         – JSON files per tab and for what's new
//  4. Sink         – SharePoint lists, skipped when gathering failed
//  5. Finish       – status, summary file, webhook
func (r *Runner) execute(ctx context.Context, run *Run) {
	log := r.log.With("run_id", run.ID)
	opts := run.Options
	var out outcome

	// ── 1. Reset ─────────────────────────────────────────────────────
	if r.resolver != nil {
		r.resolver.Reset()
	}

	// ── 2. Gather ────────────────────────────────────────────────────
	var g errgroup.Group
	if !opts.SkipPortal {
		g.Go(func() error {
			res, err := r.portal.HarvestTabs(ctx, opts.Tabs...)
			out.results = res
			return err
		})
	}
	if opts.WhatsNew {
		g.Go(func() error {
			items, err := r.whatsNew.Get(ctx)
			out.whatsNew, out.wnErr = items, err
			return nil
		})
	}
	out.err = g.Wait()
	if out.err != nil {
		log.Error("harvest failed", "error", out.err)
	}
	if out.wnErr != nil {
		out.warn(log, "what's new page could not be read", out.wnErr)
	}

	// ── 3. Save ──────────────────────────────────────────────────────
	ts := output.Timestamp(run.Started)
	if opts.Save {
		r.save(log, &out, ts)
	}

	// ── 4. Sink ──────────────────────────────────────────────────────
	if opts.Sink && out.err == nil {
		if r.sink == nil {
			out.warn(log, "SharePoint sink skipped", fmt.Errorf("graph site, client or tenant not configured"))
		} else {
			r.insert(ctx, log, &out)
		}
	}

	// ── 5. Finish ────────────────────────────────────────────────────
	r.finish(log, run, &out, ts)
}

func (r *Runner) save(log *slog.Logger, out *outcome, ts string) {
	dir := r.cfg.Output.Dir
	paths, err := output.SaveTabs(dir, out.results, ts)
	out.files = append(out.files, paths...)
	if err != nil {
		out.warn(log, "could not save tab results", err)
	}
	if out.whatsNew != nil {
		path, err := output.SaveJSON(dir, output.WhatsNewPrefix, ts, out.whatsNew)
		if err != nil {
			out.warn(log, "could not save what's new items", err)
		} else {
			out.files = append(out.files, path)
		}
	}
	for _, p := range out.files {
		log.Info("saved", "path", p)
	}
}

type batch struct {
	source string
	rows   []map[string]string
}

// insert writes every non-empty source to its list. Lists are independent,
// so they are written concurrently; the shared Graph rate limit still
// paces the requests.
func (r *Runner) insert(ctx context.Context, log *slog.Logger, out *outcome) {
	var batches []batch
	for _, tab := range []models.Tab{models.TabRoadmap, models.TabChangeAnnouncements} {
		if records := out.results.ForTab(tab); len(records) > 0 {
			rows := make([]map[string]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, rec.Map())
			}
			batches = append(batches, batch{string(tab), rows})
		}
	}
	if len(out.whatsNew) > 0 {
		rows := make([]map[string]string, 0, len(out.whatsNew))
		for _, it := range out.whatsNew {
			rows = append(rows, it.Map())
		}
		batches = append(batches, batch{"whatsNew", rows})
	}

	results := make([]sink.Result, len(batches))
	errs := make([]error, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)
	for i, b := range batches {
		g.Go(func() error {
			results[i], errs[i] = r.sink.Insert(gctx, b.source, b.rows)
			return nil
		})
	}
	_ = g.Wait()

	for i, b := range batches {
		if errs[i] != nil {
			out.warn(log.With("source", b.source), "list insertion failed", errs[i])
		}
		out.sinks = append(out.sinks, results[i])
	}
}

func (r *Runner) finish(log *slog.Logger, run *Run, out *outcome, ts string) {
	finished := r.now()

	summary := output.Summary{
		RunID:    run.ID,
		Started:  run.Started,
		Finished: finished,
		Results:  out.results,
		WhatsNew: -1,
		Sinks:    out.sinks,
		Err:      out.err,
	}
	if run.Options.WhatsNew && out.wnErr == nil {
		summary.WhatsNew = len(out.whatsNew)
	}
	if run.Options.Save {
		if path, err := output.SaveSummary(r.cfg.Output.Dir, summary, ts); err != nil {
			out.warn(log, "could not save run summary", err)
		} else {
			out.files = append(out.files, path)
		}
	}

	r.mu.Lock()
	run.Finished = &finished
	run.Results = out.results
	run.WhatsNew = out.whatsNew
	run.Sinks = out.sinks
	run.Files = out.files
	run.Warnings = out.warnings
	run.err = out.err
	if out.err != nil {
		run.Status = StatusFailed
		run.Error = models.AsHarvestError(out.err).ToDetail()
	} else {
		run.Status = StatusCompleted
	}
	r.active = ""
	// Queue the event before waking waiters so they can wait for delivery.
	r.notifier.Notify(r.event(run))
	close(run.done)
	r.mu.Unlock()

	log.Info("run finished",
		"status", run.Status,
		"roadmap", len(out.results.Roadmap),
		"change_announcements", len(out.results.ChangeAnnouncements),
		"whats_new", len(out.whatsNew),
		"elapsed", finished.Sub(run.Started).Round(time.Millisecond),
	)
}

// event builds the webhook payload. Callers hold r.mu.
func (r *Runner) event(run *Run) *webhook.Event {
	data := map[string]any{
		"roadmap":             len(run.Results.Roadmap),
		"changeAnnouncements": len(run.Results.ChangeAnnouncements),
		"whatsNew":            len(run.WhatsNew),
		"sinks":               run.Sinks,
		"files":               run.Files,
	}
	typ := webhook.EventCompleted
	if run.Error != nil {
		typ = webhook.EventFailed
		data["error"] = run.Error
	}
	return webhook.NewEvent(typ, run.ID, data)
}
