package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/changehub/config"
)

var (
	errWaitTimeout = errors.New("wait timed out")
	errGone        = errors.New("document detached")
)

// --- clock ---

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

// --- HTML documents (detail panes) ---

// htmlDoc is a static document parsed with goquery.
type htmlDoc struct {
	root     *goquery.Document
	detached bool
	loads    int
}

func newHTMLDoc(t testing.TB, html string) *htmlDoc {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return &htmlDoc{root: doc}
}

func wrapSelection(s *goquery.Selection) []Element {
	out := make([]Element, 0, s.Length())
	for i := range s.Length() {
		out = append(out, htmlElement{s: s.Eq(i)})
	}
	return out
}

func (d *htmlDoc) Elements(_ context.Context, selector string) ([]Element, error) {
	if d.detached {
		return nil, errGone
	}
	return wrapSelection(d.root.Find(selector)), nil
}

func (d *htmlDoc) WaitFor(_ context.Context, selector string, state State, _ time.Duration) error {
	n := d.root.Find(selector).Length()
	switch state {
	case Attached, Visible:
		if n == 0 {
			return errWaitTimeout
		}
	case Detached, Hidden:
		if n > 0 {
			return errWaitTimeout
		}
	}
	return nil
}

func (d *htmlDoc) WaitLoad(context.Context) error {
	d.loads++
	if d.detached {
		return errGone
	}
	return nil
}

func (d *htmlDoc) Detached(context.Context) bool { return d.detached }

func (d *htmlDoc) ScrollMetrics(context.Context, string) (ScrollMetrics, error) {
	return ScrollMetrics{}, nil
}
func (d *htmlDoc) ScrollBy(context.Context, string, float64) error { return nil }
func (d *htmlDoc) ScrollToTop(context.Context, string) error       { return nil }

type htmlElement struct {
	s *goquery.Selection
}

func (e htmlElement) Attribute(_ context.Context, name string) (string, error) {
	v, _ := e.s.Attr(name)
	return v, nil
}

func (e htmlElement) Text(context.Context) (string, error)        { return e.s.Text(), nil }
func (e htmlElement) Click(context.Context, ClickOptions) error   { return nil }
func (e htmlElement) Visible(context.Context) (bool, error)       { return true, nil }
func (e htmlElement) Frame(context.Context) (Document, error)     { return nil, ErrNotFound }
func (e htmlElement) Elements(_ context.Context, sel string) ([]Element, error) {
	return wrapSelection(e.s.Find(sel)), nil
}

func (e htmlElement) Parent(context.Context) (Element, error) {
	p := e.s.Parent()
	if p.Length() == 0 {
		return nil, ErrNotFound
	}
	return htmlElement{s: p}, nil
}

func (e htmlElement) NextSibling(_ context.Context, tag string) (Element, error) {
	n := e.s.NextAllFiltered(tag).First()
	if n.Length() == 0 {
		return nil, ErrNotFound
	}
	return htmlElement{s: n}, nil
}

// paneHTML renders a roadmap-style detail pane.
func paneHTML(title, description string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<div><h3>%s</h3></div>", title)
	b.WriteString("<div><h3>Overview</h3><span>  Generally available  </span></div>")
	fmt.Fprintf(&b, `<div><h3>Next steps</h3><a href="https://learn.example.com/%s">Learn more</a></div>`,
		strings.ReplaceAll(strings.ToLower(title), " ", "-"))
	if description != "" {
		fmt.Fprintf(&b, "<div><h3>What is changing</h3><span> %s </span></div>", description)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// --- base element for fakes that only implement a few methods ---

type stubElement struct{}

func (stubElement) Attribute(context.Context, string) (string, error) { return "", nil }
func (stubElement) Text(context.Context) (string, error)              { return "", nil }
func (stubElement) Click(context.Context, ClickOptions) error         { return nil }
func (stubElement) Visible(context.Context) (bool, error)             { return true, nil }
func (stubElement) Elements(context.Context, string) ([]Element, error) {
	return nil, nil
}
func (stubElement) Parent(context.Context) (Element, error) { return nil, ErrNotFound }
func (stubElement) NextSibling(context.Context, string) (Element, error) {
	return nil, ErrNotFound
}
func (stubElement) Frame(context.Context) (Document, error) { return nil, ErrNotFound }

// --- virtualized list ---

type fakeRow struct {
	id      int
	title   string
	cells   [][2]string // key, text
	checked bool

	// noCheck hides the activation checkbox; noPane makes activation
	// open nothing.
	noCheck bool
	noPane  bool
}

// fakeList renders only the rows intersecting its viewport.
type fakeList struct {
	rows         []*fakeRow
	rowHeight    float64
	clientHeight float64
	top          float64
	missing      bool

	// rewindOn scrolls back to the top on the given ScrollBy call (1-based).
	rewindOn int

	host      *fakeHost
	scrolls   int
	measures  int
	positions []float64
}

func newFakeList(n int, rowHeight, clientHeight float64) *fakeList {
	l := &fakeList{rowHeight: rowHeight, clientHeight: clientHeight}
	for i := range n {
		l.rows = append(l.rows, &fakeRow{
			id:    i,
			title: fmt.Sprintf("Item %d", i),
			cells: [][2]string{
				{"title", fmt.Sprintf(" Item %d ", i)},
				{"changeEntityCategory", " Feature "},
				{"", "extra"},
			},
		})
	}
	return l
}

func (l *fakeList) maxScroll() float64 {
	return max(0, float64(len(l.rows))*l.rowHeight-l.clientHeight)
}

func (l *fakeList) rendered() []*fakeRow {
	var out []*fakeRow
	for i, r := range l.rows {
		top := float64(i) * l.rowHeight
		if top < l.top+l.clientHeight && top+l.rowHeight > l.top {
			out = append(out, r)
		}
	}
	return out
}

func (l *fakeList) Elements(_ context.Context, selector string) ([]Element, error) {
	var out []Element
	for _, r := range l.rendered() {
		if strings.Contains(selector, "[") && !strings.Contains(selector, "'"+strconv.Itoa(r.id)+"'") {
			continue
		}
		out = append(out, &fakeRowElement{row: r, list: l})
	}
	return out, nil
}

func (l *fakeList) WaitFor(context.Context, string, State, time.Duration) error {
	if l.missing {
		return errWaitTimeout
	}
	return nil
}

func (l *fakeList) WaitLoad(context.Context) error { return nil }
func (l *fakeList) Detached(context.Context) bool  { return false }

func (l *fakeList) ScrollMetrics(context.Context, string) (ScrollMetrics, error) {
	l.measures++
	return ScrollMetrics{
		ScrollTop:    l.top,
		ScrollHeight: float64(len(l.rows)) * l.rowHeight,
		ClientHeight: l.clientHeight,
	}, nil
}

func (l *fakeList) ScrollBy(_ context.Context, _ string, dy float64) error {
	l.scrolls++
	l.positions = append(l.positions, dy)
	if l.rewindOn > 0 && l.scrolls == l.rewindOn {
		l.top = 0
		return nil
	}
	l.top = min(l.maxScroll(), max(0, l.top+dy))
	return nil
}

func (l *fakeList) ScrollToTop(context.Context, string) error {
	l.top = 0
	return nil
}

type fakeRowElement struct {
	stubElement
	row  *fakeRow
	list *fakeList
}

func (e *fakeRowElement) Attribute(_ context.Context, name string) (string, error) {
	switch name {
	case "data-item-index":
		return strconv.Itoa(e.row.id), nil
	case "id":
		return "row-" + strconv.Itoa(e.row.id), nil
	}
	return "", nil
}

func (e *fakeRowElement) Elements(_ context.Context, selector string) ([]Element, error) {
	if selector == `div[role="checkbox"]` {
		if e.row.noCheck {
			return nil, nil
		}
		return []Element{&fakeCheckbox{row: e.row, host: e.list.host}}, nil
	}
	out := make([]Element, 0, len(e.row.cells))
	for _, c := range e.row.cells {
		out = append(out, fakeCell{key: c[0], text: c[1]})
	}
	return out, nil
}

type fakeCell struct {
	stubElement
	key, text string
}

func (c fakeCell) Attribute(context.Context, string) (string, error) { return c.key, nil }
func (c fakeCell) Text(context.Context) (string, error)              { return c.text, nil }

type fakeCheckbox struct {
	stubElement
	row  *fakeRow
	host *fakeHost
}

func (c *fakeCheckbox) Attribute(_ context.Context, name string) (string, error) {
	if name == "aria-checked" {
		return strconv.FormatBool(c.row.checked), nil
	}
	return "", nil
}

func (c *fakeCheckbox) Click(context.Context, ClickOptions) error {
	c.row.checked = !c.row.checked
	if c.row.checked && !c.row.noPane {
		c.host.open(c.row)
	}
	return nil
}

// --- host page ---

type fakeHost struct {
	t     testing.TB
	clock *fakeClock

	panes []*htmlDoc

	// describe returns the description for a row's n-th open (1-based).
	describe func(row *fakeRow, open int) string
	// openCost advances the clock on every pane open.
	openCost time.Duration
	// sticky panes ignore the close control and outside clicks.
	sticky bool
	// noCloseControl hides the close button.
	noCloseControl bool

	opens        map[int]int
	clickOutside int
	escapes      int
}

func newFakeHost(t testing.TB, clock *fakeClock) *fakeHost {
	return &fakeHost{
		t:     t,
		clock: clock,
		opens: make(map[int]int),
		describe: func(r *fakeRow, _ int) string {
			return "Details for " + r.title
		},
	}
}

func (h *fakeHost) open(r *fakeRow) {
	h.opens[r.id]++
	h.clock.now = h.clock.now.Add(h.openCost)
	h.panes = append(h.panes, newHTMLDoc(h.t, paneHTML(r.title, h.describe(r, h.opens[r.id]))))
}

func (h *fakeHost) closeAll() {
	for _, p := range h.panes {
		p.detached = true
	}
	h.panes = nil
}

func (h *fakeHost) Elements(_ context.Context, selector string) ([]Element, error) {
	switch selector {
	case `button[aria-label="Close"]`:
		if len(h.panes) == 0 {
			return nil, nil
		}
		return []Element{&fakeCloseButton{host: h, visible: !h.noCloseControl}}, nil
	default:
		out := make([]Element, 0, len(h.panes))
		for _, p := range h.panes {
			out = append(out, fakePaneContainer{doc: p})
		}
		return out, nil
	}
}

func (h *fakeHost) WaitFor(_ context.Context, _ string, state State, _ time.Duration) error {
	switch state {
	case Attached, Visible:
		if len(h.panes) == 0 {
			return errWaitTimeout
		}
	case Detached, Hidden:
		if len(h.panes) > 0 {
			return errWaitTimeout
		}
	}
	return nil
}

func (h *fakeHost) WaitLoad(context.Context) error { return nil }
func (h *fakeHost) Detached(context.Context) bool  { return false }
func (h *fakeHost) ScrollMetrics(context.Context, string) (ScrollMetrics, error) {
	return ScrollMetrics{}, nil
}
func (h *fakeHost) ScrollBy(context.Context, string, float64) error { return nil }
func (h *fakeHost) ScrollToTop(context.Context, string) error       { return nil }

func (h *fakeHost) ClickAt(context.Context, float64, float64) error {
	h.clickOutside++
	if !h.sticky {
		h.closeAll()
	}
	return nil
}

func (h *fakeHost) PressKey(_ context.Context, key string) error {
	if key == "Escape" {
		h.escapes++
		h.closeAll()
	}
	return nil
}

func (h *fakeHost) totalOpens() int {
	n := 0
	for _, v := range h.opens {
		n += v
	}
	return n
}

type fakePaneContainer struct {
	stubElement
	doc *htmlDoc
}

func (c fakePaneContainer) Frame(context.Context) (Document, error) { return c.doc, nil }

type fakeCloseButton struct {
	stubElement
	host    *fakeHost
	visible bool
}

func (b *fakeCloseButton) Visible(context.Context) (bool, error) { return b.visible, nil }

func (b *fakeCloseButton) Click(context.Context, ClickOptions) error {
	if !b.host.sticky {
		b.host.closeAll()
	}
	return nil
}

// --- harness ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.HarvestConfig {
	cfg := config.DefaultHarvest()
	cfg.Tuning.MaxIdlePasses = 6
	cfg.Tuning.MaxRetryAttempts = 3
	return cfg
}

func newTestHarvester(t testing.TB, cfg config.HarvestConfig, clock *fakeClock) *Harvester {
	t.Helper()
	h, err := New(cfg, WithLogger(discardLogger()), WithClock(clock))
	require.NoError(t, err)
	return h
}

// fixture wires a list of n rows to a host page.
func fixture(t testing.TB, n int, rowHeight, clientHeight float64) (*fakeList, *fakeHost, *fakeClock) {
	clock := newFakeClock()
	host := newFakeHost(t, clock)
	list := newFakeList(n, rowHeight, clientHeight)
	list.host = host
	return list, host, clock
}
