package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/changehub/harvest"
)

// The harvester's DOM contract implemented on top of Rod. A Rod frame is a
// *rod.Page too, so the same document type serves the top-level page, the
// list iframe and every detail pane.

// containerJS resolves the scroll container with the list's usual
// fallbacks. It is spliced into the scroll scripts below.
const containerJS = `const c = document.querySelector(selector) ||
		document.querySelector(".ms-DetailsList") ||
		document.querySelector(".ms-List") ||
		document.scrollingElement ||
		document.documentElement;`

const (
	scrollMetricsJS = `(selector) => {
		` + containerJS + `
		return { scrollTop: c.scrollTop, scrollHeight: c.scrollHeight, clientHeight: c.clientHeight };
	}`

	scrollByJS = `(selector, step) => {
		` + containerJS + `
		const maxScroll = Math.max(0, c.scrollHeight - c.clientHeight);
		c.scrollTop = Math.max(0, Math.min(c.scrollTop + step, maxScroll));
		window.scrollTo(0, c.scrollTop);
	}`

	scrollTopJS = `(selector) => {
		` + containerJS + `
		c.scrollTop = 0;
		window.scrollTo(0, 0);
	}`

	// waitStateJS reports whether selector is in the requested state.
	waitStateJS = `(selector, state) => {
		const els = Array.from(document.querySelectorAll(selector));
		const shown = (el) => {
			const r = el.getBoundingClientRect();
			const s = window.getComputedStyle(el);
			return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
		};
		switch (state) {
		case 'attached': return els.length > 0;
		case 'detached': return els.length === 0;
		case 'visible': return els.some(shown);
		case 'hidden': return !els.some(shown);
		}
		return false;
	}`

	readyJS = `() => document.readyState !== 'loading'`
)

// keys maps the key names the harvester uses to Rod keys.
var keys = map[string]input.Key{
	"Escape": input.Escape,
	"Enter":  input.Enter,
	"Tab":    input.Tab,
}

// document adapts a Rod page or frame to harvest.Document.
type document struct {
	page *rod.Page
}

var _ harvest.Document = (*document)(nil)

// NewDocument wraps a Rod page or frame.
func NewDocument(p *rod.Page) harvest.Document {
	return &document{page: p}
}

func (d *document) Elements(ctx context.Context, selector string) ([]harvest.Element, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (d *document) WaitFor(ctx context.Context, selector string, state harvest.State, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := d.page.Context(wctx).Wait(rod.Eval(waitStateJS, selector, state.String()))
	if err != nil {
		return fmt.Errorf("wait for %s to be %s: %w", selector, state, err)
	}
	return nil
}

func (d *document) WaitLoad(ctx context.Context) error {
	return d.page.Context(ctx).Wait(rod.Eval(readyJS))
}

// Detached reports whether the frame can no longer evaluate scripts.
func (d *document) Detached(ctx context.Context) bool {
	_, err := d.page.Context(ctx).Eval(`() => document.readyState`)
	return err != nil
}

func (d *document) ScrollMetrics(ctx context.Context, selector string) (harvest.ScrollMetrics, error) {
	res, err := d.page.Context(ctx).Eval(scrollMetricsJS, selector)
	if err != nil {
		return harvest.ScrollMetrics{}, fmt.Errorf("measure %s: %w", selector, err)
	}
	return harvest.ScrollMetrics{
		ScrollTop:    res.Value.Get("scrollTop").Num(),
		ScrollHeight: res.Value.Get("scrollHeight").Num(),
		ClientHeight: res.Value.Get("clientHeight").Num(),
	}, nil
}

func (d *document) ScrollBy(ctx context.Context, selector string, dy float64) error {
	_, err := d.page.Context(ctx).Eval(scrollByJS, selector, dy)
	return err
}

func (d *document) ScrollToTop(ctx context.Context, selector string) error {
	_, err := d.page.Context(ctx).Eval(scrollTopJS, selector)
	return err
}

// page adds pointer and keyboard input to a top-level document.
type page struct {
	document
}

var _ harvest.Page = (*page)(nil)

// NewPage wraps a top-level Rod page.
func NewPage(p *rod.Page) harvest.Page {
	return &page{document: document{page: p}}
}

func (p *page) ClickAt(ctx context.Context, x, y float64) error {
	rp := p.page.Context(ctx)
	if err := rp.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	return rp.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (p *page) PressKey(ctx context.Context, key string) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	return p.page.Context(ctx).Keyboard.Type(k)
}

// element adapts a Rod element to harvest.Element.
type element struct {
	el *rod.Element
}

var _ harvest.Element = (*element)(nil)

func wrapElements(els rod.Elements) []harvest.Element {
	out := make([]harvest.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &element{el: el})
	}
	return out
}

func (e *element) Attribute(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

// Click performs a real mouse click, which waits for the element to be
// interactable. A forced click dispatches the DOM click event directly.
func (e *element) Click(ctx context.Context, opts harvest.ClickOptions) error {
	el := e.el.Context(ctx)
	if opts.Force {
		_, err := el.Eval(`() => this.click()`)
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *element) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *element) Elements(ctx context.Context, selector string) ([]harvest.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (e *element) Parent(ctx context.Context) (harvest.Element, error) {
	p, err := e.el.Context(ctx).Parent()
	if err != nil {
		return nil, notFound(err)
	}
	return &element{el: p}, nil
}

func (e *element) NextSibling(ctx context.Context, tag string) (harvest.Element, error) {
	els, err := e.el.Context(ctx).ElementsX("following-sibling::" + tag + "[1]")
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, harvest.ErrNotFound
	}
	return &element{el: els.First()}, nil
}

func (e *element) Frame(ctx context.Context) (harvest.Document, error) {
	f, err := e.el.Context(ctx).Frame()
	if err != nil {
		return nil, notFound(err)
	}
	return &document{page: f}, nil
}

// notFound maps Rod's missing-node errors to harvest.ErrNotFound.
func notFound(err error) error {
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", harvest.ErrNotFound, err)
	}
	return err
}
