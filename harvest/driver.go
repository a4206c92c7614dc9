package harvest

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by driver lookups that have no matching node.
var ErrNotFound = errors.New("harvest: element not found")

// State is an element lifecycle state a Document can wait for.
type State int

const (
	// Attached: at least one element matches the selector.
	Attached State = iota
	// Detached: no element matches the selector.
	Detached
	// Visible: at least one matching element is rendered visibly.
	Visible
	// Hidden: no matching element is rendered visibly.
	Hidden
)

func (s State) String() string {
	switch s {
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	}
	return "unknown"
}

// ClickOptions tunes Element.Click.
type ClickOptions struct {
	// Force dispatches the click without waiting for the element to be
	// stable, visible and unobstructed.
	Force bool
}

// ScrollMetrics is a snapshot of a scroll container's geometry.
type ScrollMetrics struct {
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
}

// bottomEpsilon absorbs sub-pixel rounding in scroll offsets.
const bottomEpsilon = 2

// MaxScroll is the largest reachable scroll offset.
func (m ScrollMetrics) MaxScroll() float64 {
	return max(0, m.ScrollHeight-m.ClientHeight)
}

// AtBottom reports whether the container cannot scroll any further.
func (m ScrollMetrics) AtBottom() bool {
	return m.ScrollTop >= m.MaxScroll()-bottomEpsilon
}

// Document is one browsing context: the list frame, the host page or a
// detail pane. Implementations bind every call to ctx.
type Document interface {
	// Elements returns the currently attached matches in document order.
	// It never waits; an empty slice is not an error.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// WaitFor blocks until the selector reaches state or timeout elapses.
	WaitFor(ctx context.Context, selector string, state State, timeout time.Duration) error

	// WaitLoad blocks until the document has finished parsing.
	WaitLoad(ctx context.Context) error

	// Detached reports whether the document's frame is gone.
	Detached(ctx context.Context) bool

	// ScrollMetrics measures the scroll container matched by selector,
	// falling back to the document's scrolling element.
	ScrollMetrics(ctx context.Context, selector string) (ScrollMetrics, error)

	// ScrollBy advances the container by dy pixels, clamped to its range.
	ScrollBy(ctx context.Context, selector string, dy float64) error

	// ScrollToTop resets the container's offset to zero.
	ScrollToTop(ctx context.Context, selector string) error
}

// Page is the top-level document, which also owns pointer and keyboard.
type Page interface {
	Document

	// ClickAt clicks the viewport coordinate (x, y).
	ClickAt(ctx context.Context, x, y float64) error

	// PressKey presses and releases a named key such as "Escape".
	PressKey(ctx context.Context, key string) error
}

// Element is a handle to a node inside a Document.
type Element interface {
	// Attribute returns the attribute value, or "" when absent.
	Attribute(ctx context.Context, name string) (string, error)

	// Text returns the rendered inner text.
	Text(ctx context.Context) (string, error)

	Click(ctx context.Context, opts ClickOptions) error
	Visible(ctx context.Context) (bool, error)

	// Elements returns matching descendants in document order.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// Parent returns the parent element, or ErrNotFound at the root.
	Parent(ctx context.Context) (Element, error)

	// NextSibling returns the first following sibling with the given tag
	// name, or ErrNotFound.
	NextSibling(ctx context.Context, tag string) (Element, error)

	// Frame returns the nested document of an iframe element, or
	// ErrNotFound when the element has no content document.
	Frame(ctx context.Context) (Document, error)
}
