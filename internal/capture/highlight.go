package capture

import (
	"log/slog"
	"sync"

	"github.com/crimson-sun/stepwise/internal/dom"
	"github.com/crimson-sun/stepwise/internal/selector"
)

// OverlayKind distinguishes the two highlight boxes.
type OverlayKind int

const (
	OverlayHover OverlayKind = iota
	OverlayFocus
)

func (k OverlayKind) String() string {
	if k == OverlayFocus {
		return "focus"
	}
	return "hover"
}

// Box is a highlight drawn over the page. Boxes are positioned relative to
// the viewport and never receive pointer events.
type Box struct {
	Kind  OverlayKind
	Rect  dom.Rect
	Color string
}

const (
	hoverColor = "red"
	focusColor = "green"
)

// Overlay renders highlight boxes. Show is only called for a kind after the
// previous box of that kind was hidden.
type Overlay interface {
	Show(b Box)
	Hide(kind OverlayKind)
}

// Highlighter keeps at most one hover box and one focus box on screen.
type Highlighter struct {
	doc     dom.Document
	overlay Overlay

	mu    sync.Mutex
	shown map[OverlayKind]dom.Element
}

// NewHighlighter draws on overlay for elements of doc.
func NewHighlighter(doc dom.Document, overlay Overlay) *Highlighter {
	return &Highlighter{doc: doc, overlay: overlay, shown: make(map[OverlayKind]dom.Element)}
}

// Hover highlights the element under the pointer at (x, y).
func (h *Highlighter) Hover(target dom.Element, x, y float64) {
	el := h.locate(target, x, y)
	if el == nil {
		return
	}
	h.show(OverlayHover, el, hoverColor)
}

// Unhover removes the hover box.
func (h *Highlighter) Unhover() { h.hide(OverlayHover) }

// Focus highlights an input-capable element that received focus.
func (h *Highlighter) Focus(target dom.Element) {
	if !dom.IsInputCapable(target) {
		return
	}
	h.show(OverlayFocus, target, focusColor)
}

// Blur removes the focus box.
func (h *Highlighter) Blur() { h.hide(OverlayFocus) }

// Clear removes every box.
func (h *Highlighter) Clear() {
	h.hide(OverlayHover)
	h.hide(OverlayFocus)
}

// Current returns the element highlighted for kind, or nil.
func (h *Highlighter) Current(kind OverlayKind) dom.Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shown[kind]
}

// locate re-resolves target through its own XPath and falls back to the
// CSS selector match that contains the pointer.
func (h *Highlighter) locate(target dom.Element, x, y float64) dom.Element {
	if target == nil || h.doc == nil {
		return nil
	}
	xpath := selector.XPath(target)
	if el := selector.Resolve(h.doc, xpath); el != nil {
		return el
	}
	css := selector.CSSSelector(target, xpath)
	matches, err := h.doc.QueryAll(css)
	if err != nil {
		slog.Debug("highlight: css lookup failed", "selector", css, "error", err)
		return nil
	}
	for _, el := range matches {
		if el.Rect().Contains(x, y) {
			return el
		}
	}
	return nil
}

func (h *Highlighter) show(kind OverlayKind, el dom.Element, color string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.overlay == nil {
		return
	}
	if _, ok := h.shown[kind]; ok {
		h.overlay.Hide(kind)
	}
	h.overlay.Show(Box{Kind: kind, Rect: el.Rect(), Color: color})
	h.shown[kind] = el
}

func (h *Highlighter) hide(kind OverlayKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.shown[kind]; !ok {
		return
	}
	delete(h.shown, kind)
	if h.overlay != nil {
		h.overlay.Hide(kind)
	}
}
