package capture

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/stepwise/internal/dom"
	"github.com/crimson-sun/stepwise/internal/dom/htmldom"
)

// recordingOverlay tracks visible boxes and fails the test if a kind is
// shown twice without being hidden.
type recordingOverlay struct {
	t       *testing.T
	mu      sync.Mutex
	visible map[OverlayKind]Box
	shows   int
}

func newOverlay(t *testing.T) *recordingOverlay {
	return &recordingOverlay{t: t, visible: make(map[OverlayKind]Box)}
}

func (o *recordingOverlay) Show(b Box) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, dup := o.visible[b.Kind]
	assert.False(o.t, dup, "%s overlay shown twice", b.Kind)
	o.visible[b.Kind] = b
	o.shows++
}

func (o *recordingOverlay) Hide(kind OverlayKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.visible, kind)
}

func (o *recordingOverlay) box(kind OverlayKind) (Box, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.visible[kind]
	return b, ok
}

func TestHoverAndFocusOverlays(t *testing.T) {
	ov := newOverlay(t)
	c, _, doc := newCapturer(t, WithOverlay(ov))
	ctx := context.Background()

	btn := doc.Find("button")
	doc.SetRect(btn, dom.Rect{X: 10, Y: 20, Width: 80, Height: 30})
	email := doc.Find(`input[name="email"]`)

	c.Dispatch(ctx, DOMEvent{Type: EventMouseOver, Target: btn, ClientX: 15, ClientY: 25})
	c.Dispatch(ctx, DOMEvent{Type: EventMouseOver, Target: email})
	c.Dispatch(ctx, DOMEvent{Type: EventFocus, Target: email})

	hover, ok := ov.box(OverlayHover)
	require.True(t, ok)
	assert.Equal(t, hoverColor, hover.Color)
	assert.Equal(t, dom.Element(email), c.Highlighter().Current(OverlayHover))
	focus, ok := ov.box(OverlayFocus)
	require.True(t, ok)
	assert.Equal(t, focusColor, focus.Color)
	assert.NotEqual(t, hover.Color, focus.Color)

	c.Dispatch(ctx, DOMEvent{Type: EventMouseOut, Target: email})
	_, ok = ov.box(OverlayHover)
	assert.False(t, ok)

	c.Dispatch(ctx, DOMEvent{Type: EventBlur, Target: email})
	_, ok = ov.box(OverlayFocus)
	assert.False(t, ok)
}

func TestFocusIgnoresNonInputs(t *testing.T) {
	ov := newOverlay(t)
	c, _, doc := newCapturer(t, WithOverlay(ov))
	c.Dispatch(context.Background(), DOMEvent{Type: EventFocus, Target: doc.Find("button")})
	_, ok := ov.box(OverlayFocus)
	assert.False(t, ok)
}

func TestStopClearsOverlays(t *testing.T) {
	ov := newOverlay(t)
	c, _, doc := newCapturer(t, WithOverlay(ov))
	ctx := context.Background()
	c.Dispatch(ctx, DOMEvent{Type: EventMouseOver, Target: doc.Find("button")})
	c.Dispatch(ctx, DOMEvent{Type: EventFocus, Target: doc.Find("select")})

	c.SetActive(false)
	_, hover := ov.box(OverlayHover)
	_, focus := ov.box(OverlayFocus)
	assert.False(t, hover)
	assert.False(t, focus)
}

func TestHighlighterFallsBackToCSSAndPointer(t *testing.T) {
	doc, err := htmldom.ParseString(`<html><body>
<button class="btn" name="go">one</button>
<button class="btn" name="go">two</button>
<button class="btn" name="go">three</button>
</body></html>`)
	require.NoError(t, err)
	buttons, err := doc.QueryAll("button")
	require.NoError(t, err)
	require.Len(t, buttons, 3)

	gone := buttons[0].(*htmldom.Element)
	doc.Detach(gone)
	doc.SetRect(buttons[1].(*htmldom.Element), dom.Rect{X: 0, Y: 0, Width: 50, Height: 20})
	doc.SetRect(buttons[2].(*htmldom.Element), dom.Rect{X: 0, Y: 40, Width: 50, Height: 20})

	ov := newOverlay(t)
	h := NewHighlighter(doc, ov)
	h.Hover(gone, 10, 50)
	assert.Equal(t, buttons[2], h.Current(OverlayHover))

	h.Hover(gone, 500, 500)
	assert.Equal(t, buttons[2], h.Current(OverlayHover), "no match keeps the previous box")
	assert.Equal(t, 1, ov.shows)
}
