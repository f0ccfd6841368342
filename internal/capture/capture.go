// Package capture is the per-page instrumentation: it turns DOM events into
// raw event records, coalesces recorder scroll ticks and forwards everything
// to the background over a Port. Handlers stay wired at all times and no-op
// while recording is disabled.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/stepwise/internal/dom"
	"github.com/crimson-sun/stepwise/internal/engine/compactor"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/selector"
)

var (
	// ErrNoScreenshot is returned for screenshot requests when the page has no screenshot source.
	ErrNoScreenshot = errors.New("capture: screenshots unavailable")
	// ErrNotAttached is returned by Sync before a Port is attached.
	ErrNotAttached = errors.New("capture: no port attached")
)

// passwordMask replaces the value of password fields.
const passwordMask = "********"

// Port carries messages to the background. bridge.Client implements it.
type Port interface {
	Send(ctx context.Context, msg model.Message) error
	Request(ctx context.Context, msg model.Message) (model.Message, error)
}

// Page identifies the document being instrumented.
type Page struct {
	Doc      dom.Document
	TabID    int
	URL      string // top document URL
	FrameURL string // this frame's URL; empty means the top document
}

// EventType is a DOM event name.
type EventType string

const (
	EventClick     EventType = "click"
	EventInput     EventType = "input"
	EventChange    EventType = "change"
	EventKeyDown   EventType = "keydown"
	EventMouseOver EventType = "mouseover"
	EventMouseOut  EventType = "mouseout"
	EventFocus     EventType = "focus"
	EventBlur      EventType = "blur"
)

// DOMEvent is one browser event as seen by a listener.
type DOMEvent struct {
	Type   EventType
	Target dom.Element
	// Value is the control's current value for input and change.
	Value   string
	Key     string
	CtrlKey bool
	MetaKey bool
	// ClientX and ClientY are the pointer position for mouse events.
	ClientX float64
	ClientY float64
	// Timestamp in epoch ms; zero means now.
	Timestamp int64
}

// ScreenshotFunc captures the visible page as a data URL.
type ScreenshotFunc func(ctx context.Context) (string, error)

// Option configures a Capturer.
type Option func(*Capturer)

// WithOverlay enables hover and focus highlighting on o.
func WithOverlay(o Overlay) Option {
	return func(c *Capturer) { c.overlay = o }
}

// WithRecorder sets the session recorder started while recording is enabled.
func WithRecorder(r SessionRecorder) Option {
	return func(c *Capturer) { c.recorder = r }
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Capturer) { c.now = now }
}

// WithDebounce sets the scroll quiet window.
func WithDebounce(d time.Duration) Option {
	return func(c *Capturer) { c.debounce = d }
}

// WithCompactor sets how clicked element text is normalised.
func WithCompactor(cp *compactor.Compactor) Option {
	return func(c *Capturer) { c.compact = cp }
}

// WithScreenshot answers CAPTURE_SCREENSHOT requests with fn.
func WithScreenshot(fn ScreenshotFunc) Option {
	return func(c *Capturer) { c.screenshot = fn }
}

// Capturer instruments one page.
type Capturer struct {
	overlay    Overlay
	recorder   SessionRecorder
	now        func() time.Time
	debounce   time.Duration
	compact    *compactor.Compactor
	screenshot ScreenshotFunc

	highlight *Highlighter
	scroll    *scrollCoalescer
	active    atomic.Bool

	mu           sync.Mutex
	page         Page
	port         Port
	stopRecorder func()
}

// New instruments page. The capturer starts inactive; call Attach to
// connect it and pick up the current recording status.
func New(page Page, opts ...Option) *Capturer {
	c := &Capturer{
		page:     page,
		now:      time.Now,
		debounce: DefaultScrollDebounce,
		compact:  compactor.New(compactor.Standard),
	}
	for _, o := range opts {
		o(c)
	}
	c.highlight = NewHighlighter(page.Doc, c.overlay)
	c.scroll = newScrollCoalescer(c.debounce, c.forwardScroll)
	return c
}

// Attach connects the capturer to the background and syncs the recording status.
func (c *Capturer) Attach(ctx context.Context, p Port) error {
	c.mu.Lock()
	c.port = p
	c.mu.Unlock()
	return c.Sync(ctx)
}

// Sync asks the background whether recording is enabled and applies the answer.
func (c *Capturer) Sync(ctx context.Context) error {
	p := c.currentPort()
	if p == nil {
		return ErrNotAttached
	}
	resp, err := p.Request(ctx, model.Message{Type: model.MsgRequestRecordingStatus, TabID: c.Page().TabID})
	if err != nil {
		return fmt.Errorf("capture: request status: %w", err)
	}
	var st model.RecordingStatusReply
	if err := resp.Decode(&st); err != nil {
		return fmt.Errorf("capture: request status: %w", err)
	}
	c.SetActive(st.IsRecordingEnabled)
	return nil
}

// HandleMessage answers a message pushed by the background. It matches
// bridge.HandlerFunc.
func (c *Capturer) HandleMessage(ctx context.Context, msg model.Message) (any, error) {
	switch msg.Type {
	case model.MsgSetRecordingStatus:
		var on bool
		if err := msg.Decode(&on); err != nil {
			return nil, err
		}
		c.SetActive(on)
		return nil, nil
	case model.MsgCaptureScreenshot:
		if c.screenshot == nil {
			return nil, ErrNoScreenshot
		}
		dataURL, err := c.screenshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("capture: screenshot: %w", err)
		}
		return model.ScreenshotReply{DataURL: dataURL}, nil
	default:
		return nil, fmt.Errorf("capture: unexpected message %s", msg.Type)
	}
}

// SetActive enables or disables recording. Enabling starts the session
// recorder; disabling stops it and clears highlights. A scroll tick still
// pending from the previous session is dropped on either transition.
func (c *Capturer) SetActive(on bool) {
	if c.active.Swap(on) == on {
		return
	}
	c.scroll.drop()
	c.mu.Lock()
	stop := c.stopRecorder
	c.stopRecorder = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if !on {
		c.highlight.Clear()
	} else if c.recorder != nil {
		// The recorder may emit its initial Meta event from Start.
		stop := c.recorder.Start(c.HandleRecorderEvent)
		c.mu.Lock()
		c.stopRecorder = stop
		c.mu.Unlock()
	}
	slog.Debug("capture: recording status", "tab_id", c.Page().TabID, "active", on)
}

// Active reports whether events are being captured.
func (c *Capturer) Active() bool { return c.active.Load() }

// Page returns the instrumented page.
func (c *Capturer) Page() Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Highlighter exposes the overlay state.
func (c *Capturer) Highlighter() *Highlighter { return c.highlight }

// Dispatch routes one DOM event to its handler. Events are ignored while
// recording is disabled.
func (c *Capturer) Dispatch(ctx context.Context, ev DOMEvent) {
	if !c.Active() {
		return
	}
	switch ev.Type {
	case EventClick:
		c.onClick(ctx, ev)
	case EventInput:
		c.onInput(ctx, ev)
	case EventChange:
		c.onChange(ctx, ev)
	case EventKeyDown:
		c.onKeyDown(ctx, ev)
	case EventMouseOver:
		c.highlight.Hover(ev.Target, ev.ClientX, ev.ClientY)
	case EventMouseOut:
		c.highlight.Unhover()
	case EventFocus:
		c.highlight.Focus(ev.Target)
	case EventBlur:
		c.highlight.Blur()
	}
}

// HandleRecorderEvent receives one session recorder event. Scroll ticks are
// coalesced; everything else is forwarded as is.
func (c *Capturer) HandleRecorderEvent(ev model.RRWebEvent) {
	if !c.Active() {
		return
	}
	page := c.Page()
	ev.TabID = page.TabID
	ev.URL = page.URL
	ev.FrameURL = frameURL(page)

	switch ev.Type {
	case model.RRWebIncrementalSnapshot:
		var data model.RRWebScrollData
		if err := json.Unmarshal(ev.Data, &data); err == nil && data.Source == model.RRWebSourceScroll {
			c.scroll.add(ev, data)
			return
		}
	case model.RRWebMeta:
		var meta model.RRWebMetaData
		if err := json.Unmarshal(ev.Data, &meta); err == nil && meta.Href != "" {
			c.navigated(meta.Href)
		}
	}
	c.send(context.Background(), model.MsgRRWebEvent, ev)
}

// Close stops the recorder and drops pending scroll ticks.
func (c *Capturer) Close() {
	c.active.Store(false)
	c.mu.Lock()
	stop := c.stopRecorder
	c.stopRecorder = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.scroll.close()
	c.highlight.Clear()
}

func (c *Capturer) onClick(ctx context.Context, ev DOMEvent) {
	if ev.Target == nil {
		return
	}
	rec := &model.ClickRecord{
		EventBase:   c.base(ev),
		ElementText: c.compact.Text(ev.Target.Text()),
	}
	c.send(ctx, model.MsgClickEvent, rec)
}

func (c *Capturer) onInput(ctx context.Context, ev DOMEvent) {
	if ev.Target == nil {
		return
	}
	value := ev.Value
	if t, _ := ev.Target.Attr("type"); t == "password" {
		value = passwordMask
	} else if isContentEditable(ev.Target) {
		value = ev.Target.Text()
	}
	rec := &model.InputRecord{EventBase: c.base(ev), Value: compactor.Value(value)}
	c.send(ctx, model.MsgInputEvent, rec)
}

func (c *Capturer) onChange(ctx context.Context, ev DOMEvent) {
	if ev.Target == nil || ev.Target.TagName() != "select" {
		return
	}
	rec := &model.SelectRecord{
		EventBase:     c.base(ev),
		SelectedValue: ev.Value,
		SelectedText:  selectedText(ev.Target, ev.Value),
	}
	c.send(ctx, model.MsgSelectEvent, rec)
}

func (c *Capturer) onKeyDown(ctx context.Context, ev DOMEvent) {
	name := KeyName(ev.Key, ev.CtrlKey, ev.MetaKey)
	if name == "" {
		return
	}
	if doc := c.Page().Doc; ev.Target == nil && doc != nil {
		ev.Target = doc.Root()
	}
	if ev.Target == nil {
		return
	}
	c.send(ctx, model.MsgKeyEvent, &model.KeyRecord{EventBase: c.base(ev), Key: name})
}

// base fills the fields shared by every custom event.
func (c *Capturer) base(ev DOMEvent) model.EventBase {
	page := c.Page()
	xpath := selector.XPath(ev.Target)
	ts := ev.Timestamp
	if ts == 0 {
		ts = c.now().UnixMilli()
	}
	return model.EventBase{
		Timestamp:   ts,
		TabID:       page.TabID,
		URL:         page.URL,
		FrameURL:    frameURL(page),
		XPath:       xpath,
		CSSSelector: selector.CSSSelector(ev.Target, xpath),
		ElementTag:  ev.Target.TagName(),
	}
}

func (c *Capturer) forwardScroll(ev model.RRWebEvent) {
	if !c.Active() {
		slog.Debug("capture: scroll dropped after stop", "tab_id", ev.TabID)
		return
	}
	c.send(context.Background(), model.MsgRRWebEvent, ev)
}

// navigated follows a top-level load so later events carry the new URL.
func (c *Capturer) navigated(href string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page.FrameURL == "" || c.page.FrameURL == c.page.URL {
		c.page.URL = href
		c.page.FrameURL = ""
	} else {
		c.page.FrameURL = href
	}
}

func (c *Capturer) send(ctx context.Context, typ model.MessageType, payload any) {
	p := c.currentPort()
	if p == nil {
		slog.Warn("capture: event dropped, no port", "type", typ)
		return
	}
	msg, err := model.NewMessage(typ, payload)
	if err != nil {
		slog.Warn("capture: encode event", "type", typ, "error", err)
		return
	}
	msg.TabID = c.Page().TabID
	if err := p.Send(ctx, msg); err != nil {
		slog.Warn("capture: send event", "type", typ, "error", err)
	}
}

func (c *Capturer) currentPort() Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

func frameURL(p Page) string {
	if p.FrameURL == "" {
		return p.URL
	}
	return p.FrameURL
}

func isContentEditable(el dom.Element) bool {
	v, ok := el.Attr("contenteditable")
	return ok && v != "false"
}

// selectedText is the label of the option whose value is value.
func selectedText(sel dom.Element, value string) string {
	for _, opt := range options(sel) {
		label := strings.Join(strings.Fields(opt.Text()), " ")
		v, ok := opt.Attr("value")
		if !ok {
			v = label
		}
		if v == value {
			return compactor.Value(label)
		}
	}
	return ""
}

func options(el dom.Element) []dom.Element {
	var out []dom.Element
	for _, child := range el.Children() {
		switch child.TagName() {
		case "option":
			out = append(out, child)
		case "optgroup":
			out = append(out, options(child)...)
		}
	}
	return out
}
