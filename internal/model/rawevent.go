package model

// EventKind discriminates the captured raw event variants.
type EventKind string

const (
	KindClick      EventKind = "click"
	KindInput      EventKind = "input"
	KindSelect     EventKind = "select"
	KindKey        EventKind = "key"
	KindScroll     EventKind = "scroll"
	KindNavigation EventKind = "navigation"
)

// EventBase holds the fields every captured event carries.
type EventBase struct {
	Timestamp   int64  `json:"timestamp"` // epoch ms
	TabID       int    `json:"tabId"`
	URL         string `json:"url"`      // top document URL
	FrameURL    string `json:"frameUrl"` // URL of the frame the event fired in
	XPath       string `json:"xpath,omitempty"`
	CSSSelector string `json:"cssSelector,omitempty"`
	ElementTag  string `json:"elementTag,omitempty"`
	Screenshot  string `json:"screenshot,omitempty"` // data URL, best-effort
}

// Base returns the shared fields. Promoted to every record type.
func (b *EventBase) Base() *EventBase { return b }

// RawEvent is a DOM-proximate captured event prior to conversion.
// The set of implementations is closed to this package.
type RawEvent interface {
	Kind() EventKind
	Base() *EventBase
	rawEvent()
}

// ClickRecord is a click on an element.
type ClickRecord struct {
	EventBase
	ElementText string `json:"elementText,omitempty"`
}

// InputRecord is a value change on a text-capable element.
type InputRecord struct {
	EventBase
	Value string `json:"value"`
}

// SelectRecord is an option change on a <select>.
type SelectRecord struct {
	EventBase
	SelectedValue string `json:"selectedValue,omitempty"`
	SelectedText  string `json:"selectedText"`
}

// KeyRecord is an allow-listed key press.
type KeyRecord struct {
	EventBase
	Key string `json:"key"`
}

// ScrollRecord is a coalesced scroll position of one scroll target.
type ScrollRecord struct {
	EventBase
	TargetID int `json:"targetId"` // recorder node id of the scrolled element
	ScrollX  int `json:"scrollX"`
	ScrollY  int `json:"scrollY"`
}

// NavigationRecord is a top-level document load; URL is the destination.
type NavigationRecord struct {
	EventBase
}

func (*ClickRecord) Kind() EventKind      { return KindClick }
func (*InputRecord) Kind() EventKind      { return KindInput }
func (*SelectRecord) Kind() EventKind     { return KindSelect }
func (*KeyRecord) Kind() EventKind        { return KindKey }
func (*ScrollRecord) Kind() EventKind     { return KindScroll }
func (*NavigationRecord) Kind() EventKind { return KindNavigation }

func (*ClickRecord) rawEvent()      {}
func (*InputRecord) rawEvent()      {}
func (*SelectRecord) rawEvent()     {}
func (*KeyRecord) rawEvent()        {}
func (*ScrollRecord) rawEvent()     {}
func (*NavigationRecord) rawEvent() {}

// Clone returns a deep copy of ev so callers can retain it without aliasing.
func Clone(ev RawEvent) RawEvent {
	switch e := ev.(type) {
	case *ClickRecord:
		c := *e
		return &c
	case *InputRecord:
		c := *e
		return &c
	case *SelectRecord:
		c := *e
		return &c
	case *KeyRecord:
		c := *e
		return &c
	case *ScrollRecord:
		c := *e
		return &c
	case *NavigationRecord:
		c := *e
		return &c
	default:
		return nil
	}
}
