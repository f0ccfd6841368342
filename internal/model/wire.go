package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownMessage is returned for message types that carry no raw event.
	ErrUnknownMessage = errors.New("model: not an event message")
	// ErrIgnoredEvent is returned for recorder events that never become steps.
	ErrIgnoredEvent = errors.New("model: recorder event ignored")
)

// rrweb event and incremental source codes used by the capture recorder.
const (
	RRWebIncrementalSnapshot = 3
	RRWebMeta                = 4
	RRWebSourceScroll        = 3
)

// RRWebEvent is the recorder event shape carried by RRWEB_EVENT.
type RRWebEvent struct {
	Type      int             `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	TabID     int             `json:"tabId,omitempty"`
	URL       string          `json:"url,omitempty"`
	FrameURL  string          `json:"frameUrl,omitempty"`
}

// RRWebMetaData is the data of a Meta event.
type RRWebMetaData struct {
	Href   string `json:"href"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// RRWebScrollData is the data of an IncrementalSnapshot scroll event.
type RRWebScrollData struct {
	Source int     `json:"source"`
	ID     int     `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// IsEventMessage reports whether t carries a raw event.
func IsEventMessage(t MessageType) bool {
	switch t {
	case MsgClickEvent, MsgInputEvent, MsgSelectEvent, MsgKeyEvent, MsgRRWebEvent:
		return true
	}
	return false
}

// DecodeEvent converts a capture message into a RawEvent. The envelope's
// TabID fills in a record that does not name its tab.
func DecodeEvent(msg Message) (RawEvent, error) {
	var ev RawEvent
	switch msg.Type {
	case MsgClickEvent:
		ev = &ClickRecord{}
	case MsgInputEvent:
		ev = &InputRecord{}
	case MsgSelectEvent:
		ev = &SelectRecord{}
	case MsgKeyEvent:
		ev = &KeyRecord{}
	case MsgRRWebEvent:
		return decodeRRWeb(msg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Type)
	}
	if err := msg.Decode(ev); err != nil {
		return nil, err
	}
	if ev.Base().TabID == 0 {
		ev.Base().TabID = msg.TabID
	}
	return ev, nil
}

func decodeRRWeb(msg Message) (RawEvent, error) {
	var rr RRWebEvent
	if err := msg.Decode(&rr); err != nil {
		return nil, err
	}
	base := EventBase{
		Timestamp: rr.Timestamp,
		TabID:     rr.TabID,
		URL:       rr.URL,
		FrameURL:  rr.FrameURL,
	}
	if base.TabID == 0 {
		base.TabID = msg.TabID
	}

	switch rr.Type {
	case RRWebMeta:
		var meta RRWebMetaData
		if err := json.Unmarshal(rr.Data, &meta); err != nil {
			return nil, fmt.Errorf("model: rrweb meta: %w", err)
		}
		base.URL = meta.Href
		if base.FrameURL == "" {
			base.FrameURL = meta.Href
		}
		return &NavigationRecord{EventBase: base}, nil
	case RRWebIncrementalSnapshot:
		var sc RRWebScrollData
		if err := json.Unmarshal(rr.Data, &sc); err != nil {
			return nil, fmt.Errorf("model: rrweb incremental: %w", err)
		}
		if sc.Source != RRWebSourceScroll {
			return nil, ErrIgnoredEvent
		}
		return &ScrollRecord{
			EventBase: base,
			TargetID:  sc.ID,
			ScrollX:   int(math.Round(sc.X)),
			ScrollY:   int(math.Round(sc.Y)),
		}, nil
	default:
		return nil, ErrIgnoredEvent
	}
}

// EncodeEvent is the inverse of DecodeEvent, used by capture contexts.
func EncodeEvent(ev RawEvent) (Message, error) {
	switch e := ev.(type) {
	case *ClickRecord:
		return NewMessage(MsgClickEvent, e)
	case *InputRecord:
		return NewMessage(MsgInputEvent, e)
	case *SelectRecord:
		return NewMessage(MsgSelectEvent, e)
	case *KeyRecord:
		return NewMessage(MsgKeyEvent, e)
	case *ScrollRecord:
		data, err := json.Marshal(RRWebScrollData{
			Source: RRWebSourceScroll,
			ID:     e.TargetID,
			X:      float64(e.ScrollX),
			Y:      float64(e.ScrollY),
		})
		if err != nil {
			return Message{}, err
		}
		return NewMessage(MsgRRWebEvent, RRWebEvent{
			Type:      RRWebIncrementalSnapshot,
			Timestamp: e.Timestamp,
			Data:      data,
			TabID:     e.TabID,
			URL:       e.URL,
			FrameURL:  e.FrameURL,
		})
	case *NavigationRecord:
		data, err := json.Marshal(RRWebMetaData{Href: e.URL})
		if err != nil {
			return Message{}, err
		}
		return NewMessage(MsgRRWebEvent, RRWebEvent{
			Type:      RRWebMeta,
			Timestamp: e.Timestamp,
			Data:      data,
			TabID:     e.TabID,
			FrameURL:  e.FrameURL,
		})
	default:
		return Message{}, fmt.Errorf("model: cannot encode %T", ev)
	}
}
