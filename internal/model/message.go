package model

import (
	"encoding/json"
	"fmt"
)

// MessageType names a message exchanged between capture contexts, the UI
// and the background process.
type MessageType string

const (
	// Control, UI → background.
	MsgStartRecording   MessageType = "START_RECORDING"
	MsgStopRecording    MessageType = "STOP_RECORDING"
	MsgGetRecordingData MessageType = "GET_RECORDING_DATA"

	// Capture context → background.
	MsgRequestRecordingStatus MessageType = "REQUEST_RECORDING_STATUS"
	MsgClickEvent             MessageType = "CUSTOM_CLICK_EVENT"
	MsgInputEvent             MessageType = "CUSTOM_INPUT_EVENT"
	MsgSelectEvent            MessageType = "CUSTOM_SELECT_EVENT"
	MsgKeyEvent               MessageType = "CUSTOM_KEY_EVENT"
	MsgRRWebEvent             MessageType = "RRWEB_EVENT"

	// Background → capture context.
	MsgSetRecordingStatus MessageType = "SET_RECORDING_STATUS"
	MsgCaptureScreenshot  MessageType = "CAPTURE_SCREENSHOT"

	// Background → UI.
	MsgRecordingStatusUpdated MessageType = "recording_status_updated"
	MsgWorkflowUpdated        MessageType = "workflow_updated"

	// Replies to a message that carried an ID.
	MsgResponse MessageType = "response"
	MsgError    MessageType = "error"
)

// Message is the envelope for every port and control-endpoint exchange.
// ID is set on requests that expect a reply; the reply echoes it.
type Message struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	TabID   int             `json:"tabId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewMessage builds a message with a JSON-encoded payload. A nil payload
// produces a message without one.
func NewMessage(typ MessageType, payload any) (Message, error) {
	msg := Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("model: encode %s payload: %w", typ, err)
	}
	msg.Payload = data
	return msg, nil
}

// Reply builds the response to m.
func (m Message) Reply(payload any) (Message, error) {
	r, err := NewMessage(MsgResponse, payload)
	if err != nil {
		return Message{}, err
	}
	r.ID = m.ID
	return r, nil
}

// ReplyError builds the error response to m.
func (m Message) ReplyError(err error) Message {
	return Message{Type: MsgError, ID: m.ID, Error: err.Error()}
}

// Decode unmarshals the payload into dest.
func (m Message) Decode(dest any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("model: %s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, dest); err != nil {
		return fmt.Errorf("model: %s: decode payload: %w", m.Type, err)
	}
	return nil
}

// RecordingData is the reply to GET_RECORDING_DATA.
type RecordingData struct {
	Workflow        Workflow `json:"workflow"`
	RecordingStatus string   `json:"recordingStatus"`
}

// RecordingStatusReply is the reply to REQUEST_RECORDING_STATUS.
type RecordingStatusReply struct {
	IsRecordingEnabled bool `json:"isRecordingEnabled"`
}

// StatusUpdate is the payload of recording_status_updated.
type StatusUpdate struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ScreenshotReply is the reply to CAPTURE_SCREENSHOT.
type ScreenshotReply struct {
	DataURL string `json:"dataUrl"`
}
