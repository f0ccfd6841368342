package model

import (
	"encoding/json"
	"fmt"
)

// NotificationType names an outbound notification to the external server.
type NotificationType string

const (
	NotifyWorkflowUpdate   NotificationType = "WORKFLOW_UPDATE"
	NotifyRecordingStarted NotificationType = "RECORDING_STARTED"
	NotifyRecordingStopped NotificationType = "RECORDING_STOPPED"
)

// Notification is a fire-and-forget event pushed to external consumers.
// WORKFLOW_UPDATE carries Workflow; the recording lifecycle types carry Message.
type Notification struct {
	Type      NotificationType
	Timestamp int64 // epoch ms
	Workflow  *Workflow
	Message   string
}

type messagePayload struct {
	Message string `json:"message"`
}

type notificationWire struct {
	Type      NotificationType `json:"type"`
	Timestamp int64            `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// MarshalJSON encodes {type, timestamp, payload}.
func (n Notification) MarshalJSON() ([]byte, error) {
	var (
		payload []byte
		err     error
	)
	if n.Type == NotifyWorkflowUpdate {
		wf := n.Workflow
		if wf == nil {
			wf = &Workflow{InputSchema: []InputField{}, Steps: []Step{}}
		}
		payload, err = json.Marshal(wf)
	} else {
		payload, err = json.Marshal(messagePayload{Message: n.Message})
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(notificationWire{Type: n.Type, Timestamp: n.Timestamp, Payload: payload})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w notificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = Notification{Type: w.Type, Timestamp: w.Timestamp}
	switch w.Type {
	case NotifyWorkflowUpdate:
		var wf Workflow
		if err := json.Unmarshal(w.Payload, &wf); err != nil {
			return fmt.Errorf("model: workflow payload: %w", err)
		}
		n.Workflow = &wf
	case NotifyRecordingStarted, NotifyRecordingStopped:
		var p messagePayload
		if len(w.Payload) > 0 {
			if err := json.Unmarshal(w.Payload, &p); err != nil {
				return fmt.Errorf("model: message payload: %w", err)
			}
		}
		n.Message = p.Message
	default:
		return fmt.Errorf("model: unknown notification type %q", w.Type)
	}
	return nil
}
