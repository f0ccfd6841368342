package stepwise

import (
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/output"
	"github.com/crimson-sun/stepwise/internal/recording"
)

// Workflow and its steps.
type (
	Workflow   = model.Workflow
	Step       = model.Step
	StepType   = model.StepType
	InputField = model.InputField
	Target     = model.Target
)

// Raw events captured in a page.
type (
	RawEvent         = model.RawEvent
	EventBase        = model.EventBase
	ClickRecord      = model.ClickRecord
	InputRecord      = model.InputRecord
	SelectRecord     = model.SelectRecord
	KeyRecord        = model.KeyRecord
	ScrollRecord     = model.ScrollRecord
	NavigationRecord = model.NavigationRecord
)

// Message is the wire envelope exchanged with capture contexts.
type Message = model.Message

// Notification is pushed to outputs when the workflow or the recording state changes.
type Notification = model.Notification

// Output receives notifications.
type Output = output.Output

// Status is a point-in-time view of the recording state.
type Status = recording.Status

// State is the recording state.
type State = recording.State

const (
	StateIdle      = recording.StateIdle
	StateRecording = recording.StateRecording
	StateStopped   = recording.StateStopped
	StateError     = recording.StateError
)

// ErrNotRecording is returned by Stop outside a recording session.
var ErrNotRecording = recording.ErrNotRecording
