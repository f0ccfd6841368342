package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/crimson-sun/stepwise/internal/engine/merge"
	"github.com/crimson-sun/stepwise/internal/model"
)

// ErrMissingField is wrapped by every FieldError.
var ErrMissingField = errors.New("engine: missing mandatory field")

// FieldError reports a raw event dropped because a mandatory field was empty.
type FieldError struct {
	Kind  model.EventKind
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("engine: %s event missing %s", e.Kind, e.Field)
}

func (e *FieldError) Unwrap() error { return ErrMissingField }

// Engine converts per-tab raw event logs into workflow steps.
type Engine struct {
	onDrop func(model.RawEvent, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithDropHandler sets the callback invoked for every dropped event.
// The default logs a warning.
func WithDropHandler(fn func(model.RawEvent, error)) Option {
	return func(e *Engine) { e.onDrop = fn }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{onDrop: logDrop}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Process converts a single raw event into a step without any merging.
func (e *Engine) Process(ev model.RawEvent) (model.Step, error) {
	if err := Validate(ev); err != nil {
		return model.Step{}, err
	}
	b := ev.Base()
	step := model.Step{
		Timestamp:  b.Timestamp,
		TabID:      b.TabID,
		URL:        b.URL,
		FrameURL:   b.FrameURL,
		Screenshot: b.Screenshot,
	}
	switch r := ev.(type) {
	case *model.NavigationRecord:
		step.Type = model.StepNavigation
	case *model.ClickRecord:
		step.Type = model.StepClick
		step.Target = target(b)
		step.Target.ElementText = r.ElementText
	case *model.InputRecord:
		step.Type = model.StepInput
		step.Target = target(b)
		step.InputData = &model.InputData{Value: r.Value}
	case *model.SelectRecord:
		step.Type = model.StepSelectChange
		step.Target = target(b)
		step.SelectData = &model.SelectData{SelectedText: r.SelectedText}
	case *model.KeyRecord:
		step.Type = model.StepKeyPress
		step.Target = target(b)
		step.KeyData = &model.KeyData{Key: r.Key}
	case *model.ScrollRecord:
		step.Type = model.StepScroll
		step.ScrollData = &model.ScrollData{TargetID: r.TargetID, ScrollX: r.ScrollX, ScrollY: r.ScrollY}
	}
	return step, nil
}

// ProcessLog converts one tab's ordered log into steps, folding consecutive
// inputs and scroll ticks and dropping events that fail validation. The
// result is never nil.
func (e *Engine) ProcessLog(events []model.RawEvent) []model.Step {
	steps := make([]model.Step, 0, len(events))
	for _, ev := range events {
		if err := Validate(ev); err != nil {
			e.onDrop(ev, err)
			continue
		}
		if n := len(steps); n > 0 && merge.Into(&steps[n-1], ev) {
			continue
		}
		step, err := e.Process(ev)
		if err != nil {
			e.onDrop(ev, err)
			continue
		}
		steps = append(steps, step)
	}
	return steps
}

// Validate reports the first mandatory field ev lacks as a *FieldError.
func Validate(ev model.RawEvent) error {
	if ev == nil {
		return &FieldError{Kind: "unknown", Field: "event"}
	}
	b := ev.Base()
	switch r := ev.(type) {
	case *model.NavigationRecord:
		if b.URL == "" {
			return &FieldError{Kind: r.Kind(), Field: "url"}
		}
	case *model.ClickRecord, *model.InputRecord, *model.SelectRecord:
		if b.XPath == "" {
			return &FieldError{Kind: ev.Kind(), Field: "xpath"}
		}
		if b.CSSSelector == "" {
			return &FieldError{Kind: ev.Kind(), Field: "cssSelector"}
		}
	case *model.KeyRecord:
		if r.Key == "" {
			return &FieldError{Kind: r.Kind(), Field: "key"}
		}
		if b.XPath == "" {
			return &FieldError{Kind: r.Kind(), Field: "xpath"}
		}
	case *model.ScrollRecord:
	default:
		return &FieldError{Kind: ev.Kind(), Field: "type"}
	}
	return nil
}

func target(b *model.EventBase) *model.Target {
	return &model.Target{
		XPath:       b.XPath,
		CSSSelector: b.CSSSelector,
		ElementTag:  b.ElementTag,
	}
}

func logDrop(ev model.RawEvent, err error) {
	if ev == nil {
		slog.Warn("dropping raw event", "error", err)
		return
	}
	b := ev.Base()
	slog.Warn("dropping raw event", "kind", ev.Kind(), "tab_id", b.TabID, "timestamp", b.Timestamp, "error", err)
}
