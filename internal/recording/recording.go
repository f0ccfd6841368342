package recording

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/output"
)

// State is the process-wide recording state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateError     State = "error"
)

// ErrNotRecording is returned by Stop outside the recording state.
var ErrNotRecording = errors.New("recording: not recording")

// Broadcaster delivers a message to every connected context of one kind.
// Per-recipient failures are the implementation's concern; a returned
// error means the channel itself failed.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg model.Message) error
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State
	SessionID string
	Message   string
	Since     time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithContexts sets the broadcaster reaching capture contexts.
func WithContexts(b Broadcaster) Option {
	return func(c *Controller) { c.contexts = b }
}

// WithUI sets the broadcaster reaching UI observers.
func WithUI(b Broadcaster) Option {
	return func(c *Controller) { c.ui = b }
}

// WithOutput sets the destination for RECORDING_STARTED and RECORDING_STOPPED.
func WithOutput(o output.Output) Option {
	return func(c *Controller) { c.out = o }
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller gates the aggregator and drives capture contexts through the
// idle, recording, stopped and error states.
type Controller struct {
	agg      *aggregator.Aggregator
	contexts Broadcaster
	ui       Broadcaster
	out      output.Output
	now      func() time.Time

	mu        sync.Mutex
	state     State
	sessionID string
	message   string
	since     time.Time
	entropy   io.Reader
}

// New creates a Controller in the idle state.
func New(agg *aggregator.Aggregator, opts ...Option) *Controller {
	c := &Controller{
		agg:   agg,
		now:   time.Now,
		state: StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	c.since = c.now()
	c.entropy = ulid.Monotonic(rand.Reader, 0)
	return c
}

// Start resets the aggregator, begins accepting events and tells every
// capture context to attach. It is valid from any state, including error
// and recording (which begins a fresh session).
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.agg.Reset()
	c.agg.SetAccepting(true)

	id, err := ulid.New(ulid.Timestamp(c.now()), c.entropy)
	if err != nil {
		return c.failLocked(ctx, fmt.Errorf("recording: session id: %w", err))
	}
	c.sessionID = id.String()
	c.setLocked(StateRecording, "")
	slog.Info("recording started", "session_id", c.sessionID)

	if err := c.broadcastLocked(ctx, true); err != nil {
		return c.failLocked(ctx, err)
	}
	c.publishLocked(ctx)
	c.notifyLocked(ctx, model.NotifyRecordingStarted, "Recording has started")
	return c.statusLocked(), nil
}

// Stop stops accepting events and tells every capture context to detach.
// The last workflow stays readable through the aggregator.
func (c *Controller) Stop(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return c.statusLocked(), ErrNotRecording
	}

	c.agg.SetAccepting(false)
	c.setLocked(StateStopped, "")
	slog.Info("recording stopped", "session_id", c.sessionID, "steps", len(c.agg.Snapshot().Steps))

	if err := c.broadcastLocked(ctx, false); err != nil {
		return c.failLocked(ctx, err)
	}
	c.publishLocked(ctx)
	c.notifyLocked(ctx, model.NotifyRecordingStopped, "Recording has stopped")
	return c.statusLocked(), nil
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// IsRecording reports whether capture contexts should be attached.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRecording
}

func (c *Controller) failLocked(ctx context.Context, err error) (Status, error) {
	c.agg.SetAccepting(false)
	c.setLocked(StateError, err.Error())
	slog.Error("recording failed", "session_id", c.sessionID, "error", err)
	c.publishLocked(ctx)
	return c.statusLocked(), err
}

func (c *Controller) setLocked(s State, msg string) {
	c.state = s
	c.message = msg
	c.since = c.now()
}

func (c *Controller) statusLocked() Status {
	return Status{State: c.state, SessionID: c.sessionID, Message: c.message, Since: c.since}
}

func (c *Controller) broadcastLocked(ctx context.Context, enabled bool) error {
	if c.contexts == nil {
		return nil
	}
	msg, err := model.NewMessage(model.MsgSetRecordingStatus, enabled)
	if err != nil {
		return err
	}
	if err := c.contexts.Broadcast(ctx, msg); err != nil {
		return fmt.Errorf("recording: notify capture contexts: %w", err)
	}
	return nil
}

// publishLocked tells UI observers about the state. Failures are logged only.
func (c *Controller) publishLocked(ctx context.Context) {
	if c.ui == nil {
		return
	}
	msg, err := model.NewMessage(model.MsgRecordingStatusUpdated, model.StatusUpdate{
		Status:    string(c.state),
		SessionID: c.sessionID,
		Message:   c.message,
	})
	if err != nil {
		slog.Warn("encoding status update failed", "error", err)
		return
	}
	if err := c.ui.Broadcast(ctx, msg); err != nil {
		slog.Warn("status update delivery failed", "state", c.state, "error", err)
	}
}

func (c *Controller) notifyLocked(ctx context.Context, typ model.NotificationType, text string) {
	if c.out == nil {
		return
	}
	n := model.Notification{Type: typ, Timestamp: c.now().UnixMilli(), Message: text}
	if err := c.out.Write(ctx, n); err != nil {
		slog.Warn("recording notification delivery failed", "type", typ, "error", err)
	}
}
