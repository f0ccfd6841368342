// Package background routes port and control messages to the recording
// controller and the aggregator.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/recording"
)

const defaultScreenshotTimeout = 2 * time.Second

// ErrUnsupported is returned for message types the background does not handle.
var ErrUnsupported = errors.New("background: unsupported message")

// Screenshotter captures the visible area of a tab as a data URL.
type Screenshotter interface {
	Screenshot(ctx context.Context, tabID int) (string, error)
}

// Sender identifies where a message came from. TabID is zero for UI and
// control callers.
type Sender struct {
	TabID    int
	FrameURL string
}

// Option configures a Service.
type Option func(*Service)

// WithScreenshotter enables best-effort screenshots after each custom event.
func WithScreenshotter(s Screenshotter, timeout time.Duration) Option {
	return func(svc *Service) {
		svc.shots = s
		if timeout > 0 {
			svc.shotTimeout = timeout
		}
	}
}

// Service is the single owner of the aggregator and controller for one process.
type Service struct {
	agg         *aggregator.Aggregator
	ctl         *recording.Controller
	shots       Screenshotter
	shotTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Service.
func New(agg *aggregator.Aggregator, ctl *recording.Controller, opts ...Option) *Service {
	s := &Service{agg: agg, ctl: ctl, shotTimeout: defaultScreenshotTimeout}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Aggregator returns the owned aggregator.
func (s *Service) Aggregator() *aggregator.Aggregator { return s.agg }

// Controller returns the owned controller.
func (s *Service) Controller() *recording.Controller { return s.ctl }

// Handle processes one message. The returned payload, if non-nil, is the
// reply body for callers that asked for one. Event messages never fail:
// malformed ones are logged and dropped.
func (s *Service) Handle(ctx context.Context, from Sender, msg model.Message) (any, error) {
	switch msg.Type {
	case model.MsgStartRecording:
		st, err := s.ctl.Start(ctx)
		return statusUpdate(st), err
	case model.MsgStopRecording:
		st, err := s.ctl.Stop(ctx)
		return statusUpdate(st), err
	case model.MsgGetRecordingData:
		return s.RecordingData(), nil
	case model.MsgRequestRecordingStatus:
		return model.RecordingStatusReply{IsRecordingEnabled: s.ctl.IsRecording()}, nil
	}
	if model.IsEventMessage(msg.Type) {
		s.recordEvent(ctx, from, msg)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, msg.Type)
}

// RecordingData is the synchronous GET_RECORDING_DATA view.
func (s *Service) RecordingData() model.RecordingData {
	return model.RecordingData{
		Workflow:        s.agg.Snapshot(),
		RecordingStatus: string(s.ctl.Status().State),
	}
}

// Close cancels pending screenshots and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) recordEvent(ctx context.Context, from Sender, msg model.Message) {
	ev, err := model.DecodeEvent(msg)
	if errors.Is(err, model.ErrIgnoredEvent) {
		return
	}
	if err != nil {
		slog.Warn("dropping malformed event message", "type", msg.Type, "tab_id", msg.TabID, "error", err)
		return
	}
	// The port's tab wins over whatever the record claims.
	if from.TabID > 0 {
		ev.Base().TabID = from.TabID
	}
	tabID := ev.Base().TabID

	ref, ok := s.agg.Record(ctx, tabID, ev)
	if !ok || s.shots == nil || msg.Type == model.MsgRRWebEvent {
		return
	}
	s.captureScreenshot(ref)
}

// captureScreenshot fetches a screenshot in the background and attaches it
// to ref. Failures leave the event without an image.
func (s *Service) captureScreenshot(ref aggregator.EventRef) {
	s.wg.Add(1)
	s.safeGo(func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.shotTimeout)
		defer cancel()

		data, err := s.shots.Screenshot(ctx, ref.TabID)
		if err != nil {
			slog.Warn("screenshot capture failed", "tab_id", ref.TabID, "error", err)
			return
		}
		if data == "" {
			return
		}
		if !s.agg.AttachScreenshot(ctx, ref, data) {
			slog.Debug("screenshot arrived after the session ended", "tab_id", ref.TabID)
		}
	})
}

// safeGo runs fn in a goroutine that survives panics.
func (s *Service) safeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in background goroutine", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

func statusUpdate(st recording.Status) model.StatusUpdate {
	return model.StatusUpdate{Status: string(st.State), SessionID: st.SessionID, Message: st.Message}
}
