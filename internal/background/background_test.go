package background

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/recording"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeShots struct {
	mu    sync.Mutex
	calls []int
	data  string
	err   error
	block chan struct{}
}

func (f *fakeShots) Screenshot(ctx context.Context, tabID int) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tabID)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.data, f.err
}

func (f *fakeShots) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	agg := aggregator.New()
	ctl := recording.New(agg)
	svc := New(agg, ctl, opts...)
	t.Cleanup(svc.Close)
	return svc
}

func eventMessage(t *testing.T, typ model.MessageType, ev any) model.Message {
	t.Helper()
	msg, err := model.NewMessage(typ, ev)
	require.NoError(t, err)
	return msg
}

func clickPayload(ts int64) model.ClickRecord {
	return model.ClickRecord{
		EventBase: model.EventBase{
			Timestamp:   ts,
			TabID:       77,
			URL:         "https://example.com/",
			FrameURL:    "https://example.com/",
			XPath:       "/html/body[1]/button[1]",
			CSSSelector: "button",
			ElementTag:  "BUTTON",
		},
		ElementText: "Go",
	}
}

func TestStartStopViaMessages(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	reply, err := svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})
	require.NoError(t, err)
	assert.Equal(t, "recording", reply.(model.StatusUpdate).Status)

	reply, err = svc.Handle(ctx, Sender{TabID: 3}, model.Message{Type: model.MsgRequestRecordingStatus})
	require.NoError(t, err)
	assert.True(t, reply.(model.RecordingStatusReply).IsRecordingEnabled)

	reply, err = svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStopRecording})
	require.NoError(t, err)
	assert.Equal(t, "stopped", reply.(model.StatusUpdate).Status)

	_, err = svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStopRecording})
	assert.ErrorIs(t, err, recording.ErrNotRecording)
}

func TestEventUsesSenderTab(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})
	require.NoError(t, err)

	_, err = svc.Handle(ctx, Sender{TabID: 5}, eventMessage(t, model.MsgClickEvent, clickPayload(100)))
	require.NoError(t, err)

	reply, err := svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgGetRecordingData})
	require.NoError(t, err)
	data := reply.(model.RecordingData)
	assert.Equal(t, "recording", data.RecordingStatus)
	require.Len(t, data.Workflow.Steps, 1)
	assert.Equal(t, 5, data.Workflow.Steps[0].TabID)
	assert.Equal(t, "Go", data.Workflow.Steps[0].ElementText)
}

func TestEventIgnoredWhenIdle(t *testing.T) {
	svc := newService(t)
	_, err := svc.Handle(context.Background(), Sender{TabID: 1}, eventMessage(t, model.MsgClickEvent, clickPayload(100)))
	require.NoError(t, err)
	assert.Empty(t, svc.RecordingData().Workflow.Steps)
	assert.Equal(t, "idle", svc.RecordingData().RecordingStatus)
}

func TestMalformedEventDropped(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})

	_, err := svc.Handle(ctx, Sender{TabID: 1}, model.Message{Type: model.MsgClickEvent, Payload: json.RawMessage(`{"timestamp":"nope"}`)})
	assert.NoError(t, err, "event messages never fail")
	assert.Empty(t, svc.RecordingData().Workflow.Steps)
}

func TestUnsupportedMessage(t *testing.T) {
	svc := newService(t)
	_, err := svc.Handle(context.Background(), Sender{}, model.Message{Type: "BOGUS"})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestScreenshotAttached(t *testing.T) {
	shots := &fakeShots{data: "data:image/jpeg;base64,AAAA"}
	svc := newService(t, WithScreenshotter(shots, time.Second))
	ctx := context.Background()
	svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})

	svc.Handle(ctx, Sender{TabID: 4}, eventMessage(t, model.MsgClickEvent, clickPayload(100)))

	require.Eventually(t, func() bool {
		steps := svc.RecordingData().Workflow.Steps
		return len(steps) == 1 && steps[0].Screenshot != ""
	}, 2*time.Second, 10*time.Millisecond)

	shots.mu.Lock()
	assert.Equal(t, []int{4}, shots.calls)
	shots.mu.Unlock()
}

func TestScreenshotSkippedForRecorderEvents(t *testing.T) {
	shots := &fakeShots{data: "data:image/jpeg;base64,AAAA"}
	svc := newService(t, WithScreenshotter(shots, time.Second))
	ctx := context.Background()
	svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})

	scroll, err := model.EncodeEvent(&model.ScrollRecord{
		EventBase: model.EventBase{Timestamp: 10, URL: "https://example.com/"},
		TargetID:  1,
		ScrollY:   300,
	})
	require.NoError(t, err)
	svc.Handle(ctx, Sender{TabID: 4}, scroll)

	require.Len(t, svc.RecordingData().Workflow.Steps, 1)
	assert.Equal(t, 0, shots.callCount())
}

func TestScreenshotFailureKeepsEvent(t *testing.T) {
	shots := &fakeShots{err: errors.New("tab not visible")}
	svc := newService(t, WithScreenshotter(shots, time.Second))
	ctx := context.Background()
	svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})

	svc.Handle(ctx, Sender{TabID: 4}, eventMessage(t, model.MsgClickEvent, clickPayload(100)))
	require.Eventually(t, func() bool { return shots.callCount() == 1 }, time.Second, 5*time.Millisecond)

	steps := svc.RecordingData().Workflow.Steps
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].Screenshot)
}

func TestScreenshotTimeout(t *testing.T) {
	shots := &fakeShots{data: "x", block: make(chan struct{})}
	svc := newService(t, WithScreenshotter(shots, 20*time.Millisecond))
	ctx := context.Background()
	svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})

	svc.Handle(ctx, Sender{TabID: 4}, eventMessage(t, model.MsgClickEvent, clickPayload(100)))
	require.Eventually(t, func() bool { return shots.callCount() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, svc.RecordingData().Workflow.Steps[0].Screenshot)
}

func TestCloseCancelsPendingScreenshots(t *testing.T) {
	shots := &fakeShots{data: "x", block: make(chan struct{})}
	agg := aggregator.New()
	svc := New(agg, recording.New(agg), WithScreenshotter(shots, time.Hour))
	ctx := context.Background()
	svc.Handle(ctx, Sender{}, model.Message{Type: model.MsgStartRecording})
	svc.Handle(ctx, Sender{TabID: 4}, eventMessage(t, model.MsgClickEvent, clickPayload(100)))

	done := make(chan struct{})
	go func() {
		svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel pending screenshot")
	}
}
