package recording

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/model"
)

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []model.Message
	err  error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeBroadcaster) last(t *testing.T) model.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	return f.msgs[len(f.msgs)-1]
}

type fakeOutput struct {
	mu  sync.Mutex
	got []model.Notification
}

func (f *fakeOutput) Write(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return nil
}

func (f *fakeOutput) Close() error { return nil }

func (f *fakeOutput) types() []model.NotificationType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ts []model.NotificationType
	for _, n := range f.got {
		ts = append(ts, n.Type)
	}
	return ts
}

type harness struct {
	agg      *aggregator.Aggregator
	ctl      *Controller
	contexts *fakeBroadcaster
	ui       *fakeBroadcaster
	out      *fakeOutput
}

func newHarness() *harness {
	h := &harness{
		contexts: &fakeBroadcaster{},
		ui:       &fakeBroadcaster{},
		out:      &fakeOutput{},
	}
	h.agg = aggregator.New(aggregator.WithOutput(h.out))
	h.ctl = New(h.agg, WithContexts(h.contexts), WithUI(h.ui), WithOutput(h.out))
	return h
}

func click(ts int64) *model.ClickRecord {
	return &model.ClickRecord{EventBase: model.EventBase{
		Timestamp:   ts,
		URL:         "https://example.com/",
		XPath:       "/html/body[1]/button[1]",
		CSSSelector: "button",
	}}
}

func decodeBool(t *testing.T, msg model.Message) bool {
	t.Helper()
	var b bool
	require.NoError(t, json.Unmarshal(msg.Payload, &b))
	return b
}

func TestInitialState(t *testing.T) {
	h := newHarness()
	st := h.ctl.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.SessionID)
	assert.False(t, h.ctl.IsRecording())
	assert.False(t, h.agg.Accepting())
}

func TestStartEnablesCapture(t *testing.T) {
	h := newHarness()
	st, err := h.ctl.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateRecording, st.State)
	_, err = ulid.ParseStrict(st.SessionID)
	assert.NoError(t, err, "session id should be a ULID")
	assert.True(t, h.agg.Accepting())

	msg := h.contexts.last(t)
	assert.Equal(t, model.MsgSetRecordingStatus, msg.Type)
	assert.True(t, decodeBool(t, msg))

	var upd model.StatusUpdate
	require.NoError(t, h.ui.last(t).Decode(&upd))
	assert.Equal(t, "recording", upd.Status)
	assert.Equal(t, st.SessionID, upd.SessionID)

	assert.Equal(t, []model.NotificationType{model.NotifyRecordingStarted}, h.out.types())
}

func TestStopPreservesWorkflow(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, err := h.ctl.Start(ctx)
	require.NoError(t, err)

	h.agg.RecordEvent(ctx, 1, click(100))
	st, err := h.ctl.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, st.State)
	assert.False(t, h.agg.Accepting())
	assert.False(t, decodeBool(t, h.contexts.last(t)))
	assert.Len(t, h.agg.Snapshot().Steps, 1)

	h.agg.RecordEvent(ctx, 1, click(200))
	assert.Len(t, h.agg.Snapshot().Steps, 1, "events after stop are discarded")

	assert.Equal(t, []model.NotificationType{
		model.NotifyRecordingStarted,
		model.NotifyWorkflowUpdate,
		model.NotifyRecordingStopped,
	}, h.out.types())
}

func TestStopWhenNotRecording(t *testing.T) {
	h := newHarness()
	_, err := h.ctl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.Equal(t, StateIdle, h.ctl.Status().State)
}

func TestRestartResets(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.ctl.Start(ctx)
	require.NoError(t, err)
	h.agg.RecordEvent(ctx, 1, click(100))
	h.agg.RecordEvent(ctx, 2, click(200))

	second, err := h.ctl.Start(ctx)
	require.NoError(t, err)

	assert.Empty(t, h.agg.Snapshot().Steps)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	// Identical event must notify again in the new session.
	before := len(h.out.types())
	h.agg.RecordEvent(ctx, 1, click(100))
	assert.Len(t, h.out.types(), before+1)
}

func TestTransportFailureEntersError(t *testing.T) {
	h := newHarness()
	h.contexts.err = errors.New("port closed")

	st, err := h.ctl.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Message, "port closed")
	assert.False(t, h.agg.Accepting())

	var upd model.StatusUpdate
	require.NoError(t, h.ui.last(t).Decode(&upd))
	assert.Equal(t, "error", upd.Status)
	assert.NotEmpty(t, upd.Message)

	_, err = h.ctl.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotRecording, "stop does not leave the error state")

	h.contexts.err = nil
	st, err = h.ctl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRecording, st.State)
	assert.Empty(t, st.Message)
}

func TestUIFailureIsNotFatal(t *testing.T) {
	h := newHarness()
	h.ui.err = errors.New("ui gone")

	st, err := h.ctl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRecording, st.State)
}

func TestWithoutBroadcasters(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	agg := aggregator.New()
	ctl := New(agg, WithClock(func() time.Time { return now }))

	st, err := ctl.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, st.Since)

	id := ulid.MustParse(st.SessionID)
	assert.Equal(t, uint64(now.UnixMilli()), id.Time())
}
