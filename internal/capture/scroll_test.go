package capture

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/stepwise/internal/model"
)

type emitted struct {
	mu  sync.Mutex
	evs []model.RRWebEvent
}

func (e *emitted) emit(ev model.RRWebEvent) {
	e.mu.Lock()
	e.evs = append(e.evs, ev)
	e.mu.Unlock()
}

func (e *emitted) scrolls(t *testing.T) []model.RRWebScrollData {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.RRWebScrollData, 0, len(e.evs))
	for _, ev := range e.evs {
		var d model.RRWebScrollData
		require.NoError(t, json.Unmarshal(ev.Data, &d))
		out = append(out, d)
	}
	return out
}

func (e *emitted) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.evs)
}

func tick(s *scrollCoalescer, id int, x, y float64, ts int64) {
	s.add(model.RRWebEvent{Type: model.RRWebIncrementalSnapshot, Timestamp: ts},
		model.RRWebScrollData{Source: model.RRWebSourceScroll, ID: id, X: x, Y: y})
}

func TestScrollReversalEmitsImmediately(t *testing.T) {
	var out emitted
	s := newScrollCoalescer(time.Hour, out.emit)
	defer s.close()

	tick(s, 1, 0, 0, 1)
	tick(s, 1, 0, 10, 2)
	tick(s, 1, 0, 20, 3)
	assert.Zero(t, out.len(), "no emission while scrolling in one direction")

	tick(s, 1, 0, 5, 4)
	got := out.scrolls(t)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].Y)
	assert.Equal(t, int64(4), out.evs[0].Timestamp)
}

func TestScrollDebouncedEmission(t *testing.T) {
	var out emitted
	s := newScrollCoalescer(30*time.Millisecond, out.emit)
	defer s.close()

	tick(s, 1, 0, 0, 1)
	tick(s, 1, 0, 10, 2)
	tick(s, 1, 0.4, 20.6, 3)
	assert.Zero(t, out.len())

	require.Eventually(t, func() bool { return out.len() == 1 }, time.Second, 5*time.Millisecond)
	got := out.scrolls(t)
	assert.Equal(t, 0.0, got[0].X)
	assert.Equal(t, 21.0, got[0].Y)
	assert.Equal(t, 1, got[0].ID)

	// Direction state is cleared after a debounced emission, so scrolling
	// back up starts a new burst instead of counting as a reversal.
	tick(s, 1, 0, 15, 4)
	assert.Equal(t, 1, out.len())
	require.Eventually(t, func() bool { return out.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestScrollTargetChangeFlushesPending(t *testing.T) {
	var out emitted
	s := newScrollCoalescer(time.Hour, out.emit)
	defer s.close()

	tick(s, 1, 0, 100, 1)
	tick(s, 1, 0, 200, 2)
	tick(s, 9, 0, 50, 3)

	got := out.scrolls(t)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 200.0, got[0].Y)
}

func TestScrollCloseDropsPending(t *testing.T) {
	var out emitted
	s := newScrollCoalescer(10*time.Millisecond, out.emit)
	tick(s, 1, 0, 10, 1)
	s.close()
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, out.len())

	tick(s, 1, 0, 20, 2)
	assert.Zero(t, out.len())
}

func TestScrollAfterStopIsDropped(t *testing.T) {
	c, port, _ := newCapturer(t, WithDebounce(20*time.Millisecond))
	data, err := json.Marshal(model.RRWebScrollData{Source: model.RRWebSourceScroll, ID: 3, Y: 40})
	require.NoError(t, err)

	c.HandleRecorderEvent(model.RRWebEvent{Type: model.RRWebIncrementalSnapshot, Timestamp: 10, Data: data})
	c.SetActive(false)
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, port.messages())
}

func TestScrollForwardedThroughCapturer(t *testing.T) {
	c, port, _ := newCapturer(t, WithDebounce(20*time.Millisecond))
	for i, y := range []float64{0, 10, 20, 5} {
		data, err := json.Marshal(model.RRWebScrollData{Source: model.RRWebSourceScroll, ID: 3, Y: y})
		require.NoError(t, err)
		c.HandleRecorderEvent(model.RRWebEvent{Type: model.RRWebIncrementalSnapshot, Timestamp: int64(100 + i), Data: data})
	}

	evs := port.events(t)
	require.Len(t, evs, 1)
	sc := evs[0].(*model.ScrollRecord)
	assert.Equal(t, 5, sc.ScrollY)
	assert.Equal(t, 3, sc.TargetID)
	assert.Equal(t, 7, sc.TabID)
	assert.Equal(t, int64(103), sc.Timestamp)
}

func TestScrollDropClearsPendingAndDirection(t *testing.T) {
	var out emitted
	s := newScrollCoalescer(20*time.Millisecond, out.emit)
	defer s.close()

	tick(s, 1, 0, 0, 1)
	tick(s, 1, 0, 50, 2)
	s.drop()
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, out.len())

	// Scrolling up after a drop is a fresh burst, not a reversal.
	tick(s, 1, 0, 10, 3)
	assert.Zero(t, out.len())
	require.Eventually(t, func() bool { return out.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 10.0, out.scrolls(t)[0].Y)
}

func TestScrollPendingAcrossRestartIsDropped(t *testing.T) {
	rec := &ManualRecorder{}
	c, port, _ := newCapturer(t, WithRecorder(rec), WithDebounce(50*time.Millisecond))
	data, err := json.Marshal(model.RRWebScrollData{Source: model.RRWebSourceScroll, ID: 1, Y: 400})
	require.NoError(t, err)

	require.True(t, rec.Emit(model.RRWebEvent{Type: model.RRWebIncrementalSnapshot, Timestamp: 111, Data: data}))
	c.SetActive(false)
	c.SetActive(true)
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, port.events(t), "a tick from the previous session must not reach the new one")
}
