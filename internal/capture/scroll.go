package capture

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/crimson-sun/stepwise/internal/model"
)

// DefaultScrollDebounce is the quiet window after which a scroll burst is emitted.
const DefaultScrollDebounce = 500 * time.Millisecond

// scrollCoalescer turns a stream of recorder scroll ticks into a few scroll
// records: one per direction reversal plus one when scrolling settles.
type scrollCoalescer struct {
	window time.Duration
	emit   func(model.RRWebEvent)

	mu      sync.Mutex
	pending *model.RRWebEvent
	target  int
	lastY   int
	hasLast bool
	dir     int // -1 up, +1 down, 0 unknown
	timer   *time.Timer
	gen     uint64
	closed  bool
}

func newScrollCoalescer(window time.Duration, emit func(model.RRWebEvent)) *scrollCoalescer {
	if window <= 0 {
		window = DefaultScrollDebounce
	}
	return &scrollCoalescer{window: window, emit: emit}
}

// add feeds one scroll tick. emit is never called with the lock held.
func (s *scrollCoalescer) add(ev model.RRWebEvent, data model.RRWebScrollData) {
	x, y := int(math.Round(data.X)), int(math.Round(data.Y))
	rounded, err := json.Marshal(model.RRWebScrollData{
		Source: model.RRWebSourceScroll,
		ID:     data.ID,
		X:      float64(x),
		Y:      float64(y),
	})
	if err != nil {
		return
	}
	ev.Data = rounded

	var out []model.RRWebEvent
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.hasLast && s.target != data.ID {
		// A different element started scrolling: settle the previous one now.
		if s.pending != nil {
			out = append(out, *s.pending)
		}
		s.resetLocked()
	}
	s.target = data.ID

	dir := 0
	if s.hasLast {
		switch {
		case y > s.lastY:
			dir = 1
		case y < s.lastY:
			dir = -1
		}
	}
	s.lastY, s.hasLast = y, true

	if dir != 0 && s.dir != 0 && dir != s.dir {
		s.disarmLocked()
		s.pending = nil
		s.dir = dir
		out = append(out, ev)
		s.mu.Unlock()
		s.emitAll(out)
		return
	}
	if dir != 0 {
		s.dir = dir
	}
	s.pending = &ev
	s.armLocked()
	s.mu.Unlock()
	s.emitAll(out)
}

func (s *scrollCoalescer) emitAll(evs []model.RRWebEvent) {
	for _, ev := range evs {
		s.emit(ev)
	}
}

func (s *scrollCoalescer) armLocked() {
	s.disarmLocked()
	gen := s.gen
	s.timer = time.AfterFunc(s.window, func() { s.fire(gen) })
}

// disarmLocked stops the pending timer and invalidates a callback that
// already started.
func (s *scrollCoalescer) disarmLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *scrollCoalescer) resetLocked() {
	s.disarmLocked()
	s.pending = nil
	s.hasLast = false
	s.dir = 0
}

func (s *scrollCoalescer) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.pending == nil || s.closed {
		s.mu.Unlock()
		return
	}
	ev := *s.pending
	s.pending = nil
	s.timer = nil
	s.dir = 0
	s.mu.Unlock()
	s.emit(ev)
}

// drop discards the pending tick and direction state. Later ticks are
// coalesced as usual.
func (s *scrollCoalescer) drop() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

// close drops any pending tick and stops the timer.
func (s *scrollCoalescer) close() {
	s.mu.Lock()
	s.closed = true
	s.resetLocked()
	s.mu.Unlock()
}
