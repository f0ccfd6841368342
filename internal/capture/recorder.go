package capture

import (
	"sync"

	"github.com/crimson-sun/stepwise/internal/model"
)

// SessionRecorder is the session-replay recorder that reports navigation
// (Meta) and scroll (IncrementalSnapshot) events. Start begins recording and
// returns the function that stops it.
type SessionRecorder interface {
	Start(emit func(model.RRWebEvent)) (stop func())
}

// ManualRecorder is a SessionRecorder fed by its owner. Emit is a no-op
// while the recorder is stopped.
type ManualRecorder struct {
	mu   sync.Mutex
	emit func(model.RRWebEvent)
}

func (r *ManualRecorder) Start(emit func(model.RRWebEvent)) func() {
	r.mu.Lock()
	r.emit = emit
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.emit = nil
		r.mu.Unlock()
	}
}

// Emit reports ev to the capturer and returns whether the recorder was running.
func (r *ManualRecorder) Emit(ev model.RRWebEvent) bool {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit == nil {
		return false
	}
	emit(ev)
	return true
}

// Running reports whether the recorder was started and not stopped.
func (r *ManualRecorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emit != nil
}
