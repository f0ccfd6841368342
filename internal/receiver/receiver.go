// Package receiver is the consumer side of the outbound notifications: an
// HTTP server that keeps the latest workflow of a recording session and
// exports it when the session stops.
package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/crimson-sun/stepwise/internal/export"
	"github.com/crimson-sun/stepwise/internal/model"
)

const maxBodyBytes = 32 << 20

// ErrNoWorkflow is returned when a session stops before any workflow update arrived.
var ErrNoWorkflow = errors.New("receiver: no workflow received")

// Option configures a Receiver.
type Option func(*Receiver)

// WithFs sets the filesystem exports are written to. Default: the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Receiver) { r.fs = fs }
}

// WithDir sets the export directory. Default: "workflows".
func WithDir(dir string) Option {
	return func(r *Receiver) { r.dir = dir }
}

// WithFormat sets the export encoding. Default: JSON.
func WithFormat(f export.Format) Option {
	return func(r *Receiver) { r.format = f }
}

// WithClock overrides the time used in export file names.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

// WithOnFinal registers fn to run after a session's workflow was exported.
func WithOnFinal(fn func(path string, wf model.Workflow)) Option {
	return func(r *Receiver) { r.onFinal = fn }
}

// Receiver accepts notifications over HTTP or in process (it is an output.Output).
type Receiver struct {
	fs      afero.Fs
	dir     string
	format  export.Format
	now     func() time.Time
	onFinal func(string, model.Workflow)
	mux     *http.ServeMux

	mu        sync.Mutex
	last      *model.Workflow
	finalized bool
	exports   []string
}

// New creates a Receiver.
func New(opts ...Option) *Receiver {
	r := &Receiver{
		fs:     afero.NewOsFs(),
		dir:    "workflows",
		format: export.JSON,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.mux = http.NewServeMux()
	r.mux.HandleFunc("POST /event", r.handleEvent)
	r.mux.HandleFunc("GET /workflow", r.handleWorkflow)
	r.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Handler serves POST /event, GET /workflow and GET /healthz.
func (r *Receiver) Handler() http.Handler { return r.mux }

// Write applies one notification. RECORDING_STARTED opens a new session,
// WORKFLOW_UPDATE replaces the kept workflow and RECORDING_STOPPED exports
// it once per session.
func (r *Receiver) Write(_ context.Context, n model.Notification) error {
	switch n.Type {
	case model.NotifyRecordingStarted:
		r.mu.Lock()
		r.last = nil
		r.finalized = false
		r.mu.Unlock()
		slog.Info("receiver: recording started", "message", n.Message)
		return nil
	case model.NotifyWorkflowUpdate:
		if n.Workflow == nil {
			return fmt.Errorf("receiver: %s without workflow", n.Type)
		}
		wf := n.Workflow.Clone()
		r.mu.Lock()
		r.last = &wf
		r.mu.Unlock()
		slog.Debug("receiver: workflow update", "steps", len(wf.Steps))
		return nil
	case model.NotifyRecordingStopped:
		return r.finalize()
	default:
		return fmt.Errorf("receiver: unknown notification %q", n.Type)
	}
}

// Close is a no-op.
func (r *Receiver) Close() error { return nil }

// Last returns the most recent workflow.
func (r *Receiver) Last() (model.Workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return model.Workflow{}, false
	}
	return r.last.Clone(), true
}

// Exports lists the files written so far, oldest first.
func (r *Receiver) Exports() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.exports...)
}

func (r *Receiver) finalize() error {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return nil
	}
	if r.last == nil {
		r.mu.Unlock()
		return ErrNoWorkflow
	}
	wf := r.last.Clone()
	r.finalized = true
	r.mu.Unlock()

	p, err := export.WriteFile(r.fs, r.dir, wf, r.format, r.now())
	if err != nil {
		r.mu.Lock()
		r.finalized = false
		r.mu.Unlock()
		return fmt.Errorf("receiver: export: %w", err)
	}
	r.mu.Lock()
	r.exports = append(r.exports, p)
	r.mu.Unlock()

	slog.Info("receiver: workflow exported", "path", p, "steps", len(wf.Steps))
	if r.onFinal != nil {
		r.onFinal(p, wf)
	}
	return nil
}

func (r *Receiver) handleEvent(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	var n model.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := r.Write(req.Context(), n); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoWorkflow) {
			status = http.StatusConflict
		}
		slog.Warn("receiver: event rejected", "type", n.Type, "error", err)
		jsonResponse(w, status, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Event queued for processing",
	})
}

func (r *Receiver) handleWorkflow(w http.ResponseWriter, _ *http.Request) {
	wf, ok := r.Last()
	if !ok {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "no workflow received"})
		return
	}
	jsonResponse(w, http.StatusOK, wf)
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("receiver: write response", "error", err)
	}
}
