package stepwise

import (
	"context"
	"fmt"
	"sort"

	"github.com/crimson-sun/stepwise/internal/aggregator"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/recording"
)

// Recorder is an in-process recording session.
type Recorder struct {
	agg *aggregator.Aggregator
	ctl *recording.Controller
	out Output
}

// New creates an idle Recorder.
func New(opts ...Option) *Recorder {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	agg := aggregator.New(
		aggregator.WithOutput(o.out),
		aggregator.WithClock(o.now),
		aggregator.WithWorkflowName(o.name),
		aggregator.WithWorkflowVersion(o.version),
	)
	ctl := recording.New(agg, recording.WithOutput(o.out), recording.WithClock(o.now))
	return &Recorder{agg: agg, ctl: ctl, out: o.out}
}

// Start begins a new session, discarding the previous workflow.
func (r *Recorder) Start(ctx context.Context) (Status, error) {
	return r.ctl.Start(ctx)
}

// Stop ends the session. The workflow stays readable.
func (r *Recorder) Stop(ctx context.Context) (Status, error) {
	return r.ctl.Stop(ctx)
}

// Record adds ev to the log of tabID. It reports false when no session is
// recording or when ev lacks a mandatory field.
func (r *Recorder) Record(ctx context.Context, tabID int, ev RawEvent) bool {
	_, ok := r.agg.Record(ctx, tabID, ev)
	return ok
}

// RecordMessage decodes a capture wire message and records its event.
func (r *Recorder) RecordMessage(ctx context.Context, msg Message) (bool, error) {
	ev, err := model.DecodeEvent(msg)
	if err != nil {
		return false, fmt.Errorf("stepwise: %w", err)
	}
	return r.Record(ctx, ev.Base().TabID, ev), nil
}

// Workflow returns the current workflow.
func (r *Recorder) Workflow() Workflow {
	return r.agg.Snapshot()
}

// Status returns the recording state.
func (r *Recorder) Status() Status {
	return r.ctl.Status()
}

// Close closes the output.
func (r *Recorder) Close() error {
	if r.out == nil {
		return nil
	}
	return r.out.Close()
}

// Convert builds the workflow of per-tab logs without notifications.
// Tabs are visited in ascending id order, which breaks timestamp ties.
func Convert(logs map[int][]RawEvent, opts ...Option) Workflow {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	agg := aggregator.New(
		aggregator.WithClock(o.now),
		aggregator.WithWorkflowName(o.name),
		aggregator.WithWorkflowVersion(o.version),
	)
	agg.SetAccepting(true)

	tabs := make([]int, 0, len(logs))
	for id := range logs {
		tabs = append(tabs, id)
	}
	sort.Ints(tabs)
	ctx := context.Background()
	for _, id := range tabs {
		for _, ev := range logs[id] {
			agg.RecordEvent(ctx, id, ev)
		}
	}
	return agg.Snapshot()
}
