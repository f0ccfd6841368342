package stepwise

import (
	"context"
	"time"

	"github.com/crimson-sun/stepwise/internal/aggregator"
)

type options struct {
	out     Output
	name    string
	version string
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*options)

// WithOutput sends notifications to out. The recorder calls out.Write while
// holding its lock, so slow outputs should queue.
func WithOutput(out Output) Option {
	return func(o *options) { o.out = out }
}

// WithNotify calls fn for every notification.
func WithNotify(fn func(Notification)) Option {
	return WithOutput(notifyFunc(fn))
}

// WithWorkflowName sets the workflow name. Default: "Recorded Workflow".
func WithWorkflowName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithWorkflowVersion sets the workflow version. Default: "1.0.0".
func WithWorkflowVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func defaultOptions() options {
	return options{
		name:    aggregator.DefaultName,
		version: aggregator.DefaultVersion,
		now:     time.Now,
	}
}

type notifyFunc func(Notification)

func (f notifyFunc) Write(_ context.Context, n Notification) error {
	f(n)
	return nil
}

func (f notifyFunc) Close() error { return nil }
