package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/crimson-sun/stepwise/internal/engine/compactor"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/output"
)

// Option configures a stdout Output.
type Option func(*Output)

// WithWriter replaces os.Stdout as the destination.
func WithWriter(w io.Writer) Option {
	return func(o *Output) { o.w = w }
}

// Output writes JSON-encoded notifications to stdout, one per line.
type Output struct {
	mu        sync.Mutex
	w         io.Writer
	enc       *json.Encoder
	verbosity compactor.Verbosity
}

// New creates a new stdout Output with verbosity-aware field omission
// and optional pretty-printed JSON.
func New(verbosity compactor.Verbosity, pretty bool, opts ...Option) *Output {
	o := &Output{w: os.Stdout, verbosity: verbosity}
	for _, opt := range opts {
		opt(o)
	}
	o.enc = json.NewEncoder(o.w)
	if pretty {
		o.enc.SetIndent("", "  ")
	}
	return o
}

func (o *Output) Write(_ context.Context, n model.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(output.FormatNotification(n, o.verbosity)); err != nil {
		return fmt.Errorf("stdout output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}
