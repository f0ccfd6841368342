package output

import (
	"github.com/crimson-sun/stepwise/internal/engine/compactor"
	"github.com/crimson-sun/stepwise/internal/model"
)

// FormatNotification returns a copy of n with fields stripped according to verbosity.
// At Minimal: step screenshots are dropped (omitted from JSON via omitempty).
// At Standard/Full: all fields preserved. The input is never mutated.
func FormatNotification(n model.Notification, verbosity compactor.Verbosity) model.Notification {
	if verbosity != compactor.Minimal || n.Workflow == nil {
		return n
	}
	wf := n.Workflow.Clone()
	for i := range wf.Steps {
		wf.Steps[i].Screenshot = ""
	}
	n.Workflow = &wf
	return n
}
