package aggregator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/crimson-sun/stepwise/internal/engine"
	"github.com/crimson-sun/stepwise/internal/model"
	"github.com/crimson-sun/stepwise/internal/output"
)

const (
	DefaultName    = "Recorded Workflow"
	DefaultVersion = "1.0.0"
)

// EventRef addresses one accepted raw event so a late screenshot can be attached to it.
type EventRef struct {
	TabID int
	Index int
	gen   uint64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithOutput sets the destination for WORKFLOW_UPDATE notifications.
// Writes happen under the aggregator lock, so the output should not block.
func WithOutput(o output.Output) Option {
	return func(a *Aggregator) { a.out = o }
}

// WithEngine replaces the default conversion engine.
func WithEngine(e *engine.Engine) Option {
	return func(a *Aggregator) { a.engine = e }
}

// WithClock sets the time source used for notification timestamps and the
// session description. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithWorkflowName sets the name stamped on every snapshot. Default: "Recorded Workflow".
func WithWorkflowName(name string) Option {
	return func(a *Aggregator) { a.name = name }
}

// WithWorkflowVersion sets the version stamped on every snapshot. Default: "1.0.0".
func WithWorkflowVersion(v string) Option {
	return func(a *Aggregator) { a.version = v }
}

// Aggregator holds per-tab raw event logs for the current session and
// derives the merged workflow from them. All methods are safe for
// concurrent use.
type Aggregator struct {
	engine  *engine.Engine
	out     output.Output
	now     func() time.Time
	name    string
	version string

	mu        sync.Mutex
	accepting bool
	logs      map[int][]model.RawEvent
	tabOrder  []int
	lastHash  string
	gen       uint64
	startedAt time.Time
}

// New creates an Aggregator that is not yet accepting events.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		now:     time.Now,
		name:    DefaultName,
		version: DefaultVersion,
		logs:    make(map[int][]model.RawEvent),
	}
	for _, o := range opts {
		o(a)
	}
	if a.engine == nil {
		a.engine = engine.New()
	}
	a.startedAt = a.now()
	return a
}

// SetAccepting toggles whether RecordEvent appends to the logs.
func (a *Aggregator) SetAccepting(on bool) {
	a.mu.Lock()
	a.accepting = on
	a.mu.Unlock()
}

// Accepting reports whether events are currently being appended.
func (a *Aggregator) Accepting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepting
}

// Reset clears every tab log and the change-suppression state. References
// handed out before the reset no longer resolve.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = make(map[int][]model.RawEvent)
	a.tabOrder = nil
	a.lastHash = ""
	a.gen++
	a.startedAt = a.now()
}

// RecordEvent appends ev to the log of tabID when accepting and notifies
// consumers if the derived workflow changed. Events arriving while not
// accepting are discarded.
func (a *Aggregator) RecordEvent(ctx context.Context, tabID int, ev model.RawEvent) {
	a.Record(ctx, tabID, ev)
}

// Record is RecordEvent returning a reference to the stored event and
// whether it was accepted. A malformed event is logged once and never
// stored.
func (a *Aggregator) Record(ctx context.Context, tabID int, ev model.RawEvent) (EventRef, bool) {
	if ev == nil {
		return EventRef{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accepting {
		slog.Debug("event discarded, not recording", "kind", ev.Kind(), "tab_id", tabID)
		return EventRef{}, false
	}
	if err := engine.Validate(ev); err != nil {
		slog.Warn("dropping raw event", "kind", ev.Kind(), "tab_id", tabID, "timestamp", ev.Base().Timestamp, "error", err)
		return EventRef{}, false
	}

	stored := model.Clone(ev)
	stored.Base().TabID = tabID
	if _, seen := a.logs[tabID]; !seen {
		a.tabOrder = append(a.tabOrder, tabID)
	}
	a.logs[tabID] = append(a.logs[tabID], stored)
	ref := EventRef{TabID: tabID, Index: len(a.logs[tabID]) - 1, gen: a.gen}

	a.publishLocked(ctx)
	return ref, true
}

// AttachScreenshot sets the screenshot of a previously recorded event and
// re-derives the workflow. The workflow is frozen once recording stops, so
// late screenshots and refs from before a Reset are rejected. Reports
// whether the screenshot was attached.
func (a *Aggregator) AttachScreenshot(ctx context.Context, ref EventRef, dataURL string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref.gen != a.gen || !a.accepting {
		return false
	}
	log := a.logs[ref.TabID]
	if ref.Index < 0 || ref.Index >= len(log) {
		return false
	}
	log[ref.Index].Base().Screenshot = dataURL
	a.publishLocked(ctx)
	return true
}

// Snapshot returns the workflow derived from the current logs. The result
// shares no memory with the aggregator.
func (a *Aggregator) Snapshot() model.Workflow {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workflowLocked(a.convertLocked())
}

// TabIDs returns the tabs that have contributed events, in first-seen order.
func (a *Aggregator) TabIDs() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.tabOrder...)
}

// convertLocked converts each tab log independently, concatenates them in
// first-seen tab order and stable-sorts by timestamp, so equal timestamps
// keep their within-tab order.
func (a *Aggregator) convertLocked() []model.Step {
	steps := make([]model.Step, 0)
	for _, tab := range a.tabOrder {
		steps = append(steps, a.engine.ProcessLog(a.logs[tab])...)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Timestamp < steps[j].Timestamp
	})
	return steps
}

func (a *Aggregator) workflowLocked(steps []model.Step) model.Workflow {
	return model.Workflow{
		Name:        a.name,
		Description: "Recorded on " + a.startedAt.Format(time.RFC1123),
		Version:     a.version,
		InputSchema: []model.InputField{},
		Steps:       steps,
	}
}

// publishLocked notifies consumers when the derived steps differ from the
// last published ones.
func (a *Aggregator) publishLocked(ctx context.Context) {
	if a.out == nil {
		return
	}
	steps := a.convertLocked()
	h, err := hashSteps(steps)
	if err != nil {
		slog.Warn("hashing steps failed", "error", err)
		return
	}
	if h == a.lastHash {
		return
	}
	a.lastHash = h
	wf := a.workflowLocked(steps)
	n := model.Notification{
		Type:      model.NotifyWorkflowUpdate,
		Timestamp: a.now().UnixMilli(),
		Workflow:  &wf,
	}
	if err := a.out.Write(ctx, n); err != nil {
		slog.Warn("workflow update delivery failed", "steps", len(steps), "error", err)
	}
}

func hashSteps(steps []model.Step) (string, error) {
	data, err := json.Marshal(steps)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
