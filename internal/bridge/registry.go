package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crimson-sun/stepwise/internal/model"
)

// Registry tracks connected ports. Once closed it accepts no ports and
// every broadcast fails.
type Registry struct {
	mu     sync.RWMutex
	ports  map[string]*Port
	order  []string // connection order, oldest first
	closed bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ports: make(map[string]*Port)}
}

func (r *Registry) add(p *Port) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("bridge: registry closed: %w", ErrPortClosed)
	}
	r.ports[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Closed reports whether Close was called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Registry) remove(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ports[p.ID]; !ok {
		return
	}
	delete(r.ports, p.ID)
	for i, id := range r.order {
		if id == p.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Ports returns the connected ports with the given role, oldest first.
func (r *Registry) Ports(role Role) []*Port {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Port
	for _, id := range r.order {
		if p := r.ports[id]; p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// Len reports the number of connected ports.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ports)
}

// Tab returns the most recently connected capture port for tabID.
func (r *Registry) Tab(tabID int) (*Port, error) {
	ports := r.Ports(RoleCapture)
	for i := len(ports) - 1; i >= 0; i-- {
		if ports[i].TabID == tabID {
			return ports[i], nil
		}
	}
	return nil, fmt.Errorf("%w %d", ErrNoPort, tabID)
}

// Broadcaster returns a broadcaster reaching every port with role.
func (r *Registry) Broadcaster(role Role) *Broadcaster {
	return &Broadcaster{reg: r, role: role}
}

// Screenshot asks the tab's capture context for a visible-area screenshot.
func (r *Registry) Screenshot(ctx context.Context, tabID int) (string, error) {
	p, err := r.Tab(tabID)
	if err != nil {
		return "", err
	}
	reply, err := p.Request(ctx, model.Message{Type: model.MsgCaptureScreenshot, TabID: tabID})
	if err != nil {
		return "", err
	}
	var shot model.ScreenshotReply
	if err := reply.Decode(&shot); err != nil {
		return "", err
	}
	return shot.DataURL, nil
}

// Close closes every port and marks the registry closed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ports := make([]*Port, 0, len(r.ports))
	for _, p := range r.ports {
		ports = append(ports, p)
	}
	r.mu.Unlock()
	for _, p := range ports {
		p.Close()
	}
}

// Broadcaster sends one message to every port of a role. A failing
// recipient is logged and dropped without affecting the others; only a
// closed registry fails the broadcast as a whole.
type Broadcaster struct {
	reg  *Registry
	role Role
}

// Broadcast delivers msg to every port of the role.
func (b *Broadcaster) Broadcast(ctx context.Context, msg model.Message) error {
	if b.reg.Closed() {
		return fmt.Errorf("bridge: broadcast %s to %s ports: %w", msg.Type, b.role, ErrPortClosed)
	}
	for _, p := range b.reg.Ports(b.role) {
		if err := p.Send(ctx, msg); err != nil {
			slog.Warn("port delivery failed", "role", b.role, "tab_id", p.TabID, "port", p.ID, "type", msg.Type, "error", err)
			b.reg.remove(p)
			p.Close()
		}
	}
	return nil
}

// UIOutput forwards WORKFLOW_UPDATE notifications to UI ports as workflow_updated.
type UIOutput struct {
	b *Broadcaster
}

// NewUIOutput creates a UIOutput over reg.
func NewUIOutput(reg *Registry) *UIOutput {
	return &UIOutput{b: reg.Broadcaster(RoleUI)}
}

func (o *UIOutput) Write(ctx context.Context, n model.Notification) error {
	if n.Type != model.NotifyWorkflowUpdate || n.Workflow == nil {
		return nil
	}
	msg, err := model.NewMessage(model.MsgWorkflowUpdated, n.Workflow)
	if err != nil {
		return err
	}
	return o.b.Broadcast(ctx, msg)
}

func (o *UIOutput) Close() error { return nil }
