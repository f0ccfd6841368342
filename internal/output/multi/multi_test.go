package multi

import (
	"context"
	"errors"
	"testing"

	"github.com/crimson-sun/stepwise/internal/model"
)

// mockOutput records calls for test assertions.
type mockOutput struct {
	events []model.Notification
	closed bool
	err    error // if set, Write and Close return this error
}

func (m *mockOutput) Write(_ context.Context, n model.Notification) error {
	m.events = append(m.events, n)
	return m.err
}

func (m *mockOutput) Close() error {
	m.closed = true
	return m.err
}

func testNotification() model.Notification {
	return model.Notification{
		Type:      model.NotifyWorkflowUpdate,
		Timestamp: 1700000000000,
		Workflow:  &model.Workflow{Name: "checkout", Steps: []model.Step{}},
	}
}

func TestFanOutDeliversToAll(t *testing.T) {
	a := &mockOutput{}
	b := &mockOutput{}
	c := &mockOutput{}
	m := New(a, b, c)

	if err := m.Write(context.Background(), testNotification()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, out := range []*mockOutput{a, b, c} {
		if len(out.events) != 1 {
			t.Fatalf("output %d: got %d notifications, want 1", i, len(out.events))
		}
		if out.events[0].Workflow.Name != "checkout" {
			t.Errorf("output %d: got workflow %q, want %q", i, out.events[0].Workflow.Name, "checkout")
		}
	}
}

func TestErrorDoesNotPreventDelivery(t *testing.T) {
	failing := &mockOutput{err: errors.New("connection refused")}
	healthy := &mockOutput{}
	m := New(failing, healthy)

	err := m.Write(context.Background(), testNotification())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy output got %d notifications, want 1", len(healthy.events))
	}
	if len(failing.events) != 1 {
		t.Fatalf("failing output got %d notifications, want 1", len(failing.events))
	}
}

func TestMultipleErrorsJoined(t *testing.T) {
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	m := New(&mockOutput{err: errA}, &mockOutput{err: errB})

	err := m.Write(context.Background(), testNotification())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errors joined, got %v", err)
	}
}

func TestCloseClosesAll(t *testing.T) {
	a := &mockOutput{}
	b := &mockOutput{}
	m := New(a, b)

	if err := m.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("expected all outputs closed")
	}
}

func TestNilOutputsSkipped(t *testing.T) {
	a := &mockOutput{}
	m := New(nil, a, nil)
	if m.Len() != 1 {
		t.Fatalf("expected 1 output, got %d", m.Len())
	}
	if err := m.Write(context.Background(), testNotification()); err != nil {
		t.Fatal(err)
	}
}

func TestEmpty(t *testing.T) {
	m := New()
	if err := m.Write(context.Background(), testNotification()); err != nil {
		t.Fatalf("empty multi should not error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("empty multi close should not error: %v", err)
	}
}
