package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/crimson-sun/stepwise/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockOutput struct {
	mu     sync.Mutex
	events []model.Notification
	closed bool
	err    error         // if set, Write returns this
	delay  time.Duration // if >0, Write sleeps first
}

func (m *mockOutput) Write(_ context.Context, n model.Notification) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	m.events = append(m.events, n)
	m.mu.Unlock()
	return m.err
}

func (m *mockOutput) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *mockOutput) eventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func testNotification(msg string) model.Notification {
	return model.Notification{Type: model.NotifyRecordingStarted, Message: msg}
}

func TestNotificationsFlowThroughInOrder(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(16))

	msgs := []string{"a", "b", "c", "d"}
	for _, m := range msgs {
		if err := a.Write(context.Background(), testNotification(m)); err != nil {
			t.Fatalf("Write error: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	if inner.eventCount() != len(msgs) {
		t.Fatalf("got %d notifications, want %d", inner.eventCount(), len(msgs))
	}
	for i, m := range msgs {
		if inner.events[i].Message != m {
			t.Errorf("position %d: got %q, want %q", i, inner.events[i].Message, m)
		}
	}
	if !inner.closed {
		t.Error("inner output should be closed")
	}
}

func TestBackpressureBlocks(t *testing.T) {
	inner := &mockOutput{delay: 50 * time.Millisecond}
	a := New(inner, WithBufferSize(1))

	a.Write(context.Background(), testNotification("first"))

	done := make(chan struct{})
	go func() {
		a.Write(context.Background(), testNotification("second"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked indefinitely (expected eventual unblock via drain)")
	}

	a.Close()
}

func TestBlockingWriteHonorsContext(t *testing.T) {
	release := make(chan struct{})
	inner := &blockingOutput{started: make(chan struct{}), release: release}
	a := New(inner, WithBufferSize(1))

	// One notification is held by the drain goroutine, one fills the buffer.
	a.Write(context.Background(), testNotification("held"))
	<-inner.started
	a.Write(context.Background(), testNotification("buffered"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.Write(ctx, testNotification("late")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	a.Close()
}

type blockingOutput struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingOutput) Write(context.Context, model.Notification) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func (b *blockingOutput) Close() error { return nil }

func TestDropOnFull(t *testing.T) {
	inner := &mockOutput{delay: 100 * time.Millisecond}
	a := New(inner, WithBufferSize(1), WithDropOnFull())

	for i := 0; i < 20; i++ {
		if err := a.Write(context.Background(), testNotification("burst")); err != nil {
			t.Fatalf("drop mode Write must not fail: %v", err)
		}
	}

	a.Close()

	if inner.eventCount() == 20 {
		t.Error("expected some notifications to be dropped in drop-on-full mode")
	}
	if inner.eventCount() == 0 {
		t.Error("expected at least some notifications to be delivered")
	}
}

func TestCloseDrainsRemaining(t *testing.T) {
	inner := &mockOutput{}
	a := New(inner, WithBufferSize(100))

	for i := 0; i < 50; i++ {
		a.Write(context.Background(), testNotification("drain"))
	}

	a.Close()

	if inner.eventCount() != 50 {
		t.Errorf("after Close, got %d notifications, want 50 (drain incomplete)", inner.eventCount())
	}
}

func TestErrorCallbackInvoked(t *testing.T) {
	inner := &mockOutput{err: errors.New("write failed")}
	var errorCount atomic.Int64
	a := New(inner, WithBufferSize(16), WithOnError(func(err error) {
		errorCount.Add(1)
	}))

	for i := 0; i < 5; i++ {
		a.Write(context.Background(), testNotification("failing"))
	}

	a.Close()

	if errorCount.Load() != 5 {
		t.Errorf("error callback called %d times, want 5", errorCount.Load())
	}
}

func TestWriteAfterClose(t *testing.T) {
	a := New(&mockOutput{}, WithBufferSize(4))
	a.Close()

	if err := a.Write(context.Background(), testNotification("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	a := New(&mockOutput{}, WithBufferSize(16))

	a.Write(context.Background(), testNotification("idempotent"))

	if err := a.Close(); err != nil {
		t.Fatalf("first Close error: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
