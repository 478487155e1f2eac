package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.add("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.add("INFO", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.add("ERROR", msg, keysAndValues) }

func (l *testLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}
	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(d.Close)
	return d, logger
}

func event(typ string) Event {
	return Event{From: 2, Envelope: streaming.Envelope{Type: typ, Object: 1, Tick: 7}}
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(streaming.TypeHello, func(e Event) error {
		got = e
		return nil
	})

	if err := d.Dispatch(event(streaming.TypeHello)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got.From != 2 || got.Envelope.Tick != 7 {
		t.Errorf("handler got %+v", got)
	}
}

func TestDispatcher_Deliver(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var from core.PeerID
	var stamped bool
	d.Register(streaming.TypeBye, func(e Event) error {
		from = e.From
		stamped = !e.Received.IsZero()
		return nil
	})

	if err := d.Deliver(5, streaming.Envelope{Type: streaming.TypeBye}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if from != 5 || !stamped {
		t.Errorf("from = %d, stamped = %v", from, stamped)
	}
}

func TestDispatcher_UnknownType(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(event("teleport"))
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	d.Register(streaming.TypeVehicleState, func(e Event) error {
		processed.Add(1)
		wg.Done()
		return nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		if err := d.Dispatch(event(streaming.TypeVehicleState)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register(streaming.TypeRigidbodyState, func(e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(2))
	defer close(block)

	d.Dispatch(event(streaming.TypeRigidbodyState))
	<-started
	d.Dispatch(event(streaming.TypeRigidbodyState))
	d.Dispatch(event(streaming.TypeRigidbodyState))

	err := d.Dispatch(event(streaming.TypeRigidbodyState))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if d.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", d.Dropped())
	}
	if depth := d.QueueDepths()[streaming.TypeRigidbodyState]; depth != 2 {
		t.Errorf("expected queue depth 2, got %d", depth)
	}
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register(streaming.TypeReconcile, func(e Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(1), Blocking())

	d.Dispatch(event(streaming.TypeReconcile))
	<-started
	d.Dispatch(event(streaming.TypeReconcile))

	done := make(chan struct{})
	go func() {
		d.Dispatch(event(streaming.TypeReconcile))
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("dispatch did not resume")
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(streaming.TypeMove, func(e Event) error { return nil }, Logged())
	d.Dispatch(event(streaming.TypeMove))

	if n := len(logger.snapshot()); n != 2 {
		t.Errorf("expected 2 log messages, got %d", n)
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(streaming.TypeMove, func(e Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	if err := d.Dispatch(event(streaming.TypeMove)); err == nil {
		t.Error("expected the handler error")
	}

	hasError := false
	for _, msg := range logger.snapshot() {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
		}
	}
	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register(streaming.TypeAck, func(e Event) error { return nil })

	if !d.HasHandler(streaming.TypeAck) {
		t.Error("expected handler to exist")
	}
	if d.HasHandler(streaming.TypeSpawn) {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CloseDrainsQueues(t *testing.T) {
	logger := &testLogger{}
	d, err := New(logger)
	if err != nil {
		t.Fatal(err)
	}

	var processed atomic.Int32
	d.Register(streaming.TypeMove, func(e Event) error {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil
	}, Buffered(10), Logged())

	for i := 0; i < 5; i++ {
		d.Dispatch(event(streaming.TypeMove))
	}
	d.Close()
	d.Close()

	if processed.Load() != 5 {
		t.Errorf("expected 5 processed before Close returned, got %d", processed.Load())
	}
	if err := d.Dispatch(event(streaming.TypeMove)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if n := len(logger.snapshot()); n != 10 {
		t.Errorf("expected 10 log messages, got %d", n)
	}
}

func TestDispatcher_Drain(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(streaming.TypeSnapshot, func(e Event) error {
		time.Sleep(2 * time.Millisecond)
		processed.Add(1)
		return nil
	}, Buffered(10))

	for i := 0; i < 4; i++ {
		d.Dispatch(event(streaming.TypeSnapshot))
	}
	if err := d.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed.Load() != 4 {
		t.Errorf("expected 4 processed after Drain, got %d", processed.Load())
	}
	if d.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", d.Pending())
	}
}

func TestDispatcher_DrainTimeout(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register(streaming.TypeTelemetry, func(e Event) error {
		<-block
		return nil
	}, Buffered(1))
	defer close(block)

	d.Dispatch(event(streaming.TypeTelemetry))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
