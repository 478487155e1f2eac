// Package dispatcher routes inbound protocol messages to their handlers. Handlers can run
// inline or behind a per-type buffer drained by its own goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/vehiclesim/pkg/core"
	"github.com/OCAP2/vehiclesim/pkg/streaming"
)

var (
	ErrUnknownType = errors.New("no handler for message type")
	ErrQueueFull   = errors.New("queue full")
	ErrClosed      = errors.New("dispatcher closed")
)

// Event is one received envelope.
type Event struct {
	From     core.PeerID
	Envelope streaming.Envelope
	Received time.Time
}

// Type is the message type the event is routed by.
func (e Event) Type() string { return e.Envelope.Type }

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) { c.bufferSize = size }
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) { c.blocking = true }
}

// Logged adds debug logging around the handler.
func Logged() Option {
	return func(c *config) { c.logged = true }
}

// Dispatcher routes events to registered handlers. Register everything before the first
// Dispatch.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	failed    metric.Int64Counter

	mu      sync.RWMutex
	buffers map[string]chan Event
	closed  bool
	wg      sync.WaitGroup

	droppedTotal atomic.Int64
	// pending counts buffered events accepted but not yet handled.
	pending atomic.Int64
}

// New creates a Dispatcher. Metrics go to the global OTel meter provider.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		buffers:  make(map[string]chan Event),
		logger:   logger,
	}

	m := otel.Meter("github.com/OCAP2/vehiclesim/internal/dispatcher")
	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of messages waiting per type"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			for typ, n := range d.QueueDepths() {
				o.ObserveInt64(d.queueSize, int64(n), metric.WithAttributes(attribute.String("type", typ)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	if d.processed, err = m.Int64Counter("dispatcher.messages.processed",
		metric.WithDescription("Total messages handled")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if d.dropped, err = m.Int64Counter("dispatcher.messages.dropped",
		metric.WithDescription("Total messages dropped due to a full queue")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if d.failed, err = m.Int64Counter("dispatcher.messages.failed",
		metric.WithDescription("Total messages whose handler returned an error")); err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}
	return d, nil
}

// Register adds a handler for a message type.
func (d *Dispatcher) Register(typ string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(typ, handler)
	}
	if cfg.bufferSize > 0 {
		handler = d.withBuffer(typ, cfg.bufferSize, cfg.blocking, handler)
	}
	d.handlers[typ] = handler
}

// Dispatch routes an event to its handler.
func (d *Dispatcher) Dispatch(e Event) error {
	h, ok := d.handlers[e.Type()]
	if !ok {
		return fmt.Errorf("%q: %w", e.Type(), ErrUnknownType)
	}
	return h(e)
}

// Deliver dispatches an envelope received from a peer, so the dispatcher can sit behind
// a transport.
func (d *Dispatcher) Deliver(from core.PeerID, env streaming.Envelope) error {
	return d.Dispatch(Event{From: from, Envelope: env, Received: time.Now()})
}

// HasHandler returns true if a handler is registered for the type.
func (d *Dispatcher) HasHandler(typ string) bool {
	_, ok := d.handlers[typ]
	return ok
}

// QueueDepths reports how many events wait in each buffered queue.
func (d *Dispatcher) QueueDepths() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.buffers))
	for typ, buf := range d.buffers {
		out[typ] = len(buf)
	}
	return out
}

// Dropped is the number of events lost to full queues.
func (d *Dispatcher) Dropped() int64 {
	return d.droppedTotal.Load()
}

// Pending is the number of buffered events not yet handled.
func (d *Dispatcher) Pending() int64 {
	return d.pending.Load()
}

// Drain waits until every buffered event accepted so far has been handled. Events
// dispatched while draining extend the wait.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for d.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting buffered events and waits until the queues are drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) withBuffer(typ string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[typ] = buffer
	d.mu.Unlock()

	typAttr := metric.WithAttributes(attribute.String("type", typ))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			if err := h(e); err != nil {
				d.failed.Add(context.Background(), 1, typAttr)
			}
			d.processed.Add(context.Background(), 1, typAttr)
			d.pending.Add(-1)
		}
	}()

	// The read lock keeps Close from closing the channel under a pending send.
	return func(e Event) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return ErrClosed
		}
		d.pending.Add(1)
		if blocking {
			buffer <- e
			return nil
		}
		select {
		case buffer <- e:
			return nil
		default:
			d.pending.Add(-1)
			d.droppedTotal.Add(1)
			d.dropped.Add(context.Background(), 1, typAttr)
			return fmt.Errorf("%s: %w", typ, ErrQueueFull)
		}
	}
}

func (d *Dispatcher) withLogging(typ string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling message", "type", typ, "from", e.From, "object", e.Envelope.Object, "tick", e.Envelope.Tick)

		err := h(e)
		if err != nil {
			d.logger.Error("message failed", "type", typ, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "type", typ, "duration", time.Since(start))
		}
		return err
	}
}
