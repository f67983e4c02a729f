package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/remote"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rflink/bridge/internal/dispatcher"

// Event is one remote-protocol message to handle.
type Event struct {
	Message   remote.Message
	Peer      string
	Timestamp time.Time
}

// HandlerFunc processes an event and returns the reply.
type HandlerFunc func(context.Context, Event) (remote.Message, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

var (
	// ErrUnknownTag is returned by Dispatch for a tag with no handler.
	ErrUnknownTag = errors.New("no handler for message tag")
	// ErrQueueFull is returned by a non-blocking buffered handler.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned by buffered handlers after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size. The
// caller gets an Ack as soon as the event is queued.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to handlers registered per message tag.
type Dispatcher struct {
	handlers map[remote.Tag]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter
	duration  metric.Float64Histogram

	// Track buffers for gauge callback
	mu      sync.RWMutex
	closed  bool
	buffers map[remote.Tag]chan Event
	workers sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[remote.Tag]HandlerFunc),
		buffers:  make(map[remote.Tag]chan Event),
		logger:   logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for tag, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("tag", tag.String())))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.failed, err = m.Int64Counter(
		"dispatcher.events.failed",
		metric.WithDescription("Total events whose handler returned an error"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	d.duration, err = m.Float64Histogram(
		"dispatcher.events.duration",
		metric.WithDescription("Handler latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given tag with optional configuration.
// Handlers must be registered before the first Dispatch.
func (d *Dispatcher) Register(tag remote.Tag, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := d.withMetrics(tag, h)

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(tag, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.logged {
		handler = d.withLogging(tag, handler)
	}

	d.handlers[tag] = handler
}

// Dispatch routes an event to the handler for its message tag.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) (remote.Message, error) {
	h, ok := d.handlers[e.Message.Tag]
	if !ok {
		return remote.Message{}, fmt.Errorf("%w: %s", ErrUnknownTag, e.Message.Tag)
	}
	return h(ctx, e)
}

// HasHandler returns true if a handler is registered for the tag.
func (d *Dispatcher) HasHandler(tag remote.Tag) bool {
	_, ok := d.handlers[tag]
	return ok
}

// Close stops accepting buffered events and waits until every queued
// event has been handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, buf := range d.buffers {
			close(buf)
		}
	}
	d.mu.Unlock()
	d.workers.Wait()
}

func (d *Dispatcher) withMetrics(tag remote.Tag, h HandlerFunc) HandlerFunc {
	tagAttr := metric.WithAttributes(attribute.String("tag", tag.String()))
	return func(ctx context.Context, e Event) (remote.Message, error) {
		start := time.Now()
		reply, err := h(ctx, e)
		d.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), tagAttr)
		d.processed.Add(ctx, 1, tagAttr)
		if err != nil {
			d.failed.Add(ctx, 1, tagAttr)
		}
		return reply, err
	}
}

func (d *Dispatcher) withBuffer(tag remote.Tag, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[tag] = buffer
	d.mu.Unlock()

	tagAttr := metric.WithAttributes(attribute.String("tag", tag.String()))

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		for e := range buffer {
			if _, err := h(context.Background(), e); err != nil {
				d.logger.Error("buffered event failed", "tag", tag, "error", err)
			}
		}
	}()

	if blocking {
		return func(ctx context.Context, e Event) (remote.Message, error) {
			d.mu.RLock()
			defer d.mu.RUnlock()
			if d.closed {
				return remote.Message{}, ErrClosed
			}
			select {
			case buffer <- e:
				return remote.Ack(), nil
			case <-ctx.Done():
				return remote.Message{}, ctx.Err()
			}
		}
	}

	return func(ctx context.Context, e Event) (remote.Message, error) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return remote.Message{}, ErrClosed
		}
		select {
		case buffer <- e:
			return remote.Ack(), nil
		default:
			d.dropped.Add(ctx, 1, tagAttr)
			return remote.Message{}, fmt.Errorf("%w: %s", ErrQueueFull, tag)
		}
	}
}

func (d *Dispatcher) withLogging(tag remote.Tag, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) (remote.Message, error) {
		start := time.Now()
		d.logger.Debug("handling message", "tag", tag, "peer", e.Peer)

		reply, err := h(ctx, e)

		if err != nil {
			d.logger.Error("message failed", "tag", tag, "peer", e.Peer, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "tag", tag, "reply", reply.Tag, "duration", time.Since(start))
		}

		return reply, err
	}
}
