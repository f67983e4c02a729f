// Package stats counts bridge operations. One Engine is owned by each
// bridge instance; counters are lock-free and never reset.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rflink/bridge/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/rflink/bridge/internal/stats"

// Engine holds the live counters for one bridge.
type Engine struct {
	start time.Time
	now   func() time.Time

	requests atomic.Uint64
	errors   atomic.Uint64
	latency  atomic.Int64 // summed nanoseconds

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	duration       metric.Float64Histogram
	attrs          attribute.Set
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithAttributes labels every exported measurement, e.g. with the bridge kind.
func WithAttributes(kv ...attribute.KeyValue) Option {
	return func(e *Engine) {
		e.attrs = attribute.NewSet(kv...)
	}
}

// New creates an Engine publishing to the global OTel meter (no-op if not
// configured). Instruments that fail to register are replaced by no-ops.
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.start = e.now()

	m := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	var err error
	e.requestCounter, err = m.Int64Counter("bridge.requests",
		metric.WithDescription("Bridge operations issued"))
	if err != nil {
		e.requestCounter, _ = fallback.Int64Counter("bridge.requests")
	}
	e.errorCounter, err = m.Int64Counter("bridge.errors",
		metric.WithDescription("Bridge operations that failed"))
	if err != nil {
		e.errorCounter, _ = fallback.Int64Counter("bridge.errors")
	}
	e.duration, err = m.Float64Histogram("bridge.request.duration",
		metric.WithDescription("Bridge operation latency"),
		metric.WithUnit("ms"))
	if err != nil {
		e.duration, _ = fallback.Float64Histogram("bridge.request.duration")
	}
	return e
}

// RecordSuccess counts a completed operation.
func (e *Engine) RecordSuccess(op string, latency time.Duration) {
	e.requests.Add(1)
	e.latency.Add(int64(latency))
	e.export(op, nil, latency)
}

// RecordError counts a failed operation under the kind of err.
func (e *Engine) RecordError(op string, err error, latency time.Duration) {
	e.requests.Add(1)
	e.errors.Add(1)
	e.latency.Add(int64(latency))
	e.export(op, err, latency)
}

// Record counts the outcome of one operation started at start.
func (e *Engine) Record(op string, start time.Time, err error) {
	latency := e.now().Sub(start)
	if err != nil {
		e.RecordError(op, err, latency)
		return
	}
	e.RecordSuccess(op, latency)
}

// Now returns the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) export(op string, err error, latency time.Duration) {
	ctx := context.Background()
	opAttrs := metric.WithAttributeSet(e.attrs)
	opAttr := metric.WithAttributes(attribute.String("op", op))
	e.requestCounter.Add(ctx, 1, opAttrs, opAttr)
	e.duration.Record(ctx, float64(latency)/float64(time.Millisecond), opAttrs, opAttr)
	if err != nil {
		kind := "unknown"
		if k := core.KindOf(err); k != nil {
			kind = k.Error()
		}
		e.errorCounter.Add(ctx, 1, opAttrs, opAttr,
			metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// Snapshot reads the counters and derives the request frequency over the
// engine's lifetime. Errors are loaded before requests: RecordError bumps
// requests first, so the snapshot never shows more errors than requests.
func (e *Engine) Snapshot() core.Statistics {
	errs := e.errors.Load()
	reqs := e.requests.Load()
	latency := e.latency.Load()
	runtime := e.now().Sub(e.start)
	s := core.Statistics{
		StartedAt:    e.start,
		Runtime:      runtime,
		RequestCount: reqs,
		ErrorCount:   errs,
	}
	if runtime > 0 {
		s.Frequency = float64(s.RequestCount) / runtime.Seconds()
	}
	if s.RequestCount > 0 {
		s.MeanLatency = time.Duration(latency / int64(s.RequestCount))
	}
	return s
}
