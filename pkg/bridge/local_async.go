package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/pool"
	"github.com/rflink/bridge/internal/soap"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/core"
	"go.opentelemetry.io/otel/attribute"
)

// AsyncLocalBridge is LocalBridge for context-driven callers. Canceling the
// context of a call interrupts it at the pool wait or mid-I/O; the
// connection involved is discarded and the call fails with ErrCanceled.
type AsyncLocalBridge struct {
	cfg    Configuration
	schema *soap.Schema
	pool   *pool.AsyncPool
	stats  *stats.Engine
	logger *slog.Logger
	bodies sync.Pool
}

// NewAsyncLocal validates cfg and creates an AsyncLocalBridge.
func NewAsyncLocal(cfg Configuration) (*AsyncLocalBridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &AsyncLocalBridge{
		cfg:    cfg,
		schema: cfg.schema(),
		stats:  stats.New(stats.WithAttributes(attribute.String("bridge", "local_async"))),
		logger: cfg.logger(),
		bodies: sync.Pool{New: func() any { b := make([]byte, 0, 8192); return &b }},
	}
	b.pool = pool.NewAsync(pool.Config{
		Size:           cfg.PoolSize,
		AcquireTimeout: cfg.AcquireTimeout,
		Prefetch:       cfg.Prefetch,
		Dial:           pool.TCPDialer(cfg.SimulatorAddress, cfg.ConnectTimeout),
		Logger:         b.logger,
	})
	return b, nil
}

// Warm opens PoolSize connections.
func (b *AsyncLocalBridge) Warm(ctx context.Context) error {
	return b.pool.Warm(ctx)
}

func (b *AsyncLocalBridge) ExchangeData(ctx context.Context, in core.ControlInputs) (core.SimulatorState, error) {
	var st core.SimulatorState
	if err := b.call(ctx, soap.ActionExchangeData, &in, &st); err != nil {
		return core.SimulatorState{}, err
	}
	return st, nil
}

func (b *AsyncLocalBridge) EnableRC(ctx context.Context) error {
	return b.call(ctx, soap.ActionRestoreController, nil, nil)
}

func (b *AsyncLocalBridge) DisableRC(ctx context.Context) error {
	return b.call(ctx, soap.ActionInjectController, nil, nil)
}

func (b *AsyncLocalBridge) ResetAircraft(ctx context.Context) error {
	return b.call(ctx, soap.ActionResetAircraft, nil, nil)
}

func (b *AsyncLocalBridge) Statistics() core.Statistics {
	return b.stats.Snapshot()
}

// PoolStats reports connection pool membership.
func (b *AsyncLocalBridge) PoolStats() pool.Stats {
	return b.pool.Stats()
}

// Close releases every pooled connection.
func (b *AsyncLocalBridge) Close() error {
	return b.pool.Close()
}

func (b *AsyncLocalBridge) call(ctx context.Context, action soap.Action, in *core.ControlInputs, st *core.SimulatorState) (err error) {
	op := action.Op()
	start := b.stats.Now()
	defer func() {
		b.stats.Record(op, start, err)
		if err != nil {
			b.logger.Debug("simulator call failed", "op", op, "error", err)
		}
	}()

	if in != nil {
		if err := in.Validate(); err != nil {
			return core.TransportError(op, err)
		}
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return core.TransportError(op, err)
	}

	// Anything that fails from here on leaves the stream in an unknown
	// state, so the connection is discarded.
	fail := func(err error) error {
		b.pool.Release(conn, false)
		if ctx.Err() != nil {
			return ctxError(op, ctx)
		}
		return core.TransportError(op, err)
	}

	stop := interruptOn(ctx, conn)
	if d := deadline(ctx, b.cfg.ResponseTimeout); !d.IsZero() {
		_ = conn.SetDeadline(d)
	}

	enc := soap.AcquireEncoder()
	defer soap.ReleaseEncoder(enc)
	var req []byte
	if in != nil {
		req = enc.Exchange(in)
	} else {
		req = enc.Control(action)
	}
	if _, err := conn.Write(req); err != nil {
		stop()
		return fail(err)
	}

	body := b.bodies.Get().(*[]byte)
	defer b.bodies.Put(body)
	resp, err := soap.ReadResponse(conn.Reader, *body)
	if !stop() || err != nil {
		// stop reports false when the interrupt already fired.
		if err == nil {
			err = ctx.Err()
		}
		return fail(err)
	}
	*body = resp.Body[:0]

	if b.cfg.ReuseConnections && resp.KeepAlive {
		_ = conn.SetDeadline(time.Time{})
		b.pool.Release(conn, true)
	} else {
		b.pool.Retire(conn)
	}

	if err := soap.CheckFault(op, resp); err != nil {
		return err
	}
	if st != nil {
		if *st, err = b.schema.Decode(resp.Body); err != nil {
			return core.TransportError(op, err)
		}
	}
	return nil
}
