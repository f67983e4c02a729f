package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/pool"
	"github.com/rflink/bridge/internal/soap"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/core"
	"go.opentelemetry.io/otel/attribute"
)

// LocalBridge talks to the simulator directly. It is safe for concurrent
// use; up to PoolSize calls run in parallel and the rest wait for a
// connection.
type LocalBridge struct {
	cfg    Configuration
	schema *soap.Schema
	pool   *pool.Pool
	stats  *stats.Engine
	logger *slog.Logger
	bodies sync.Pool
}

// NewLocal validates cfg and creates a LocalBridge. With Prefetch set the
// pool starts dialing in the background; no error is reported if the
// simulator is not up yet.
func NewLocal(cfg Configuration) (*LocalBridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &LocalBridge{
		cfg:    cfg,
		schema: cfg.schema(),
		stats:  stats.New(stats.WithAttributes(attribute.String("bridge", "local"))),
		logger: cfg.logger(),
		bodies: sync.Pool{New: func() any { b := make([]byte, 0, 8192); return &b }},
	}
	b.pool = pool.New(pool.Config{
		Size:           cfg.PoolSize,
		AcquireTimeout: cfg.AcquireTimeout,
		Prefetch:       cfg.Prefetch,
		Dial:           pool.TCPDialer(cfg.SimulatorAddress, cfg.ConnectTimeout),
		Logger:         b.logger,
	})
	return b, nil
}

// Warm opens PoolSize connections, failing if the simulator is unreachable.
func (b *LocalBridge) Warm() error {
	return b.pool.Warm()
}

// ExchangeData sends in and returns the resulting aircraft state.
func (b *LocalBridge) ExchangeData(in core.ControlInputs) (core.SimulatorState, error) {
	var st core.SimulatorState
	if err := b.call(soap.ActionExchangeData, &in, &st); err != nil {
		return core.SimulatorState{}, err
	}
	return st, nil
}

// EnableRC hands control back to the RC transmitter.
func (b *LocalBridge) EnableRC() error {
	return b.call(soap.ActionRestoreController, nil, nil)
}

// DisableRC takes control away from the RC transmitter.
func (b *LocalBridge) DisableRC() error {
	return b.call(soap.ActionInjectController, nil, nil)
}

// ResetAircraft puts the aircraft back at its starting point.
func (b *LocalBridge) ResetAircraft() error {
	return b.call(soap.ActionResetAircraft, nil, nil)
}

// Statistics returns a snapshot of this bridge's counters.
func (b *LocalBridge) Statistics() core.Statistics {
	return b.stats.Snapshot()
}

// PoolStats reports connection pool membership.
func (b *LocalBridge) PoolStats() pool.Stats {
	return b.pool.Stats()
}

// Close releases every pooled connection.
func (b *LocalBridge) Close() error {
	return b.pool.Close()
}

func (b *LocalBridge) call(action soap.Action, in *core.ControlInputs, st *core.SimulatorState) (err error) {
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

	conn, err := b.pool.Acquire()
	if err != nil {
		return core.TransportError(op, err)
	}

	enc := soap.AcquireEncoder()
	defer soap.ReleaseEncoder(enc)
	var req []byte
	if in != nil {
		req = enc.Exchange(in)
	} else {
		req = enc.Control(action)
	}

	if b.cfg.ResponseTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(b.cfg.ResponseTimeout))
	}
	if _, err := conn.Write(req); err != nil {
		b.pool.Release(conn, false)
		return core.TransportError(op, err)
	}

	body := b.bodies.Get().(*[]byte)
	defer b.bodies.Put(body)
	resp, err := soap.ReadResponse(conn.Reader, *body)
	if err != nil {
		b.pool.Release(conn, false)
		return core.TransportError(op, err)
	}
	*body = resp.Body[:0]
	b.finish(conn, resp.KeepAlive)

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

// finish returns a connection whose exchange completed.
func (b *LocalBridge) finish(conn *pool.Conn, keepAlive bool) {
	if b.cfg.ReuseConnections && keepAlive {
		_ = conn.SetDeadline(time.Time{})
		b.pool.Release(conn, true)
		return
	}
	b.pool.Retire(conn)
}
