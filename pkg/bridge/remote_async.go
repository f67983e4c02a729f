package bridge

import (
	"context"
	"log/slog"

	"github.com/rflink/bridge/internal/remote"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// AsyncRemoteBridge is RemoteBridge for context-driven callers. Waiting
// for the shared link and the round trip itself both stop when the
// context is done; an interrupted round trip drops the link.
type AsyncRemoteBridge struct {
	cfg    RemoteConfiguration
	stats  *stats.Engine
	logger *slog.Logger

	sem  *semaphore.Weighted
	link *link
}

// NewAsyncRemote validates cfg and connects to the proxy within ctx.
func NewAsyncRemote(ctx context.Context, cfg RemoteConfiguration) (*AsyncRemoteBridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &AsyncRemoteBridge{
		cfg:    cfg,
		stats:  stats.New(stats.WithAttributes(attribute.String("bridge", "remote_async"))),
		logger: cfg.logger(),
		sem:    semaphore.NewWeighted(1),
	}
	l, err := dialLink(ctx, &b.cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctxError("connect", ctx)
		}
		return nil, core.NewError("connect", core.ErrConnection, err)
	}
	b.link = l
	return b, nil
}

func (b *AsyncRemoteBridge) ExchangeData(ctx context.Context, in core.ControlInputs) (core.SimulatorState, error) {
	resp, err := b.call(ctx, "exchange_data", remote.ExchangeRequest(in), in.Validate)
	if err != nil {
		return core.SimulatorState{}, err
	}
	return resp.State, nil
}

func (b *AsyncRemoteBridge) EnableRC(ctx context.Context) error {
	_, err := b.call(ctx, "enable_rc", remote.Message{Tag: remote.TagEnableRc}, nil)
	return err
}

func (b *AsyncRemoteBridge) DisableRC(ctx context.Context) error {
	_, err := b.call(ctx, "disable_rc", remote.Message{Tag: remote.TagDisableRc}, nil)
	return err
}

func (b *AsyncRemoteBridge) ResetAircraft(ctx context.Context) error {
	_, err := b.call(ctx, "reset_aircraft", remote.Message{Tag: remote.TagResetAircraft}, nil)
	return err
}

func (b *AsyncRemoteBridge) Statistics() core.Statistics {
	return b.stats.Snapshot()
}

// Close closes the proxy connection, waiting for an in-flight call.
func (b *AsyncRemoteBridge) Close() error {
	_ = b.sem.Acquire(context.Background(), 1)
	defer b.sem.Release(1)
	if b.link == nil {
		return nil
	}
	err := b.link.conn.Close()
	b.link = nil
	return err
}

func (b *AsyncRemoteBridge) call(ctx context.Context, op string, req remote.Message, validate func() error) (resp remote.Message, err error) {
	start := b.stats.Now()
	defer func() {
		b.stats.Record(op, start, err)
		if err != nil {
			b.logger.Debug("proxy call failed", "op", op, "error", err)
		}
	}()

	if validate != nil {
		if err := validate(); err != nil {
			return remote.Message{}, core.TransportError(op, err)
		}
	}

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return remote.Message{}, ctxError(op, ctx)
	}
	defer b.sem.Release(1)

	if b.link == nil {
		l, err := dialLink(ctx, &b.cfg)
		if err != nil {
			if ctx.Err() != nil {
				return remote.Message{}, ctxError(op, ctx)
			}
			return remote.Message{}, core.NewError(op, core.ErrConnection, err)
		}
		b.link = l
	}

	conn := b.link.conn
	stop := interruptOn(ctx, conn)
	if d := deadline(ctx, b.cfg.ResponseTimeout); !d.IsZero() {
		_ = conn.SetDeadline(d)
	}
	resp, err = b.link.roundTrip(req)
	interrupted := !stop()
	if err != nil || interrupted {
		b.dropLink()
		if ctx.Err() != nil {
			return remote.Message{}, ctxError(op, ctx)
		}
		return remote.Message{}, core.TransportError(op, err)
	}
	if err := checkReply(op, req.Tag, &resp); err != nil {
		if linkLost(err) {
			b.dropLink()
		}
		return remote.Message{}, err
	}
	return resp, nil
}

func (b *AsyncRemoteBridge) dropLink() {
	if b.link != nil {
		_ = b.link.conn.Close()
		b.link = nil
	}
}
