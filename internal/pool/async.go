package pool

import (
	"context"
	"errors"

	"github.com/rflink/bridge/pkg/core"
)

// AsyncPool is the cooperative connection pool. Acquire suspends on the
// caller's context; AcquireTimeout, when set, bounds the wait on top of
// any context deadline.
type AsyncPool struct {
	*members
}

// NewAsync creates an AsyncPool.
func NewAsync(cfg Config) *AsyncPool {
	p := &AsyncPool{members: newMembers(cfg)}
	p.refill()
	return p
}

// Warm dials until the pool is full or ctx is done.
func (p *AsyncPool) Warm(ctx context.Context) error {
	return p.warm(ctx)
}

// Acquire lends a connection or fails with ErrTimeout when the wait bound
// expires and ErrCanceled when ctx is canceled. Waiters are not served in
// FIFO order.
func (p *AsyncPool) Acquire(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}
	if p.closed() {
		return nil, core.NewError("acquire", core.ErrConnection, ErrClosed)
	}
	if c := p.tryIdle(); c != nil {
		p.refill()
		return c, nil
	}

	waitCtx := ctx
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, p.cfg.AcquireTimeout, errExhausted)
		defer cancel()
	}

	select {
	case c := <-p.idle:
		p.lease(c)
		p.refill()
		return c, nil
	case p.tokens <- struct{}{}:
		c, err := p.dial(ctx)
		if err != nil {
			return nil, err
		}
		return p.lease(c), nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, canceled(ctx.Err())
		}
		return nil, core.NewError("acquire", core.ErrTimeout, context.Cause(waitCtx))
	case <-p.done:
		return nil, core.NewError("acquire", core.ErrConnection, ErrClosed)
	}
}

func canceled(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewError("acquire", core.ErrTimeout, err)
	}
	return core.NewError("acquire", core.ErrCanceled, err)
}
