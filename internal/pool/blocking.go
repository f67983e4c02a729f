package pool

import (
	"context"
	"time"

	"github.com/rflink/bridge/pkg/core"
)

// Pool is the blocking connection pool. Acquire parks the calling
// goroutine for at most AcquireTimeout.
type Pool struct {
	*members
}

// New creates a Pool. No connection is opened until the first Acquire,
// Warm, or background prefetch.
func New(cfg Config) *Pool {
	p := &Pool{members: newMembers(cfg)}
	p.refill()
	return p
}

// Warm dials until the pool is full, failing fast if the endpoint is
// unreachable.
func (p *Pool) Warm() error {
	return p.warm(context.Background())
}

// Acquire lends a connection: an idle one if available, otherwise a fresh
// dial while under capacity, otherwise the first one released before the
// timeout expires.
func (p *Pool) Acquire() (*Conn, error) {
	if p.closed() {
		return nil, core.NewError("acquire", core.ErrConnection, ErrClosed)
	}
	if c := p.tryIdle(); c != nil {
		p.refill()
		return c, nil
	}

	var timeout <-chan time.Time
	if p.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(p.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c := <-p.idle:
		p.lease(c)
		p.refill()
		return c, nil
	case p.tokens <- struct{}{}:
		c, err := p.dial(context.Background())
		if err != nil {
			return nil, err
		}
		return p.lease(c), nil
	case <-timeout:
		return nil, core.NewError("acquire", core.ErrTimeout, errExhausted)
	case <-p.done:
		return nil, core.NewError("acquire", core.ErrConnection, ErrClosed)
	}
}
