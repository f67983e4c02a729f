// Package pool lends transport connections to a single simulator endpoint.
//
// A pool never holds more than Size connections, counting idle, leased
// and in-flight dials. Each lease serves exactly one request/response
// exchange. Pool blocks its callers up to AcquireTimeout; AsyncPool
// suspends on a context instead. Both share the same membership rules.
package pool

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rflink/bridge/pkg/core"
)

// State is the lifecycle tag of a pooled connection.
type State int32

const (
	Idle State = iota
	Leased
	Broken
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Leased:
		return "leased"
	case Broken:
		return "broken"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Dialer opens a transport connection.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCPDialer dials addr over TCP with the given connect timeout.
func TCPDialer(addr string, timeout time.Duration) Dialer {
	d := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

var (
	ErrClosed    = errors.New("pool closed")
	errExhausted = errors.New("no connection available")
)

// Config configures a pool.
type Config struct {
	Size           int
	AcquireTimeout time.Duration
	// Prefetch dials replacement connections in the background whenever
	// capacity frees up, so most acquires find an idle connection.
	Prefetch bool
	Dial     Dialer
	Logger   *slog.Logger
}

func (c *Config) normalize() {
	if c.Size < 1 {
		c.Size = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Conn is a pooled connection. It is exclusively owned by the caller
// between Acquire and Release.
type Conn struct {
	net.Conn
	Reader *bufio.Reader

	id    uint64
	state atomic.Int32
}

// ID identifies the connection within its pool.
func (c *Conn) ID() uint64 { return c.id }

// State returns the lifecycle tag.
func (c *Conn) State() State { return State(c.state.Load()) }

// Stats is a point-in-time view of pool membership.
type Stats struct {
	Idle      int
	Leased    int
	Open      int
	Dialed    uint64
	Discarded uint64
}

// members is the state shared by Pool and AsyncPool. tokens holds one
// entry per open or dialing connection; idle holds connections ready to
// lend. Both have capacity Size, so sends on them never block while the
// token is held.
type members struct {
	cfg    Config
	tokens chan struct{}
	idle   chan *Conn
	done   chan struct{}

	closeMu sync.Mutex
	wg      sync.WaitGroup

	nextID    atomic.Uint64
	leased    atomic.Int64
	dialed    atomic.Uint64
	discarded atomic.Uint64
}

func newMembers(cfg Config) *members {
	cfg.normalize()
	return &members{
		cfg:    cfg,
		tokens: make(chan struct{}, cfg.Size),
		idle:   make(chan *Conn, cfg.Size),
		done:   make(chan struct{}),
	}
}

func (m *members) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// dial opens a connection for a token the caller already holds. The token
// is returned on failure.
func (m *members) dial(ctx context.Context) (*Conn, error) {
	nc, err := m.cfg.Dial(ctx)
	if err != nil {
		<-m.tokens
		return nil, core.TransportError("connect", err)
	}
	c := &Conn{
		Conn:   nc,
		Reader: bufio.NewReaderSize(nc, 8192),
		id:     m.nextID.Add(1),
	}
	m.dialed.Add(1)
	m.cfg.Logger.Debug("simulator connection opened", "conn", c.id, "remote", nc.RemoteAddr())
	return c, nil
}

// lease marks c as lent to a caller.
func (m *members) lease(c *Conn) *Conn {
	c.state.Store(int32(Leased))
	m.leased.Add(1)
	return c
}

// tryIdle takes an idle connection without waiting.
func (m *members) tryIdle() *Conn {
	select {
	case c := <-m.idle:
		return m.lease(c)
	default:
		return nil
	}
}

// Release returns a leased connection. Healthy connections go back to the
// idle set; anything else is closed and its capacity freed. Releasing a
// connection that is not leased is a no-op.
func (m *members) Release(c *Conn, healthy bool) {
	if c == nil || !c.state.CompareAndSwap(int32(Leased), int32(Idle)) {
		return
	}
	m.leased.Add(-1)
	if !healthy || !m.park(c) {
		m.discard(c, Broken)
	}
}

// park puts c in the idle set unless the pool is closed. It holds closeMu
// so Close either sees c in the idle set or park sees the pool closed.
func (m *members) park(c *Conn) bool {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed() {
		return false
	}
	c.state.Store(int32(Idle))
	m.idle <- c
	return true
}

// Retire closes a leased connection that completed its exchange but cannot
// carry another one, e.g. because the peer announced it will close.
func (m *members) Retire(c *Conn) {
	if c == nil || !c.state.CompareAndSwap(int32(Leased), int32(Closed)) {
		return
	}
	m.leased.Add(-1)
	m.drop(c, Closed)
}

func (m *members) discard(c *Conn, state State) {
	c.state.Store(int32(state))
	m.discarded.Add(1)
	m.cfg.Logger.Debug("simulator connection discarded", "conn", c.id, "state", state)
	m.drop(c, state)
}

func (m *members) drop(c *Conn, state State) {
	c.state.Store(int32(state))
	_ = c.Conn.Close()
	<-m.tokens
	m.refill()
}

// refill dials one replacement connection in the background if prefetch is
// enabled and there is spare capacity.
func (m *members) refill() {
	if !m.cfg.Prefetch {
		return
	}
	m.closeMu.Lock()
	defer m.closeMu.Unlock()
	if m.closed() {
		return
	}
	select {
	case m.tokens <- struct{}{}:
	default:
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-m.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		c, err := m.dial(ctx)
		if err != nil {
			m.cfg.Logger.Debug("prefetch dial failed", "error", err)
			return
		}
		if !m.park(c) {
			m.drop(c, Closed)
		}
	}()
}

// Stats reports current membership.
func (m *members) Stats() Stats {
	return Stats{
		Idle:      len(m.idle),
		Leased:    int(m.leased.Load()),
		Open:      len(m.tokens),
		Dialed:    m.dialed.Load(),
		Discarded: m.discarded.Load(),
	}
}

// Idle returns the number of idle connections.
func (m *members) Idle() int { return len(m.idle) }

// Size returns the configured capacity.
func (m *members) Size() int { return m.cfg.Size }

// Close closes idle connections and makes further acquires fail. Leased
// connections are closed when released. Close waits for background dials.
func (m *members) Close() error {
	m.closeMu.Lock()
	if !m.closed() {
		close(m.done)
	}
	m.closeMu.Unlock()
	m.wg.Wait()
	for {
		select {
		case c := <-m.idle:
			c.state.Store(int32(Closed))
			_ = c.Conn.Close()
			<-m.tokens
		default:
			return nil
		}
	}
}

// warm dials until the pool holds Size connections. It fails on the first
// dial error.
func (m *members) warm(ctx context.Context) error {
	for {
		select {
		case m.tokens <- struct{}{}:
		default:
			return nil
		}
		c, err := m.dial(ctx)
		if err != nil {
			return err
		}
		if !m.park(c) {
			m.drop(c, Closed)
			return core.NewError("warm", core.ErrConnection, ErrClosed)
		}
	}
}
