// Package proxy exposes a bridge to remote clients over the binary remote
// protocol. It runs next to the simulator; every client connection gets
// its own worker and all workers share the bridge's connection pool.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/dispatcher"
	"github.com/rflink/bridge/internal/remote"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/core"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultBindAddress is where the proxy listens unless told otherwise.
const DefaultBindAddress = "0.0.0.0:8080"

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("proxy: server closed")

// Option configures a server.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	idle       time.Duration
	maxClients int64
}

// WithLogger sets the logger; slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIdleTimeout closes client connections that send nothing for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idle = d }
}

// WithMaxClients caps concurrent client connections; extra connections
// are told the proxy is busy and closed. Zero means unlimited.
func WithMaxClients(n int) Option {
	return func(o *options) { o.maxClients = int64(n) }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// operations is the bridge surface the handlers call, independent of the
// blocking or context-aware flavor.
type operations struct {
	exchange func(context.Context, core.ControlInputs) (core.SimulatorState, error)
	enable   func(context.Context) error
	disable  func(context.Context) error
	reset    func(context.Context) error
}

// newDispatcher routes every request tag to its bridge operation.
func newDispatcher(ops operations, logger *slog.Logger) (*dispatcher.Dispatcher, error) {
	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	d.Register(remote.TagExchangeRequest, func(ctx context.Context, e dispatcher.Event) (remote.Message, error) {
		st, err := ops.exchange(ctx, e.Message.Inputs)
		if err != nil {
			return remote.Message{}, err
		}
		return remote.ExchangeResponse(st), nil
	})
	ack := func(op func(context.Context) error) dispatcher.HandlerFunc {
		return func(ctx context.Context, _ dispatcher.Event) (remote.Message, error) {
			if err := op(ctx); err != nil {
				return remote.Message{}, err
			}
			return remote.Ack(), nil
		}
	}
	d.Register(remote.TagEnableRc, ack(ops.enable), dispatcher.Logged())
	d.Register(remote.TagDisableRc, ack(ops.disable), dispatcher.Logged())
	d.Register(remote.TagResetAircraft, ack(ops.reset), dispatcher.Logged())
	return d, nil
}

// session is the per-connection request loop shared by both servers.
type session struct {
	conn   net.Conn
	peer   string
	disp   *dispatcher.Dispatcher
	stats  *stats.Engine
	logger *slog.Logger
	idle   time.Duration
	// stopping reports that the server is shutting down.
	stopping func() bool
	rbuf     []byte
	wbuf     []byte
}

// next reads one request. ok is false when the connection should end.
func (s *session) next() (remote.Message, bool) {
	if s.stopping() {
		return remote.Message{}, false
	}
	if s.idle > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
		// Shutdown may have interrupted reads between the check above and
		// the new deadline.
		if s.stopping() {
			return remote.Message{}, false
		}
	}
	var (
		msg remote.Message
		err error
	)
	msg, s.rbuf, err = remote.ReadMessage(s.conn, s.rbuf)
	if err == nil {
		return msg, true
	}
	switch core.KindOf(err) {
	case core.ErrDecode, core.ErrProtocolVersion:
		// The frame boundary is lost; report and hang up.
		s.logger.Warn("rejecting client frame", "peer", s.peer, "error", err)
		s.reply(remote.ErrorMessage(err))
	default:
		s.logger.Debug("client connection ended", "peer", s.peer, "error", err)
	}
	return remote.Message{}, false
}

// handle dispatches msg and writes the reply. It reports false when the
// reply could not be written.
func (s *session) handle(ctx context.Context, msg remote.Message) bool {
	op := msg.Tag.String()
	start := s.stats.Now()
	reply, err := s.disp.Dispatch(ctx, dispatcher.Event{Message: msg, Peer: s.peer, Timestamp: start})
	if errors.Is(err, dispatcher.ErrUnknownTag) {
		err = core.NewError("dispatch", core.ErrProtocolDesync, err)
	}
	s.stats.Record(op, start, err)
	if err != nil {
		reply = remote.ErrorMessage(err)
	}
	return s.reply(reply)
}

func (s *session) reply(m remote.Message) bool {
	var err error
	if s.wbuf, err = remote.WriteMessage(s.conn, s.wbuf, m); err != nil {
		s.logger.Debug("writing reply failed", "peer", s.peer, "error", err)
		return false
	}
	return true
}

// connSet tracks live client connections for shutdown.
type connSet struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func (c *connSet) add(conn net.Conn) {
	c.mu.Lock()
	if c.conns == nil {
		c.conns = make(map[net.Conn]struct{})
	}
	c.conns[conn] = struct{}{}
	c.mu.Unlock()
}

func (c *connSet) remove(conn net.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
}

func (c *connSet) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// each applies fn to every live connection.
func (c *connSet) each(fn func(net.Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.conns {
		fn(conn)
	}
}

// busy rejects a client over the connection cap.
func busy(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	msg := remote.ErrorMessage(core.NewError("accept", core.ErrConnection, errors.New("proxy at client capacity")))
	_, _ = remote.WriteMessage(conn, nil, msg)
	_ = conn.Close()
}

func newStats(kind string) *stats.Engine {
	return stats.New(stats.WithAttributes(attribute.String("bridge", kind)))
}
