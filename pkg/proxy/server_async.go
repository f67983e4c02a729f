package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/rflink/bridge/internal/dispatcher"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/bridge"
	"github.com/rflink/bridge/pkg/core"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultShutdownGrace bounds how long Serve waits for in-flight requests
// once its context is done.
const DefaultShutdownGrace = 5 * time.Second

// AsyncServer serves remote clients with a context-aware bridge. Serve
// runs until its context is done and then drains: in-flight requests keep
// running under the bridge's own timeouts for up to the grace period and
// are canceled after it.
type AsyncServer struct {
	bridge bridge.AsyncBridge
	opts   options
	grace  time.Duration
	disp   *dispatcher.Dispatcher
	stats  *stats.Engine
	logger *slog.Logger
	conns  connSet
}

// NewAsyncServer creates an AsyncServer for b.
func NewAsyncServer(b bridge.AsyncBridge, opts ...Option) (*AsyncServer, error) {
	o := buildOptions(opts)
	s := &AsyncServer{
		bridge: b,
		opts:   o,
		grace:  DefaultShutdownGrace,
		stats:  newStats("proxy_async"),
		logger: o.logger,
	}
	var err error
	s.disp, err = newDispatcher(operations{
		exchange: b.ExchangeData,
		enable:   b.EnableRC,
		disable:  b.DisableRC,
		reset:    b.ResetAircraft,
	}, o.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetShutdownGrace changes the drain period used when Serve's context ends.
func (s *AsyncServer) SetShutdownGrace(d time.Duration) { s.grace = d }

// Serve accepts clients on ln until ctx is done. It returns nil after a
// clean drain, or the accept error that stopped it.
func (s *AsyncServer) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("proxy listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	var slots *semaphore.Weighted
	if s.opts.maxClients > 0 {
		slots = semaphore.NewWeighted(s.opts.maxClients)
	}
	// Requests outlive ctx so a client mid-exchange gets its reply; abort
	// ends them when the grace period runs out.
	reqCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	stopping := func() bool { return gctx.Err() != nil }

	stop := context.AfterFunc(gctx, func() {
		_ = ln.Close()
		s.conns.each(func(c net.Conn) { _ = c.SetReadDeadline(time.Unix(1, 0)) })
	})
	defer stop()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if gctx.Err() == nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				acceptErr = err
				_ = ln.Close()
			}
			break
		}
		if slots != nil && !slots.TryAcquire(1) {
			s.logger.Warn("rejecting client over capacity", "peer", conn.RemoteAddr().String())
			busy(conn)
			continue
		}
		s.conns.add(conn)
		if gctx.Err() != nil {
			// Raced with the interrupt above.
			_ = conn.SetReadDeadline(time.Unix(1, 0))
		}
		g.Go(func() error {
			defer func() {
				s.conns.remove(conn)
				_ = conn.Close()
				if slots != nil {
					slots.Release(1)
				}
			}()
			s.serveConn(reqCtx, conn, stopping)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	if acceptErr == nil {
		select {
		case <-done:
		case <-time.After(s.grace):
			s.logger.Warn("shutdown grace expired, closing clients", "clients", s.conns.len())
			abort()
			s.conns.each(func(c net.Conn) { _ = c.Close() })
			<-done
		}
	} else {
		abort()
		s.conns.each(func(c net.Conn) { _ = c.Close() })
		<-done
	}

	s.disp.Close()
	if c, ok := s.bridge.(io.Closer); ok {
		if err := c.Close(); err != nil && acceptErr == nil {
			acceptErr = err
		}
	}
	s.logger.Info("proxy stopped", "served", s.stats.Snapshot().RequestCount)
	return acceptErr
}

func (s *AsyncServer) serveConn(ctx context.Context, conn net.Conn, stopping func() bool) {
	sess := &session{
		conn:     conn,
		peer:     conn.RemoteAddr().String(),
		disp:     s.disp,
		stats:    s.stats,
		logger:   s.logger,
		idle:     s.opts.idle,
		stopping: stopping,
	}
	s.logger.Info("client connected", "peer", sess.peer)
	defer s.logger.Info("client disconnected", "peer", sess.peer)
	for {
		msg, ok := sess.next()
		if !ok {
			return
		}
		if !sess.handle(ctx, msg) {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (s *AsyncServer) Clients() int { return s.conns.len() }

// Statistics reports the requests served so far.
func (s *AsyncServer) Statistics() core.Statistics { return s.stats.Snapshot() }
