package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rflink/bridge/internal/dispatcher"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/bridge"
	"github.com/rflink/bridge/pkg/core"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Server serves remote clients with a blocking bridge. Each client runs on
// its own goroutine; a panic in one worker is recovered and logged at
// shutdown without affecting the others.
type Server struct {
	bridge bridge.Bridge
	opts   options
	disp   *dispatcher.Dispatcher
	stats  *stats.Engine
	logger *slog.Logger

	mu       sync.Mutex // guards ln and worker start against Shutdown
	ln       net.Listener
	conns    connSet
	workers  conc.WaitGroup
	stopping atomic.Bool
	active   atomic.Int64
}

// NewServer creates a Server for b.
func NewServer(b bridge.Bridge, opts ...Option) (*Server, error) {
	o := buildOptions(opts)
	s := &Server{
		bridge: b,
		opts:   o,
		stats:  newStats("proxy"),
		logger: o.logger,
	}
	var err error
	s.disp, err = newDispatcher(operations{
		exchange: func(_ context.Context, in core.ControlInputs) (core.SimulatorState, error) {
			return b.ExchangeData(in)
		},
		enable:  func(context.Context) error { return b.EnableRC() },
		disable: func(context.Context) error { return b.DisableRC() },
		reset:   func(context.Context) error { return b.ResetAircraft() },
	}, o.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListenAndServe binds addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts clients on ln until Shutdown, which makes it return
// ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("proxy listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		if s.opts.maxClients > 0 && s.active.Load() >= s.opts.maxClients {
			s.logger.Warn("rejecting client over capacity", "peer", conn.RemoteAddr().String())
			busy(conn)
			continue
		}
		s.start(conn)
	}
}

func (s *Server) start(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		_ = conn.Close()
		return
	}
	s.active.Add(1)
	s.conns.add(conn)
	s.workers.Go(func() {
		defer s.active.Add(-1)
		defer s.conns.remove(conn)
		defer conn.Close()
		s.serveConn(conn)
	})
}

func (s *Server) serveConn(conn net.Conn) {
	sess := &session{
		conn:     conn,
		peer:     conn.RemoteAddr().String(),
		disp:     s.disp,
		stats:    s.stats,
		logger:   s.logger,
		idle:     s.opts.idle,
		stopping: s.stopping.Load,
	}
	s.logger.Info("client connected", "peer", sess.peer)
	defer s.logger.Info("client disconnected", "peer", sess.peer)
	for {
		msg, ok := sess.next()
		if !ok {
			return
		}
		if !sess.handle(context.Background(), msg) {
			return
		}
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int { return s.conns.len() }

// Statistics reports the requests served so far.
func (s *Server) Statistics() core.Statistics { return s.stats.Snapshot() }

// Shutdown stops accepting clients, lets in-flight requests finish and
// then closes the bridge if it is an io.Closer. Connections still open
// when ctx ends are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping.Store(true)
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Unlock()
	// Wake workers parked in a read; a worker busy with a request finishes
	// it and then sees the stopping flag.
	s.conns.each(func(c net.Conn) { _ = c.SetReadDeadline(time.Unix(1, 0)) })

	done := make(chan *panics.Recovered, 1)
	go func() { done <- s.workers.WaitAndRecover() }()

	var err error
	select {
	case p := <-done:
		if p != nil {
			s.logger.Error("proxy worker panicked", "panic", p.Value, "stack", string(p.Stack))
		}
	case <-ctx.Done():
		s.conns.each(func(c net.Conn) { _ = c.Close() })
		<-done
		err = ctx.Err()
	}

	s.disp.Close()
	if c, ok := s.bridge.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.logger.Info("proxy stopped", "served", s.stats.Snapshot().RequestCount)
	return err
}
