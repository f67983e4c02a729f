// Package simtest runs a scripted RealFlight Link simulator on a loopback
// port for tests.
package simtest

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rflink/bridge/internal/soap"
	"github.com/rflink/bridge/pkg/core"
)

// Behavior selects how the simulator answers.
type Behavior int

const (
	// Respond answers every call normally.
	Respond Behavior = iota
	// Truncate writes half of the response and closes the connection.
	Truncate
	// Fault answers with HTTP 500 and a SOAP fault.
	Fault
	// Hang reads the request and never answers.
	Hang
)

// Server is a stub simulator.
type Server struct {
	ln net.Listener

	mu        sync.Mutex
	behavior  Behavior
	state     core.SimulatorState
	echo      bool
	keepAlive bool
	delay     time.Duration
	detail    string
	requests  []soap.Request
	conns     []net.Conn

	accepted atomic.Int32
	closed   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithState sets the state returned by ExchangeData.
func WithState(st core.SimulatorState) Option {
	return func(s *Server) { s.state = st }
}

// WithEcho copies the received control inputs into the returned state.
func WithEcho() Option {
	return func(s *Server) { s.echo = true }
}

// WithKeepAlive keeps connections open across calls instead of closing
// after every response.
func WithKeepAlive() Option {
	return func(s *Server) { s.keepAlive = true }
}

// WithDelay holds every response for d.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// WithBehavior sets the initial behavior.
func WithBehavior(b Behavior) Option {
	return func(s *Server) { s.behavior = b }
}

// Start listens on a loopback port and serves until the test ends.
func Start(tb testing.TB, opts ...Option) *Server {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("simtest: listen: %v", err)
	}
	s := &Server{
		ln:     ln,
		state:  FixedState(),
		detail: "simulator fault",
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	tb.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the simulator listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// SetBehavior changes how subsequent calls are answered.
func (s *Server) SetBehavior(b Behavior) {
	s.mu.Lock()
	s.behavior = b
	s.mu.Unlock()
}

// SetFaultDetail sets the detail text sent with Fault.
func (s *Server) SetFaultDetail(detail string) {
	s.mu.Lock()
	s.detail = detail
	s.mu.Unlock()
}

// Accepted returns the number of TCP connections accepted so far.
func (s *Server) Accepted() int { return int(s.accepted.Load()) }

// Requests returns a copy of every request received.
func (s *Server) Requests() []soap.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]soap.Request(nil), s.requests...)
}

// Actions lists the actions received, in order.
func (s *Server) Actions() []soap.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]soap.Action, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Action
	}
	return out
}

// Close stops the listener and drops every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return
	default:
		close(s.closed)
	}
	_ = s.ln.Close()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		select {
		case <-s.closed:
			s.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := soap.ReadRequest(r)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, *req)
		behavior, state, echo := s.behavior, s.state, s.echo
		keepAlive, delay, detail := s.keepAlive, s.delay, s.detail
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-s.closed:
				return
			}
		}

		switch behavior {
		case Hang:
			<-s.closed
			return
		case Fault:
			_, _ = conn.Write(soap.AppendHTTPResponse(nil, 500, soap.EncodeFault(detail), keepAlive))
		case Truncate:
			resp := s.response(req, state, echo, keepAlive)
			_, _ = conn.Write(resp[:len(resp)/2])
			return
		default:
			if _, err := conn.Write(s.response(req, state, echo, keepAlive)); err != nil {
				return
			}
		}
		if !keepAlive {
			return
		}
	}
}

func (s *Server) response(req *soap.Request, st core.SimulatorState, echo, keepAlive bool) []byte {
	if req.Action != soap.ActionExchangeData {
		return soap.AppendHTTPResponse(nil, 200, soap.EncodeControlResponse(req.Action), keepAlive)
	}
	if echo {
		in, err := soap.DecodeControlInputs(req.Body)
		if err != nil {
			return soap.AppendHTTPResponse(nil, 400, soap.EncodeFault(err.Error()), keepAlive)
		}
		st.PreviousInputs = in
	}
	return soap.AppendHTTPResponse(nil, 200, soap.EncodeStateResponse(&st), keepAlive)
}

// FixedState is a state with every field set to a distinct value.
func FixedState() core.SimulatorState {
	st := core.SimulatorState{CurrentAircraftStatus: "CAS-WAITINGTOLAUNCH"}
	for i, p := range st.Floats() {
		*p = 100.5 + float64(i)*0.25
	}
	st.IsLocked = false
	st.HasLostComponents = false
	st.AnEngineIsRunning = true
	st.IsTouchingGround = true
	st.FlightAxisControllerIsActive = true
	st.ResetButtonHasBeenPressed = false
	st.PreviousInputs = core.NeutralInputs()
	st.PreviousInputs.Channels[0] = 0.5
	return st
}
