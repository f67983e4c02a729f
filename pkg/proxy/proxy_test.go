package proxy_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rflink/bridge/internal/remote"
	"github.com/rflink/bridge/internal/simtest"
	"github.com/rflink/bridge/pkg/bridge"
	"github.com/rflink/bridge/pkg/core"
	"github.com/rflink/bridge/pkg/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer serves b on a loopback port until the test ends.
func startServer(t *testing.T, b bridge.Bridge, opts ...proxy.Option) (*proxy.Server, string) {
	t.Helper()
	srv, err := proxy.NewServer(b, opts...)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-served
	})
	return srv, ln.Addr().String()
}

func dialRemote(t *testing.T, addr string) *bridge.RemoteBridge {
	t.Helper()
	cfg := bridge.DefaultRemoteConfiguration()
	cfg.ProxyAddress = addr
	cfg.ResponseTimeout = 2 * time.Second
	rb, err := bridge.NewRemote(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rb.Close() })
	return rb
}

func localBridge(t *testing.T, addr string) *bridge.LocalBridge {
	t.Helper()
	cfg := bridge.DefaultConfiguration()
	cfg.SimulatorAddress = addr
	cfg.Prefetch = false
	cfg.PoolSize = 2
	lb, err := bridge.NewLocal(cfg)
	require.NoError(t, err)
	return lb
}

func TestRemoteThroughProxy(t *testing.T) {
	sim := simtest.Start(t)
	srv, addr := startServer(t, localBridge(t, sim.Addr()))
	rb := dialRemote(t, addr)

	st, err := rb.ExchangeData(core.NeutralInputs())
	require.NoError(t, err)
	assert.Equal(t, simtest.FixedState(), st)

	require.NoError(t, rb.DisableRC())
	require.NoError(t, rb.ResetAircraft())
	require.NoError(t, rb.EnableRC())

	assert.Equal(t, uint64(4), rb.Statistics().RequestCount)
	assert.Equal(t, uint64(4), srv.Statistics().RequestCount)
	assert.Equal(t, 4, len(sim.Actions()))
}

func TestSimulatorFaultCrossesProxy(t *testing.T) {
	sim := simtest.Start(t, simtest.WithBehavior(simtest.Fault))
	sim.SetFaultDetail("Aircraft not loaded")
	_, addr := startServer(t, localBridge(t, sim.Addr()))
	rb := dialRemote(t, addr)

	_, err := rb.ExchangeData(core.NeutralInputs())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSimulatorFault)
	assert.Contains(t, err.Error(), "Aircraft not loaded")

	// An error reply keeps the connection usable.
	sim.SetBehavior(simtest.Respond)
	_, err = rb.ExchangeData(core.NeutralInputs())
	require.NoError(t, err)
}

func TestConcurrentClients(t *testing.T) {
	sim := simtest.Start(t, simtest.WithEcho())
	_, addr := startServer(t, localBridge(t, sim.Addr()))

	const clients = 4
	var wg sync.WaitGroup
	errs := make(chan error, clients*5)
	for i := range clients {
		rb := dialRemote(t, addr)
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := core.NeutralInputs()
			in.Channels[core.ChannelThrottle] = float64(i) / clients
			for range 5 {
				st, err := rb.ExchangeData(in)
				if err != nil {
					errs <- err
					return
				}
				if st.PreviousInputs != in {
					errs <- errors.New("state belongs to another client")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMalformedFrameOnlyAffectsSender(t *testing.T) {
	_, addr := startServer(t, proxy.NewStubBridge())
	good := dialRemote(t, addr)

	bad, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bad.Close()
	// Version 9 header.
	_, err = bad.Write([]byte{0, 9, byte(remote.TagEnableRc), 0, 0, 0, 0})
	require.NoError(t, err)

	require.NoError(t, bad.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, _, err := remote.ReadMessage(bad, nil)
	require.NoError(t, err)
	require.Equal(t, remote.TagError, reply.Tag)
	assert.ErrorIs(t, reply.Failure.Err(), core.ErrProtocolVersion)

	// The proxy hangs up on the bad client.
	_, _, err = remote.ReadMessage(bad, nil)
	assert.Error(t, err)

	_, err = good.ExchangeData(core.NeutralInputs())
	require.NoError(t, err)
}

func TestMaxClients(t *testing.T) {
	srv, addr := startServer(t, proxy.NewStubBridge(), proxy.WithMaxClients(1))
	first := dialRemote(t, addr)
	require.NoError(t, first.EnableRC())
	require.Eventually(t, func() bool { return srv.Clients() == 1 }, time.Second, 5*time.Millisecond)

	cfg := bridge.DefaultRemoteConfiguration()
	cfg.ProxyAddress = addr
	second, err := bridge.NewRemote(cfg)
	require.NoError(t, err)
	defer second.Close()

	// The busy notice arrives as an Error frame ahead of any request.
	err = second.EnableRC()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConnection)

	require.NoError(t, first.EnableRC())
}

func TestShutdownClosesBridgeAndStopsServe(t *testing.T) {
	sim := simtest.Start(t)
	lb := localBridge(t, sim.Addr())
	srv, err := proxy.NewServer(lb)
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	rb := dialRemote(t, ln.Addr().String())
	_, err = rb.ExchangeData(core.NeutralInputs())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.ErrorIs(t, <-served, proxy.ErrServerClosed)
	assert.Equal(t, 0, srv.Clients())

	// The bridge pool was closed with the server.
	_, err = lb.ExchangeData(core.NeutralInputs())
	assert.ErrorIs(t, err, core.ErrConnection)

	// The remote client sees the connection go away.
	_, err = rb.ExchangeData(core.NeutralInputs())
	assert.Error(t, err)
}

func TestServeAfterShutdown(t *testing.T) {
	srv, err := proxy.NewServer(proxy.NewStubBridge())
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, srv.Serve(ln), proxy.ErrServerClosed)
}

func TestStubBridge(t *testing.T) {
	b := proxy.NewStubBridge()
	st, err := b.ExchangeData(core.NeutralInputs())
	require.NoError(t, err)
	assert.Equal(t, core.SimulatorState{}, st)
	require.NoError(t, b.EnableRC())

	bad := core.NeutralInputs()
	bad.Channels[0] = 3
	_, err = b.ExchangeData(bad)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	s := b.Statistics()
	assert.Equal(t, uint64(3), s.RequestCount)
	assert.Equal(t, uint64(1), s.ErrorCount)
}

func TestAsyncServer(t *testing.T) {
	srv, err := proxy.NewAsyncServer(proxy.NewAsyncStubBridge())
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	cfg := bridge.DefaultRemoteConfiguration()
	cfg.ProxyAddress = ln.Addr().String()
	rb, err := bridge.NewAsyncRemote(ctx, cfg)
	require.NoError(t, err)
	defer rb.Close()

	st, err := rb.ExchangeData(ctx, core.NeutralInputs())
	require.NoError(t, err)
	assert.Equal(t, core.SimulatorState{}, st)
	require.NoError(t, rb.ResetAircraft(ctx))
	assert.Equal(t, uint64(2), srv.Statistics().RequestCount)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Serve did not return after cancel")
	}
	assert.Equal(t, 0, srv.Clients())
}

func TestAsyncServerGraceExpires(t *testing.T) {
	sim := simtest.Start(t, simtest.WithBehavior(simtest.Hang))
	cfg := bridge.DefaultConfiguration()
	cfg.SimulatorAddress = sim.Addr()
	cfg.Prefetch = false
	cfg.ResponseTimeout = 10 * time.Second
	lb, err := bridge.NewAsyncLocal(cfg)
	require.NoError(t, err)

	srv, err := proxy.NewAsyncServer(lb)
	require.NoError(t, err)
	srv.SetShutdownGrace(100 * time.Millisecond)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = remote.WriteMessage(conn, nil, remote.Message{Tag: remote.TagEnableRc})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sim.Requests()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Serve did not honour the shutdown grace")
	}
}
