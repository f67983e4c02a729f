package bridge

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rflink/bridge/internal/remote"
	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/core"
	"go.opentelemetry.io/otel/attribute"
)

// RemoteBridge forwards bridge operations to a proxy over one persistent
// connection. Calls are serialized on that connection. After a transport
// or protocol failure the connection is dropped and the next call dials
// again.
type RemoteBridge struct {
	cfg    RemoteConfiguration
	stats  *stats.Engine
	logger *slog.Logger

	mu   sync.Mutex
	link *link
}

// link is one connection to the proxy with its reusable buffers.
type link struct {
	conn net.Conn
	r    *bufio.Reader
	wbuf []byte
	rbuf []byte
}

func dialLink(ctx context.Context, cfg *RemoteConfiguration) (*link, error) {
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.ProxyAddress)
	if err != nil {
		return nil, err
	}
	return &link{
		conn: conn,
		r:    bufio.NewReader(conn),
		wbuf: make([]byte, 0, 512),
		rbuf: make([]byte, 0, 512),
	}, nil
}

// roundTrip sends req and reads one reply.
func (l *link) roundTrip(req remote.Message) (remote.Message, error) {
	var err error
	if l.wbuf, err = remote.WriteMessage(l.conn, l.wbuf, req); err != nil {
		return remote.Message{}, err
	}
	var resp remote.Message
	resp, l.rbuf, err = remote.ReadMessage(l.r, l.rbuf)
	return resp, err
}

// NewRemote validates cfg and connects to the proxy.
func NewRemote(cfg RemoteConfiguration) (*RemoteBridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &RemoteBridge{
		cfg:    cfg,
		stats:  stats.New(stats.WithAttributes(attribute.String("bridge", "remote"))),
		logger: cfg.logger(),
	}
	l, err := dialLink(context.Background(), &b.cfg)
	if err != nil {
		return nil, core.NewError("connect", core.ErrConnection, err)
	}
	b.link = l
	return b, nil
}

func (b *RemoteBridge) ExchangeData(in core.ControlInputs) (core.SimulatorState, error) {
	resp, err := b.call("exchange_data", remote.ExchangeRequest(in), in.Validate)
	if err != nil {
		return core.SimulatorState{}, err
	}
	return resp.State, nil
}

func (b *RemoteBridge) EnableRC() error {
	_, err := b.call("enable_rc", remote.Message{Tag: remote.TagEnableRc}, nil)
	return err
}

func (b *RemoteBridge) DisableRC() error {
	_, err := b.call("disable_rc", remote.Message{Tag: remote.TagDisableRc}, nil)
	return err
}

func (b *RemoteBridge) ResetAircraft() error {
	_, err := b.call("reset_aircraft", remote.Message{Tag: remote.TagResetAircraft}, nil)
	return err
}

func (b *RemoteBridge) Statistics() core.Statistics {
	return b.stats.Snapshot()
}

// Close closes the proxy connection.
func (b *RemoteBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link == nil {
		return nil
	}
	err := b.link.conn.Close()
	b.link = nil
	return err
}

func (b *RemoteBridge) call(op string, req remote.Message, validate func() error) (resp remote.Message, err error) {
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

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.link == nil {
		l, err := dialLink(context.Background(), &b.cfg)
		if err != nil {
			return remote.Message{}, core.NewError(op, core.ErrConnection, err)
		}
		b.link = l
	}
	if b.cfg.ResponseTimeout > 0 {
		_ = b.link.conn.SetDeadline(time.Now().Add(b.cfg.ResponseTimeout))
	}
	resp, err = b.link.roundTrip(req)
	if err != nil {
		b.dropLink()
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

func (b *RemoteBridge) dropLink() {
	if b.link != nil {
		_ = b.link.conn.Close()
		b.link = nil
	}
}

// linkLost reports whether err leaves the proxy link unusable. A desync
// means the frame stream is out of step, and the proxy hangs up after
// reporting a frame it could not decode or version it does not speak.
func linkLost(err error) bool {
	switch core.KindOf(err) {
	case core.ErrProtocolDesync, core.ErrDecode, core.ErrProtocolVersion:
		return true
	}
	return false
}

// expectedReply is the tag a well-behaved proxy answers req with.
func expectedReply(req remote.Tag) remote.Tag {
	if req == remote.TagExchangeRequest {
		return remote.TagExchangeResponse
	}
	return remote.TagAck
}

// checkReply turns an Error frame into its error and a mismatched tag into
// ErrProtocolDesync.
func checkReply(op string, sent remote.Tag, resp *remote.Message) error {
	if resp.Tag == remote.TagError {
		e := resp.Failure.Err()
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	if want := expectedReply(sent); resp.Tag != want {
		return core.NewError(op, core.ErrProtocolDesync,
			fmt.Errorf("sent %s, expected %s, received %s", sent, want, resp.Tag))
	}
	return nil
}
