// Package bridge connects a flight controller to a RealFlight simulator.
//
// LocalBridge talks to the simulator directly over a pool of connections.
// RemoteBridge forwards the same operations to a proxy running on the
// simulator host. The Async variants take a context on every call and
// abort cleanly when it is canceled.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rflink/bridge/internal/soap"
	"github.com/rflink/bridge/pkg/core"
)

// Bridge is the blocking bridge contract.
type Bridge interface {
	ExchangeData(in core.ControlInputs) (core.SimulatorState, error)
	EnableRC() error
	DisableRC() error
	ResetAircraft() error
	Statistics() core.Statistics
}

// AsyncBridge is the context-aware bridge contract.
type AsyncBridge interface {
	ExchangeData(ctx context.Context, in core.ControlInputs) (core.SimulatorState, error)
	EnableRC(ctx context.Context) error
	DisableRC(ctx context.Context) error
	ResetAircraft(ctx context.Context) error
	Statistics() core.Statistics
}

// Defaults for a simulator on the local host.
const (
	DefaultSimulatorAddress = "127.0.0.1:18083"
	DefaultConnectTimeout   = 50 * time.Millisecond
	DefaultResponseTimeout  = time.Second
	DefaultAcquireTimeout   = time.Second
	DefaultPoolSize         = 1

	DefaultProxyAddress  = "127.0.0.1:8080"
	DefaultRemoteTimeout = 5 * time.Second
)

// Configuration governs a local bridge and its connection pool.
type Configuration struct {
	SimulatorAddress string
	ConnectTimeout   time.Duration
	// ResponseTimeout bounds one request/response exchange once a
	// connection is leased. Zero disables the deadline.
	ResponseTimeout time.Duration
	PoolSize        int
	// AcquireTimeout bounds the wait for a free connection.
	AcquireTimeout time.Duration
	// Prefetch keeps spare connections dialed in the background.
	Prefetch bool
	// ReuseConnections returns a connection to the pool after a response
	// that allows keep-alive. RealFlight closes after every response, so
	// it is off by default.
	ReuseConnections bool
	// Schema decodes state responses; nil means soap.DefaultSchema.
	Schema *soap.Schema
	Logger *slog.Logger
}

// DefaultConfiguration returns the configuration for a local simulator.
func DefaultConfiguration() Configuration {
	return Configuration{
		SimulatorAddress: DefaultSimulatorAddress,
		ConnectTimeout:   DefaultConnectTimeout,
		ResponseTimeout:  DefaultResponseTimeout,
		PoolSize:         DefaultPoolSize,
		AcquireTimeout:   DefaultAcquireTimeout,
		Prefetch:         true,
	}
}

// Validate reports the first invalid setting.
func (c Configuration) Validate() error {
	switch {
	case c.SimulatorAddress == "":
		return errors.New("simulator address is required")
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	case c.ResponseTimeout < 0:
		return fmt.Errorf("response timeout must not be negative, got %s", c.ResponseTimeout)
	case c.PoolSize < 1:
		return fmt.Errorf("pool size must be at least 1, got %d", c.PoolSize)
	case c.AcquireTimeout <= 0:
		return fmt.Errorf("acquire timeout must be positive, got %s", c.AcquireTimeout)
	}
	return nil
}

func (c *Configuration) schema() *soap.Schema {
	if c.Schema == nil {
		return soap.DefaultSchema
	}
	return c.Schema
}

func (c *Configuration) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// RemoteConfiguration governs a remote bridge.
type RemoteConfiguration struct {
	ProxyAddress    string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

// DefaultRemoteConfiguration returns the configuration for a proxy on the
// local host.
func DefaultRemoteConfiguration() RemoteConfiguration {
	return RemoteConfiguration{
		ProxyAddress:    DefaultProxyAddress,
		ConnectTimeout:  DefaultRemoteTimeout,
		ResponseTimeout: DefaultRemoteTimeout,
	}
}

// Validate reports the first invalid setting.
func (c RemoteConfiguration) Validate() error {
	switch {
	case c.ProxyAddress == "":
		return errors.New("proxy address is required")
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	case c.ResponseTimeout < 0:
		return fmt.Errorf("response timeout must not be negative, got %s", c.ResponseTimeout)
	}
	return nil
}

func (c *RemoteConfiguration) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// WithExternalControl hands control of the aircraft to the caller for the
// duration of fn. It disables the RC transmitter, runs fn and re-enables
// the transmitter on every exit path, including a panic in fn.
func WithExternalControl(b Bridge, fn func(Bridge) error) (err error) {
	if err := b.DisableRC(); err != nil {
		return err
	}
	defer func() {
		if rerr := b.EnableRC(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(b)
}

// RestoreTimeout bounds the EnableRC call issued by WithExternalControlAsync
// after its context is done.
const RestoreTimeout = 2 * time.Second

// WithExternalControlAsync is WithExternalControl for an AsyncBridge. RC is
// restored even when ctx is already canceled.
func WithExternalControlAsync(ctx context.Context, b AsyncBridge, fn func(context.Context, AsyncBridge) error) (err error) {
	if err := b.DisableRC(ctx); err != nil {
		return err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RestoreTimeout)
		defer cancel()
		if rerr := b.EnableRC(rctx); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	return fn(ctx, b)
}

// ctxError classifies a context that ended during an operation.
func ctxError(op string, ctx context.Context) *core.Error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(op, core.ErrTimeout, err)
	}
	return core.NewError(op, core.ErrCanceled, err)
}

// interruptOn makes blocked I/O on c return as soon as ctx is done.
func interruptOn(ctx context.Context, c interface{ SetDeadline(time.Time) error }) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
}

// deadline picks the earlier of now+timeout and the context deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
