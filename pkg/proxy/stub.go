package proxy

import (
	"context"

	"github.com/rflink/bridge/internal/stats"
	"github.com/rflink/bridge/pkg/core"
)

// StubBridge answers every operation with success and a zero state. It
// lets remote clients be tested without a simulator.
type StubBridge struct {
	stats *stats.Engine
}

// NewStubBridge returns a ready StubBridge.
func NewStubBridge() *StubBridge {
	return &StubBridge{stats: newStats("stub")}
}

func (b *StubBridge) ExchangeData(in core.ControlInputs) (core.SimulatorState, error) {
	start := b.stats.Now()
	if err := in.Validate(); err != nil {
		b.stats.Record("exchange_data", start, err)
		return core.SimulatorState{}, err
	}
	b.stats.Record("exchange_data", start, nil)
	return core.SimulatorState{}, nil
}

func (b *StubBridge) EnableRC() error     { return b.ack("enable_rc") }
func (b *StubBridge) DisableRC() error    { return b.ack("disable_rc") }
func (b *StubBridge) ResetAircraft() error { return b.ack("reset_aircraft") }

func (b *StubBridge) Statistics() core.Statistics { return b.stats.Snapshot() }

func (b *StubBridge) ack(op string) error {
	b.stats.Record(op, b.stats.Now(), nil)
	return nil
}

// AsyncStubBridge is the context-aware StubBridge. Calls on a done context
// fail with the context's classification.
type AsyncStubBridge struct {
	stub *StubBridge
}

// NewAsyncStubBridge returns a ready AsyncStubBridge.
func NewAsyncStubBridge() *AsyncStubBridge {
	return &AsyncStubBridge{stub: NewStubBridge()}
}

func (b *AsyncStubBridge) ExchangeData(ctx context.Context, in core.ControlInputs) (core.SimulatorState, error) {
	if err := ctx.Err(); err != nil {
		return core.SimulatorState{}, core.TransportError("exchange_data", err)
	}
	return b.stub.ExchangeData(in)
}

func (b *AsyncStubBridge) EnableRC(ctx context.Context) error {
	return b.ack(ctx, "enable_rc", b.stub.EnableRC)
}

func (b *AsyncStubBridge) DisableRC(ctx context.Context) error {
	return b.ack(ctx, "disable_rc", b.stub.DisableRC)
}

func (b *AsyncStubBridge) ResetAircraft(ctx context.Context) error {
	return b.ack(ctx, "reset_aircraft", b.stub.ResetAircraft)
}

func (b *AsyncStubBridge) Statistics() core.Statistics { return b.stub.Statistics() }

func (b *AsyncStubBridge) ack(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return core.TransportError(op, err)
	}
	return fn()
}
