package recorder

import (
	"context"
	"errors"
	"io"

	"github.com/rflink/bridge/pkg/bridge"
	"github.com/rflink/bridge/pkg/core"
)

// Bridge records every successful exchange of the wrapped bridge. Other
// operations pass through.
type Bridge struct {
	bridge.Bridge
	rec *Recorder
}

// Wrap returns b with recording attached.
func Wrap(b bridge.Bridge, rec *Recorder) *Bridge {
	return &Bridge{Bridge: b, rec: rec}
}

func (b *Bridge) ExchangeData(in core.ControlInputs) (core.SimulatorState, error) {
	st, err := b.Bridge.ExchangeData(in)
	if err == nil {
		b.rec.Record(in, st)
	}
	return st, err
}

// Recorder returns the attached recorder.
func (b *Bridge) Recorder() *Recorder { return b.rec }

// Close ends the recording, then closes the wrapped bridge if it is an
// io.Closer.
func (b *Bridge) Close() error {
	return closeBoth(b.rec, b.Bridge)
}

// AsyncBridge is Bridge for a bridge.AsyncBridge.
type AsyncBridge struct {
	bridge.AsyncBridge
	rec *Recorder
}

// WrapAsync returns b with recording attached.
func WrapAsync(b bridge.AsyncBridge, rec *Recorder) *AsyncBridge {
	return &AsyncBridge{AsyncBridge: b, rec: rec}
}

func (b *AsyncBridge) ExchangeData(ctx context.Context, in core.ControlInputs) (core.SimulatorState, error) {
	st, err := b.AsyncBridge.ExchangeData(ctx, in)
	if err == nil {
		b.rec.Record(in, st)
	}
	return st, err
}

// Recorder returns the attached recorder.
func (b *AsyncBridge) Recorder() *Recorder { return b.rec }

// Close ends the recording, then closes the wrapped bridge if it is an
// io.Closer.
func (b *AsyncBridge) Close() error {
	return closeBoth(b.rec, b.AsyncBridge)
}

func closeBoth(rec *Recorder, inner any) error {
	err := rec.Close()
	if c, ok := inner.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

var (
	_ bridge.Bridge      = (*Bridge)(nil)
	_ bridge.AsyncBridge = (*AsyncBridge)(nil)
	_ io.Closer          = (*Bridge)(nil)
	_ io.Closer          = (*AsyncBridge)(nil)
)
