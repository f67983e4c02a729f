// Package remote is the binary protocol spoken between a remote bridge and
// the proxy. Every message is one frame:
//
//	version u16 | tag u8 | length u32 | payload[length]
//
// All integers and floats are big-endian. A peer that sees a different
// version rejects the frame without decoding it.
package remote

import (
	"errors"
	"fmt"

	"github.com/rflink/bridge/pkg/core"
)

// Version is the protocol version written in every frame header.
const Version uint16 = 1

// Tag identifies the message kind.
type Tag uint8

const (
	TagExchangeRequest Tag = iota + 1
	TagExchangeResponse
	TagEnableRc
	TagDisableRc
	TagResetAircraft
	TagAck
	TagError
)

func (t Tag) String() string {
	switch t {
	case TagExchangeRequest:
		return "ExchangeRequest"
	case TagExchangeResponse:
		return "ExchangeResponse"
	case TagEnableRc:
		return "EnableRc"
	case TagDisableRc:
		return "DisableRc"
	case TagResetAircraft:
		return "ResetAircraft"
	case TagAck:
		return "Ack"
	case TagError:
		return "Error"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool {
	return t >= TagExchangeRequest && t <= TagError
}

// Message is one decoded frame. Only the field matching Tag is meaningful:
// Inputs for ExchangeRequest, State for ExchangeResponse and Failure for
// Error.
type Message struct {
	Tag     Tag
	Inputs  core.ControlInputs
	State   core.SimulatorState
	Failure Failure
}

// Failure is an error reported by the proxy. Code is the position of the
// kind in core.Kinds, plus one; zero means unclassified.
type Failure struct {
	Code    uint8
	Op      string
	Field   string
	Message string
}

// FailureOf converts err for transmission.
func FailureOf(err error) Failure {
	f := Failure{Message: err.Error()}
	kind := core.KindOf(err)
	for i, k := range core.Kinds {
		if k == kind {
			f.Code = uint8(i + 1)
			break
		}
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		f.Op = ce.Op
		f.Message = ""
		if ce.Err != nil {
			f.Message = ce.Err.Error()
		}
	}
	f.Field = core.FieldOf(err)
	return f
}

// Kind returns the error kind named by Code, or ErrSimulatorFault for an
// unknown code.
func (f Failure) Kind() error {
	if f.Code >= 1 && int(f.Code) <= len(core.Kinds) {
		return core.Kinds[f.Code-1]
	}
	return core.ErrSimulatorFault
}

// Err rebuilds the classified error on the receiving side.
func (f Failure) Err() *core.Error {
	e := &core.Error{Op: f.Op, Kind: f.Kind(), Field: f.Field}
	if f.Message != "" {
		e.Err = &ProxyError{Message: f.Message}
	}
	return e
}

// ProxyError carries the text of an error raised inside the proxy.
type ProxyError struct {
	Message string
}

func (e *ProxyError) Error() string { return "proxy: " + e.Message }

// Convenience constructors.

func ExchangeRequest(in core.ControlInputs) Message {
	return Message{Tag: TagExchangeRequest, Inputs: in}
}

func ExchangeResponse(st core.SimulatorState) Message {
	return Message{Tag: TagExchangeResponse, State: st}
}

func Ack() Message { return Message{Tag: TagAck} }

func ErrorMessage(err error) Message {
	return Message{Tag: TagError, Failure: FailureOf(err)}
}
