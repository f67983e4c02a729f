package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Error kinds. Every failed bridge operation returns an error that matches
// exactly one of these with errors.Is.
var (
	ErrConnection      = errors.New("connection error")
	ErrTimeout         = errors.New("timeout")
	ErrDecode          = errors.New("decode error")
	ErrProtocolVersion = errors.New("protocol version mismatch")
	ErrProtocolDesync  = errors.New("protocol desynchronized")
	ErrSimulatorFault  = errors.New("simulator fault")
	ErrInvalidInput    = errors.New("invalid control inputs")
	ErrCanceled        = errors.New("operation canceled")
)

// Kinds lists the error kinds in their stable wire order.
var Kinds = []error{
	ErrConnection,
	ErrTimeout,
	ErrDecode,
	ErrProtocolVersion,
	ErrProtocolDesync,
	ErrSimulatorFault,
	ErrInvalidInput,
	ErrCanceled,
}

// Error is a classified bridge failure.
type Error struct {
	Op    string // operation, e.g. "exchange_data"
	Kind  error  // one of the Err* kinds
	Field string // offending field for decode and validation errors
	Err   error  // underlying cause, may be nil
}

// NewError classifies err under kind for operation op.
func NewError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// DecodeError reports a malformed or missing field.
func DecodeError(field string, err error) *Error {
	return &Error{Op: "decode", Kind: ErrDecode, Field: field, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WithOp returns a copy of e attributed to op, keeping the inner op in the
// cause chain.
func (e *Error) WithOp(op string) *Error {
	if e.Op == op {
		return e
	}
	c := *e
	c.Op = op
	return &c
}

// KindOf returns the kind of err, or nil when err is not classified.
// Bare context errors map to ErrCanceled and ErrTimeout.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range Kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	return nil
}

// FieldOf returns the offending field recorded on err, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// TransportError classifies an I/O failure on a socket. Deadline expiry
// becomes ErrTimeout, context cancellation ErrCanceled and anything else
// ErrConnection. Already classified errors keep their kind.
func TransportError(op string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.WithOp(op)
	}
	kind := ErrConnection
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		kind = ErrCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = ErrTimeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = ErrTimeout
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
