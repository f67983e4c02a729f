package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rflink/bridge/pkg/core"
)

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 7
	// MaxPayload caps the payload length accepted from a peer.
	MaxPayload = 1 << 20

	inputsSize = core.ChannelCount * 8
	floatCount = core.FloatCount
	flagCount  = core.FlagCount
	stateFixed = inputsSize + floatCount*8 + 1 + 2
)

var (
	errShortFrame   = errors.New("frame shorter than header")
	errLength       = errors.New("payload length does not match header")
	errTooLarge     = errors.New("payload exceeds limit")
	errUnknownTag   = errors.New("unknown message tag")
	errStringLength = errors.New("string exceeds 65535 bytes")
)

// Header is a decoded frame header.
type Header struct {
	Version uint16
	Tag     Tag
	Length  uint32
}

// ParseHeader decodes the first HeaderSize bytes of b. It rejects a
// foreign version, an unknown tag and an oversized length.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, core.DecodeError("header", errShortFrame)
	}
	h := Header{
		Version: binary.BigEndian.Uint16(b[0:2]),
		Tag:     Tag(b[2]),
		Length:  binary.BigEndian.Uint32(b[3:7]),
	}
	if h.Version != Version {
		return h, core.NewError("decode", core.ErrProtocolVersion,
			fmt.Errorf("peer speaks version %d, want %d", h.Version, Version))
	}
	if !h.Tag.Valid() {
		return h, core.DecodeError("tag", fmt.Errorf("%w %d", errUnknownTag, uint8(h.Tag)))
	}
	if h.Length > MaxPayload {
		return h, core.DecodeError("length", errTooLarge)
	}
	return h, nil
}

// Encode returns m as a complete frame.
func Encode(m Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+stateFixed+len(m.State.CurrentAircraftStatus)), m)
}

// AppendFrame appends the frame for m to dst.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	if !m.Tag.Valid() {
		return dst, core.NewError("encode", core.ErrInvalidInput,
			fmt.Errorf("%w %d", errUnknownTag, uint8(m.Tag)))
	}
	start := len(dst)
	dst = binary.BigEndian.AppendUint16(dst, Version)
	dst = append(dst, byte(m.Tag))
	dst = binary.BigEndian.AppendUint32(dst, 0)

	var err error
	switch m.Tag {
	case TagExchangeRequest:
		dst = appendInputs(dst, &m.Inputs)
	case TagExchangeResponse:
		dst, err = appendState(dst, &m.State)
	case TagError:
		dst, err = appendFailure(dst, &m.Failure)
	}
	if err != nil {
		return dst[:start], core.NewError("encode", core.ErrInvalidInput, err)
	}
	binary.BigEndian.PutUint32(dst[start+3:start+HeaderSize], uint32(len(dst)-start-HeaderSize))
	return dst, nil
}

// Decode parses one complete frame. The header length must equal the
// number of payload bytes present.
func Decode(frame []byte) (Message, error) {
	h, err := ParseHeader(frame)
	if err != nil {
		return Message{}, err
	}
	payload := frame[HeaderSize:]
	if uint32(len(payload)) != h.Length {
		return Message{}, core.DecodeError("length", errLength)
	}
	return decodePayload(h.Tag, payload)
}

func decodePayload(tag Tag, p []byte) (Message, error) {
	m := Message{Tag: tag}
	switch tag {
	case TagExchangeRequest:
		if len(p) != inputsSize {
			return Message{}, core.DecodeError("inputs", errLength)
		}
		readInputs(p, &m.Inputs)
	case TagExchangeResponse:
		if err := readState(p, &m.State); err != nil {
			return Message{}, err
		}
	case TagError:
		if err := readFailure(p, &m.Failure); err != nil {
			return Message{}, err
		}
	default:
		if len(p) != 0 {
			return Message{}, core.DecodeError(tag.String(), errLength)
		}
	}
	return m, nil
}

// ReadMessage reads and decodes one frame from r. buf is reused for the
// frame when large enough. A version mismatch is reported before the
// payload is consumed.
func ReadMessage(r io.Reader, buf []byte) (Message, []byte, error) {
	if cap(buf) < HeaderSize {
		buf = make([]byte, HeaderSize, HeaderSize+stateFixed+64)
	}
	buf = buf[:HeaderSize]
	if _, err := io.ReadFull(r, buf); err != nil {
		return Message{}, buf, core.TransportError("read_frame", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return Message{}, buf, err
	}
	n := HeaderSize + int(h.Length)
	if cap(buf) < n {
		grown := make([]byte, n)
		copy(grown, buf)
		buf = grown
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return Message{}, buf, core.TransportError("read_frame", err)
	}
	m, err := decodePayload(h.Tag, buf[HeaderSize:])
	return m, buf, err
}

// WriteMessage encodes m into buf and writes it to w in one call.
func WriteMessage(w io.Writer, buf []byte, m Message) ([]byte, error) {
	buf, err := AppendFrame(buf[:0], m)
	if err != nil {
		return buf, err
	}
	if _, err := w.Write(buf); err != nil {
		return buf, core.TransportError("write_frame", err)
	}
	return buf, nil
}

func appendInputs(dst []byte, in *core.ControlInputs) []byte {
	for _, v := range in.Channels {
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(v))
	}
	return dst
}

func readInputs(p []byte, in *core.ControlInputs) {
	for i := range in.Channels {
		in.Channels[i] = math.Float64frombits(binary.BigEndian.Uint64(p[i*8:]))
	}
}

func appendState(dst []byte, st *core.SimulatorState) ([]byte, error) {
	dst = appendInputs(dst, &st.PreviousInputs)
	for _, f := range st.Floats() {
		dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(*f))
	}
	var bits byte
	for i, f := range st.Flags() {
		if *f {
			bits |= 1 << i
		}
	}
	dst = append(dst, bits)
	return appendString(dst, st.CurrentAircraftStatus)
}

func readState(p []byte, st *core.SimulatorState) error {
	if len(p) < stateFixed {
		return core.DecodeError("state", errLength)
	}
	readInputs(p, &st.PreviousInputs)
	off := inputsSize
	for _, f := range st.Floats() {
		*f = math.Float64frombits(binary.BigEndian.Uint64(p[off:]))
		off += 8
	}
	bits := p[off]
	off++
	if bits>>flagCount != 0 {
		return core.DecodeError("flags", fmt.Errorf("unknown flag bits %#x", bits))
	}
	for i, f := range st.Flags() {
		*f = bits&(1<<i) != 0
	}
	status, rest, err := readString(p[off:], "currentAircraftStatus")
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return core.DecodeError("state", errLength)
	}
	st.CurrentAircraftStatus = status
	return nil
}

func appendFailure(dst []byte, f *Failure) ([]byte, error) {
	dst = append(dst, f.Code)
	var err error
	for _, s := range []string{f.Op, f.Field, f.Message} {
		if dst, err = appendString(dst, s); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

func readFailure(p []byte, f *Failure) error {
	if len(p) < 1 {
		return core.DecodeError("failure", errLength)
	}
	f.Code = p[0]
	p = p[1:]
	var err error
	if f.Op, p, err = readString(p, "op"); err != nil {
		return err
	}
	if f.Field, p, err = readString(p, "field"); err != nil {
		return err
	}
	if f.Message, p, err = readString(p, "message"); err != nil {
		return err
	}
	if len(p) != 0 {
		return core.DecodeError("failure", errLength)
	}
	return nil
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return dst, errStringLength
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...), nil
}

func readString(p []byte, field string) (string, []byte, error) {
	if len(p) < 2 {
		return "", nil, core.DecodeError(field, errLength)
	}
	n := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if len(p) < n {
		return "", nil, core.DecodeError(field, errLength)
	}
	return string(p[:n]), p[n:], nil
}
