package soap

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/rflink/bridge/pkg/core"
)

// Request is a SOAP call as received by the simulator side.
type Request struct {
	Action Action
	Body   []byte
}

var errMalformedRequest = errors.New("malformed request line")

// ReadRequest reads one HTTP SOAP request from r.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	method, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok || string(method) != "POST" {
		return nil, core.DecodeError("request-line", errMalformedRequest)
	}
	_, proto, ok := bytes.Cut(rest, []byte{' '})
	if !ok || !bytes.HasPrefix(proto, []byte("HTTP/1.")) {
		return nil, core.DecodeError("request-line", errMalformedRequest)
	}

	req := &Request{}
	length := -1
	for {
		line, err = readLine(r)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			break
		}
		name, value, ok := bytes.Cut(line, []byte{':'})
		if !ok {
			return nil, core.DecodeError("header", errMalformedHeader)
		}
		name = bytes.TrimSpace(name)
		value = bytes.TrimSpace(value)
		switch {
		case bytes.EqualFold(name, []byte("Soapaction")):
			req.Action = Action(bytes.Trim(value, `'"`))
		case bytes.EqualFold(name, []byte("Content-Length")):
			n, perr := strconv.Atoi(string(value))
			if perr != nil || n < 0 || n > MaxBodySize {
				return nil, core.DecodeError("Content-Length", errMalformedHeader)
			}
			length = n
		}
	}
	if length < 0 {
		return nil, core.DecodeError("Content-Length", errNoLength)
	}
	req.Body = make([]byte, length)
	if _, err := io.ReadFull(r, req.Body); err != nil {
		return nil, core.TransportError("read_request", err)
	}
	return req, nil
}

// DecodeControlInputs extracts the channel values of an ExchangeData body.
func DecodeControlInputs(body []byte) (core.ControlInputs, error) {
	var in core.ControlInputs
	sc := scanner{buf: body}
	for {
		tok, ok := sc.next()
		if !ok {
			return in, core.DecodeError(DefaultSchema.channelsTag, errMissing)
		}
		if tok.kind != tokOpen || string(tok.name) != DefaultSchema.channelsTag {
			continue
		}
		var st core.SimulatorState
		if err := DefaultSchema.decodeChannels(&sc, tok, &st); err != nil {
			return in, err
		}
		return st.PreviousInputs, nil
	}
}
