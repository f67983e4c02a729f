package soap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rflink/bridge/pkg/core"
)

// MaxBodySize caps the response body accepted from the simulator.
const MaxBodySize = 1 << 20

const defaultFaultDetail = "Failed to extract error message"

// Response is a raw simulator reply. Body aliases the buffer passed to
// ReadResponse.
type Response struct {
	Status    int
	KeepAlive bool
	Body      []byte
}

// Fault is an operational failure reported by the simulator.
type Fault struct {
	Status int
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("status %d: %s", f.Status, f.Detail)
}

var (
	errMalformedStatus = errors.New("malformed status line")
	errMalformedHeader = errors.New("malformed header")
	errNoLength        = errors.New("missing Content-Length")
	errBodyTooLarge    = errors.New("body exceeds limit")
)

// ReadResponse reads one HTTP response from r. The body is read into buf,
// grown as needed, so callers can reuse it across calls. Socket failures
// are classified with core.TransportError; a truncated body is a
// connection error.
func ReadResponse(r *bufio.Reader, buf []byte) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	resp := &Response{}
	if resp.Status, resp.KeepAlive, err = parseStatusLine(line); err != nil {
		return nil, err
	}

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
		case bytes.EqualFold(name, []byte("Content-Length")):
			n, perr := strconv.Atoi(string(value))
			if perr != nil || n < 0 {
				return nil, core.DecodeError("Content-Length", errMalformedHeader)
			}
			length = n
		case bytes.EqualFold(name, []byte("Connection")):
			if bytes.EqualFold(value, []byte("close")) {
				resp.KeepAlive = false
			} else if bytes.EqualFold(value, []byte("keep-alive")) {
				resp.KeepAlive = true
			}
		}
	}
	if length < 0 {
		return nil, core.DecodeError("Content-Length", errNoLength)
	}
	if length > MaxBodySize {
		return nil, core.DecodeError("Content-Length", errBodyTooLarge)
	}

	if cap(buf) < length {
		buf = make([]byte, length)
	}
	buf = buf[:length]
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, core.TransportError("read_response", err)
	}
	resp.Body = buf
	return resp, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, core.DecodeError("header", errMalformedHeader)
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, core.TransportError("read_response", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func parseStatusLine(line []byte) (status int, keepAlive bool, err error) {
	proto, rest, ok := bytes.Cut(line, []byte{' '})
	if !ok {
		return 0, false, core.DecodeError("status-line", errMalformedStatus)
	}
	switch string(proto) {
	case "HTTP/1.1":
		keepAlive = true
	case "HTTP/1.0":
	default:
		if bytes.HasPrefix(proto, []byte("HTTP/")) {
			return 0, false, core.NewError("read_response", core.ErrProtocolVersion,
				fmt.Errorf("unsupported protocol %q", proto))
		}
		return 0, false, core.DecodeError("status-line", errMalformedStatus)
	}
	code, _, _ := bytes.Cut(rest, []byte{' '})
	if len(code) != 3 {
		return 0, false, core.DecodeError("status-line", errMalformedStatus)
	}
	status, perr := strconv.Atoi(string(code))
	if perr != nil {
		return 0, false, core.DecodeError("status-line", errMalformedStatus)
	}
	return status, keepAlive, nil
}

// CheckFault reports a simulator fault: any non-200 status, or a Fault
// element inside a 200 body. The error carries the fault detail text.
func CheckFault(op string, resp *Response) error {
	if resp.Status == 200 && !hasFault(resp.Body) {
		return nil
	}
	return core.NewError(op, core.ErrSimulatorFault, &Fault{
		Status: resp.Status,
		Detail: FaultDetail(resp.Body),
	})
}

// FaultDetail extracts the text of the first detail element in body.
func FaultDetail(body []byte) string {
	sc := scanner{buf: body}
	for {
		tok, ok := sc.next()
		if !ok {
			return defaultFaultDetail
		}
		if tok.kind == tokOpen && string(localName(tok.name)) == "detail" && !tok.selfClosing {
			text, ok := sc.text(tok.name)
			if !ok {
				return defaultFaultDetail
			}
			return unescape(bytes.TrimSpace(text))
		}
	}
}

func hasFault(body []byte) bool {
	sc := scanner{buf: body}
	for {
		tok, ok := sc.next()
		if !ok {
			return false
		}
		if tok.kind == tokOpen && string(localName(tok.name)) == "Fault" {
			return true
		}
	}
}
