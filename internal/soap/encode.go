package soap

import (
	"strconv"

	"github.com/rflink/bridge/pkg/core"
)

// Simulator-side encoders. They render what RealFlight Link sends back and
// are used by the stub simulator and by round-trip tests.

const returnDataResponse = "ReturnDataResponse"

// EncodeStateResponse renders a ReturnData envelope for st with
// DefaultSchema.
func EncodeStateResponse(st *core.SimulatorState) []byte {
	return DefaultSchema.AppendStateResponse(make([]byte, 0, 4096), st)
}

// AppendStateResponse appends a ReturnData envelope for st to dst. Numbers
// use the shortest representation that parses back to the same value.
func (s *Schema) AppendStateResponse(dst []byte, st *core.SimulatorState) []byte {
	dst = append(dst, xmlDecl...)
	dst = append(dst, envelopeOpen...)
	dst = appendOpen(dst, returnDataResponse)

	dst = appendOpen(dst, "m-previousInputs")
	dst = append(dst, selectedChannels...)
	dst = appendOpen(dst, s.channelsTag)
	for _, v := range st.PreviousInputs.Channels {
		dst = append(dst, "<item>"...)
		dst = strconv.AppendFloat(dst, v, 'g', -1, 64)
		dst = append(dst, "</item>"...)
	}
	dst = appendClose(dst, s.channelsTag)
	dst = appendClose(dst, "m-previousInputs")

	for _, group := range s.groups() {
		if group != "" {
			dst = appendOpen(dst, group)
		}
		for i := range s.fields {
			if s.fields[i].Group == group {
				dst = appendField(dst, &s.fields[i], st)
			}
		}
		if group != "" {
			dst = appendClose(dst, group)
		}
	}

	dst = appendClose(dst, returnDataResponse)
	return append(dst, envelopeClose...)
}

// groups lists the field containers in order of first appearance.
func (s *Schema) groups() []string {
	var out []string
	for _, f := range s.fields {
		dup := false
		for _, g := range out {
			if g == f.Group {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, f.Group)
		}
	}
	return out
}

func appendField(dst []byte, f *Field, st *core.SimulatorState) []byte {
	dst = appendOpen(dst, f.Tag)
	switch f.Kind {
	case Number:
		dst = strconv.AppendFloat(dst, *f.Number(st), 'g', -1, 64)
	case Flag:
		dst = strconv.AppendBool(dst, *f.Flag(st))
	case Text:
		dst = appendEscaped(dst, *f.Text(st))
	}
	return appendClose(dst, f.Tag)
}

// EncodeControlResponse renders the acknowledgement for a body-less action.
func EncodeControlResponse(action Action) []byte {
	name := string(action) + "Response"
	dst := append(make([]byte, 0, 320), xmlDecl...)
	dst = append(dst, envelopeOpen...)
	dst = appendOpen(dst, name)
	dst = appendClose(dst, name)
	return append(dst, envelopeClose...)
}

// EncodeFault renders a SOAP fault envelope carrying detail.
func EncodeFault(detail string) []byte {
	dst := append(make([]byte, 0, 320+len(detail)), xmlDecl...)
	dst = append(dst, envelopeOpen...)
	dst = append(dst, "<soap:Fault><faultcode>soap:Server</faultcode><faultstring>"...)
	dst = appendEscaped(dst, detail)
	dst = append(dst, "</faultstring><detail>"...)
	dst = appendEscaped(dst, detail)
	dst = append(dst, "</detail></soap:Fault>"...)
	return append(dst, envelopeClose...)
}

// AppendHTTPResponse appends an HTTP/1.1 response carrying body. With
// keepAlive false the response announces that the server closes the
// connection afterwards, as the simulator does.
func AppendHTTPResponse(dst []byte, status int, body []byte, keepAlive bool) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, statusText(status)...)
	dst = append(dst, "\r\nContent-Type: text/xml; charset=utf-8\r\nContent-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	if keepAlive {
		dst = append(dst, "\r\nConnection: keep-alive\r\n\r\n"...)
	} else {
		dst = append(dst, "\r\nConnection: close\r\n\r\n"...)
	}
	return append(dst, body...)
}

func statusText(status int) string {
	switch status {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 500:
		return "Internal Server Error"
	}
	return "Status"
}

func appendOpen(dst []byte, name string) []byte {
	dst = append(dst, '<')
	dst = append(dst, name...)
	return append(dst, '>')
}

func appendClose(dst []byte, name string) []byte {
	dst = append(dst, "</"...)
	dst = append(dst, name...)
	return append(dst, '>')
}
