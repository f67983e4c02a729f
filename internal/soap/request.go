package soap

import (
	"strconv"
	"sync"

	"github.com/rflink/bridge/pkg/core"
)

// Action is a SOAP operation understood by the simulator.
type Action string

const (
	ActionExchangeData      Action = "ExchangeData"
	ActionInjectController  Action = "InjectUAVControllerInterface"
	ActionRestoreController Action = "RestoreOriginalControllerDevice"
	ActionResetAircraft     Action = "ResetAircraft"
)

// Op is the bridge operation name the action implements, used in errors,
// logs and metrics.
func (a Action) Op() string {
	switch a {
	case ActionExchangeData:
		return "exchange_data"
	case ActionInjectController:
		return "disable_rc"
	case ActionRestoreController:
		return "enable_rc"
	case ActionResetAircraft:
		return "reset_aircraft"
	}
	return string(a)
}

const (
	xmlDecl       = "<?xml version='1.0' encoding='UTF-8'?>"
	envelopeOpen  = "<soap:Envelope xmlns:soap='" + NamespaceSOAP11 + "' xmlns:xsd='http://www.w3.org/2001/XMLSchema' xmlns:xsi='http://www.w3.org/2001/XMLSchema-instance'><soap:Body>"
	envelopeClose = "</soap:Body></soap:Envelope>"

	// NamespaceSOAP11 is the only envelope namespace the simulator speaks.
	NamespaceSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"
	// NamespaceSOAP12 marks an incompatible peer.
	NamespaceSOAP12 = "http://www.w3.org/2003/05/soap-envelope"

	selectedChannels = "<m-selectedChannels>4095</m-selectedChannels>"
)

// AppendEnvelope appends a SOAP envelope wrapping body in action to dst.
func AppendEnvelope(dst []byte, action Action, body []byte) []byte {
	dst = append(dst, xmlDecl...)
	dst = append(dst, envelopeOpen...)
	dst = append(dst, '<')
	dst = append(dst, action...)
	dst = append(dst, '>')
	dst = append(dst, body...)
	dst = append(dst, "</"...)
	dst = append(dst, action...)
	dst = append(dst, '>')
	return append(dst, envelopeClose...)
}

// AppendControlInputs appends the pControlInputs element for in.
func AppendControlInputs(dst []byte, in *core.ControlInputs) []byte {
	dst = append(dst, "<pControlInputs>"...)
	dst = append(dst, selectedChannels...)
	dst = append(dst, "<m-channelValues-0to1>"...)
	for _, v := range in.Channels {
		dst = append(dst, "<item>"...)
		dst = strconv.AppendFloat(dst, v, 'f', -1, 64)
		dst = append(dst, "</item>"...)
	}
	dst = append(dst, "</m-channelValues-0to1>"...)
	return append(dst, "</pControlInputs>"...)
}

// AppendRequest appends a complete HTTP POST carrying envelope for action.
func AppendRequest(dst []byte, action Action, envelope []byte) []byte {
	dst = append(dst, "POST / HTTP/1.1\r\nSoapaction: '"...)
	dst = append(dst, action...)
	dst = append(dst, "'\r\nContent-Length: "...)
	dst = strconv.AppendInt(dst, int64(len(envelope)), 10)
	dst = append(dst, "\r\nContent-Type: text/xml;charset=utf-8\r\n\r\n"...)
	return append(dst, envelope...)
}

// EncodeExchange returns the SOAP envelope for an ExchangeData call.
func EncodeExchange(in *core.ControlInputs) []byte {
	body := AppendControlInputs(make([]byte, 0, 512), in)
	return AppendEnvelope(make([]byte, 0, len(body)+320), ActionExchangeData, body)
}

// EncodeControl returns the SOAP envelope for a body-less control action.
func EncodeControl(action Action) []byte {
	return AppendEnvelope(make([]byte, 0, 320), action, nil)
}

// Encoder builds requests into reused buffers. The slice returned by its
// methods is valid until the next call. An Encoder is not safe for
// concurrent use; take one from AcquireEncoder per call instead.
type Encoder struct {
	body []byte
	env  []byte
	req  []byte
}

var encoders = sync.Pool{New: func() any { return new(Encoder) }}

// AcquireEncoder returns a pooled Encoder.
func AcquireEncoder() *Encoder { return encoders.Get().(*Encoder) }

// ReleaseEncoder returns e to the pool.
func ReleaseEncoder(e *Encoder) { encoders.Put(e) }

// Exchange returns a full HTTP request for ExchangeData with in.
func (e *Encoder) Exchange(in *core.ControlInputs) []byte {
	e.body = AppendControlInputs(e.body[:0], in)
	return e.request(ActionExchangeData, e.body)
}

// Control returns a full HTTP request for a body-less action.
func (e *Encoder) Control(action Action) []byte {
	return e.request(action, nil)
}

func (e *Encoder) request(action Action, body []byte) []byte {
	e.env = AppendEnvelope(e.env[:0], action, body)
	e.req = AppendRequest(e.req[:0], action, e.env)
	return e.req
}
