package soap

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/rflink/bridge/pkg/core"
)

var (
	errMissing  = errors.New("missing field")
	errNumber   = errors.New("invalid number")
	errBool     = errors.New("invalid boolean")
	errChannels = errors.New("wrong channel count")
	errElement  = errors.New("malformed element")
	errEnvelope = errors.New("not a SOAP 1.1 envelope")
)

// DecodeState decodes a state response with DefaultSchema.
func DecodeState(body []byte) (core.SimulatorState, error) {
	return DefaultSchema.Decode(body)
}

// Decode parses a ReturnData response. Fields are matched by tag, in any
// order; the first occurrence of a tag wins and unknown elements are
// ignored. Every schema field and exactly ChannelCount echoed channel
// values must be present, otherwise nothing is returned.
func (s *Schema) Decode(body []byte) (core.SimulatorState, error) {
	var st core.SimulatorState
	if err := s.decode(body, &st); err != nil {
		return core.SimulatorState{}, err
	}
	return st, nil
}

func (s *Schema) decode(body []byte, st *core.SimulatorState) error {
	var small [64]bool
	var seen []bool
	if len(s.fields) <= len(small) {
		seen = small[:len(s.fields)]
	} else {
		seen = make([]bool, len(s.fields))
	}

	sc := scanner{buf: body}
	envelope, channels := false, false
	for {
		tok, ok := sc.next()
		if !ok {
			break
		}
		if tok.kind != tokOpen {
			continue
		}
		if !envelope {
			if err := checkEnvelope(tok); err != nil {
				return err
			}
			envelope = true
			continue
		}
		if string(localName(tok.name)) == "Fault" {
			return core.NewError("decode", core.ErrSimulatorFault,
				&Fault{Status: 200, Detail: FaultDetail(body)})
		}
		if string(tok.name) == s.channelsTag {
			if !channels {
				if err := s.decodeChannels(&sc, tok, st); err != nil {
					return err
				}
				channels = true
			}
			continue
		}
		i, known := s.index[string(tok.name)]
		if !known || seen[i] {
			continue
		}
		f := &s.fields[i]
		var text []byte
		if !tok.selfClosing {
			if text, ok = sc.text(tok.name); !ok {
				return core.DecodeError(f.Tag, errElement)
			}
		}
		if err := setField(f, st, text); err != nil {
			return core.DecodeError(f.Tag, err)
		}
		seen[i] = true
	}

	if !envelope {
		return core.DecodeError("Envelope", errEnvelope)
	}
	if !channels {
		return core.DecodeError(s.channelsTag, errMissing)
	}
	for i := range s.fields {
		if !seen[i] {
			return core.DecodeError(s.fields[i].Tag, errMissing)
		}
	}
	return nil
}

func checkEnvelope(tok token) error {
	if string(localName(tok.name)) != "Envelope" {
		return core.DecodeError("Envelope", errEnvelope)
	}
	if bytes.Contains(tok.attrs, []byte(NamespaceSOAP12)) {
		return core.NewError("decode", core.ErrProtocolVersion,
			fmt.Errorf("envelope namespace %s", NamespaceSOAP12))
	}
	if !bytes.Contains(tok.attrs, []byte(NamespaceSOAP11)) {
		return core.DecodeError("Envelope", errEnvelope)
	}
	return nil
}

func (s *Schema) decodeChannels(sc *scanner, open token, st *core.SimulatorState) error {
	if open.selfClosing {
		return core.DecodeError(s.channelsTag, errChannels)
	}
	n := 0
	for {
		tok, ok := sc.next()
		if !ok {
			return core.DecodeError(s.channelsTag, errElement)
		}
		if tok.kind == tokClose {
			if !bytes.Equal(tok.name, open.name) {
				return core.DecodeError(s.channelsTag, errElement)
			}
			break
		}
		if string(tok.name) != "item" || tok.selfClosing {
			return core.DecodeError(s.channelsTag, errElement)
		}
		text, ok := sc.text(tok.name)
		if !ok {
			return core.DecodeError(s.channelsTag, errElement)
		}
		if n == core.ChannelCount {
			return core.DecodeError(s.channelsTag, errChannels)
		}
		v, err := parseNumber(text)
		if err != nil {
			return core.DecodeError(fmt.Sprintf("%s[%d]", s.channelsTag, n), err)
		}
		st.PreviousInputs.Channels[n] = v
		n++
	}
	if n != core.ChannelCount {
		return core.DecodeError(s.channelsTag, errChannels)
	}
	return nil
}

func setField(f *Field, st *core.SimulatorState, text []byte) error {
	switch f.Kind {
	case Number:
		v, err := parseNumber(text)
		if err != nil {
			return err
		}
		*f.Number(st) = v
	case Flag:
		v, err := parseBool(text)
		if err != nil {
			return err
		}
		*f.Flag(st) = v
	case Text:
		*f.Text(st) = unescape(text)
	}
	return nil
}

func parseNumber(text []byte) (float64, error) {
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(text)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q", errNumber, text)
	}
	return v, nil
}

func parseBool(text []byte) (bool, error) {
	switch string(bytes.TrimSpace(text)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w %q", errBool, text)
}
