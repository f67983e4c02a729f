package soap

import (
	"bytes"
	"strconv"
	"strings"
)

type tokKind uint8

const (
	tokOpen tokKind = iota + 1
	tokClose
)

type token struct {
	kind        tokKind
	name        []byte
	attrs       []byte
	selfClosing bool
}

// scanner is a minimal forward-only XML tokenizer over a complete buffer.
// It understands elements, declarations, comments and CDATA sections,
// which is all the simulator emits.
type scanner struct {
	buf []byte
	pos int
}

func (s *scanner) next() (token, bool) {
	for {
		i := bytes.IndexByte(s.buf[s.pos:], '<')
		if i < 0 {
			s.pos = len(s.buf)
			return token{}, false
		}
		s.pos += i + 1
		rest := s.buf[s.pos:]
		if len(rest) == 0 {
			return token{}, false
		}
		switch {
		case rest[0] == '?':
			if !s.skipPast("?>") {
				return token{}, false
			}
			continue
		case bytes.HasPrefix(rest, []byte("!--")):
			if !s.skipPast("-->") {
				return token{}, false
			}
			continue
		case bytes.HasPrefix(rest, []byte("![CDATA[")):
			if !s.skipPast("]]>") {
				return token{}, false
			}
			continue
		case rest[0] == '!':
			if !s.skipPast(">") {
				return token{}, false
			}
			continue
		}

		end := bytes.IndexByte(rest, '>')
		if end < 0 {
			s.pos = len(s.buf)
			return token{}, false
		}
		inner := rest[:end]
		s.pos += end + 1
		if len(inner) > 0 && inner[0] == '/' {
			return token{kind: tokClose, name: bytes.TrimSpace(inner[1:])}, true
		}
		tok := token{kind: tokOpen}
		if len(inner) > 0 && inner[len(inner)-1] == '/' {
			tok.selfClosing = true
			inner = inner[:len(inner)-1]
		}
		n := bytes.IndexAny(inner, " \t\r\n")
		if n < 0 {
			tok.name = inner
		} else {
			tok.name, tok.attrs = inner[:n], inner[n:]
		}
		if len(tok.name) == 0 {
			return token{}, false
		}
		return tok, true
	}
}

func (s *scanner) skipPast(marker string) bool {
	i := bytes.Index(s.buf[s.pos:], []byte(marker))
	if i < 0 {
		s.pos = len(s.buf)
		return false
	}
	s.pos += i + len(marker)
	return true
}

// text consumes character data up to the closing tag of name. It fails if
// the element has child elements.
func (s *scanner) text(name []byte) ([]byte, bool) {
	rest := s.buf[s.pos:]
	i := bytes.IndexByte(rest, '<')
	if i < 0 {
		return nil, false
	}
	text := rest[:i]
	s.pos += i
	tok, ok := s.next()
	if !ok || tok.kind != tokClose || !bytes.Equal(tok.name, name) {
		return nil, false
	}
	return text, true
}

func localName(name []byte) []byte {
	if i := bytes.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

var entities = map[string]string{
	"lt":   "<",
	"gt":   ">",
	"amp":  "&",
	"quot": `"`,
	"apos": "'",
}

// unescape resolves the predefined and numeric character references.
// Unknown references are kept verbatim.
func unescape(b []byte) string {
	if bytes.IndexByte(b, '&') < 0 {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		amp := bytes.IndexByte(b, '&')
		if amp < 0 {
			sb.Write(b)
			break
		}
		sb.Write(b[:amp])
		b = b[amp:]
		semi := bytes.IndexByte(b, ';')
		if semi < 0 {
			sb.Write(b)
			break
		}
		ref := string(b[1:semi])
		if r, ok := entities[ref]; ok {
			sb.WriteString(r)
		} else if cp, ok := charRef(ref); ok {
			sb.WriteRune(cp)
		} else {
			sb.Write(b[:semi+1])
		}
		b = b[semi+1:]
	}
	return sb.String()
}

func charRef(ref string) (rune, bool) {
	if !strings.HasPrefix(ref, "#") {
		return 0, false
	}
	base, digits := 10, ref[1:]
	if strings.HasPrefix(digits, "x") || strings.HasPrefix(digits, "X") {
		base, digits = 16, digits[1:]
	}
	n, err := strconv.ParseUint(digits, base, 32)
	if err != nil {
		return 0, false
	}
	return rune(n), true
}

// appendEscaped appends s with the XML special characters escaped.
func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '<':
			dst = append(dst, "&lt;"...)
		case '>':
			dst = append(dst, "&gt;"...)
		case '&':
			dst = append(dst, "&amp;"...)
		case '"':
			dst = append(dst, "&quot;"...)
		case '\'':
			dst = append(dst, "&apos;"...)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
