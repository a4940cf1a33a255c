package httpproto

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/xtaci/webserver/internal/buffer"
)

const crlf = "\r\n"

// Parser is a pull parser driven by the reactor's read step: each call to
// Parse consumes as much of buf as forms complete lines (or, in the BODY
// state, complete content), advancing buf's read cursor past whatever it
// consumes and leaving unconsumed bytes in place for the next call. It
// never blocks and never itself performs I/O.
type Parser struct {
	state       state
	req         Request
	contentLen  int
}

// Reset returns the parser to its initial state, ready for the next
// request on a keep-alive connection (design table: FINISH "resets on
// next request").
func (p *Parser) Reset() {
	*p = Parser{}
}

// Parse advances the state machine as far as buf currently allows. It
// returns (request, true, nil) once a full request has been parsed,
// (nil, false, nil) if buf does not yet hold a complete line or body, or
// (nil, false, ErrParse) on malformed input.
func (p *Parser) Parse(buf *buffer.Buffer) (*Request, bool, error) {
	for {
		switch p.state {
		case stateRequestLine:
			line, ok := popLine(buf)
			if !ok {
				return nil, false, nil
			}
			if err := p.parseRequestLine(line); err != nil {
				return nil, false, err
			}
			p.state = stateHeaders
			p.req.Headers = make(map[string]string)

		case stateHeaders:
			for {
				line, ok := popLine(buf)
				if !ok {
					return nil, false, nil
				}
				if len(line) == 0 {
					// bare CRLF: end of headers
					p.afterHeaders()
					break
				}
				key, val, err := parseHeaderLine(line)
				if err != nil {
					return nil, false, err
				}
				p.req.Headers[key] = val
			}

		case stateBody:
			if buf.ReadableBytes() < p.contentLen {
				return nil, false, nil
			}
			body := make([]byte, p.contentLen)
			copy(body, buf.Peek()[:p.contentLen])
			buf.Retrieve(p.contentLen)
			if err := p.parseBody(body); err != nil {
				return nil, false, err
			}
			p.state = stateFinish

		case stateFinish:
			req := p.req
			return &req, true, nil
		}
	}
}

// popLine removes and returns one CRLF-terminated line (without the
// CRLF) from the front of buf, or ok=false if no full line is present
// yet -- the parser must not advance the cursor in that case, so a
// retry after more bytes arrive sees the same prefix again.
func popLine(buf *buffer.Buffer) (line []byte, ok bool) {
	readable := buf.Peek()
	idx := bytes.Index(readable, []byte(crlf))
	if idx < 0 {
		return nil, false
	}
	line = append([]byte(nil), readable[:idx]...)
	buf.Retrieve(idx + len(crlf))
	return line, true
}

func (p *Parser) parseRequestLine(line []byte) error {
	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return ErrParse
	}
	switch fields[0] {
	case "GET":
		p.req.Method = MethodGET
	case "POST":
		p.req.Method = MethodPOST
	default:
		return ErrParse
	}
	if fields[2] != "HTTP/1.1" && fields[2] != "HTTP/1.0" {
		return ErrParse
	}
	p.req.Path = fields[1]
	p.req.Version = fields[2]
	return nil
}

func parseHeaderLine(line []byte) (key, val string, err error) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return "", "", ErrParse
	}
	key = strings.TrimSpace(string(line[:idx]))
	val = strings.TrimSpace(string(line[idx+1:]))
	if key == "" {
		return "", "", ErrParse
	}
	return key, val, nil
}

// afterHeaders decides whether a body is expected and derives the
// keep-alive flag from the version and Connection header, per the
// design table and §4.4.
func (p *Parser) afterHeaders() {
	p.req.keepAlive = deriveKeepAlive(p.req.Version, p.req.Headers["Connection"])

	if p.req.Method == MethodPOST {
		if cl, ok := p.req.Headers["Content-Length"]; ok {
			if n, err := strconv.Atoi(cl); err == nil && n > 0 {
				p.contentLen = n
				p.state = stateBody
				return
			}
		}
	}
	p.state = stateFinish
}

func deriveKeepAlive(version, connection string) bool {
	switch strings.ToLower(strings.TrimSpace(connection)) {
	case "close":
		return false
	case "keep-alive":
		return version == "HTTP/1.1"
	default:
		return version == "HTTP/1.1"
	}
}

func (p *Parser) parseBody(body []byte) error {
	ct := p.req.Headers["Content-Type"]
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ErrParse
	}
	form := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}
	p.req.Form = form
	return nil
}
