// Package httpproto implements the fixed-shape HTTP/1.1 request parser
// (C4) and response builder (C5) described by the design: a four-state
// pull parser operating directly on a buffer.Buffer, and a responder that
// stats, memory-maps, and formats a Response Record without ever copying
// a served file's bytes into the connection's write buffer.
package httpproto

import "github.com/pkg/errors"

// Method is one of the two verbs this server understands.
type Method int

const (
	MethodGET Method = iota
	MethodPOST
)

// state is the parser's four-state machine, matching the design's table
// (REQUEST_LINE -> HEADERS -> [BODY] -> FINISH).
type state int

const (
	stateRequestLine state = iota
	stateHeaders
	stateBody
	stateFinish
)

// ErrParse is returned by Parser.Parse when the input is malformed in a
// way the caller must answer with a 400 and close the connection after
// flushing, per the design's error table.
var ErrParse = errors.New("httpproto: malformed request")

// ErrNeedMore names the condition where the buffer does not yet contain a
// full line (or full body). Parser.Parse does not return it; it reports
// that case as (nil, false, nil), and the caller returns to reading and
// tries again once more bytes arrive.
var ErrNeedMore = errors.New("httpproto: need more data")

// Request is everything the parser records about one request.
type Request struct {
	Method  Method
	Path    string
	Version string
	Headers map[string]string
	Form    map[string]string // populated only for urlencoded POST bodies

	keepAlive bool
}

// KeepAlive reports whether the connection should remain open after this
// request's response is flushed, derived from the HTTP version and the
// Connection header per the design: "keep-alive" with HTTP/1.1 keeps,
// "close" closes, and HTTP/1.1 without an explicit Connection header
// defaults to keep-alive.
func (r *Request) KeepAlive() bool { return r.keepAlive }

// BodySource is either a memory-mapped file region or an inline byte
// slice, matching the design's Response Record body_source.
type BodySource interface {
	Bytes() []byte
	Close() error
}

// InlineBody is a BodySource backed by an in-process byte slice (used for
// generated error pages when no *.html override exists on disk).
type InlineBody []byte

func (b InlineBody) Bytes() []byte { return b }
func (b InlineBody) Close() error  { return nil }

// Response is the Response Record: status code, persistence decision,
// content type, and a reference to the body -- never the body bytes
// copied into the connection's own buffer.
type Response struct {
	StatusCode  int
	KeepAlive   bool
	ContentType string
	Body        BodySource
}
