package reactor

import (
	"github.com/xtaci/webserver/internal/buffer"
	"github.com/xtaci/webserver/internal/httpproto"
)

// connState is which half of the request/response cycle a connection is
// currently in; it determines whether a readiness event should be
// dispatched as a read-task or a write-task.
type connState int

const (
	stateReading connState = iota
	stateWriting
)

// Connection is the design's Connection record (§3): one accepted TCP
// stream, exclusively owned by the reactor's connection table. A worker
// task borrows a *Connection for the duration of exactly one read-step or
// write-step and must never retain it past that call -- enforced by the
// reactor, which marks a connection busy for the duration of its
// dispatch and coalesces any readiness events that arrive while busy into
// a single re-dispatch once the task returns.
type Connection struct {
	id   connID
	fd   int
	peer string

	rbuf *buffer.Buffer
	wbuf *buffer.Buffer

	parser httpproto.Parser
	resp   *httpproto.Response

	keepAlive bool
	state     connState
	// bodySent tracks how many bytes of the current response's body
	// source have already been written, so a short write can resume
	// from the right offset on the next write-task dispatch.
	bodySent int

	// busy is true while a worker task owns this connection; the
	// reactor goroutine is the only writer.
	busy bool
	// pendingReadable/pendingWritable record readiness events that
	// arrived while busy, so they can be coalesced into one re-dispatch
	// instead of stacking additional tasks (design §3 invariant).
	pendingReadable bool
	pendingWritable bool
	// hupOrErr records a hangup/error event observed while busy, so the
	// connection is closed as soon as the in-flight task completes
	// rather than being re-armed.
	hupOrErr bool
}

func newConnection(id connID, fd int, peer string, bufSize int) *Connection {
	return &Connection{
		id:   id,
		fd:   fd,
		peer: peer,
		rbuf: buffer.New(bufSize),
		wbuf: buffer.New(bufSize),
	}
}

// ID reports the connection's stable, epoch-protected identifier.
func (c *Connection) ID() uint64 { return uint64(c.id) }

// Peer returns the remote address captured at accept time.
func (c *Connection) Peer() string { return c.peer }

// releaseBody unmaps or frees the current response's body source, called
// on connection destruction or before a new request begins on the same
// connection (design §3 Response Record lifecycle).
func (c *Connection) releaseBody() {
	if c.resp != nil && c.resp.Body != nil {
		c.resp.Body.Close()
		c.resp = nil
	}
}
