//go:build linux

package reactor

import (
	"context"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/xtaci/webserver/internal/httpproto"
)

// readTask is the design's read-task (§4.6): drain the kernel buffer into
// the connection's scatter buffer, feed the parser, and on a complete
// request hand it to the responder and stage the outgoing bytes. It runs
// on a worker goroutine, touching only the fields of the one Connection
// it was dispatched with (design §3 invariant).
func (r *Reactor) readTask(conn *Connection) action {
	n, err := conn.rbuf.ReadFd(conn.fd)
	switch {
	case err == unix.EAGAIN:
		return action{kind: actionRearmRead}
	case err != nil:
		return action{kind: actionClose}
	case n == 0:
		// peer closed; if nothing buffered there is no request to
		// finish, so close now (design §7, "Peer-closed").
		if conn.rbuf.ReadableBytes() == 0 {
			return action{kind: actionClose}
		}
	}

	req, done, perr := conn.parser.Parse(conn.rbuf)
	if perr == httpproto.ErrParse {
		r.writeBadRequest(conn)
		return action{kind: actionRearmWrite}
	}
	if !done {
		if n == 0 {
			// peer already closed and the buffered bytes never formed a
			// complete request: nothing more will ever arrive.
			return action{kind: actionClose}
		}
		return action{kind: actionRearmRead}
	}

	if r.auth != nil && req.Method == httpproto.MethodPOST && (req.Path == "/login" || req.Path == "/register") {
		r.writeAuthResponse(conn, req)
		return action{kind: actionRearmWrite}
	}

	resp, rerr := r.responder.Respond(req, conn.wbuf)
	if rerr != nil {
		r.writeBadRequest(conn)
		return action{kind: actionRearmWrite}
	}
	conn.releaseBody()
	conn.resp = resp
	conn.bodySent = 0
	conn.keepAlive = resp.KeepAlive
	return action{kind: actionRearmWrite}
}

// writeAuthResponse handles the demo POST /login and /register routes by
// delegating to userauth.Handler.HandleForm and staging a small inline
// response, bypassing the file responder entirely (design §6).
func (r *Reactor) writeAuthResponse(conn *Connection, req *httpproto.Request) {
	if req.Form == nil {
		req.Form = make(map[string]string)
	}
	if req.Path == "/register" {
		req.Form["mode"] = "register"
	}
	status, body := r.auth.HandleForm(context.Background(), req)

	statusLine := "200 OK"
	if status == 400 {
		statusLine = "400 Bad Request"
	} else if status >= 500 {
		statusLine = "500 Internal Server Error"
	}

	conn.wbuf.AppendString("HTTP/1.1 " + statusLine + "\r\n")
	conn.wbuf.AppendString("Connection: " + connectionHeader(req.KeepAlive()) + "\r\n")
	conn.wbuf.AppendString("Content-type: text/plain\r\n")
	conn.wbuf.AppendString("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	conn.wbuf.AppendString(body)

	conn.releaseBody()
	conn.resp = &httpproto.Response{StatusCode: status, KeepAlive: req.KeepAlive(), Body: httpproto.InlineBody(nil)}
	conn.bodySent = 0
	conn.keepAlive = req.KeepAlive()
}

func connectionHeader(keepAlive bool) string {
	if keepAlive {
		return "keep-alive"
	}
	return "close"
}

// writeBadRequest stages a fixed 400 response directly, bypassing the
// responder's file-stat path since a parse error has no associated
// request to resolve a path from.
func (r *Reactor) writeBadRequest(conn *Connection) {
	const body = "<html><title>Error</title><body bgcolor=\"ffffff\">400 : Bad Request\n" +
		"<p>Bad Request</p><hr><em>webserver</em></body></html>"
	conn.wbuf.AppendString("HTTP/1.1 400 Bad Request\r\n")
	conn.wbuf.AppendString("Connection: close\r\n")
	conn.wbuf.AppendString("Content-type: text/html\r\n")
	conn.wbuf.AppendString("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	conn.wbuf.AppendString(body)
	conn.releaseBody()
	conn.resp = &httpproto.Response{StatusCode: 400, KeepAlive: false, Body: httpproto.InlineBody(nil)}
	conn.bodySent = 0
	conn.keepAlive = false
}

// writeTask is the design's write-task (§4.6): a scatter write of the
// connection's write buffer (headers, and inline error bodies) plus
// whatever remains of the current response's mapped body, advancing
// cursors by the kernel's return value and never looping internally.
func (r *Reactor) writeTask(conn *Connection) action {
	header := conn.wbuf.Peek()
	var bodyTail []byte
	if conn.resp != nil && conn.resp.Body != nil {
		full := conn.resp.Body.Bytes()
		if conn.bodySent < len(full) {
			bodyTail = full[conn.bodySent:]
		}
	}

	n, err := scatterWrite(conn.fd, header, bodyTail)
	headerConsumed := n
	if headerConsumed > len(header) {
		headerConsumed = len(header)
	}
	if headerConsumed > 0 {
		conn.wbuf.Retrieve(headerConsumed)
	}
	if bodyConsumed := n - headerConsumed; bodyConsumed > 0 {
		conn.bodySent += bodyConsumed
	}

	if err == unix.EAGAIN {
		return action{kind: actionRearmWrite}
	}
	if err != nil {
		return action{kind: actionClose}
	}

	bodyLen := 0
	if conn.resp != nil && conn.resp.Body != nil {
		bodyLen = len(conn.resp.Body.Bytes())
	}
	drained := conn.wbuf.ReadableBytes() == 0 && conn.bodySent >= bodyLen
	if !drained {
		return action{kind: actionRearmWrite}
	}
	if conn.keepAlive {
		return action{kind: actionKeepAliveReset}
	}
	return action{kind: actionClose}
}

// scatterWrite issues a single writev(2) across up to two non-contiguous
// regions -- the write buffer's headers and the mapped file body -- so
// that a full response, including its memory-mapped body, can be sent
// without ever copying the file's bytes into the connection's own
// buffer (design §4.5, "never writes the body into the buffer").
func scatterWrite(fd int, a, b []byte) (int, error) {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0, nil
	case len(a) == 0:
		return unix.Write(fd, b)
	case len(b) == 0:
		return unix.Write(fd, a)
	default:
		return unix.Writev(fd, [][]byte{a, b})
	}
}
