package httpproto

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/xtaci/webserver/internal/buffer"
)

// MappedBody is a BodySource backed by a private, read-only mmap of a
// served file (design §4.5): the body is never copied into the
// connection's write buffer, only referenced by pointer and length until
// the reactor's scatter-write sends it directly from the mapping.
type MappedBody []byte

func (b MappedBody) Bytes() []byte { return b }

func (b MappedBody) Close() error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}

// Responder implements C5: given a parsed request and a document root,
// it produces a status line + headers (appended directly to the
// connection's write buffer) and a BodySource, porting
// code/http/httpresponse.cpp's stat/mmap decision tree.
type Responder struct {
	// DocRoot is an absolute, cleaned directory prefix; all served paths
	// are required to resolve underneath it.
	DocRoot string
	// Index is substituted for a request path of exactly "/".
	Index string
}

// NewResponder validates and cleans docRoot.
func NewResponder(docRoot, index string) (*Responder, error) {
	abs, err := filepath.Abs(docRoot)
	if err != nil {
		return nil, errors.Wrap(err, "httpproto: resolve docroot")
	}
	if index == "" {
		index = "/index.html"
	}
	return &Responder{DocRoot: filepath.Clean(abs), Index: index}, nil
}

// resolve maps a request path to an absolute filesystem path strictly
// underneath DocRoot. The design leaves ".." traversal unsanitised as an
// open question (§9a); this implementation makes the documented,
// deliberate choice to reject any resolution that escapes DocRoot,
// returning ok=false rather than relying on the OS to refuse the open.
func (r *Responder) resolve(reqPath string) (abs string, ok bool) {
	if reqPath == "/" {
		reqPath = r.Index
	}
	joined := filepath.Join(r.DocRoot, filepath.Clean("/"+reqPath))
	if joined != r.DocRoot && !strings.HasPrefix(joined, r.DocRoot+string(filepath.Separator)) {
		return "", false
	}
	return joined, true
}

// Respond writes the status line and headers for req into out and
// returns the Response Record, including its BodySource. The caller owns
// the returned BodySource and must Close it when the connection is
// destroyed or the next request begins (design §3).
func (r *Responder) Respond(req *Request, out *buffer.Buffer) (*Response, error) {
	resolved, ok := r.resolve(req.Path)
	code := 200
	var info os.FileInfo
	var err error

	if !ok {
		code = 404
	} else {
		info, err = os.Stat(resolved)
		switch {
		case err != nil:
			code = 404
		case info.IsDir():
			code = 404
		case info.Mode().Perm()&0o004 == 0:
			code = 403
		}
	}

	if code != 200 {
		if errPath, ok2 := r.errorPagePath(code); ok2 {
			if errInfo, errStat := os.Stat(errPath); errStat == nil && !errInfo.IsDir() {
				resolved, info = errPath, errInfo
			} else {
				resolved, info = "", nil
			}
		} else {
			resolved, info = "", nil
		}
	}

	resp := &Response{
		StatusCode: code,
		KeepAlive:  req.KeepAlive(),
	}
	r.addStatusLine(out, code)
	r.addHeaders(out, resp.KeepAlive, resolved)

	if resolved == "" {
		resp.Body = r.errorContent(out, code)
		return resp, nil
	}

	body, err := mapFile(resolved, info.Size())
	if err != nil {
		resp.Body = r.errorContent(out, code)
		return resp, nil
	}
	out.AppendString("Content-length: " + strconv.FormatInt(info.Size(), 10) + "\r\n\r\n")
	resp.ContentType = mimeTypeFor(resolved)
	resp.Body = body
	return resp, nil
}

func (r *Responder) errorPagePath(code int) (string, bool) {
	rel, ok := codePath[code]
	if !ok {
		return "", false
	}
	return filepath.Join(r.DocRoot, rel), true
}

func (r *Responder) addStatusLine(out *buffer.Buffer, code int) {
	status, ok := codeStatus[code]
	if !ok {
		code, status = 400, codeStatus[400]
	}
	out.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, status))
}

func (r *Responder) addHeaders(out *buffer.Buffer, keepAlive bool, resolved string) {
	if keepAlive {
		out.AppendString("Connection: keep-alive\r\n")
		out.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		out.AppendString("Connection: close\r\n")
	}
	out.AppendString("Content-type: " + mimeTypeFor(resolved) + "\r\n")
}

// errorContent emits an inline HTML error body matching
// HttpResponse::ErrorContent, including the exact "<code> : <reason>"
// substring the design's scenario tests check for.
func (r *Responder) errorContent(out *buffer.Buffer, code int) BodySource {
	status, ok := codeStatus[code]
	if !ok {
		status = "Bad Request"
	}
	body := "<html><title>Error</title><body bgcolor=\"ffffff\">" +
		strconv.Itoa(code) + " : " + status + "\n" +
		"<p>File NotFound!</p><hr><em>webserver</em></body></html>"
	out.AppendString("Content-length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	return InlineBody(body)
}

func mapFile(path string, size int64) (MappedBody, error) {
	if size == 0 {
		return MappedBody{}, nil
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return MappedBody(data), nil
}
