package httpproto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/webserver/internal/buffer"
)

func newDocRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("HELLO"), 0o644))
	return dir
}

// TestStaticFile200 is scenario test 1.
func TestStaticFile200(t *testing.T) {
	root := newDocRoot(t)
	r, err := NewResponder(root, "/index.html")
	require.NoError(t, err)

	req := &Request{Path: "/index.html", Version: "HTTP/1.1", keepAlive: true}
	out := buffer.New(128)
	resp, err := r.Respond(req, out)
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	header := string(out.Peek())
	assert.True(t, strings.HasPrefix(header, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, header, "Content-length: 5\r\n\r\n")
	assert.Equal(t, "HELLO", string(resp.Body.Bytes()))
	assert.True(t, resp.KeepAlive)
	require.NoError(t, resp.Body.Close())
}

// TestMissingFile404 is scenario test 2.
func TestMissingFile404(t *testing.T) {
	root := newDocRoot(t)
	r, err := NewResponder(root, "/index.html")
	require.NoError(t, err)

	req := &Request{Path: "/nope", Version: "HTTP/1.1"}
	out := buffer.New(128)
	resp, err := r.Respond(req, out)
	require.NoError(t, err)

	assert.Equal(t, 404, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(out.Peek()), "HTTP/1.1 404 Not Found\r\n"))
	assert.Contains(t, string(resp.Body.Bytes()), "404 : Not Found")
}

// TestForbidden403 is scenario test 3.
func TestForbidden403(t *testing.T) {
	root := newDocRoot(t)
	secret := filepath.Join(root, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("shh"), 0o600))

	r, err := NewResponder(root, "/index.html")
	require.NoError(t, err)

	req := &Request{Path: "/secret.txt", Version: "HTTP/1.1"}
	out := buffer.New(128)
	resp, err := r.Respond(req, out)
	require.NoError(t, err)

	assert.Equal(t, 403, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(out.Peek()), "HTTP/1.1 403 Forbidden\r\n"))
}

func TestCustomErrorPageOverridesInline(t *testing.T) {
	root := newDocRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "404.html"), []byte("<h1>nope</h1>"), 0o644))

	r, err := NewResponder(root, "/index.html")
	require.NoError(t, err)

	req := &Request{Path: "/missing", Version: "HTTP/1.1"}
	out := buffer.New(128)
	resp, err := r.Respond(req, out)
	require.NoError(t, err)
	assert.Equal(t, "<h1>nope</h1>", string(resp.Body.Bytes()))
}

func TestPathTraversalRejected(t *testing.T) {
	root := newDocRoot(t)
	r, err := NewResponder(root, "/index.html")
	require.NoError(t, err)

	req := &Request{Path: "/../../etc/passwd", Version: "HTTP/1.1"}
	out := buffer.New(128)
	resp, err := r.Respond(req, out)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRootPathUsesIndex(t *testing.T) {
	root := newDocRoot(t)
	r, err := NewResponder(root, "/index.html")
	require.NoError(t, err)

	req := &Request{Path: "/", Version: "HTTP/1.1"}
	out := buffer.New(128)
	resp, err := r.Respond(req, out)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "HELLO", string(resp.Body.Bytes()))
}
