//go:build linux

package reactor

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xtaci/webserver/internal/config"
)

func newTestReactor(t *testing.T, idleTimeout time.Duration) (*Reactor, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("HELLO"), 0o644))

	cfg := config.Default()
	cfg.Port = 0
	cfg.DocRoot = dir
	cfg.Workers = 2
	cfg.IdleTimeout = idleTimeout

	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	go r.Run()
	t.Cleanup(func() { r.Close() })

	addr, err := r.Addr()
	require.NoError(t, err)
	return r, addr
}

// TestReactorServesStaticFile200 exercises scenario test 1 end to end
// through the real epoll reactor, not just the responder in isolation.
func TestReactorServesStaticFile200(t *testing.T) {
	_, addr := newTestReactor(t, time.Minute)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)

	var headers []string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
		headers = append(headers, line)
	}
	assert.Contains(t, strings.Join(headers, ""), "Content-length: 5\r\n")

	body := make([]byte, 5)
	_, err = r.Read(body)
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(body))
}

// TestReactorIdleTimeoutClosesConnection is scenario test 4. The read
// deadline is deliberately much larger than the idle timeout so that a
// broken timer (connection never closed) fails with a read-timeout error
// instead of silently passing like an EOF would.
func TestReactorIdleTimeoutClosesConnection(t *testing.T) {
	const idle = 50 * time.Millisecond
	_, addr := newTestReactor(t, idle)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	deadline := 2 * time.Second
	conn.SetReadDeadline(time.Now().Add(deadline))
	start := time.Now()
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	elapsed := time.Since(start)

	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, io.EOF), "expected EOF from the server closing the idle connection, got %v", err)
	assert.Less(t, elapsed, deadline/2, "connection should close near the idle timeout (%s), not the read deadline", idle)
}

// TestReactorMissingFile404 is scenario test 2, through the full reactor.
func TestReactorMissingFile404(t *testing.T) {
	_, addr := newTestReactor(t, time.Minute)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /nope HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n", status)
}
