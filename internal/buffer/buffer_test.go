package buffer

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendRetrieveRoundTrip(t *testing.T) {
	b := New(4)
	b.Append([]byte("hello"))
	b.AppendString(", world")
	assert.Equal(t, "hello, world", string(b.Peek()))
	assert.Equal(t, len("hello, world"), b.ReadableBytes())

	b.Retrieve(5)
	assert.Equal(t, ", world", string(b.Peek()))
}

func TestRetrieveAllResetsCursors(t *testing.T) {
	b := New(8)
	b.AppendString("abc")
	assert.Equal(t, "abc", b.RetrieveAllToString())
	assert.Equal(t, 0, b.ReadableBytes())
	assert.Equal(t, cap(b.buf), b.WritableBytes())
}

func TestRetrieveUntil(t *testing.T) {
	b := New(16)
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n")
	line := b.Peek()
	idx := bytes.Index(line, []byte("\r\n"))
	require.True(t, idx >= 0)
	b.RetrieveUntil(line[idx+2:])
	assert.Equal(t, "Host: x\r\n", string(b.Peek()))
}

func TestMakeSpaceSlidesBeforeGrowing(t *testing.T) {
	b := New(8)
	b.AppendString("abcd")
	b.Retrieve(4) // fully drained -> normalize() resets cursors to 0
	assert.Equal(t, 0, b.readPos)
	assert.Equal(t, 0, b.writePos)

	b = New(8)
	b.AppendString("abcdefg") // 7 bytes, 1 writable left
	b.Retrieve(3)             // readPos=3, writePos=7, prependable=3, writable=1
	b.Append([]byte("XYZ"))   // needs 3, writable(1)+prependable(3)=4 >= 3: slide, no grow
	assert.Equal(t, 8, len(b.buf))
	assert.Equal(t, "defgXYZ", string(b.Peek()))
}

func TestMakeSpaceGrowsWhenSlideIsNotEnough(t *testing.T) {
	b := New(4)
	b.AppendString("ab")
	b.Append([]byte("cdefgh"))
	assert.True(t, len(b.buf) > 4)
	assert.Equal(t, "abcdefgh", string(b.Peek()))
}

// TestScatterReadCompleteness is scenario test 5 from the specification:
// a single ReadFd against a source that has 200KB ready must make all
// 200000 bytes readable, even though the buffer starts far smaller than
// that, by spilling into the pooled overflow region and then appending
// (which grows the buffer) in one call.
func TestScatterReadCompleteness(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	const total = 200_000
	payload := bytes.Repeat([]byte{'x'}, total)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()
		_, werr := w.Write(payload)
		assert.NoError(t, werr)
	}()

	b := New(1024)
	n, err := b.ReadFd(int(r.Fd()))
	require.NoError(t, err)
	require.Equal(t, total, n)
	assert.Equal(t, total, b.ReadableBytes())
	assert.True(t, bytes.Equal(b.Peek(), payload))
	<-done
}

func TestBufferInvariantHoldsAcrossOperations(t *testing.T) {
	b := New(2)
	ops := []func(){
		func() { b.AppendString("0123456789") },
		func() { b.Retrieve(3) },
		func() { b.AppendString("abcdefghij") },
		func() { b.Retrieve(b.ReadableBytes()) },
	}
	for _, op := range ops {
		op()
		assert.True(t, b.readPos >= 0)
		assert.True(t, b.readPos <= b.writePos)
		assert.True(t, b.writePos <= len(b.buf))
	}
}
