// Package buffer implements the per-connection scratch buffer used by the
// reactor: a contiguous byte region with a read cursor and a write cursor,
// plus a scatter-read trick (each readv fills the buffer's writable tail
// and a pooled overflow slice in one syscall, repeated until would-block)
// that lets one edge-triggered wakeup drain an unbounded kernel receive
// queue.
package buffer

import (
	"sync"

	"golang.org/x/sys/unix"
)

// overflowSize is the size of the stack-like scratch region used as the
// second iovec in a scatter read. 64 KiB matches the minimum the design
// recommends: large enough that a single readv(2) drains a typical socket
// receive buffer in one call.
const overflowSize = 64 * 1024

var overflowPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, overflowSize)
		return &buf
	},
}

// Buffer is a growable byte buffer with readPos <= writePos <= cap(buf).
// It is not safe for concurrent use; the reactor guarantees at most one
// goroutine touches a connection's buffers at a time.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a Buffer with the given initial capacity.
func New(initialCap int) *Buffer {
	if initialCap <= 0 {
		initialCap = 1024
	}
	return &Buffer{buf: make([]byte, initialCap)}
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writePos - b.readPos }

// WritableBytes returns the number of bytes free at the tail of the buffer.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writePos }

// PrependableBytes returns the number of bytes free at the head of the
// buffer, reclaimable by sliding the readable region down to offset 0.
func (b *Buffer) PrependableBytes() int { return b.readPos }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// Retrieve advances the read cursor by n bytes. It panics if n exceeds
// ReadableBytes, mirroring the teacher's debug-build assert.
func (b *Buffer) Retrieve(n int) {
	if n > b.ReadableBytes() {
		panic("buffer: retrieve exceeds readable bytes")
	}
	b.readPos += n
	b.normalize()
}

// RetrieveUntil advances the read cursor up to the start of end, a tail
// slice of a previous Peek() (e.g. the position returned by bytes.Index on
// Peek()'s result). It panics if end is not such a tail slice.
func (b *Buffer) RetrieveUntil(end []byte) {
	offset := b.ReadableBytes() - len(end)
	if offset < 0 {
		panic("buffer: retrieve-until past readable bytes")
	}
	b.Retrieve(offset)
}

// RetrieveAll discards all readable bytes and resets both cursors.
func (b *Buffer) RetrieveAll() {
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToString consumes and returns all readable bytes as a string.
func (b *Buffer) RetrieveAllToString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// normalize resets both cursors to zero once the buffer has been fully
// drained, reclaiming the whole capacity for the next append.
func (b *Buffer) normalize() {
	if b.readPos == b.writePos {
		b.readPos, b.writePos = 0, 0
	}
}

// Append copies p into the buffer's writable tail, growing as needed.
func (b *Buffer) Append(p []byte) {
	b.ensureWritable(len(p))
	copy(b.buf[b.writePos:], p)
	b.writePos += len(p)
}

// AppendString is a convenience wrapper avoiding a []byte conversion at
// call sites that already hold a string (status lines, headers).
func (b *Buffer) AppendString(s string) {
	b.ensureWritable(len(s))
	copy(b.buf[b.writePos:], s)
	b.writePos += len(s)
}

// ensureWritable guarantees at least n writable bytes, sliding or growing
// the backing array per MakeSpace in the original design.
func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

// makeSpace never shrinks: either it slides the readable region down to
// reclaim prependable space, or it grows the backing array outright.
func (b *Buffer) makeSpace(n int) {
	if b.WritableBytes()+b.PrependableBytes() < n {
		grown := make([]byte, b.writePos+n+1)
		copy(grown, b.buf[:b.writePos])
		b.buf = grown
		return
	}
	readable := b.ReadableBytes()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

// ReadFd performs the scatter-read described in the design: readv(2)
// calls targeting the buffer's writable tail and a pooled overflow slice,
// repeated until the fd reports would-block or end of stream, so one
// edge-triggered wakeup can drain a kernel receive queue of any size. It
// returns the total number of bytes read, or an error (unix.EAGAIN is
// returned only when nothing at all was read; the caller must not retry
// it inline).
func (b *Buffer) ReadFd(fd int) (int, error) {
	overflow := overflowPool.Get().(*[]byte)
	defer overflowPool.Put(overflow)

	total := 0
	for {
		writable := b.WritableBytes()
		iov := [][]byte{b.buf[b.writePos:], *overflow}
		n, err := unix.Readv(fd, iov)
		if err != nil {
			if err == unix.EAGAIN && total > 0 {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		if n <= writable {
			b.writePos += n
		} else {
			b.writePos = len(b.buf)
			b.Append((*overflow)[:n-writable])
		}
		total += n
	}
}

// WriteFd issues a single write(2) of the readable region starting at
// Peek(), advancing the read cursor by however much the kernel accepted.
// It never loops; the reactor re-arms for writability and retries on the
// next readiness event.
func (b *Buffer) WriteFd(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	if err != nil {
		return n, err
	}
	return n, nil
}
