//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// maxPollerEvents bounds a single epoll_wait batch, matching gaio's
// maxEvents constant (socket515-gaio/watcher.go) -- batching amortizes
// the context-switch cost of draining many tiny readiness events.
const maxPollerEvents = 1024

// event describes one fd's readiness, following gaio's pollerEvents
// shape (RTradeLtd-gaio/aio_generic.go's event type) but adding the
// hangup/error bit the design's reactor explicitly branches on.
type event struct {
	fd       int
	readable bool
	writable bool
	hupOrErr bool
}

// poller wraps one epoll instance in one-shot, edge-triggered mode: every
// registration must be explicitly re-armed after it fires, which is what
// lets a single worker own a connection's fd without a second readiness
// event racing in mid-dispatch (design §4.6, §6 glossary "one-shot
// arming").
type poller struct {
	epfd int
}

func openPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{epfd: fd}, nil
}

func (p *poller) Close() error { return unix.Close(p.epfd) }

// triggerMode selects edge-triggered (the design's primary mode) or
// level-triggered (the documented fallback, §9: "implementations using
// level-triggered notifiers still work but lose the guarantee").
type triggerMode int

const (
	EdgeTriggered triggerMode = iota
	LevelTriggered
)

func epollFlags(mode triggerMode) uint32 {
	flags := uint32(unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLONESHOT)
	if mode == EdgeTriggered {
		flags |= unix.EPOLLET
	}
	return flags
}

// Add registers fd for read+write readiness, one-shot armed.
func (p *poller) Add(fd int, mode triggerMode) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollFlags(mode),
		Fd:     int32(fd),
	})
}

// Rearm re-registers fd after a one-shot event has fired, restoring
// interest in both read and write readiness (the reactor always watches
// for both; which task a readiness event becomes is decided by the
// connection's own state, not by which interest bits are registered).
func (p *poller) Rearm(fd int, mode triggerMode) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollFlags(mode),
		Fd:     int32(fd),
	})
}

// Remove unregisters fd. Missing fds (already closed and silently
// dropped by the kernel, as epoll(7) documents) are not an error here.
func (p *poller) Remove(fd int) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks up to timeoutMs (-1 blocks indefinitely, per the design's
// next_tick_ms contract) and returns the ready events.
func (p *poller) Wait(timeoutMs int) ([]event, error) {
	raw := make([]unix.EpollEvent, maxPollerEvents)
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]event, 0, n)
	for i := 0; i < n; i++ {
		e := raw[i]
		out = append(out, event{
			fd:       int(e.Fd),
			readable: e.Events&unix.EPOLLIN != 0,
			writable: e.Events&unix.EPOLLOUT != 0,
			hupOrErr: e.Events&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}
