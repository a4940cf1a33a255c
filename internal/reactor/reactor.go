//go:build linux

// Package reactor implements C6: the event loop that owns the listening
// socket, the readiness notifier, the connection table, and the indexed
// timeout heap, dispatching per-connection read/write work to the worker
// pool (C3). Its shape -- a goroutine draining poller events, a
// pending-operation queue, and a time.Timer racing a min-heap of
// deadlines, all merged in one select loop -- is socket515-gaio's
// watcher.go generalized from "async read/write on an arbitrary net.Conn"
// to "drive an HTTP connection state machine".
package reactor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/xtaci/webserver/internal/config"
	"github.com/xtaci/webserver/internal/httpproto"
	"github.com/xtaci/webserver/internal/timer"
	"github.com/xtaci/webserver/internal/userauth"
	"github.com/xtaci/webserver/internal/workerpool"
)

// actionKind is the small enum of commands a worker task's completion can
// ask the reactor goroutine to perform, so that connections never hold a
// back-reference to the reactor and worker goroutines never touch the
// connection table directly (design §9, "Connection lifetime without a
// back-reference graph").
type actionKind int

const (
	actionRearmRead actionKind = iota
	actionRearmWrite
	actionKeepAliveReset
	actionClose
)

type action struct {
	id   connID
	kind actionKind
}

// Reactor is C6.
type Reactor struct {
	cfg       config.Config
	log       *zap.Logger
	poller    *poller
	listenFd  int
	responder *httpproto.Responder
	pool      *workerpool.Pool

	// auth is non-nil only when cfg.EnableDemoLogin is set; readTask
	// routes POST /login and /register to it instead of the file
	// responder (design §6, "auxiliary demo feature").
	auth *userauth.Handler

	// conns and fdEpoch are touched only by the reactor goroutine
	// (design §5: "The connection table is accessed only by the reactor
	// thread").
	conns   map[int]*Connection
	fdEpoch map[int]uint32

	timers     *timer.Heap
	timerGo    *time.Timer
	chEvents   chan []event
	chActions  chan action
	die        chan struct{}
	dieOnce    sync.Once
}

// New constructs a Reactor bound to cfg.Port, serving files under
// cfg.DocRoot. It does not start accepting connections until Run is
// called.
func New(cfg config.Config, log *zap.Logger) (*Reactor, error) {
	responder, err := httpproto.NewResponder(cfg.DocRoot, cfg.IndexPath)
	if err != nil {
		return nil, err
	}

	listenFd, err := listenSocket(cfg.Port)
	if err != nil {
		return nil, err
	}

	p, err := openPoller()
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}
	mode := triggerModeFromConfig(cfg.Trigger)
	if err := p.Add(listenFd, mode); err != nil {
		p.Close()
		unix.Close(listenFd)
		return nil, err
	}

	r := &Reactor{
		cfg:       cfg,
		log:       log,
		poller:    p,
		listenFd:  listenFd,
		responder: responder,
		pool:      workerpool.New(cfg.Workers, cfg.TaskQueueSize, log),
		conns:     make(map[int]*Connection),
		fdEpoch:   make(map[int]uint32),
		timers:    timer.New(),
		chEvents:  make(chan []event),
		chActions: make(chan action, 1024),
		die:       make(chan struct{}),
		timerGo:   time.NewTimer(time.Hour),
	}
	r.timerGo.Stop()
	return r, nil
}

// SetAuthHandler wires the demo registration/login handler in, enabling
// the POST /login and /register routes. Called from cmd/webserver when
// cfg.EnableDemoLogin is set and a SQL pool was opened successfully.
func (r *Reactor) SetAuthHandler(h *userauth.Handler) {
	r.auth = h
}

// Addr returns the actual address the listening socket is bound to,
// useful when Config.Port is 0 and the kernel assigned an ephemeral port
// (primarily for tests).
func (r *Reactor) Addr() (string, error) {
	sa, err := unix.Getsockname(r.listenFd)
	if err != nil {
		return "", err
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s:%d", net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3]), v.Port), nil
	default:
		return "", fmt.Errorf("reactor: unsupported sockaddr %T", sa)
	}
}

func triggerModeFromConfig(t config.TriggerMode) triggerMode {
	if t == config.TriggerLevel {
		return LevelTriggered
	}
	return EdgeTriggered
}

// listenSocket binds and listens on port with SO_REUSEADDR, matching the
// design's reactor responsibility and the raw-epoll reference
// (other_examples' go_raw_epoll_http_server): a non-blocking listening
// socket, accepted in a loop until EAGAIN on each readiness event.
func listenSocket(port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Run drives the event loop until Close is called or an unrecoverable
// poller error occurs. It blocks the calling goroutine.
func (r *Reactor) Run() error {
	go r.pollerLoop()

	for {
		select {
		case events := <-r.chEvents:
			r.handleEvents(events)
		case act := <-r.chActions:
			r.handleAction(act)
		case <-r.timerGo.C:
			r.timers.Tick()
			r.rescheduleTimer()
		case <-r.die:
			return nil
		}
	}
}

// Close stops the reactor and releases every connection's resources.
func (r *Reactor) Close() error {
	r.dieOnce.Do(func() {
		close(r.die)
		r.pool.Close()
		r.poller.Close()
		unix.Close(r.listenFd)
		for fd := range r.conns {
			r.destroyConn(fd)
		}
	})
	return nil
}

// pollerLoop runs epoll_wait(-1) in a dedicated goroutine and forwards
// batches of readiness events to the reactor's select loop, the same
// split gaio's watcher uses between pfd.Wait and the consuming loop().
func (r *Reactor) pollerLoop() {
	for {
		events, err := r.poller.Wait(-1)
		if err != nil {
			select {
			case <-r.die:
				return
			default:
				r.log.Error("reactor: poller wait failed", zap.Error(err))
				return
			}
		}
		if len(events) == 0 {
			continue
		}
		select {
		case r.chEvents <- events:
		case <-r.die:
			return
		}
	}
}

func (r *Reactor) rescheduleTimer() {
	ms := r.timers.NextTickMs()
	if ms < 0 {
		r.timerGo.Stop()
		return
	}
	r.timerGo.Reset(time.Duration(ms) * time.Millisecond)
}

func (r *Reactor) handleEvents(events []event) {
	for _, e := range events {
		if e.fd == r.listenFd {
			r.acceptLoop()
			// the listener is one-shot armed like every other fd.
			if err := r.poller.Rearm(r.listenFd, triggerModeFromConfig(r.cfg.Trigger)); err != nil {
				r.log.Error("reactor: rearm listener failed", zap.Error(err))
			}
			continue
		}
		r.handleConnEvent(e)
	}
}

// acceptLoop drains the listener's backlog until EAGAIN, per edge-
// triggered discipline: a single readiness wakeup may represent many
// queued connections.
func (r *Reactor) acceptLoop() {
	for {
		fd, sa, err := unix.Accept(r.listenFd)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			r.log.Warn("reactor: accept failed", zap.Error(err))
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		mode := triggerModeFromConfig(r.cfg.Trigger)
		if err := r.poller.Add(fd, mode); err != nil {
			unix.Close(fd)
			continue
		}

		epoch := r.fdEpoch[fd] + 1
		r.fdEpoch[fd] = epoch
		id := makeConnID(fd, epoch)
		conn := newConnection(id, fd, peerString(sa), r.cfg.ReadBufferSize)
		r.conns[fd] = conn

		r.timers.Add(uint64(id), r.cfg.IdleTimeout, r.onIdleTimeout)
		r.rescheduleTimer()
		r.log.Debug("reactor: accepted connection", zap.String("peer", conn.peer), zap.Int("fd", fd))
	}
}

func peerString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IPv4(v.Addr[0], v.Addr[1], v.Addr[2], v.Addr[3])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%s]:%d", net.IP(v.Addr[:]), v.Port)
	default:
		return "?"
	}
}

// onIdleTimeout is the timer callback the design names: it closes the
// underlying connection. It runs synchronously on the reactor goroutine
// (design §9, "Timer cancellation races": owner and callback share a
// thread, so there is no race to guard against).
func (r *Reactor) onIdleTimeout(id uint64) {
	fd := connID(id).fd()
	conn, ok := r.conns[fd]
	if !ok || conn.id != connID(id) {
		return // already replaced by a reused fd under a new epoch
	}
	r.log.Debug("reactor: idle timeout", zap.String("peer", conn.peer))
	r.closeConn(conn)
}

// handleConnEvent decides whether a readiness event becomes a read-task
// or a write-task dispatch, coalescing events that arrive while the
// connection is already busy with another task (design §3 invariant: at
// most one worker task references a connection at any instant).
func (r *Reactor) handleConnEvent(e event) {
	conn, ok := r.conns[e.fd]
	if !ok {
		return
	}

	if e.hupOrErr {
		if conn.busy {
			conn.hupOrErr = true
			return
		}
		r.closeConn(conn)
		return
	}

	if conn.busy {
		conn.pendingReadable = conn.pendingReadable || e.readable
		conn.pendingWritable = conn.pendingWritable || e.writable
		return
	}

	r.dispatch(conn, e.readable, e.writable)
}

// dispatch posts exactly one task to the worker pool for conn, choosing
// read or write based on the connection's own state (not purely on which
// epoll bits fired), matching the design's read-task/write-task split in
// §4.6.
func (r *Reactor) dispatch(conn *Connection, readable, writable bool) {
	if conn.state == stateWriting && !writable {
		// still waiting on writability; nothing to do yet.
		return
	}
	if conn.state == stateReading && !readable {
		return
	}

	conn.busy = true
	switch conn.state {
	case stateReading:
		r.submit(conn, r.readTask)
	case stateWriting:
		r.submit(conn, r.writeTask)
	}
}

func (r *Reactor) submit(conn *Connection, step func(*Connection) action) {
	id, fd := conn.id, conn.fd
	if err := r.pool.AddTask(func() {
		act := step(conn)
		act.id = id
		select {
		case r.chActions <- act:
		case <-r.die:
		}
	}); err != nil {
		// queue saturated or pool closed: shed the connection rather
		// than letting the task queue grow without bound (design §9b).
		r.log.Warn("reactor: dropping connection, pool saturated", zap.Int("fd", fd), zap.Error(err))
		select {
		case r.chActions <- action{id: id, kind: actionClose}:
		case <-r.die:
		}
	}
}

// handleAction applies the result of a completed worker task. This is
// the only place connection busy-state is cleared, any pending coalesced
// readiness is re-dispatched, and connection epoll registrations are rearmed --
// always on the reactor goroutine, preserving the connection-table
// single-owner invariant.
func (r *Reactor) handleAction(act action) {
	fd := act.id.fd()
	conn, ok := r.conns[fd]
	if !ok || conn.id != act.id {
		return // connection already destroyed or fd recycled
	}
	conn.busy = false

	switch act.kind {
	case actionClose:
		r.closeConn(conn)
		return
	case actionRearmRead:
		conn.state = stateReading
		r.timers.Adjust(uint64(conn.id), r.cfg.IdleTimeout)
	case actionRearmWrite:
		conn.state = stateWriting
		r.timers.Adjust(uint64(conn.id), r.cfg.IdleTimeout)
	case actionKeepAliveReset:
		conn.parser.Reset()
		conn.releaseBody()
		conn.state = stateReading
		r.timers.Adjust(uint64(conn.id), r.cfg.IdleTimeout)
	}
	r.rescheduleTimer()

	if conn.hupOrErr {
		r.closeConn(conn)
		return
	}

	mode := triggerModeFromConfig(r.cfg.Trigger)
	if err := r.poller.Rearm(fd, mode); err != nil {
		r.closeConn(conn)
		return
	}

	if conn.pendingReadable || conn.pendingWritable {
		readable, writable := conn.pendingReadable, conn.pendingWritable
		conn.pendingReadable, conn.pendingWritable = false, false
		r.dispatch(conn, readable, writable)
	}
}

func (r *Reactor) closeConn(conn *Connection) {
	r.timers.Cancel(uint64(conn.id))
	r.destroyConn(conn.fd)
}

func (r *Reactor) destroyConn(fd int) {
	conn, ok := r.conns[fd]
	if !ok {
		return
	}
	r.poller.Remove(fd)
	conn.releaseBody()
	unix.Close(fd)
	delete(r.conns, fd)
}
