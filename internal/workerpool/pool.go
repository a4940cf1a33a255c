// Package workerpool implements the fixed-size goroutine pool that the
// reactor dispatches per-connection read/write work to. It is a direct
// translation of the design's ThreadPool (code/pool/threadpool.h): a
// mutex-and-condvar-guarded FIFO of parameterless tasks, N workers each
// running "pop under lock, unlock, run, relock", and cooperative-now
// shutdown (new tasks are rejected; workers still run what is already
// queued before they exit, and Close does not wait for them).
package workerpool

import (
	"container/list"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrClosed is returned by AddTask once the pool has begun shutting down.
var ErrClosed = errors.New("workerpool: closed")

// Task is a single, parameterless work item. It is consumed exactly once;
// a panic inside a task is recovered so it cannot take down the pool.
type Task func()

// Pool is a fixed-size pool of worker goroutines sharing one task queue.
// Unlike the C++ original, Go's garbage collector makes the
// std::shared_ptr<Pool> dance unnecessary: the worker goroutines close
// over the queue directly and keep it alive for as long as they run.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    list.List
	closed   bool
	maxQueue int // 0 means unbounded
	log      *zap.Logger
}

// New starts n worker goroutines sharing a FIFO task queue. maxQueue
// bounds the queue depth (0 = unbounded, matching the original design);
// a bounded queue sheds new tasks once full rather than growing without
// limit, addressing the unbounded-queue DoS vector the specification
// flags as an open question.
func New(n int, maxQueue int, log *zap.Logger) *Pool {
	if n <= 0 {
		n = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{maxQueue: maxQueue, log: log}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

// AddTask enqueues task and wakes one idle worker. It returns ErrClosed
// once Close has been called, and ErrQueueFull when the pool is bounded
// and already saturated (design §9b: shed-on-full under load).
func (p *Pool) AddTask(task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.maxQueue > 0 && p.tasks.Len() >= p.maxQueue {
		p.mu.Unlock()
		return ErrQueueFull
	}
	p.tasks.PushBack(task)
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// ErrQueueFull is returned by AddTask when the pool is bounded and its
// queue is already at capacity.
var ErrQueueFull = errors.New("workerpool: queue full")

// Close marks the pool closed and wakes every worker, then returns
// without waiting. Later AddTask calls fail with ErrClosed; each worker
// keeps running tasks that were already queued and exits once the queue
// is empty. Callers that need every queued task to finish must track
// completion externally (design §9c).
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) worker() {
	p.mu.Lock()
	for {
		if front := p.tasks.Front(); front != nil {
			task := p.tasks.Remove(front).(Task)
			p.mu.Unlock()
			p.run(task)
			p.mu.Lock()
			continue
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.cond.Wait()
	}
}

// run executes task, isolating a panic so that one failing task can
// never terminate the pool (design §3: "failure inside a task must not
// terminate the pool").
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("workerpool: task panicked", zap.Any("recover", r))
		}
	}()
	task()
}
