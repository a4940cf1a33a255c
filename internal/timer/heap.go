// Package timer implements the indexed min-heap of idle-connection
// deadlines described by the design: insert, adjust, cancel and
// expire-due all run in O(log n), and a connection id can be located
// inside the heap in O(1) via a parallel id->index map, the same
// discipline socket515-gaio's watcher.go applies to its internal
// timedHeap, generalized here to the full add/adjust/cancel/do_work/tick
// surface the server needs.
package timer

import (
	"container/heap"
	"time"
)

// Callback runs synchronously on the heap's owning goroutine when a node
// expires via Tick, or immediately when DoWork is called for its id. It
// must not perform blocking I/O; it may enqueue work elsewhere.
type Callback func(id uint64)

// node is one scheduled deadline. idx is maintained by the heap
// implementation and mirrors the node's current slot.
type node struct {
	id       uint64
	deadline time.Time
	cb       Callback
	idx      int
}

// Heap is an indexed min-heap of timer nodes ordered by deadline, keyed
// by connection id. It is not safe for concurrent use: in this server it
// is only ever touched by the reactor goroutine (design §5), so no lock
// is needed.
type Heap struct {
	nodes []*node
	index map[uint64]int
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{index: make(map[uint64]int)}
}

// Len reports how many ids currently have a scheduled deadline.
func (h *Heap) Len() int { return len(h.nodes) }

// Add inserts a new deadline for id, or updates id's existing deadline
// and callback in place if one is already scheduled (matching HeapTimer::
// add in the original design: new nodes are pushed and sifted up,
// existing nodes are re-sifted from their current slot).
func (h *Heap) Add(id uint64, timeout time.Duration, cb Callback) {
	deadline := time.Now().Add(timeout)
	if i, ok := h.index[id]; ok {
		h.nodes[i].deadline = deadline
		h.nodes[i].cb = cb
		heap.Fix(h, i)
		return
	}
	heap.Push(h, &node{id: id, deadline: deadline, cb: cb})
}

// Adjust updates the deadline of an existing id to now+timeout. It is a
// no-op if id is not currently scheduled.
func (h *Heap) Adjust(id uint64, timeout time.Duration) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	h.nodes[i].deadline = time.Now().Add(timeout)
	heap.Fix(h, i)
}

// Cancel removes id's scheduled deadline without invoking its callback.
// A missing id is a silent no-op, since it may already have expired.
func (h *Heap) Cancel(id uint64) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	heap.Remove(h, i)
}

// DoWork invokes id's callback immediately and removes its node. A
// missing id is a silent no-op.
func (h *Heap) DoWork(id uint64) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	n := h.nodes[i]
	heap.Remove(h, i)
	n.cb(n.id)
}

// Tick expires every node whose deadline has already passed, oldest
// first, invoking each callback after removing the node from the heap
// (so a callback that re-adds the same id sees a consistent heap).
func (h *Heap) Tick() {
	now := time.Now()
	for h.Len() > 0 {
		n := h.nodes[0]
		if n.deadline.After(now) {
			return
		}
		heap.Pop(h)
		n.cb(n.id)
	}
}

// NextTickMs runs Tick and returns the number of milliseconds until the
// new root's deadline, or -1 if the heap is empty. Negative remainders
// are clamped to 0.
func (h *Heap) NextTickMs() int {
	h.Tick()
	if h.Len() == 0 {
		return -1
	}
	ms := int(time.Until(h.nodes[0].deadline) / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return ms
}

// container/heap.Interface implementation. Every swap keeps h.index in
// lockstep with the array, which is invariant (I2) in the design.

func (h *Heap) Less(i, j int) bool { return h.nodes[i].deadline.Before(h.nodes[j].deadline) }

func (h *Heap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].idx = i
	h.nodes[j].idx = j
	h.index[h.nodes[i].id] = i
	h.index[h.nodes[j].id] = j
}

func (h *Heap) Push(x interface{}) {
	n := x.(*node)
	n.idx = len(h.nodes)
	h.index[n.id] = n.idx
	h.nodes = append(h.nodes, n)
}

func (h *Heap) Pop() interface{} {
	old := h.nodes
	n := len(old)
	last := old[n-1]
	old[n-1] = nil
	h.nodes = old[:n-1]
	delete(h.index, last.id)
	return last
}
