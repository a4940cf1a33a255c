package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTaskRunsOnSomeWorker(t *testing.T) {
	p := New(4, 0, nil)
	defer p.Close()

	var wg sync.WaitGroup
	var n int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.AddTask(func() {
			atomic.AddInt32(&n, 1)
			wg.Done()
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 100, n)
}

func TestPanicInTaskDoesNotKillPool(t *testing.T) {
	p := New(2, 0, nil)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, p.AddTask(func() {
		defer wg.Done()
		panic("boom")
	}))
	wg.Wait()

	// pool must still be usable after a task panics
	done := make(chan struct{})
	require.NoError(t, p.AddTask(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped accepting work after a panic")
	}
}

func TestAddTaskAfterCloseIsRejected(t *testing.T) {
	p := New(1, 0, nil)
	p.Close()
	err := p.AddTask(func() {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBoundedQueueShedsOnFull(t *testing.T) {
	p := New(1, 1, nil)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.AddTask(func() { close(started); <-block })) // occupies the one worker
	<-started
	require.NoError(t, p.AddTask(func() {})) // fills the bounded queue

	err := p.AddTask(func() {})
	assert.ErrorIs(t, err, ErrQueueFull)
	close(block)
}
