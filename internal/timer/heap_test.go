package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeapAdjustExpiresOnlyAdjustedNode is scenario test 6: add ids 1..10
// with deadlines 10..100ms, adjust id 5 down to 1ms, and observe that a
// tick shortly after expires exactly id 5.
func TestHeapAdjustExpiresOnlyAdjustedNode(t *testing.T) {
	h := New()
	var fired []uint64
	for id := 1; id <= 10; id++ {
		id := uint64(id)
		h.Add(id, time.Duration(id)*10*time.Millisecond, func(id uint64) {
			fired = append(fired, id)
		})
	}
	h.Adjust(5, 1*time.Millisecond)

	time.Sleep(2 * time.Millisecond)
	h.Tick()

	assert.Equal(t, []uint64{5}, fired)
	assert.Equal(t, 9, h.Len())
}

func TestHeapOrderInvariantAfterMixedOps(t *testing.T) {
	h := New()
	h.Add(1, 50*time.Millisecond, func(uint64) {})
	h.Add(2, 10*time.Millisecond, func(uint64) {})
	h.Add(3, 30*time.Millisecond, func(uint64) {})
	h.Cancel(1)
	h.Adjust(3, 5*time.Millisecond)

	require.Equal(t, 2, h.Len())
	// root must be the minimum deadline among remaining ids (3, since it
	// was just adjusted below 2's 10ms).
	assert.Equal(t, uint64(3), h.nodes[0].id)

	for i, n := range h.nodes {
		assert.Equal(t, i, h.index[n.id])
		assert.Equal(t, i, n.idx)
	}
}

func TestDoWorkRunsCallbackAndRemoves(t *testing.T) {
	h := New()
	called := false
	h.Add(1, time.Hour, func(uint64) { called = true })
	h.DoWork(1)
	assert.True(t, called)
	assert.Equal(t, 0, h.Len())

	// missing id is a silent no-op
	h.DoWork(42)
}

func TestNextTickMsSentinelWhenEmpty(t *testing.T) {
	h := New()
	assert.Equal(t, -1, h.NextTickMs())
}

func TestTickMonotonicity(t *testing.T) {
	h := New()
	var order []uint64
	h.Add(1, 1*time.Millisecond, func(id uint64) { order = append(order, id) })
	h.Add(2, 5*time.Millisecond, func(id uint64) { order = append(order, id) })
	h.Add(3, 10*time.Millisecond, func(id uint64) { order = append(order, id) })

	time.Sleep(15 * time.Millisecond)
	h.Tick()

	assert.Equal(t, []uint64{1, 2, 3}, order)
}
