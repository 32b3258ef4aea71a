package queue

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPSC_PushPop(t *testing.T) {
	q := New[int](3)
	assert.True(t, q.Empty())
	assert.Equal(t, 3, q.Cap())

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.True(t, q.Push(3))
	assert.False(t, q.Push(4), "push on a full ring must fail")
	assert.Equal(t, 3, q.Len())

	for _, expected := range []int{1, 2, 3} {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, expected, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestSPSC_Wraparound(t *testing.T) {
	q := New[int](4)
	next := 0
	expected := 0
	for round := 0; round < 10; round++ {
		for q.Push(next) {
			next++
		}
		for i := 0; i < 3; i++ {
			v, ok := q.Pop()
			require.True(t, ok)
			assert.Equal(t, expected, v)
			expected++
		}
	}
}

func TestSPSC_PopBatch(t *testing.T) {
	tests := []struct {
		name     string
		pushed   int
		dst      int
		expected []int
	}{
		{name: "empty", pushed: 0, dst: 4, expected: []int{}},
		{name: "partial", pushed: 2, dst: 4, expected: []int{0, 1}},
		{name: "bounded by dst", pushed: 5, dst: 3, expected: []int{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](8)
			for i := 0; i < tt.pushed; i++ {
				require.True(t, q.Push(i))
			}
			dst := make([]int, tt.dst)
			n := q.PopBatch(dst)
			assert.Equal(t, tt.expected, dst[:n])
			assert.Equal(t, tt.pushed-n, q.Len())
		})
	}
}

func TestSPSC_PopReleasesReferences(t *testing.T) {
	q := New[*int](2)
	v := 42
	require.True(t, q.Push(&v))
	_, ok := q.Pop()
	require.True(t, ok)
	assert.Nil(t, q.buf[0])
}

func TestSPSC_Drain(t *testing.T) {
	q := New[string](4)
	q.Push("a")
	q.Push("b")
	assert.Equal(t, 2, q.Drain())
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Drain())
}

func TestSPSC_ConcurrentFIFO(t *testing.T) {
	const total = 100_000
	q := New[int](64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if !q.Push(i) {
				runtime.Gosched()
				continue
			}
			i++
		}
	}()

	got := make([]int, 0, total)
	buf := make([]int, 16)
	for len(got) < total {
		n := q.PopBatch(buf)
		if n == 0 {
			runtime.Gosched()
			continue
		}
		got = append(got, buf[:n]...)
	}
	wg.Wait()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: got %d", i, v)
		}
	}
}

func TestSPSC_LenWhileBothSidesRun(t *testing.T) {
	q := New[int](4)
	const total = 100000
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if !q.Push(i) {
				runtime.Gosched()
				continue
			}
			i++
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if _, ok := q.Pop(); !ok {
				runtime.Gosched()
				continue
			}
			i++
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		n := q.Len()
		require.GreaterOrEqual(t, n, 0)
		require.LessOrEqual(t, n, q.Cap())
		select {
		case <-done:
			assert.True(t, q.Empty())
			return
		default:
			runtime.Gosched()
		}
	}
}
