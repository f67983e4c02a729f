package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	ID int
}

func ids(items []testItem) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestQueue_PushPop(t *testing.T) {
	q := New[testItem]()

	_, ok := q.Pop()
	require.False(t, ok, "empty pop")

	q.Push(testItem{ID: 1}, testItem{ID: 2})
	require.Equal(t, 2, q.Len())

	first, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Drain(t *testing.T) {
	q := New[testItem]()
	for i := 1; i <= 5; i++ {
		q.Push(testItem{ID: i})
	}

	assert.Equal(t, []int{1, 2}, ids(q.Drain(2)))
	assert.Equal(t, []int{3, 4, 5}, ids(q.Drain(0)))
	assert.Zero(t, q.Len())
	assert.Empty(t, q.Drain(10))
}

func TestQueue_DrainedSliceIsIndependent(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{ID: 1}, testItem{ID: 2}, testItem{ID: 3})

	batch := q.Drain(2)
	q.Push(testItem{ID: 4})
	batch[0].ID = 99

	assert.Equal(t, []int{3, 4}, ids(q.Drain(0)))
}

func TestQueue_Bounded(t *testing.T) {
	q := NewBounded[testItem](3)

	assert.Zero(t, q.Push(testItem{ID: 1}, testItem{ID: 2}))
	assert.Equal(t, 2, q.Push(testItem{ID: 3}, testItem{ID: 4}, testItem{ID: 5}))
	assert.Equal(t, []int{3, 4, 5}, ids(q.Drain(0)), "newest items kept")
}

func TestQueue_Requeue(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{ID: 1}, testItem{ID: 2}, testItem{ID: 3})

	batch := q.Drain(2)
	q.Push(testItem{ID: 4})
	assert.Zero(t, q.Requeue(batch))
	assert.Equal(t, []int{1, 2, 3, 4}, ids(q.Drain(0)))
}

func TestQueue_RequeueBoundedDropsRequeuedFirst(t *testing.T) {
	q := NewBounded[testItem](2)
	q.Push(testItem{ID: 1}, testItem{ID: 2})
	batch := q.Drain(0)
	q.Push(testItem{ID: 3})

	assert.Equal(t, 1, q.Requeue(batch))
	assert.Equal(t, []int{2, 3}, ids(q.Drain(0)))
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[testItem]()
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(testItem{ID: base*100 + i})
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
}
