package queue_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnowballHQ/data-enricher/internal/queue"
)

func TestFIFO_Order(t *testing.T) {
	q := queue.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)
	assert.Equal(t, 3, q.Len())

	for _, want := range []uuid.UUID{a, b, c} {
		got, ok := q.DequeueNowait()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := q.DequeueNowait()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestFIFO_Position(t *testing.T) {
	q := queue.New()
	a, b := uuid.New(), uuid.New()
	q.Enqueue(a)
	q.Enqueue(b)

	assert.Equal(t, 0, q.Position(a))
	assert.Equal(t, 1, q.Position(b))
	assert.Equal(t, -1, q.Position(uuid.New()))

	_, _ = q.DequeueNowait()
	assert.Equal(t, 0, q.Position(b))
}

func TestFIFO_Remove(t *testing.T) {
	q := queue.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	assert.True(t, q.Remove(b))
	assert.False(t, q.Remove(b))
	assert.Equal(t, 2, q.Len())

	got, ok := q.DequeueNowait()
	require.True(t, ok)
	assert.Equal(t, a, got)
	got, ok = q.DequeueNowait()
	require.True(t, ok)
	assert.Equal(t, c, got)
}

func TestFIFO_ConcurrentEnqueue(t *testing.T) {
	q := queue.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(uuid.New())
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}
