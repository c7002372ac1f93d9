// Package queue provides the in-memory FIFO handoff of job ids awaiting a
// worker. It is a scheduling hint, not a source of truth: the manager
// rebuilds it from the store's pending jobs on every process start.
package queue

import (
	"sync"

	"github.com/google/uuid"
)

// FIFO is a thread-safe first-in-first-out queue of job ids.
type FIFO struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func New() *FIFO {
	return &FIFO{}
}

// Enqueue appends a job id to the back of the queue.
func (q *FIFO) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

// DequeueNowait removes and returns the front job id. The second return
// value is false when the queue is empty.
func (q *FIFO) DequeueNowait() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return uuid.Nil, false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// Len returns the number of queued job ids.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Position returns the zero-based position of id in the queue, or -1 if it
// is not queued.
func (q *FIFO) Position(id uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.ids {
		if queued == id {
			return i
		}
	}
	return -1
}

// Remove deletes id from the queue if present. Returns true if removed.
func (q *FIFO) Remove(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}
