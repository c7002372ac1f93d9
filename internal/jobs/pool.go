package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SnowballHQ/data-enricher/pkg/models"
)

// Pool tracks a fixed set of worker slots. Slots are bookkeeping only;
// the goroutine doing the work belongs to the Manager. Slot state is
// rebuilt empty on every process start.
type Pool struct {
	mu      sync.Mutex
	workers []models.WorkerInfo
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	workers := make([]models.WorkerInfo, size)
	for i := range workers {
		workers[i] = models.WorkerInfo{
			WorkerID: fmt.Sprintf("worker-%d", i+1),
			Status:   models.WorkerIdle,
		}
	}
	return &Pool{workers: workers}
}

func (p *Pool) Size() int { return len(p.workers) }

// Acquire claims an idle slot for jobID. Returns false when every slot
// is busy.
func (p *Pool) Acquire(jobID uuid.UUID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	for i := range p.workers {
		if p.workers[i].Status != models.WorkerIdle {
			continue
		}
		id := jobID
		p.workers[i].Status = models.WorkerBusy
		p.workers[i].CurrentJobID = &id
		p.workers[i].StartedAt = now
		p.workers[i].LastHeartbeat = now
		return p.workers[i].WorkerID, true
	}
	return "", false
}

// Release returns a slot to the idle state. The release is ignored
// unless the slot still belongs to jobID, so a late release from a
// finished job cannot free a slot the pool has since handed to
// another job.
func (p *Pool) Release(workerID string, jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w := p.find(workerID); w != nil && w.CurrentJobID != nil && *w.CurrentJobID == jobID {
		w.Status = models.WorkerIdle
		w.CurrentJobID = nil
	}
}

// Heartbeat refreshes a slot's liveness timestamp, provided the slot
// still belongs to jobID.
func (p *Pool) Heartbeat(workerID string, jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w := p.find(workerID); w != nil && w.CurrentJobID != nil && *w.CurrentJobID == jobID {
		w.LastHeartbeat = time.Now().UTC()
	}
}

// Active returns the number of busy slots.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for i := range p.workers {
		if p.workers[i].Status == models.WorkerBusy {
			n++
		}
	}
	return n
}

// Snapshot copies the current slot states.
func (p *Pool) Snapshot() []models.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.WorkerInfo, len(p.workers))
	copy(out, p.workers)
	return out
}

// Stale returns busy slots whose heartbeat is older than timeout. The
// caller decides what to do with their jobs.
func (p *Pool) Stale(timeout time.Duration) []models.WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().UTC().Add(-timeout)
	var stale []models.WorkerInfo
	for i := range p.workers {
		w := p.workers[i]
		if w.Status == models.WorkerBusy && w.LastHeartbeat.Before(cutoff) {
			stale = append(stale, w)
		}
	}
	return stale
}

func (p *Pool) find(workerID string) *models.WorkerInfo {
	for i := range p.workers {
		if p.workers[i].WorkerID == workerID {
			return &p.workers[i]
		}
	}
	return nil
}
