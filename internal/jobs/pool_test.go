package jobs_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnowballHQ/data-enricher/internal/jobs"
)

func TestPoolAcquireRelease(t *testing.T) {
	pool := jobs.NewPool(2)
	jobA := uuid.New()
	jobB := uuid.New()

	w1, ok := pool.Acquire(jobA)
	require.True(t, ok)
	w2, ok := pool.Acquire(jobB)
	require.True(t, ok)
	assert.NotEqual(t, w1, w2)
	assert.Equal(t, 2, pool.Active())

	_, ok = pool.Acquire(uuid.New())
	assert.False(t, ok, "pool should be full")

	pool.Release(w1, jobA)
	assert.Equal(t, 1, pool.Active())
}

func TestPoolStaleReleaseIsIgnored(t *testing.T) {
	pool := jobs.NewPool(1)
	jobA := uuid.New()
	jobB := uuid.New()

	w, ok := pool.Acquire(jobA)
	require.True(t, ok)
	pool.Release(w, jobA)

	// The slot now belongs to a different job; a late release from the
	// first job must not free it.
	_, ok = pool.Acquire(jobB)
	require.True(t, ok)
	pool.Release(w, jobA)
	assert.Equal(t, 1, pool.Active())

	pool.Release(w, jobB)
	assert.Equal(t, 0, pool.Active())
}

func TestPoolStaleHeartbeatIsIgnored(t *testing.T) {
	pool := jobs.NewPool(1)
	jobA := uuid.New()
	jobB := uuid.New()

	w, ok := pool.Acquire(jobA)
	require.True(t, ok)
	pool.Release(w, jobA)

	_, ok = pool.Acquire(jobB)
	require.True(t, ok)
	before := pool.Snapshot()[0].LastHeartbeat

	time.Sleep(5 * time.Millisecond)
	pool.Heartbeat(w, jobA)
	assert.Equal(t, before, pool.Snapshot()[0].LastHeartbeat,
		"a heartbeat from a job that no longer owns the slot must not refresh it")

	pool.Heartbeat(w, jobB)
	assert.True(t, pool.Snapshot()[0].LastHeartbeat.After(before))
}

func TestPoolStale(t *testing.T) {
	pool := jobs.NewPool(2)
	jobA := uuid.New()
	w, ok := pool.Acquire(jobA)
	require.True(t, ok)

	assert.Empty(t, pool.Stale(time.Minute))

	time.Sleep(5 * time.Millisecond)
	stale := pool.Stale(time.Millisecond)
	require.Len(t, stale, 1)
	assert.Equal(t, w, stale[0].WorkerID)
	require.NotNil(t, stale[0].CurrentJobID)
	assert.Equal(t, jobA, *stale[0].CurrentJobID)
}
