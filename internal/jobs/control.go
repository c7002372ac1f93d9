package jobs

import "sync/atomic"

// jobControl carries the cooperative pause and cancel flags for one
// running job. Strategies poll it between rows.
type jobControl struct {
	pause  atomic.Bool
	cancel atomic.Bool
}

func (c *jobControl) PauseRequested() bool  { return c.pause.Load() }
func (c *jobControl) CancelRequested() bool { return c.cancel.Load() }
