// Package resource bounds the engine's concurrent background work and
// disk IO so flush, merge, and index-build tasks from many tables don't
// starve query latency or saturate the disk.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Controller bounds concurrent background tasks (via a weighted semaphore)
// and throttles the bytes/sec those tasks may read or write (via a token
// bucket limiter).
type Controller struct {
	tasks *semaphore.Weighted
	io    *rate.Limiter
}

// New returns a Controller allowing maxConcurrentTasks background workers
// at once, each capped at an aggregate ioBytesPerSec disk throughput.
func New(maxConcurrentTasks int64, ioBytesPerSec int) *Controller {
	var limiter *rate.Limiter
	if ioBytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ioBytesPerSec), ioBytesPerSec)
	}
	return &Controller{
		tasks: semaphore.NewWeighted(maxConcurrentTasks),
		io:    limiter,
	}
}

// AcquireTask blocks until a background-task slot is free or ctx is done.
func (c *Controller) AcquireTask(ctx context.Context) error {
	return c.tasks.Acquire(ctx, 1)
}

// ReleaseTask frees a slot acquired by AcquireTask.
func (c *Controller) ReleaseTask() {
	c.tasks.Release(1)
}

// TryAcquireTask attempts to acquire a slot without blocking, returning
// false if none are free. The scheduler uses this to skip a tick rather
// than queue up behind slow tasks.
func (c *Controller) TryAcquireTask() bool {
	return c.tasks.TryAcquire(1)
}

// WaitIO blocks until nBytes worth of IO budget is available, or ctx is
// done. A Controller with no configured throughput limit never blocks.
func (c *Controller) WaitIO(ctx context.Context, nBytes int) error {
	if c.io == nil {
		return nil
	}
	for nBytes > 0 {
		n := nBytes
		if b := c.io.Burst(); n > b {
			n = b
		}
		if err := c.io.WaitN(ctx, n); err != nil {
			// WaitN also fails up front when the wait would outlast ctx's
			// deadline; block until ctx is done so callers see ctx.Err().
			<-ctx.Done()
			return ctx.Err()
		}
		nBytes -= n
	}
	return nil
}
