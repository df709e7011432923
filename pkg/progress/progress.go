// Package progress counts bytes flowing through a stage and reports them to
// an optional callback. Reporting is observational and never fails a stage.
package progress

import "sync/atomic"

// Func receives the bytes handled so far and the expected total.
// total is -1 when unknown.
type Func func(done, total int64)

// Counter accumulates a byte count and forwards each change to a Func.
// It is an io.Writer so it can sit behind io.TeeReader or io.MultiWriter.
type Counter struct {
	done  atomic.Int64
	total int64
	fn    Func
}

// NewCounter returns a counter for total bytes. fn may be nil.
func NewCounter(total int64, fn Func) *Counter {
	if total < 0 {
		total = -1
	}
	return &Counter{total: total, fn: fn}
}

// Write counts len(p) bytes.
func (c *Counter) Write(p []byte) (int, error) {
	c.Add(int64(len(p)))
	return len(p), nil
}

// Add counts n bytes.
func (c *Counter) Add(n int64) {
	if n <= 0 {
		return
	}
	done := c.done.Add(n)
	if c.total >= 0 && done > c.total {
		done = c.total
	}
	if c.fn != nil {
		c.fn(done, c.total)
	}
}

// Done returns the bytes counted so far.
func (c *Counter) Done() int64 {
	return c.done.Load()
}

// Total returns the expected total, or -1.
func (c *Counter) Total() int64 {
	return c.total
}

// Reset sets the count back to zero without reporting.
func (c *Counter) Reset() {
	c.done.Store(0)
}
