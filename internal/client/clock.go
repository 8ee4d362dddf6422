package client

import "time"

// Clock is the monotonic timebase the playback scheduler runs on. The
// zero of the clock is arbitrary; only differences matter.
type Clock interface {
	Now() time.Duration
	// AfterFunc invokes f once d has elapsed on this clock.
	AfterFunc(d time.Duration, f func())
}

type realClock struct {
	start time.Time
}

// NewClock returns a Clock backed by the runtime's monotonic clock.
func NewClock() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Duration { return time.Since(c.start) }

func (c *realClock) AfterFunc(d time.Duration, f func()) {
	if d < 0 {
		d = 0
	}
	time.AfterFunc(d, f)
}
