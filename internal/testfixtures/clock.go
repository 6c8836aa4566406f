package testfixtures

import (
	"sync/atomic"
	"time"
)

// Clock is a manually driven time source. Readings are the base time plus an
// offset that only moves when a test moves it, or by step after each reading
// when the clock was built with NewSteppingClock.
type Clock struct {
	base   time.Time
	step   time.Duration
	offset atomic.Int64
}

// NewClock starts a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	return NewSteppingClock(start, 0)
}

// NewSteppingClock starts a clock that moves forward by step on every Now.
func NewSteppingClock(start time.Time, step time.Duration) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{base: start, step: step}
}

func (c *Clock) Now() time.Time {
	offset := c.offset.Add(int64(c.step)) - int64(c.step)
	return c.base.Add(time.Duration(offset))
}

// NowFunc adapts the clock to the now func taken by the services.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.offset.Store(int64(t.Sub(c.base)))
}

// Advance moves the clock by d and returns the new reading.
func (c *Clock) Advance(d time.Duration) time.Time {
	return c.base.Add(time.Duration(c.offset.Add(int64(d))))
}
