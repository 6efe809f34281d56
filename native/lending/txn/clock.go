package txn

import (
	"sync"
	"time"
)

// Clock supplies the timestamp an action executes at.
type Clock interface {
	Now() uint64
}

// SystemClock reads wall-clock seconds.
type SystemClock struct{}

func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// ManualClock is advanced explicitly by simulations and tests.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock starts a clock at now.
func NewManualClock(now uint64) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now. Moving backwards is ignored.
func (c *ManualClock) Set(now uint64) {
	c.mu.Lock()
	if now > c.now {
		c.now = now
	}
	c.mu.Unlock()
}

// Advance moves the clock forward by d seconds and returns the new time.
func (c *ManualClock) Advance(d uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	return c.now
}
