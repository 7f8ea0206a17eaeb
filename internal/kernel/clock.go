// internal/kernel/clock.go

package kernel

import (
	"sync/atomic"
	"time"

	"symsched/internal/sched"
)

// Clock supplies the system tick read once per scheduling cycle.
type Clock interface {
	Now() sched.Tick
}

// TickClock emits ticks and counts them atomically.
type TickClock struct {
	Ch    chan struct{}
	count atomic.Uint64
	stop  chan struct{}
}

// NewTickClock creates a clock but does not share it.
func NewTickClock(buffer int) *TickClock {
	return &TickClock{
		Ch:   make(chan struct{}, buffer),
		stop: make(chan struct{}),
	}
}

// Start begins emitting ticks at the given interval. A tick nobody is
// waiting for is still counted.
func (c *TickClock) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case c.Ch <- struct{}{}:
				default:
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop signals the clock to stop emitting ticks.
func (c *TickClock) Stop() {
	close(c.stop)
}

// Now returns the current tick count atomically.
func (c *TickClock) Now() sched.Tick {
	return sched.Tick(c.count.Load())
}

// Wait blocks until the next tick or until the clock is stopped.
func (c *TickClock) Wait() {
	select {
	case <-c.Ch:
	case <-c.stop:
	}
}

// CycleClock advances one tick every time it is read, so each scheduling
// cycle lasts exactly one tick.
type CycleClock struct {
	next atomic.Uint64
}

func (c *CycleClock) Now() sched.Tick {
	return sched.Tick(c.next.Add(1) - 1)
}

// ManualClock only moves when told to.
type ManualClock struct {
	now atomic.Uint64
}

func (c *ManualClock) Now() sched.Tick { return sched.Tick(c.now.Load()) }

// Advance moves the clock forward by n ticks.
func (c *ManualClock) Advance(n uint64) { c.now.Add(n) }

// Set moves the clock to t.
func (c *ManualClock) Set(t sched.Tick) { c.now.Store(uint64(t)) }
