package arena

import (
	"sync"
	"time"
)

// Default durations of the two animation phases that follow a pick.
const (
	DefaultRevealDuration     = 4 * time.Second
	DefaultTransitionDuration = 1 * time.Second
)

// Timings controls how long the controller stays in the post-pick phases.
type Timings struct {
	Reveal     time.Duration // RevealingChoice hold time
	Transition time.Duration // Transitioning hold time
}

// DefaultTimings returns the reveal/transition durations used by the web UI.
func DefaultTimings() Timings {
	return Timings{
		Reveal:     DefaultRevealDuration,
		Transition: DefaultTransitionDuration,
	}
}

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It returns false if the
	// callback already fired or was stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay. Callbacks run on their own
// goroutine and must not be assumed to run before Stop returns.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// WallClock schedules callbacks with time.AfterFunc.
type WallClock struct{}

// AfterFunc implements Scheduler.
func (WallClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock is a Scheduler whose time only moves on Advance. Callbacks run
// on the goroutine calling Advance, outside the clock's lock. Headless
// simulations use it to play sessions without waiting.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Duration
	f     func()
	done  bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// AfterFunc implements Scheduler.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due callbacks in deadline
// order. Callbacks scheduled by a firing callback run too if they fall due
// within d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		live := c.timers[:0]
		for _, t := range c.timers {
			if t.done {
				continue
			}
			live = append(live, t)
			if t.at <= target && (next == nil || t.at < next.at) {
				next = t
			}
		}
		c.timers = live
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of callbacks that have not fired or been
// stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}
