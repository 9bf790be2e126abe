package arena

import (
	"math/rand/v2"
	"sync"
	"time"
)

// scriptedRand replays a fixed sequence of draws, reduced modulo n.
type scriptedRand struct {
	seq   []int
	pos   int
	calls int
}

func (r *scriptedRand) IntN(n int) int {
	v := r.seq[r.pos%len(r.seq)] % n
	r.pos++
	r.calls++
	return v
}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

// staleClock is a ManualClock that remembers stopped callbacks so a test can
// run them late, the way a timer that had already started firing when Stop
// was called would.
type staleClock struct {
	*ManualClock

	mu      sync.Mutex
	stopped []func()
}

type staleTimer struct {
	Timer
	clock *staleClock
	f     func()
}

func newStaleClock() *staleClock {
	return &staleClock{ManualClock: &ManualClock{}}
}

func (t *staleTimer) Stop() bool {
	if !t.Timer.Stop() {
		return false
	}
	t.clock.mu.Lock()
	t.clock.stopped = append(t.clock.stopped, t.f)
	t.clock.mu.Unlock()
	return true
}

func (c *staleClock) AfterFunc(d time.Duration, f func()) Timer {
	return &staleTimer{Timer: c.ManualClock.AfterFunc(d, f), clock: c, f: f}
}

// FireStopped runs every callback stopped since the last call and returns
// how many ran.
func (c *staleClock) FireStopped() int {
	c.mu.Lock()
	stale := c.stopped
	c.stopped = nil
	c.mu.Unlock()

	for _, f := range stale {
		f()
	}
	return len(stale)
}

// recorder collects every snapshot an observer receives.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.State
	}
	return out
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}
