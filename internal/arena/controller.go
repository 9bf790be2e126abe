package arena

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by every operation on a controller after Close.
var ErrClosed = errors.New("arena: controller closed")

// Snapshot is the observable state of a session, emitted after every change.
type Snapshot struct {
	State      State            `json:"state"`
	Pair       *Pair            `json:"pair,omitempty"`       // nil while nothing is displayed
	Chosen     string           `json:"chosen,omitempty"`     // winner shown during RevealingChoice
	Eliminated string           `json:"eliminated,omitempty"` // loser of the latest pick
	PoolSize   int              `json:"pool_size"`
	Shown      int              `json:"shown"` // distinct pairs offered this session
	Round      int              `json:"round"` // picks resolved this session
	Attempts   int              `json:"attempts"`
	Exhausted  bool             `json:"exhausted"`
	Reason     ExhaustionReason `json:"reason,omitempty"`
	Remaining  []string         `json:"remaining,omitempty"` // pool contents, set once exhausted
}

// Observer receives snapshots in the order the underlying events were
// applied. It must not call back into the Controller synchronously. It runs
// under the Controller's emit lock, so the next pick or timer for the same
// Controller waits until it returns; slow work belongs on another goroutine.
type Observer func(Snapshot)

// Config holds the collaborators and tunables of a Controller. Zero values
// fall back to production defaults.
type Config struct {
	Timings       Timings
	AttemptBudget int
	Scheduler     Scheduler
	Rand          IntN
	Observer      Observer
}

// Controller is one user's elimination session. Picks and timer expirations
// are serialized behind a single mutex, so a Controller may be driven from
// any goroutine.
type Controller struct {
	mu     sync.Mutex
	emitMu sync.Mutex // held while the observer runs; preserves event order

	pool     *Pool
	history  *History
	sampler  *Sampler
	timings  Timings
	sched    Scheduler
	observer Observer

	started    bool
	closed     bool
	state      State
	active     Pair
	hasPair    bool
	chosen     string
	eliminated string
	round      int
	attempts   int
	reason     ExhaustionReason

	timer Timer
	gen   uint64 // bumped on reset/close; stale callbacks compare against it
}

// NewController creates an idle controller. Call Start to begin a session.
func NewController(cfg Config) *Controller {
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = WallClock{}
	}
	return &Controller{
		pool:     NewPool(nil),
		history:  NewHistory(),
		sampler:  NewSampler(cfg.Rand, cfg.AttemptBudget),
		timings:  cfg.Timings,
		sched:    cfg.Scheduler,
		observer: cfg.Observer,
		state:    StateIdle,
	}
}

// Start initializes the session with the given candidate ids and offers the
// first pair. Empty or duplicate ids are rejected without touching the
// session. With fewer than two ids the session is left exhausted and
// ErrTooFewCandidates is returned.
func (c *Controller) Start(ids []string) error {
	if err := validateIDs(ids); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cancelTimerLocked()
	c.pool.Initialize(ids)
	c.started = true
	c.restartLocked()
	tooFew := c.pool.InitialSize() < 2
	c.unlockAndEmit()

	if tooFew {
		return ErrTooFewCandidates
	}
	return nil
}

// Pick resolves the displayed pair in favour of side. The other side's id is
// removed from the pool and the controller moves to RevealingChoice. Picks
// arriving in any state other than AwaitingPick are ignored; accepted reports
// whether this pick was applied.
func (c *Controller) Pick(side Side) (accepted bool, err error) {
	if !side.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return false, ErrClosed
	case !c.started:
		c.mu.Unlock()
		return false, ErrNotStarted
	case c.state != StateAwaitingPick:
		c.mu.Unlock()
		return false, nil
	}

	winner, loser := c.active.Get(side), c.active.Other(side)
	c.pool.Remove(loser)
	c.chosen = winner
	c.eliminated = loser
	c.round++
	c.state = StateRevealingChoice
	c.scheduleLocked(c.timings.Reveal, c.finishReveal)
	c.unlockAndEmit()
	return true, nil
}

// Reset cancels any pending transition, restores the full candidate set,
// clears the pair history and offers a fresh pair.
func (c *Controller) Reset() error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case !c.started:
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.cancelTimerLocked()
	c.restartLocked()
	c.unlockAndEmit()
	return nil
}

// Close cancels pending timers and rejects further operations.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimerLocked()
	c.closed = true
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Candidates returns the ids still in the pool.
func (c *Controller) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.IDs()
}

// finishReveal moves RevealingChoice to Transitioning.
func (c *Controller) finishReveal(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateRevealingChoice {
		c.mu.Unlock()
		return
	}
	c.state = StateTransitioning
	c.chosen = ""
	c.hasPair = false
	c.scheduleLocked(c.timings.Transition, c.finishTransition)
	c.unlockAndEmit()
}

// finishTransition samples the next pair or exhausts the session.
func (c *Controller) finishTransition(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateTransitioning {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.nextPairLocked()
	c.unlockAndEmit()
}

func (c *Controller) restartLocked() {
	c.pool.Reset()
	c.history.Clear()
	c.round = 0
	c.chosen = ""
	c.eliminated = ""
	c.nextPairLocked()
}

func (c *Controller) nextPairLocked() {
	res := c.sampler.Sample(c.pool, c.history)
	c.attempts = res.Attempts
	if res.Exhausted {
		c.state = StateExhausted
		c.hasPair = false
		c.active = Pair{}
		c.reason = res.Reason
		return
	}
	c.state = StateAwaitingPick
	c.active = res.Pair
	c.hasPair = true
	c.reason = ReasonNone
}

func (c *Controller) scheduleLocked(d time.Duration, next func(gen uint64)) {
	gen := c.gen
	c.timer = c.sched.AfterFunc(d, func() { next(gen) })
}

func (c *Controller) cancelTimerLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:      c.state,
		Chosen:     c.chosen,
		Eliminated: c.eliminated,
		PoolSize:   c.pool.Size(),
		Shown:      c.history.Len(),
		Round:      c.round,
		Attempts:   c.attempts,
		Exhausted:  c.state == StateExhausted,
		Reason:     c.reason,
	}
	if c.hasPair {
		p := c.active
		snap.Pair = &p
	}
	if snap.Exhausted {
		snap.Remaining = c.pool.IDs()
	}
	return snap
}

// unlockAndEmit releases c.mu and delivers the current snapshot. emitMu is
// taken before c.mu is released so observers see events in apply order.
func (c *Controller) unlockAndEmit() {
	snap := c.snapshotLocked()
	observer := c.observer
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	if observer != nil {
		observer(snap)
	}
}

func validateIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id at position %d", ErrInvalidCandidate, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidCandidate, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
