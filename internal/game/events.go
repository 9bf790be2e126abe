package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/arena"
	"github.com/tunematch/arena/internal/messaging"
	"github.com/tunematch/arena/internal/metrics"
	"github.com/tunematch/arena/internal/profile"
	"github.com/tunematch/arena/internal/protocol"
)

// eventQueueSize bounds the side effects waiting behind one player. When it
// is full the goroutine applying the next change waits for room.
const eventQueueSize = 64

// event is one queued snapshot. A non-nil flushed carries no snapshot and is
// closed once everything queued before it has run.
type event struct {
	snap    arena.Snapshot
	flushed chan struct{}
}

// effects runs one player's snapshot side effects in order on its own
// goroutine, off the controller's emit path.
type effects struct {
	mu     sync.Mutex
	closed bool
	ch     chan event
	done   chan struct{}
}

func newEffects() *effects {
	return &effects{
		ch:   make(chan event, eventQueueSize),
		done: make(chan struct{}),
	}
}

// push queues ev and reports whether the queue was still open.
func (e *effects) push(ev event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.ch <- ev
	return true
}

// close stops accepting events and waits for the queued ones to run.
func (e *effects) close() {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
	e.mu.Unlock()
	<-e.done
}

func (s *Service) runEffects(p *player) {
	defer close(p.fx.done)
	for ev := range p.fx.ch {
		if ev.flushed != nil {
			close(ev.flushed)
			continue
		}
		s.applyEffects(p, ev.snap)
	}
}

// onSnapshot is the controller observer for p. The state frame goes out
// before it returns; persistence, events and metrics are queued.
func (s *Service) onSnapshot(p *player, snap arena.Snapshot) {
	s.send(p, StateFrame(p.currentRoster(), snap))
	if !p.fx.push(event{snap: snap}) {
		p.log.Debug("snapshot after leave dropped", zap.String("state", string(snap.State)))
	}
}

func (s *Service) applyEffects(p *player, snap arena.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Save(ctx, p.id, snap); err != nil {
			p.log.Warn("session save failed", zap.Error(err))
		}
	}

	switch snap.State {
	case arena.StateAwaitingPick:
		metrics.SamplerAttempts.Observe(float64(snap.Attempts))

	case arena.StateRevealingChoice:
		s.publishPick(p, snap)

	case arena.StateExhausted:
		if snap.Attempts > 0 {
			metrics.SamplerAttempts.Observe(float64(snap.Attempts))
		}
		metrics.ExhaustionsTotal.WithLabelValues(string(snap.Reason)).Inc()
		metrics.RoundsPerSession.Observe(float64(snap.Round))
		s.publishExhausted(p, snap)
		p.log.Info("session exhausted",
			zap.String("reason", string(snap.Reason)),
			zap.Int("rounds", snap.Round),
			zap.Int("remaining", len(snap.Remaining)))
	}
}

func (s *Service) publishPick(p *player, snap arena.Snapshot) {
	if s.deps.Publisher == nil {
		return
	}
	err := s.deps.Publisher.PublishPick(messaging.PickEvent{
		Session:  p.id,
		Server:   s.cfg.ServerName,
		Winner:   snap.Chosen,
		Loser:    snap.Eliminated,
		Round:    snap.Round,
		PoolSize: snap.PoolSize,
		Ts:       time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Warn("publish pick failed", zap.Error(err))
	}
}

func (s *Service) publishExhausted(p *player, snap arena.Snapshot) {
	if s.deps.Publisher == nil {
		return
	}
	remaining := snap.Remaining
	if remaining == nil {
		remaining = []string{}
	}
	err := s.deps.Publisher.PublishExhausted(messaging.ExhaustedEvent{
		Session:   p.id,
		Server:    s.cfg.ServerName,
		Reason:    string(snap.Reason),
		Rounds:    snap.Round,
		Remaining: remaining,
		Ts:        time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Warn("publish exhausted failed", zap.Error(err))
	}
}

// StateFrame renders snap as a state frame, resolving ids to cards from
// roster.
func StateFrame(roster *profile.Roster, snap arena.Snapshot) []byte {
	msg := protocol.StateMsg{
		State:      string(snap.State),
		Chosen:     snap.Chosen,
		Eliminated: snap.Eliminated,
		PoolSize:   snap.PoolSize,
		Shown:      snap.Shown,
		Round:      snap.Round,
		Exhausted:  snap.Exhausted,
		Reason:     string(snap.Reason),
	}
	if snap.Pair != nil {
		msg.Pair = &protocol.CardPair{
			Left:  roster.Card(snap.Pair.Left),
			Right: roster.Card(snap.Pair.Right),
		}
	}
	return protocol.MustServerMessage(protocol.TypeState, msg)
}
