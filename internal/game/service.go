// Package game connects players to elimination sessions. It owns one
// arena.Controller per connected player, turns controller snapshots into
// state frames, and fans the results out to the session store, the event bus
// and metrics.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/arena"
	"github.com/tunematch/arena/internal/logger"
	"github.com/tunematch/arena/internal/messaging"
	"github.com/tunematch/arena/internal/metrics"
	"github.com/tunematch/arena/internal/profile"
	"github.com/tunematch/arena/internal/protocol"
	"github.com/tunematch/arena/internal/ratelimit"
)

// storeTimeout bounds Redis and NATS calls made on behalf of one event.
const storeTimeout = 2 * time.Second

var (
	// ErrUnknownPlayer is returned for operations on a player that has not
	// joined or has already left.
	ErrUnknownPlayer = errors.New("game: unknown player")

	// ErrAlreadyJoined is returned when Join is called twice for one player.
	ErrAlreadyJoined = errors.New("game: player already joined")
)

// Sender delivers frames to connected players. *ws.Server satisfies it.
type Sender interface {
	SendMessage(playerID string, data []byte) error
	Disconnect(playerID string) error
}

// Publisher receives pick and exhaustion events. *messaging.NATSClient
// satisfies it.
type Publisher interface {
	PublishPick(ev messaging.PickEvent) error
	PublishExhausted(ev messaging.ExhaustedEvent) error
}

// SessionStore persists session snapshots. *session.Store satisfies it.
type SessionStore interface {
	Create(ctx context.Context, sessionID string) error
	Save(ctx context.Context, sessionID string, snap arena.Snapshot) error
	Delete(ctx context.Context, sessionID string) error
}

// Limiter throttles player actions. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) int
}

// Banner blocks abusive client addresses. *ban.Store satisfies it.
type Banner interface {
	IsBanned(ctx context.Context, addr string) (bool, int, string, error)
	RecordViolation(ctx context.Context, addr string, action string) (bool, time.Duration, error)
}

// Config holds the engine settings applied to every new session.
type Config struct {
	Timings       arena.Timings
	AttemptBudget int
	ServerName    string

	// Scheduler drives reveal and transition timers. Nil uses the wall clock.
	Scheduler arena.Scheduler

	// NewRand returns the random source for one session. Nil gives every
	// session its own time-seeded generator.
	NewRand func() arena.IntN
}

// DefaultConfig returns the production engine settings.
func DefaultConfig() Config {
	return Config{
		Timings:       arena.DefaultTimings(),
		AttemptBudget: arena.DefaultAttemptBudget,
		ServerName:    "arena-1",
	}
}

// Deps are the Service's collaborators. Only Sender is required; a nil
// Publisher, Sessions, Limiter or Bans disables that concern.
type Deps struct {
	Sender    Sender
	Publisher Publisher
	Sessions  SessionStore
	Limiter   Limiter
	Bans      Banner
	Log       *zap.Logger
}

// Service manages the sessions of all players connected to this server.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	mu      sync.RWMutex
	roster  *profile.Roster
	players map[string]*player
}

// player is one connected client and its elimination session.
type player struct {
	id   string
	addr string
	ctrl *arena.Controller
	log  *zap.Logger
	fx   *effects

	mu     sync.Mutex
	roster *profile.Roster // roster the current session was started with
}

func (p *player) currentRoster() *profile.Roster {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roster
}

// NewService creates a Service serving sessions over roster.
func NewService(cfg Config, roster *profile.Roster, deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultConfig().ServerName
	}
	return &Service{
		cfg:     cfg,
		deps:    deps,
		log:     logger.Component(deps.Log, "game"),
		roster:  roster,
		players: make(map[string]*player),
	}
}

// Roster returns the roster new sessions start with.
func (s *Service) Roster() *profile.Roster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roster
}

// ReloadRoster swaps the roster. Running sessions keep theirs until the
// player resets.
func (s *Service) ReloadRoster(r *profile.Roster) {
	s.mu.Lock()
	s.roster = r
	s.mu.Unlock()
	s.log.Info("roster reloaded", zap.Int("profiles", r.Len()))
}

// Players returns the number of joined players.
func (s *Service) Players() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Admit decides whether a new connection from addr may proceed. A non-nil
// result is the frame to send before refusing the client.
func (s *Service) Admit(ctx context.Context, addr string) []byte {
	if s.deps.Bans != nil {
		banned, ttl, reason, err := s.deps.Bans.IsBanned(ctx, addr)
		if err != nil {
			s.log.Warn("ban check failed", zap.String("addr", addr), zap.Error(err))
		}
		if banned {
			return protocol.MustServerMessage(protocol.TypeBanned, protocol.BannedMsg{
				Duration: ttl,
				Reason:   reason,
			})
		}
	}

	if s.deps.Limiter != nil {
		if ok, _ := s.deps.Limiter.Allow(ctx, addr, ratelimit.RuleConnect); !ok {
			metrics.RateLimitedTotal.WithLabelValues(ratelimit.RuleConnect.Name).Inc()
			if frame := s.recordViolation(ctx, addr, ratelimit.RuleConnect.Name); frame != nil {
				return frame
			}
			return protocol.MustServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				Action:     ratelimit.RuleConnect.Name,
				RetryAfter: s.deps.Limiter.RetryAfter(ctx, addr, ratelimit.RuleConnect),
			})
		}
	}
	return nil
}

// Join registers a player, announces the session and offers the first pair.
// A roster too small to pair leaves the session exhausted, which the client
// sees in the initial state frame.
func (s *Service) Join(ctx context.Context, playerID, addr string) error {
	roster := s.Roster()
	p := &player{
		id:     playerID,
		addr:   addr,
		log:    logger.ForSession(s.log, playerID),
		fx:     newEffects(),
		roster: roster,
	}

	var rng arena.IntN
	if s.cfg.NewRand != nil {
		rng = s.cfg.NewRand()
	}
	p.ctrl = arena.NewController(arena.Config{
		Timings:       s.cfg.Timings,
		AttemptBudget: s.cfg.AttemptBudget,
		Scheduler:     s.cfg.Scheduler,
		Rand:          rng,
		Observer:      func(snap arena.Snapshot) { s.onSnapshot(p, snap) },
	})

	s.mu.Lock()
	if _, exists := s.players[playerID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, playerID)
	}
	s.players[playerID] = p
	s.mu.Unlock()
	go s.runEffects(p)
	metrics.ActiveSessions.Inc()

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Create(ctx, playerID); err != nil {
			p.log.Warn("session create failed", zap.Error(err))
		}
	}

	s.send(p, protocol.MustServerMessage(protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID:  playerID,
		RosterSize: roster.Len(),
	}))

	if err := p.ctrl.Start(roster.IDs()); err != nil {
		if errors.Is(err, arena.ErrTooFewCandidates) {
			p.log.Warn("roster too small for a session", zap.Int("profiles", roster.Len()))
			return nil
		}
		s.send(p, protocol.NewError(protocol.CodeInternal, "could not start session"))
		return fmt.Errorf("game: join: %w", err)
	}

	p.log.Debug("player joined", zap.String("addr", addr))
	return nil
}

// Pick applies the player's choice. Picks while no pair is awaiting a choice
// are ignored.
func (s *Service) Pick(ctx context.Context, playerID, side string) error {
	p, err := s.lookup(playerID)
	if err != nil {
		return err
	}
	if !s.allow(ctx, p, ratelimit.RulePick) {
		return nil
	}

	accepted, err := p.ctrl.Pick(arena.Side(side))
	if err != nil {
		if errors.Is(err, arena.ErrInvalidSide) {
			s.send(p, protocol.NewError(protocol.CodeInvalidSide, `side must be "left" or "right"`))
			return nil
		}
		return fmt.Errorf("game: pick: %w", err)
	}

	if !accepted {
		metrics.IgnoredPicksTotal.Inc()
		p.log.Debug("pick ignored", zap.String("side", side))
		return nil
	}
	metrics.PicksTotal.Inc()
	return nil
}

// Reset restarts the player's session with the full roster. A roster
// reloaded since the session started takes effect here.
func (s *Service) Reset(ctx context.Context, playerID string) error {
	p, err := s.lookup(playerID)
	if err != nil {
		return err
	}
	if !s.allow(ctx, p, ratelimit.RuleReset) {
		return nil
	}

	observeAbandoned(p.ctrl.Snapshot())

	current := s.Roster()
	p.mu.Lock()
	reloaded := p.roster != current
	p.roster = current
	p.mu.Unlock()

	if reloaded {
		err = p.ctrl.Start(current.IDs())
		if errors.Is(err, arena.ErrTooFewCandidates) {
			err = nil
		}
	} else {
		err = p.ctrl.Reset()
	}
	if err != nil {
		return fmt.Errorf("game: reset: %w", err)
	}

	p.log.Debug("session reset", zap.Bool("new_roster", reloaded))
	return nil
}

// Leave ends the player's session and forgets the player.
func (s *Service) Leave(ctx context.Context, playerID string) {
	s.mu.Lock()
	p, ok := s.players[playerID]
	delete(s.players, playerID)
	s.mu.Unlock()
	if !ok {
		return
	}

	observeAbandoned(p.ctrl.Snapshot())
	p.ctrl.Close()
	p.fx.close()
	metrics.ActiveSessions.Dec()

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Delete(ctx, playerID); err != nil {
			p.log.Warn("session delete failed", zap.Error(err))
		}
	}
	p.log.Debug("player left")
}

// Snapshot returns the player's current session state.
func (s *Service) Snapshot(playerID string) (arena.Snapshot, error) {
	p, err := s.lookup(playerID)
	if err != nil {
		return arena.Snapshot{}, err
	}
	return p.ctrl.Snapshot(), nil
}

// Sync waits until the store, event and metric updates of every change
// applied so far to the player's session have run.
func (s *Service) Sync(ctx context.Context, playerID string) error {
	s.mu.RLock()
	p, ok := s.players[playerID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}

	flushed := make(chan struct{})
	if !p.fx.push(event{flushed: flushed}) {
		return nil
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends every session without notifying clients.
func (s *Service) Close(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Leave(ctx, id)
	}
}

func (s *Service) lookup(playerID string) (*player, error) {
	s.mu.RLock()
	p, ok := s.players[playerID]
	s.mu.RUnlock()
	if !ok {
		if s.deps.Sender != nil {
			_ = s.deps.Sender.SendMessage(playerID, protocol.NewError(protocol.CodeNoSession, "no active session"))
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	return p, nil
}

// allow checks rule for the player. A rejected action gets a rate_limited
// frame; repeated rejections ban the player's address and disconnect it.
func (s *Service) allow(ctx context.Context, p *player, rule ratelimit.Rule) bool {
	if s.deps.Limiter == nil {
		return true
	}
	if ok, _ := s.deps.Limiter.Allow(ctx, p.id, rule); ok {
		return true
	}

	metrics.RateLimitedTotal.WithLabelValues(rule.Name).Inc()
	s.send(p, protocol.MustServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		Action:     rule.Name,
		RetryAfter: s.deps.Limiter.RetryAfter(ctx, p.id, rule),
	}))

	if frame := s.recordViolation(ctx, p.addr, rule.Name); frame != nil {
		s.send(p, frame)
		if err := s.deps.Sender.Disconnect(p.id); err != nil {
			p.log.Debug("disconnect failed", zap.Error(err))
		}
	}
	return false
}

// recordViolation counts a rate-limit violation against addr and returns a
// banned frame when that tipped the address into a ban.
func (s *Service) recordViolation(ctx context.Context, addr, action string) []byte {
	if s.deps.Bans == nil || addr == "" {
		return nil
	}
	banned, duration, err := s.deps.Bans.RecordViolation(ctx, addr, action)
	if err != nil {
		s.log.Warn("record violation failed", zap.String("addr", addr), zap.Error(err))
		return nil
	}
	if !banned {
		return nil
	}
	s.log.Info("address banned",
		zap.String("addr", addr),
		zap.String("action", action),
		zap.Duration("duration", duration))
	return protocol.MustServerMessage(protocol.TypeBanned, protocol.BannedMsg{
		Duration: int(duration / time.Second),
		Reason:   "rate_limit_" + action,
	})
}

func (s *Service) send(p *player, frame []byte) {
	if s.deps.Sender == nil {
		return
	}
	if err := s.deps.Sender.SendMessage(p.id, frame); err != nil {
		p.log.Debug("send failed", zap.Error(err))
	}
}

// observeAbandoned records the length of a session that ends without being
// exhausted. Exhausted sessions were recorded when they ran out.
func observeAbandoned(snap arena.Snapshot) {
	if snap.State == arena.StateIdle || snap.Exhausted {
		return
	}
	metrics.RoundsPerSession.Observe(float64(snap.Round))
}
