package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunematch/arena/internal/arena"
	"github.com/tunematch/arena/internal/profile"
)

const (
	reveal     = arena.DefaultRevealDuration
	transition = arena.DefaultTransitionDuration
)

type harness struct {
	svc      *Service
	clock    *arena.ManualClock
	sender   *fakeSender
	pub      *fakePublisher
	sessions *fakeSessions
}

func newHarness(t *testing.T, roster *profile.Roster, extra func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		clock:    &arena.ManualClock{},
		sender:   newFakeSender(),
		pub:      &fakePublisher{},
		sessions: &fakeSessions{},
	}
	deps := Deps{Sender: h.sender, Publisher: h.pub, Sessions: h.sessions}
	if extra != nil {
		extra(&deps)
	}

	cfg := DefaultConfig()
	cfg.ServerName = "test-1"
	cfg.Scheduler = h.clock
	cfg.NewRand = func() arena.IntN { return &fixedRand{seq: []int{0, 1}} }

	h.svc = NewService(cfg, roster, deps)
	t.Cleanup(func() { h.svc.Close(context.Background()) })
	return h
}

// settle waits for the queued side effects of id's session.
func (h *harness) settle(t *testing.T, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Sync(ctx, id))
}

func pairIDs(frame map[string]interface{}) (string, string) {
	pair := frame["pair"].(map[string]interface{})
	left := pair["left"].(map[string]interface{})
	right := pair["right"].(map[string]interface{})
	return left["id"].(string), right["id"].(string)
}

func TestJoin_AnnouncesSessionAndFirstPair(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.Join(ctx, "p1", "10.0.0.1"))

	assert.Equal(t, []string{"session_created", "state:awaiting_pick"}, h.sender.types(t, "p1"))

	frames := h.sender.decoded(t, "p1")
	assert.Equal(t, "p1", frames[0]["session_id"])
	assert.Equal(t, float64(3), frames[0]["roster_size"])

	left, right := pairIDs(frames[1])
	assert.Equal(t, "a", left)
	assert.Equal(t, "b", right)
	card := frames[1]["pair"].(map[string]interface{})["left"].(map[string]interface{})
	assert.Len(t, card["genres"], profile.CardGenres, "cards carry at most three genres")

	assert.Equal(t, []string{"p1"}, h.sessions.created)
	assert.Equal(t, 1, h.svc.Players())
}

func TestJoin_Twice(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b"), nil)
	ctx := context.Background()

	require.NoError(t, h.svc.Join(ctx, "p1", ""))
	assert.ErrorIs(t, h.svc.Join(ctx, "p1", ""), ErrAlreadyJoined)
}

func TestJoin_RosterTooSmall(t *testing.T) {
	h := newHarness(t, testRoster(t, "solo"), nil)

	require.NoError(t, h.svc.Join(context.Background(), "p1", ""))

	last := h.sender.last(t, "p1")
	assert.Equal(t, "exhausted", last["state"])
	assert.Equal(t, "too_few_candidates", last["reason"])
	assert.Nil(t, last["pair"])

	h.settle(t, "p1")
	require.Len(t, h.pub.exhausted, 1)
	assert.Equal(t, []string{"solo"}, h.pub.exhausted[0].Remaining)
}

func TestPick_FullSessionToExhaustion(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", ""))

	require.NoError(t, h.svc.Pick(ctx, "p1", "right"))
	last := h.sender.last(t, "p1")
	assert.Equal(t, "revealing_choice", last["state"])
	assert.Equal(t, "b", last["chosen"])
	assert.Equal(t, "a", last["eliminated"])

	h.settle(t, "p1")
	require.Len(t, h.pub.picks, 1)
	ev := h.pub.picks[0]
	assert.Equal(t, "p1", ev.Session)
	assert.Equal(t, "test-1", ev.Server)
	assert.Equal(t, "b", ev.Winner)
	assert.Equal(t, "a", ev.Loser)
	assert.Equal(t, 1, ev.Round)
	assert.Equal(t, 2, ev.PoolSize)

	h.clock.Advance(reveal)
	last = h.sender.last(t, "p1")
	assert.Equal(t, "transitioning", last["state"])
	assert.Contains(t, last, "pair")
	assert.Nil(t, last["pair"])

	h.clock.Advance(transition)
	last = h.sender.last(t, "p1")
	require.Equal(t, "awaiting_pick", last["state"])
	left, right := pairIDs(last)
	assert.NotContains(t, []string{left, right}, "a", "eliminated profile resurfaced")

	require.NoError(t, h.svc.Pick(ctx, "p1", "left"))
	h.clock.Advance(reveal + transition)

	last = h.sender.last(t, "p1")
	assert.Equal(t, "exhausted", last["state"])
	assert.Equal(t, true, last["exhausted"])

	h.settle(t, "p1")
	require.Len(t, h.pub.exhausted, 1)
	assert.Equal(t, "too_few_candidates", h.pub.exhausted[0].Reason)
	assert.Equal(t, 2, h.pub.exhausted[0].Rounds)
	assert.Equal(t, []string{left}, h.pub.exhausted[0].Remaining)

	assert.Equal(t, []arena.State{
		arena.StateAwaitingPick,
		arena.StateRevealingChoice,
		arena.StateTransitioning,
		arena.StateAwaitingPick,
		arena.StateRevealingChoice,
		arena.StateTransitioning,
		arena.StateExhausted,
	}, h.sessions.saved["p1"])
}

func TestPick_IgnoredDuringReveal(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", ""))

	require.NoError(t, h.svc.Pick(ctx, "p1", "left"))
	sent := len(h.sender.decoded(t, "p1"))

	require.NoError(t, h.svc.Pick(ctx, "p1", "right"))
	assert.Len(t, h.sender.decoded(t, "p1"), sent, "ignored pick sends nothing")
	h.settle(t, "p1")
	assert.Len(t, h.pub.picks, 1)

	snap, err := h.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Round)
}

func TestPick_InvalidSide(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", ""))

	require.NoError(t, h.svc.Pick(ctx, "p1", "up"))

	last := h.sender.last(t, "p1")
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "invalid_side", last["code"])

	snap, err := h.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, arena.StateAwaitingPick, snap.State)
}

func TestPick_UnknownPlayer(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b"), nil)

	err := h.svc.Pick(context.Background(), "ghost", "left")
	assert.ErrorIs(t, err, ErrUnknownPlayer)

	last := h.sender.last(t, "ghost")
	assert.Equal(t, "no_session", last["code"])
}

func TestPick_RateLimitedThenBanned(t *testing.T) {
	banner := &fakeBanner{banOnCount: 2}
	h := newHarness(t, testRoster(t, "a", "b", "c"), func(d *Deps) {
		d.Limiter = &fakeLimiter{deny: map[string]bool{"pick": true}}
		d.Bans = banner
	})
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", "10.0.0.9"))

	require.NoError(t, h.svc.Pick(ctx, "p1", "left"))
	last := h.sender.last(t, "p1")
	assert.Equal(t, "rate_limited", last["type"])
	assert.Equal(t, "pick", last["action"])
	assert.Equal(t, float64(7), last["retry_after"])
	assert.Empty(t, h.sender.disconnected)

	snap, err := h.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, arena.StateAwaitingPick, snap.State, "throttled pick must not apply")

	require.NoError(t, h.svc.Pick(ctx, "p1", "left"))
	last = h.sender.last(t, "p1")
	assert.Equal(t, "banned", last["type"])
	assert.Equal(t, float64(900), last["duration"])
	assert.Equal(t, "rate_limit_pick", last["reason"])
	assert.Equal(t, []string{"p1"}, h.sender.disconnected)
}

func TestReset_KeepsRosterUntilReload(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", ""))

	require.NoError(t, h.svc.Pick(ctx, "p1", "right"))
	require.NoError(t, h.svc.Reset(ctx, "p1"))

	last := h.sender.last(t, "p1")
	assert.Equal(t, "awaiting_pick", last["state"])
	assert.Equal(t, float64(3), last["pool_size"])
	assert.Equal(t, float64(0), last["round"])

	// Timers from the abandoned reveal must not fire into the new session.
	h.clock.Advance(reveal + transition)
	assert.Equal(t, "awaiting_pick", h.sender.last(t, "p1")["state"])

	fresh := testRoster(t, "w", "x", "y", "z")
	h.svc.ReloadRoster(fresh)
	assert.Same(t, fresh, h.svc.Roster())

	// The running session still uses the roster it started with.
	require.NoError(t, h.svc.Pick(ctx, "p1", "left"))
	h.settle(t, "p1")
	require.Len(t, h.pub.picks, 2)
	assert.Contains(t, []string{"a", "b", "c"}, h.pub.picks[1].Winner)

	require.NoError(t, h.svc.Reset(ctx, "p1"))
	last = h.sender.last(t, "p1")
	assert.Equal(t, float64(4), last["pool_size"])
	left, right := pairIDs(last)
	assert.Subset(t, []string{"w", "x", "y", "z"}, []string{left, right})
	assert.Equal(t, "Name "+left, last["pair"].(map[string]interface{})["left"].(map[string]interface{})["name"])
}

func TestLeave(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", ""))
	require.NoError(t, h.svc.Pick(ctx, "p1", "left"))

	h.svc.Leave(ctx, "p1")
	sent := len(h.sender.decoded(t, "p1"))

	h.clock.Advance(reveal + transition)
	assert.Len(t, h.sender.decoded(t, "p1"), sent, "no frames after leaving")

	assert.Equal(t, []string{"p1"}, h.sessions.deleted)
	assert.Equal(t, 0, h.svc.Players())
	assert.ErrorIs(t, h.svc.Pick(ctx, "p1", "left"), ErrUnknownPlayer)
	assert.ErrorIs(t, h.svc.Reset(ctx, "p1"), ErrUnknownPlayer)

	h.svc.Leave(ctx, "p1") // no-op
	assert.Len(t, h.sessions.deleted, 1)
}

func TestPick_SlowStoreDoesNotStallSession(t *testing.T) {
	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	h := newHarness(t, testRoster(t, "a", "b", "c"), nil)
	t.Cleanup(release)
	h.sessions.gate = gate
	ctx := context.Background()
	require.NoError(t, h.svc.Join(ctx, "p1", ""))

	picked := make(chan error, 1)
	go func() { picked <- h.svc.Pick(ctx, "p1", "left") }()
	select {
	case err := <-picked:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pick waited on the session store")
	}

	snap, err := h.svc.Snapshot("p1")
	require.NoError(t, err)
	assert.Equal(t, arena.StateRevealingChoice, snap.State)

	h.clock.Advance(reveal + transition)
	assert.Equal(t, "awaiting_pick", h.sender.last(t, "p1")["state"])
	assert.Empty(t, h.sessions.savedStates("p1"), "saves are still held")

	release()
	h.settle(t, "p1")
	assert.Equal(t, []arena.State{
		arena.StateAwaitingPick,
		arena.StateRevealingChoice,
		arena.StateTransitioning,
		arena.StateAwaitingPick,
	}, h.sessions.savedStates("p1"))
	require.Len(t, h.pub.picks, 1)
}

func TestSync_UnknownPlayer(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b"), nil)
	assert.ErrorIs(t, h.svc.Sync(context.Background(), "ghost"), ErrUnknownPlayer)
	assert.Empty(t, h.sender.decoded(t, "ghost"))
}

func TestAdmit(t *testing.T) {
	banner := &fakeBanner{banned: map[string]bool{"6.6.6.6": true}}
	h := newHarness(t, testRoster(t, "a", "b"), func(d *Deps) {
		d.Bans = banner
		d.Limiter = &fakeLimiter{deny: map[string]bool{}}
	})
	ctx := context.Background()

	assert.Nil(t, h.svc.Admit(ctx, "1.1.1.1"))
	assert.Contains(t, string(h.svc.Admit(ctx, "6.6.6.6")), `"type":"banned"`)

	h.svc.deps.Limiter = &fakeLimiter{deny: map[string]bool{"connect": true}}
	frame := string(h.svc.Admit(ctx, "1.1.1.1"))
	assert.Contains(t, frame, `"type":"rate_limited"`)
	assert.Contains(t, frame, `"action":"connect"`)
	assert.Equal(t, 1, banner.violations)
}

func TestAdmit_NoStores(t *testing.T) {
	h := newHarness(t, testRoster(t, "a", "b"), nil)
	assert.Nil(t, h.svc.Admit(context.Background(), "1.1.1.1"))
}

func TestStateFrame_Golden(t *testing.T) {
	roster, _ := profile.NewRoster([]profile.Profile{
		{ID: "person1", Name: "Alex", ImageURL: "https://i.pravatar.cc/300?img=2",
			Genres: []string{"Pop", "Rock", "Electronic", "Jazz"}, Artists: []string{"Artist 1", "Artist 2"}},
		{ID: "person2", Name: "Sam", ImageURL: "https://i.pravatar.cc/300?img=3",
			Genres: []string{"Hip-Hop"}, Artists: nil},
	})

	got := StateFrame(roster, arena.Snapshot{
		State:    arena.StateAwaitingPick,
		Pair:     &arena.Pair{Left: "person1", Right: "person2"},
		PoolSize: 2,
		Shown:    1,
		Attempts: 1,
	})

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "state_frame", got)
}
