package game

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tunematch/arena/internal/arena"
	"github.com/tunematch/arena/internal/messaging"
	"github.com/tunematch/arena/internal/profile"
	"github.com/tunematch/arena/internal/ratelimit"
)

// fixedRand replays seq, reduced modulo n.
type fixedRand struct {
	seq []int
	pos int
}

func (r *fixedRand) IntN(n int) int {
	v := r.seq[r.pos%len(r.seq)] % n
	r.pos++
	return v
}

type fakeSender struct {
	mu           sync.Mutex
	frames       map[string][][]byte
	disconnected []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][][]byte)}
}

func (f *fakeSender) SendMessage(id string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[id] = append(f.frames[id], data)
	return nil
}

func (f *fakeSender) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
	return nil
}

// decoded returns every frame sent to id as a generic JSON object.
func (f *fakeSender) decoded(t *testing.T, id string) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.frames[id]))
	for _, raw := range f.frames[id] {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeSender) last(t *testing.T, id string) map[string]interface{} {
	t.Helper()
	frames := f.decoded(t, id)
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

func (f *fakeSender) types(t *testing.T, id string) []string {
	t.Helper()
	var out []string
	for _, m := range f.decoded(t, id) {
		typ := m["type"].(string)
		if typ == "state" {
			typ += ":" + m["state"].(string)
		}
		out = append(out, typ)
	}
	return out
}

type fakePublisher struct {
	mu        sync.Mutex
	picks     []messaging.PickEvent
	exhausted []messaging.ExhaustedEvent
}

func (f *fakePublisher) PublishPick(ev messaging.PickEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picks = append(f.picks, ev)
	return nil
}

func (f *fakePublisher) PublishExhausted(ev messaging.ExhaustedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhausted = append(f.exhausted, ev)
	return nil
}

type fakeSessions struct {
	gate chan struct{} // when set, Save waits for it to close

	mu      sync.Mutex
	created []string
	saved   map[string][]arena.State
	deleted []string
}

func (f *fakeSessions) Create(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, id)
	return nil
}

func (f *fakeSessions) Save(_ context.Context, id string, snap arena.Snapshot) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]arena.State)
	}
	f.saved[id] = append(f.saved[id], snap.State)
	return nil
}

func (f *fakeSessions) savedStates(id string) []arena.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]arena.State(nil), f.saved[id]...)
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

// fakeLimiter denies every rule listed in deny.
type fakeLimiter struct {
	deny map[string]bool
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, rule ratelimit.Rule) (bool, error) {
	return !f.deny[rule.Name], nil
}

func (f *fakeLimiter) RetryAfter(context.Context, string, ratelimit.Rule) int { return 7 }

type fakeBanner struct {
	mu         sync.Mutex
	banned     map[string]bool
	banOnCount int // RecordViolation bans once it has been called this often
	violations int
}

func (f *fakeBanner) IsBanned(_ context.Context, addr string) (bool, int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banned[addr] {
		return true, 900, "rate_limit_pick", nil
	}
	return false, 0, "", nil
}

func (f *fakeBanner) RecordViolation(_ context.Context, addr, _ string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations++
	if f.banOnCount > 0 && f.violations >= f.banOnCount {
		return true, 15 * time.Minute, nil
	}
	return false, 0, nil
}

func testRoster(t *testing.T, ids ...string) *profile.Roster {
	t.Helper()
	profiles := make([]profile.Profile, 0, len(ids))
	for _, id := range ids {
		profiles = append(profiles, profile.Profile{
			ID:      id,
			Name:    "Name " + id,
			Genres:  []string{"Pop", "Rock", "Jazz", "Folk"},
			Artists: []string{"Artist " + id},
		})
	}
	r, skipped := profile.NewRoster(profiles)
	require.Empty(t, skipped)
	return r
}
