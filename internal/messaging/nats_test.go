package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, nil)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPickEventsReachSubscribers(t *testing.T) {
	c := newTestClient(t)

	type received struct {
		subject string
		data    []byte
	}
	got := make(chan received, 2)
	require.NoError(t, c.SubscribeEvents(func(subject string, data []byte) {
		got <- received{subject, data}
	}))
	require.NoError(t, c.conn.Flush())

	require.NoError(t, c.PublishPick(PickEvent{Session: "s1", Winner: "a", Loser: "b", Round: 1, PoolSize: 2}))
	require.NoError(t, c.PublishExhausted(ExhaustedEvent{Session: "s1", Reason: "too_few_candidates", Rounds: 2}))

	seen := map[string][]byte{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-got:
			seen[r.subject] = r.data
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	var pick PickEvent
	require.NoError(t, json.Unmarshal(seen[SubjectPick], &pick))
	assert.Equal(t, "b", pick.Loser)

	var ex ExhaustedEvent
	require.NoError(t, json.Unmarshal(seen[SubjectExhausted], &ex))
	assert.Equal(t, 2, ex.Rounds)
}

func TestRosterReloadRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan RosterReloadEvent, 1)
	require.NoError(t, c.SubscribeRosterReload(func(ev RosterReloadEvent) { got <- ev }))
	require.NoError(t, c.conn.Flush())

	// Malformed payloads are dropped without reaching the handler.
	require.NoError(t, c.Publish(SubjectRosterReload, []byte("{")))
	require.NoError(t, c.PublishRosterReload(RosterReloadEvent{RequestedBy: "ops", Ts: 42}))

	select {
	case ev := <-got:
		assert.Equal(t, "ops", ev.RequestedBy)
		assert.Equal(t, int64(42), ev.Ts)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.Unsubscribe("arena.nothing"))
}
