package arena

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	var c ManualClock
	var got []string

	c.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	c.AfterFunc(time.Second, func() { got = append(got, "a") })
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, got)

	c.Advance(10 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 0, c.Pending())
}

func TestManualClock_StopAndChaining(t *testing.T) {
	var c ManualClock
	fired := 0

	stopped := c.AfterFunc(time.Second, func() { fired += 100 })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.AfterFunc(time.Second, func() {
		fired++
		c.AfterFunc(time.Second, func() { fired++ })
	})

	c.Advance(2 * time.Second)
	assert.Equal(t, 2, fired)
}

func TestManualClock_DrivesController(t *testing.T) {
	clock := &ManualClock{}
	c := NewController(Config{Scheduler: clock, Rand: seeded(5)})
	defer c.Close()

	ids := []string{"a", "b", "c", "d"}
	if err := c.Start(ids); err != nil {
		t.Fatal(err)
	}
	for c.Snapshot().State == StateAwaitingPick {
		_, err := c.Pick(SideRight)
		assert.NoError(t, err)
		clock.Advance(DefaultRevealDuration + DefaultTransitionDuration)
	}

	snap := c.Snapshot()
	assert.Equal(t, StateExhausted, snap.State)
	assert.LessOrEqual(t, snap.Round, len(ids)-1)
}
