package client

import (
	"context"
	"fmt"
	"time"

	"github.com/tunematch/arena/internal/arena"
)

// Result describes one session played to exhaustion.
type Result struct {
	Rounds     int
	Reason     string
	Violations int // offered pairs containing an already eliminated profile
	Latencies  []time.Duration
}

func isTurn(round int) func(State) bool {
	return func(s State) bool {
		if s.Exhausted {
			return true
		}
		return s.State == string(arena.StateAwaitingPick) && s.Round >= round
	}
}

// Play picks sides chosen by side until the server reports the session
// exhausted. Every pick is timed from send until its reveal arrives.
func (c *Client) Play(ctx context.Context, side func() string) (Result, error) {
	var res Result
	eliminated := make(map[string]bool)

	st, err := c.WaitForState(ctx, isTurn(0))
	if err != nil {
		return res, fmt.Errorf("first pair: %w", err)
	}

	for !st.Exhausted {
		if st.Pair == nil {
			return res, fmt.Errorf("round %d: awaiting pick without a pair", st.Round)
		}
		if eliminated[st.Pair.Left.ID] || eliminated[st.Pair.Right.ID] {
			res.Violations++
		}

		round := st.Round
		sent := time.Now()
		if err := c.Pick(side()); err != nil {
			return res, fmt.Errorf("pick: %w", err)
		}

		reveal, err := c.WaitForState(ctx, func(s State) bool { return s.Round > round })
		if err != nil {
			return res, fmt.Errorf("round %d: waiting for reveal: %w", round+1, err)
		}
		res.Latencies = append(res.Latencies, time.Since(sent))
		if reveal.Eliminated != "" {
			eliminated[reveal.Eliminated] = true
		}

		st, err = c.WaitForState(ctx, isTurn(reveal.Round))
		if err != nil {
			return res, fmt.Errorf("round %d: waiting for next pair: %w", reveal.Round, err)
		}
	}

	res.Rounds = st.Round
	res.Reason = st.Reason
	return res, nil
}

// Sides alternates between left and right.
func Sides() func() string {
	n := 0
	return func() string {
		n++
		if n%2 == 0 {
			return string(arena.SideRight)
		}
		return string(arena.SideLeft)
	}
}
