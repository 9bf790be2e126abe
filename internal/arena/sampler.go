package arena

import (
	"math/rand/v2"
	"time"
)

// DefaultAttemptBudget is the number of random draws the sampler makes before
// giving up on finding an unseen pair.
const DefaultAttemptBudget = 15

// IntN is the source of bounded random integers used by the sampler.
// *rand.Rand satisfies it; tests substitute a scripted sequence.
type IntN interface {
	IntN(n int) int
}

// PairResult is the outcome of one sampling call: either a fresh pair or
// exhaustion.
type PairResult struct {
	Pair      Pair
	Exhausted bool
	Reason    ExhaustionReason
	Attempts  int // draws made, 0 when the pool was too small to try
}

// Sampler draws unseen pairs from a pool using bounded rejection sampling.
type Sampler struct {
	rng    IntN
	budget int
}

// NewSampler creates a sampler. A nil rng gets a PCG generator seeded from the
// wall clock; a non-positive budget falls back to DefaultAttemptBudget.
func NewSampler(rng IntN, budget int) *Sampler {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>32|1))
	}
	if budget <= 0 {
		budget = DefaultAttemptBudget
	}
	return &Sampler{rng: rng, budget: budget}
}

// Budget returns the maximum number of draws per Sample call.
func (s *Sampler) Budget() int {
	return s.budget
}

// Sample returns a pair of distinct ids from pool whose unordered combination
// is not in history, recording it before returning. When the pool holds fewer
// than two ids, or every draw within the budget lands on a shown pair, the
// result is Exhausted.
func (s *Sampler) Sample(pool *Pool, history *History) PairResult {
	n := pool.Size()
	if n < 2 {
		return PairResult{Exhausted: true, Reason: ReasonTooFewCandidates}
	}

	for attempt := 1; attempt <= s.budget; attempt++ {
		i := s.rng.IntN(n)
		j := s.rng.IntN(n)
		for j == i {
			j = s.rng.IntN(n)
		}

		left, right := pool.At(i), pool.At(j)
		if history.HasBeenShown(left, right) {
			continue
		}

		history.Record(left, right)
		return PairResult{Pair: Pair{Left: left, Right: right}, Attempts: attempt}
	}

	return PairResult{Exhausted: true, Reason: ReasonNoUnseenPair, Attempts: s.budget}
}
