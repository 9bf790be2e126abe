// Package arena implements the pairwise elimination engine behind the "who
// matches your taste" screen. A session owns a pool of candidate ids and a
// history of pairs already shown; it offers two candidates at a time, removes
// the one the user did not pick, and declares the session exhausted once no
// unseen pair can be offered.
package arena

import "errors"

// Side identifies one half of the displayed pair.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Valid reports whether s names one of the two displayed slots.
func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// State is the controller's position in the pick/reveal/transition cycle.
type State string

const (
	StateIdle            State = "idle"             // before Start
	StateAwaitingPick    State = "awaiting_pick"    // pair displayed, waiting for input
	StateRevealingChoice State = "revealing_choice" // winner detail shown, picks ignored
	StateTransitioning   State = "transitioning"    // detail cleared, picks ignored
	StateExhausted       State = "exhausted"        // terminal until Reset
)

// ExhaustionReason explains why a session ran out of pairs.
type ExhaustionReason string

const (
	ReasonNone             ExhaustionReason = ""
	ReasonTooFewCandidates ExhaustionReason = "too_few_candidates"
	ReasonNoUnseenPair     ExhaustionReason = "no_unseen_pair"
)

// Pair is the two candidate ids currently offered to the user.
type Pair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Get returns the id displayed on the given side.
func (p Pair) Get(side Side) string {
	if side == SideLeft {
		return p.Left
	}
	return p.Right
}

// Other returns the id on the opposite side.
func (p Pair) Other(side Side) string {
	if side == SideLeft {
		return p.Right
	}
	return p.Left
}

var (
	// ErrInvalidCandidate is returned by Start when an id is empty or repeated.
	ErrInvalidCandidate = errors.New("arena: invalid candidate id")

	// ErrTooFewCandidates is returned by Start when fewer than two ids are
	// supplied. The controller is left exhausted.
	ErrTooFewCandidates = errors.New("arena: at least two candidates are required")

	// ErrNotStarted is returned when a pick or reset arrives before Start.
	ErrNotStarted = errors.New("arena: session not started")

	// ErrInvalidSide is returned for a pick that names neither left nor right.
	ErrInvalidSide = errors.New("arena: invalid side")
)
