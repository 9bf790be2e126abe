package messaging

// PickEvent is published to arena.pick after every accepted pick.
type PickEvent struct {
	Session  string `json:"session"`
	Server   string `json:"server"`
	Winner   string `json:"winner"`
	Loser    string `json:"loser"`
	Round    int    `json:"round"`
	PoolSize int    `json:"pool_size"` // after the loser was removed
	Ts       int64  `json:"ts"`        // unix milliseconds
}

// ExhaustedEvent is published to arena.exhausted when a session runs out of
// pairs.
type ExhaustedEvent struct {
	Session   string   `json:"session"`
	Server    string   `json:"server"`
	Reason    string   `json:"reason"`
	Rounds    int      `json:"rounds"`
	Remaining []string `json:"remaining"` // ids left in the pool
	Ts        int64    `json:"ts"`
}

// RosterReloadEvent asks servers to reload profiles from the database.
type RosterReloadEvent struct {
	RequestedBy string `json:"requested_by,omitempty"`
	Ts          int64  `json:"ts"`
}
