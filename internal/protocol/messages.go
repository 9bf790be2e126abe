// Package protocol defines the WebSocket message types exchanged between a
// player's client and the arena server. All messages are JSON objects with a
// "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tunematch/arena/internal/profile"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypePick  = "pick"
	TypeReset = "reset"
	TypePing  = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeState          = "state"
	TypeRateLimited    = "rate_limited"
	TypeBanned         = "banned"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried in ErrorMsg.
const (
	CodeInvalidMessage = "invalid_message"
	CodeInvalidSide    = "invalid_side"
	CodeNoSession      = "no_session"
	CodeInternal       = "internal"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// PickMsg chooses the profile on one side of the displayed pair.
type PickMsg struct {
	Type string `json:"type"`
	Side string `json:"side"` // "left" or "right"
}

// ResetMsg restarts the session with the full roster.
type ResetMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent once the connection is registered.
type SessionCreatedMsg struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	RosterSize int    `json:"roster_size"`
}

// CardPair is the two cards on screen.
type CardPair struct {
	Left  profile.Card `json:"left"`
	Right profile.Card `json:"right"`
}

// StateMsg mirrors the player's session after every change. Pair is null
// while the screen is transitioning or the session is exhausted.
type StateMsg struct {
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Pair       *CardPair `json:"pair"`
	Chosen     string    `json:"chosen,omitempty"`
	Eliminated string    `json:"eliminated,omitempty"`
	PoolSize   int       `json:"pool_size"`
	Shown      int       `json:"shown"`
	Round      int       `json:"round"`
	Exhausted  bool      `json:"exhausted"`
	Reason     string    `json:"reason,omitempty"`
}

// RateLimitedMsg is sent when an action was dropped by a rate limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	Action     string `json:"action"`
	RetryAfter int    `json:"retry_after"`
}

// BannedMsg is sent before closing a connection from a blocked address.
type BannedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"`
	Reason   string `json:"reason"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// Unknown and server-only types are rejected.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypePick:
		var m PickMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReset:
		var m ResetMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage marshals payload and forces its "type" field to msgType.
// Keys in the output are sorted.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// MustServerMessage is NewServerMessage for payloads that cannot fail to
// encode, such as the fixed structs above.
func MustServerMessage(msgType string, payload interface{}) []byte {
	out, err := NewServerMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return out
}

// NewError builds an error frame.
func NewError(code, message string) []byte {
	return MustServerMessage(TypeError, ErrorMsg{Code: code, Message: message})
}
