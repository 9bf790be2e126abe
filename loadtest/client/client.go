// Package client provides a WebSocket load test client for the arena server.
// It connects with gobwas/ws (the same library the server uses), records the
// session id from session_created, keeps the latest state frame, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tunematch/arena/internal/protocol"
)

// ErrClosed is returned by waits that end because the connection went away.
var ErrClosed = errors.New("client: connection closed")

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Card is the part of a profile card the load test looks at.
type Card struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is a decoded state frame.
type State struct {
	State string `json:"state"`
	Pair  *struct {
		Left  Card `json:"left"`
		Right Card `json:"right"`
	} `json:"pair"`
	Chosen     string `json:"chosen"`
	Eliminated string `json:"eliminated"`
	PoolSize   int    `json:"pool_size"`
	Shown      int    `json:"shown"`
	Round      int    `json:"round"`
	Exhausted  bool   `json:"exhausted"`
	Reason     string `json:"reason"`
}

// Client is one simulated player. It dispatches incoming frames to
// registered handlers and remembers the latest state.
type Client struct {
	conn   net.Conn
	rw     io.ReadWriter // reads through the handshake buffer when there is one

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	state     *State
	stateSeq  int // state frames received
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	changed   chan struct{} // closed and replaced on every update

	done      chan struct{}
	closeOnce sync.Once
	start     time.Time
}

// New connects to url and starts the read loop.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		rw:       conn,
		handlers: make(map[string]func(json.RawMessage)),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
		start:    start,
	}
	if br != nil {
		// The server may send frames together with the handshake response.
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()
	return c, nil
}

// Send writes a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Pick chooses "left" or "right".
func (c *Client) Pick(side string) error {
	return c.Send(protocol.PickMsg{Type: protocol.TypePick, Side: side})
}

// Reset restarts the session.
func (c *Client) Reset() error {
	return c.Send(protocol.ResetMsg{Type: protocol.TypeReset})
}

// Restart sends a reset and waits for the first state frame that follows it.
func (c *Client) Restart(ctx context.Context) (State, error) {
	c.mu.Lock()
	seq := c.stateSeq
	c.mu.Unlock()

	if err := c.Reset(); err != nil {
		return State{}, err
	}

	var got State
	err := c.wait(ctx, func() bool {
		if c.stateSeq <= seq {
			return false
		}
		got = *c.state
		return true
	})
	return got, err
}

// On registers a handler for a server message type, replacing any previous
// one. Handlers run on the read loop and should not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// WaitForSession blocks until session_created has arrived.
func (c *Client) WaitForSession(ctx context.Context) error {
	return c.wait(ctx, func() bool { return c.sessionID != "" })
}

// WaitForState blocks until the latest state satisfies match and returns it.
func (c *Client) WaitForState(ctx context.Context, match func(State) bool) (State, error) {
	var got State
	err := c.wait(ctx, func() bool {
		if c.state == nil || !match(*c.state) {
			return false
		}
		got = *c.state
		return true
	})
	return got, err
}

// wait evaluates cond under c.mu after every update.
func (c *Client) wait(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		ok := cond()
		changed := c.changed
		c.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		case <-changed:
		}
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// SessionID returns the id assigned by the server, or "" before
// session_created.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		data, err := wsutil.ReadServerText(c.rw)
		if err != nil {
			select {
			case <-c.done:
				// Closed on purpose; not an error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var envelope struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	c.mu.Lock()
	if c.metrics.MessagesReceived == 0 {
		c.metrics.FirstMsgLatency = time.Since(c.start)
	}
	c.metrics.MessagesReceived++

	switch envelope.Type {
	case protocol.TypeSessionCreated:
		c.sessionID = envelope.SessionID
	case protocol.TypeState:
		var st State
		if err := json.Unmarshal(data, &st); err == nil {
			c.state = &st
			c.stateSeq++
		}
	case protocol.TypeError:
		c.metrics.Errors++
	}
	handler := c.handlers[envelope.Type]

	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	if handler != nil {
		handler(json.RawMessage(data))
	}
}
