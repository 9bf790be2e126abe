package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one player's socket. Its ID doubles as the player's session
// id in the game service.
type Connection struct {
	ID         string
	Conn       net.Conn
	RemoteAddr string // client IP, used for connect limits and bans
	CreatedAt  time.Time

	lastSeen     atomic.Int64 // unix nanos of the last frame received
	writeMu      sync.Mutex
	writeTimeout time.Duration
	processing   int32 // 1 while a worker is reading a frame
}

func newConnection(id string, conn net.Conn, remote string, writeTimeout time.Duration) *Connection {
	now := time.Now()
	c := &Connection{
		ID:           id,
		Conn:         conn,
		RemoteAddr:   remote,
		CreatedAt:    now,
		writeTimeout: writeTimeout,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Touch records activity on the connection.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the connection last showed activity.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// WriteMessage sends a text frame.
func (c *Connection) WriteMessage(data []byte) error {
	return c.write(func() error {
		return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
	})
}

// write runs fn under the write lock with the write deadline set.
func (c *Connection) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return fn()
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager indexes live connections by id, for sends from the game
// service, and by net.Conn, for frames reported by the poller.
type ConnectionManager struct {
	mu     sync.RWMutex
	byID   map[string]*Connection
	byConn map[net.Conn]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:   make(map[string]*Connection),
		byConn: make(map[net.Conn]*Connection),
	}
}

// Add registers a connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byConn[conn.Conn] = conn
	cm.mu.Unlock()
}

// Remove unregisters the connection with the given session ID and closes it.
// It returns false if the connection was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byConn, conn.Conn)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given session ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection wrapping c, or nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	cm.mu.RLock()
	conn := cm.byConn[c]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
