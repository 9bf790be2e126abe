// Package ws handles WebSocket connection management: upgrading HTTP
// requests, multiplexing reads over epoll with a bounded worker pool, and
// handing complete frames to the application through callbacks.
package ws

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/metrics"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	MaxMessageSize int64         // largest data frame payload accepted, in bytes
	Heartbeat      HeartbeatConfig
}

// maxControlPayload is the RFC 6455 limit for ping, pong and close payloads.
const maxControlPayload = 125

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Server upgrades HTTP requests to WebSocket, registers the connections with
// an epoll instance, and dispatches ready connections to a bounded worker pool
// for frame reading. It is an http.Handler so it can be mounted on any router.
type Server struct {
	config     ServerConfig
	log        *zap.Logger
	epoll      *Epoll
	conns      *ConnectionManager
	workerPool chan struct{} // semaphore limiting concurrent read workers

	admit        func(r *http.Request) []byte // non-nil result rejects the client with that frame
	onConnect    func(c *Connection)
	onMessage    func(c *Connection, data []byte)
	onDisconnect func(c *Connection)

	done      chan struct{}
	startedAt time.Time
}

// NewServer creates a Server. Call Start before mounting it.
func NewServer(config ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultServerConfig().WorkerPoolSize
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = DefaultServerConfig().MaxMessageSize
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}
	return &Server{
		config:     config,
		log:        log.Named("ws"),
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		done:       make(chan struct{}),
	}
}

// SetAdmit registers a check run before a client is registered. When fn
// returns a frame, the client receives it and is disconnected.
func (s *Server) SetAdmit(fn func(r *http.Request) []byte) { s.admit = fn }

// SetOnConnect registers a callback invoked after a connection is registered.
func (s *Server) SetOnConnect(fn func(c *Connection)) { s.onConnect = fn }

// SetOnMessage registers the callback invoked from a worker goroutine for
// every complete text or binary frame.
func (s *Server) SetOnMessage(fn func(c *Connection, data []byte)) { s.onMessage = fn }

// SetOnDisconnect registers a callback invoked once when a connection is
// removed, whether by read error, heartbeat timeout, or shutdown.
func (s *Server) SetOnDisconnect(fn func(c *Connection)) { s.onDisconnect = fn }

// Start creates the epoll instance and starts the event loop and heartbeat
// in the background.
func (s *Server) Start() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	go s.runHeartbeat()

	s.log.Info("server started",
		zap.Int("workers", s.config.WorkerPoolSize),
		zap.Int("max_conns", s.config.MaxConnections))
	return nil
}

// ServeHTTP upgrades the request to a WebSocket connection and registers it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.epoll == nil {
		http.Error(w, "server not started", http.StatusServiceUnavailable)
		return
	}
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	var reject []byte
	if s.admit != nil {
		reject = s.admit(r)
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	// Clear deadlines inherited from the http.Server.
	_ = conn.SetDeadline(time.Time{})

	if reject != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		_ = wsutil.WriteServerMessage(conn, ws.OpText, reject)
		_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusPolicyViolation, "")))
		conn.Close()
		return
	}

	c := newConnection(uuid.New().String(), conn, ClientIP(r), s.config.WriteTimeout)

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		s.log.Error("epoll add failed", zap.String("session", c.ID), zap.Error(err))
		s.conns.Remove(c.ID)
		return
	}
	metrics.ConnectionsTotal.Inc()

	s.log.Debug("new connection",
		zap.String("session", c.ID),
		zap.String("remote", c.RemoteAddr),
		zap.Int("total", s.conns.Count()))

	if s.onConnect != nil {
		s.onConnect(c)
	}
}

// startEventLoop runs the epoll wait loop. Each ready connection is handed to
// a worker goroutine, bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if !isEINTR(err) {
				s.log.Warn("epoll wait error", zap.Error(err))
			}
			continue
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}
			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads one frame from a ready connection. Control frames are
// handled in place; a read failure removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Level-triggered epoll can report the same connection twice.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer func() {
		atomic.StoreInt32(&c.processing, 0)
		s.epoll.Resume(netConn)
	}()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A timeout means the readiness report was stale; the heartbeat
		// takes care of connections that are really dead.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	limit := s.config.MaxMessageSize
	if header.OpCode.IsControl() {
		limit = maxControlPayload
	}
	if header.Length < 0 || header.Length > limit {
		s.log.Warn("frame too large",
			zap.String("session", c.ID),
			zap.Int64("length", header.Length),
			zap.Int64("limit", limit))
		s.RemoveConnection(c)
		return
	}
	c.Touch()

	if header.OpCode.IsControl() {
		// Control payloads are at most 125 bytes and must be drained so the
		// next read starts on a frame boundary.
		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			s.RemoveConnection(c)
			return
		}
		switch header.OpCode {
		case ws.OpClose:
			s.RemoveConnection(c)
		case ws.OpPing:
			err := c.write(func() error {
				return ws.WriteFrame(c.Conn, ws.NewPongFrame(payload))
			})
			if err != nil {
				s.RemoveConnection(c)
			}
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection unregisters and closes c. Concurrent calls for the same
// connection run the disconnect callback once.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.epoll.Remove(c.Conn)

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.log.Debug("connection closed", zap.String("session", c.ID), zap.Int("total", s.conns.Count()))
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	return c.WriteMessage(data)
}

// Disconnect closes the connection identified by connID, running the
// disconnect callback.
func (s *Server) Disconnect(connID string) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	s.RemoveConnection(c)
	return nil
}

// Connections returns the connection registry.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Uptime returns the time since Start.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Shutdown stops the event loop and heartbeat and closes every connection,
// running the disconnect callback for each.
func (s *Server) Shutdown() error {
	s.log.Info("shutting down")

	close(s.done)

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.log.Info("server stopped")
	return nil
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// only reflected here when the router mounts chi's RealIP middleware, which
// rewrites RemoteAddr to a bare address that is returned as is.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
