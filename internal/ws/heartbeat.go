package ws

import (
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/metrics"
)

// HeartbeatConfig controls the idle sweep. A player who sends nothing is
// still answering pings, so only a dead socket stays silent past
// Interval+Timeout.
type HeartbeatConfig struct {
	Interval time.Duration // between sweeps
	Timeout  time.Duration // grace after a missed interval
}

// DefaultHeartbeatConfig pings every 30s and evicts after 40s of silence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// idleLimit is how long a connection may stay silent.
func (hc HeartbeatConfig) idleLimit() time.Duration {
	return hc.Interval + hc.Timeout
}

const (
	evictIdle = "idle"
	evictPing = "ping"
)

// runHeartbeat sweeps on every tick until the server shuts down.
func (s *Server) runHeartbeat() {
	ticker := time.NewTicker(s.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			sweep(s, s.config.Heartbeat, now)
		}
	}
}

// sweep evicts connections silent past the idle limit and pings the rest.
// Clients answer the ping with a pong, which refreshes LastSeen.
func sweep(s *Server, hc HeartbeatConfig, now time.Time) (evicted int) {
	limit := hc.idleLimit()
	for _, c := range s.Connections().All() {
		cause := ""
		if idle := now.Sub(c.LastSeen()); idle > limit {
			cause = evictIdle
		} else if err := c.WritePing(); err != nil {
			cause = evictPing
		}
		if cause == "" {
			continue
		}

		s.log.Info("evicting connection",
			zap.String("session", c.ID),
			zap.String("cause", cause),
			zap.Time("last_seen", c.LastSeen()))
		metrics.EvictionsTotal.WithLabelValues(cause).Inc()
		s.RemoveConnection(c)
		evicted++
	}
	return evicted
}

// WritePing sends a ping frame, serialized with other writes.
func (c *Connection) WritePing() error {
	return c.write(func() error {
		return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
	})
}
