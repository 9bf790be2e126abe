// Package metrics provides Prometheus instrumentation for the arena server:
// connection and session gauges, pick and exhaustion counters, and
// distributions of sampler effort and session length.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arena_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// ActiveSessions tracks players with a live elimination session.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arena_active_sessions",
		Help: "Current number of live elimination sessions",
	})

	// PicksTotal counts accepted picks.
	PicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_picks_total",
		Help: "Total number of accepted picks",
	})

	// IgnoredPicksTotal counts picks dropped because no pair was awaiting a
	// choice.
	IgnoredPicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arena_ignored_picks_total",
		Help: "Picks received outside the awaiting_pick state",
	})

	// ExhaustionsTotal counts sessions reaching the exhausted state, labeled
	// by reason: "too_few_candidates" or "no_unseen_pair".
	ExhaustionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_exhaustions_total",
		Help: "Sessions that ran out of pairs",
	}, []string{"reason"})

	// SamplerAttempts records how many draws each pair sample took.
	SamplerAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_sampler_attempts",
		Help:    "Random draws needed per pair sample",
		Buckets: []float64{1, 2, 3, 5, 8, 12, 15, 30},
	})

	// RoundsPerSession records the number of picks a session saw before it
	// was exhausted, reset, or abandoned.
	RoundsPerSession = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_rounds_per_session",
		Help:    "Picks made per session",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
	})

	// RateLimitedTotal counts actions rejected by a rate limit, labeled by
	// action.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_rate_limited_total",
		Help: "Actions rejected by rate limiting",
	}, []string{"action"})

	// EvictionsTotal counts connections dropped by the heartbeat sweep,
	// labeled "idle" (no traffic past the deadline) or "ping" (ping write
	// failed).
	EvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_heartbeat_evictions_total",
		Help: "Connections closed by the heartbeat sweep",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ActiveSessions,
		PicksTotal,
		IgnoredPicksTotal,
		ExhaustionsTotal,
		SamplerAttempts,
		RoundsPerSession,
		RateLimitedTotal,
		EvictionsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
