// Package httpapi exposes the arena server over HTTP: the WebSocket endpoint,
// health and metrics endpoints, and a read-only view of the loaded roster.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tunematch/arena/internal/metrics"
	"github.com/tunematch/arena/internal/profile"
)

// Status reports live server figures for /health.
type Status interface {
	Connections() int
	Players() int
	Uptime() time.Duration
}

// Deps are the handlers and data sources behind the routes.
type Deps struct {
	WS     http.Handler
	Status Status
	Roster func() *profile.Roster
	Log    *zap.Logger

	// TrustProxy mounts RealIP so X-Forwarded-For and X-Real-IP replace
	// the peer address. Leave it off unless a proxy strips client values.
	TrustProxy bool
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Players     int    `json:"players"`
	Profiles    int    `json:"profiles"`
	Uptime      string `json:"uptime"`
}

// RosterResponse is the /roster body.
type RosterResponse struct {
	Count    int            `json:"count"`
	Profiles []profile.Card `json:"profiles"`
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	log := d.Log.Named("http")

	r := chi.NewRouter()
	if d.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}
	r.Handle("/metrics", metrics.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if d.Status != nil {
			resp.Connections = d.Status.Connections()
			resp.Players = d.Status.Players()
			resp.Uptime = d.Status.Uptime().Round(time.Second).String()
		}
		if d.Roster != nil {
			resp.Profiles = d.Roster().Len()
		}
		writeJSON(w, log, http.StatusOK, resp)
	})

	r.With(Gzip).Get("/roster", func(w http.ResponseWriter, r *http.Request) {
		resp := RosterResponse{Profiles: []profile.Card{}}
		if d.Roster != nil {
			for _, p := range d.Roster().Profiles() {
				resp.Profiles = append(resp.Profiles, p.Card())
			}
		}
		resp.Count = len(resp.Profiles)
		writeJSON(w, log, http.StatusOK, resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("write response failed", zap.Error(err))
	}
}
