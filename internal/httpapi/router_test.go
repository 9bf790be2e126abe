package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunematch/arena/internal/profile"
	"github.com/tunematch/arena/internal/ws"
)

type fakeStatus struct{}

func (fakeStatus) Connections() int      { return 3 }
func (fakeStatus) Players() int          { return 2 }
func (fakeStatus) Uptime() time.Duration { return 90 * time.Second }

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	roster, skipped := profile.NewRoster([]profile.Profile{
		{ID: "person1", Name: "Alex", Genres: []string{"Pop", "Rock", "Jazz", "Folk"}},
		{ID: "person2", Name: "Sam"},
	})
	require.Empty(t, skipped)

	upgrade := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return NewRouter(Deps{
		WS:     upgrade,
		Status: fakeStatus{},
		Roster: func() *profile.Roster { return roster },
	})
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, HealthResponse{
		Status:      "ok",
		Connections: 3,
		Players:     2,
		Profiles:    2,
		Uptime:      "1m30s",
	}, body)
}

func TestRoster_Plain(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/roster", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	var body RosterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "person1", body.Profiles[0].ID)
	assert.Len(t, body.Profiles[0].Genres, profile.CardGenres)
}

func TestRoster_Gzip(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/roster", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var body RosterResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "Sam", body.Profiles[1].Name)
}

func TestMetricsAndWSAreMounted(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "arena_picks_total")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHealth_NoSources(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	NewRouter(Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientIP_ForwardingHeaders(t *testing.T) {
	cases := []struct {
		name       string
		trustProxy bool
		want       []string
	}{
		{"ignored by default", false, []string{"203.0.113.7", "203.0.113.7", "203.0.113.7"}},
		{"honored behind a proxy", true, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen []string
			router := NewRouter(Deps{
				WS: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					seen = append(seen, ws.ClientIP(r))
				}),
				TrustProxy: tc.trustProxy,
			})

			for i := 1; i <= 3; i++ {
				req := httptest.NewRequest(http.MethodGet, "/ws", nil)
				req.RemoteAddr = "203.0.113.7:51000"
				req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.0.%d", i))
				router.ServeHTTP(httptest.NewRecorder(), req)
			}
			assert.Equal(t, tc.want, seen)
		})
	}
}
