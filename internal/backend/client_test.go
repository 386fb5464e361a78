package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
)

// fakeBackend answers refresh endpoints from a path → handler table.
type fakeBackend struct {
	mu       sync.Mutex
	requests []string
	routes   map[string]http.HandlerFunc
}

func newFakeBackend(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	fb := &fakeBackend{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.requests = append(fb.requests, r.Method+" "+r.URL.EscapedPath())
		fb.mu.Unlock()
		h, ok := fb.routes[r.URL.EscapedPath()]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// updates records every ProgressUpdate a phase reports.
type updates struct {
	mu  sync.Mutex
	got []refresh.ProgressUpdate
}

func (u *updates) report(p refresh.ProgressUpdate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.got = append(u.got, p)
}

func (u *updates) all() []refresh.ProgressUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]refresh.ProgressUpdate(nil), u.got...)
}

func TestPhase_Success(t *testing.T) {
	srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"/admin/people/nm42/refresh/credits": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			writeJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"message":  "Synced 12 credits",
				"current":  12,
				"total":    12,
				"counters": map[string]int{"added": 3, "updated": 9},
			})
		},
	})

	c := New(srv.URL+"/", time.Second, nil)
	ph := c.Phase(config.Phase{ID: "credits", Label: "Credits", Path: "/admin/people/{target}/refresh/credits", TimeoutMs: 2000}, "nm42")
	assert.Equal(t, "credits", ph.ID)
	assert.Equal(t, 2*time.Second, ph.Timeout)

	rec := &updates{}
	out, err := ph.Work(context.Background(), rec.report)
	require.NoError(t, err)
	assert.False(t, out.Skipped)

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, "Requesting Credits", *got[0].Message)
	assert.Equal(t, "Synced 12 credits", *got[1].Message)
	assert.Equal(t, 12, *got[1].Current)
	assert.Equal(t, map[string]int{"added": 3, "updated": 9}, got[1].Counters)
}

func TestPhase_Skipped(t *testing.T) {
	srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"/links": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "message": "no external links"})
		},
		"/bio": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "SKIPPED"})
		},
	})
	c := New(srv.URL, 0, nil)

	report := (&updates{}).report
	out, err := c.Phase(config.Phase{ID: "links", Label: "Links", Path: "/links"}, "x").Work(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, refresh.Skipped("no external links"), out)

	out, err = c.Phase(config.Phase{ID: "bio", Path: "/bio"}, "x").Work(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, refresh.Skipped("bio skipped"), out)
}

func TestPhase_BackendErrors(t *testing.T) {
	srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"/detail": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"detail": "TMDb unavailable"})
		},
		"/plain": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("kaboom"))
		},
		"/soft": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "failed", "error": "person not found"})
		},
	})
	c := New(srv.URL, time.Second, nil)
	report := (&updates{}).report

	tests := []struct {
		path   string
		expect string
	}{
		{path: "/detail", expect: "Photos failed: backend returned 502: TMDb unavailable"},
		{path: "/plain", expect: "Photos failed: backend returned 500: kaboom"},
		{path: "/soft", expect: "Photos failed: person not found"},
		{path: "/missing", expect: "Photos failed: backend returned 404"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := c.Phase(config.Phase{ID: "photos", Label: "Photos", Path: tt.path}, "x").Work(context.Background(), report)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expect)
		})
	}
}

func TestPhase_ContextCancelsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"/slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	t.Cleanup(func() { close(release) })
	c := New(srv.URL, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report := (&updates{}).report
	_, err := c.Phase(config.Phase{ID: "slow", Path: "/slow"}, "x").Work(ctx, report)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPhases_RunThroughOrchestrator(t *testing.T) {
	srv := newFakeBackend(t, map[string]http.HandlerFunc{
		"/people/7/credits": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"message": "done", "current": 4, "total": 4})
		},
		"/people/7/links": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "skipped", "message": "nothing to do"})
		},
	})
	c := New(srv.URL, time.Second, nil)
	profile := config.Profile{Phases: []config.Phase{
		{ID: "credits", Label: "Credits", Path: "/people/{target}/credits", TimeoutMs: 1000},
		{ID: "links", Label: "Links", Path: "/people/{target}/links", TimeoutMs: 1000},
	}}

	states, err := refresh.Run(context.Background(), c.Phases(profile, "7"), nil)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, refresh.StatusCompleted, states[0].Status)
	assert.Equal(t, 4, *states[0].Progress.Total)
	assert.Equal(t, refresh.StatusSkipped, states[1].Status)
	assert.Equal(t, "nothing to do", *states[1].Progress.Message)
}

func TestExpandPath(t *testing.T) {
	assert.Equal(t, "/shows/the%20valley/refresh", ExpandPath("/shows/{target}/refresh", "the valley"))
	assert.Equal(t, "/static", ExpandPath("/static", "ignored"))
}
