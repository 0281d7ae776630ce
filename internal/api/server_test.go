package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/cmdgate/internal/archive"
	"github.com/JakeFAU/cmdgate/internal/dispatcher"
	"github.com/JakeFAU/cmdgate/internal/progress"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}), "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestReadyzFollowsPool(t *testing.T) {
	t.Parallel()

	pool := &fakePool{running: true}
	server := NewServer(Deps{Pool: pool})
	require.Equal(t, http.StatusOK, serve(t, server, "/readyz", "").Code)

	pool.running = false
	require.Equal(t, http.StatusServiceUnavailable, serve(t, server, "/readyz", "").Code)

	require.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(Deps{}), "/readyz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Deps{}), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListCommands(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{Commands: fakeCommands{"pause": 1, "play": 2}})
	rec := serve(t, server, "/v1/commands", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"commands":[{"name":"pause","subscribers":1},{"name":"play","subscribers":2}]}`,
		rec.Body.String())

	rec = serve(t, NewServer(Deps{}), "/v1/commands", "")
	require.JSONEq(t, `{"commands":[]}`, rec.Body.String())
}

func TestPoolStats(t *testing.T) {
	t.Parallel()

	pool := &fakePool{running: true, stats: dispatcher.Stats{Running: true, Capacity: 5, Idle: 4, Busy: 1, Workers: 5, Served: 9}}
	rec := serve(t, NewServer(Deps{Pool: pool}), "/v1/pool", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got dispatcher.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, pool.stats, got)

	require.Equal(t, http.StatusServiceUnavailable, serve(t, NewServer(Deps{}), "/v1/pool", "").Code)
}

func TestListRequests(t *testing.T) {
	t.Parallel()

	id := [16]byte{1, 2, 3}
	log := fakeRequests{{
		RequestID: id,
		TS:        time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC),
		Stage:     progress.StageRequestDone,
		Method:    "GET",
		Command:   "play",
		Status:    200,
		Delivered: 2,
		Dur:       1500 * time.Microsecond,
	}}
	rec := serve(t, NewServer(Deps{Requests: log}), "/v1/requests", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Requests []RequestInfo `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Requests, 1)
	got := body.Requests[0]
	require.Equal(t, "01020300-0000-0000-0000-000000000000", got.ID)
	require.Equal(t, "REQUEST_DONE", got.Stage)
	require.Equal(t, "play", got.Command)
	require.Equal(t, 2, got.Delivered)
	require.InDelta(t, 1.5, got.DurationMs, 0.0001)

	require.Equal(t, http.StatusNotFound, serve(t, NewServer(Deps{}), "/v1/requests", "").Code)
}

func TestListLookups(t *testing.T) {
	t.Parallel()

	lookups := fakeLookups{{URL: "http://example.com/", CrawlID: "c1"}}
	rec := serve(t, NewServer(Deps{Lookups: lookups}), "/v1/lookups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"crawl_id":"c1"`)

	require.Equal(t, http.StatusNotFound, serve(t, NewServer(Deps{}), "/v1/lookups", "").Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(Deps{APIKey: "secret", Commands: fakeCommands{}})

	require.Equal(t, http.StatusForbidden, serve(t, server, "/v1/commands", "").Code)
	require.Equal(t, http.StatusForbidden, serve(t, server, "/v1/commands", "wrong").Code)
	require.Equal(t, http.StatusOK, serve(t, server, "/v1/commands", "secret").Code)
	require.Equal(t, http.StatusOK, serve(t, server, "/v1/commands?api_key=secret", "").Code)
	require.Equal(t, http.StatusOK, serve(t, server, "/healthz", "").Code, "probes stay open")
}

func TestRecoverMiddlewareLogsPanics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(Deps{Logger: zap.New(core)})
	handler := requestIDMiddleware(server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	require.Equal(t, rec.Header().Get(RequestIDHeader), entries[0].ContextMap()["request_id"])
}

func TestLoggingMiddlewareRecordsStatus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	server := NewServer(Deps{Logger: zap.New(core)})
	serve(t, server, "/readyz", "")

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(http.StatusServiceUnavailable), entries[0].ContextMap()["status"])
	require.Equal(t, "/readyz", entries[0].ContextMap()["path"])
}

// --- helpers/fakes ---

func serve(t *testing.T, server *Server, target, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakePool struct {
	running bool
	stats   dispatcher.Stats
}

func (p *fakePool) Running() bool           { return p.running }
func (p *fakePool) Stats() dispatcher.Stats { return p.stats }

type fakeCommands map[string]int

func (c fakeCommands) Names() []string {
	names := make([]string, 0, len(c))
	for _, n := range []string{"pause", "play"} {
		if _, ok := c[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

func (c fakeCommands) Count(name string) int { return c[name] }

type fakeRequests []progress.Event

func (r fakeRequests) Events() []progress.Event { return r }

type fakeLookups []archive.Lookup

func (l fakeLookups) Recent() []archive.Lookup { return l }
