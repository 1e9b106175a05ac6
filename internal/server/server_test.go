package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/patchlings/patchlings/internal/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(engine.Options{
		WorkspaceRoot:      "/ws",
		Storage:            "memory",
		Threshold:          3,
		FixedWorkspaceSalt: "workspace-salt",
		FixedRunSalts:      map[string]string{"run-1": "run-salt"},
		Now:                func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return New(0, eng)
}

func ingest(t *testing.T, s *Server, body string) ingestResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleEvents(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var res ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHandleEvents_BatchRoundTrip(t *testing.T) {
	s := testServer(t)

	res := ingest(t, s, `[
	  {"v":1,"run_id":"run-1","seq":0,"ts":"2026-01-01T00:00:00Z","kind":"turn","name":"turn.started"},
	  {"v":1,"run_id":"run-1","seq":1,"ts":"2026-01-01T00:00:00Z","kind":"turn","name":"turn.completed"},
	  {"not":"an event"}
	]`)

	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.ClosedChapters)
	assert.Equal(t, 1, res.Invalid)
	assert.NotEmpty(t, res.RequestID)
}

func TestHandleEvents_RejectsBadBody(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.handleEvents(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec = httptest.NewRecorder()
	s.handleEvents(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleWorld(t *testing.T) {
	s := testServer(t)
	ingest(t, s, `[{"v":1,"run_id":"run-1","seq":0,"ts":"2026-01-01T00:00:00Z","kind":"log","name":"log.line"}]`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/world", nil)
	rec := httptest.NewRecorder()
	s.handleWorld(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var world map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &world))
	assert.EqualValues(t, 1, world["v"])
	counters := world["counters"].(map[string]any)
	assert.EqualValues(t, 1, counters["events"])
}

func TestHandleChapters(t *testing.T) {
	s := testServer(t)
	ingest(t, s, `[
	  {"v":1,"run_id":"run-1","seq":0,"ts":"2026-01-01T00:00:00Z","kind":"turn","name":"turn.started"},
	  {"v":1,"run_id":"run-1","seq":1,"ts":"2026-01-01T00:00:01Z","kind":"turn","name":"turn.completed"},
	  {"v":1,"run_id":"run-2","seq":0,"ts":"2026-01-01T00:00:00Z","kind":"turn","name":"turn.started"},
	  {"v":1,"run_id":"run-2","seq":1,"ts":"2026-01-01T00:00:01Z","kind":"turn","name":"turn.failed"}
	]`)

	get := func(url string) []map[string]any {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		s.handleChapters(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var out []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Len(t, get("/api/v1/chapters"), 2)
	assert.Len(t, get("/api/v1/chapters?limit=1"), 1)

	byRun := get("/api/v1/chapters?run=run-2")
	require.Len(t, byRun, 1)
	assert.Equal(t, "failed", byRun[0]["status"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chapters?limit=-2", nil)
	rec := httptest.NewRecorder()
	s.handleChapters(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
