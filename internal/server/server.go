package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/patchlings/patchlings/internal/engine"
	"github.com/patchlings/patchlings/internal/telemetry"

	"github.com/oklog/ulid/v2"
)

// Server exposes the engine over HTTP: world and chapter reads plus a batch
// ingest endpoint. The engine is single-writer, so every engine call is
// serialized behind one mutex.
type Server struct {
	engine *engine.Engine
	server *http.Server
	mu     sync.Mutex
}

func New(port int, eng *engine.Engine) *Server {
	mux := http.NewServeMux()
	s := &Server{
		engine: eng,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/api/v1/world", s.handleWorld)
	mux.HandleFunc("/api/v1/chapters", s.handleChapters)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	return s
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("Starting patchlings HTTP server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	data, err := json.MarshalIndent(s.engine.World(), "", "  ")
	s.mu.Unlock()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	runID := r.URL.Query().Get("run")

	s.mu.Lock()
	var chapters any
	if runID != "" {
		chapters = s.engine.ChaptersByRun(runID, limit)
	} else {
		chapters = s.engine.Chapters(limit)
	}
	data, err := json.Marshal(chapters)
	s.mu.Unlock()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type ingestResponse struct {
	RequestID              string `json:"request_id"`
	Accepted               int    `json:"accepted"`
	ClosedChapters         int    `json:"closed_chapters"`
	DroppedLowValueEvents  int64  `json:"dropped_low_value_events"`
	DroppedDuplicateEvents int64  `json:"dropped_duplicate_events"`
	Invalid                int    `json:"invalid"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	requestID := ulid.Make().String()

	events := make([]telemetry.Event, 0, len(raw))
	invalid := 0
	for _, line := range raw {
		event, err := telemetry.Decode(line)
		if err != nil {
			invalid++
			continue
		}
		events = append(events, event)
	}

	s.mu.Lock()
	res, err := s.engine.IngestBatch(events)
	s.mu.Unlock()
	if err != nil {
		slog.Error("Ingest failed", "request", requestID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ingestResponse{
		RequestID:              requestID,
		Accepted:               len(res.AcceptedEvents),
		ClosedChapters:         len(res.ClosedChapters),
		DroppedLowValueEvents:  res.DroppedLowValueEvents,
		DroppedDuplicateEvents: res.DroppedDuplicateEvents,
		Invalid:                invalid,
	})
}
