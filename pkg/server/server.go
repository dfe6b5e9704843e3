package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/systemstart/gridrun/pkg/api"
	"github.com/systemstart/gridrun/pkg/engine"
	"github.com/systemstart/gridrun/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the engine as a webhook target. Runs in flight are tracked
// in memory until their summary is persisted; completed runs are read back
// through the store.
type Server struct {
	engine    *engine.Engine
	store     *store.Store
	workflows []*api.Workflow

	mu     sync.Mutex
	active map[string]*store.RunSummary
}

// New creates a Server dispatching events against the given workflows.
func New(eng *engine.Engine, st *store.Store, workflows []*api.Workflow) *Server {
	return &Server{
		engine:    eng,
		store:     st,
		workflows: workflows,
		active:    make(map[string]*store.RunSummary),
	}
}

// Router assembles the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	return r
}

// ListenAndServe serves until the context is cancelled, then drains open
// connections. Runs already dispatched keep executing during the drain.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("server listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// handleEvent accepts an event, assigns it a run id and launches the engine
// in the background.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event api.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding event: %v", err))
		return
	}

	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.store.NewRunID(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.active[id] = &store.RunSummary{
		ID:        id,
		Event:     event,
		Status:    store.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	go s.execute(id, event)

	slog.Info("event accepted", "run", id, "event", event.Name, "ref", event.Ref)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(store.StatusRunning),
	})
}

// execute drives one background run and retires the in-memory entry once
// the summary is safely on disk.
func (s *Server) execute(id string, event api.Event) {
	summary, err := s.engine.Run(context.Background(), engine.Request{
		RunID:     id,
		Event:     event,
		Workflows: s.workflows,
	})
	if err != nil {
		slog.Error("run failed", "run", id, "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if summary == nil {
		// Nothing was persisted, keep the entry so the failure stays
		// visible through the API.
		s.active[id].Status = store.StatusFailure
		s.active[id].FinishedAt = time.Now().UTC()
		return
	}

	delete(s.active, id)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.store.ListRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byID := make(map[string]*store.RunSummary)
	s.mu.Lock()
	for id, summary := range s.active {
		// Copied so encoding happens outside the lock without racing
		// updates from execute.
		copied := *summary
		byID[id] = &copied
	}
	s.mu.Unlock()
	for _, summary := range persisted {
		byID[summary.ID] = summary
	}

	runs := make([]*store.RunSummary, 0, len(byID))
	for _, summary := range byID {
		runs = append(runs, summary)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].ID > runs[j].ID
	})

	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	entry, ok := s.active[id]
	var inFlight store.RunSummary
	if ok {
		inFlight = *entry
	}
	s.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, &inFlight)
		return
	}

	summary, err := s.store.LoadSummary(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown run %q", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// logRequests emits one structured line per request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request-id", middleware.GetReqID(r.Context()),
		)
	})
}
