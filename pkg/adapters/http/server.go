// Package http serves arbor threads and the knowledge memory over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/logging"
	pgraph "github.com/aretw0/arbor/internal/presentation/graph"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/graph"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/aretw0/arbor/pkg/runner"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the subset of *arbor.Engine served over HTTP.
type Engine interface {
	Start(ctx context.Context, req arbor.StartRequest) (*domain.RunResult, error)
	Resume(ctx context.Context, threadID, answer string) (*domain.RunResult, error)
	Inspect(ctx context.Context, threadID string) (*domain.Checkpoint, error)
	History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error)
	Threads(ctx context.Context) ([]string, error)
	DeleteThread(ctx context.Context, threadID string) error
	Memory() *knowledge.Store
	Graph() *graph.CompiledGraph
}

// Server holds the HTTP handlers.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics exposes the collectors of g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// ResumeRequest is the body of POST /threads/{id}/resume.
type ResumeRequest struct {
	Answer string `json:"answer"`
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:  engine,
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/graph", s.GetGraph)

	r.Route("/threads", func(r chi.Router) {
		r.Get("/", s.ListThreads)
		r.Post("/", s.StartThread)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetThread)
			r.Delete("/", s.DeleteThread)
			r.Post("/resume", s.ResumeThread)
			r.Get("/history", s.GetHistory)
			r.Get("/events", s.SubscribeEvents)
		})
	})

	r.Route("/memory", func(r chi.Router) {
		r.Get("/", s.GetMemory)
		r.Get("/entities/{name}", s.GetEntity)
		r.Get("/relations", s.GetRelations)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

// writeError maps engine errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	var nodeErr *runner.NodeError
	switch {
	case errors.Is(err, domain.ErrThreadNotFound), errors.Is(err, domain.ErrEntityNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrThreadCompleted), errors.Is(err, domain.ErrResumeConflict):
		status = http.StatusConflict
	case errors.Is(err, arbor.ErrUnknownFlow), errors.Is(err, runner.ErrInputTooLarge), errors.Is(err, runner.ErrInvalidUTF8):
		status = http.StatusBadRequest
	case errors.As(err, &nodeErr):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Warn(op+" rejected", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// StartThread handles POST /threads.
func (s *Server) StartThread(w http.ResponseWriter, r *http.Request) {
	var body arbor.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	res, err := s.Engine.Start(r.Context(), body)
	if err != nil {
		s.writeError(w, "Start", err)
		return
	}
	s.broadcast(res)
	s.writeJSON(w, http.StatusCreated, res)
}

// ResumeThread handles POST /threads/{id}/resume.
func (s *Server) ResumeThread(w http.ResponseWriter, r *http.Request) {
	var body ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	res, err := s.Engine.Resume(r.Context(), chi.URLParam(r, "id"), body.Answer)
	if err != nil {
		s.writeError(w, "Resume", err)
		return
	}
	s.broadcast(res)
	s.writeJSON(w, http.StatusOK, res)
}

// ListThreads handles GET /threads.
func (s *Server) ListThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Threads(r.Context())
	if err != nil {
		s.writeError(w, "List", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"threads": ids})
}

// GetThread handles GET /threads/{id}: the current result of the thread.
func (s *Server) GetThread(w http.ResponseWriter, r *http.Request) {
	cp, err := s.Engine.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, "Inspect", err)
		return
	}
	s.writeJSON(w, http.StatusOK, domain.ResultFromCheckpoint(cp))
}

// GetHistory handles GET /threads/{id}/history.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, "History", err)
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

// DeleteThread handles DELETE /threads/{id}.
func (s *Server) DeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.DeleteThread(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, "Delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMemory handles GET /memory.
func (s *Server) GetMemory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Engine.Memory().Snapshot())
}

// GetEntity handles GET /memory/entities/{name}.
func (s *Server) GetEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	e, ok := s.Engine.Memory().FindEntityByName(name)
	if !ok {
		s.writeError(w, "Entity lookup", fmt.Errorf("%w: %q", domain.ErrEntityNotFound, name))
		return
	}
	s.writeJSON(w, http.StatusOK, e)
}

// GetRelations handles GET /memory/relations?from=&to=&type=.
func (s *Server) GetRelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.writeJSON(w, http.StatusOK, s.Engine.Memory().FindRelations(knowledge.RelationFilter{
		From: q.Get("from"),
		To:   q.Get("to"),
		Type: q.Get("type"),
	}))
}

// GetGraph handles GET /graph. With ?thread=ID the chart highlights the thread's progress.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	g := s.Engine.Graph()

	var overlay *pgraph.GraphOverlay
	if threadID := r.URL.Query().Get("thread"); threadID != "" {
		history, err := s.Engine.History(r.Context(), threadID)
		if err != nil {
			s.writeError(w, "Graph", err)
			return
		}
		overlay = pgraph.OverlayFromHistory(history)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"nodes":   g.Nodes(),
		"edges":   g.Edges(),
		"mermaid": pgraph.GenerateMermaid(g, overlay),
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "arbor-http",
		"version": arbor.Version,
	})
}

func (s *Server) broadcast(res *domain.RunResult) {
	b, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("Event encode failed", "thread_id", res.ThreadID, "err", err)
		return
	}
	s.Streams.Broadcast(res.ThreadID, string(b))
}

// StreamManager handles active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{} // ThreadID -> Set of Channels
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(threadID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[threadID]; !ok {
		sm.subscribers[threadID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[threadID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[threadID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, threadID)
			}
		}
	}
}

// Broadcast sends msg to every subscriber of the thread. Slow clients miss messages.
func (sm *StreamManager) Broadcast(threadID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[threadID] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SubscribeEvents handles GET /threads/{id}/events (SSE): one event per run result.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	threadID := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.Streams.Subscribe(threadID)
	defer cancel()

	s.logger.Info("SSE: Subscribing to thread updates", "thread_id", threadID)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
