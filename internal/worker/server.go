// Package worker exposes the transcription worker over HTTP. An orchestrator
// posts episode handoffs to /transcribe; the worker runs the chunk pipeline
// for each accepted episode in its own goroutine, refusing duplicate handoffs
// for an episode already in flight.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sermonsync/internal/catalog"
	"sermonsync/internal/logging"
	"sermonsync/internal/services"
)

// Runner executes the chunk pipeline for one episode.
type Runner interface {
	Run(ctx context.Context, episodeID int64, mediaURL string) error
}

// Store is the catalog surface the worker needs.
type Store interface {
	Health(ctx context.Context) (catalog.HealthSummary, error)
	List(ctx context.Context, statuses ...catalog.Status) ([]*catalog.Entry, error)
}

// transcribeRequest is the handoff payload.
type transcribeRequest struct {
	EpisodeID int64  `json:"episodeId"`
	AudioURL  string `json:"audioUrl"`
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	Running bool                  `json:"running"`
	Active  int                   `json:"active_jobs"`
	Catalog catalog.HealthSummary `json:"catalog"`
}

// Server is the worker HTTP server.
type Server struct {
	bind   string
	logger *slog.Logger
	store  Store
	pipe   Runner

	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	active  map[int64]struct{}
	jobs    sync.WaitGroup
	baseCtx context.Context
}

// NewServer creates a worker server bound to the given address.
func NewServer(bind string, store Store, pipe Runner, logger *slog.Logger) (*Server, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("worker bind address required")
	}
	srv := &Server{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "worker"),
		store:   store,
		pipe:    pipe,
		active:  make(map[int64]struct{}),
		baseCtx: context.Background(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", srv.handleTranscribe)
	mux.HandleFunc("/api/status", srv.handleStatus)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Start begins serving. Jobs accepted before ctx is cancelled run on a
// context derived from it, so daemon shutdown cancels in-flight pipelines.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("worker listen: %w", err)
	}
	s.listener = listener
	s.baseCtx = ctx

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("worker server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("worker listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down and waits for in-flight jobs to finish.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.jobs.Wait()
}

// ResumeGenerating relaunches pipelines for entries left generating by a
// previous process. Entries without a resolvable media URL are skipped; their
// next sync or retry surfaces the problem.
func (s *Server) ResumeGenerating(ctx context.Context) error {
	entries, err := s.store.List(ctx, catalog.StatusGenerating)
	if err != nil {
		return fmt.Errorf("list generating entries: %w", err)
	}
	for _, entry := range entries {
		mediaURL := entry.ResolveMediaURL()
		if mediaURL == "" {
			s.logger.Warn("cannot resume entry without media url",
				logging.Int64(logging.FieldEntryID, entry.ID))
			continue
		}
		if s.launch(entry.ID, mediaURL) {
			s.logger.Info("resuming interrupted transcription",
				logging.Int64(logging.FieldEntryID, entry.ID),
				logging.String(logging.FieldEventType, "resume"))
		}
	}
	return nil
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EpisodeID <= 0 || strings.TrimSpace(req.AudioURL) == "" {
		s.writeError(w, http.StatusBadRequest, "episodeId and audioUrl are required")
		return
	}

	if !s.launch(req.EpisodeID, req.AudioURL) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("episode %d already in progress", req.EpisodeID))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "episodeId": req.EpisodeID})
}

// launch starts the pipeline for an episode unless one is already running
// for it. It returns whether the job was started.
func (s *Server) launch(episodeID int64, mediaURL string) bool {
	s.mu.Lock()
	if _, busy := s.active[episodeID]; busy {
		s.mu.Unlock()
		return false
	}
	s.active[episodeID] = struct{}{}
	s.mu.Unlock()

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, episodeID)
			s.mu.Unlock()
		}()
		ctx := services.WithEntryID(s.baseCtx, episodeID)
		ctx = services.WithRequestID(ctx, uuid.NewString())
		log := logging.WithContext(ctx, s.logger)
		if err := s.pipe.Run(ctx, episodeID, mediaURL); err != nil {
			log.Warn("transcription job ended with error", logging.Error(err))
			return
		}
		log.Info("transcription job finished")
	}()
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.store.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	active := len(s.active)
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, statusResponse{Running: true, Active: active, Catalog: health})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
