// Package webapi is the daemon's HTTP surface: roadmap/spec/task CRUD, the
// running-agent and question endpoints, graceful shutdown, and the
// Server-Sent Events stream (§6).
package webapi

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/devswarm/devswarm/internal/eventbus"
	"github.com/devswarm/devswarm/internal/state"
	"github.com/devswarm/devswarm/internal/worktree"
)

// Server is the devswarm HTTP API.
type Server struct {
	store    *state.Store
	bus      *eventbus.Bus
	worktree *worktree.Manager
	log      *zap.Logger

	httpServer *http.Server

	// shutdownFn, sendToMainFn and sendToAgentFn close over the orchestrator
	// so the server depends only on these three operations, not on
	// *devswarm.Orchestrator itself (the package does import the root
	// package, for the StateSnapshot type classified in sse.go).
	shutdownFn    func(ctx context.Context) error
	sendToMainFn  func(ctx context.Context, text string) error
	sendToAgentFn func(ctx context.Context, agentID, text string) error
}

// NewServer constructs the HTTP API server. shutdown is invoked by
// POST /shutdown after the shutdown_progress events are published;
// sendToMain delivers POST /api/main/message to the running main agent;
// sendToAgent delivers an answered question back to the agent that asked it.
func NewServer(store *state.Store, wt *worktree.Manager, bus *eventbus.Bus, log *zap.Logger, shutdown func(ctx context.Context) error, sendToMain func(ctx context.Context, text string) error, sendToAgent func(ctx context.Context, agentID, text string) error) *Server {
	return &Server{store: store, worktree: wt, bus: bus, log: log, shutdownFn: shutdown, sendToMainFn: sendToMain, sendToAgentFn: sendToAgent}
}

func (s *Server) pushMainBestEffort() error {
	return s.worktree.PushMain()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/roadmap", s.apiListRoadmap)
	mux.HandleFunc("POST /api/roadmap", s.apiCreateRoadmapItem)
	mux.HandleFunc("PATCH /api/roadmap/{id}", s.apiUpdateRoadmapItem)
	mux.HandleFunc("GET /api/roadmap/{id}/dependencies", s.apiListRoadmapDependencies)
	mux.HandleFunc("POST /api/roadmap/{id}/dependencies", s.apiCreateRoadmapDependency)
	mux.HandleFunc("DELETE /api/roadmap/{id}/dependencies/{depId}", s.apiDeleteRoadmapDependency)

	mux.HandleFunc("GET /api/specs", s.apiListSpecs)
	mux.HandleFunc("GET /api/specs/{id}", s.apiGetSpec)
	mux.HandleFunc("POST /api/specs", s.apiCreateSpec)
	mux.HandleFunc("PATCH /api/specs/{id}", s.apiUpdateSpec)

	mux.HandleFunc("POST /api/task-groups", s.apiCreateTaskGroup)
	mux.HandleFunc("PATCH /api/task-groups/{id}", s.apiUpdateTaskGroup)
	mux.HandleFunc("POST /api/tasks", s.apiCreateTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.apiUpdateTask)

	mux.HandleFunc("GET /api/claudes", s.apiListAgents)
	mux.HandleFunc("POST /api/main/message", s.apiPostMainMessage)
	mux.HandleFunc("GET /api/agents/{id}/audit", s.apiGetAgentAudit)

	mux.HandleFunc("GET /api/questions/pending", s.apiListPendingQuestions)
	mux.HandleFunc("POST /api/questions/{id}/answer", s.apiAnswerQuestion)

	mux.HandleFunc("GET /api/specs/{id}/conversations", s.apiListSpecConversations)

	mux.HandleFunc("GET /api/events", s.handleSSE)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)

	return s.withLogging(mux)
}

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("starting http server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections and drains existing ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleShutdown publishes the shutdown_progress sequence and cascades to
// the orchestrator before the caller's process exits (§6).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "stopping"})

	go func() {
		s.bus.Publish(ShutdownProgress{Stage: "stopping_orchestrator"})
		if s.shutdownFn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := s.shutdownFn(ctx); err != nil {
				s.log.Warn("orchestrator shutdown reported an error", zap.Error(err))
			}
		}
		if s.worktree != nil {
			if err := s.worktree.Shutdown(); err != nil {
				s.log.Warn("failed to stop bare repo daemon", zap.Error(err))
			}
		}
		s.bus.Publish(ShutdownProgress{Stage: "closing_database"})
		if err := s.store.Close(); err != nil {
			s.log.Warn("failed to close state store", zap.Error(err))
		}
		s.bus.Publish(ShutdownProgress{Stage: "complete"})

		// Mirror the SIGINT/SIGTERM path in cmd/devswarm: an HTTP-triggered
		// shutdown must actually stop the process, not just the subsystems.
		os.Exit(0)
	}()
}
