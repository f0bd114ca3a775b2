// Package api exposes the read-only introspection surface over HTTP:
// aggregate stats, per-role presence, per-user device counts, course
// room membership, and live session rosters. It never mutates engine
// state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"coursepulse/internal/event"
	"coursepulse/internal/live"
	"coursepulse/internal/registry"
)

// HealthChecker is the persistence probe behind /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	registry *registry.Registry
	live     *live.Coordinator
	health   HealthChecker
	logger   *zap.Logger
}

func NewServer(reg *registry.Registry, liveCoord *live.Coordinator, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{
		registry: reg,
		live:     liveCoord,
		health:   health,
		logger:   logger.Named("api"),
	}
}

// Routes mounts the introspection endpoints on a chi router. The
// websocket handler is mounted by the caller alongside these.
func (s *Server) Routes(r chi.Router) {
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/presence/{role}", s.handlePresence)
		r.Get("/users/{userID}/devices", s.handleUserDevices)
		r.Get("/courses/{courseID}/room", s.handleCourseRoom)
		r.Get("/live", s.handleLiveSessions)
		r.Get("/live/{sessionID}", s.handleLiveRoster)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.HealthCheck(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.respond(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy"})
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.Stats()
	s.respond(w, http.StatusOK, map[string]any{
		"connections":   stats.Connections,
		"online_users":  stats.OnlineUsers,
		"scopes":        stats.Scopes,
		"live_sessions": len(s.live.Sessions()),
	})
}

// handlePresence lists the distinct online users holding the role;
// "all" lists everyone.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	if role == "all" {
		role = ""
	} else if !event.ValidRole(role) {
		s.respond(w, http.StatusBadRequest, map[string]any{"error": "unrecognized role"})
		return
	}

	users := s.registry.OnlineUsers(role)
	s.respond(w, http.StatusOK, map[string]any{
		"role":  chi.URLParam(r, "role"),
		"users": users,
		"count": len(users),
	})
}

func (s *Server) handleUserDevices(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.respond(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"online":       s.registry.IsOnline(userID),
		"device_count": s.registry.ConnectionCount(userID),
	})
}

func (s *Server) handleCourseRoom(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	users := s.registry.ScopeUsers(registry.CourseScope(courseID))
	s.respond(w, http.StatusOK, map[string]any{
		"course_id": courseID,
		"users":     users,
		"count":     len(users),
	})
}

func (s *Server) handleLiveSessions(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"sessions": s.live.Sessions(),
	})
}

func (s *Server) handleLiveRoster(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	roster := s.live.Snapshot(sessionID)
	s.respond(w, http.StatusOK, map[string]any{
		"session_id":        sessionID,
		"participants":      roster,
		"participant_count": len(roster),
	})
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response encode failed", zap.Error(err))
	}
}
