package api

import (
	"encoding/json"
	"net/http"

	"github.com/tam1m/streamystats-sub003/internal/jobs"
	"github.com/tam1m/streamystats-sub003/internal/repository"
	"github.com/tam1m/streamystats-sub003/internal/sessions"
	"github.com/tam1m/streamystats-sub003/internal/stats"
	"github.com/tam1m/streamystats-sub003/internal/sync"
	"github.com/tam1m/streamystats-sub003/internal/version"
)

type Server struct {
	serverRepo   *repository.ServerRepository
	runRepo      *repository.RunRepository
	activityRepo *repository.ActivityRepository
	syncs        *sync.Service
	stats        *stats.Service
	status       *jobs.StatusService
	monitor      *sessions.Monitor
	router       *http.ServeMux
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(
	serverRepo *repository.ServerRepository,
	runRepo *repository.RunRepository,
	activityRepo *repository.ActivityRepository,
	syncs *sync.Service,
	statsSvc *stats.Service,
	status *jobs.StatusService,
	monitor *sessions.Monitor,
) *Server {
	s := &Server{
		serverRepo:   serverRepo,
		runRepo:      runRepo,
		activityRepo: activityRepo,
		syncs:        syncs,
		stats:        statsSvc,
		status:       status,
		monitor:      monitor,
		router:       http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("GET /api/v1/servers", s.handleListServers)

	// Sync tasks
	s.router.HandleFunc("POST /api/v1/sync/{serverId}/tasks", s.handleTriggerSync)
	s.router.HandleFunc("GET /api/v1/sync/{serverId}/tasks", s.handleListRuns)
	s.router.HandleFunc("GET /api/v1/sync/{serverId}/tasks/{runId}", s.handleGetRun)
	s.router.HandleFunc("POST /api/v1/sync/{serverId}/tasks/{runId}/cancel", s.handleCancelRun)

	// Job status
	s.router.HandleFunc("GET /api/v1/jobs/server-status", s.handleServerStatus)

	// Live sessions
	s.router.HandleFunc("GET /api/v1/sessions", s.handleActiveSessions)

	// Mirrored activity log
	s.router.HandleFunc("GET /api/v1/activities", s.handleActivities)

	// Statistics
	s.router.HandleFunc("GET /api/v1/statistics/items", s.handleItemStatsList)
	s.router.HandleFunc("GET /api/v1/statistics/items/{itemId}", s.handleItemStats)
	s.router.HandleFunc("GET /api/v1/statistics/users/{userId}", s.handleUserStats)
	s.router.HandleFunc("GET /api/v1/statistics/user-activity", s.handleUserActivity)
	s.router.HandleFunc("GET /api/v1/statistics/watch-time-per-day", s.handleWatchTimePerDay)
	s.router.HandleFunc("GET /api/v1/statistics/most-popular", s.handleMostPopular)
	s.router.HandleFunc("GET /api/v1/statistics/libraries", s.handleLibraryStats)
}

// ServeHTTP wraps the router with the global middleware chain: security
// headers, then CORS, then routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.securityHeadersMiddleware(s.corsMiddleware(s.router)).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{
		"status":  "ok",
		"version": version.Load().Version,
	}})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, Response{Success: false, Error: message})
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-XSS-Protection", "0")
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS preflight and response headers globally.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
