package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

// GET /api/v1/servers
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.serverRepo.List()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	if servers == nil {
		servers = []models.Server{}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: servers})
}

// GET /api/v1/jobs/server-status
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.status.ServerStatuses()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to compute server status")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: statuses})
}

// GET /api/v1/sessions?serverId=
// An unreachable server yields an empty list plus a warning, never an error.
func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	snapshot, err := s.monitor.ListActiveSessions(r.Context(), serverID)
	if err != nil {
		if errors.Is(err, jellyfin.ErrSourceAuthFailed) {
			s.respondError(w, http.StatusBadGateway, "source authentication failed")
			return
		}
		s.respondError(w, http.StatusNotFound, "server not found")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: snapshot})
}

// GET /api/v1/activities?serverId=&limit=
func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.activityRepo.ListByServer(serverID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list activity entries")
		return
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: entries})
}
