package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/repository"
)

type triggerSyncRequest struct {
	Kind models.SyncKind `json:"kind"`
}

// POST /api/v1/sync/{serverId}/tasks
// Returns 202 with the new run, or 409 carrying the already-active run.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	serverID, err := uuid.Parse(r.PathValue("serverId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidSyncKind(req.Kind) {
		s.respondError(w, http.StatusBadRequest, "unknown sync kind")
		return
	}

	run, err := s.syncs.Trigger(serverID, req.Kind)
	if err != nil {
		var conflict *repository.ConflictError
		if errors.As(err, &conflict) {
			s.respondJSON(w, http.StatusConflict, Response{
				Success: false,
				Data:    conflict.Existing,
				Error:   "a sync is already active for this server",
			})
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to trigger sync")
		return
	}

	s.respondJSON(w, http.StatusAccepted, Response{Success: true, Data: run})
}

// GET /api/v1/sync/{serverId}/tasks
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	serverID, err := uuid.Parse(r.PathValue("serverId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid server id")
		return
	}

	runs, err := s.runRepo.ListByServer(serverID, 50)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: runs})
}

// GET /api/v1/sync/{serverId}/tasks/{runId}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	serverID, err := uuid.Parse(r.PathValue("serverId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid server id")
		return
	}
	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.syncs.GetRun(runID)
	// A run is only addressable under its own server.
	if err != nil || run.ServerID != serverID {
		s.respondError(w, http.StatusNotFound, "sync run not found")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: run})
}

// POST /api/v1/sync/{serverId}/tasks/{runId}/cancel
// Cancellation is cooperative: the worker stops at the next page boundary.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("runId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	flagged, err := s.syncs.Cancel(runID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	if !flagged {
		s.respondError(w, http.StatusConflict, "run is already finished")
		return
	}
	s.respondJSON(w, http.StatusAccepted, Response{Success: true, Data: map[string]string{
		"run_id": runID.String(),
		"status": "cancel_requested",
	}})
}
