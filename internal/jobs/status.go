package jobs

import (
	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type ServerLister interface {
	List() ([]models.Server, error)
}

type RunReader interface {
	GetActive(serverID uuid.UUID) (*models.SyncRun, error)
	LastRun(serverID uuid.UUID) (*models.SyncRun, error)
	LastSuccess(serverID uuid.UUID) (*models.SyncRun, error)
}

// StatusService answers "is sync healthy" per server for dashboard polling.
type StatusService struct {
	servers ServerLister
	runs    RunReader
}

func NewStatusService(servers ServerLister, runs RunReader) *StatusService {
	return &StatusService{servers: servers, runs: runs}
}

// ServerStatuses distinguishes a server that never synced from one whose
// last sync failed and one that is currently mid-run.
func (s *StatusService) ServerStatuses() ([]models.ServerStatus, error) {
	servers, err := s.servers.List()
	if err != nil {
		return nil, err
	}

	out := make([]models.ServerStatus, 0, len(servers))
	for _, srv := range servers {
		status := models.ServerStatus{ServerID: srv.ID, ServerName: srv.Name}

		if status.ActiveRun, err = s.runs.GetActive(srv.ID); err != nil {
			return nil, err
		}
		if status.LastRun, err = s.runs.LastRun(srv.ID); err != nil {
			return nil, err
		}
		last, err := s.runs.LastSuccess(srv.ID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			status.LastSuccess = last.FinishedAt
		}
		status.NeverSynced = status.LastRun == nil && status.ActiveRun == nil

		out = append(out, status)
	}
	return out, nil
}
