package sessions

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type SessionSource interface {
	ActiveSessions(ctx context.Context) ([]models.ActiveSession, error)
}

type ServerGetter interface {
	GetByID(id uuid.UUID) (*models.Server, error)
}

// SourceFactory builds a session source for one server row.
type SourceFactory func(server *models.Server) SessionSource

// Snapshot is the live view handed to the dashboard. Warning flags a server
// that could not be reached; the session list is then empty, never nil.
type Snapshot struct {
	Sessions []models.ActiveSession `json:"sessions"`
	Warning  string                 `json:"warning,omitempty"`
}

// Monitor reads live sessions straight from the source. Nothing here is
// persisted and an unreachable server degrades to an empty snapshot.
type Monitor struct {
	servers ServerGetter
	sources SourceFactory
}

func NewMonitor(servers ServerGetter, sources SourceFactory) *Monitor {
	return &Monitor{servers: servers, sources: sources}
}

func (m *Monitor) ListActiveSessions(ctx context.Context, serverID uuid.UUID) (Snapshot, error) {
	server, err := m.servers.GetByID(serverID)
	if err != nil {
		return Snapshot{}, err
	}

	sessions, err := m.sources(server).ActiveSessions(ctx)
	if err != nil {
		if errors.Is(err, jellyfin.ErrSourceUnavailable) {
			log.Printf("[sessions] server %s unreachable: %v", serverID, err)
			return Snapshot{Sessions: []models.ActiveSession{}, Warning: "server unreachable"}, nil
		}
		return Snapshot{}, err
	}
	if sessions == nil {
		sessions = []models.ActiveSession{}
	}
	return Snapshot{Sessions: sessions}, nil
}
