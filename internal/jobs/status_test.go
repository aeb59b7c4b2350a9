package jobs_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/jobs"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type fakeServerLister struct{ servers []models.Server }

func (f *fakeServerLister) List() ([]models.Server, error) { return f.servers, nil }

type fakeRunReader struct {
	active  map[uuid.UUID]*models.SyncRun
	last    map[uuid.UUID]*models.SyncRun
	success map[uuid.UUID]*models.SyncRun
}

func (f *fakeRunReader) GetActive(id uuid.UUID) (*models.SyncRun, error) { return f.active[id], nil }
func (f *fakeRunReader) LastRun(id uuid.UUID) (*models.SyncRun, error)   { return f.last[id], nil }
func (f *fakeRunReader) LastSuccess(id uuid.UUID) (*models.SyncRun, error) {
	return f.success[id], nil
}

func TestServerStatuses(t *testing.T) {
	fresh := models.Server{ID: uuid.New(), Name: "fresh"}
	busy := models.Server{ID: uuid.New(), Name: "busy"}
	settled := models.Server{ID: uuid.New(), Name: "settled"}

	finishedAt := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	succeeded := &models.SyncRun{
		ID:         uuid.New(),
		ServerID:   settled.ID,
		Status:     models.RunSucceeded,
		FinishedAt: &finishedAt,
	}
	running := &models.SyncRun{ID: uuid.New(), ServerID: busy.ID, Status: models.RunRunning}

	svc := jobs.NewStatusService(
		&fakeServerLister{servers: []models.Server{fresh, busy, settled}},
		&fakeRunReader{
			active:  map[uuid.UUID]*models.SyncRun{busy.ID: running},
			last:    map[uuid.UUID]*models.SyncRun{settled.ID: succeeded},
			success: map[uuid.UUID]*models.SyncRun{settled.ID: succeeded},
		})

	statuses, err := svc.ServerStatuses()
	if err != nil {
		t.Fatalf("ServerStatuses failed: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}

	byID := map[uuid.UUID]models.ServerStatus{}
	for _, s := range statuses {
		byID[s.ServerID] = s
	}

	if got := byID[fresh.ID]; !got.NeverSynced || got.ActiveRun != nil || got.LastRun != nil {
		t.Fatalf("fresh server should be never-synced, got %+v", got)
	}
	if got := byID[busy.ID]; got.NeverSynced || got.ActiveRun == nil || got.ActiveRun.ID != running.ID {
		t.Fatalf("busy server should carry its active run, got %+v", got)
	}
	got := byID[settled.ID]
	if got.NeverSynced || got.ActiveRun != nil {
		t.Fatalf("settled server misreported: %+v", got)
	}
	if got.LastRun == nil || got.LastRun.ID != succeeded.ID {
		t.Fatalf("settled server should carry its last run, got %+v", got.LastRun)
	}
	if got.LastSuccess == nil || !got.LastSuccess.Equal(finishedAt) {
		t.Fatalf("expected last success %v, got %v", finishedAt, got.LastSuccess)
	}
}
