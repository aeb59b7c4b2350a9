package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/jobs"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/reconcile"
)

// The orchestrator sees its collaborators through narrow interfaces so the
// whole state machine runs against fakes in tests.

type Source interface {
	FetchPage(ctx context.Context, cur jellyfin.Cursor) (jellyfin.Page, error)
}

type RunStore interface {
	Create(serverID uuid.UUID, kind models.SyncKind) (*models.SyncRun, error)
	GetByID(id uuid.UUID) (*models.SyncRun, error)
	MarkRunning(id uuid.UUID) (bool, error)
	Finish(id uuid.UUID, status models.RunStatus, lastError *string) error
	AddCounters(id uuid.UUID, processed, upserted, failed int) error
	RequestCancel(id uuid.UUID) (bool, error)
	CancelRequested(id uuid.UUID) (bool, error)
}

type ServerStore interface {
	GetByID(id uuid.UUID) (*models.Server, error)
	Watermark(serverID uuid.UUID) (*time.Time, error)
	AdvanceWatermark(serverID uuid.UUID, to time.Time) error
}

type UserStore interface {
	ListByServer(serverID uuid.UUID) ([]models.User, error)
	DeactivateMissing(serverID uuid.UUID, seenRemoteIDs []string, cutoff time.Time) error
}

type LibraryLister interface {
	ListByServer(serverID uuid.UUID) ([]models.Library, error)
}

type PageApplier interface {
	ApplyPage(serverID uuid.UUID, page jellyfin.Page) reconcile.PageResult
}

type Enqueuer interface {
	EnqueueUnique(taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error)
}

// SourceFactory builds a remote client for one server row.
type SourceFactory func(server *models.Server) Source

// Service creates runs and hands them to the queue. The database constraint
// behind RunStore.Create is what makes Trigger safe to call concurrently.
type Service struct {
	runs    RunStore
	servers ServerStore
	queue   Enqueuer
}

func NewService(runs RunStore, servers ServerStore, queue Enqueuer) *Service {
	return &Service{runs: runs, servers: servers, queue: queue}
}

// Trigger creates a pending run for the server and enqueues it. When a run
// is already active the *repository.ConflictError from the store passes
// through untouched, carrying the existing run.
func (s *Service) Trigger(serverID uuid.UUID, kind models.SyncKind) (*models.SyncRun, error) {
	if !models.ValidSyncKind(kind) {
		return nil, fmt.Errorf("unknown sync kind %q", kind)
	}
	if _, err := s.servers.GetByID(serverID); err != nil {
		return nil, err
	}

	run, err := s.runs.Create(serverID, kind)
	if err != nil {
		return nil, err
	}

	payload := jobs.SyncRunPayload{RunID: run.ID, ServerID: serverID, Kind: kind}
	if _, err := s.queue.EnqueueUnique(jobs.TaskSyncRun, payload, jobs.SyncTaskID(serverID)); err != nil {
		msg := fmt.Sprintf("enqueue failed: %v", err)
		if ferr := s.runs.Finish(run.ID, models.RunFailed, &msg); ferr != nil {
			log.Printf("[sync] failed to fail run %s: %v", run.ID, ferr)
		}
		return nil, fmt.Errorf("failed to enqueue sync: %w", err)
	}

	log.Printf("[sync] run %s (%s) queued for server %s", run.ID, kind, serverID)
	return run, nil
}

// GetRun loads a single run by id.
func (s *Service) GetRun(runID uuid.UUID) (*models.SyncRun, error) {
	return s.runs.GetByID(runID)
}

// Cancel flags an active run for cooperative cancellation. The worker stops
// at the next page boundary. Returns false when the run is already terminal.
func (s *Service) Cancel(runID uuid.UUID) (bool, error) {
	return s.runs.RequestCancel(runID)
}
