package sync

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/repository"
)

type fakeEnqueuer struct {
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueueUnique(_ string, _ interface{}, uniqueID string, _ ...asynq.Option) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return uniqueID, nil
}

func TestTriggerRejectsUnknownKind(t *testing.T) {
	servers := &fakeServers{server: &models.Server{ID: uuid.New()}}
	svc := NewService(newFakeRuns(), servers, &fakeEnqueuer{})

	if _, err := svc.Trigger(servers.server.ID, models.SyncKind("everything")); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestTriggerRejectsUnknownServer(t *testing.T) {
	svc := NewService(newFakeRuns(), &fakeServers{}, &fakeEnqueuer{})

	if _, err := svc.Trigger(uuid.New(), models.SyncFull); err == nil {
		t.Fatalf("expected error for unknown server")
	}
}

func TestTriggerEnqueuesPendingRun(t *testing.T) {
	runs := newFakeRuns()
	servers := &fakeServers{server: &models.Server{ID: uuid.New()}}
	queue := &fakeEnqueuer{}
	svc := NewService(runs, servers, queue)

	run, err := svc.Trigger(servers.server.ID, models.SyncPartial)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if run.Status != models.RunPending || run.Kind != models.SyncPartial {
		t.Fatalf("unexpected run: %+v", run)
	}
	if queue.calls != 1 {
		t.Fatalf("expected 1 enqueue, got %d", queue.calls)
	}
}

func TestTriggerConflictCarriesExistingRun(t *testing.T) {
	runs := newFakeRuns()
	servers := &fakeServers{server: &models.Server{ID: uuid.New()}}
	queue := &fakeEnqueuer{}
	svc := NewService(runs, servers, queue)

	first, err := svc.Trigger(servers.server.ID, models.SyncFull)
	if err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}

	_, err = svc.Trigger(servers.server.ID, models.SyncPartial)
	var conflict *repository.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Existing == nil || conflict.Existing.ID != first.ID {
		t.Fatalf("conflict should carry the active run, got %+v", conflict.Existing)
	}
	if queue.calls != 1 {
		t.Fatalf("conflicting trigger must not enqueue, got %d calls", queue.calls)
	}
}

func TestTriggerFailsRunWhenEnqueueFails(t *testing.T) {
	runs := newFakeRuns()
	servers := &fakeServers{server: &models.Server{ID: uuid.New()}}
	queue := &fakeEnqueuer{err: errors.New("redis down")}
	svc := NewService(runs, servers, queue)

	if _, err := svc.Trigger(servers.server.ID, models.SyncFull); err == nil {
		t.Fatalf("expected trigger to surface the enqueue failure")
	}

	// The orphaned run must be settled so the server is not wedged.
	for _, run := range runs.runs {
		if run.Status != models.RunFailed {
			t.Fatalf("expected orphaned run failed, got %s", run.Status)
		}
		if run.LastError == nil {
			t.Fatalf("expected enqueue failure recorded on the run")
		}
	}
}

func TestCancelOnlyActiveRuns(t *testing.T) {
	runs := newFakeRuns()
	servers := &fakeServers{server: &models.Server{ID: uuid.New()}}
	svc := NewService(runs, servers, &fakeEnqueuer{})

	run, err := svc.Trigger(servers.server.ID, models.SyncUsers)
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	ok, err := svc.Cancel(run.ID)
	if err != nil || !ok {
		t.Fatalf("expected cancel to land on active run, got ok=%v err=%v", ok, err)
	}

	runs.Finish(run.ID, models.RunCancelled, nil)
	ok, err = svc.Cancel(run.ID)
	if err != nil || ok {
		t.Fatalf("cancel on finished run must report false, got ok=%v err=%v", ok, err)
	}
}
