package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/jobs"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

var errCancelled = errors.New("sync cancelled")

const (
	fetchAttempts = 3
	// A run fails outright when more than this share of processed records
	// could not be reconciled.
	failureRatio = 0.10
)

// Worker executes one sync run: fetch pages, reconcile them, persist
// counters, honor cancellation at page boundaries and settle the run into a
// terminal status.
type Worker struct {
	runs      RunStore
	servers   ServerStore
	users     UserStore
	libraries LibraryLister
	applier   PageApplier
	sources   SourceFactory

	// backoff base, shortened in tests
	retryDelay time.Duration
}

func NewWorker(runs RunStore, servers ServerStore, users UserStore, libraries LibraryLister,
	applier PageApplier, sources SourceFactory) *Worker {
	return &Worker{
		runs:       runs,
		servers:    servers,
		users:      users,
		libraries:  libraries,
		applier:    applier,
		sources:    sources,
		retryDelay: time.Second,
	}
}

// Register attaches the worker to the queue mux.
func (w *Worker) Register(q *jobs.Queue) {
	q.RegisterHandler(jobs.TaskSyncRun, w)
}

// ProcessTask implements asynq.Handler. Errors are settled into the run
// record rather than returned, so asynq never re-runs a settled task.
func (w *Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.SyncRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Printf("[sync] dropping task with bad payload: %v", err)
		return nil
	}

	run, err := w.runs.GetByID(payload.RunID)
	if err != nil {
		log.Printf("[sync] run %s not found: %v", payload.RunID, err)
		return nil
	}
	if run.Status.Terminal() {
		return nil
	}

	// A cancel that lands before the worker picks the run up wins here.
	if flagged, _ := w.runs.CancelRequested(run.ID); flagged {
		w.finish(run.ID, models.RunCancelled, nil)
		return nil
	}

	ok, err := w.runs.MarkRunning(run.ID)
	if err != nil || !ok {
		if err != nil {
			log.Printf("[sync] run %s could not start: %v", run.ID, err)
		}
		return nil
	}

	log.Printf("[sync] run %s (%s) starting for server %s", run.ID, run.Kind, run.ServerID)
	w.execute(ctx, run)
	return nil
}

func (w *Worker) execute(ctx context.Context, run *models.SyncRun) {
	server, err := w.servers.GetByID(run.ServerID)
	if err != nil {
		w.finishErr(run.ID, models.RunFailed, err)
		return
	}
	src := w.sources(server)

	var since *time.Time
	if run.Kind == models.SyncPartial {
		since, err = w.servers.Watermark(run.ServerID)
		if err != nil {
			w.finishErr(run.ID, models.RunFailed, err)
			return
		}
	}

	// Captured before any fetch so records written upstream while this run
	// is in flight land inside the next partial window.
	watermarkCandidate := time.Now().UTC()

	var totals struct{ processed, upserted, failed int }
	track := func(p, u, f int) {
		totals.processed += p
		totals.upserted += u
		totals.failed += f
	}

	err = w.runPlan(ctx, src, run, since, track)
	switch {
	case errors.Is(err, errCancelled) || errors.Is(err, context.Canceled):
		log.Printf("[sync] run %s cancelled after %d records", run.ID, totals.processed)
		w.finish(run.ID, models.RunCancelled, nil)
		return
	case err != nil:
		log.Printf("[sync] run %s failed: %v", run.ID, err)
		w.finishErr(run.ID, models.RunFailed, err)
		return
	}

	if totals.processed > 0 && float64(totals.failed) > failureRatio*float64(totals.processed) {
		w.finishErr(run.ID, models.RunFailed,
			fmt.Errorf("%d of %d records failed", totals.failed, totals.processed))
		return
	}

	w.finish(run.ID, models.RunSucceeded, nil)

	// The watermark only ever advances on success, so a failed partial
	// re-covers the same window next time.
	if run.Kind == models.SyncFull || run.Kind == models.SyncPartial {
		if err := w.servers.AdvanceWatermark(run.ServerID, watermarkCandidate); err != nil {
			log.Printf("[sync] run %s: watermark advance failed: %v", run.ID, err)
		}
	}

	log.Printf("[sync] run %s succeeded: %d processed, %d upserted, %d failed",
		run.ID, totals.processed, totals.upserted, totals.failed)
}

// runPlan walks the resources a sync kind covers, in dependency order:
// libraries and users before items and history so references resolve.
func (w *Worker) runPlan(ctx context.Context, src Source, run *models.SyncRun,
	since *time.Time, track func(p, u, f int)) error {

	syncLibraries := run.Kind == models.SyncFull || run.Kind == models.SyncLibraries
	syncUsers := run.Kind == models.SyncFull || run.Kind == models.SyncUsers
	syncContent := run.Kind == models.SyncFull || run.Kind == models.SyncPartial

	if syncLibraries {
		if err := w.runCursor(ctx, src, run, jellyfin.Start(jellyfin.ResourceLibraries, nil), track); err != nil {
			return err
		}
	}
	if syncUsers {
		if err := w.syncUsers(ctx, src, run, track); err != nil {
			return err
		}
	}
	if !syncContent {
		return nil
	}

	libraries, err := w.libraries.ListByServer(run.ServerID)
	if err != nil {
		return fmt.Errorf("listing libraries: %w", err)
	}
	for _, lib := range libraries {
		cur := jellyfin.Start(jellyfin.ResourceItems, since).WithLibrary(lib.RemoteLibraryID)
		if err := w.runCursor(ctx, src, run, cur, track); err != nil {
			return err
		}
	}

	users, err := w.users.ListByServer(run.ServerID)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	for _, u := range users {
		if !u.IsActive {
			continue
		}
		cur := jellyfin.Start(jellyfin.ResourceHistory, since).WithUser(u.RemoteUserID)
		if err := w.runCursor(ctx, src, run, cur, track); err != nil {
			return err
		}
	}

	// The activity log is only mirrored on full syncs; entries are immutable
	// so there is nothing for a partial to refresh.
	if run.Kind == models.SyncFull {
		if err := w.runCursor(ctx, src, run, jellyfin.Start(jellyfin.ResourceActivity, since), track); err != nil {
			return err
		}
	}
	return nil
}

// syncUsers mirrors the user list and then flags users the snapshot no
// longer contains as inactive. Rows are never deleted, so history for a
// removed user stays attached and keeps counting in statistics.
func (w *Worker) syncUsers(ctx context.Context, src Source, run *models.SyncRun,
	track func(p, u, f int)) error {

	cutoff := time.Now().UTC()
	var seen []string
	collect := func(page jellyfin.Page) {
		for _, u := range page.Users {
			seen = append(seen, u.RemoteID)
		}
	}
	if err := w.runCursorPages(ctx, src, run, jellyfin.Start(jellyfin.ResourceUsers, nil), track, collect); err != nil {
		return err
	}

	// An empty snapshot is more likely a source problem than everyone
	// leaving; deactivating the whole server on it would be destructive.
	if len(seen) == 0 {
		return nil
	}
	if err := w.users.DeactivateMissing(run.ServerID, seen, cutoff); err != nil {
		log.Printf("[sync] run %s: deactivating missing users failed: %v", run.ID, err)
	}
	return nil
}

// runCursor drains one cursor. Cancellation is checked before every fetch so
// a cancel takes effect at the next page boundary, never mid-page.
func (w *Worker) runCursor(ctx context.Context, src Source, run *models.SyncRun,
	cur jellyfin.Cursor, track func(p, u, f int)) error {
	return w.runCursorPages(ctx, src, run, cur, track, nil)
}

func (w *Worker) runCursorPages(ctx context.Context, src Source, run *models.SyncRun,
	cur jellyfin.Cursor, track func(p, u, f int), onPage func(jellyfin.Page)) error {

	for !cur.Done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if flagged, err := w.runs.CancelRequested(run.ID); err == nil && flagged {
			return errCancelled
		}

		page, err := w.fetchWithRetry(ctx, src, cur)
		if err != nil {
			return err
		}
		if onPage != nil {
			onPage(page)
		}

		res := w.applier.ApplyPage(run.ServerID, page)
		track(res.Processed, res.Upserted, res.Failed)
		if err := w.runs.AddCounters(run.ID, res.Processed, res.Upserted, res.Failed); err != nil {
			log.Printf("[sync] run %s: counter update failed: %v", run.ID, err)
		}

		cur = page.Next
	}
	return nil
}

// fetchWithRetry retries transient source failures with exponential backoff.
// Auth failures and malformed responses are fatal immediately.
func (w *Worker) fetchWithRetry(ctx context.Context, src Source, cur jellyfin.Cursor) (jellyfin.Page, error) {
	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return jellyfin.Page{}, ctx.Err()
			case <-time.After(w.retryDelay << uint(attempt-1)):
			}
		}

		page, err := src.FetchPage(ctx, cur)
		if err == nil {
			return page, nil
		}
		if !errors.Is(err, jellyfin.ErrSourceUnavailable) {
			return jellyfin.Page{}, err
		}
		lastErr = err
		log.Printf("[sync] fetch attempt %d/%d failed: %v", attempt+1, fetchAttempts, err)
	}
	return jellyfin.Page{}, fmt.Errorf("source unavailable after %d attempts: %w", fetchAttempts, lastErr)
}

func (w *Worker) finish(id uuid.UUID, status models.RunStatus, msg *string) {
	if err := w.runs.Finish(id, status, msg); err != nil {
		log.Printf("[sync] run %s: finish(%s) failed: %v", id, status, err)
	}
}

func (w *Worker) finishErr(id uuid.UUID, status models.RunStatus, cause error) {
	msg := cause.Error()
	w.finish(id, status, &msg)
}
