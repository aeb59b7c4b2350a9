package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

// ConflictError reports that a server already has a pending or running sync.
// The existing run rides along so callers can surface it.
type ConflictError struct {
	Existing *models.SyncRun
}

func (e *ConflictError) Error() string {
	if e.Existing != nil {
		return fmt.Sprintf("sync already active: run %s", e.Existing.ID)
	}
	return "sync already active"
}

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, server_id, kind, status, records_processed, records_upserted,
	records_failed, last_error, cancel_requested, started_at, finished_at`

func scanRun(row interface{ Scan(dest ...interface{}) error }) (*models.SyncRun, error) {
	run := &models.SyncRun{}
	err := row.Scan(&run.ID, &run.ServerID, &run.Kind, &run.Status,
		&run.RecordsProcessed, &run.RecordsUpserted, &run.RecordsFailed,
		&run.LastError, &run.CancelRequested, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Create inserts a pending run. The partial unique index on active runs
// makes this the compare-and-swap that guarantees at most one pending or
// running sync per server, across processes and restarts. A second trigger
// gets a ConflictError carrying the run that is already active.
func (r *RunRepository) Create(serverID uuid.UUID, kind models.SyncKind) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:       uuid.New(),
		ServerID: serverID,
		Kind:     kind,
		Status:   models.RunPending,
	}
	err := r.db.QueryRow(`
		INSERT INTO sync_runs (id, server_id, kind, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`,
		run.ID, run.ServerID, run.Kind, run.Status,
	).Scan(&run.StartedAt)
	if err == nil {
		return run, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		existing, getErr := r.GetActive(serverID)
		if getErr != nil {
			return nil, fmt.Errorf("sync already active: %w", getErr)
		}
		return nil, &ConflictError{Existing: existing}
	}
	return nil, fmt.Errorf("failed to create sync run: %w", err)
}

// MarkRunning moves a pending run to running. A run already in running is
// adopted as well: after a worker crash the queue redelivers the task, and
// the new worker must re-execute the run rather than strand it on the
// active-run index. Terminal runs stay put.
func (r *RunRepository) MarkRunning(id uuid.UUID) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE sync_runs SET status = $2
		WHERE id = $1 AND status IN ($3, $2)`,
		id, models.RunRunning, models.RunPending)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Finish records a terminal status. Runs already terminal are untouched.
func (r *RunRepository) Finish(id uuid.UUID, status models.RunStatus, lastError *string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	_, err := r.db.Exec(`
		UPDATE sync_runs SET status = $2, last_error = $3, finished_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		id, status, lastError)
	return err
}

// AddCounters accumulates per-page progress so an observer polling the run
// sees it move.
func (r *RunRepository) AddCounters(id uuid.UUID, processed, upserted, failed int) error {
	_, err := r.db.Exec(`
		UPDATE sync_runs
		SET records_processed = records_processed + $2,
		    records_upserted = records_upserted + $3,
		    records_failed = records_failed + $4
		WHERE id = $1`,
		id, processed, upserted, failed)
	return err
}

// RequestCancel flags an active run. The worker honors the flag at the next
// page boundary; terminal runs are left alone.
func (r *RunRepository) RequestCancel(id uuid.UUID) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE sync_runs SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *RunRepository) CancelRequested(id uuid.UUID) (bool, error) {
	var flagged bool
	err := r.db.QueryRow(
		"SELECT cancel_requested FROM sync_runs WHERE id = $1", id).Scan(&flagged)
	return flagged, err
}

func (r *RunRepository) GetByID(id uuid.UUID) (*models.SyncRun, error) {
	run, err := scanRun(r.db.QueryRow(
		`SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync run not found")
	}
	return run, err
}

// GetActive returns the pending or running run for a server, nil when idle.
func (r *RunRepository) GetActive(serverID uuid.UUID) (*models.SyncRun, error) {
	run, err := scanRun(r.db.QueryRow(`
		SELECT `+runColumns+` FROM sync_runs
		WHERE server_id = $1 AND status IN ('pending', 'running')`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *RunRepository) ListByServer(serverID uuid.UUID, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT `+runColumns+` FROM sync_runs
		WHERE server_id = $1 ORDER BY started_at DESC LIMIT $2`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// LastRun returns the most recently started run, nil when the server has
// never synced.
func (r *RunRepository) LastRun(serverID uuid.UUID) (*models.SyncRun, error) {
	run, err := scanRun(r.db.QueryRow(`
		SELECT `+runColumns+` FROM sync_runs
		WHERE server_id = $1 ORDER BY started_at DESC LIMIT 1`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// LastSuccess returns the most recent succeeded run, nil when none exists.
func (r *RunRepository) LastSuccess(serverID uuid.UUID) (*models.SyncRun, error) {
	run, err := scanRun(r.db.QueryRow(`
		SELECT `+runColumns+` FROM sync_runs
		WHERE server_id = $1 AND status = 'succeeded'
		ORDER BY finished_at DESC LIMIT 1`, serverID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}
