package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type ServerRepository struct {
	db *sql.DB
}

func NewServerRepository(db *sql.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

// Upsert registers a server keyed on its base URL. Re-running with the same
// URL refreshes the name, key and timezone instead of creating a duplicate.
func (r *ServerRepository) Upsert(s *models.Server) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return r.db.QueryRow(`
		INSERT INTO servers (id, name, base_url, api_key, timezone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (base_url) DO UPDATE
		SET name = EXCLUDED.name, api_key = EXCLUDED.api_key,
		    timezone = EXCLUDED.timezone, updated_at = NOW()
		RETURNING id, last_synced_at, created_at, updated_at`,
		s.ID, s.Name, s.BaseURL, s.APIKey, s.Timezone,
	).Scan(&s.ID, &s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt)
}

func (r *ServerRepository) GetByID(id uuid.UUID) (*models.Server, error) {
	s := &models.Server{}
	err := r.db.QueryRow(`
		SELECT id, name, base_url, api_key, timezone, last_synced_at, created_at, updated_at
		FROM servers WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.BaseURL, &s.APIKey, &s.Timezone,
		&s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("server not found: %w", err)
	}
	return s, nil
}

func (r *ServerRepository) List() ([]models.Server, error) {
	rows, err := r.db.Query(`
		SELECT id, name, base_url, api_key, timezone, last_synced_at, created_at, updated_at
		FROM servers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Server
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.Name, &s.BaseURL, &s.APIKey, &s.Timezone,
			&s.LastSyncedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Watermark returns the incremental-sync cutoff for a server, nil when the
// server has never completed a successful sync.
func (r *ServerRepository) Watermark(serverID uuid.UUID) (*time.Time, error) {
	var wm *time.Time
	err := r.db.QueryRow(
		"SELECT last_synced_at FROM servers WHERE id = $1", serverID,
	).Scan(&wm)
	if err != nil {
		return nil, fmt.Errorf("server not found: %w", err)
	}
	return wm, nil
}

// AdvanceWatermark moves the cutoff forward. Callers only invoke this after
// a run finishes with status succeeded; the guard keeps it monotonic anyway.
func (r *ServerRepository) AdvanceWatermark(serverID uuid.UUID, to time.Time) error {
	_, err := r.db.Exec(`
		UPDATE servers SET last_synced_at = $2, updated_at = NOW()
		WHERE id = $1 AND (last_synced_at IS NULL OR last_synced_at < $2)`,
		serverID, to)
	return err
}
