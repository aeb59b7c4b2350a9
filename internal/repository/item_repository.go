package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) Upsert(it *models.MediaItem) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	return r.db.QueryRow(`
		INSERT INTO media_items (id, server_id, remote_item_id, library_id, name, item_type,
		       series_name, series_remote_id, season_remote_id, runtime_seconds, production_year)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (server_id, remote_item_id) DO UPDATE
		SET library_id = COALESCE(EXCLUDED.library_id, media_items.library_id),
		    name = EXCLUDED.name, item_type = EXCLUDED.item_type,
		    series_name = EXCLUDED.series_name, series_remote_id = EXCLUDED.series_remote_id,
		    season_remote_id = EXCLUDED.season_remote_id,
		    runtime_seconds = EXCLUDED.runtime_seconds,
		    production_year = EXCLUDED.production_year, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		it.ID, it.ServerID, it.RemoteItemID, it.LibraryID, it.Name, it.ItemType,
		it.SeriesName, it.SeriesRemoteID, it.SeasonRemoteID, it.RuntimeSeconds, it.ProductionYear,
	).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
}

func (r *ItemRepository) GetByID(id uuid.UUID) (*models.MediaItem, error) {
	it := &models.MediaItem{}
	err := r.db.QueryRow(`
		SELECT id, server_id, remote_item_id, library_id, name, item_type,
		       series_name, series_remote_id, season_remote_id, runtime_seconds, production_year,
		       created_at, updated_at
		FROM media_items WHERE id = $1`, id,
	).Scan(&it.ID, &it.ServerID, &it.RemoteItemID, &it.LibraryID, &it.Name, &it.ItemType,
		&it.SeriesName, &it.SeriesRemoteID, &it.SeasonRemoteID, &it.RuntimeSeconds,
		&it.ProductionYear, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("media item not found: %w", err)
	}
	return it, nil
}

// GetByRemoteID returns nil without error when the item is unknown.
func (r *ItemRepository) GetByRemoteID(serverID uuid.UUID, remoteItemID string) (*models.MediaItem, error) {
	it := &models.MediaItem{}
	err := r.db.QueryRow(`
		SELECT id, server_id, remote_item_id, library_id, name, item_type,
		       series_name, series_remote_id, season_remote_id, runtime_seconds, production_year,
		       created_at, updated_at
		FROM media_items WHERE server_id = $1 AND remote_item_id = $2`, serverID, remoteItemID,
	).Scan(&it.ID, &it.ServerID, &it.RemoteItemID, &it.LibraryID, &it.Name, &it.ItemType,
		&it.SeriesName, &it.SeriesRemoteID, &it.SeasonRemoteID, &it.RuntimeSeconds,
		&it.ProductionYear, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *ItemRepository) ListByServer(serverID uuid.UUID) ([]models.MediaItem, error) {
	rows, err := r.db.Query(`
		SELECT id, server_id, remote_item_id, library_id, name, item_type,
		       series_name, series_remote_id, season_remote_id, runtime_seconds, production_year,
		       created_at, updated_at
		FROM media_items WHERE server_id = $1 ORDER BY name`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MediaItem
	for rows.Next() {
		var it models.MediaItem
		if err := rows.Scan(&it.ID, &it.ServerID, &it.RemoteItemID, &it.LibraryID, &it.Name,
			&it.ItemType, &it.SeriesName, &it.SeriesRemoteID, &it.SeasonRemoteID,
			&it.RuntimeSeconds, &it.ProductionYear, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
