package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

func (r *LibraryRepository) Upsert(lib *models.Library) error {
	if lib.ID == uuid.Nil {
		lib.ID = uuid.New()
	}
	return r.db.QueryRow(`
		INSERT INTO libraries (id, server_id, remote_library_id, name, library_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (server_id, remote_library_id) DO UPDATE
		SET name = EXCLUDED.name, library_type = EXCLUDED.library_type, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		lib.ID, lib.ServerID, lib.RemoteLibraryID, lib.Name, lib.LibraryType,
	).Scan(&lib.ID, &lib.CreatedAt, &lib.UpdatedAt)
}

func (r *LibraryRepository) GetByRemoteID(serverID uuid.UUID, remoteLibraryID string) (*models.Library, error) {
	lib := &models.Library{}
	err := r.db.QueryRow(`
		SELECT id, server_id, remote_library_id, name, library_type, created_at, updated_at
		FROM libraries WHERE server_id = $1 AND remote_library_id = $2`, serverID, remoteLibraryID,
	).Scan(&lib.ID, &lib.ServerID, &lib.RemoteLibraryID, &lib.Name, &lib.LibraryType,
		&lib.CreatedAt, &lib.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lib, nil
}

func (r *LibraryRepository) ListByServer(serverID uuid.UUID) ([]models.Library, error) {
	rows, err := r.db.Query(`
		SELECT id, server_id, remote_library_id, name, library_type, created_at, updated_at
		FROM libraries WHERE server_id = $1 ORDER BY name`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Library
	for rows.Next() {
		var lib models.Library
		if err := rows.Scan(&lib.ID, &lib.ServerID, &lib.RemoteLibraryID, &lib.Name,
			&lib.LibraryType, &lib.CreatedAt, &lib.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// LibraryStats counts items per library for the dashboard.
func (r *LibraryRepository) LibraryStats(serverID uuid.UUID) ([]models.LibraryStatistics, error) {
	rows, err := r.db.Query(`
		SELECT l.id, l.name, l.library_type, COUNT(m.id)
		FROM libraries l
		LEFT JOIN media_items m ON m.library_id = l.id
		WHERE l.server_id = $1
		GROUP BY l.id, l.name, l.library_type
		ORDER BY l.name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("library stats query failed: %w", err)
	}
	defer rows.Close()

	var out []models.LibraryStatistics
	for rows.Next() {
		var ls models.LibraryStatistics
		if err := rows.Scan(&ls.LibraryID, &ls.LibraryName, &ls.LibraryType, &ls.ItemCount); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}
