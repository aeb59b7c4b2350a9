package repository

import (
	"database/sql"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Upsert stores one activity log entry. Entries are immutable upstream, so a
// replay of the same remote id is a no-op.
func (r *ActivityRepository) Upsert(entry *models.ActivityEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.QueryRow(`
		INSERT INTO activity_entries
			(id, server_id, remote_entry_id, name, entry_type, severity, short_overview, remote_user_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (server_id, remote_entry_id) DO UPDATE
		SET id = activity_entries.id
		RETURNING id, created_at`,
		entry.ID, entry.ServerID, entry.RemoteEntryID, entry.Name, entry.EntryType,
		entry.Severity, entry.ShortOverview, entry.RemoteUserID, entry.Timestamp,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByServer returns the newest entries first. A non-positive limit
// defaults to 100.
func (r *ActivityRepository) ListByServer(serverID uuid.UUID, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(`
		SELECT id, server_id, remote_entry_id, name, entry_type, severity,
		       short_overview, remote_user_id, timestamp, created_at
		FROM activity_entries
		WHERE server_id = $1
		ORDER BY timestamp DESC, remote_entry_id DESC
		LIMIT $2`, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.ID, &e.ServerID, &e.RemoteEntryID, &e.Name, &e.EntryType,
			&e.Severity, &e.ShortOverview, &e.RemoteUserID, &e.Timestamp, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
