package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert inserts or refreshes a user keyed on (server, remote id). Remote
// fields win; local ids and history rows stay stable across re-syncs.
func (r *UserRepository) Upsert(u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return r.db.QueryRow(`
		INSERT INTO users (id, server_id, remote_user_id, name, is_administrator, is_active, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (server_id, remote_user_id) DO UPDATE
		SET name = EXCLUDED.name, is_administrator = EXCLUDED.is_administrator,
		    is_active = EXCLUDED.is_active,
		    last_seen_at = GREATEST(users.last_seen_at, EXCLUDED.last_seen_at),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		u.ID, u.ServerID, u.RemoteUserID, u.Name, u.IsAdministrator, u.IsActive, u.LastSeenAt,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// DeactivateMissing flags users absent from the latest remote snapshot.
// Users are never deleted so existing history keeps resolving.
func (r *UserRepository) DeactivateMissing(serverID uuid.UUID, seenRemoteIDs []string, cutoff time.Time) error {
	_, err := r.db.Exec(`
		UPDATE users SET is_active = FALSE, updated_at = NOW()
		WHERE server_id = $1 AND updated_at < $2
		  AND NOT (remote_user_id = ANY($3))`,
		serverID, cutoff, pq.Array(seenRemoteIDs))
	return err
}

func (r *UserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT id, server_id, remote_user_id, name, is_administrator, is_active, last_seen_at, created_at, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.ServerID, &u.RemoteUserID, &u.Name, &u.IsAdministrator,
		&u.IsActive, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	return u, nil
}

// GetByRemoteID returns nil without error when the user is unknown.
func (r *UserRepository) GetByRemoteID(serverID uuid.UUID, remoteUserID string) (*models.User, error) {
	u := &models.User{}
	err := r.db.QueryRow(`
		SELECT id, server_id, remote_user_id, name, is_administrator, is_active, last_seen_at, created_at, updated_at
		FROM users WHERE server_id = $1 AND remote_user_id = $2`, serverID, remoteUserID,
	).Scan(&u.ID, &u.ServerID, &u.RemoteUserID, &u.Name, &u.IsAdministrator,
		&u.IsActive, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepository) ListByServer(serverID uuid.UUID) ([]models.User, error) {
	rows, err := r.db.Query(`
		SELECT id, server_id, remote_user_id, name, is_administrator, is_active, last_seen_at, created_at, updated_at
		FROM users WHERE server_id = $1 ORDER BY name`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.ServerID, &u.RemoteUserID, &u.Name, &u.IsAdministrator,
			&u.IsActive, &u.LastSeenAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
