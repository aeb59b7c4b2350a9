package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, server_id, user_id, item_id, remote_session_key, start_time,
	play_duration_seconds, percent_complete, completed, client_name, device_name,
	created_at, updated_at`

func scanSession(row interface{ Scan(dest ...interface{}) error }) (models.PlaybackSession, error) {
	var s models.PlaybackSession
	err := row.Scan(&s.ID, &s.ServerID, &s.UserID, &s.ItemID, &s.RemoteSessionKey,
		&s.StartTime, &s.PlayDurationSeconds, &s.PercentComplete, &s.Completed,
		&s.ClientName, &s.DeviceName, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Upsert writes a playback session, identified by the remote session key
// when present and by (user, item, start_time) otherwise. Progress never
// moves backwards: completion sticks and counters only grow.
func (r *SessionRepository) Upsert(s *models.PlaybackSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	conflict := `(server_id, user_id, item_id, start_time) WHERE remote_session_key IS NULL`
	if s.RemoteSessionKey != nil {
		conflict = `(server_id, remote_session_key) WHERE remote_session_key IS NOT NULL`
	}

	query := `
		INSERT INTO playback_sessions (id, server_id, user_id, item_id, remote_session_key,
		       start_time, play_duration_seconds, percent_complete, completed, client_name, device_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT ` + conflict + ` DO UPDATE
		SET play_duration_seconds = GREATEST(playback_sessions.play_duration_seconds, EXCLUDED.play_duration_seconds),
		    percent_complete = GREATEST(playback_sessions.percent_complete, EXCLUDED.percent_complete),
		    completed = playback_sessions.completed OR EXCLUDED.completed,
		    client_name = COALESCE(EXCLUDED.client_name, playback_sessions.client_name),
		    device_name = COALESCE(EXCLUDED.device_name, playback_sessions.device_name),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at`

	return r.db.QueryRow(query,
		s.ID, s.ServerID, s.UserID, s.ItemID, s.RemoteSessionKey,
		s.StartTime, s.PlayDurationSeconds, s.PercentComplete, s.Completed,
		s.ClientName, s.DeviceName,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// ListByServer returns sessions for a server, optionally bounded by start
// time. Ordered by start time so aggregation output is deterministic.
func (r *SessionRepository) ListByServer(serverID uuid.UUID, from, to *time.Time) ([]models.PlaybackSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM playback_sessions WHERE server_id = $1`
	args := []interface{}{serverID}
	if from != nil {
		args = append(args, *from)
		query += ` AND start_time >= $2`
	}
	if to != nil {
		args = append(args, *to)
		if from != nil {
			query += ` AND start_time <= $3`
		} else {
			query += ` AND start_time <= $2`
		}
	}
	query += ` ORDER BY start_time, id`

	return r.list(query, args...)
}

func (r *SessionRepository) ListByItem(itemID uuid.UUID) ([]models.PlaybackSession, error) {
	return r.list(`SELECT `+sessionColumns+` FROM playback_sessions
		WHERE item_id = $1 ORDER BY start_time, id`, itemID)
}

func (r *SessionRepository) ListByUser(userID uuid.UUID) ([]models.PlaybackSession, error) {
	return r.list(`SELECT `+sessionColumns+` FROM playback_sessions
		WHERE user_id = $1 ORDER BY start_time, id`, userID)
}

func (r *SessionRepository) list(query string, args ...interface{}) ([]models.PlaybackSession, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PlaybackSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
