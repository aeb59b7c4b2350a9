package jobs

import (
	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

// ──────── Payloads ────────

type SyncRunPayload struct {
	RunID    uuid.UUID       `json:"run_id"`
	ServerID uuid.UUID       `json:"server_id"`
	Kind     models.SyncKind `json:"kind"`
}

// SyncTaskID is the deterministic task id used for enqueue dedupe. One id
// per server keeps concurrent triggers from racing past the queue.
func SyncTaskID(serverID uuid.UUID) string {
	return "sync:" + serverID.String()
}
