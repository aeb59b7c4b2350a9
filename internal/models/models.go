package models

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Enums ────────────────────

type SyncKind string

const (
	SyncFull      SyncKind = "full"
	SyncPartial   SyncKind = "partial"
	SyncUsers     SyncKind = "users"
	SyncLibraries SyncKind = "libraries"
)

// ValidSyncKind reports whether k names a known sync task kind.
func ValidSyncKind(k SyncKind) bool {
	switch k {
	case SyncFull, SyncPartial, SyncUsers, SyncLibraries:
		return true
	}
	return false
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal runs never change
// again.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

type ItemType string

const (
	ItemMovie   ItemType = "Movie"
	ItemEpisode ItemType = "Episode"
	ItemSeason  ItemType = "Season"
	ItemSeries  ItemType = "Series"
)

// ──────────────────── Server ────────────────────

type Server struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	BaseURL      string     `json:"base_url" db:"base_url"`
	APIKey       string     `json:"-" db:"api_key"`
	Timezone     string     `json:"timezone" db:"timezone"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Location resolves the configured timezone, falling back to UTC when the
// name is empty or unknown.
func (s *Server) Location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ──────────────────── Library ────────────────────

type Library struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ServerID        uuid.UUID `json:"server_id" db:"server_id"`
	RemoteLibraryID string    `json:"remote_library_id" db:"remote_library_id"`
	Name            string    `json:"name" db:"name"`
	LibraryType     string    `json:"library_type" db:"library_type"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// ──────────────────── User ────────────────────

// User mirrors a media-server account. Users are never deleted locally;
// accounts that disappear upstream are flagged inactive so history keeps
// resolving.
type User struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	ServerID        uuid.UUID  `json:"server_id" db:"server_id"`
	RemoteUserID    string     `json:"remote_user_id" db:"remote_user_id"`
	Name            string     `json:"name" db:"name"`
	IsAdministrator bool       `json:"is_administrator" db:"is_administrator"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Media Item ────────────────────

type MediaItem struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ServerID       uuid.UUID  `json:"server_id" db:"server_id"`
	RemoteItemID   string     `json:"remote_item_id" db:"remote_item_id"`
	LibraryID      *uuid.UUID `json:"library_id,omitempty" db:"library_id"`
	Name           string     `json:"name" db:"name"`
	ItemType       ItemType   `json:"item_type" db:"item_type"`
	SeriesName     *string    `json:"series_name,omitempty" db:"series_name"`
	SeriesRemoteID *string    `json:"series_remote_id,omitempty" db:"series_remote_id"`
	SeasonRemoteID *string    `json:"season_remote_id,omitempty" db:"season_remote_id"`
	RuntimeSeconds *int       `json:"runtime_seconds,omitempty" db:"runtime_seconds"`
	ProductionYear *int       `json:"production_year,omitempty" db:"production_year"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Playback Session (watch history) ────────────────────

// PlaybackSession is one playback attempt mirrored from the remote server.
// Rows only ever move forward: completion never unsets and progress counters
// never shrink for the same session key.
type PlaybackSession struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	ServerID            uuid.UUID `json:"server_id" db:"server_id"`
	UserID              uuid.UUID `json:"user_id" db:"user_id"`
	ItemID              uuid.UUID `json:"item_id" db:"item_id"`
	RemoteSessionKey    *string   `json:"remote_session_key,omitempty" db:"remote_session_key"`
	StartTime           time.Time `json:"start_time" db:"start_time"`
	PlayDurationSeconds int       `json:"play_duration_seconds" db:"play_duration_seconds"`
	PercentComplete     float64   `json:"percent_complete" db:"percent_complete"`
	Completed           bool      `json:"completed" db:"completed"`
	ClientName          *string   `json:"client_name,omitempty" db:"client_name"`
	DeviceName          *string   `json:"device_name,omitempty" db:"device_name"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// ──────────────────── Activity Entry ────────────────────

// ActivityEntry mirrors one row of the remote activity log. Entries are
// immutable upstream, so reconciliation is insert-or-ignore on the remote id.
type ActivityEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ServerID      uuid.UUID `json:"server_id" db:"server_id"`
	RemoteEntryID int64     `json:"remote_entry_id" db:"remote_entry_id"`
	Name          string    `json:"name" db:"name"`
	EntryType     string    `json:"entry_type" db:"entry_type"`
	Severity      string    `json:"severity" db:"severity"`
	ShortOverview *string   `json:"short_overview,omitempty" db:"short_overview"`
	RemoteUserID  *string   `json:"remote_user_id,omitempty" db:"remote_user_id"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ──────────────────── Sync Run ────────────────────

type SyncRun struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	ServerID         uuid.UUID  `json:"server_id" db:"server_id"`
	Kind             SyncKind   `json:"kind" db:"kind"`
	Status           RunStatus  `json:"status" db:"status"`
	RecordsProcessed int        `json:"records_processed" db:"records_processed"`
	RecordsUpserted  int        `json:"records_upserted" db:"records_upserted"`
	RecordsFailed    int        `json:"records_failed" db:"records_failed"`
	LastError        *string    `json:"last_error,omitempty" db:"last_error"`
	CancelRequested  bool       `json:"cancel_requested" db:"cancel_requested"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// ──────────────────── Active Session (live, never persisted) ────────────────────

type ActiveSession struct {
	SessionKey       string   `json:"session_key"`
	UserName         string   `json:"user_name"`
	RemoteUserID     string   `json:"remote_user_id"`
	ItemName         string   `json:"item_name"`
	RemoteItemID     string   `json:"remote_item_id"`
	ItemType         string   `json:"item_type"`
	ClientName       string   `json:"client_name"`
	DeviceName       string   `json:"device_name"`
	PositionSeconds  int      `json:"position_seconds"`
	RuntimeSeconds   int      `json:"runtime_seconds"`
	IsPaused         bool     `json:"is_paused"`
	PlayMethod       string   `json:"play_method"`
	Container        string   `json:"container,omitempty"`
	VideoCodec       string   `json:"video_codec,omitempty"`
	AudioCodec       string   `json:"audio_codec,omitempty"`
	BitrateBps       int64    `json:"bitrate_bps,omitempty"`
	Width            int      `json:"width,omitempty"`
	Height           int      `json:"height,omitempty"`
	IsTranscoding    bool     `json:"is_transcoding"`
	TranscodeVideo   string   `json:"transcode_video_codec,omitempty"`
	TranscodeAudio   string   `json:"transcode_audio_codec,omitempty"`
	TranscodeReasons []string `json:"transcode_reasons,omitempty"`
	HardwareAccel    bool     `json:"hardware_accel"`
}

// ──────────────────── Aggregate Results ────────────────────

type ItemStatistics struct {
	ItemID            uuid.UUID        `json:"item_id"`
	ItemName          string           `json:"item_name,omitempty"`
	TotalViews        int              `json:"total_views"`
	TotalWatchSeconds int64            `json:"total_watch_seconds"`
	CompletionRate    float64          `json:"completion_rate"`
	FirstWatched      *time.Time       `json:"first_watched,omitempty"`
	LastWatched       *time.Time       `json:"last_watched,omitempty"`
	UsersWatched      []UserViewCount  `json:"users_watched"`
	MonthlyViews      []MonthViewCount `json:"monthly_views"`
}

type UserViewCount struct {
	UserID       uuid.UUID `json:"user_id"`
	Views        int       `json:"views"`
	WatchSeconds int64     `json:"watch_seconds"`
}

// MonthViewCount buckets views into a calendar month in the server timezone.
type MonthViewCount struct {
	Month string `json:"month"` // YYYY-MM
	Views int    `json:"views"`
}

type UserWatchStats struct {
	UserID            uuid.UUID  `json:"user_id"`
	UserName          string     `json:"user_name,omitempty"`
	TotalPlays        int        `json:"total_plays"`
	TotalWatchSeconds int64      `json:"total_watch_seconds"`
	LastSessionAt     *time.Time `json:"last_session_at,omitempty"`
	LastItemID        *uuid.UUID `json:"last_item_id,omitempty"`
}

type MostPopularItem struct {
	ItemID            uuid.UUID `json:"item_id"`
	ItemName          string    `json:"item_name,omitempty"`
	TotalWatchSeconds int64     `json:"total_watch_seconds"`
	TotalPlays        int       `json:"total_plays"`
}

// DayBucket is one zero-filled day in a per-day series.
type DayBucket struct {
	Date         string `json:"date"` // YYYY-MM-DD
	ActiveUsers  int    `json:"active_users"`
	Plays        int    `json:"plays"`
	WatchSeconds int64  `json:"watch_seconds"`
}

type LibraryStatistics struct {
	LibraryID   uuid.UUID `json:"library_id"`
	LibraryName string    `json:"library_name"`
	LibraryType string    `json:"library_type"`
	ItemCount   int       `json:"item_count"`
}

// ──────────────────── Job Status ────────────────────

// ServerStatus lets a poller tell "never synced" from "failed" from
// "succeeded N minutes ago".
type ServerStatus struct {
	ServerID    uuid.UUID  `json:"server_id"`
	ServerName  string     `json:"server_name"`
	NeverSynced bool       `json:"never_synced"`
	ActiveRun   *SyncRun   `json:"active_run,omitempty"`
	LastRun     *SyncRun   `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}
