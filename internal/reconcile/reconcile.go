package reconcile

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

// Narrow store views so the reconciler tests against fakes.

type UserStore interface {
	Upsert(*models.User) error
	GetByRemoteID(serverID uuid.UUID, remoteUserID string) (*models.User, error)
}

type LibraryStore interface {
	Upsert(*models.Library) error
	GetByRemoteID(serverID uuid.UUID, remoteLibraryID string) (*models.Library, error)
}

type ItemStore interface {
	Upsert(*models.MediaItem) error
	GetByRemoteID(serverID uuid.UUID, remoteItemID string) (*models.MediaItem, error)
}

type SessionStore interface {
	Upsert(*models.PlaybackSession) error
}

type ActivityStore interface {
	Upsert(*models.ActivityEntry) error
}

// PageResult reports what happened to one fetched page.
type PageResult struct {
	Processed int
	Upserted  int
	Failed    int
}

func (p *PageResult) add(other PageResult) {
	p.Processed += other.Processed
	p.Upserted += other.Upserted
	p.Failed += other.Failed
}

// Reconciler folds fetched pages into the local store. One bad record never
// aborts its page: decode failures arrive pre-counted, write failures are
// retried once and then counted.
type Reconciler struct {
	Users      UserStore
	Libraries  LibraryStore
	Items      ItemStore
	Sessions   SessionStore
	Activities ActivityStore
}

func New(users UserStore, libraries LibraryStore, items ItemStore, sessions SessionStore,
	activities ActivityStore) *Reconciler {
	return &Reconciler{
		Users:      users,
		Libraries:  libraries,
		Items:      items,
		Sessions:   sessions,
		Activities: activities,
	}
}

// ApplyPage reconciles every record in the page and returns the counts.
// Records the source could not decode count as processed and failed.
func (r *Reconciler) ApplyPage(serverID uuid.UUID, page jellyfin.Page) PageResult {
	res := PageResult{Processed: page.Malformed, Failed: page.Malformed}

	for _, u := range page.Users {
		res.add(r.applyUser(serverID, u))
	}
	for _, l := range page.Libraries {
		res.add(r.applyLibrary(serverID, l))
	}
	for _, it := range page.Items {
		res.add(r.applyItem(serverID, it))
	}
	for _, s := range page.Sessions {
		res.add(r.applySession(serverID, s))
	}
	for _, a := range page.Activities {
		res.add(r.applyActivity(serverID, a))
	}
	return res
}

func (r *Reconciler) applyUser(serverID uuid.UUID, ru jellyfin.RemoteUser) PageResult {
	u := &models.User{
		ServerID:        serverID,
		RemoteUserID:    ru.RemoteID,
		Name:            ru.Name,
		IsAdministrator: ru.IsAdministrator,
		IsActive:        !ru.IsDisabled,
		LastSeenAt:      ru.LastActivity,
	}
	if err := writeWithRetry(func() error { return r.Users.Upsert(u) }); err != nil {
		log.Printf("[reconcile] user %s write failed: %v", ru.RemoteID, err)
		return PageResult{Processed: 1, Failed: 1}
	}
	return PageResult{Processed: 1, Upserted: 1}
}

func (r *Reconciler) applyLibrary(serverID uuid.UUID, rl jellyfin.RemoteLibrary) PageResult {
	lib := &models.Library{
		ServerID:        serverID,
		RemoteLibraryID: rl.RemoteID,
		Name:            rl.Name,
		LibraryType:     rl.CollectionType,
	}
	if err := writeWithRetry(func() error { return r.Libraries.Upsert(lib) }); err != nil {
		log.Printf("[reconcile] library %s write failed: %v", rl.RemoteID, err)
		return PageResult{Processed: 1, Failed: 1}
	}
	return PageResult{Processed: 1, Upserted: 1}
}

func (r *Reconciler) applyItem(serverID uuid.UUID, ri jellyfin.RemoteItem) PageResult {
	it := &models.MediaItem{
		ServerID:       serverID,
		RemoteItemID:   ri.RemoteID,
		Name:           ri.Name,
		ItemType:       models.ItemType(ri.ItemType),
		SeriesName:     ri.SeriesName,
		SeriesRemoteID: ri.SeriesRemoteID,
		SeasonRemoteID: ri.SeasonRemoteID,
		RuntimeSeconds: ri.RuntimeSeconds,
		ProductionYear: ri.ProductionYear,
	}
	if ri.LibraryRemoteID != "" {
		if lib, err := r.Libraries.GetByRemoteID(serverID, ri.LibraryRemoteID); err == nil && lib != nil {
			it.LibraryID = &lib.ID
		}
	}
	if err := writeWithRetry(func() error { return r.Items.Upsert(it) }); err != nil {
		log.Printf("[reconcile] item %s write failed: %v", ri.RemoteID, err)
		return PageResult{Processed: 1, Failed: 1}
	}
	return PageResult{Processed: 1, Upserted: 1}
}

// applySession resolves the remote user and item to local rows first. A
// session referencing something not yet mirrored counts failed; the next
// full sync picks it up once the referents exist.
func (r *Reconciler) applySession(serverID uuid.UUID, rs jellyfin.RemoteSession) PageResult {
	user, err := r.Users.GetByRemoteID(serverID, rs.RemoteUserID)
	if err != nil || user == nil {
		log.Printf("[reconcile] session for unknown user %s skipped", rs.RemoteUserID)
		return PageResult{Processed: 1, Failed: 1}
	}
	item, err := r.Items.GetByRemoteID(serverID, rs.RemoteItemID)
	if err != nil || item == nil {
		log.Printf("[reconcile] session for unknown item %s skipped", rs.RemoteItemID)
		return PageResult{Processed: 1, Failed: 1}
	}

	s := &models.PlaybackSession{
		ServerID:            serverID,
		UserID:              user.ID,
		ItemID:              item.ID,
		RemoteSessionKey:    rs.SessionKey,
		StartTime:           rs.StartTime,
		PlayDurationSeconds: rs.DurationSeconds,
		PercentComplete:     clampPercent(rs.PercentComplete),
		Completed:           rs.Completed,
		ClientName:          rs.ClientName,
		DeviceName:          rs.DeviceName,
	}
	if err := writeWithRetry(func() error { return r.Sessions.Upsert(s) }); err != nil {
		log.Printf("[reconcile] session write failed: %v", err)
		return PageResult{Processed: 1, Failed: 1}
	}
	return PageResult{Processed: 1, Upserted: 1}
}

func (r *Reconciler) applyActivity(serverID uuid.UUID, ra jellyfin.RemoteActivity) PageResult {
	e := &models.ActivityEntry{
		ServerID:      serverID,
		RemoteEntryID: ra.RemoteEntryID,
		Name:          ra.Name,
		EntryType:     ra.EntryType,
		Severity:      ra.Severity,
		ShortOverview: ra.ShortOverview,
		RemoteUserID:  ra.RemoteUserID,
		Timestamp:     ra.Timestamp,
	}
	if err := writeWithRetry(func() error { return r.Activities.Upsert(e) }); err != nil {
		log.Printf("[reconcile] activity entry %d write failed: %v", ra.RemoteEntryID, err)
		return PageResult{Processed: 1, Failed: 1}
	}
	return PageResult{Processed: 1, Upserted: 1}
}

// MergeSession is the pure form of the session merge rule the store
// enforces: completion sticks, progress counters never shrink, identity
// fields keep their first value.
func MergeSession(existing, incoming models.PlaybackSession) models.PlaybackSession {
	merged := existing
	if incoming.PlayDurationSeconds > merged.PlayDurationSeconds {
		merged.PlayDurationSeconds = incoming.PlayDurationSeconds
	}
	if incoming.PercentComplete > merged.PercentComplete {
		merged.PercentComplete = incoming.PercentComplete
	}
	merged.Completed = merged.Completed || incoming.Completed
	if merged.ClientName == nil {
		merged.ClientName = incoming.ClientName
	}
	if merged.DeviceName == nil {
		merged.DeviceName = incoming.DeviceName
	}
	return merged
}

// writeWithRetry retries a failed store write exactly once.
func writeWithRetry(fn func() error) error {
	if err := fn(); err != nil {
		time.Sleep(50 * time.Millisecond)
		return fn()
	}
	return nil
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
