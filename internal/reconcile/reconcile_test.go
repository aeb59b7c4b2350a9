package reconcile_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/jellyfin"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/reconcile"
)

// ──────────────────── fakes ────────────────────

type fakeUserStore struct {
	users    map[string]*models.User
	failures int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*models.User{}}
}

func (f *fakeUserStore) Upsert(u *models.User) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("store write failed")
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	f.users[u.RemoteUserID] = u
	return nil
}

func (f *fakeUserStore) GetByRemoteID(_ uuid.UUID, remoteID string) (*models.User, error) {
	return f.users[remoteID], nil
}

type fakeLibraryStore struct {
	libraries map[string]*models.Library
}

func newFakeLibraryStore() *fakeLibraryStore {
	return &fakeLibraryStore{libraries: map[string]*models.Library{}}
}

func (f *fakeLibraryStore) Upsert(l *models.Library) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	f.libraries[l.RemoteLibraryID] = l
	return nil
}

func (f *fakeLibraryStore) GetByRemoteID(_ uuid.UUID, remoteID string) (*models.Library, error) {
	return f.libraries[remoteID], nil
}

type fakeItemStore struct {
	items map[string]*models.MediaItem
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: map[string]*models.MediaItem{}}
}

func (f *fakeItemStore) Upsert(it *models.MediaItem) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	f.items[it.RemoteItemID] = it
	return nil
}

func (f *fakeItemStore) GetByRemoteID(_ uuid.UUID, remoteID string) (*models.MediaItem, error) {
	return f.items[remoteID], nil
}

type fakeSessionStore struct {
	sessions []*models.PlaybackSession
	failures int
}

func (f *fakeSessionStore) Upsert(s *models.PlaybackSession) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("store write failed")
	}
	f.sessions = append(f.sessions, s)
	return nil
}

type fakeActivityStore struct {
	entries []*models.ActivityEntry
}

func (f *fakeActivityStore) Upsert(e *models.ActivityEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func newReconciler() (*reconcile.Reconciler, *fakeUserStore, *fakeLibraryStore, *fakeItemStore, *fakeSessionStore, *fakeActivityStore) {
	users := newFakeUserStore()
	libs := newFakeLibraryStore()
	items := newFakeItemStore()
	sessions := &fakeSessionStore{}
	activities := &fakeActivityStore{}
	return reconcile.New(users, libs, items, sessions, activities), users, libs, items, sessions, activities
}

// ──────────────────── tests ────────────────────

func TestApplyPageUpsertsUsersAndLibraries(t *testing.T) {
	r, users, libs, _, _, _ := newReconciler()
	serverID := uuid.New()

	res := r.ApplyPage(serverID, jellyfin.Page{
		Users: []jellyfin.RemoteUser{
			{RemoteID: "u1", Name: "alice", IsAdministrator: true},
			{RemoteID: "u2", Name: "bob", IsDisabled: true},
		},
		Libraries: []jellyfin.RemoteLibrary{
			{RemoteID: "l1", Name: "Movies", CollectionType: "movies"},
		},
	})

	if res.Processed != 3 || res.Upserted != 3 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if users.users["u1"].Name != "alice" || !users.users["u1"].IsAdministrator {
		t.Fatalf("user u1 not reconciled: %+v", users.users["u1"])
	}
	if users.users["u2"].IsActive {
		t.Fatalf("disabled remote user should be inactive locally")
	}
	if libs.libraries["l1"].LibraryType != "movies" {
		t.Fatalf("library not reconciled: %+v", libs.libraries["l1"])
	}
}

func TestApplyPageCountsMalformedAsFailed(t *testing.T) {
	r, _, _, _, _, _ := newReconciler()

	res := r.ApplyPage(uuid.New(), jellyfin.Page{
		Users:     []jellyfin.RemoteUser{{RemoteID: "u1", Name: "alice"}},
		Malformed: 2,
	})

	if res.Processed != 3 {
		t.Fatalf("expected malformed records to count as processed, got %d", res.Processed)
	}
	if res.Failed != 2 {
		t.Fatalf("expected 2 failed, got %d", res.Failed)
	}
	if res.Upserted != 1 {
		t.Fatalf("expected 1 upserted, got %d", res.Upserted)
	}
}

func TestApplyPageRetriesFailedWriteOnce(t *testing.T) {
	r, users, _, _, _, _ := newReconciler()
	users.failures = 1 // first write fails, retry succeeds

	res := r.ApplyPage(uuid.New(), jellyfin.Page{
		Users: []jellyfin.RemoteUser{{RemoteID: "u1", Name: "alice"}},
	})

	if res.Upserted != 1 || res.Failed != 0 {
		t.Fatalf("expected retry to recover the write, got %+v", res)
	}
}

func TestApplyPageCountsPersistentWriteFailure(t *testing.T) {
	r, users, _, _, _, _ := newReconciler()
	users.failures = 2 // first write and its retry both fail

	res := r.ApplyPage(uuid.New(), jellyfin.Page{
		Users: []jellyfin.RemoteUser{
			{RemoteID: "u1", Name: "alice"},
			{RemoteID: "u2", Name: "bob"},
		},
	})

	if res.Failed != 1 {
		t.Fatalf("expected exactly the failing record counted, got %+v", res)
	}
	if res.Upserted != 1 {
		t.Fatalf("one bad record must not abort the page, got %+v", res)
	}
	if users.users["u2"] == nil {
		t.Fatalf("second record should have been written")
	}
}

func TestApplyPageSessionNeedsKnownReferents(t *testing.T) {
	r, users, _, items, sessStore, _ := newReconciler()
	serverID := uuid.New()

	// Seed the user but not the item.
	r.ApplyPage(serverID, jellyfin.Page{
		Users: []jellyfin.RemoteUser{{RemoteID: "u1", Name: "alice"}},
	})

	start := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	res := r.ApplyPage(serverID, jellyfin.Page{
		Sessions: []jellyfin.RemoteSession{
			{RemoteUserID: "u1", RemoteItemID: "missing", StartTime: start},
		},
	})
	if res.Failed != 1 || len(sessStore.sessions) != 0 {
		t.Fatalf("session with unknown item must fail, got %+v", res)
	}

	// Once the item exists the same session reconciles.
	r.ApplyPage(serverID, jellyfin.Page{
		Items: []jellyfin.RemoteItem{{RemoteID: "m1", Name: "Heat", ItemType: "Movie"}},
	})
	res = r.ApplyPage(serverID, jellyfin.Page{
		Sessions: []jellyfin.RemoteSession{
			{RemoteUserID: "u1", RemoteItemID: "m1", StartTime: start, DurationSeconds: 600, PercentComplete: 50},
		},
	})
	if res.Upserted != 1 || len(sessStore.sessions) != 1 {
		t.Fatalf("expected session reconciled, got %+v", res)
	}

	got := sessStore.sessions[0]
	if got.UserID != users.users["u1"].ID || got.ItemID != items.items["m1"].ID {
		t.Fatalf("session not linked to local rows: %+v", got)
	}
}

func TestApplyPageClampsPercent(t *testing.T) {
	r, _, _, _, sessStore, _ := newReconciler()
	serverID := uuid.New()
	r.ApplyPage(serverID, jellyfin.Page{
		Users: []jellyfin.RemoteUser{{RemoteID: "u1", Name: "alice"}},
		Items: []jellyfin.RemoteItem{{RemoteID: "m1", Name: "Heat", ItemType: "Movie"}},
	})

	r.ApplyPage(serverID, jellyfin.Page{
		Sessions: []jellyfin.RemoteSession{
			{RemoteUserID: "u1", RemoteItemID: "m1", StartTime: time.Now(), PercentComplete: 150},
		},
	})
	if got := sessStore.sessions[0].PercentComplete; got != 100 {
		t.Fatalf("expected percent clamped to 100, got %v", got)
	}
}

func TestApplyPageStoresActivityEntries(t *testing.T) {
	r, _, _, _, _, activities := newReconciler()

	overview := "alice is playing Heat"
	res := r.ApplyPage(uuid.New(), jellyfin.Page{
		Activities: []jellyfin.RemoteActivity{
			{
				RemoteEntryID: 42,
				Name:          "PlaybackStarted",
				EntryType:     "SessionStarted",
				Severity:      "Info",
				ShortOverview: &overview,
				Timestamp:     time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC),
			},
		},
	})

	if res.Processed != 1 || res.Upserted != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(activities.entries) != 1 || activities.entries[0].RemoteEntryID != 42 {
		t.Fatalf("activity entry not stored: %+v", activities.entries)
	}
}

func TestMergeSessionMonotonic(t *testing.T) {
	existing := models.PlaybackSession{
		PlayDurationSeconds: 1200,
		PercentComplete:     80,
		Completed:           true,
	}
	stale := models.PlaybackSession{
		PlayDurationSeconds: 300,
		PercentComplete:     20,
		Completed:           false,
	}

	merged := reconcile.MergeSession(existing, stale)
	if merged.PlayDurationSeconds != 1200 {
		t.Fatalf("duration regressed: %d", merged.PlayDurationSeconds)
	}
	if merged.PercentComplete != 80 {
		t.Fatalf("percent regressed: %v", merged.PercentComplete)
	}
	if !merged.Completed {
		t.Fatalf("completion must stick")
	}

	// Re-applying the same record is a no-op.
	again := reconcile.MergeSession(merged, merged)
	if again != merged {
		t.Fatalf("merge not idempotent: %+v vs %+v", again, merged)
	}
}

func TestMergeSessionProgressAdvances(t *testing.T) {
	existing := models.PlaybackSession{PlayDurationSeconds: 300, PercentComplete: 20}
	fresher := models.PlaybackSession{PlayDurationSeconds: 900, PercentComplete: 75, Completed: true}

	merged := reconcile.MergeSession(existing, fresher)
	if merged.PlayDurationSeconds != 900 || merged.PercentComplete != 75 || !merged.Completed {
		t.Fatalf("progress did not advance: %+v", merged)
	}
}
