package stats_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/stats"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	return ts
}

func session(userID, itemID uuid.UUID, start time.Time, duration int, completed bool) models.PlaybackSession {
	return models.PlaybackSession{
		ID:                  uuid.New(),
		UserID:              userID,
		ItemID:              itemID,
		StartTime:           start,
		PlayDurationSeconds: duration,
		Completed:           completed,
	}
}

func TestComputeItemStatistics(t *testing.T) {
	itemID := uuid.New()
	userA := uuid.New()
	userB := uuid.New()
	base := mustParse(t, "2024-03-01T20:00:00Z")

	sessions := []models.PlaybackSession{
		session(userA, itemID, base, 1200, true),
		session(userB, itemID, base.Add(24*time.Hour), 300, false),
		session(userA, itemID, base.Add(48*time.Hour), 1200, true),
	}

	stat := stats.ComputeItemStatistics(itemID, sessions, time.UTC)

	if stat.TotalViews != 3 {
		t.Fatalf("expected 3 views, got %d", stat.TotalViews)
	}
	if stat.TotalWatchSeconds != 2700 {
		t.Fatalf("expected 2700 watch seconds, got %d", stat.TotalWatchSeconds)
	}
	want := 2.0 / 3.0
	if stat.CompletionRate < want-1e-9 || stat.CompletionRate > want+1e-9 {
		t.Fatalf("expected completion rate %v, got %v", want, stat.CompletionRate)
	}
	if stat.FirstWatched == nil || !stat.FirstWatched.Equal(base) {
		t.Fatalf("expected first watched %v, got %v", base, stat.FirstWatched)
	}
	if stat.LastWatched == nil || !stat.LastWatched.Equal(base.Add(48*time.Hour)) {
		t.Fatalf("expected last watched %v, got %v", base.Add(48*time.Hour), stat.LastWatched)
	}
	if len(stat.UsersWatched) != 2 {
		t.Fatalf("expected 2 watchers, got %d", len(stat.UsersWatched))
	}
	if stat.UsersWatched[0].UserID != userA || stat.UsersWatched[0].Views != 2 {
		t.Fatalf("expected heaviest watcher first, got %+v", stat.UsersWatched[0])
	}
	if len(stat.MonthlyViews) != 1 || stat.MonthlyViews[0].Month != "2024-03" || stat.MonthlyViews[0].Views != 3 {
		t.Fatalf("unexpected monthly views: %+v", stat.MonthlyViews)
	}
}

func TestComputeItemStatisticsIgnoresOtherItems(t *testing.T) {
	itemID := uuid.New()
	other := uuid.New()
	base := mustParse(t, "2024-03-01T20:00:00Z")

	sessions := []models.PlaybackSession{
		session(uuid.New(), itemID, base, 600, true),
		session(uuid.New(), other, base, 9999, true),
	}

	stat := stats.ComputeItemStatistics(itemID, sessions, nil)
	if stat.TotalViews != 1 || stat.TotalWatchSeconds != 600 {
		t.Fatalf("foreign item leaked into aggregate: %+v", stat)
	}
}

func TestComputeItemStatisticsEmptyInput(t *testing.T) {
	stat := stats.ComputeItemStatistics(uuid.New(), nil, nil)

	if stat.TotalViews != 0 || stat.TotalWatchSeconds != 0 {
		t.Fatalf("expected zero totals, got %+v", stat)
	}
	if stat.CompletionRate != 0 {
		t.Fatalf("expected completion rate 0 for empty input, got %v", stat.CompletionRate)
	}
	if stat.FirstWatched != nil || stat.LastWatched != nil {
		t.Fatalf("expected nil watch bounds for empty input")
	}
	if stat.UsersWatched == nil || stat.MonthlyViews == nil {
		t.Fatalf("expected empty slices, not nil")
	}
}

func TestComputeUserWatchStats(t *testing.T) {
	userID := uuid.New()
	itemA := uuid.New()
	itemB := uuid.New()
	base := mustParse(t, "2024-05-10T08:00:00Z")

	sessions := []models.PlaybackSession{
		session(userID, itemA, base, 1800, true),
		session(userID, itemB, base.Add(3*time.Hour), 900, false),
		session(uuid.New(), itemA, base.Add(6*time.Hour), 5000, true),
	}

	stat := stats.ComputeUserWatchStats(userID, sessions)
	if stat.TotalPlays != 2 {
		t.Fatalf("expected 2 plays, got %d", stat.TotalPlays)
	}
	if stat.TotalWatchSeconds != 2700 {
		t.Fatalf("expected 2700 watch seconds, got %d", stat.TotalWatchSeconds)
	}
	if stat.LastItemID == nil || *stat.LastItemID != itemB {
		t.Fatalf("expected last item %s, got %v", itemB, stat.LastItemID)
	}
}

func TestComputeMostPopularTieBreaks(t *testing.T) {
	base := mustParse(t, "2024-02-01T12:00:00Z")
	user := uuid.New()

	// Fixed ids so the final id tie-break is predictable.
	low := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	high := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	winner := uuid.New()

	sessions := []models.PlaybackSession{
		session(user, winner, base, 5000, true),
		// Equal watch time, equal plays: id decides.
		session(user, high, base, 1000, true),
		session(user, low, base, 1000, true),
	}

	ranked := stats.ComputeMostPopular(sessions, 0)
	if len(ranked) != 3 {
		t.Fatalf("expected 3 ranked items, got %d", len(ranked))
	}
	if ranked[0].ItemID != winner {
		t.Fatalf("expected %s first, got %s", winner, ranked[0].ItemID)
	}
	if ranked[1].ItemID != low || ranked[2].ItemID != high {
		t.Fatalf("expected id tie-break, got %s then %s", ranked[1].ItemID, ranked[2].ItemID)
	}
}

func TestComputeMostPopularPlayCountBeforeID(t *testing.T) {
	base := mustParse(t, "2024-02-01T12:00:00Z")
	user := uuid.New()
	onePlay := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	twoPlays := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	sessions := []models.PlaybackSession{
		session(user, onePlay, base, 1000, true),
		session(user, twoPlays, base, 600, true),
		session(user, twoPlays, base.Add(time.Hour), 400, true),
	}

	ranked := stats.ComputeMostPopular(sessions, 0)
	if ranked[0].ItemID != twoPlays {
		t.Fatalf("expected more plays to win the watch-time tie, got %s", ranked[0].ItemID)
	}
}

func TestComputeMostPopularDeterministic(t *testing.T) {
	base := mustParse(t, "2024-02-01T12:00:00Z")
	var sessions []models.PlaybackSession
	for i := 0; i < 20; i++ {
		sessions = append(sessions, session(uuid.New(), uuid.New(), base, 100, true))
	}

	first := stats.ComputeMostPopular(sessions, 10)
	for i := 0; i < 5; i++ {
		again := stats.ComputeMostPopular(sessions, 10)
		if len(again) != len(first) {
			t.Fatalf("ranking length changed between runs")
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("ranking not deterministic at position %d", j)
			}
		}
	}
}

func TestWatchTimePerDayZeroFills(t *testing.T) {
	user := uuid.New()
	item := uuid.New()
	day1 := mustParse(t, "2024-04-01T10:00:00Z")
	day3 := mustParse(t, "2024-04-03T22:30:00Z")

	sessions := []models.PlaybackSession{
		session(user, item, day1, 600, true),
		session(user, item, day3, 1200, false),
	}

	buckets := stats.WatchTimePerDay(sessions, day1, day3, time.UTC)
	if len(buckets) != 3 {
		t.Fatalf("expected 3 inclusive days, got %d", len(buckets))
	}
	if buckets[0].Date != "2024-04-01" || buckets[0].WatchSeconds != 600 {
		t.Fatalf("unexpected first bucket: %+v", buckets[0])
	}
	if buckets[1].Date != "2024-04-02" || buckets[1].WatchSeconds != 0 || buckets[1].Plays != 0 {
		t.Fatalf("expected zero-filled middle day, got %+v", buckets[1])
	}
	if buckets[2].Date != "2024-04-03" || buckets[2].WatchSeconds != 1200 {
		t.Fatalf("unexpected last bucket: %+v", buckets[2])
	}
}

func TestUserActivityPerDayCountsDistinctUsers(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	item := uuid.New()
	day := mustParse(t, "2024-04-05T09:00:00Z")

	sessions := []models.PlaybackSession{
		session(userA, item, day, 100, true),
		session(userA, item, day.Add(2*time.Hour), 100, true),
		session(userB, item, day.Add(4*time.Hour), 100, true),
	}

	buckets := stats.UserActivityPerDay(sessions, day, day, time.UTC)
	if len(buckets) != 1 {
		t.Fatalf("expected a single day, got %d", len(buckets))
	}
	if buckets[0].ActiveUsers != 2 {
		t.Fatalf("expected 2 distinct users, got %d", buckets[0].ActiveUsers)
	}
	if buckets[0].Plays != 3 {
		t.Fatalf("expected 3 plays, got %d", buckets[0].Plays)
	}
}

func TestPerDayRespectsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	user := uuid.New()
	item := uuid.New()
	// 02:00 UTC on the 2nd is still the 1st in New York.
	late := mustParse(t, "2024-06-02T02:00:00Z")

	rangeStart := time.Date(2024, 6, 1, 0, 0, 0, 0, loc)
	buckets := stats.WatchTimePerDay(
		[]models.PlaybackSession{session(user, item, late, 300, true)},
		rangeStart, rangeStart, loc)

	if len(buckets) != 1 || buckets[0].Date != "2024-06-01" {
		t.Fatalf("expected session bucketed on 2024-06-01 local, got %+v", buckets)
	}
	if buckets[0].WatchSeconds != 300 {
		t.Fatalf("expected 300 watch seconds, got %d", buckets[0].WatchSeconds)
	}
}

func TestPerDayInvertedRange(t *testing.T) {
	day := mustParse(t, "2024-04-05T09:00:00Z")
	buckets := stats.WatchTimePerDay(nil, day, day.AddDate(0, 0, -2), time.UTC)
	if len(buckets) != 0 {
		t.Fatalf("expected empty result for inverted range, got %d buckets", len(buckets))
	}
}
