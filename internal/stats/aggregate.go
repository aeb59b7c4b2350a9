package stats

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tam1m/streamystats-sub003/internal/models"
)

// Pure aggregation over reconciled playback sessions. Every function here is
// deterministic: same input slice, same output, regardless of input order.

// ComputeItemStatistics aggregates the sessions of a single item. The loc
// parameter controls month bucketing; pass nil for UTC.
func ComputeItemStatistics(itemID uuid.UUID, sessions []models.PlaybackSession, loc *time.Location) models.ItemStatistics {
	if loc == nil {
		loc = time.UTC
	}
	out := models.ItemStatistics{
		ItemID:       itemID,
		UsersWatched: []models.UserViewCount{},
		MonthlyViews: []models.MonthViewCount{},
	}

	completed := 0
	byUser := map[uuid.UUID]*models.UserViewCount{}
	byMonth := map[string]int{}

	for _, s := range sessions {
		if s.ItemID != itemID {
			continue
		}
		out.TotalViews++
		out.TotalWatchSeconds += int64(s.PlayDurationSeconds)
		if s.Completed {
			completed++
		}

		start := s.StartTime.In(loc)
		if out.FirstWatched == nil || s.StartTime.Before(*out.FirstWatched) {
			t := s.StartTime
			out.FirstWatched = &t
		}
		if out.LastWatched == nil || s.StartTime.After(*out.LastWatched) {
			t := s.StartTime
			out.LastWatched = &t
		}

		uc, ok := byUser[s.UserID]
		if !ok {
			uc = &models.UserViewCount{UserID: s.UserID}
			byUser[s.UserID] = uc
		}
		uc.Views++
		uc.WatchSeconds += int64(s.PlayDurationSeconds)

		byMonth[start.Format("2006-01")]++
	}

	if out.TotalViews > 0 {
		out.CompletionRate = float64(completed) / float64(out.TotalViews)
	}

	for _, uc := range byUser {
		out.UsersWatched = append(out.UsersWatched, *uc)
	}
	sort.Slice(out.UsersWatched, func(i, j int) bool {
		a, b := out.UsersWatched[i], out.UsersWatched[j]
		if a.WatchSeconds != b.WatchSeconds {
			return a.WatchSeconds > b.WatchSeconds
		}
		return a.UserID.String() < b.UserID.String()
	})

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)
	for _, m := range months {
		out.MonthlyViews = append(out.MonthlyViews, models.MonthViewCount{Month: m, Views: byMonth[m]})
	}

	return out
}

// ComputeUserWatchStats aggregates the sessions of a single user.
func ComputeUserWatchStats(userID uuid.UUID, sessions []models.PlaybackSession) models.UserWatchStats {
	out := models.UserWatchStats{UserID: userID}

	for _, s := range sessions {
		if s.UserID != userID {
			continue
		}
		out.TotalPlays++
		out.TotalWatchSeconds += int64(s.PlayDurationSeconds)
		if out.LastSessionAt == nil || s.StartTime.After(*out.LastSessionAt) {
			t := s.StartTime
			itemID := s.ItemID
			out.LastSessionAt = &t
			out.LastItemID = &itemID
		}
	}
	return out
}

// ComputeMostPopular ranks items by total watch time, breaking ties by play
// count and then item id so equal inputs always rank identically.
func ComputeMostPopular(sessions []models.PlaybackSession, limit int) []models.MostPopularItem {
	byItem := map[uuid.UUID]*models.MostPopularItem{}
	for _, s := range sessions {
		mp, ok := byItem[s.ItemID]
		if !ok {
			mp = &models.MostPopularItem{ItemID: s.ItemID}
			byItem[s.ItemID] = mp
		}
		mp.TotalWatchSeconds += int64(s.PlayDurationSeconds)
		mp.TotalPlays++
	}

	out := make([]models.MostPopularItem, 0, len(byItem))
	for _, mp := range byItem {
		out = append(out, *mp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalWatchSeconds != b.TotalWatchSeconds {
			return a.TotalWatchSeconds > b.TotalWatchSeconds
		}
		if a.TotalPlays != b.TotalPlays {
			return a.TotalPlays > b.TotalPlays
		}
		return a.ItemID.String() < b.ItemID.String()
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WatchTimePerDay buckets watch time by calendar day between start and end
// inclusive, zero-filling days without playback.
func WatchTimePerDay(sessions []models.PlaybackSession, start, end time.Time, loc *time.Location) []models.DayBucket {
	return perDay(sessions, start, end, loc)
}

// UserActivityPerDay buckets distinct active users and plays by calendar day
// between start and end inclusive, zero-filling days without playback.
func UserActivityPerDay(sessions []models.PlaybackSession, start, end time.Time, loc *time.Location) []models.DayBucket {
	return perDay(sessions, start, end, loc)
}

func perDay(sessions []models.PlaybackSession, start, end time.Time, loc *time.Location) []models.DayBucket {
	if loc == nil {
		loc = time.UTC
	}
	startDay := time.Date(start.In(loc).Year(), start.In(loc).Month(), start.In(loc).Day(), 0, 0, 0, 0, loc)
	endDay := time.Date(end.In(loc).Year(), end.In(loc).Month(), end.In(loc).Day(), 0, 0, 0, 0, loc)
	if endDay.Before(startDay) {
		return []models.DayBucket{}
	}

	type dayAgg struct {
		users        map[uuid.UUID]struct{}
		plays        int
		watchSeconds int64
	}
	byDay := map[string]*dayAgg{}

	for _, s := range sessions {
		day := s.StartTime.In(loc)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		if dayStart.Before(startDay) || dayStart.After(endDay) {
			continue
		}
		key := dayStart.Format("2006-01-02")
		agg, ok := byDay[key]
		if !ok {
			agg = &dayAgg{users: map[uuid.UUID]struct{}{}}
			byDay[key] = agg
		}
		agg.users[s.UserID] = struct{}{}
		agg.plays++
		agg.watchSeconds += int64(s.PlayDurationSeconds)
	}

	var out []models.DayBucket
	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		bucket := models.DayBucket{Date: key}
		if agg, ok := byDay[key]; ok {
			bucket.ActiveUsers = len(agg.users)
			bucket.Plays = agg.plays
			bucket.WatchSeconds = agg.watchSeconds
		}
		out = append(out, bucket)
	}
	return out
}
