package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tam1m/streamystats-sub003/internal/models"
	"github.com/tam1m/streamystats-sub003/internal/repository"
)

// Service loads reconciled rows and runs the pure aggregations over them.
// The most-popular ranking is cached in Redis keyed by the last successful
// sync, so the cache invalidates itself whenever new data lands.
type Service struct {
	servers   *repository.ServerRepository
	sessions  *repository.SessionRepository
	items     *repository.ItemRepository
	users     *repository.UserRepository
	libraries *repository.LibraryRepository
	runs      *repository.RunRepository
	cache     *redis.Client
}

func NewService(
	servers *repository.ServerRepository,
	sessions *repository.SessionRepository,
	items *repository.ItemRepository,
	users *repository.UserRepository,
	libraries *repository.LibraryRepository,
	runs *repository.RunRepository,
	cache *redis.Client,
) *Service {
	return &Service{
		servers:   servers,
		sessions:  sessions,
		items:     items,
		users:     users,
		libraries: libraries,
		runs:      runs,
		cache:     cache,
	}
}

func (s *Service) ItemStats(ctx context.Context, itemID uuid.UUID) (models.ItemStatistics, error) {
	item, err := s.items.GetByID(itemID)
	if err != nil {
		return models.ItemStatistics{}, err
	}
	server, err := s.servers.GetByID(item.ServerID)
	if err != nil {
		return models.ItemStatistics{}, err
	}
	sessions, err := s.sessions.ListByItem(itemID)
	if err != nil {
		return models.ItemStatistics{}, err
	}

	stat := ComputeItemStatistics(itemID, sessions, server.Location())
	stat.ItemName = item.Name
	return stat, nil
}

// ServerItemStats aggregates every watched item on a server, most watched
// first.
func (s *Service) ServerItemStats(ctx context.Context, serverID uuid.UUID) ([]models.ItemStatistics, error) {
	server, err := s.servers.GetByID(serverID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByServer(serverID, nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListByServer(serverID)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(items))
	for _, it := range items {
		names[it.ID] = it.Name
	}

	byItem := map[uuid.UUID][]models.PlaybackSession{}
	for _, sess := range sessions {
		byItem[sess.ItemID] = append(byItem[sess.ItemID], sess)
	}

	ranked := ComputeMostPopular(sessions, 0)
	out := make([]models.ItemStatistics, 0, len(ranked))
	for _, mp := range ranked {
		stat := ComputeItemStatistics(mp.ItemID, byItem[mp.ItemID], server.Location())
		stat.ItemName = names[mp.ItemID]
		out = append(out, stat)
	}
	return out, nil
}

func (s *Service) UserStats(ctx context.Context, userID uuid.UUID) (models.UserWatchStats, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		return models.UserWatchStats{}, err
	}
	sessions, err := s.sessions.ListByUser(userID)
	if err != nil {
		return models.UserWatchStats{}, err
	}

	stat := ComputeUserWatchStats(userID, sessions)
	stat.UserName = user.Name
	return stat, nil
}

// MostPopular returns the top items by watch time, optionally restricted to
// sessions started inside [from, to]. Results are served from Redis when the
// cache entry for the current sync generation exists.
func (s *Service) MostPopular(ctx context.Context, serverID uuid.UUID, limit int, from, to *time.Time) ([]models.MostPopularItem, error) {
	if limit <= 0 {
		limit = 10
	}

	key := s.popularCacheKey(serverID, limit, from, to)
	if key != "" {
		if cached, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var out []models.MostPopularItem
			if json.Unmarshal(cached, &out) == nil {
				return out, nil
			}
		}
	}

	sessions, err := s.sessions.ListByServer(serverID, from, to)
	if err != nil {
		return nil, err
	}
	out := ComputeMostPopular(sessions, limit)

	items, err := s.items.ListByServer(serverID)
	if err == nil {
		names := make(map[uuid.UUID]string, len(items))
		for _, it := range items {
			names[it.ID] = it.Name
		}
		for i := range out {
			out[i].ItemName = names[out[i].ItemID]
		}
	}

	if key != "" {
		if payload, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, key, payload, time.Hour).Err(); err != nil {
				log.Printf("[stats] popular cache write failed: %v", err)
			}
		}
	}
	return out, nil
}

// popularCacheKey binds the cache entry to the last successful run and the
// requested window. Empty means "do not cache", e.g. before the first sync
// or without Redis.
func (s *Service) popularCacheKey(serverID uuid.UUID, limit int, from, to *time.Time) string {
	if s.cache == nil {
		return ""
	}
	last, err := s.runs.LastSuccess(serverID)
	if err != nil || last == nil || last.FinishedAt == nil {
		return ""
	}
	window := "all"
	if from != nil || to != nil {
		var lo, hi int64
		if from != nil {
			lo = from.Unix()
		}
		if to != nil {
			hi = to.Unix()
		}
		window = fmt.Sprintf("%d-%d", lo, hi)
	}
	return fmt.Sprintf("stats:popular:%s:%d:%s:%d", serverID, limit, window, last.FinishedAt.Unix())
}

func (s *Service) UserActivity(ctx context.Context, serverID uuid.UUID, start, end time.Time) ([]models.DayBucket, error) {
	sessions, loc, err := s.sessionsInRange(serverID, start, end)
	if err != nil {
		return nil, err
	}
	return UserActivityPerDay(sessions, start, end, loc), nil
}

func (s *Service) WatchTime(ctx context.Context, serverID uuid.UUID, start, end time.Time) ([]models.DayBucket, error) {
	sessions, loc, err := s.sessionsInRange(serverID, start, end)
	if err != nil {
		return nil, err
	}
	return WatchTimePerDay(sessions, start, end, loc), nil
}

func (s *Service) LibraryStats(ctx context.Context, serverID uuid.UUID) ([]models.LibraryStatistics, error) {
	return s.libraries.LibraryStats(serverID)
}

func (s *Service) sessionsInRange(serverID uuid.UUID, start, end time.Time) ([]models.PlaybackSession, *time.Location, error) {
	server, err := s.servers.GetByID(serverID)
	if err != nil {
		return nil, nil, err
	}
	loc := server.Location()
	// Widen by a day on both sides so timezone conversion cannot drop
	// sessions at the range edges; the bucketing filters exactly.
	from := start.AddDate(0, 0, -1)
	to := end.AddDate(0, 0, 2)
	sessions, err := s.sessions.ListByServer(serverID, &from, &to)
	if err != nil {
		return nil, nil, err
	}
	return sessions, loc, nil
}
