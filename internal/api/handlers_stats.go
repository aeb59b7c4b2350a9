package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

func (s *Server) serverIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("serverId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing or invalid serverId")
		return uuid.Nil, false
	}
	return id, true
}

// dateRangeParams parses start/end as YYYY-MM-DD, defaulting to the last 30
// days when absent.
func (s *Server) dateRangeParams(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -29)
	end := now

	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start date, want YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end date, want YYYY-MM-DD")
			return time.Time{}, time.Time{}, false
		}
		end = t
	}
	if end.Before(start) {
		s.respondError(w, http.StatusBadRequest, "end date before start date")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// optionalDateRangeParams parses start/end as YYYY-MM-DD when present. Nil
// means unbounded on that side; the end date itself is included.
func (s *Server) optionalDateRangeParams(w http.ResponseWriter, r *http.Request) (*time.Time, *time.Time, bool) {
	var from, to *time.Time
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start date, want YYYY-MM-DD")
			return nil, nil, false
		}
		from = &t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end date, want YYYY-MM-DD")
			return nil, nil, false
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}
	if from != nil && to != nil && to.Before(*from) {
		s.respondError(w, http.StatusBadRequest, "end date before start date")
		return nil, nil, false
	}
	return from, to, true
}

// GET /api/v1/statistics/items?serverId=
func (s *Server) handleItemStatsList(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.stats.ServerItemStats(r.Context(), serverID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to compute item statistics")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// GET /api/v1/statistics/items/{itemId}
func (s *Server) handleItemStats(w http.ResponseWriter, r *http.Request) {
	itemID, err := uuid.Parse(r.PathValue("itemId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	out, err := s.stats.ItemStats(r.Context(), itemID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "item not found")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// GET /api/v1/statistics/users/{userId}
func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	out, err := s.stats.UserStats(r.Context(), userID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// GET /api/v1/statistics/user-activity?serverId=&start=&end=
func (s *Server) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	start, end, ok := s.dateRangeParams(w, r)
	if !ok {
		return
	}
	out, err := s.stats.UserActivity(r.Context(), serverID, start, end)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to compute user activity")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// GET /api/v1/statistics/watch-time-per-day?serverId=&start=&end=
func (s *Server) handleWatchTimePerDay(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	start, end, ok := s.dateRangeParams(w, r)
	if !ok {
		return
	}
	out, err := s.stats.WatchTime(r.Context(), serverID, start, end)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to compute watch time")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// GET /api/v1/statistics/most-popular?serverId=&limit=&start=&end=
func (s *Server) handleMostPopular(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	from, to, ok := s.optionalDateRangeParams(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.stats.MostPopular(r.Context(), serverID, limit, from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to compute most popular")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// GET /api/v1/statistics/libraries?serverId=
func (s *Server) handleLibraryStats(w http.ResponseWriter, r *http.Request) {
	serverID, ok := s.serverIDParam(w, r)
	if !ok {
		return
	}
	out, err := s.stats.LibraryStats(r.Context(), serverID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to compute library statistics")
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Success: true, Data: out})
}
