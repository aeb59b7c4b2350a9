package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Resource names one remote collection the sync engine mirrors.
type Resource string

const (
	ResourceUsers     Resource = "users"
	ResourceLibraries Resource = "libraries"
	ResourceItems     Resource = "items"
	ResourceHistory   Resource = "history"
	ResourceActivity  Resource = "activity"
)

// Cursor is an opaque position inside one resource. Callers obtain the first
// cursor from Start, pass it to FetchPage and continue with Page.Next until
// Done reports true.
type Cursor struct {
	resource   Resource
	startIndex int
	libraryID  string // items pages are scoped to one library
	userID     string // history pages are scoped to one remote user
	since      *time.Time
	done       bool
}

// Start returns the initial cursor for a resource. A non-nil since restricts
// the fetch to records changed at or after that instant.
func Start(res Resource, since *time.Time) Cursor {
	return Cursor{resource: res, since: since}
}

// WithLibrary scopes an items cursor to a single remote library.
func (c Cursor) WithLibrary(remoteLibraryID string) Cursor {
	c.libraryID = remoteLibraryID
	return c
}

// WithUser scopes a history cursor to a single remote user.
func (c Cursor) WithUser(remoteUserID string) Cursor {
	c.userID = remoteUserID
	return c
}

func (c Cursor) Done() bool { return c.done }

// Finish returns a copy of the cursor marked exhausted. Alternate Source
// implementations use it to terminate pagination.
func (c Cursor) Finish() Cursor {
	c.done = true
	return c
}

// ──────────────────── Normalized remote records ────────────────────

type RemoteUser struct {
	RemoteID        string
	Name            string
	IsAdministrator bool
	IsDisabled      bool
	LastActivity    *time.Time
}

type RemoteLibrary struct {
	RemoteID       string
	Name           string
	CollectionType string
}

type RemoteItem struct {
	RemoteID        string
	LibraryRemoteID string
	Name            string
	ItemType        string
	SeriesName      *string
	SeriesRemoteID  *string
	SeasonRemoteID  *string
	RuntimeSeconds  *int
	ProductionYear  *int
}

type RemoteSession struct {
	SessionKey      *string
	RemoteUserID    string
	RemoteItemID    string
	StartTime       time.Time
	DurationSeconds int
	PercentComplete float64
	Completed       bool
	ClientName      *string
	DeviceName      *string
}

// RemoteActivity is one remote activity log entry. Entries never change
// upstream.
type RemoteActivity struct {
	RemoteEntryID int64
	Name          string
	EntryType     string
	Severity      string
	ShortOverview *string
	RemoteUserID  *string
	Timestamp     time.Time
}

// Page is one fetched slice of a resource. Exactly one of the record slices
// is populated, matching the cursor's resource. Malformed counts records
// that could not be decoded and were skipped.
type Page struct {
	Users      []RemoteUser
	Libraries  []RemoteLibrary
	Items      []RemoteItem
	Sessions   []RemoteSession
	Activities []RemoteActivity
	Malformed  int
	Next       Cursor
}

// Len returns the number of successfully decoded records in the page.
func (p Page) Len() int {
	return len(p.Users) + len(p.Libraries) + len(p.Items) + len(p.Sessions) + len(p.Activities)
}

// ──────────────────── Client ────────────────────

// Client talks to one Jellyfin server. All calls are rate limited and
// authenticated with the server API key.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
}

func NewClient(baseURL, apiKey string, pageSize int, rps float64, timeout time.Duration) *Client {
	if pageSize <= 0 {
		pageSize = 500
	}
	if rps <= 0 {
		rps = 10
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		pageSize: pageSize,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Jellyfin counts time in 100-nanosecond ticks.
const ticksPerSecond = 10_000_000

func ticksToSeconds(ticks int64) int {
	return int(ticks / ticksPerSecond)
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, dst interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: http %d from %s", ErrSourceAuthFailed, resp.StatusCode, endpoint)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: http %d from %s", ErrSourceUnavailable, resp.StatusCode, endpoint)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected http %d from %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceMalformed, err)
	}
	return nil
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	var info struct {
		Id         string `json:"Id"`
		ServerName string `json:"ServerName"`
	}
	return c.get(ctx, "/System/Info", nil, &info)
}

// FetchPage fetches the page the cursor points at and returns the records
// plus the cursor for the following page.
func (c *Client) FetchPage(ctx context.Context, cur Cursor) (Page, error) {
	if cur.done {
		return Page{Next: cur}, nil
	}
	switch cur.resource {
	case ResourceUsers:
		return c.fetchUsers(ctx, cur)
	case ResourceLibraries:
		return c.fetchLibraries(ctx, cur)
	case ResourceItems:
		return c.fetchItems(ctx, cur)
	case ResourceHistory:
		return c.fetchHistory(ctx, cur)
	case ResourceActivity:
		return c.fetchActivity(ctx, cur)
	}
	return Page{}, fmt.Errorf("unknown resource %q", cur.resource)
}

// ──────────────────── Users ────────────────────

type jfUser struct {
	Id               string `json:"Id"`
	Name             string `json:"Name"`
	LastActivityDate string `json:"LastActivityDate"`
	Policy           struct {
		IsAdministrator bool `json:"IsAdministrator"`
		IsDisabled      bool `json:"IsDisabled"`
	} `json:"Policy"`
}

// The /Users endpoint returns every account at once; users always fit a
// single page.
func (c *Client) fetchUsers(ctx context.Context, cur Cursor) (Page, error) {
	var raw []json.RawMessage
	if err := c.get(ctx, "/Users", nil, &raw); err != nil {
		return Page{}, err
	}

	page := Page{}
	for _, msg := range raw {
		var u jfUser
		if err := json.Unmarshal(msg, &u); err != nil || u.Id == "" {
			page.Malformed++
			continue
		}
		ru := RemoteUser{
			RemoteID:        u.Id,
			Name:            u.Name,
			IsAdministrator: u.Policy.IsAdministrator,
			IsDisabled:      u.Policy.IsDisabled,
		}
		if t, err := time.Parse(time.RFC3339, u.LastActivityDate); err == nil {
			ru.LastActivity = &t
		}
		page.Users = append(page.Users, ru)
	}

	cur.done = true
	page.Next = cur
	return page, nil
}

// ──────────────────── Libraries ────────────────────

type jfVirtualFolder struct {
	Name           string `json:"Name"`
	ItemId         string `json:"ItemId"`
	CollectionType string `json:"CollectionType"`
}

func (c *Client) fetchLibraries(ctx context.Context, cur Cursor) (Page, error) {
	var raw []json.RawMessage
	if err := c.get(ctx, "/Library/VirtualFolders", nil, &raw); err != nil {
		return Page{}, err
	}

	page := Page{}
	for _, msg := range raw {
		var f jfVirtualFolder
		if err := json.Unmarshal(msg, &f); err != nil || f.ItemId == "" {
			page.Malformed++
			continue
		}
		page.Libraries = append(page.Libraries, RemoteLibrary{
			RemoteID:       f.ItemId,
			Name:           f.Name,
			CollectionType: f.CollectionType,
		})
	}

	cur.done = true
	page.Next = cur
	return page, nil
}

// ──────────────────── Items ────────────────────

type jfItem struct {
	Id             string `json:"Id"`
	Name           string `json:"Name"`
	Type           string `json:"Type"`
	SeriesId       string `json:"SeriesId"`
	SeasonId       string `json:"SeasonId"`
	SeriesName     string `json:"SeriesName"`
	RunTimeTicks   *int64 `json:"RunTimeTicks"`
	ProductionYear *int   `json:"ProductionYear"`
}

type jfItemsEnvelope struct {
	Items            []json.RawMessage `json:"Items"`
	TotalRecordCount int               `json:"TotalRecordCount"`
}

func (c *Client) fetchItems(ctx context.Context, cur Cursor) (Page, error) {
	q := url.Values{}
	q.Set("Recursive", "true")
	q.Set("IncludeItemTypes", "Movie,Series,Season,Episode")
	q.Set("Fields", "SeriesId,SeasonId,SeriesName,RunTimeTicks,ProductionYear")
	q.Set("EnableTotalRecordCount", "true")
	q.Set("StartIndex", strconv.Itoa(cur.startIndex))
	q.Set("Limit", strconv.Itoa(c.pageSize))
	if cur.libraryID != "" {
		q.Set("ParentId", cur.libraryID)
	}
	if cur.since != nil {
		q.Set("MinDateLastSaved", cur.since.UTC().Format(time.RFC3339))
	}

	var out jfItemsEnvelope
	if err := c.get(ctx, "/Items", q, &out); err != nil {
		return Page{}, err
	}

	page := Page{}
	for _, msg := range out.Items {
		var it jfItem
		if err := json.Unmarshal(msg, &it); err != nil || it.Id == "" {
			page.Malformed++
			continue
		}
		ri := RemoteItem{
			RemoteID:        it.Id,
			LibraryRemoteID: cur.libraryID,
			Name:            it.Name,
			ItemType:        it.Type,
			ProductionYear:  it.ProductionYear,
		}
		if it.RunTimeTicks != nil {
			secs := ticksToSeconds(*it.RunTimeTicks)
			ri.RuntimeSeconds = &secs
		}
		if it.SeriesId != "" {
			v := it.SeriesId
			ri.SeriesRemoteID = &v
		}
		if it.SeasonId != "" {
			v := it.SeasonId
			ri.SeasonRemoteID = &v
		}
		if it.SeriesName != "" {
			v := it.SeriesName
			ri.SeriesName = &v
		}
		page.Items = append(page.Items, ri)
	}

	cur.startIndex += len(out.Items)
	if len(out.Items) == 0 || cur.startIndex >= out.TotalRecordCount {
		cur.done = true
	}
	page.Next = cur
	return page, nil
}

// ──────────────────── Activity log ────────────────────

type jfActivity struct {
	Id            int64  `json:"Id"`
	Name          string `json:"Name"`
	Type          string `json:"Type"`
	Severity      string `json:"Severity"`
	ShortOverview string `json:"ShortOverview"`
	UserId        string `json:"UserId"`
	Date          string `json:"Date"`
}

func (c *Client) fetchActivity(ctx context.Context, cur Cursor) (Page, error) {
	q := url.Values{}
	q.Set("StartIndex", strconv.Itoa(cur.startIndex))
	q.Set("Limit", strconv.Itoa(c.pageSize))
	if cur.since != nil {
		q.Set("MinDate", cur.since.UTC().Format(time.RFC3339))
	}

	var out jfItemsEnvelope
	if err := c.get(ctx, "/System/ActivityLog/Entries", q, &out); err != nil {
		return Page{}, err
	}

	page := Page{}
	for _, msg := range out.Items {
		var a jfActivity
		if err := json.Unmarshal(msg, &a); err != nil || a.Id == 0 {
			page.Malformed++
			continue
		}
		ts, err := time.Parse(time.RFC3339, a.Date)
		if err != nil {
			page.Malformed++
			continue
		}
		ra := RemoteActivity{
			RemoteEntryID: a.Id,
			Name:          a.Name,
			EntryType:     a.Type,
			Severity:      a.Severity,
			Timestamp:     ts,
		}
		if a.ShortOverview != "" {
			v := a.ShortOverview
			ra.ShortOverview = &v
		}
		if a.UserId != "" {
			v := a.UserId
			ra.RemoteUserID = &v
		}
		page.Activities = append(page.Activities, ra)
	}

	cur.startIndex += len(out.Items)
	if len(out.Items) == 0 || cur.startIndex >= out.TotalRecordCount {
		cur.done = true
	}
	page.Next = cur
	return page, nil
}

// ──────────────────── History ────────────────────

type jfHistoryItem struct {
	Id           string `json:"Id"`
	Name         string `json:"Name"`
	Type         string `json:"Type"`
	RunTimeTicks *int64 `json:"RunTimeTicks"`
	UserData     struct {
		Played                bool   `json:"Played"`
		PlaybackPositionTicks int64  `json:"PlaybackPositionTicks"`
		PlayCount             int    `json:"PlayCount"`
		LastPlayedDate        string `json:"LastPlayedDate"`
	} `json:"UserData"`
}

// fetchHistory pulls played-item user data for one remote user and converts
// each record into a playback session. Jellyfin's user data carries no
// session identifier, so these sessions reconcile on the composite key.
func (c *Client) fetchHistory(ctx context.Context, cur Cursor) (Page, error) {
	if cur.userID == "" {
		return Page{}, fmt.Errorf("history cursor missing user scope")
	}

	q := url.Values{}
	q.Set("Recursive", "true")
	q.Set("IncludeItemTypes", "Movie,Episode")
	q.Set("Filters", "IsPlayed")
	q.Set("Fields", "UserData,RunTimeTicks")
	q.Set("SortBy", "DatePlayed")
	q.Set("SortOrder", "Descending")
	q.Set("EnableTotalRecordCount", "true")
	q.Set("StartIndex", strconv.Itoa(cur.startIndex))
	q.Set("Limit", strconv.Itoa(c.pageSize))

	var out jfItemsEnvelope
	if err := c.get(ctx, "/Users/"+url.PathEscape(cur.userID)+"/Items", q, &out); err != nil {
		return Page{}, err
	}

	page := Page{}
	for _, msg := range out.Items {
		var it jfHistoryItem
		if err := json.Unmarshal(msg, &it); err != nil || it.Id == "" {
			page.Malformed++
			continue
		}
		played, err := time.Parse(time.RFC3339, it.UserData.LastPlayedDate)
		if err != nil {
			page.Malformed++
			continue
		}
		if cur.since != nil && played.Before(*cur.since) {
			continue
		}

		sess := RemoteSession{
			RemoteUserID: cur.userID,
			RemoteItemID: it.Id,
			StartTime:    played,
			Completed:    it.UserData.Played,
		}
		positionSecs := ticksToSeconds(it.UserData.PlaybackPositionTicks)
		var runtimeSecs int
		if it.RunTimeTicks != nil {
			runtimeSecs = ticksToSeconds(*it.RunTimeTicks)
		}
		switch {
		case it.UserData.Played && runtimeSecs > 0:
			sess.DurationSeconds = runtimeSecs
			sess.PercentComplete = 100
		case runtimeSecs > 0:
			sess.DurationSeconds = positionSecs
			sess.PercentComplete = float64(positionSecs) / float64(runtimeSecs) * 100
		default:
			sess.DurationSeconds = positionSecs
		}
		page.Sessions = append(page.Sessions, sess)
	}

	cur.startIndex += len(out.Items)
	if len(out.Items) == 0 || cur.startIndex >= out.TotalRecordCount {
		cur.done = true
	}
	page.Next = cur
	return page, nil
}
