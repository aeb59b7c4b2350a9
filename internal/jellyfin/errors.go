package jellyfin

import "errors"

var (
	// ErrSourceUnavailable covers connection failures, timeouts and 5xx
	// responses. Callers may retry.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceAuthFailed covers 401/403 responses. Retrying cannot help
	// until the API key is fixed.
	ErrSourceAuthFailed = errors.New("source authentication failed")

	// ErrSourceMalformed means the response body itself could not be
	// decoded. Individual bad records inside an otherwise valid page are
	// counted in Page.Malformed instead.
	ErrSourceMalformed = errors.New("source response malformed")
)
