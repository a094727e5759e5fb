// Package hub is an HTTP client for the hosted application backing filehub:
// the file-hub function endpoint ({origin}/server/{function}) and the
// platform REST surface used as the SDK (current user, table rows).
package hub

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, hub.ErrUnauthorized) to check.
var (
	ErrBadRequest   = errors.New("hub: bad request")
	ErrUnauthorized = errors.New("hub: unauthorized")
	ErrForbidden    = errors.New("hub: forbidden")
	ErrNotFound     = errors.New("hub: not found")
	ErrThrottled    = errors.New("hub: throttled")
	ErrServerError  = errors.New("hub: server error")
	ErrNotJSON      = errors.New("hub: response is not a JSON object")
	ErrNoToken      = errors.New("hub: no access token (not signed in)")
)

// HubError wraps a sentinel error with the HTTP status code, the request ID
// sent by the client, and the response body for debugging.
type HubError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *HubError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("hub: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("hub: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HubError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// maxErrorBody caps how much of an error body is kept in HubError.Message.
const maxErrorBody = 2048

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}

	return string(b)
}
