package valet

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrNotConnected reports that no credential is on file for a
// (user, integration) pair. Tools translate it into the fixed
// "please connect" instruction without attempting the remote call.
type ErrNotConnected struct {
	User        string
	Integration Integration
}

func (e *ErrNotConnected) Error() string {
	return fmt.Sprintf("%s not connected for user %s", e.Integration, e.User)
}

// ErrStateNotFound reports an OAuth callback for a user with no pending
// authorization state.
type ErrStateNotFound struct {
	User string
}

func (e *ErrStateNotFound) Error() string {
	return fmt.Sprintf("no pending oauth state for user %s", e.User)
}

// ErrCsrfMismatch reports a callback whose state does not match the one most
// recently issued for the user. The stale state is discarded when this error
// is produced, so a retry with the same wrong state also fails.
type ErrCsrfMismatch struct {
	User string
}

func (e *ErrCsrfMismatch) Error() string {
	return fmt.Sprintf("oauth state mismatch for user %s", e.User)
}

// ErrCredentialExpired reports an access token that is expired and could not
// be renewed, either because no refresh token is on file or because the
// refresh exchange failed.
type ErrCredentialExpired struct {
	User        string
	Integration Integration
	Cause       error // nil when no refresh token was available
}

func (e *ErrCredentialExpired) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s credential expired for user %s: refresh failed: %v", e.Integration, e.User, e.Cause)
	}
	return fmt.Sprintf("%s credential expired for user %s: no refresh token", e.Integration, e.User)
}

func (e *ErrCredentialExpired) Unwrap() error { return e.Cause }

// ErrRemoteOperation reports that the integration's API rejected or failed a
// call. Always caught at the tool layer and converted into a spoken failure
// message.
type ErrRemoteOperation struct {
	Integration Integration
	Op          string
	Cause       error
}

func (e *ErrRemoteOperation) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Integration, e.Op, e.Cause)
}

func (e *ErrRemoteOperation) Unwrap() error { return e.Cause }

// ErrParse reports malformed user-supplied input, such as an event start time
// that is not a valid timestamp. Distinct from remote failures so tools can
// answer with a specific "could not parse" message.
type ErrParse struct {
	Input string
	Cause error
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("cannot parse %q: %v", e.Input, e.Cause)
}

func (e *ErrParse) Unwrap() error { return e.Cause }

// ErrHTTP is a non-2xx response from a remote HTTP API. RetryAfter carries
// the parsed Retry-After header when the server sent one.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value, either delta-seconds
// ("120") or an HTTP-date. Returns 0 for empty, malformed, or past values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
