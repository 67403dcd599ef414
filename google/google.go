// Package google implements valet.EmailService and valet.CalendarService
// over the Gmail and Google Calendar REST APIs. Every call authenticates with
// the bearer token from the supplied credential; token refresh is the
// connector's job, never this package's.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	valet "github.com/valet-ai/valet"
)

// OAuth endpoints for Google's authorization server.
const (
	AuthURL  = "https://accounts.google.com/o/oauth2/auth"
	TokenURL = "https://oauth2.googleapis.com/token"
)

// EmailScopes grants read plus compose/send access to Gmail.
var EmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/gmail.send",
}

// CalendarScopes grants event read/write access to Google Calendar.
var CalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
}

const (
	gmailBaseURL    = "https://gmail.googleapis.com"
	calendarBaseURL = "https://www.googleapis.com"
)

// apiClient is the shared HTTP plumbing for both services.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string, httpClient *http.Client) apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return apiClient{baseURL: baseURL, httpClient: httpClient}
}

// do sends a request with bearer auth and decodes a JSON response into out
// (when non-nil). Non-2xx responses become *valet.ErrHTTP.
func (c apiClient) do(ctx context.Context, cred valet.Credential, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return &valet.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(b),
			RetryAfter: valet.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
