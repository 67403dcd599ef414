package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	valet "github.com/valet-ai/valet"
)

// CalendarAPI implements valet.CalendarService over the Google Calendar v3
// REST API, against the user's primary calendar.
type CalendarAPI struct {
	client apiClient
}

var _ valet.CalendarService = (*CalendarAPI)(nil)

// CalendarOption configures a CalendarAPI.
type CalendarOption func(*CalendarAPI)

// WithCalendarHTTPClient overrides the HTTP client.
func WithCalendarHTTPClient(h *http.Client) CalendarOption {
	return func(a *CalendarAPI) { a.client.httpClient = h }
}

// WithCalendarBaseURL overrides the API endpoint. Test hook.
func WithCalendarBaseURL(u string) CalendarOption {
	return func(a *CalendarAPI) { a.client.baseURL = u }
}

// NewCalendarAPI creates a Google Calendar-backed CalendarService.
func NewCalendarAPI(opts ...CalendarOption) *CalendarAPI {
	a := &CalendarAPI{client: newAPIClient(calendarBaseURL, nil)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

const eventsPath = "/calendar/v3/calendars/primary/events"

// --- wire shapes ---

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"` // timed events
	Date     string `json:"date,omitempty"`     // all-day events
	TimeZone string `json:"timeZone,omitempty"`
}

type calendarEvent struct {
	ID          string    `json:"id,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
}

type eventList struct {
	Items []calendarEvent `json:"items"`
}

// ListEvents returns up to max events starting within [from, to), expanded
// from recurring series and ordered by start time.
func (a *CalendarAPI) ListEvents(ctx context.Context, cred valet.Credential, from, to time.Time, max int) ([]valet.CalendarEvent, error) {
	if max <= 0 {
		max = 20
	}
	params := url.Values{
		"timeMin":      {from.Format(time.RFC3339)},
		"timeMax":      {to.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {strconv.Itoa(max)},
	}

	var wire eventList
	if err := a.client.do(ctx, cred, http.MethodGet, eventsPath+"?"+params.Encode(), nil, &wire); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]valet.CalendarEvent, 0, len(wire.Items))
	for _, item := range wire.Items {
		events = append(events, toCalendarEvent(item))
	}
	return events, nil
}

// CreateEvent creates an event and returns the stored copy.
func (a *CalendarAPI) CreateEvent(ctx context.Context, cred valet.Credential, req valet.EventRequest) (valet.CalendarEvent, error) {
	var wire calendarEvent
	if err := a.client.do(ctx, cred, http.MethodPost, eventsPath, toWireEvent(req), &wire); err != nil {
		return valet.CalendarEvent{}, fmt.Errorf("create event: %w", err)
	}
	return toCalendarEvent(wire), nil
}

// UpdateEvent replaces the mutable fields of an existing event.
func (a *CalendarAPI) UpdateEvent(ctx context.Context, cred valet.Credential, eventID string, req valet.EventRequest) (valet.CalendarEvent, error) {
	var wire calendarEvent
	path := eventsPath + "/" + url.PathEscape(eventID)
	if err := a.client.do(ctx, cred, http.MethodPut, path, toWireEvent(req), &wire); err != nil {
		return valet.CalendarEvent{}, fmt.Errorf("update event %s: %w", eventID, err)
	}
	return toCalendarEvent(wire), nil
}

// DeleteEvent removes an event.
func (a *CalendarAPI) DeleteEvent(ctx context.Context, cred valet.Credential, eventID string) error {
	path := eventsPath + "/" + url.PathEscape(eventID)
	if err := a.client.do(ctx, cred, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// localLayout is the zoneless timestamp the Calendar API pairs with an
// explicit timeZone field.
const localLayout = "2006-01-02T15:04:05"

func toWireEvent(req valet.EventRequest) calendarEvent {
	return calendarEvent{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Start: eventTime{
			DateTime: req.Start.Format(localLayout),
			TimeZone: req.Timezone,
		},
		End: eventTime{
			DateTime: req.End.Format(localLayout),
			TimeZone: req.Timezone,
		},
	}
}

func toCalendarEvent(wire calendarEvent) valet.CalendarEvent {
	return valet.CalendarEvent{
		ID:          wire.ID,
		Summary:     wire.Summary,
		Start:       parseEventTime(wire.Start),
		End:         parseEventTime(wire.End),
		Description: wire.Description,
		Location:    wire.Location,
		Link:        wire.HTMLLink,
	}
}

// parseEventTime handles both timed events (RFC 3339 dateTime) and all-day
// events (bare date).
func parseEventTime(et eventTime) time.Time {
	if et.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, et.DateTime); err == nil {
			return t
		}
	}
	if et.Date != "" {
		if t, err := time.Parse("2006-01-02", et.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
