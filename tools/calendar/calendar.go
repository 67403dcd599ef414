// Package calendar exposes the user's connected calendar as assistant tool
// operations. Replies are voice-ready sentences; connection problems become
// spoken instructions instead of errors.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	valet "github.com/valet-ai/valet"
)

const spokenMax = 3

const defaultListDays = 7

const defaultDurationMinutes = 60

const notConnectedMessage = "You haven't connected your calendar yet. " +
	"Just say connect my calendar and I'll set it up."

const reconnectMessage = "Your calendar connection has expired. " +
	"Say connect my calendar to link it again."

const unavailableMessage = "Sorry, I couldn't reach your calendar right now. Please try again in a moment."

const parseFailedMessage = "I couldn't work out what time you meant. " +
	"Could you give me the date and time again?"

// Tool implements valet.Tool over a CalendarService behind a Connector.
type Tool struct {
	connector valet.Connector
	service   valet.CalendarService
	timezone  string // IANA fallback zone for naive event times
	logger    *slog.Logger
}

var _ valet.Tool = (*Tool)(nil)

// Option configures the calendar tool.
type Option func(*Tool)

// WithTimezone sets the zone naive event times are interpreted in
// (default "UTC").
func WithTimezone(tz string) Option {
	return func(t *Tool) { t.timezone = tz }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates the calendar tool.
func New(connector valet.Connector, service valet.CalendarService, opts ...Option) *Tool {
	t := &Tool{
		connector: connector,
		service:   service,
		timezone:  "UTC",
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Definitions() []valet.ToolDefinition {
	return []valet.ToolDefinition{
		{
			Name:        "connect_calendar",
			Description: "Start connecting the user's calendar. Use when the user asks to connect, link, or set up their calendar.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "list_calendar_events",
			Description: "List the user's upcoming calendar events. Use for questions like 'what's on my calendar this week?'",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"days":{"type":"integer","description":"How many days ahead to look (default 7)"}}}`),
		},
		{
			Name:        "create_calendar_event",
			Description: "Create a calendar event. Confirm the title and start time with the user first.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"summary":{"type":"string","description":"Event title"},"start_time_iso":{"type":"string","description":"Start time in ISO format, e.g. 2025-11-20T09:00:00"},"duration_minutes":{"type":"integer","description":"Length in minutes (default 60)"}},"required":["summary","start_time_iso"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (valet.ToolResult, error) {
	userID, ok := valet.UserIDFromContext(ctx)
	if !ok {
		return valet.ToolResult{Error: "no user identity on call context"}, nil
	}

	if name == "connect_calendar" {
		return t.connect(ctx, userID)
	}

	cred, spoken, ok := t.credential(ctx, userID)
	if !ok {
		return valet.ToolResult{Content: spoken}, nil
	}

	switch name {
	case "list_calendar_events":
		return t.list(ctx, cred, args)
	case "create_calendar_event":
		return t.create(ctx, cred, args)
	default:
		return valet.ToolResult{Error: "unknown tool: " + name}, nil
	}
}

func (t *Tool) credential(ctx context.Context, userID string) (valet.Credential, string, bool) {
	if !t.connector.IsConnected(ctx, userID) {
		return valet.Credential{}, notConnectedMessage, false
	}
	cred, err := t.connector.LoadCredential(ctx, userID)
	if err != nil {
		var expired *valet.ErrCredentialExpired
		if errors.As(err, &expired) {
			return valet.Credential{}, reconnectMessage, false
		}
		t.logger.Error("loading calendar credential failed", "user", userID, "error", err)
		return valet.Credential{}, unavailableMessage, false
	}
	return cred, "", true
}

func (t *Tool) connect(ctx context.Context, userID string) (valet.ToolResult, error) {
	url, err := t.connector.BeginAuthorization(ctx, userID)
	if err != nil {
		t.logger.Error("starting calendar authorization failed", "user", userID, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	return valet.ToolResult{
		Content: "To connect your calendar, open this link and approve access: " + url,
	}, nil
}

func (t *Tool) list(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		Days int `json:"days"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	days := params.Days
	if days <= 0 {
		days = defaultListDays
	}

	now := time.Now()
	events, err := t.service.ListEvents(ctx, cred, now, now.AddDate(0, 0, days), 20)
	if err != nil {
		t.logger.Error("listing events failed", "days", days, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	if len(events) == 0 {
		return valet.ToolResult{
			Content: fmt.Sprintf("Your calendar is clear for the next %s.", dayPhrase(days)),
		}, nil
	}

	items := make([]string, len(events))
	for i, e := range events {
		items[i] = fmt.Sprintf("%s on %s", eventTitle(e), valet.HumanTime(e.Start))
	}
	return valet.ToolResult{
		Content: fmt.Sprintf("Over the next %s you have %s: %s.",
			dayPhrase(days), countPhrase(len(events)), valet.SpokenList(items, spokenMax)),
	}, nil
}

func (t *Tool) create(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		Summary         string `json:"summary"`
		StartTimeISO    string `json:"start_time_iso"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.DurationMinutes <= 0 {
		params.DurationMinutes = defaultDurationMinutes
	}

	start, err := t.parseStart(params.StartTimeISO)
	if err != nil {
		t.logger.Debug("unparseable event time", "input", params.StartTimeISO, "error", err)
		return valet.ToolResult{Content: parseFailedMessage}, nil
	}
	end := start.Add(time.Duration(params.DurationMinutes) * time.Minute)

	req := valet.EventRequest{
		Summary:  params.Summary,
		Start:    start,
		End:      end,
		Timezone: t.timezone,
	}
	event, err := t.service.CreateEvent(ctx, cred, req)
	if err != nil {
		t.logger.Error("creating event failed", "summary", params.Summary, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	return valet.ToolResult{
		Content: fmt.Sprintf("Done, I've added %s to your calendar for %s.",
			eventTitle(event), valet.HumanTime(start)),
	}, nil
}

// parseStart accepts a full RFC 3339 timestamp or a naive local one
// ("2025-11-20T09:00:00"), interpreting naive times in the tool's zone.
func (t *Tool) parseStart(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	loc, err := time.LoadLocation(t.timezone)
	if err != nil {
		loc = time.UTC
	}
	ts, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc)
	if err != nil {
		return time.Time{}, &valet.ErrParse{Input: s, Cause: err}
	}
	return ts, nil
}

func eventTitle(e valet.CalendarEvent) string {
	if e.Summary == "" {
		return "an untitled event"
	}
	return e.Summary
}

func dayPhrase(days int) string {
	if days == 1 {
		return "day"
	}
	return fmt.Sprintf("%d days", days)
}

func countPhrase(n int) string {
	if n == 1 {
		return "one event"
	}
	return fmt.Sprintf("%d events", n)
}
