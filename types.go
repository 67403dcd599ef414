package valet

import (
	"fmt"
	"time"
)

// Integration identifies one of the externally connected productivity
// services requiring delegated OAuth access. The set is closed: state and
// stored credentials are namespaced by it, so the same user can connect or
// disconnect each integration independently.
type Integration int

const (
	IntegrationEmail Integration = iota
	IntegrationCalendar
)

func (i Integration) String() string {
	switch i {
	case IntegrationEmail:
		return "email"
	case IntegrationCalendar:
		return "calendar"
	default:
		return fmt.Sprintf("integration(%d)", int(i))
	}
}

// ParseIntegration maps a path segment ("email", "calendar") to an
// Integration. Used by the HTTP layer routing OAuth callbacks.
func ParseIntegration(s string) (Integration, error) {
	switch s {
	case "email":
		return IntegrationEmail, nil
	case "calendar":
		return IntegrationCalendar, nil
	default:
		return 0, fmt.Errorf("unknown integration %q", s)
	}
}

// MemoryRecord is a single fact returned by the remote memory store for a
// query. Records are fetched fresh per retrieval and never cached across
// turns; the text is the only identity this core tracks.
type MemoryRecord struct {
	Text  string  `json:"memory"`
	Score float64 `json:"score"`
}

// --- Turn context (Conversation Engine boundary) ---

// ChatMessage is one entry in the turn context shared with the Conversation
// Engine.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

func UserMessage(text string) ChatMessage      { return ChatMessage{Role: "user", Content: text} }
func SystemMessage(text string) ChatMessage    { return ChatMessage{Role: "system", Content: text} }
func AssistantMessage(text string) ChatMessage { return ChatMessage{Role: "assistant", Content: text} }

// TurnContext is the active turn's message list, owned by the Conversation
// Engine. Appending a system message is the only mutation this core performs;
// prior content is never replaced.
type TurnContext struct {
	Messages []ChatMessage
}

// AppendSystem adds a system-role message to the end of the turn context.
func (tc *TurnContext) AppendSystem(content string) {
	tc.Messages = append(tc.Messages, SystemMessage(content))
}

// --- Remote integration result shapes ---

// EmailMessage is the black-box result shape for one email returned by an
// EmailService.
type EmailMessage struct {
	ID          string
	From        string
	Subject     string
	Snippet     string
	Date        time.Time
	Labels      []string
	Body        string // plain or HTML body, populated by GetMessage
	Unsubscribe string // List-Unsubscribe target when the sender provides one
	Attachments []AttachmentInfo
}

// AttachmentInfo describes one attachment on an email.
type AttachmentInfo struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// CalendarEvent is the black-box result shape for one calendar event.
type CalendarEvent struct {
	ID          string
	Summary     string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	Link        string
}

// EventRequest describes a calendar event to create or update. Start and End
// are wall-clock times in the named Timezone; the remote call carries the
// naive local timestamp plus the zone, matching how calendar APIs represent
// floating local times.
type EventRequest struct {
	Summary     string
	Start       time.Time
	End         time.Time
	Timezone    string // IANA name, e.g. "America/New_York"
	Description string
	Location    string
}
