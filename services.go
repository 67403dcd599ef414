package valet

import (
	"context"
	"time"
)

// EmailService performs remote email operations with a loaded credential.
// Implementations are treated as black boxes: the tool layer depends only on
// the result shapes, never on wire formats. The google package provides a
// Gmail-backed implementation.
type EmailService interface {
	// Search returns up to max messages matching a free-text query,
	// newest first.
	Search(ctx context.Context, cred Credential, query string, max int) ([]EmailMessage, error)
	// CreateDraft stores a draft and returns its ID.
	CreateDraft(ctx context.Context, cred Credential, to, subject, body string) (string, error)
	// Send sends a message and returns its ID.
	Send(ctx context.Context, cred Credential, to, subject, body string) (string, error)
	// ListByLabel returns up to max messages carrying the given label.
	ListByLabel(ctx context.Context, cred Credential, label string, max int) ([]EmailMessage, error)
	// SearchAttachments returns up to max messages that both match the query
	// and carry at least one attachment.
	SearchAttachments(ctx context.Context, cred Credential, query string, max int) ([]EmailMessage, error)
	// GetMessage returns one message with its body and unsubscribe target
	// populated.
	GetMessage(ctx context.Context, cred Credential, id string) (EmailMessage, error)
	// FetchAttachment returns the raw bytes of one attachment.
	FetchAttachment(ctx context.Context, cred Credential, messageID, attachmentID string) ([]byte, error)
}

// CalendarService performs remote calendar operations with a loaded
// credential. The google package provides a Google Calendar-backed
// implementation.
type CalendarService interface {
	// ListEvents returns up to max events starting within [from, to),
	// ordered by start time.
	ListEvents(ctx context.Context, cred Credential, from, to time.Time, max int) ([]CalendarEvent, error)
	// CreateEvent creates an event and returns the stored copy.
	CreateEvent(ctx context.Context, cred Credential, req EventRequest) (CalendarEvent, error)
	// UpdateEvent replaces the mutable fields of an existing event.
	UpdateEvent(ctx context.Context, cred Credential, eventID string, req EventRequest) (CalendarEvent, error)
	// DeleteEvent removes an event.
	DeleteEvent(ctx context.Context, cred Credential, eventID string) error
}
