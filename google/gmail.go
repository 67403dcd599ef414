package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	valet "github.com/valet-ai/valet"
)

// EmailAPI implements valet.EmailService over the Gmail REST API.
type EmailAPI struct {
	client apiClient
}

var _ valet.EmailService = (*EmailAPI)(nil)

// EmailOption configures an EmailAPI.
type EmailOption func(*EmailAPI)

// WithEmailHTTPClient overrides the HTTP client.
func WithEmailHTTPClient(h *http.Client) EmailOption {
	return func(a *EmailAPI) { a.client.httpClient = h }
}

// WithEmailBaseURL overrides the API endpoint. Test hook.
func WithEmailBaseURL(u string) EmailOption {
	return func(a *EmailAPI) { a.client.baseURL = u }
}

// NewEmailAPI creates a Gmail-backed EmailService.
func NewEmailAPI(opts ...EmailOption) *EmailAPI {
	a := &EmailAPI{client: newAPIClient(gmailBaseURL, nil)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// labelIDs maps spoken label names to Gmail's system label identifiers.
// Unknown names pass through uppercased, which matches how Gmail names
// user-defined labels.
var labelIDs = map[string]string{
	"inbox":     "INBOX",
	"starred":   "STARRED",
	"sent":      "SENT",
	"drafts":    "DRAFT",
	"draft":     "DRAFT",
	"unread":    "UNREAD",
	"important": "IMPORTANT",
	"spam":      "SPAM",
	"trash":     "TRASH",
}

// LabelID resolves a spoken label name to a Gmail label identifier.
func LabelID(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))
	if id, ok := labelIDs[key]; ok {
		return id
	}
	return strings.ToUpper(key)
}

// --- wire shapes ---

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type gmailMessage struct {
	ID           string       `json:"id"`
	Snippet      string       `json:"snippet"`
	LabelIDs     []string     `json:"labelIds"`
	InternalDate string       `json:"internalDate"` // ms since epoch
	Payload      *messagePart `json:"payload"`
}

type messagePart struct {
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename"`
	Headers  []partHeader  `json:"headers"`
	Body     partBody      `json:"body"`
	Parts    []messagePart `json:"parts"`
}

type partHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type partBody struct {
	AttachmentID string `json:"attachmentId"`
	Size         int64  `json:"size"`
	Data         string `json:"data"` // base64url
}

func (m gmailMessage) header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func (m gmailMessage) date() time.Time {
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}

// Search returns up to max messages matching a Gmail search query.
func (a *EmailAPI) Search(ctx context.Context, cred valet.Credential, query string, max int) ([]valet.EmailMessage, error) {
	return a.list(ctx, cred, url.Values{"q": {query}}, max, "metadata")
}

// ListByLabel returns up to max messages carrying the given label.
func (a *EmailAPI) ListByLabel(ctx context.Context, cred valet.Credential, label string, max int) ([]valet.EmailMessage, error) {
	return a.list(ctx, cred, url.Values{"labelIds": {LabelID(label)}}, max, "metadata")
}

// SearchAttachments returns up to max messages matching the query that carry
// at least one attachment. Messages come back with attachment metadata
// populated, ready for FetchAttachment.
func (a *EmailAPI) SearchAttachments(ctx context.Context, cred valet.Credential, query string, max int) ([]valet.EmailMessage, error) {
	q := strings.TrimSpace(query + " has:attachment")
	return a.list(ctx, cred, url.Values{"q": {q}}, max, "full")
}

func (a *EmailAPI) list(ctx context.Context, cred valet.Credential, params url.Values, max int, format string) ([]valet.EmailMessage, error) {
	if max <= 0 {
		max = 10
	}
	params.Set("maxResults", strconv.Itoa(max))

	var ids messageList
	if err := a.client.do(ctx, cred, http.MethodGet, "/gmail/v1/users/me/messages?"+params.Encode(), nil, &ids); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]valet.EmailMessage, 0, len(ids.Messages))
	for _, ref := range ids.Messages {
		msg, err := a.fetch(ctx, cred, ref.ID, format)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// GetMessage returns one message in full, with body and unsubscribe target
// populated.
func (a *EmailAPI) GetMessage(ctx context.Context, cred valet.Credential, id string) (valet.EmailMessage, error) {
	return a.fetch(ctx, cred, id, "full")
}

func (a *EmailAPI) fetch(ctx context.Context, cred valet.Credential, id, format string) (valet.EmailMessage, error) {
	params := url.Values{"format": {format}}
	if format == "metadata" {
		params["metadataHeaders"] = []string{"From", "Subject", "Date", "List-Unsubscribe"}
	}

	var wire gmailMessage
	path := "/gmail/v1/users/me/messages/" + url.PathEscape(id) + "?" + params.Encode()
	if err := a.client.do(ctx, cred, http.MethodGet, path, nil, &wire); err != nil {
		return valet.EmailMessage{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return toEmailMessage(wire), nil
}

func toEmailMessage(wire gmailMessage) valet.EmailMessage {
	msg := valet.EmailMessage{
		ID:          wire.ID,
		From:        wire.header("From"),
		Subject:     wire.header("Subject"),
		Snippet:     wire.Snippet,
		Date:        wire.date(),
		Labels:      wire.LabelIDs,
		Unsubscribe: wire.header("List-Unsubscribe"),
	}
	if wire.Payload != nil {
		msg.Body = extractBody(*wire.Payload)
		msg.Attachments = collectAttachments(*wire.Payload, nil)
	}
	return msg
}

// extractBody walks the MIME tree and returns the decoded text/plain body,
// falling back to text/html when no plain part exists.
func extractBody(root messagePart) string {
	if plain := findPart(root, "text/plain"); plain != "" {
		return plain
	}
	return findPart(root, "text/html")
}

func findPart(p messagePart, mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Filename == "" && p.Body.Data != "" {
		if data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(data)
		}
	}
	for _, child := range p.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func collectAttachments(p messagePart, acc []valet.AttachmentInfo) []valet.AttachmentInfo {
	if p.Filename != "" && p.Body.AttachmentID != "" {
		acc = append(acc, valet.AttachmentInfo{
			ID:       p.Body.AttachmentID,
			Filename: p.Filename,
			MimeType: p.MimeType,
			Size:     p.Body.Size,
		})
	}
	for _, child := range p.Parts {
		acc = collectAttachments(child, acc)
	}
	return acc
}

// FetchAttachment returns the raw bytes of one attachment.
func (a *EmailAPI) FetchAttachment(ctx context.Context, cred valet.Credential, messageID, attachmentID string) ([]byte, error) {
	var wire struct {
		Data string `json:"data"`
	}
	path := "/gmail/v1/users/me/messages/" + url.PathEscape(messageID) +
		"/attachments/" + url.PathEscape(attachmentID)
	if err := a.client.do(ctx, cred, http.MethodGet, path, nil, &wire); err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(wire.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, nil
}

// CreateDraft stores a draft and returns its ID.
func (a *EmailAPI) CreateDraft(ctx context.Context, cred valet.Credential, to, subject, body string) (string, error) {
	req := map[string]any{
		"message": map[string]string{"raw": encodeRFC822(to, subject, body)},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.do(ctx, cred, http.MethodPost, "/gmail/v1/users/me/drafts", req, &resp); err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	return resp.ID, nil
}

// Send sends a message and returns its ID.
func (a *EmailAPI) Send(ctx context.Context, cred valet.Credential, to, subject, body string) (string, error) {
	req := map[string]string{"raw": encodeRFC822(to, subject, body)}
	var resp struct {
		ID string `json:"id"`
	}
	if err := a.client.do(ctx, cred, http.MethodPost, "/gmail/v1/users/me/messages/send", req, &resp); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// encodeRFC822 builds a minimal RFC 822 message and encodes it the way the
// Gmail API expects raw payloads: base64url without padding.
func encodeRFC822(to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(b.String()))
}
