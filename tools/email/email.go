// Package email exposes the user's connected mailbox as assistant tool
// operations. Every operation returns voice-ready text and degrades to a
// spoken instruction (connect, reconnect, or apologize) rather than an error
// the engine would have to interpret.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	valet "github.com/valet-ai/valet"
)

// spokenMax caps how many items a single reply enumerates; the rest collapse
// into "and N more".
const spokenMax = 3

// fetchMax is how many candidates a remote query pulls before spoken
// truncation.
const fetchMax = 10

// previewChars bounds body and attachment previews in the spoken reply.
const previewChars = 280

const notConnectedMessage = "You haven't connected your email yet. " +
	"Just say connect my email and I'll set it up."

const reconnectMessage = "Your email connection has expired. " +
	"Say connect my email to link it again."

const unavailableMessage = "Sorry, I couldn't reach your email right now. Please try again in a moment."

// Tool implements valet.Tool over an EmailService behind a Connector.
type Tool struct {
	connector valet.Connector
	service   valet.EmailService
	memory    *valet.MemoryManager
	logger    *slog.Logger
}

var _ valet.Tool = (*Tool)(nil)

// Option configures the email tool.
type Option func(*Tool)

// WithMemory enables best-effort sender enrichment from remembered facts.
func WithMemory(m *valet.MemoryManager) Option {
	return func(t *Tool) { t.memory = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates the email tool.
func New(connector valet.Connector, service valet.EmailService, opts ...Option) *Tool {
	t := &Tool{
		connector: connector,
		service:   service,
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
			Name:        "connect_email",
			Description: "Start connecting the user's email account. Use when the user asks to connect, link, or set up their email.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "search_email",
			Description: "Search the user's email for messages matching a query. Use for questions like 'any email from my bank?'",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query, e.g. sender, subject words, or keywords"}},"required":["query"]}`),
		},
		{
			Name:        "create_draft_email",
			Description: "Create a draft email without sending it.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"to":{"type":"string","description":"Recipient email address"},"subject":{"type":"string"},"body":{"type":"string"}},"required":["to","subject","body"]}`),
		},
		{
			Name:        "send_email",
			Description: "Send an email immediately. Confirm recipient, subject, and body with the user first.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"to":{"type":"string","description":"Recipient email address"},"subject":{"type":"string"},"body":{"type":"string"}},"required":["to","subject","body"]}`),
		},
		{
			Name:        "list_emails_by_label",
			Description: "List recent emails carrying a label or folder, such as unread, starred, sent, or drafts.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"label":{"type":"string","description":"Label name, e.g. unread, starred, sent"}},"required":["label"]}`),
		},
		{
			Name:        "fetch_digest",
			Description: "Summarize the user's recent unread email as a short spoken digest.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "search_attachments",
			Description: "Find emails with attachments matching a query, previewing PDF contents when possible.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query for the carrying message"}},"required":["query"]}`),
		},
		{
			Name:        "find_unsubscribe",
			Description: "Find the unsubscribe link for a sender or mailing list the user wants to stop hearing from.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Sender or list to unsubscribe from"}},"required":["query"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (valet.ToolResult, error) {
	userID, ok := valet.UserIDFromContext(ctx)
	if !ok {
		return valet.ToolResult{Error: "no user identity on call context"}, nil
	}

	if name == "connect_email" {
		return t.connect(ctx, userID)
	}

	cred, spoken, ok := t.credential(ctx, userID)
	if !ok {
		return valet.ToolResult{Content: spoken}, nil
	}

	switch name {
	case "search_email":
		return t.search(ctx, userID, cred, args)
	case "create_draft_email":
		return t.draft(ctx, cred, args)
	case "send_email":
		return t.send(ctx, cred, args)
	case "list_emails_by_label":
		return t.listByLabel(ctx, cred, args)
	case "fetch_digest":
		return t.digest(ctx, cred)
	case "search_attachments":
		return t.searchAttachments(ctx, cred, args)
	case "find_unsubscribe":
		return t.findUnsubscribe(ctx, cred, args)
	default:
		return valet.ToolResult{Error: "unknown tool: " + name}, nil
	}
}

// credential resolves a usable credential for the user, or the spoken
// instruction to give instead of attempting the remote call.
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
		t.logger.Error("loading email credential failed", "user", userID, "error", err)
		return valet.Credential{}, unavailableMessage, false
	}
	return cred, "", true
}

func (t *Tool) connect(ctx context.Context, userID string) (valet.ToolResult, error) {
	url, err := t.connector.BeginAuthorization(ctx, userID)
	if err != nil {
		t.logger.Error("starting email authorization failed", "user", userID, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	return valet.ToolResult{
		Content: "To connect your email, open this link and approve access: " + url,
	}, nil
}

func (t *Tool) search(ctx context.Context, userID string, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	msgs, err := t.service.Search(ctx, cred, params.Query, fetchMax)
	if err != nil {
		t.logger.Error("email search failed", "query", params.Query, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	if len(msgs) == 0 {
		return valet.ToolResult{Content: fmt.Sprintf("I didn't find any email matching %s.", params.Query)}, nil
	}

	items := make([]string, len(msgs))
	for i, m := range msgs {
		items[i] = describeMessage(m)
	}
	reply := fmt.Sprintf("I found %s: %s.", countPhrase(len(msgs), "email"), valet.SpokenList(items, spokenMax))
	reply += t.enrich(ctx, userID, msgs)
	return valet.ToolResult{Content: reply}, nil
}

// enrich appends parenthetical remembered facts about the spoken senders,
// when any exist. Only the senders the reply enumerates are looked up, each
// once. Absence or slowness adds nothing.
func (t *Tool) enrich(ctx context.Context, userID string, msgs []valet.EmailMessage) string {
	if t.memory == nil {
		return ""
	}
	var notes []string
	seen := make(map[string]bool)
	for i, m := range msgs {
		if i == spokenMax {
			break
		}
		sender := valet.SenderName(m.From)
		if sender == "" || seen[sender] {
			continue
		}
		seen[sender] = true
		if fact, ok := t.memory.Lookup(ctx, userID, "who is "+sender); ok {
			notes = append(notes, fmt.Sprintf("Context on %s: %s", sender, fact))
		}
	}
	if len(notes) == 0 {
		return ""
	}
	return " (" + strings.Join(notes, "; ") + ")"
}

func (t *Tool) draft(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	if _, err := t.service.CreateDraft(ctx, cred, params.To, params.Subject, params.Body); err != nil {
		t.logger.Error("creating draft failed", "to", params.To, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	return valet.ToolResult{
		Content: fmt.Sprintf("I've saved a draft to %s with the subject %s.", params.To, params.Subject),
	}, nil
}

func (t *Tool) send(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	if _, err := t.service.Send(ctx, cred, params.To, params.Subject, params.Body); err != nil {
		t.logger.Error("sending email failed", "to", params.To, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	return valet.ToolResult{
		Content: fmt.Sprintf("Done, your email to %s is on its way.", params.To),
	}, nil
}

func (t *Tool) listByLabel(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	msgs, err := t.service.ListByLabel(ctx, cred, params.Label, fetchMax)
	if err != nil {
		t.logger.Error("listing emails failed", "label", params.Label, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	spoken := valet.TitleLabel(params.Label)
	if len(msgs) == 0 {
		return valet.ToolResult{Content: fmt.Sprintf("There's nothing in %s right now.", spoken)}, nil
	}

	items := make([]string, len(msgs))
	for i, m := range msgs {
		items[i] = describeMessage(m)
	}
	return valet.ToolResult{
		Content: fmt.Sprintf("In %s you have %s: %s.",
			spoken, countPhrase(len(msgs), "email"), valet.SpokenList(items, spokenMax)),
	}, nil
}

func (t *Tool) digest(ctx context.Context, cred valet.Credential) (valet.ToolResult, error) {
	msgs, err := t.service.ListByLabel(ctx, cred, "unread", spokenMax)
	if err != nil {
		t.logger.Error("fetching digest failed", "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}
	if len(msgs) == 0 {
		return valet.ToolResult{Content: "You're all caught up, no unread email."}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %s unread. ", countPhrase(len(msgs), "email"))
	for _, m := range msgs {
		full, err := t.service.GetMessage(ctx, cred, m.ID)
		if err != nil {
			t.logger.Warn("fetching message body failed", "message", m.ID, "error", err)
			full = m
		}
		// Plain-text bodies from automated senders often carry markdown;
		// flatten it after the HTML reduction so the digest speaks cleanly.
		body := valet.SpeakableText(valet.ReadableBody(full.Body))
		if body == "" {
			body = full.Snippet
		}
		fmt.Fprintf(&b, "From %s, %s: %s. ",
			valet.SenderName(full.From), full.Subject, valet.Truncate(body, previewChars))
	}
	return valet.ToolResult{Content: strings.TrimSpace(b.String())}, nil
}

func (t *Tool) searchAttachments(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	msgs, err := t.service.SearchAttachments(ctx, cred, params.Query, fetchMax)
	if err != nil {
		t.logger.Error("attachment search failed", "query", params.Query, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}

	var items []string
	var firstPDF *pdfRef
	for _, m := range msgs {
		for _, a := range m.Attachments {
			items = append(items, fmt.Sprintf("%s from %s", a.Filename, valet.SenderName(m.From)))
			if firstPDF == nil && strings.EqualFold(a.MimeType, "application/pdf") {
				firstPDF = &pdfRef{messageID: m.ID, attachmentID: a.ID, filename: a.Filename}
			}
		}
	}
	if len(items) == 0 {
		return valet.ToolResult{Content: fmt.Sprintf("I didn't find any attachments matching %s.", params.Query)}, nil
	}

	reply := fmt.Sprintf("I found %s: %s.",
		countPhrase(len(items), "attachment"), valet.SpokenList(items, spokenMax))
	if firstPDF != nil {
		if preview := t.previewPDF(ctx, cred, *firstPDF); preview != "" {
			reply += fmt.Sprintf(" %s starts with: %s", firstPDF.filename, preview)
		}
	}
	return valet.ToolResult{Content: reply}, nil
}

type pdfRef struct {
	messageID    string
	attachmentID string
	filename     string
}

// previewPDF fetches a PDF attachment and extracts the opening text.
// Best-effort: any failure drops the preview silently.
func (t *Tool) previewPDF(ctx context.Context, cred valet.Credential, ref pdfRef) string {
	data, err := t.service.FetchAttachment(ctx, cred, ref.messageID, ref.attachmentID)
	if err != nil {
		t.logger.Warn("fetching attachment failed", "attachment", ref.attachmentID, "error", err)
		return ""
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.logger.Debug("parsing pdf failed", "attachment", ref.attachmentID, "error", err)
		return ""
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		t.logger.Debug("extracting pdf text failed", "attachment", ref.attachmentID, "error", err)
		return ""
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return ""
	}
	return valet.Truncate(strings.Join(strings.Fields(buf.String()), " "), previewChars)
}

var unsubscribeURLPattern = regexp.MustCompile(`https?://[^\s<>"']*unsubscribe[^\s<>"']*`)

func (t *Tool) findUnsubscribe(ctx context.Context, cred valet.Credential, args json.RawMessage) (valet.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return valet.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	msgs, err := t.service.Search(ctx, cred, params.Query, spokenMax)
	if err != nil {
		t.logger.Error("unsubscribe search failed", "query", params.Query, "error", err)
		return valet.ToolResult{Content: unavailableMessage}, nil
	}

	for _, m := range msgs {
		full, err := t.service.GetMessage(ctx, cred, m.ID)
		if err != nil {
			t.logger.Warn("fetching message failed", "message", m.ID, "error", err)
			continue
		}
		if link := unsubscribeLink(full); link != "" {
			return valet.ToolResult{
				Content: fmt.Sprintf("I found an unsubscribe link in the email from %s: %s",
					valet.SenderName(full.From), link),
			}, nil
		}
	}
	return valet.ToolResult{
		Content: fmt.Sprintf("I couldn't find an unsubscribe link in recent email matching %s.", params.Query),
	}, nil
}

// unsubscribeLink prefers the List-Unsubscribe header's HTTP target and falls
// back to scanning the body for an unsubscribe URL.
func unsubscribeLink(m valet.EmailMessage) string {
	// Header form: <https://...>, <mailto:...>, comma separated.
	for _, part := range strings.Split(m.Unsubscribe, ",") {
		target := strings.Trim(strings.TrimSpace(part), "<>")
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return target
		}
	}
	return unsubscribeURLPattern.FindString(m.Body)
}

func describeMessage(m valet.EmailMessage) string {
	subject := m.Subject
	if subject == "" {
		subject = "no subject"
	}
	return fmt.Sprintf("%s from %s", subject, valet.SenderName(m.From))
}

func countPhrase(n int, noun string) string {
	if n == 1 {
		return "one " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
