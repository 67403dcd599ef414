package valet

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// MemoryClient is the remote semantic memory store. Search returns facts by
// relevance to a free-text query, best first, filtered to scores >= minScore.
// The memory/mem0 package provides an HTTP implementation; wrap it with
// WithMemoryRetry for transient-error handling.
type MemoryClient interface {
	Search(ctx context.Context, userID, query string, topK int, minScore float64) ([]MemoryRecord, error)
	Add(ctx context.Context, userID, text string) error
}

// Retrieval tuning. Turn injection is narrow and high-precision so irrelevant
// facts never pollute the model's context; the greeting query is wide and
// low-threshold because it wants thematically diverse color, not the single
// best match.
const (
	injectTopK     = 5
	injectMinScore = 0.3

	greetTopK      = 15
	greetMinScore  = 0.05
	greetQuery     = "user information name activities projects conversations"
	greetMinChars  = 10
	greetMaxFacts  = 10
)

// lookupTimeout bounds best-effort enrichment lookups so a slow memory store
// never stalls a tool response.
const lookupTimeout = 2 * time.Second

const genericGreetingInstruction = "Create a short, genuinely welcoming greeting " +
	"(2 sentences max) for a new user. Show enthusiasm and approachability, " +
	"introduce yourself as their assistant, and keep it concise and warm."

const fallbackGreetingInstruction = "Greet the user warmly and offer your assistance."

// MemoryManager retrieves and injects relevant prior facts before each
// conversational turn, persists new facts after each turn, and synthesizes a
// personalized opening greeting. Every operation is best-effort: failures are
// logged and absorbed, never propagated, so memory can only ever degrade a
// turn, not break it.
type MemoryManager struct {
	client MemoryClient
	logger *slog.Logger
	tracer Tracer
}

// MemoryOption configures a MemoryManager.
type MemoryOption func(*MemoryManager)

// WithMemoryLogger sets the structured logger for absorbed failures.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *MemoryManager) { m.logger = l }
}

// WithMemoryTracer enables span emission for retrieval and persistence.
func WithMemoryTracer(t Tracer) MemoryOption {
	return func(m *MemoryManager) { m.tracer = t }
}

// NewMemoryManager creates a MemoryManager over the given remote client.
func NewMemoryManager(client MemoryClient, opts ...MemoryOption) *MemoryManager {
	m := &MemoryManager{client: client, logger: nopLogger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Retrieve returns the texts of facts relevant to query, most relevant first.
// On any failure it returns nil and logs; retrieval is never allowed to fail
// a turn.
func (m *MemoryManager) Retrieve(ctx context.Context, userID, query string, topK int, minScore float64) []string {
	records, err := m.search(ctx, userID, query, topK, minScore)
	if err != nil {
		m.logger.Warn("memory retrieval failed", "user", userID, "error", err)
		return nil
	}
	texts := make([]string, 0, len(records))
	for _, r := range records {
		if t := strings.TrimSpace(r.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// Inject retrieves facts relevant to the user's utterance and appends them to
// the turn context as a single system message. When nothing relevant is found
// (or retrieval fails) the turn context is left unmodified. Inject is a
// synchronous precondition of reply generation: its effect must be visible to
// the Conversation Engine before it starts producing the reply.
func (m *MemoryManager) Inject(ctx context.Context, tc *TurnContext, userID, utterance string) {
	if strings.TrimSpace(utterance) == "" {
		return
	}
	facts := m.Retrieve(ctx, userID, utterance, injectTopK, injectMinScore)
	if len(facts) == 0 {
		return
	}

	var b strings.Builder
	b.WriteString("Previous conversation context:\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	tc.AppendSystem(strings.TrimRight(b.String(), "\n"))
	m.logger.Debug("injected memory context", "user", userID, "facts", len(facts))
}

// Persist appends the raw utterance as a new memory fact for the user.
// Failures are logged and swallowed; persistence only affects future turns
// and must never surface to the user.
func (m *MemoryManager) Persist(ctx context.Context, userID, utterance string) {
	if strings.TrimSpace(utterance) == "" {
		return
	}
	if m.tracer != nil {
		var span Span
		ctx, span = m.tracer.Start(ctx, "memory.persist", StringAttr("user", userID))
		defer span.End()
	}
	if err := m.client.Add(ctx, userID, utterance); err != nil {
		m.logger.Warn("memory persistence failed", "user", userID, "error", err)
	}
}

// Greet returns an instruction for the Conversation Engine to open the
// session. With remembered facts on file it builds a personalized-greeting
// instruction embedding up to the top ten; with none it returns a generic
// warm-greeting instruction; when retrieval itself fails it falls back to a
// minimal static instruction. Never errors.
func (m *MemoryManager) Greet(ctx context.Context, userID string) string {
	records, err := m.search(ctx, userID, greetQuery, greetTopK, greetMinScore)
	if err != nil {
		m.logger.Warn("greeting retrieval failed", "user", userID, "error", err)
		return fallbackGreetingInstruction
	}

	var facts []string
	for _, r := range records {
		t := strings.TrimSpace(r.Text)
		if len(t) > greetMinChars {
			facts = append(facts, t)
		}
	}
	if len(facts) == 0 {
		return genericGreetingInstruction
	}
	if len(facts) > greetMaxFacts {
		facts = facts[:greetMaxFacts]
	}

	m.logger.Debug("building personalized greeting", "user", userID, "facts", len(facts))

	var b strings.Builder
	b.WriteString("You are a warm, personable assistant with excellent memory. ")
	b.WriteString("Here is what you remember about this user from previous conversations:\n")
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\nCreate a SHORT, warm, personalized greeting (2-3 sentences) that ")
	b.WriteString("references specific details naturally, like catching up with an old friend, ")
	b.WriteString("and ends with an offer to help. Don't force references that don't fit, and ")
	b.WriteString("don't recap memories every single time - only sometimes. Keep it concise.")
	return b.String()
}

// Lookup is the best-effort enrichment call used by tools (e.g. "who is this
// sender"). It returns the single most relevant fact and true, or "" and
// false when nothing is found, the deadline is hit, or the store fails.
// Absence is an explicit, expected outcome, not an error.
func (m *MemoryManager) Lookup(ctx context.Context, userID, query string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var span Span
	if m.tracer != nil {
		ctx, span = m.tracer.Start(ctx, "memory.lookup", StringAttr("user", userID))
		defer span.End()
	}
	fact, ok := m.lookup(ctx, userID, query)
	if span != nil {
		span.SetAttr(BoolAttr("found", ok))
	}
	return fact, ok
}

func (m *MemoryManager) lookup(ctx context.Context, userID, query string) (string, bool) {
	records, err := m.search(ctx, userID, query, 1, injectMinScore)
	if err != nil {
		m.logger.Debug("enrichment lookup failed", "user", userID, "error", err)
		return "", false
	}
	if len(records) == 0 {
		return "", false
	}
	t := strings.TrimSpace(records[0].Text)
	if t == "" {
		return "", false
	}
	return t, true
}

// search wraps the client call with an optional span.
func (m *MemoryManager) search(ctx context.Context, userID, query string, topK int, minScore float64) ([]MemoryRecord, error) {
	if m.tracer != nil {
		var span Span
		ctx, span = m.tracer.Start(ctx, "memory.search",
			StringAttr("user", userID),
			IntAttr("top_k", topK),
			Float64Attr("min_score", minScore))
		defer span.End()
		records, err := m.client.Search(ctx, userID, query, topK, minScore)
		if err != nil {
			span.Error(err)
			return nil, err
		}
		span.SetAttr(IntAttr("results", len(records)))
		return records, nil
	}
	return m.client.Search(ctx, userID, query, topK, minScore)
}
