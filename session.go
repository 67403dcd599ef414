package valet

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Session is the per-user boundary the Conversation Engine drives. The engine
// calls Greeting once at session start, BeforeReply synchronously before
// generating each reply, and AfterReply once the user's turn is complete.
// Tool calls from the engine go through Execute, which stamps the session's
// user identity onto the context.
//
// The core never calls back into engine internals: its entire effect on a
// turn is appending to the supplied TurnContext and returning text.
type Session struct {
	userID string
	memory *MemoryManager
	tools  *ToolRegistry
	logger *slog.Logger
	tracer Tracer
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the structured logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithSessionTracer enables span emission around turns and tool calls.
func WithSessionTracer(t Tracer) SessionOption {
	return func(s *Session) { s.tracer = t }
}

// NewSession creates a session for one user.
func NewSession(userID string, memory *MemoryManager, opts ...SessionOption) *Session {
	s := &Session{
		userID: userID,
		memory: memory,
		tools:  NewToolRegistry(),
		logger: nopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UserID returns the session's user identity.
func (s *Session) UserID() string { return s.userID }

// AddTool registers a tool with the session.
func (s *Session) AddTool(t Tool) {
	s.tools.Add(t)
}

// Tools returns the session's tool registry, for surfacing definitions to
// the Conversation Engine.
func (s *Session) Tools() *ToolRegistry { return s.tools }

// Greeting returns the opening instruction for the Conversation Engine:
// personalized when the user has remembered facts, generic otherwise.
// Never errors; a failing memory store degrades to a static instruction.
func (s *Session) Greeting(ctx context.Context) string {
	if s.tracer != nil {
		var span Span
		ctx, span = s.tracer.Start(ctx, "session.greeting", StringAttr("user", s.userID))
		defer span.End()
	}
	return s.memory.Greet(ctx, s.userID)
}

// BeforeReply injects remembered facts relevant to the utterance into the
// turn context. It must complete (success or failure) before the engine
// starts generating the reply; the injection is what the model sees.
func (s *Session) BeforeReply(ctx context.Context, tc *TurnContext, utterance string) {
	start := time.Now()
	s.memory.Inject(ctx, tc, s.userID, utterance)
	s.logger.Debug("pre-turn injection done",
		"user", s.userID, "elapsed", time.Since(start))
}

// AfterReply persists the user's utterance as a memory fact in the
// background. Persistence only affects future turns, so it may run while the
// reply is already being spoken; the write is detached from the turn's
// context so session teardown doesn't cancel it mid-flight.
func (s *Session) AfterReply(_ context.Context, utterance string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.memory.Persist(ctx, s.userID, utterance)
	}()
}

// Execute dispatches a tool call on behalf of this session's user.
func (s *Session) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	ctx = WithUserID(ctx, s.userID)
	if s.tracer != nil {
		var span Span
		ctx, span = s.tracer.Start(ctx, "tool.execute",
			StringAttr("tool", name),
			StringAttr("user", s.userID))
		defer span.End()

		result, err := s.tools.Execute(ctx, name, args)
		if err != nil {
			span.Error(err)
		} else if result.Error != "" {
			span.SetAttr(StringAttr("tool.error", result.Error))
		}
		return result, err
	}
	return s.tools.Execute(ctx, name, args)
}
