package valet

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSession_GreetingDelegatesToMemory(t *testing.T) {
	client := &fakeMemoryClient{records: []MemoryRecord{
		{Text: "training for a marathon", Score: 0.9},
	}}
	s := NewSession("u1", NewMemoryManager(client))

	got := s.Greeting(context.Background())
	if got == genericGreetingInstruction || got == fallbackGreetingInstruction {
		t.Errorf("expected personalized greeting, got %q", got)
	}
	if client.searches[0].userID != "u1" {
		t.Errorf("greeting retrieved for wrong user: %+v", client.searches[0])
	}
}

func TestSession_BeforeReplyInjectsSynchronously(t *testing.T) {
	client := &fakeMemoryClient{records: []MemoryRecord{{Text: "allergic to peanuts", Score: 0.8}}}
	s := NewSession("u1", NewMemoryManager(client))

	tc := &TurnContext{Messages: []ChatMessage{UserMessage("dinner ideas?")}}
	s.BeforeReply(context.Background(), tc, "dinner ideas?")

	// Visible immediately on return, no synchronization needed.
	if len(tc.Messages) != 2 {
		t.Fatalf("expected injected message on return, got %d messages", len(tc.Messages))
	}
}

func TestSession_AfterReplyPersistsInBackground(t *testing.T) {
	client := &fakeMemoryClient{}
	s := NewSession("u1", NewMemoryManager(client))

	s.AfterReply(context.Background(), "I moved to Lisbon")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if added := client.addedTexts(); len(added) == 1 {
			if added[0] != "I moved to Lisbon" {
				t.Fatalf("unexpected persisted text: %q", added[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("utterance never persisted")
}

func TestSession_AfterReplySurvivesCanceledTurnContext(t *testing.T) {
	client := &fakeMemoryClient{}
	s := NewSession("u1", NewMemoryManager(client))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.AfterReply(ctx, "fact from a torn-down turn")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(client.addedTexts()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("persistence should not be canceled with the turn")
}

func TestSession_ExecuteStampsUserIdentity(t *testing.T) {
	s := NewSession("u1", NewMemoryManager(&fakeMemoryClient{}))
	echo := &echoTool{names: []string{"probe"}}
	s.AddTool(echo)

	if _, err := s.Execute(context.Background(), "probe", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	id, ok := UserIDFromContext(echo.lastCtx)
	if !ok || id != "u1" {
		t.Errorf("user identity not on tool context: %q, %v", id, ok)
	}
}

func TestSession_ToolsExposeDefinitions(t *testing.T) {
	s := NewSession("u1", NewMemoryManager(&fakeMemoryClient{}))
	s.AddTool(&echoTool{names: []string{"a", "b"}})

	if defs := s.Tools().AllDefinitions(); len(defs) != 2 {
		t.Errorf("expected 2 definitions, got %d", len(defs))
	}
}
