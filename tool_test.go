package valet

import (
	"context"
	"encoding/json"
	"testing"
)

// echoTool answers any of its operations with its own name.
type echoTool struct {
	names    []string
	lastCtx  context.Context
	lastArgs json.RawMessage
}

func (e *echoTool) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(e.names))
	for i, n := range e.names {
		defs[i] = ToolDefinition{Name: n, Parameters: json.RawMessage(`{}`)}
	}
	return defs
}

func (e *echoTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	e.lastCtx = ctx
	e.lastArgs = args
	return ToolResult{Content: name}, nil
}

var _ Tool = (*echoTool)(nil)

func TestToolRegistry_DispatchesByName(t *testing.T) {
	r := NewToolRegistry()
	r.Add(&echoTool{names: []string{"search_email", "send_email"}})
	r.Add(&echoTool{names: []string{"list_calendar_events"}})

	result, err := r.Execute(context.Background(), "list_calendar_events", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Content != "list_calendar_events" {
		t.Errorf("dispatched to wrong tool: %+v", result)
	}
}

func TestToolRegistry_UnknownTool(t *testing.T) {
	r := NewToolRegistry()
	r.Add(&echoTool{names: []string{"search_email"}})

	result, err := r.Execute(context.Background(), "no_such_tool", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Error == "" {
		t.Error("expected error result for unknown tool")
	}
}

func TestToolRegistry_AllDefinitions(t *testing.T) {
	r := NewToolRegistry()
	r.Add(&echoTool{names: []string{"a", "b"}})
	r.Add(&echoTool{names: []string{"c"}})

	if defs := r.AllDefinitions(); len(defs) != 3 {
		t.Errorf("expected 3 definitions, got %d", len(defs))
	}
}

func TestUserIDContext(t *testing.T) {
	ctx := WithUserID(context.Background(), "u1")
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "u1" {
		t.Errorf("round trip failed: %q, %v", id, ok)
	}

	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("expected absent user id on bare context")
	}

	if _, ok := UserIDFromContext(WithUserID(context.Background(), "")); ok {
		t.Error("empty user id should read as absent")
	}
}
