package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	valet "github.com/valet-ai/valet"
)

// testInstruments creates Instruments against the global OTEL providers,
// which are no-ops when Init has not run. Good enough to exercise the
// wrapper plumbing without an exporter.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

type innerTool struct {
	lastName string
	result   valet.ToolResult
	err      error
}

func (f *innerTool) Definitions() []valet.ToolDefinition {
	return []valet.ToolDefinition{{Name: "echo"}}
}

func (f *innerTool) Execute(_ context.Context, name string, _ json.RawMessage) (valet.ToolResult, error) {
	f.lastName = name
	return f.result, f.err
}

func TestWrapTool_Delegates(t *testing.T) {
	inner := &innerTool{result: valet.ToolResult{Content: "spoken reply"}}
	tool := WrapTool(inner, testInstruments(t))

	if defs := tool.Definitions(); len(defs) != 1 || defs[0].Name != "echo" {
		t.Errorf("definitions: %+v", defs)
	}

	result, err := tool.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if inner.lastName != "echo" {
		t.Errorf("inner tool saw %q", inner.lastName)
	}
	if result.Content != "spoken reply" {
		t.Errorf("result altered by wrapper: %+v", result)
	}
}

func TestWrapTool_PassesThroughErrors(t *testing.T) {
	wantErr := errors.New("boom")
	tool := WrapTool(&innerTool{err: wantErr}, testInstruments(t))

	if _, err := tool.Execute(context.Background(), "echo", nil); !errors.Is(err, wantErr) {
		t.Errorf("error altered by wrapper: %v", err)
	}
}

type innerMemory struct {
	lastQuery string
	lastText  string
	records   []valet.MemoryRecord
	err       error
}

func (f *innerMemory) Search(_ context.Context, _, query string, _ int, _ float64) ([]valet.MemoryRecord, error) {
	f.lastQuery = query
	return f.records, f.err
}

func (f *innerMemory) Add(_ context.Context, _, text string) error {
	f.lastText = text
	return f.err
}

func TestWrapMemory_Delegates(t *testing.T) {
	inner := &innerMemory{records: []valet.MemoryRecord{{Text: "fact", Score: 0.9}}}
	client := WrapMemory(inner, testInstruments(t))

	records, err := client.Search(context.Background(), "u1", "q", 5, 0.3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if inner.lastQuery != "q" || len(records) != 1 || records[0].Text != "fact" {
		t.Errorf("search delegation: query=%q records=%+v", inner.lastQuery, records)
	}

	if err := client.Add(context.Background(), "u1", "new fact"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if inner.lastText != "new fact" {
		t.Errorf("add delegation: %q", inner.lastText)
	}
}

type innerStore struct {
	puts int
	cred valet.Credential
}

func (f *innerStore) Put(_ context.Context, _ string, _ valet.Integration, cred valet.Credential) error {
	f.puts++
	f.cred = cred
	return nil
}

func (f *innerStore) Get(_ context.Context, _ string, _ valet.Integration) (valet.Credential, bool, error) {
	return f.cred, f.puts > 0, nil
}

func (f *innerStore) Exists(_ context.Context, _ string, _ valet.Integration) (bool, error) {
	return f.puts > 0, nil
}

func (f *innerStore) Init(context.Context) error { return nil }
func (f *innerStore) Close() error               { return nil }

func TestWrapStore_Delegates(t *testing.T) {
	inner := &innerStore{}
	store := WrapStore(inner, testInstruments(t))

	cred := valet.Credential{AccessToken: "tok"}
	if err := store.Put(context.Background(), "u1", valet.IntegrationEmail, cred); err != nil {
		t.Fatalf("put: %v", err)
	}
	if inner.puts != 1 {
		t.Errorf("puts: %d", inner.puts)
	}

	got, ok, err := store.Get(context.Background(), "u1", valet.IntegrationEmail)
	if err != nil || !ok || got.AccessToken != "tok" {
		t.Errorf("get: %+v %v %v", got, ok, err)
	}
	if ok, err := store.Exists(context.Background(), "u1", valet.IntegrationEmail); err != nil || !ok {
		t.Errorf("exists: %v %v", ok, err)
	}
}
