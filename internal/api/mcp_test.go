package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/chatmirror/internal/chat"
	"github.com/kalambet/chatmirror/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	return MCPDeps{
		Store:  store,
		Syncer: &mockSyncer{},
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestMCPTool_SyncChats_All(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Syncer = &mockSyncer{allFn: func(ctx context.Context) (int, error) { return 12, nil }}

	result, err := mcpSyncChats(deps)(context.Background(), makeCallToolRequest("sync_chats", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "Synced 12 chats" {
		t.Fatalf("unexpected text: %s", text)
	}
}

func TestMCPTool_SyncChats_Source(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	var got string
	deps.Syncer = &mockSyncer{keyFn: func(ctx context.Context, key string) (int, error) {
		got = key
		return 4, nil
	}}

	req := makeCallToolRequest("sync_chats", map[string]interface{}{"source": "archives"})
	result, err := mcpSyncChats(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "archives" {
		t.Fatalf("synced %q, want archives", got)
	}
	if text := toolText(t, result); text != "Synced 4 chats from archives" {
		t.Fatalf("unexpected text: %s", text)
	}
}

func TestMCPTool_SyncChats_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"blocked", &chat.DomainSignalError{Signal: chat.SignalConversationBlocked}, "blocked"},
		{"identity", chat.ErrMissingIdentity, "identity token"},
		{"other", errors.New("connection refused"), "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _ := newTestMCPDeps(t)
			deps.Syncer = &mockSyncer{allFn: func(ctx context.Context) (int, error) { return 0, tt.err }}

			result, err := mcpSyncChats(deps)(context.Background(), makeCallToolRequest("sync_chats", nil))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if text := toolText(t, result); !strings.Contains(text, tt.want) {
				t.Fatalf("text %q does not mention %q", text, tt.want)
			}
		})
	}
}

func TestMCPTool_ListChats(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedChats(t, store)

	req := makeCallToolRequest("list_chats", map[string]interface{}{"archived": false, "limit": float64(1)})
	result, err := mcpListChats(deps)(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var views []ChatView
	if err := json.Unmarshal([]byte(toolText(t, result)), &views); err != nil {
		t.Fatalf("failed to parse chats JSON: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 chat, got %d", len(views))
	}
	if views[0].Key != "8:b" || views[0].Archived {
		t.Fatalf("unexpected chat: %+v", views[0])
	}
}

func TestMCPTool_GetChat(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedChats(t, store)

	result, err := mcpGetChat(deps)(context.Background(), makeCallToolRequest("get_chat", map[string]interface{}{"key": "9:c"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v ChatView
	if err := json.Unmarshal([]byte(toolText(t, result)), &v); err != nil {
		t.Fatalf("failed to parse chat JSON: %v", err)
	}
	if !v.Archived || v.Payload["title"] != "archived" {
		t.Fatalf("unexpected chat: %+v", v)
	}
}

func TestMCPTool_GetChat_Errors(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpGetChat(deps)

	for _, args := range []map[string]interface{}{
		{},
		{"key": "nocolon"},
		{"key": "1:missing"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("get_chat", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.IsError {
			t.Fatalf("args %v: expected error result", args)
		}
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedChats(t, store)

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("chats://recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &items); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 chats, got %d", len(items))
	}
	if items[0]["key"] != "8:b" {
		t.Fatalf("expected most recent first, got %v", items[0]["key"])
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedChats(t, store)
	handler := mcpListChats(deps)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := handler(context.Background(), makeCallToolRequest("list_chats", nil))
			if err != nil {
				errs <- err
				return
			}
			if result.IsError {
				errs <- errors.New("tool returned error result")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent call failed: %v", err)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
