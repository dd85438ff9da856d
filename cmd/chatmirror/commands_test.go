package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/chatmirror/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// runCommand points the CLI at ts and executes args.
func runCommand(t *testing.T, ts *testServer, args ...string) error {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() {
		newAPIClient = old
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

var ctx = context.Background()

func TestSyncCommand_All(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sync": `{"total":17}`,
	})

	if err := runCommand(t, ts, "sync"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/sync" {
		t.Errorf("request = %s %s, want POST /sync", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestSyncCommand_Source(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sync/folder_12": `{"source":"folder_12","total":3}`,
	})

	if err := runCommand(t, ts, "sync", "--source", "folder_12"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/sync/folder_12" {
		t.Errorf("path = %q, want /sync/folder_12", ts.requests[0].Path)
	}
}

func TestSyncCommand_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"missing identity token","type":"missing_identity"}}`))
	}))
	defer ts.Close()

	old := newAPIClient
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}, nil
	}
	defer func() {
		newAPIClient = old
		rootCmd.SetArgs(nil)
	}()

	rootCmd.SetArgs([]string{"sync"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "missing_identity") {
		t.Errorf("error = %q, want status and type", err.Error())
	}
}

func TestChatsList_Query(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /chats": `{"chats":[{"key":"7:a","last_activity":"2026-03-01T12:00:00Z","archived":true,"payload":{"title":"hello"}}],"total":1}`,
	})

	if err := runCommand(t, ts, "chats", "list", "--limit", "5", "--archived"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := ts.requests[0].Path
	for _, want := range []string{"limit=5", "archived=true", "offset=0"} {
		if !strings.Contains(path, want) {
			t.Errorf("path %q missing %q", path, want)
		}
	}
}

func TestChatsState_ParsesJSONValues(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /chats/7:a/state": `{"key":"7:a"}`,
	})

	tests := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"3", float64(3)},
		{"null", nil},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		ts.requests = nil
		if err := runCommand(t, ts, "chats", "state", "7:a", "pinned", tt.raw); err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.raw, err)
		}
		var body map[string]any
		if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
			t.Fatalf("body parse error: %v", err)
		}
		v, ok := body["pinned"]
		if !ok {
			t.Fatalf("%q: body missing field: %s", tt.raw, ts.requests[0].Body)
		}
		if v != tt.want {
			t.Errorf("%q: pinned = %#v, want %#v", tt.raw, v, tt.want)
		}
	}
}

func TestChatsDelete(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /chats/7:a": `{"status":"deleted"}`,
	})

	if err := runCommand(t, ts, "chats", "delete", "7:a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != "DELETE" {
		t.Errorf("method = %q, want DELETE", ts.requests[0].Method)
	}
}

func TestChatsShow_MissingArg(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := runCommand(t, ts, "chats", "show"); err == nil {
		t.Fatal("expected error for missing key")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestWatermarksReset(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /sync/state/inbox": `{"status":"reset"}`,
	})

	if err := runCommand(t, ts, "watermarks", "reset", "inbox"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/sync/state/inbox" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestWatermarksReset_NotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	err := runCommand(t, ts, "watermarks", "reset", "folder_9")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("error = %v, want 404", err)
	}
	if !isNotFound(err) || !strings.Contains(err.Error(), "has no watermark") {
		t.Errorf("error = %v, want a wrapped not-found", err)
	}
}

func TestAPIClient_Call(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /chats/u1:g/state": `{"key":"u1:g"}`,
		"POST /navigation":        `{"status":"accepted"}`,
	})
	client := ts.client()

	var out struct {
		Key string `json:"key"`
	}
	if err := client.call(ctx, http.MethodPatch, "/chats/u1:g/state", map[string]any{"pinned": true}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Key != "u1:g" {
		t.Errorf("decoded key = %q", out.Key)
	}
	if err := client.call(ctx, http.MethodPost, "/navigation", map[string]string{"event": "url_changed"}, nil); err != nil {
		t.Fatalf("call without output: %v", err)
	}
	if got := ts.requests[0].Body; got != `{"pinned":true}` {
		t.Errorf("request body = %q", got)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}

	err := client.call(ctx, http.MethodGet, "/chats/nope:g", nil, &out)
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if ae.Status != http.StatusNotFound || ae.Type != "not_found" || ae.Message != "not found" {
		t.Errorf("apiError = %+v", ae)
	}
}

func TestReadAPIError_PlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", httpClient: ts.Client()}
	err := client.call(ctx, http.MethodGet, "/chats", nil, nil)
	if err == nil || err.Error() != "server returned 502: upstream exploded" {
		t.Errorf("error = %v", err)
	}
}

func TestFetchSyncStates(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /sync/state": `[{"source":"inbox","last_sync_time":"2026-03-01T12:00:00Z","status":"ok","last_count":4}]`,
	})

	states, err := fetchSyncStates(ctx, ts.client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 1 || states[0].Source != "inbox" || states[0].LastCount != 4 {
		t.Fatalf("states = %+v", states)
	}
}

func TestDescribeState(t *testing.T) {
	tests := []struct {
		st   syncState
		want string
	}{
		{syncState{}, "never synced"},
		{syncState{LastSyncTime: "T", Status: "ok", LastCount: 2}, "watermark T, last run 2 chats"},
		{syncState{Status: "error", LastError: "boom"}, "never synced, last run failed: boom"},
	}
	for _, tt := range tests {
		if got := describeState(tt.st); got != tt.want {
			t.Errorf("describeState(%+v) = %q, want %q", tt.st, got, tt.want)
		}
	}
}

func TestNavigateCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /navigation": `{"status":"accepted"}`,
	})

	if err := runCommand(t, ts, "navigate", "url_changed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string]string
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if body["event"] != "url_changed" {
		t.Errorf("event = %q, want url_changed", body["event"])
	}
}

func TestChatTitle(t *testing.T) {
	if got := chatTitle(chatSummary{Payload: map[string]any{"name": "Ann"}}); got != "Ann" {
		t.Errorf("chatTitle = %q, want Ann", got)
	}
	if got := chatTitle(chatSummary{}); got != "" {
		t.Errorf("chatTitle of empty payload = %q", got)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/chats")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chatmirror.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still present after remove")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Remote.IdentityToken = "secret-identity"

	keys := config.ShowAll(cfg)
	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
		if strings.Contains(k.Value, "secret-identity") {
			t.Errorf("ShowAll leaked identity token under %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}
	if got := truncate("привет мир", 6); got != "привет..." {
		t.Errorf("truncate() = %q, want %q", got, "привет...")
	}
}
