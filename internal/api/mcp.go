package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/chatmirror/internal/chat"
	"github.com/kalambet/chatmirror/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Syncer Syncer
}

// NewMCPServer creates an MCP server exposing the chat mirror to assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"chatmirror",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("chatmirror keeps a local copy of the user's chat list. Use list_chats to browse it and sync_chats to refresh it."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sync_chats",
			mcp.WithDescription("Pull new chats from the remote service into the local mirror. Syncs every source unless one is named."),
			mcp.WithString("source", mcp.Description("Optional source key: inbox, archives or folder_<id>")),
		),
		mcpSyncChats(deps),
	)

	s.AddTool(
		mcp.NewTool("list_chats",
			mcp.WithDescription("List mirrored chats, most recently active first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of chats (default 20)")),
			mcp.WithNumber("offset", mcp.Description("Number of chats to skip")),
			mcp.WithBoolean("archived", mcp.Description("Only archived (true) or only active (false) chats")),
		),
		mcpListChats(deps),
	)

	s.AddTool(
		mcp.NewTool("get_chat",
			mcp.WithDescription("Return one mirrored chat including its remote payload and local state."),
			mcp.WithString("key", mcp.Description("Chat key in the form <counterpart>:<group>"), mcp.Required()),
		),
		mcpGetChat(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"chats://recent",
			"Recent Chats",
			mcp.WithResourceDescription("The 20 most recently active mirrored chats"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSyncChats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		source := req.GetString("source", "")

		var (
			n   int
			err error
		)
		if source == "" {
			n, err = deps.Syncer.SyncAll(ctx)
		} else {
			n, err = deps.Syncer.SyncKey(ctx, source)
		}
		if chat.IsBlocked(err) {
			return mcpError("the remote service reports this conversation is blocked"), nil
		}
		if errors.Is(err, chat.ErrMissingIdentity) {
			return mcpError("no identity token configured; set CHATMIRROR_IDENTITY_TOKEN"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("sync failed: %v", err)), nil
		}

		if source == "" {
			return mcpText(fmt.Sprintf("Synced %d chats", n)), nil
		}
		return mcpText(fmt.Sprintf("Synced %d chats from %s", n, source)), nil
	}
}

func mcpListChats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}
		f := storage.ChatFilter{Limit: limit, Offset: req.GetInt("offset", 0)}
		if f.Offset < 0 {
			f.Offset = 0
		}
		if args := req.GetArguments(); args != nil {
			if b, ok := args["archived"].(bool); ok {
				f.Archived = &b
			}
		}

		chats, err := deps.Store.ListChats(ctx, f)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list chats: %v", err)), nil
		}

		views := make([]ChatView, len(chats))
		for i, c := range chats {
			views[i] = toView(c)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal chats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		key, err := chat.ParseKey(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		c, err := deps.Store.GetChat(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("chat %s not found", key)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get chat: %v", err)), nil
		}

		b, err := json.Marshal(toView(c))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal chat: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		chats, err := deps.Store.ListChats(ctx, storage.ChatFilter{Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("failed to list recent chats: %w", err)
		}

		type chatSummary struct {
			Key          string `json:"key"`
			LastActivity string `json:"last_activity,omitempty"`
			Archived     bool   `json:"archived"`
		}
		summaries := make([]chatSummary, len(chats))
		for i, c := range chats {
			summaries[i] = chatSummary{
				Key:          c.Key.String(),
				LastActivity: chat.FormatTimestamp(c.LastActivity),
				Archived:     c.Archived,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
