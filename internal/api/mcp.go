package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/bella/internal/pipeline"
	"github.com/kalambet/bella/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Engine  *pipeline.Engine
	Version string
	Now     func() time.Time
}

// NewMCPServer creates an MCP server with the memory tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"bella",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bella: conversational memory of the user's name, birthday, likes, dislikes and notes."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a note about the user in long-term memory."),
			mcp.WithString("text", mcp.Description("The note to remember"), mcp.Required()),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_facts",
			mcp.WithDescription("Show which profile facts would be extracted from an utterance, without storing anything."),
			mcp.WithString("text", mcp.Description("User utterance"), mcp.Required()),
		),
		mcpExtract(deps),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return the remembered user profile as JSON."),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_conversation",
			mcp.WithDescription("Return the most recent conversation turns."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of turns (default 10)")),
		),
		mcpRecentConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("run_retention",
			mcp.WithDescription("Drop expired conversation turns now."),
		),
		mcpRunRetention(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://profile",
			"User Profile",
			mcp.WithResourceDescription("Current user profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"user://recent",
			"Recent Conversation",
			mcp.WithResourceDescription("Last 10 conversation turns"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || strings.TrimSpace(text) == "" {
			return mcpError("text is required"), nil
		}

		res, err := deps.Engine.Remember(ctx, strings.TrimSpace(text))
		if err != nil {
			return mcpError(fmt.Sprintf("remembered in memory but failed to save: %v", err)), nil
		}
		if !res.Updated {
			return mcpText("Already remembered"), nil
		}
		return mcpText(res.Message), nil
	}
}

func mcpExtract(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		cands := deps.Engine.Extract(text)
		if len(cands) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(cands)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal candidates: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := profile.Encode(deps.Engine.Profile())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to encode profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}
		b, err := recentJSON(deps, limit)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunRetention(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := deps.Engine.RunRetentionPass(ctx, deps.Now())
		if err != nil {
			return mcpError(fmt.Sprintf("retention pass failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Removed %d expired turns", n)), nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := profile.Encode(deps.Engine.Profile())
		if err != nil {
			return nil, fmt.Errorf("failed to encode profile: %w", err)
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

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := recentJSON(deps, 10)
		if err != nil {
			return nil, err
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

type turnSummary struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	User      string `json:"user"`
	Reply     string `json:"reply,omitempty"`
	Important bool   `json:"important,omitempty"`
}

func recentJSON(deps MCPDeps, limit int) ([]byte, error) {
	entries := deps.Engine.Recent(limit)
	summaries := make([]turnSummary, len(entries))
	for i, e := range entries {
		summaries[i] = turnSummary{
			ID:        e.ID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
			User:      clip(e.UserText, 200),
			Reply:     clip(e.ResponseText, 200),
			Important: e.Important,
		}
	}
	b, err := json.Marshal(summaries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return b, nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
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
