package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kvs/internal/kvs"
	"github.com/kalambet/kvs/internal/theme"
)

// NewMCPServer creates an MCP server exposing the store as tools and the
// whole store as one JSON resource.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kvs",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kvs: the application's persistent preferences (JSON values under string keys)."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_value",
			mcp.WithDescription("Read the JSON value stored under a key."),
			mcp.WithString("key", mcp.Description("Key to read, e.g. theme-name"), mcp.Required()),
		),
		mcpGetValue(deps),
	)

	s.AddTool(
		mcp.NewTool("set_value",
			mcp.WithDescription("Store a value under a key. JSON text is stored as-is; anything else is stored as a JSON string."),
			mcp.WithString("key", mcp.Description("Key to write"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value as JSON text"), mcp.Required()),
		),
		mcpSetValue(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_value",
			mcp.WithDescription("Remove a key from the store."),
			mcp.WithString("key", mcp.Description("Key to remove"), mcp.Required()),
		),
		mcpDeleteValue(deps),
	)

	s.AddTool(
		mcp.NewTool("list_keys",
			mcp.WithDescription("List every key in the store."),
		),
		mcpListKeys(deps),
	)

	s.AddTool(
		mcp.NewTool("get_theme",
			mcp.WithDescription("Return the UI theme the application will start with."),
		),
		mcpGetTheme(deps),
	)

	s.AddTool(
		mcp.NewTool("set_theme",
			mcp.WithDescription("Change the persisted UI theme."),
			mcp.WithString("theme", mcp.Description("dark or light"), mcp.Required(), mcp.Enum("dark", "light")),
		),
		mcpSetTheme(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kvs://store",
			"Store contents",
			mcp.WithResourceDescription("Every key and value as one JSON object"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStore(deps),
	)

	return s
}

func mcpGetValue(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil || key == "" {
			return mcpError("key is required"), nil
		}
		raw, err := deps.Store.Get(key)
		if errors.Is(err, kvs.ErrNotFound) {
			return mcpError(fmt.Sprintf("key %q not found", key)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read %q: %v", key, err)), nil
		}
		return mcpText(string(raw)), nil
	}
}

func mcpSetValue(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil || key == "" {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			b, err := json.Marshal(value)
			if err != nil {
				return mcpError(fmt.Sprintf("failed to encode value: %v", err)), nil
			}
			raw = b
		}

		if err := deps.Store.Set(key, raw); err != nil {
			return mcpError(fmt.Sprintf("failed to set %q: %v", key, err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, raw)), nil
	}
}

func mcpDeleteValue(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil || key == "" {
			return mcpError("key is required"), nil
		}
		if err := deps.Store.Delete(key); err != nil {
			return mcpError(fmt.Sprintf("failed to delete %q: %v", key, err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %s", key)), nil
	}
}

func mcpListKeys(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		keys, err := deps.Store.Keys()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list keys: %v", err)), nil
		}
		b, err := json.Marshal(keys)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal keys: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetTheme(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpText(string(theme.Load(deps.Store).Mode())), nil
	}
}

func mcpSetTheme(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("theme")
		if err != nil {
			return mcpError("theme is required"), nil
		}
		mode, err := theme.ParseMode(name)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if err := theme.Load(deps.Store).Set(mode); err != nil {
			return mcpError(fmt.Sprintf("failed to set theme: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Theme set to %s", mode)), nil
	}
}

func mcpResourceStore(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := kvs.Snapshot(deps.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to read store: %w", err)
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal store: %w", err)
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
