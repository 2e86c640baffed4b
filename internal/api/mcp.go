package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/paramsync"
	"github.com/kalambet/paramsync/internal/prefs"
)

// Syncer runs sync passes. Implemented by *paramsync.Synchronizer.
type Syncer interface {
	Pull(ctx context.Context) error
	Push(ctx context.Context) error
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Local  prefs.Store
	Schema param.Schema
	Sync   Syncer // optional; if nil, the pull/push tools return an error
}

// NewMCPServer creates an MCP server exposing the local preferences and
// sync passes as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"paramsync",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("paramsync keeps device preferences in step with the shared parameter registry."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_preferences",
			mcp.WithDescription("List the declared parameters with their type and current local value."),
		),
		mcpListPreferences(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Set a declared parameter in the local preference store. Run push_parameters to publish it."),
			mcp.WithString("key", mcp.Description("Bare parameter name"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value in text form (true/false, decimal integer, or string)"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	s.AddTool(
		mcp.NewTool("pull_parameters",
			mcp.WithDescription("Copy every declared parameter from the registry into the local store."),
		),
		mcpPull(deps),
	)

	s.AddTool(
		mcp.NewTool("push_parameters",
			mcp.WithDescription("Write every declared parameter from the local store to the registry."),
		),
		mcpPush(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"prefs://local",
			"Local Preferences",
			mcp.WithResourceDescription("All entries of the local preference store as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceLocal(deps),
	)

	return s
}

type preferenceView struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

func readPreference(local prefs.Store, sp param.Spec) preferenceView {
	v := preferenceView{Name: sp.Name, Type: sp.Type.String()}
	var err error
	switch sp.Type {
	case param.Bool:
		v.Value, err = local.GetBool(sp.Name, false)
	case param.IntAsString:
		v.Value, err = local.GetString(sp.Name, "0")
	case param.String:
		v.Value, err = local.GetString(sp.Name, "")
	default:
		err = &param.UnknownTypeError{Name: sp.Name, Tag: sp.Type.String()}
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

func mcpListPreferences(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		specs := deps.Schema.Specs()
		out := make([]preferenceView, len(specs))
		for i, sp := range specs {
			out[i] = readPreference(deps.Local, sp)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal preferences: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// SetPreference validates value against the declared type of key and
// commits it to local.
func SetPreference(local prefs.Store, schema param.Schema, key, value string) error {
	sp, ok := schema.Lookup(key)
	if !ok {
		return fmt.Errorf("parameter %q is not declared in the schema", key)
	}
	ed := local.Edit()
	switch sp.Type {
	case param.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for %s: %w", key, err)
		}
		ed.PutBool(key, b)
	case param.IntAsString:
		i, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		ed.PutString(key, strconv.Itoa(i))
	case param.String:
		ed.PutString(key, value)
	default:
		return &param.UnknownTypeError{Name: key, Tag: sp.Type.String()}
	}
	return ed.Commit()
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := SetPreference(deps.Local, deps.Schema, key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set preference: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpPull(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Sync == nil {
			return mcpError("sync not available: no registry session"), nil
		}
		if err := deps.Sync.Pull(ctx); err != nil {
			return mcpError(fmt.Sprintf("pull failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Pulled %d parameters", deps.Schema.Len())), nil
	}
}

func mcpPush(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Sync == nil {
			return mcpError("sync not available: no registry session"), nil
		}
		err := deps.Sync.Push(ctx)
		if err == nil {
			return mcpText(fmt.Sprintf("Pushed %d parameters", deps.Schema.Len())), nil
		}
		failed := paramsync.EntryErrors(err)
		lines := make([]string, 0, len(failed)+1)
		lines = append(lines, fmt.Sprintf("push finished with %d failed entries", len(failed)))
		for _, ee := range failed {
			lines = append(lines, "- "+ee.Error())
		}
		if len(failed) == 0 {
			lines = append(lines, err.Error())
		}
		return mcpError(strings.Join(lines, "\n")), nil
	}
}

func mcpResourceLocal(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Local.All()
		if err != nil {
			return nil, fmt.Errorf("failed to list preferences: %w", err)
		}
		if entries == nil {
			entries = []prefs.Entry{}
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
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
