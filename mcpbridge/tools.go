// Package mcpbridge exposes a core.Supervisor as a small set of MCP
// tools, demonstrating the core as an embeddable dependency the way
// the teacher's mcpserver/tools package wraps a LanguageClient. It is
// not part of the core's required surface.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rockerboo/lsp-client-core/core"
)

// ToolServer is the subset of *server.MCPServer this package needs,
// narrowed the way the teacher's tools package narrows to ToolServer.
type ToolServer interface {
	AddTool(tool mcp.Tool, handler server.ToolHandlerFunc)
}

func positionParams(uri string, line, character int) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"position": map[string]any{
			"line":      line,
			"character": character,
		},
	}
}

// HoverTool exposes textDocument/hover for a (uri, line, character).
func HoverTool(sup *core.Supervisor) (mcp.Tool, server.ToolHandlerFunc) {
	return mcp.NewTool("hover",
			mcp.WithDescription("Get hover information at a cursor position using LSP textDocument/hover."),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithString("uri", mcp.Description("URI to the file"), mcp.Required()),
			mcp.WithNumber("line", mcp.Description("Line number (0-based)"), mcp.Required(), mcp.Min(0)),
			mcp.WithNumber("character", mcp.Description("Character position (0-based)"), mcp.Required(), mcp.Min(0)),
		), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			uri, err := request.RequireString("uri")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			line, err := request.RequireInt("line")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			character, err := request.RequireInt("character")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			var result json.RawMessage
			if err := sup.SendRequest(ctx, "textDocument/hover", positionParams(uri, line, character), &result); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("hover request failed: %v", err)), nil
			}

			return mcp.NewToolResultText(string(result)), nil
		}
}

// DefinitionTool exposes textDocument/definition for a (uri, line, character).
func DefinitionTool(sup *core.Supervisor) (mcp.Tool, server.ToolHandlerFunc) {
	return mcp.NewTool("definition",
			mcp.WithDescription("Get definition location(s) for the symbol at a cursor position using LSP textDocument/definition."),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithString("uri", mcp.Description("URI to the file"), mcp.Required()),
			mcp.WithNumber("line", mcp.Description("Line number (0-based)"), mcp.Required(), mcp.Min(0)),
			mcp.WithNumber("character", mcp.Description("Character position (0-based)"), mcp.Required(), mcp.Min(0)),
		), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			uri, err := request.RequireString("uri")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			line, err := request.RequireInt("line")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			character, err := request.RequireInt("character")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			var result json.RawMessage
			if err := sup.SendRequest(ctx, "textDocument/definition", positionParams(uri, line, character), &result); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("definition request failed: %v", err)), nil
			}

			return mcp.NewToolResultText(string(result)), nil
		}
}

// RegisterTools adds hover and definition to mcpServer.
func RegisterTools(mcpServer ToolServer, sup *core.Supervisor) {
	mcpServer.AddTool(HoverTool(sup))
	mcpServer.AddTool(DefinitionTool(sup))
}
