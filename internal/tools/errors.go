package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrorResult builds a tool failure with IsError set, so the calling model
// sees the message and can correct itself. A non-empty hint is appended as
// a recovery suggestion.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult builds a success result carrying plain text.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
