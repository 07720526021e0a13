package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	// Ping tool - test/placeholder
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_conversations",
		Description: "List stored conversations with their workspace paths and message activity",
	}, NewListConversationsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_transcript",
		Description: "Retrieve a conversation's transcript by conversation id",
	}, NewGetTranscriptHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_transcripts",
		Description: "Full-text search over stored conversation messages",
	}, NewSearchTranscriptsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "compact_conversation",
		Description: "Summarize the middle of a long conversation, keeping the opening context and recent messages",
	}, NewCompactConversationHandler(deps))
}
