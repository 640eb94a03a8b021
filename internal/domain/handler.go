package domain

import (
	"context"
)

// ToolHandler processes requests for one group of MCP tools.
// The Redmine handler is the only production implementation; the interface
// keeps the router and server independent of it.
type ToolHandler interface {
	// Handle processes an MCP tool call request.
	// Returns the tool response or an error if processing fails.
	Handle(ctx context.Context, req *ToolRequest) (*ToolResponse, error)

	// ListTools returns available tools for this handler.
	// Each tool represents a specific operation (e.g., get_issue, create_time_entry).
	ListTools() []ToolDefinition

	// ToolName returns the identifier for this handler.
	// This is used for routing requests to the appropriate handler.
	ToolName() string
}
