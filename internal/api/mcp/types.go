// Package mcp implements the Model Context Protocol (MCP) server for memgate.
// It exposes JSON-RPC 2.0 based tools for storing, searching, and deleting
// user-scoped memories.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/memgate-io/memgate/pkg/types"
)

// AddMemoryArgs contains arguments for the add_memory tool.
type AddMemoryArgs struct {
	Content  string                 `json:"content"`            // Memory content (required)
	UserID   string                 `json:"user_id"`            // Owner of the memory (required)
	Metadata map[string]interface{} `json:"metadata,omitempty"` // Arbitrary metadata
}

// UnmarshalJSON handles the case where some MCP clients send object fields
// like "metadata" as a JSON-encoded string ("{\"k\":\"v\"}") rather than a
// proper JSON object. Both forms are accepted.
func (a *AddMemoryArgs) UnmarshalJSON(data []byte) error {
	type Alias AddMemoryArgs
	aux := &struct {
		Metadata json.RawMessage `json:"metadata,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Metadata == nil {
		return nil
	}
	// Try direct object unmarshal first.
	var md map[string]interface{}
	if err := json.Unmarshal(aux.Metadata, &md); err == nil {
		a.Metadata = md
		return nil
	}
	// Fall back: client sent the object as a JSON-encoded string.
	var s string
	if err := json.Unmarshal(aux.Metadata, &s); err != nil {
		return nil // ignore unrecognised metadata formats rather than failing
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		_ = json.Unmarshal([]byte(s), &md)
		a.Metadata = md
	}
	return nil
}

// AddMemoryResult contains the result of storing a memory.
type AddMemoryResult struct {
	Memory  *types.MemoryRecord `json:"memory"`  // The stored record
	Message string              `json:"message"` // Status message
}

// GetMemoryArgs contains arguments for the get_memory tool.
type GetMemoryArgs struct {
	Query  string `json:"query"`           // Search query (required)
	UserID string `json:"user_id"`         // Owner scope (required)
	Limit  int    `json:"limit,omitempty"` // Max results (default 10, max 100)
}

// GetMemoryResult contains the result of searching memories.
type GetMemoryResult struct {
	Memories []types.MemoryRecord `json:"memories"` // Matched records, best first
	Total    int                  `json:"total"`    // Number of records returned
}

// DeleteMemoryArgs contains arguments for the delete_memory tool.
type DeleteMemoryArgs struct {
	MemoryID string `json:"memory_id"` // Record to delete (required)
	UserID   string `json:"user_id"`   // Owner scope (required)
}

// DeleteMemoryResult contains the result of deleting a memory.
type DeleteMemoryResult struct {
	MemoryID string `json:"memory_id"` // Record that was deleted
	Deleted  bool   `json:"deleted"`   // Whether the record was deleted
	Message  string `json:"message"`   // Status message
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
