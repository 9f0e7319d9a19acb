package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/memgate-io/memgate/internal/faults"
	"github.com/memgate-io/memgate/pkg/types"
)

// memoryService is the subset of the memory facade used by the MCP server.
// Using an interface keeps the MCP package loosely coupled and testable.
type memoryService interface {
	Add(ctx context.Context, content, userID string, metadata map[string]interface{}) (*types.MemoryRecord, error)
	Search(ctx context.Context, query, userID string, limit int) ([]types.MemoryRecord, error)
	Delete(ctx context.Context, memoryID, userID string) error
}

// Server implements the Model Context Protocol for memgate. It provides
// JSON-RPC 2.0 based tools for AI assistants to store and recall user-scoped
// memories.
type Server struct {
	service   memoryService
	name      string
	version   string
	sessionID string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithServerInfo sets the name and version reported during the initialize
// handshake. Defaults come from the resolved configuration's server section.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) {
		if name != "" {
			s.name = name
		}
		if version != "" {
			s.version = version
		}
	}
}

// NewServer creates a new MCP server instance on top of the memory facade.
func NewServer(service memoryService, opts ...ServerOption) *Server {
	s := &Server{
		service:   service,
		name:      "memgate",
		version:   "1.0.0",
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info("mcp server ready", "session_id", s.sessionID)
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", nil)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		// Notification, no response body required; return empty object.
		result = map[string]interface{}{}
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods (kept for direct callers that skip the MCP
	// handshake)
	case "add_memory":
		result, err = s.handleAddMemory(ctx, req.Params)
	case "get_memory":
		result, err = s.handleGetMemory(ctx, req.Params)
	case "delete_memory":
		result, err = s.handleDeleteMemory(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, renderError(err), nil)
	}

	return s.successResponse(req.ID, result)
}

// AddMemory stores a new memory scoped to the caller's user_id.
func (s *Server) AddMemory(ctx context.Context, args AddMemoryArgs) (*AddMemoryResult, error) {
	record, err := s.service.Add(ctx, args.Content, args.UserID, args.Metadata)
	if err != nil {
		return nil, err
	}
	return &AddMemoryResult{
		Memory:  record,
		Message: "Memory stored successfully.",
	}, nil
}

// GetMemory searches the caller's memories for records relevant to a query.
func (s *Server) GetMemory(ctx context.Context, args GetMemoryArgs) (*GetMemoryResult, error) {
	records, err := s.service.Search(ctx, args.Query, args.UserID, args.Limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []types.MemoryRecord{}
	}
	return &GetMemoryResult{
		Memories: records,
		Total:    len(records),
	}, nil
}

// DeleteMemory removes one memory owned by the caller.
func (s *Server) DeleteMemory(ctx context.Context, args DeleteMemoryArgs) (*DeleteMemoryResult, error) {
	if err := s.service.Delete(ctx, args.MemoryID, args.UserID); err != nil {
		return nil, err
	}
	return &DeleteMemoryResult{
		MemoryID: args.MemoryID,
		Deleted:  true,
		Message:  "Memory deleted.",
	}, nil
}

// ---------------------------------------------------------------------------
// Typed parameter handlers
// ---------------------------------------------------------------------------

func (s *Server) handleAddMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args AddMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.AddMemory(ctx, args)
}

func (s *Server) handleGetMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetMemory(ctx, args)
}

func (s *Server) handleDeleteMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DeleteMemory(ctx, args)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPInitializeParams
	if err := s.unmarshalParams(params, &p); err == nil && p.ClientInfo.Name != "" {
		log.Info("mcp client connected", "client", p.ClientInfo.Name, "client_version", p.ClientInfo.Version)
	}
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    s.name,
			Version: s.version,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope. Tool failures are
// reported through the isError envelope rather than a JSON-RPC error so
// clients can surface them to the model.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	// Re-marshal arguments so typed argument structs get their custom
	// unmarshalling (lenient metadata parsing).
	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var rawParams interface{}
	if err := json.Unmarshal(argsJSON, &rawParams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	var result interface{}
	var handlerErr error

	switch p.Name {
	case "add_memory":
		result, handlerErr = s.handleAddMemory(ctx, rawParams)
	case "get_memory":
		result, handlerErr = s.handleGetMemory(ctx, rawParams)
	case "delete_memory":
		result, handlerErr = s.handleDeleteMemory(ctx, rawParams)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: renderError(handlerErr)}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "add_memory",
			Description: "Store a memory for a user. Memories persist across conversations and can be recalled later with get_memory.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content", "user_id"},
				"properties": map[string]interface{}{
					"content":  map[string]interface{}{"type": "string", "description": "The memory content to store (required)"},
					"user_id":  map[string]interface{}{"type": "string", "description": "Owner of the memory (required)"},
					"metadata": map[string]interface{}{"type": "object", "description": "Arbitrary key-value metadata"},
				},
			},
		},
		{
			Name:        "get_memory",
			Description: "Search a user's stored memories for records relevant to a query. Returns ranked results, best match first.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"query", "user_id"},
				"properties": map[string]interface{}{
					"query":   map[string]interface{}{"type": "string", "description": "Natural-language search query (required)"},
					"user_id": map[string]interface{}{"type": "string", "description": "Owner scope for the search (required)"},
					"limit":   map[string]interface{}{"type": "integer", "description": "Max results to return (default 10, max 100)"},
				},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete one of a user's memories by ID. Only memories owned by the given user_id can be deleted.",
			InputSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"memory_id", "user_id"},
				"properties": map[string]interface{}{
					"memory_id": map[string]interface{}{"type": "string", "description": "ID of the memory to delete (required)"},
					"user_id":   map[string]interface{}{"type": "string", "description": "Owner of the memory (required)"},
				},
			},
		},
	}
}

// renderError converts any failure into the user-visible form. Classified
// errors render as "Error [KIND]: message" with the sanitised message only;
// the underlying cause stays in the logs and never crosses the protocol
// boundary.
func renderError(err error) string {
	classified := faults.Classify(err)
	if classified == nil {
		return "Error [INTERNAL]: unknown failure"
	}
	return fmt.Sprintf("Error [%s]: %s", classified.Kind, classified.Message)
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
