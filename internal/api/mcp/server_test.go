package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memgate-io/memgate/internal/faults"
	"github.com/memgate-io/memgate/pkg/types"
)

// fakeService implements memoryService with scripted responses.
type fakeService struct {
	addErr    error
	searchErr error
	deleteErr error
	records   []types.MemoryRecord
	deleted   []string
}

func (f *fakeService) Add(ctx context.Context, content, userID string, metadata map[string]interface{}) (*types.MemoryRecord, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	return &types.MemoryRecord{ID: "m1", Content: content, UserID: userID, Metadata: metadata}, nil
}

func (f *fakeService) Search(ctx context.Context, query, userID string, limit int) ([]types.MemoryRecord, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.records, nil
}

func (f *fakeService) Delete(ctx context.Context, memoryID, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, memoryID)
	return nil
}

func handle(t *testing.T, srv *Server, request string) JSONRPCResponse {
	t.Helper()
	raw, err := srv.HandleRequest(context.Background(), []byte(request))
	require.NoError(t, err)
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func toolCall(t *testing.T, srv *Server, tool string, args map[string]interface{}) MCPToolCallResult {
	t.Helper()
	params := map[string]interface{}{"name": tool, "arguments": args}
	payload, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: 1})
	require.NoError(t, err)
	resp := handle(t, srv, string(payload))
	require.Nil(t, resp.Error)

	// Result round-trips through interface{}; re-marshal into the typed form.
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result MCPToolCallResult
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func TestInitializeHandshake(t *testing.T) {
	srv := NewServer(&fakeService{}, WithServerInfo("memgate", "2.3.0"))

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test-client","version":"0.1"}}}`)
	require.Nil(t, resp.Error)

	raw, _ := json.Marshal(resp.Result)
	var result MCPInitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "2024-11-05", result.ProtocolVersion)
	assert.Equal(t, "memgate", result.ServerInfo.Name)
	assert.Equal(t, "2.3.0", result.ServerInfo.Version)
	assert.NotNil(t, result.Capabilities.Tools)
}

func TestToolsListExposesMemoryTools(t *testing.T) {
	srv := NewServer(&fakeService{})

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, resp.Error)

	raw, _ := json.Marshal(resp.Result)
	var result MCPToolsListResult
	require.NoError(t, json.Unmarshal(raw, &result))

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.ElementsMatch(t, []string{"add_memory", "get_memory", "delete_memory"}, names)
}

func TestToolCallAddMemory(t *testing.T) {
	srv := NewServer(&fakeService{})

	result := toolCall(t, srv, "add_memory", map[string]interface{}{
		"content": "prefers dark roast",
		"user_id": "alice",
	})
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)

	var body AddMemoryResult
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &body))
	assert.Equal(t, "m1", body.Memory.ID)
	assert.Equal(t, "alice", body.Memory.UserID)
}

func TestToolCallGetMemoryEmptyResult(t *testing.T) {
	srv := NewServer(&fakeService{})

	result := toolCall(t, srv, "get_memory", map[string]interface{}{
		"query":   "coffee",
		"user_id": "alice",
	})
	require.False(t, result.IsError)

	var body GetMemoryResult
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &body))
	assert.Equal(t, 0, body.Total)
	assert.NotNil(t, body.Memories)
}

func TestToolCallDeleteMemory(t *testing.T) {
	svc := &fakeService{}
	srv := NewServer(svc)

	result := toolCall(t, srv, "delete_memory", map[string]interface{}{
		"memory_id": "m1",
		"user_id":   "alice",
	})
	require.False(t, result.IsError)
	assert.Equal(t, []string{"m1"}, svc.deleted)
}

func TestToolCallErrorCarriesKindAndMessageOnly(t *testing.T) {
	cause := fmt.Errorf("dial tcp 10.0.0.5:6379: connect: connection refused")
	svc := &fakeService{addErr: faults.Wrap(faults.BackendUnavailable, "memory backend is unreachable", cause)}
	srv := NewServer(svc)

	result := toolCall(t, srv, "add_memory", map[string]interface{}{
		"content": "note",
		"user_id": "alice",
	})
	require.True(t, result.IsError)
	text := result.Content[0].Text
	assert.Equal(t, "Error [BACKEND_UNAVAILABLE]: memory backend is unreachable", text)
	assert.NotContains(t, text, "10.0.0.5")
}

func TestToolCallRejectionRendered(t *testing.T) {
	svc := &fakeService{deleteErr: faults.New(faults.BackendRejected, "memory not found")}
	srv := NewServer(svc)

	result := toolCall(t, srv, "delete_memory", map[string]interface{}{
		"memory_id": "ghost",
		"user_id":   "alice",
	})
	require.True(t, result.IsError)
	assert.Equal(t, "Error [BACKEND_REJECTED]: memory not found", result.Content[0].Text)
}

func TestToolCallUnknownTool(t *testing.T) {
	srv := NewServer(&fakeService{})

	result := toolCall(t, srv, "erase_everything", nil)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "unknown tool")
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv := NewServer(&fakeService{})

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":9,"method":"no/such/method"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	srv := NewServer(&fakeService{})

	resp := handle(t, srv, `{"jsonrpc":`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestWrongJSONRPCVersionRejected(t *testing.T) {
	srv := NewServer(&fakeService{})

	resp := handle(t, srv, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestNativeMethodDispatch(t *testing.T) {
	svc := &fakeService{records: []types.MemoryRecord{{ID: "m1", Content: "note", UserID: "alice"}}}
	srv := NewServer(svc)

	resp := handle(t, srv, `{"jsonrpc":"2.0","id":4,"method":"get_memory","params":{"query":"note","user_id":"alice"}}`)
	require.Nil(t, resp.Error)

	raw, _ := json.Marshal(resp.Result)
	var result GetMemoryResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 1, result.Total)
}

func TestAddMemoryArgsAcceptStringEncodedMetadata(t *testing.T) {
	var args AddMemoryArgs
	require.NoError(t, json.Unmarshal([]byte(`{"content":"c","user_id":"u","metadata":"{\"topic\":\"food\"}"}`), &args))
	assert.Equal(t, map[string]interface{}{"topic": "food"}, args.Metadata)

	require.NoError(t, json.Unmarshal([]byte(`{"content":"c","user_id":"u","metadata":{"k":1}}`), &args))
	assert.Equal(t, float64(1), args.Metadata["k"])
}

func TestStdioTransportRoundTrip(t *testing.T) {
	srv := NewServer(&fakeService{})

	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"t","version":"0"}}}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	transport := NewStdioTransport(srv, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		assert.Nil(t, resp.Error)
	}
}

func TestStdioTransportSkipsBlankLines(t *testing.T) {
	srv := NewServer(&fakeService{})

	in := strings.NewReader("\n\n" + `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	var out bytes.Buffer

	transport := NewStdioTransport(srv, in, &out)
	require.NoError(t, transport.Serve(context.Background()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 1)
}
