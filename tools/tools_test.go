package tools

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/vector"
)

type fakeRuntime struct {
	batch       *federation.RecordBatch
	readiness   map[string]string
	searchCalls int
}

func (f *fakeRuntime) Search(ctx context.Context, req vector.SearchRequest) (map[string]*federation.RecordBatch, error) {
	f.searchCalls++
	return map[string]*federation.RecordBatch{"docs": f.batch}, nil
}

func (f *fakeRuntime) Scan(ref federation.TableRef) (*federation.ScanNode, error) {
	return &federation.ScanNode{Table: ref}, nil
}

func (f *fakeRuntime) Query(ctx context.Context, plan federation.Plan) (*federation.BatchStream, []federation.RemoteQuery, error) {
	batch := f.batch
	if limit, ok := plan.(*federation.LimitNode); ok && limit.N < len(batch.Rows) {
		batch = &federation.RecordBatch{Schema: batch.Schema, Rows: batch.Rows[:limit.N]}
	}
	return federation.StreamFromBatches(batch.Schema, batch), nil, nil
}

func (f *fakeRuntime) Readiness() map[string]string {
	return f.readiness
}

func testBatch() *federation.RecordBatch {
	return &federation.RecordBatch{
		Schema: federation.NewSchema(
			federation.Field{Name: "id", Type: federation.TypeInt64},
			federation.Field{Name: "content", Type: federation.TypeUtf8},
		),
		Rows: [][]any{
			{int64(1), "alpha"},
			{int64(2), "beta"},
			{int64(2), "beta"},
		},
	}
}

// scriptedChat returns canned responses in order.
type scriptedChat struct {
	responses []*llm.ChatResponse
	chunks    []llm.ChatChunk
	requests  []llm.ChatRequest
	streams   int
}

func (s *scriptedChat) Name() string { return "scripted" }

func (s *scriptedChat) ChatRequest(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, *req)
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func (s *scriptedChat) ChatStream(ctx context.Context, req *llm.ChatRequest) (*llm.ChatStream, error) {
	s.streams++
	return llm.StreamFromChunks(s.chunks), nil
}

func (s *scriptedChat) HealthCheck(ctx context.Context) error { return nil }

func toolCallResponse(id, name, args string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID: id, Type: "function",
					Function: llm.FunctionCall{Name: name, Arguments: args},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
			FinishReason: "stop",
		}},
	}
}

func newTestRegistry() *Registry {
	registry := NewToolRegistry()
	registry.AddCatalog(NewBuiltinCatalog())
	return registry
}

func TestOrchestrator_ToolLoopDepthTwo(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch(), readiness: map[string]string{"docs": "Ready"}}
	provider := &scriptedChat{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "get_readiness", "{}"),
		toolCallResponse("call-2", "get_readiness", "{}"),
		textResponse("all components are ready"),
	}}

	orchestrator := NewOrchestrator(newTestRegistry(), rt)
	req := &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "is everything ready?"}}}

	resp, err := orchestrator.Chat(context.Background(), provider, req)
	require.NoError(t, err)
	assert.Equal(t, "all components are ready", resp.Choices[0].Message.Content)

	// Three submissions: two tool rounds plus the final answer.
	require.Len(t, provider.requests, 3)

	// The second round carries the tool output for call-1.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Content, "Ready")

	// Tool specs were attached to every submission.
	names := map[string]bool{}
	for _, spec := range provider.requests[0].Tools {
		names[spec.Name] = true
	}
	assert.True(t, names["get_readiness"])
	assert.True(t, names["document_similarity"])
	assert.True(t, names["sample_data"])
}

func TestOrchestrator_UnknownToolContinuesLoop(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch()}
	provider := &scriptedChat{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "does_not_exist", "{}"),
		textResponse("done"),
	}}

	orchestrator := NewOrchestrator(newTestRegistry(), rt)
	req := &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	resp, err := orchestrator.Chat(context.Background(), provider, req)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Choices[0].Message.Content)

	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, `unknown tool "does_not_exist"`)
	assert.Contains(t, last.Content, "get_readiness")
}

func TestOrchestrator_IterationCap(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch(), readiness: map[string]string{}}
	// Never returns a final answer.
	provider := &scriptedChat{responses: []*llm.ChatResponse{
		toolCallResponse("call-n", "get_readiness", "{}"),
	}}

	orchestrator := NewOrchestrator(newTestRegistry(), rt).WithMaxIterations(3)
	req := &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}

	resp, err := orchestrator.Chat(context.Background(), provider, req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Len(t, provider.requests, 3)
}

func TestOrchestrator_ClientToolsMergedAndReturned(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch()}
	provider := &scriptedChat{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "lookup_crm", `{"account":"acme"}`),
	}}

	orchestrator := NewOrchestrator(newTestRegistry(), rt)
	req := &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "who owns acme?"}},
		Tools: []llm.ToolSpec{{
			Name:        "lookup_crm",
			Description: "Look up a CRM account.",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	}

	resp, err := orchestrator.Chat(context.Background(), provider, req)
	require.NoError(t, err)

	// The client's tool rides alongside the registry's specs.
	names := map[string]bool{}
	for _, spec := range provider.requests[0].Tools {
		names[spec.Name] = true
	}
	assert.True(t, names["lookup_crm"])
	assert.True(t, names["get_readiness"])

	// A call to a client tool ends the loop: only the client can run it.
	require.Len(t, provider.requests, 1)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, "lookup_crm", resp.Choices[0].Message.ToolCalls[0].Function.Name)
}

func TestMergeSpecs_ClientDefinitionWins(t *testing.T) {
	client := []llm.ToolSpec{{Name: "get_readiness", Description: "client override"}}
	registry := []llm.ToolSpec{
		{Name: "get_readiness", Description: "registry"},
		{Name: "sample_data", Description: "registry"},
	}

	merged := mergeSpecs(client, registry)
	require.Len(t, merged, 2)
	assert.Equal(t, "client override", merged[0].Description)
	assert.Equal(t, "sample_data", merged[1].Name)
}

func TestOrchestratorChatStream_RunsToolLoop(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch(), readiness: map[string]string{"docs": "Ready"}}
	provider := &scriptedChat{responses: []*llm.ChatResponse{
		toolCallResponse("call-1", "get_readiness", "{}"),
		textResponse("all components are ready"),
	}}

	orchestrator := NewOrchestrator(newTestRegistry(), rt)
	req := &llm.ChatRequest{
		Model:    "scripted",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "is everything ready?"}},
		Stream:   true,
	}

	stream, err := orchestrator.ChatStream(context.Background(), provider, req)
	require.NoError(t, err)
	defer stream.Close()

	var text, finish string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		text += chunk.Delta.Content
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	assert.Equal(t, "all components are ready", text)
	assert.Equal(t, "stop", finish)

	// The loop ran upstream: two submissions, no raw provider stream.
	assert.Len(t, provider.requests, 2)
	assert.Equal(t, 0, provider.streams)
}

func TestOrchestratorChatStream_PassthroughWithoutTools(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch()}
	provider := &scriptedChat{chunks: []llm.ChatChunk{
		{ID: "s1", Delta: llm.Message{Role: llm.RoleAssistant, Content: "hi"}, FinishReason: "stop"},
	}}

	// Empty registry and no client tools: the provider streams directly.
	orchestrator := NewOrchestrator(NewToolRegistry(), rt)
	req := &llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, Stream: true}

	stream, err := orchestrator.ChatStream(context.Background(), provider, req)
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hi", chunk.Delta.Content)
	assert.Equal(t, 1, provider.streams)
	assert.Empty(t, provider.requests)
}

func TestSampleData_Modes(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch()}
	catalog := NewBuiltinCatalog()
	tool, err := catalog.Get(context.Background(), "sample_data")
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), `{"dataset": "docs", "mode": "top_n", "limit": 2}`, rt)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = tool.Call(context.Background(), `{"dataset": "docs", "mode": "distinct"}`, rt)
	require.NoError(t, err)
	rows, ok := out.([]map[string]any)
	require.True(t, ok)
	assert.Len(t, rows, 2) // duplicate beta row collapsed

	out, err = tool.Call(context.Background(), `{"dataset": "docs", "mode": "random", "limit": 1}`, rt)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	_, err = tool.Call(context.Background(), `{"dataset": "docs", "mode": "bogus"}`, rt)
	assert.Equal(t, errcode.InvalidArgument, errcode.Code(err))
}

func TestDocumentSimilarity_DelegatesToSearch(t *testing.T) {
	rt := &fakeRuntime{batch: testBatch()}
	catalog := NewBuiltinCatalog()
	tool, err := catalog.Get(context.Background(), "document_similarity")
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), `{"text": "alpha"}`, rt)
	require.NoError(t, err)
	assert.Equal(t, 1, rt.searchCalls)

	byTable, ok := out.(map[string][]map[string]any)
	require.True(t, ok)
	assert.Len(t, byTable["docs"], 3)
}

func TestMCPTool_InvalidArgumentsRejectedBeforeDial(t *testing.T) {
	tool := &mcpTool{catalog: NewMCPCatalog(MCPConfig{ID: "http://unreachable.invalid"}), name: "remote"}

	_, err := tool.Call(context.Background(), `{"broken`, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.InvalidArgument, errcode.Code(err))
}

func TestMCPConfig_ArgsWhitespaceSplit(t *testing.T) {
	config := MCPConfig{ID: "uvx", Args: "  mcp-server-fetch   --timeout 30 "}
	assert.Equal(t, []string{"mcp-server-fetch", "--timeout", "30"}, config.SplitArgs())
	assert.False(t, config.isHTTP())
	assert.True(t, MCPConfig{ID: "https://mcp.example.com/mcp"}.isHTTP())
}

func TestParseMCPDirective(t *testing.T) {
	id, ok := ParseMCPDirective("mcp:https://mcp.example.com/mcp")
	assert.True(t, ok)
	assert.Equal(t, "https://mcp.example.com/mcp", id)

	_, ok = ParseMCPDirective("postgres:main")
	assert.False(t, ok)
}

func TestNDCGAtK(t *testing.T) {
	// Descending top-k scores exactly 1.
	assert.Equal(t, 1.0, NDCGAtK([]float64{3, 2, 1}, 3))
	assert.Equal(t, 1.0, NDCGAtK([]float64{5, 5, 5}, 2))

	// Any other ordering lands strictly inside (0, 1).
	score := NDCGAtK([]float64{1, 2, 3}, 3)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)

	assert.Equal(t, 0.0, NDCGAtK(nil, 3))
	assert.Equal(t, 0.0, NDCGAtK([]float64{0, 0}, 2))
	assert.Equal(t, 0.0, NDCGAtK([]float64{1, 2}, 0))

	// k larger than the list is truncated, not an error.
	assert.Equal(t, 1.0, NDCGAtK([]float64{2, 1}, 10))
}

func TestScorers(t *testing.T) {
	assert.Equal(t, 1.0, MatchScore(" answer ", "answer"))
	assert.Equal(t, 0.0, MatchScore("a", "b"))
	assert.Equal(t, 1.0, ContainsScore("the answer is 42", "42"))
	assert.Equal(t, 1.0, JSONMatchScore(`{"a":1,"b":2}`, `{"b":2,"a":1}`))
	assert.Equal(t, 0.0, JSONMatchScore(`{"a":1}`, `{"a":2}`))
}

func TestRegistry_LaterCatalogShadows(t *testing.T) {
	first := NewBuiltinCatalog()
	shadow := &BuiltinCatalog{tools: map[string]Tool{
		"get_readiness": &funcTool{
			name:       "get_readiness",
			parameters: json.RawMessage(`{}`),
			call: func(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
				return "shadowed", nil
			},
		},
	}}

	registry := NewToolRegistry()
	registry.AddCatalog(first)
	registry.AddCatalog(shadow)

	tool, err := registry.Get(context.Background(), "get_readiness")
	require.NoError(t, err)
	out, err := tool.Call(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "shadowed", out)
}
