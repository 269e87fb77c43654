// Package llm routes chat and embedding traffic to configured model
// providers. Requests and responses use OpenAI-compatible envelopes
// regardless of the upstream vendor, so the HTTP surface and the tool
// orchestrator only ever see one shape.
package llm

import (
	"context"
	"encoding/json"
	"io"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat turn. Assistant turns may carry tool calls;
// tool turns carry the output of a previous call keyed by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-issued request to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its raw JSON arguments. The
// arguments are not validated here; the tool layer parses them.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      bool            `json:"strict,omitempty"`
}

// ResponseFormat requests structured output when the provider supports it.
type ResponseFormat struct {
	Type       string          `json:"type"`
	SchemaName string          `json:"schema_name,omitempty"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is the provider-neutral completion request.
type ChatRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	Tools          []ToolSpec        `json:"tools,omitempty"`
	ToolChoice     string            `json:"tool_choice,omitempty"`
	Temperature    *float64          `json:"temperature,omitempty"`
	MaxTokens      *int              `json:"max_tokens,omitempty"`
	Stream         bool              `json:"stream,omitempty"`
	User           string            `json:"user,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ResponseFormat *ResponseFormat   `json:"response_format,omitempty"`
}

// Usage reports token consumption as the upstream measured it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Choice is one completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatResponse is a complete (non-streamed) completion. Model always
// carries the user-facing component name, never the wire model the
// provider was configured with.
type ChatResponse struct {
	ID        string   `json:"id"`
	Model     string   `json:"model"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage"`
	Citations []string `json:"citations,omitempty"`
}

// ChatChunk is one streamed delta. The same model-name overlay applies
// to every chunk.
type ChatChunk struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	Delta        Message  `json:"delta"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Citations    []string `json:"citations,omitempty"`
}

// ChatStream yields chunks until io.EOF. Close releases the upstream
// connection and is safe to call more than once.
type ChatStream struct {
	recv  func() (*ChatChunk, error)
	close func() error
}

// NewChatStream builds a stream from a recv function. close may be nil.
func NewChatStream(recv func() (*ChatChunk, error), close func() error) *ChatStream {
	return &ChatStream{recv: recv, close: close}
}

// Recv returns the next chunk, or io.EOF when the stream is done.
func (s *ChatStream) Recv() (*ChatChunk, error) {
	return s.recv()
}

func (s *ChatStream) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// StreamFromChunks returns a stream over a fixed chunk slice. Used by
// tests and by providers that cannot stream natively.
func StreamFromChunks(chunks []ChatChunk) *ChatStream {
	i := 0
	return NewChatStream(func() (*ChatChunk, error) {
		if i >= len(chunks) {
			return nil, io.EOF
		}
		c := chunks[i]
		i++
		return &c, nil
	}, nil)
}

// EmbeddingRequest asks for one vector per input string.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	User  string   `json:"user,omitempty"`
}

// EmbeddingResponse returns vectors in input order.
type EmbeddingResponse struct {
	Model string      `json:"model"`
	Data  [][]float32 `json:"data"`
	Usage Usage       `json:"usage"`
}

// ChatProvider serves completions for one configured model component.
type ChatProvider interface {
	// Name returns the user-facing component name.
	Name() string

	ChatRequest(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req *ChatRequest) (*ChatStream, error)

	// HealthCheck issues a minimal completion to verify the upstream
	// accepts this configuration.
	HealthCheck(ctx context.Context) error
}

// EmbeddingProvider serves embeddings for one configured model component.
type EmbeddingProvider interface {
	Name() string
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}
