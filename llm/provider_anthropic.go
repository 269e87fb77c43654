package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/nittaya1990/spiced/errcode"
)

// AnthropicConfig configures an Anthropic Claude model.
type AnthropicConfig struct {
	Name    string
	Model   string
	APIKey  string
	BaseURL string
}

type anthropicProvider struct {
	name      string
	wireModel string
	client    *anthropic.LLM
}

// NewAnthropic builds a chat provider for Anthropic models.
func NewAnthropic(cfg AnthropicConfig) (*anthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code(errcode.InvalidArgument).With("model", cfg.Name).Wrap(ErrMissingAPIKey)
	}
	opts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey),
		anthropic.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	client, err := anthropic.New(opts...)
	if err != nil {
		return nil, oops.Code(errcode.InvalidArgument).With("model", cfg.Name).Wrapf(err, "failed to create Anthropic client")
	}
	return &anthropicProvider{name: cfg.Name, wireModel: cfg.Model, client: client}, nil
}

func (p *anthropicProvider) Name() string { return p.name }

func (p *anthropicProvider) buildMessages(req *ChatRequest) ([]llms.MessageContent, error) {
	// Claude has no native response_format; degrade a json_schema request
	// into a system instruction.
	var messages []llms.MessageContent
	for _, msg := range injectSchemaPrompt(req.Messages, req.ResponseFormat) {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, msg.Content))
		case RoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, msg.Content))
		case RoleAssistant:
			content := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if msg.Content != "" {
				content.Parts = append(content.Parts, llms.TextContent{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, llms.ToolCall{
					ID:   call.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				})
			}
			messages = append(messages, content)
		case RoleTool:
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: msg.ToolCallID,
					Content:    msg.Content,
				}},
			})
		default:
			return nil, oops.Code(errcode.InvalidArgument).
				With("role", string(msg.Role)).Errorf("unsupported message role")
		}
	}
	return messages, nil
}

func (p *anthropicProvider) callOptions(req *ChatRequest) ([]llms.CallOption, error) {
	var opts []llms.CallOption
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	if req.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var parameters any
			if len(tool.Parameters) > 0 {
				if err := json.Unmarshal(tool.Parameters, &parameters); err != nil {
					return nil, oops.Code(errcode.InvalidArgument).
						With("tool", tool.Name).Wrapf(err, "invalid tool parameters")
				}
			}
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  parameters,
				},
			})
		}
		opts = append(opts, llms.WithTools(tools))
	}
	return opts, nil
}

func (p *anthropicProvider) toResponse(resp *llms.ContentResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrap(ErrNoChoices)
	}
	out := &ChatResponse{
		ID:    fmt.Sprintf("chatcmpl-%s", uuid.NewString()),
		Model: p.name,
	}
	for i, choice := range resp.Choices {
		message := Message{Role: RoleAssistant, Content: choice.Content}
		for _, call := range choice.ToolCalls {
			if call.FunctionCall == nil {
				continue
			}
			message.ToolCalls = append(message.ToolCalls, ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      call.FunctionCall.Name,
					Arguments: call.FunctionCall.Arguments,
				},
			})
		}
		finish := choice.StopReason
		if len(message.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		out.Choices = append(out.Choices, Choice{Index: i, Message: message, FinishReason: finish})
	}
	return out, nil
}

func (p *anthropicProvider) ChatRequest(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, oops.Code(errcode.InvalidArgument).Wrap(ErrMissingMessages)
	}
	messages, err := p.buildMessages(req)
	if err != nil {
		return nil, err
	}
	opts, err := p.callOptions(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrapf(err, "chat request failed")
	}
	return p.toResponse(resp)
}

// ChatStream runs the completion in a goroutine and forwards text deltas
// through the streaming callback. Tool calls are only known once the
// response completes, so they arrive in the final chunk.
func (p *anthropicProvider) ChatStream(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	if len(req.Messages) == 0 {
		return nil, oops.Code(errcode.InvalidArgument).Wrap(ErrMissingMessages)
	}
	messages, err := p.buildMessages(req)
	if err != nil {
		return nil, err
	}
	opts, err := p.callOptions(req)
	if err != nil {
		return nil, err
	}

	id := fmt.Sprintf("chatcmpl-%s", uuid.NewString())
	chunks := make(chan ChatChunk)
	errs := make(chan error, 1)
	streamCtx, cancel := context.WithCancel(ctx)

	opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, delta []byte) error {
		select {
		case chunks <- ChatChunk{ID: id, Model: p.name, Delta: Message{Role: RoleAssistant, Content: string(delta)}}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	go func() {
		defer close(chunks)
		resp, err := p.client.GenerateContent(streamCtx, messages, opts...)
		if err != nil {
			errs <- oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrapf(err, "chat stream failed")
			return
		}
		final, err := p.toResponse(resp)
		if err != nil {
			errs <- err
			return
		}
		choice := final.Choices[0]
		tail := ChatChunk{ID: id, Model: p.name, FinishReason: choice.FinishReason}
		tail.Delta = Message{Role: RoleAssistant, ToolCalls: choice.Message.ToolCalls}
		select {
		case chunks <- tail:
		case <-streamCtx.Done():
		}
	}()

	return NewChatStream(func() (*ChatChunk, error) {
		chunk, ok := <-chunks
		if !ok {
			select {
			case err := <-errs:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return &chunk, nil
	}, func() error {
		cancel()
		return nil
	}), nil
}

// HealthCheck issues a one-token completion against the configured model.
func (p *anthropicProvider) HealthCheck(ctx context.Context) error {
	one := 1
	_, err := p.ChatRequest(ctx, &ChatRequest{
		Model:     p.name,
		Messages:  []Message{{Role: RoleUser, Content: "ping"}},
		MaxTokens: &one,
	})
	if err != nil {
		return oops.Code(errcode.HealthCheckFailed).With("model", p.name).Wrapf(err, "health check failed")
	}
	return nil
}
