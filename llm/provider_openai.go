package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// OpenAIConfig configures a provider speaking the OpenAI chat protocol.
// Name is the user-facing component name; Model is the wire model sent
// upstream. Endpoints other than the canonical OpenAI API (local
// servers, gateways) work as long as they accept the same protocol.
type OpenAIConfig struct {
	Name    string
	Model   string
	APIKey  string
	BaseURL string
}

// AzureConfig configures an Azure OpenAI deployment. The deployment
// name doubles as the wire model.
type AzureConfig struct {
	Name       string
	Deployment string
	APIKey     string
	Endpoint   string
	APIVersion string
}

type openAIProvider struct {
	name      string
	wireModel string
	baseURL   string
	client    openai.Client

	// citations enables extraction of the non-standard citations field
	// that search-backed upstreams attach to responses.
	citations bool
}

// NewOpenAI builds a chat+embedding provider for an OpenAI-compatible
// endpoint.
func NewOpenAI(cfg OpenAIConfig) (*openAIProvider, error) {
	if cfg.APIKey == "" && isCanonicalOpenAI(cfg.BaseURL) {
		return nil, oops.Code(errcode.InvalidArgument).With("model", cfg.Name).Wrap(ErrMissingAPIKey)
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIProvider{
		name:      cfg.Name,
		wireModel: cfg.Model,
		baseURL:   cfg.BaseURL,
		client:    openai.NewClient(opts...),
	}, nil
}

// NewAzureOpenAI builds a chat+embedding provider for an Azure OpenAI
// deployment.
func NewAzureOpenAI(cfg AzureConfig) (*openAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code(errcode.InvalidArgument).With("model", cfg.Name).Wrap(ErrMissingAPIKey)
	}
	opts := []option.RequestOption{
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
	}
	return &openAIProvider{
		name:      cfg.Name,
		wireModel: cfg.Deployment,
		baseURL:   cfg.Endpoint,
		client:    openai.NewClient(opts...),
	}, nil
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) buildParams(req *ChatRequest) (openai.ChatCompletionNewParams, error) {
	structured := supportsStructuredOutputs(p.baseURL, p.wireModel)
	reqMessages := req.Messages
	if !structured {
		reqMessages = injectSchemaPrompt(reqMessages, req.ResponseFormat)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	for _, msg := range reqMessages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case RoleUser:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			for _, call := range msg.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case RoleTool:
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					ToolCallID: msg.ToolCallID,
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		default:
			return openai.ChatCompletionNewParams{}, oops.Code(errcode.InvalidArgument).
				With("role", string(msg.Role)).Errorf("unsupported message role")
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.wireModel),
		Messages: messages,
	}

	for _, tool := range req.Tools {
		var parameters shared.FunctionParameters
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &parameters); err != nil {
				return openai.ChatCompletionNewParams{}, oops.Code(errcode.InvalidArgument).
					With("tool", tool.Name).Wrapf(err, "invalid tool parameters")
			}
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  parameters,
				Strict:      openai.Bool(tool.Strict),
			},
		})
	}
	if req.ToolChoice != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(req.ToolChoice),
		}
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		if supportsMaxCompletionTokens(p.baseURL, p.wireModel) {
			params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
		} else {
			params.MaxTokens = openai.Int(int64(*req.MaxTokens))
		}
	}
	if req.User != "" {
		params.User = openai.String(req.User)
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema" && structured {
		var schema any
		if err := json.Unmarshal(req.ResponseFormat.JSONSchema, &schema); err != nil {
			return openai.ChatCompletionNewParams{}, oops.Code(errcode.InvalidArgument).
				Wrapf(err, "invalid response_format schema")
		}
		name := req.ResponseFormat.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	return params, nil
}

func (p *openAIProvider) ChatRequest(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, oops.Code(errcode.InvalidArgument).Wrap(ErrMissingMessages)
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrapf(err, "chat request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrap(ErrNoChoices)
	}

	out := &ChatResponse{
		ID:    resp.ID,
		Model: p.name, // overlay: never expose the wire model
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for i, choice := range resp.Choices {
		message := Message{Role: RoleAssistant, Content: choice.Message.Content}
		for _, call := range choice.Message.ToolCalls {
			message.ToolCalls = append(message.ToolCalls, ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, Choice{
			Index:        i,
			Message:      message,
			FinishReason: string(choice.FinishReason),
		})
	}
	if p.citations {
		out.Citations = extractCitations(resp.JSON.ExtraFields["citations"].Raw())
	}
	return out, nil
}

func (p *openAIProvider) ChatStream(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	if len(req.Messages) == 0 {
		return nil, oops.Code(errcode.InvalidArgument).Wrap(ErrMissingMessages)
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return NewChatStream(func() (*ChatChunk, error) {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				return nil, oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrapf(err, "chat stream failed")
			}
			return nil, io.EOF
		}
		raw := stream.Current()
		chunk := &ChatChunk{ID: raw.ID, Model: p.name, Delta: Message{Role: RoleAssistant}}
		if len(raw.Choices) > 0 {
			chunk.Delta.Content = raw.Choices[0].Delta.Content
			chunk.FinishReason = string(raw.Choices[0].FinishReason)
		}
		if p.citations {
			chunk.Citations = extractCitations(raw.JSON.ExtraFields["citations"].Raw())
		}
		return chunk, nil
	}, stream.Close), nil
}

func (p *openAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return nil, oops.Code(errcode.InvalidArgument).Wrap(ErrMissingInput)
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(p.wireModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
	})
	if err != nil {
		return nil, oops.Code(errcode.UpstreamFailure).With("model", p.name).Wrapf(err, "embedding request failed")
	}

	data := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vector := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vector[i] = float32(v)
		}
		if int(item.Index) < len(data) {
			data[item.Index] = vector
		}
	}
	return &EmbeddingResponse{
		Model: p.name,
		Data:  data,
		Usage: Usage{InputTokens: int(resp.Usage.PromptTokens)},
	}, nil
}

// HealthCheck issues a one-token completion. Endpoints that reject
// max_completion_tokens get a single retry with the legacy max_tokens
// parameter before the check is declared failed.
func (p *openAIProvider) HealthCheck(ctx context.Context) error {
	probe := func(legacy bool) openai.ChatCompletionNewParams {
		params := openai.ChatCompletionNewParams{
			Model: shared.ChatModel(p.wireModel),
			Messages: []openai.ChatCompletionMessageParamUnion{{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String("ping"),
					},
				},
			}},
		}
		if legacy {
			params.MaxTokens = openai.Int(1)
		} else {
			params.MaxCompletionTokens = openai.Int(1)
		}
		return params
	}

	_, err := p.client.Chat.Completions.New(ctx, probe(false))
	if err != nil && strings.Contains(err.Error(), "max_completion_tokens") {
		_, err = p.client.Chat.Completions.New(ctx, probe(true))
	}
	if err != nil {
		return oops.Code(errcode.HealthCheckFailed).With("model", p.name).Wrapf(err, "health check failed")
	}
	return nil
}

// extractCitations decodes the raw JSON of a citations extra field.
// Anything that isn't a string array is ignored.
func extractCitations(raw string) []string {
	if raw == "" {
		return nil
	}
	var citations []string
	if err := json.Unmarshal([]byte(raw), &citations); err != nil {
		return nil
	}
	return citations
}
