package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/flanksource/commons/logger"
	"github.com/samber/lo"

	"github.com/nittaya1990/spiced/llm"
)

// defaultMaxIterations bounds the tool loop so a model that keeps
// requesting tools cannot spin forever.
const defaultMaxIterations = 10

// Orchestrator drives a chat completion through tool use: it attaches
// the registry's tool specs, executes whatever calls the model issues,
// feeds the outputs back, and resubmits until the model answers in
// plain text or the iteration cap is hit.
type Orchestrator struct {
	registry      *Registry
	runtime       Runtime
	maxIterations int
}

func NewOrchestrator(registry *Registry, runtime Runtime) *Orchestrator {
	return &Orchestrator{
		registry:      registry,
		runtime:       runtime,
		maxIterations: defaultMaxIterations,
	}
}

// WithMaxIterations overrides the tool loop cap.
func (o *Orchestrator) WithMaxIterations(n int) *Orchestrator {
	if n > 0 {
		o.maxIterations = n
	}
	return o
}

// Chat runs the completion loop. Client-supplied tools are merged with
// the registry's specs and take precedence on name clashes; a call to a
// client tool ends the loop so the client can execute it. The request's
// messages are extended in place with assistant turns and tool outputs;
// the final response is the first one without runtime tool calls, or
// the last one at the cap.
func (o *Orchestrator) Chat(ctx context.Context, provider llm.ChatProvider, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	specs, err := o.registry.Specs(ctx)
	if err != nil {
		return nil, err
	}
	clientTools := map[string]bool{}
	for _, spec := range req.Tools {
		clientTools[spec.Name] = true
	}
	req.Tools = mergeSpecs(req.Tools, specs)

	var resp *llm.ChatResponse
	for i := 0; i < o.maxIterations; i++ {
		resp, err = provider.ChatRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return resp, nil
		}

		message := resp.Choices[0].Message
		if len(message.ToolCalls) == 0 {
			return resp, nil
		}
		for _, call := range message.ToolCalls {
			if clientTools[call.Function.Name] {
				// Only the client can execute its own tools.
				return resp, nil
			}
		}

		req.Messages = append(req.Messages, message)
		for _, call := range message.ToolCalls {
			req.Messages = append(req.Messages, o.executeCall(ctx, call))
		}
	}

	logger.Warnf("tool loop hit %d iterations without a final answer", o.maxIterations)
	return resp, nil
}

// ChatStream runs the same loop for a streaming request. Completions
// that involve no tools at all stream straight from the provider; once
// tools are in play the loop has to settle before anything can be sent,
// so the final answer is relayed as a synthesized stream.
func (o *Orchestrator) ChatStream(ctx context.Context, provider llm.ChatProvider, req *llm.ChatRequest) (*llm.ChatStream, error) {
	specs, err := o.registry.Specs(ctx)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 && len(req.Tools) == 0 {
		return provider.ChatStream(ctx, req)
	}

	resp, err := o.Chat(ctx, provider, req)
	if err != nil {
		return nil, err
	}
	return streamFromResponse(resp), nil
}

// mergeSpecs combines client tools with registry specs; the client's
// definition wins on a name clash.
func mergeSpecs(client, registry []llm.ToolSpec) []llm.ToolSpec {
	out := append([]llm.ToolSpec{}, client...)
	seen := map[string]bool{}
	for _, spec := range client {
		seen[spec.Name] = true
	}
	for _, spec := range registry {
		if !seen[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}

// streamFromResponse replays a settled completion as chunks: one delta
// per choice, then the finish marker.
func streamFromResponse(resp *llm.ChatResponse) *llm.ChatStream {
	var chunks []llm.ChatChunk
	for _, choice := range resp.Choices {
		chunks = append(chunks,
			llm.ChatChunk{
				ID:        resp.ID,
				Model:     resp.Model,
				Delta:     choice.Message,
				Citations: resp.Citations,
			},
			llm.ChatChunk{
				ID:           resp.ID,
				Model:        resp.Model,
				Delta:        llm.Message{Role: llm.RoleAssistant},
				FinishReason: choice.FinishReason,
			})
	}
	return llm.StreamFromChunks(chunks)
}

// executeCall runs one tool call and renders the outcome as a tool
// message. Failures are reported back to the model rather than aborting
// the loop, so it can correct itself.
func (o *Orchestrator) executeCall(ctx context.Context, call llm.ToolCall) llm.Message {
	message := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID}

	tool, err := o.registry.Get(ctx, call.Function.Name)
	if err != nil {
		available := o.availableToolNames(ctx)
		logger.Warnf("model requested unknown tool %q, available: %s", call.Function.Name, available)
		message.Content = fmt.Sprintf("unknown tool %q; available tools: %s", call.Function.Name, available)
		return message
	}

	output, err := CallTool(ctx, tool, call.Function.Arguments, o.runtime)
	if err != nil {
		message.Content = fmt.Sprintf("tool %q failed: %v", call.Function.Name, err)
		return message
	}
	message.Content = output
	return message
}

func (o *Orchestrator) availableToolNames(ctx context.Context) string {
	tools, err := o.registry.All(ctx)
	if err != nil {
		return "(unavailable)"
	}
	names := lo.Map(tools, func(t Tool, _ int) string { return t.Name() })
	return strings.Join(names, ", ")
}
