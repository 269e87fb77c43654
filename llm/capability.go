package llm

import (
	"fmt"
	"strings"
)

// canonicalOpenAIBase is the endpoint whose model names we can reason
// about. OpenAI-compatible gateways reuse arbitrary model ids, so prefix
// matching is only trusted against the real API.
const canonicalOpenAIBase = "https://api.openai.com/v1"

// structuredOutputPrefixes lists model families known to accept
// json_schema response formats and the max_completion_tokens parameter.
var structuredOutputPrefixes = []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4"}

func isCanonicalOpenAI(baseURL string) bool {
	return baseURL == "" || strings.TrimSuffix(baseURL, "/") == canonicalOpenAIBase
}

// supportsStructuredOutputs reports whether the configured endpoint and
// model are known to accept structured output. Unknown endpoints are
// assumed not to, and the request falls back to plain completions.
func supportsStructuredOutputs(baseURL, model string) bool {
	if !isCanonicalOpenAI(baseURL) {
		return false
	}
	for _, prefix := range structuredOutputPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// supportsMaxCompletionTokens reports whether the endpoint takes the
// newer max_completion_tokens parameter instead of max_tokens.
func supportsMaxCompletionTokens(baseURL, model string) bool {
	return supportsStructuredOutputs(baseURL, model)
}

// injectSchemaPrompt degrades a json_schema response format into a system
// instruction for models without native structured output. The original
// messages slice is not modified.
func injectSchemaPrompt(messages []Message, format *ResponseFormat) []Message {
	if format == nil || format.Type != "json_schema" || len(format.JSONSchema) == 0 {
		return messages
	}
	instruction := fmt.Sprintf(
		"Respond only with a JSON object conforming to this JSON schema, with no surrounding text:\n%s",
		string(format.JSONSchema))
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: instruction})
	out = append(out, messages...)
	return out
}
