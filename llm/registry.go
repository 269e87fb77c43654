package llm

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// Registry maps user-facing model names to their providers. A single
// name may serve chat, embeddings, or both.
type Registry struct {
	mu    sync.RWMutex
	chat  map[string]ChatProvider
	embed map[string]EmbeddingProvider
}

func NewRegistry() *Registry {
	return &Registry{
		chat:  make(map[string]ChatProvider),
		embed: make(map[string]EmbeddingProvider),
	}
}

func (r *Registry) RegisterChat(provider ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[provider.Name()] = provider
}

func (r *Registry) RegisterEmbedding(provider EmbeddingProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embed[provider.Name()] = provider
}

// Chat resolves a chat provider by user-facing name.
func (r *Registry) Chat(name string) (ChatProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.chat[name]
	if !ok {
		return nil, oops.Code(errcode.NotFound).With("model", name).Wrap(ErrModelNotFound)
	}
	return provider, nil
}

// Embedding resolves an embedding provider by user-facing name.
func (r *Registry) Embedding(name string) (EmbeddingProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.embed[name]
	if !ok {
		return nil, oops.Code(errcode.NotFound).With("model", name).Wrap(ErrModelNotFound)
	}
	return provider, nil
}

// ChatModels returns the registered chat model names, sorted.
func (r *Registry) ChatModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chat))
	for name := range r.chat {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmbeddingModels returns the registered embedding model names, sorted.
func (r *Registry) EmbeddingModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.embed))
	for name := range r.embed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmbedText satisfies the vector search embedder contract: resolve the
// model by name and return one vector per input.
func (r *Registry) EmbedText(ctx context.Context, model string, input []string) ([][]float32, error) {
	provider, err := r.Embedding(model)
	if err != nil {
		return nil, err
	}
	resp, err := provider.Embed(ctx, &EmbeddingRequest{Model: model, Input: input})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
