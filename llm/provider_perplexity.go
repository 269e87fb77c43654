package llm

import (
	"context"

	"github.com/flanksource/commons/logger"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

const perplexityBaseURL = "https://api.perplexity.ai"

// PerplexityConfig configures a Perplexity Sonar model. Perplexity
// speaks the OpenAI chat protocol but attaches a citations array to
// responses and stream chunks.
type PerplexityConfig struct {
	Name   string
	Model  string
	APIKey string
}

type perplexityProvider struct {
	inner *openAIProvider
}

// NewPerplexity builds a chat provider for Perplexity's Sonar models.
func NewPerplexity(cfg PerplexityConfig) (*perplexityProvider, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code(errcode.InvalidArgument).With("model", cfg.Name).Wrap(ErrMissingAPIKey)
	}
	inner, err := NewOpenAI(OpenAIConfig{
		Name:    cfg.Name,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: perplexityBaseURL,
	})
	if err != nil {
		return nil, err
	}
	inner.citations = true
	return &perplexityProvider{inner: inner}, nil
}

func (p *perplexityProvider) Name() string { return p.inner.Name() }

func (p *perplexityProvider) ChatRequest(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return p.inner.ChatRequest(ctx, req)
}

// ChatStream forwards chunks and logs citations once per response id as
// they first appear, so search sources are traceable even when the
// client drops the citations field.
func (p *perplexityProvider) ChatStream(ctx context.Context, req *ChatRequest) (*ChatStream, error) {
	stream, err := p.inner.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	logged := map[string]bool{}
	return NewChatStream(func() (*ChatChunk, error) {
		chunk, err := stream.Recv()
		if err != nil {
			return nil, err
		}
		if len(chunk.Citations) > 0 && !logged[chunk.ID] {
			logged[chunk.ID] = true
			logger.Infof("model %s response %s cited %d sources: %v",
				p.Name(), chunk.ID, len(chunk.Citations), chunk.Citations)
		}
		return chunk, nil
	}, stream.Close), nil
}

func (p *perplexityProvider) HealthCheck(ctx context.Context) error {
	return p.inner.HealthCheck(ctx)
}
