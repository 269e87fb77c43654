package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flanksource/commons/logger"

	"github.com/nittaya1990/spiced/config"
	"github.com/nittaya1990/spiced/db"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/runtime"
	"github.com/nittaya1990/spiced/tools"
	"github.com/nittaya1990/spiced/vector"
)

// applyPod registers every component the manifest declares. Components
// come up as Initializing and are marked ready once wired; failures
// land in the status table instead of aborting startup.
func applyPod(ctx context.Context, rt *runtime.Runtime, pod *config.Pod) error {
	for _, component := range pod.Datasets {
		if err := applyDataset(ctx, rt, component); err != nil {
			return err
		}
	}
	for _, component := range pod.Models {
		if err := applyModel(rt, component); err != nil {
			return err
		}
	}
	for _, component := range pod.Embeddings {
		if err := applyEmbedding(rt, component); err != nil {
			return err
		}
	}
	for _, component := range pod.Tools {
		if err := applyTool(rt, component); err != nil {
			return err
		}
	}
	return nil
}

func applyDataset(ctx context.Context, rt *runtime.Runtime, component config.Component) error {
	provider, table := component.Directive()
	ref := federation.ParseTableRef(table)

	switch provider {
	case "postgres":
		sourceID := "postgres:" + component.Name
		pool, err := db.NewPgxPool(ctx, component.Param("connection"))
		if err != nil {
			rt.Status.Register("dataset:" + component.Name)
			rt.Status.MarkError("dataset:"+component.Name, err)
			logger.Errorf("dataset %s: %v", component.Name, err)
			return nil
		}
		rt.AddSource(federation.PostgresSource(sourceID, component.Param("connection"), pool))
		rt.Status.MarkReady("source:" + sourceID)
		if err := rt.AddDataset(ref, sourceID); err != nil {
			return err
		}
	case "sqlite":
		sourceID := "sqlite:" + component.Name
		accelerator, err := federation.NewAccelerator(component.Param("path"))
		if err != nil {
			rt.Status.Register("dataset:" + component.Name)
			rt.Status.MarkError("dataset:"+component.Name, err)
			logger.Errorf("dataset %s: %v", component.Name, err)
			return nil
		}
		rt.AddSource(accelerator.Source(sourceID, component.Param("path")))
		rt.Status.MarkReady("source:" + sourceID)
		if err := rt.AddDataset(ref, sourceID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("dataset %s: unsupported provider %q", component.Name, provider)
	}
	rt.Status.MarkReady("dataset:" + ref.String())

	// An embedding column turns the dataset into a searchable corpus.
	if column := component.Param("embedding_column"); column != "" {
		rt.Embeddings.Register(vector.EmbeddingColumn{
			Table:         ref.String(),
			Column:        column,
			ContentColumn: component.Param("content_column"),
			ModelID:       component.Param("embedding_model"),
			PrimaryKeys:   strings.Fields(component.Param("primary_keys")),
			Chunking: &vector.Chunking{
				Enabled: component.Param("chunking") == "enabled",
			},
		})
	}
	return nil
}

func applyModel(rt *runtime.Runtime, component config.Component) error {
	provider, model := component.Directive()

	var (
		chat llm.ChatProvider
		err  error
	)
	switch provider {
	case "openai":
		chat, err = llm.NewOpenAI(llm.OpenAIConfig{
			Name:    component.Name,
			Model:   model,
			APIKey:  component.Param("api_key"),
			BaseURL: component.Param("endpoint"),
		})
	case "azure":
		chat, err = llm.NewAzureOpenAI(llm.AzureConfig{
			Name:       component.Name,
			Deployment: model,
			APIKey:     component.Param("api_key"),
			Endpoint:   component.Param("endpoint"),
			APIVersion: component.Param("api_version"),
		})
	case "anthropic":
		chat, err = llm.NewAnthropic(llm.AnthropicConfig{
			Name:    component.Name,
			Model:   model,
			APIKey:  component.Param("api_key"),
			BaseURL: component.Param("endpoint"),
		})
	case "perplexity":
		chat, err = llm.NewPerplexity(llm.PerplexityConfig{
			Name:   component.Name,
			Model:  model,
			APIKey: component.Param("api_key"),
		})
	default:
		return fmt.Errorf("model %s: unsupported provider %q", component.Name, provider)
	}
	if err != nil {
		return fmt.Errorf("model %s: %w", component.Name, err)
	}

	rt.AddChatModel(chat)
	rt.Status.MarkReady("model:" + component.Name)
	return nil
}

func applyEmbedding(rt *runtime.Runtime, component config.Component) error {
	provider, model := component.Directive()

	switch provider {
	case "local":
		dim, err := strconv.Atoi(model)
		if err != nil {
			return fmt.Errorf("embedding %s: dimension %q is not a number", component.Name, model)
		}
		embedder, err := llm.NewLocalEmbedder(component.Name, dim)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", component.Name, err)
		}
		rt.AddEmbeddingModel(embedder)
	case "openai", "azure":
		var (
			embedder llm.EmbeddingProvider
			err      error
		)
		if provider == "openai" {
			embedder, err = llm.NewOpenAI(llm.OpenAIConfig{
				Name:    component.Name,
				Model:   model,
				APIKey:  component.Param("api_key"),
				BaseURL: component.Param("endpoint"),
			})
		} else {
			embedder, err = llm.NewAzureOpenAI(llm.AzureConfig{
				Name:       component.Name,
				Deployment: model,
				APIKey:     component.Param("api_key"),
				Endpoint:   component.Param("endpoint"),
				APIVersion: component.Param("api_version"),
			})
		}
		if err != nil {
			return fmt.Errorf("embedding %s: %w", component.Name, err)
		}
		rt.AddEmbeddingModel(embedder)
	default:
		return fmt.Errorf("embedding %s: unsupported provider %q", component.Name, provider)
	}

	rt.Status.MarkReady("model:" + component.Name)
	return nil
}

func applyTool(rt *runtime.Runtime, component config.Component) error {
	if id, ok := tools.ParseMCPDirective(component.From); ok {
		rt.Tools.AddCatalog(tools.NewMCPCatalog(tools.MCPConfig{
			Name: component.Name,
			ID:   id,
			Args: component.Param("mcp_args"),
		}))
		logger.Infof("registered MCP tool catalog %s (%s)", component.Name, id)
		return nil
	}
	return fmt.Errorf("tool %s: unsupported directive %q", component.Name, component.From)
}
