package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/cache"
	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/tools"
)

// handleReady reports aggregate readiness: 200 once every registered
// component is serving, 503 otherwise.
func (s *Server) handleReady(c echo.Context) error {
	if s.rt.Status.IsReady() {
		return c.String(http.StatusOK, "ready")
	}
	return c.String(http.StatusServiceUnavailable, "not ready")
}

// handleSQL executes the raw SQL statement in the request body and
// returns rows as JSON. Reads carry cache status headers; writes are
// authorized and rate-limited in the runtime and emit none.
func (s *Server) handleSQL(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return oops.Code(errcode.InvalidArgument).Wrapf(err, "failed to read request body")
	}

	batch, cacheStatus, err := s.rt.ExecSQL(c.Request().Context(), string(body))
	if err != nil {
		return err
	}

	cache.AttachHeaders(c.Response().Header(), cacheStatus)

	rows := make([]map[string]any, 0, batch.NumRows())
	for _, row := range batch.Rows {
		obj := make(map[string]any, len(batch.Schema.Fields))
		for i, field := range batch.Schema.Fields {
			if i < len(row) {
				obj[field.Name] = row[i]
			}
		}
		rows = append(rows, obj)
	}
	return c.JSON(http.StatusOK, rows)
}

type embeddingDatum struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingsBody struct {
	Object string           `json:"object"`
	Model  string           `json:"model"`
	Data   []embeddingDatum `json:"data"`
	Usage  llm.Usage        `json:"usage"`
}

// handleEmbeddings resolves the requested model and embeds the input.
// Unknown models map to 404 through the error handler.
func (s *Server) handleEmbeddings(c echo.Context) error {
	var req llm.EmbeddingRequest
	if err := c.Bind(&req); err != nil {
		return oops.Code(errcode.InvalidArgument).Wrapf(err, "invalid embeddings request")
	}

	provider, err := s.rt.Models.Embedding(req.Model)
	if err != nil {
		return err
	}
	resp, err := provider.Embed(c.Request().Context(), &req)
	if err != nil {
		return err
	}

	body := embeddingsBody{Object: "list", Model: resp.Model, Usage: resp.Usage}
	for i, vector := range resp.Data {
		body.Data = append(body.Data, embeddingDatum{Object: "embedding", Index: i, Embedding: vector})
	}
	return c.JSON(http.StatusOK, body)
}

type sseChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Model   string           `json:"model"`
	Choices []sseChunkChoice `json:"choices"`
}

type sseChunkChoice struct {
	Index        int         `json:"index"`
	Delta        llm.Message `json:"delta"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// handleChatCompletions serves completions. Both shapes run through the
// tool orchestrator; streaming responses are relayed as server-sent
// events (tool-using completions stream once the loop settles).
func (s *Server) handleChatCompletions(c echo.Context) error {
	var req llm.ChatRequest
	if err := c.Bind(&req); err != nil {
		return oops.Code(errcode.InvalidArgument).Wrapf(err, "invalid chat request")
	}

	provider, err := s.rt.Models.Chat(req.Model)
	if err != nil {
		return err
	}
	orchestrator := tools.NewOrchestrator(s.rt.Tools, s.rt)

	if !req.Stream {
		resp, err := orchestrator.Chat(c.Request().Context(), provider, &req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, resp)
	}

	stream, err := orchestrator.ChatStream(c.Request().Context(), provider, &req)
	if err != nil {
		return err
	}
	defer stream.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Status line already sent; the response just ends early.
			return err
		}

		payload, err := json.Marshal(sseChunk{
			ID:     chunk.ID,
			Object: "chat.completion.chunk",
			Model:  chunk.Model,
			Choices: []sseChunkChoice{{
				Delta:        chunk.Delta,
				FinishReason: chunk.FinishReason,
			}},
		})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		w.Flush()
	}

	_, err = fmt.Fprint(w, "data: [DONE]\n\n")
	w.Flush()
	return err
}
