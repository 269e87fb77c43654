package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nittaya1990/spiced/auth"
	"github.com/nittaya1990/spiced/cache"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/runtime"
)

type fixedExecutor struct {
	batch *federation.RecordBatch
	calls int
}

func (e *fixedExecutor) Execute(ctx context.Context, sql string, schema *federation.Schema) (*federation.BatchStream, error) {
	e.calls++
	return federation.StreamFromBatches(e.batch.Schema, e.batch), nil
}

type fixedResolver struct {
	schema *federation.Schema
}

func (r *fixedResolver) GetTableSchema(ctx context.Context, ref federation.TableRef) (*federation.Schema, error) {
	return r.schema, nil
}

func (r *fixedResolver) TableNames(ctx context.Context) ([]string, error) {
	return []string{"events"}, nil
}

func newTestRuntime(t *testing.T) (*runtime.Runtime, *fixedExecutor) {
	t.Helper()

	batch := &federation.RecordBatch{
		Schema: federation.NewSchema(
			federation.Field{Name: "id", Type: federation.TypeInt64},
			federation.Field{Name: "name", Type: federation.TypeUtf8},
		),
		Rows: [][]any{{int64(1), "a"}, {int64(2), "b"}},
	}
	executor := &fixedExecutor{batch: batch}

	rt := runtime.New(runtime.Config{
		CacheMaxBytes: 1 << 20,
		Registerer:    prometheus.NewRegistry(),
	})
	source := federation.NewSource("pg", federation.Postgres(), "pg:5432", executor, &fixedResolver{schema: batch.Schema})
	rt.AddSource(source)
	rt.Status.MarkReady("source:pg")
	return rt, executor
}

func do(server *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)
	return rec
}

func TestReadyEndpoint(t *testing.T) {
	rt, _ := newTestRuntime(t)
	server := New(Config{}, rt)

	rec := do(server, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", rec.Body.String())

	rt.Status.Register("dataset:slow")
	rec = do(server, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", rec.Body.String())

	rt.Status.MarkReady("dataset:slow")
	rec = do(server, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSQLEndpoint_CacheHeaders(t *testing.T) {
	rt, executor := newTestRuntime(t)
	server := New(Config{}, rt)

	// First request misses and executes.
	req := httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("SELECT * FROM events"))
	rec := do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Miss from spiceai", rec.Header().Get(cache.HeaderXCache))
	assert.Equal(t, "MISS", rec.Header().Get(cache.HeaderResultsCacheStatus))
	assert.Equal(t, 1, executor.calls)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["name"])

	// Same statement hits the cache without touching the source.
	req = httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("SELECT * FROM events"))
	rec = do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hit from spiceai", rec.Header().Get(cache.HeaderXCache))
	assert.Equal(t, "HIT", rec.Header().Get(cache.HeaderResultsCacheStatus))
	assert.Equal(t, 1, executor.calls)

	// Cache-Control: no-cache bypasses the lookup but still executes.
	req = httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("SELECT * FROM events"))
	req.Header.Set("Cache-Control", "no-cache")
	rec = do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BYPASS", rec.Header().Get(cache.HeaderResultsCacheStatus))
	assert.Empty(t, rec.Header().Get(cache.HeaderXCache))
	assert.Equal(t, 2, executor.calls)
}

func TestSQLEndpoint_EmptyStatement(t *testing.T) {
	rt, _ := newTestRuntime(t)
	server := New(Config{}, rt)

	rec := do(server, httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("  ")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_argument", body.Error.Code)
}

func TestSQLEndpoint_WriteRequiresReadWriteGroup(t *testing.T) {
	rt, executor := newTestRuntime(t)
	server := New(Config{
		Verifier: auth.NewAPIKeyVerifier(map[string]auth.KeyAccess{
			"ro": auth.ReadOnly,
			"rw": auth.ReadWrite,
		}),
	}, rt)

	// A read-only key cannot execute a write statement.
	req := httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("INSERT INTO events VALUES (3, 'c')"))
	req.Header.Set(auth.HeaderAPIKey, "ro")
	rec := do(server, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, executor.calls)

	// Writers execute every time; writes never participate in the
	// results cache, so no cache headers are emitted.
	for i := 1; i <= 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("INSERT INTO events VALUES (3, 'c')"))
		req.Header.Set(auth.HeaderAPIKey, "rw")
		rec = do(server, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(cache.HeaderResultsCacheStatus))
		assert.Empty(t, rec.Header().Get(cache.HeaderXCache))
		assert.Equal(t, i, executor.calls)
	}

	// Reads stay open to the read-only key.
	req = httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("SELECT * FROM events"))
	req.Header.Set(auth.HeaderAPIKey, "ro")
	rec = do(server, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSQLEndpoint_WriteRateLimited(t *testing.T) {
	batch := &federation.RecordBatch{
		Schema: federation.NewSchema(federation.Field{Name: "id", Type: federation.TypeInt64}),
		Rows:   [][]any{{int64(1)}},
	}
	executor := &fixedExecutor{batch: batch}

	rt := runtime.New(runtime.Config{
		CacheMaxBytes:          1 << 20,
		RateLimitTokens:        1,
		RateLimitWindowSeconds: 3600,
		Registerer:             prometheus.NewRegistry(),
	})
	rt.AddSource(federation.NewSource("pg", federation.Postgres(), "pg:5432", executor, &fixedResolver{schema: batch.Schema}))
	server := New(Config{}, rt)

	req := httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("DELETE FROM events"))
	rec := do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, executor.calls)

	req = httptest.NewRequest(http.MethodPost, "/v1/sql", strings.NewReader("DELETE FROM events"))
	rec = do(server, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1, executor.calls)
}

func TestEmbeddingsEndpoint(t *testing.T) {
	rt, _ := newTestRuntime(t)
	embedder, err := llm.NewLocalEmbedder("local-embed", 8)
	require.NoError(t, err)
	rt.AddEmbeddingModel(embedder)
	rt.Status.MarkReady("model:local-embed")
	server := New(Config{}, rt)

	payload := `{"model": "local-embed", "input": ["hello world"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Object string `json:"object"`
		Model  string `json:"model"`
		Data   []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "list", body.Object)
	assert.Equal(t, "local-embed", body.Model)
	require.Len(t, body.Data, 1)
	assert.Len(t, body.Data[0].Embedding, 8)
}

func TestEmbeddingsEndpoint_UnknownModelIs404(t *testing.T) {
	rt, _ := newTestRuntime(t)
	server := New(Config{}, rt)

	payload := `{"model": "nope", "input": ["x"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := do(server, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type cannedChat struct {
	name string
	resp *llm.ChatResponse
}

func (p *cannedChat) Name() string { return p.name }

func (p *cannedChat) ChatRequest(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return p.resp, nil
}

func (p *cannedChat) ChatStream(ctx context.Context, req *llm.ChatRequest) (*llm.ChatStream, error) {
	return llm.StreamFromChunks([]llm.ChatChunk{
		{ID: "c1", Model: p.name, Delta: llm.Message{Role: llm.RoleAssistant, Content: "hel"}},
		{ID: "c1", Model: p.name, Delta: llm.Message{Role: llm.RoleAssistant, Content: "lo"}, FinishReason: "stop"},
	}), nil
}

func (p *cannedChat) HealthCheck(ctx context.Context) error { return nil }

func TestChatCompletions_NonStreaming(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.AddChatModel(&cannedChat{name: "my-model", resp: &llm.ChatResponse{
		Model:   "my-model",
		Choices: []llm.Choice{{Message: llm.Message{Role: llm.RoleAssistant, Content: "hi there"}, FinishReason: "stop"}},
	}})
	rt.Status.MarkReady("model:my-model")
	server := New(Config{}, rt)

	payload := `{"model": "my-model", "messages": [{"role": "user", "content": "hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body llm.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hi there", body.Choices[0].Message.Content)
	assert.Equal(t, "my-model", body.Model)
}

func TestChatCompletions_Streaming(t *testing.T) {
	rt, _ := newTestRuntime(t)
	rt.AddChatModel(&cannedChat{name: "my-model"})
	rt.Status.MarkReady("model:my-model")
	server := New(Config{}, rt)

	payload := `{"model": "my-model", "messages": [{"role": "user", "content": "hi"}], "stream": true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := do(server, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/event-stream")

	body := rec.Body.String()
	assert.Contains(t, body, `"content":"hel"`)
	assert.Contains(t, body, `"model":"my-model"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))
}

func TestAuthMiddleware_RejectsMissingKey(t *testing.T) {
	rt, _ := newTestRuntime(t)
	server := New(Config{
		Verifier: auth.NewAPIKeyVerifier(map[string]auth.KeyAccess{"good": auth.ReadOnly}),
	}, rt)

	rec := do(server, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/ready", nil)
	req.Header.Set(auth.HeaderAPIKey, "good")
	rec = do(server, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
