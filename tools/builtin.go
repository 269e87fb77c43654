package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/vector"
)

// funcTool adapts a function into a Tool.
type funcTool struct {
	name        string
	description string
	parameters  json.RawMessage
	strict      bool
	call        func(ctx context.Context, argsJSON string, rt Runtime) (any, error)
}

func (t *funcTool) Name() string                { return t.name }
func (t *funcTool) Description() string         { return t.description }
func (t *funcTool) Parameters() json.RawMessage { return t.parameters }
func (t *funcTool) Strict() bool                { return t.strict }

func (t *funcTool) Call(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
	return t.call(ctx, argsJSON, rt)
}

func parseArgs(argsJSON string, out any) error {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argsJSON), out); err != nil {
		return oops.Code(errcode.InvalidArgument).Wrapf(err, "invalid tool arguments")
	}
	return nil
}

// WebResult is one hit from a web search engine.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearchEngine is the pluggable backend of the web_search tool.
type WebSearchEngine interface {
	Search(ctx context.Context, query string, limit int) ([]WebResult, error)
}

// BuiltinCatalog serves the tools implemented by the runtime itself.
type BuiltinCatalog struct {
	tools map[string]Tool
}

// BuiltinOption customizes the builtin catalog.
type BuiltinOption func(*BuiltinCatalog)

// WithWebSearch enables the web_search tool backed by engine.
func WithWebSearch(engine WebSearchEngine) BuiltinOption {
	return func(c *BuiltinCatalog) {
		c.tools["web_search"] = webSearchTool(engine)
	}
}

// NewBuiltinCatalog builds the default tool set: document_similarity,
// sample_data and get_readiness, plus whatever the options enable.
func NewBuiltinCatalog(opts ...BuiltinOption) *BuiltinCatalog {
	catalog := &BuiltinCatalog{tools: map[string]Tool{}}
	for _, tool := range []Tool{documentSimilarityTool(), sampleDataTool(), readinessTool()} {
		catalog.tools[tool.Name()] = tool
	}
	for _, opt := range opts {
		opt(catalog)
	}
	return catalog
}

func (c *BuiltinCatalog) Name() string { return "builtin" }

func (c *BuiltinCatalog) All(ctx context.Context) ([]Tool, error) {
	out := make([]Tool, 0, len(c.tools))
	for _, tool := range c.tools {
		out = append(out, tool)
	}
	return out, nil
}

func (c *BuiltinCatalog) Get(ctx context.Context, name string) (Tool, error) {
	tool, ok := c.tools[name]
	if !ok {
		return nil, oops.With("tool", name).Wrap(ErrToolNotFound)
	}
	return tool, nil
}

// batchRows renders a record batch as one JSON object per row.
func batchRows(batch *federation.RecordBatch) []map[string]any {
	rows := make([]map[string]any, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		obj := make(map[string]any, len(batch.Schema.Fields))
		for i, field := range batch.Schema.Fields {
			if i < len(row) {
				obj[field.Name] = row[i]
			}
		}
		rows = append(rows, obj)
	}
	return rows
}

func documentSimilarityTool() Tool {
	return &funcTool{
		name:        "document_similarity",
		description: "Search datasets for documents semantically similar to the query text.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Query text to search for."},
				"datasets": {"type": "array", "items": {"type": "string"}, "description": "Datasets to search; defaults to all searchable datasets."},
				"limit": {"type": "integer", "description": "Maximum results per dataset.", "default": 3}
			},
			"required": ["text"]
		}`),
		call: func(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
			var args struct {
				Text     string   `json:"text"`
				Datasets []string `json:"datasets"`
				Limit    int      `json:"limit"`
			}
			if err := parseArgs(argsJSON, &args); err != nil {
				return nil, err
			}
			if args.Limit <= 0 {
				args.Limit = 3
			}

			results, err := rt.Search(ctx, vector.SearchRequest{
				Text:   args.Text,
				Tables: args.Datasets,
				Limit:  args.Limit,
			})
			if err != nil {
				return nil, err
			}

			out := make(map[string][]map[string]any, len(results))
			for table, batch := range results {
				out[table] = batchRows(batch)
			}
			return out, nil
		},
	}
}

func sampleDataTool() Tool {
	return &funcTool{
		name:        "sample_data",
		description: "Sample rows from a dataset. Modes: top_n (first rows), random (uniform sample), distinct (deduplicated rows).",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"dataset": {"type": "string", "description": "Dataset to sample."},
				"mode": {"type": "string", "enum": ["top_n", "random", "distinct"], "default": "top_n"},
				"limit": {"type": "integer", "description": "Number of rows to return.", "default": 10}
			},
			"required": ["dataset"]
		}`),
		call: func(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
			var args struct {
				Dataset string `json:"dataset"`
				Mode    string `json:"mode"`
				Limit   int    `json:"limit"`
			}
			if err := parseArgs(argsJSON, &args); err != nil {
				return nil, err
			}
			if args.Limit <= 0 {
				args.Limit = 10
			}
			if args.Mode == "" {
				args.Mode = "top_n"
			}

			scan, err := rt.Scan(federation.ParseTableRef(args.Dataset))
			if err != nil {
				return nil, err
			}

			var plan federation.Plan = scan
			if args.Mode == "top_n" {
				plan = &federation.LimitNode{Input: scan, N: args.Limit}
			}

			stream, _, err := rt.Query(ctx, plan)
			if err != nil {
				return nil, err
			}
			batch, err := stream.Collect(ctx)
			if err != nil {
				return nil, err
			}

			switch args.Mode {
			case "top_n":
				return batchRows(batch), nil
			case "random":
				rows := batchRows(batch)
				rand.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
				if len(rows) > args.Limit {
					rows = rows[:args.Limit]
				}
				return rows, nil
			case "distinct":
				seen := map[string]bool{}
				var rows []map[string]any
				for _, row := range batchRows(batch) {
					key := fmt.Sprint(row)
					if seen[key] {
						continue
					}
					seen[key] = true
					rows = append(rows, row)
					if len(rows) == args.Limit {
						break
					}
				}
				return rows, nil
			default:
				return nil, oops.Code(errcode.InvalidArgument).With("mode", args.Mode).Errorf("unsupported sample mode")
			}
		},
	}
}

func readinessTool() Tool {
	return &funcTool{
		name:        "get_readiness",
		description: "Report the readiness state of every runtime component.",
		parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		call: func(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
			return rt.Readiness(), nil
		},
	}
}

func webSearchTool(engine WebSearchEngine) Tool {
	return &funcTool{
		name:        "web_search",
		description: "Search the web and return the top results.",
		parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query."},
				"limit": {"type": "integer", "description": "Maximum results.", "default": 5}
			},
			"required": ["query"]
		}`),
		call: func(ctx context.Context, argsJSON string, rt Runtime) (any, error) {
			var args struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := parseArgs(argsJSON, &args); err != nil {
				return nil, err
			}
			if args.Limit <= 0 {
				args.Limit = 5
			}
			return engine.Search(ctx, args.Query, args.Limit)
		},
	}
}
