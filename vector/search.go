package vector

import (
	"context"
	"fmt"

	"github.com/flanksource/commons/logger"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/federation"
)

// distanceColumn is the alias of the computed distance in search results.
const distanceColumn = "_dist"

// Embedder turns query text into vectors. The LLM gateway's embedding
// registry satisfies this.
type Embedder interface {
	EmbedText(ctx context.Context, model string, input []string) ([][]float32, error)
}

// SearchRequest is a vector retrieval request.
type SearchRequest struct {
	// Text is the query to embed.
	Text string
	// Tables restricts the search; empty means every table with a
	// registered embedding column.
	Tables []string
	// Limit caps results per table. Must be positive.
	Limit int
	// Where is an optional predicate applied before ranking.
	Where federation.Expr
	// PrimaryKeyFilter optionally restricts candidates to given row keys.
	PrimaryKeyFilter federation.Expr
}

// Match is one ranked result row.
type Match struct {
	Keys     []any
	Content  string
	Distance float64
}

// Searcher executes vector searches over the federated engine.
type Searcher struct {
	registry  *Registry
	federator *federation.Federator
	embedder  Embedder
}

// NewSearcher wires the searcher.
func NewSearcher(registry *Registry, federator *federation.Federator, embedder Embedder) *Searcher {
	return &Searcher{registry: registry, federator: federator, embedder: embedder}
}

// Search embeds the query and ranks candidate rows per table by ascending
// cosine distance. Tables without an embedding column are omitted; it is an
// error only when no requested table has one.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (map[string]*federation.RecordBatch, error) {
	if req.Limit <= 0 {
		return nil, oops.Code(errcode.InvalidArgument).Errorf("limit must be positive, got %d", req.Limit)
	}
	if req.Text == "" {
		return nil, oops.Code(errcode.InvalidArgument).Errorf("search text is required")
	}

	tables := req.Tables
	if len(tables) == 0 {
		tables = s.registry.Tables()
	}

	var targets []EmbeddingColumn
	for _, t := range tables {
		col, ok := s.registry.Get(t)
		if !ok {
			logger.Debugf("vector search: table %s has no embedding column, skipping", t)
			continue
		}
		targets = append(targets, col)
	}
	if len(targets) == 0 {
		return nil, oops.Code(errcode.NotFound).Errorf("no requested table has an embedding column")
	}

	// Embed once per distinct model.
	vectors := map[string][]float32{}
	for _, col := range targets {
		if _, ok := vectors[col.ModelID]; ok {
			continue
		}
		embedded, err := s.embedder.EmbedText(ctx, col.ModelID, []string{req.Text})
		if err != nil {
			return nil, oops.Code(errcode.UpstreamFailure).With("model", col.ModelID).Wrap(err)
		}
		if len(embedded) != 1 {
			return nil, oops.Code(errcode.UpstreamFailure).Errorf("model %s returned %d embeddings for 1 input", col.ModelID, len(embedded))
		}
		vectors[col.ModelID] = embedded[0]
	}

	results := map[string]*federation.RecordBatch{}
	for _, col := range targets {
		batch, err := s.searchTable(ctx, col, vectors[col.ModelID], req)
		if err != nil {
			return nil, err
		}
		results[col.Table] = batch
	}
	return results, nil
}

func (s *Searcher) searchTable(ctx context.Context, col EmbeddingColumn, vec []float32, req SearchRequest) (*federation.RecordBatch, error) {
	scan, err := s.federator.Scan(federation.ParseTableRef(col.Table))
	if err != nil {
		return nil, err
	}

	var input federation.Plan = scan
	if req.Where != nil {
		input = &federation.FilterNode{Input: input, Predicate: req.Where}
	}
	if req.PrimaryKeyFilter != nil {
		input = &federation.FilterNode{Input: input, Predicate: req.PrimaryKeyFilter}
	}

	exprs := make([]federation.NamedExpr, 0, len(col.PrimaryKeys)+2)
	for _, pk := range col.PrimaryKeys {
		exprs = append(exprs, federation.NamedExpr{Expr: federation.Col(pk)})
	}
	exprs = append(exprs, federation.NamedExpr{Expr: federation.Col(col.ContentColumn)})
	exprs = append(exprs, federation.NamedExpr{
		Expr: &federation.FunctionExpr{
			Name: "cosine_distance",
			Args: []federation.Expr{federation.Col(col.Column), &federation.VectorLiteral{Values: vec}},
		},
		Alias: distanceColumn,
	})

	// Rank ascending by distance, ties broken by primary-key ordering.
	keys := []federation.SortKey{{Expr: federation.Col(distanceColumn)}}
	for _, pk := range col.PrimaryKeys {
		keys = append(keys, federation.SortKey{Expr: federation.Col(pk)})
	}

	plan := &federation.LimitNode{
		N: req.Limit,
		Input: &federation.SortNode{
			Keys:  keys,
			Input: &federation.ProjectNode{Input: input, Exprs: exprs},
		},
	}

	stream, remotes, err := s.federator.Query(ctx, plan)
	if err != nil {
		return nil, err
	}
	for _, r := range remotes {
		logger.Tracef("vector search %s: %s", col.Table, r.SQL)
	}

	batch, err := stream.Collect(ctx)
	if err != nil {
		return nil, err
	}

	batch = dropNullDistances(batch)
	if col.Chunking != nil && col.Chunking.Enabled {
		batch = groupChunks(batch, len(col.PrimaryKeys))
	}
	return batch, nil
}

// dropNullDistances excludes rows with no embedding.
func dropNullDistances(batch *federation.RecordBatch) *federation.RecordBatch {
	distIdx := batch.Schema.FieldIndex(distanceColumn)
	if distIdx < 0 {
		return batch
	}
	rows := make([][]any, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		if row[distIdx] == nil {
			continue
		}
		rows = append(rows, row)
	}
	return &federation.RecordBatch{Schema: batch.Schema, Rows: rows}
}

// groupChunks folds chunk rows back to one row per original row key, keeping
// the minimum distance and its matching chunk text. Input rows are ordered by
// ascending distance, so the first row seen per key wins and output order is
// preserved.
func groupChunks(batch *federation.RecordBatch, pkCount int) *federation.RecordBatch {
	seen := map[string]bool{}
	rows := make([][]any, 0, len(batch.Rows))
	for _, row := range batch.Rows {
		key := fmt.Sprintf("%v", row[:pkCount])
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}
	return &federation.RecordBatch{Schema: batch.Schema, Rows: rows}
}
