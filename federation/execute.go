package federation

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// Federator owns the registered sources and executes logical plans across
// them.
type Federator struct {
	planner Planner
	sources map[string]*Source
	// tables maps a table reference to its owning source.
	tables map[string]*Source
}

// NewFederator returns an empty federator.
func NewFederator() *Federator {
	return &Federator{
		sources: map[string]*Source{},
		tables:  map[string]*Source{},
	}
}

// RegisterSource adds a source.
func (f *Federator) RegisterSource(s *Source) {
	f.sources[s.ID] = s
}

// RegisterTable records that a source owns a table.
func (f *Federator) RegisterTable(ref TableRef, sourceID string) error {
	src, ok := f.sources[sourceID]
	if !ok {
		return oops.Code(errcode.NotFound).Errorf("source %q not registered", sourceID)
	}
	f.tables[ref.String()] = src
	return nil
}

// Source returns a registered source by id.
func (f *Federator) Source(id string) (*Source, bool) {
	s, ok := f.sources[id]
	return s, ok
}

// TableSource resolves the source owning a table reference.
func (f *Federator) TableSource(ref TableRef) (*Source, error) {
	if src, ok := f.tables[ref.String()]; ok {
		return src, nil
	}
	return nil, oops.Code(errcode.NotFound).Errorf("no source owns table %q", ref)
}

// Scan builds a scan node for a registered table.
func (f *Federator) Scan(ref TableRef) (*ScanNode, error) {
	src, err := f.TableSource(ref)
	if err != nil {
		return nil, err
	}
	return &ScanNode{Table: ref, Source: src}, nil
}

// Query splits the plan into pushable subtrees and executes it, returning a
// lazy stream over the result. The remote statements issued are returned for
// observability.
func (f *Federator) Query(ctx context.Context, plan Plan) (*BatchStream, []RemoteQuery, error) {
	split, remotes, err := f.planner.Split(ctx, plan)
	if err != nil {
		return nil, nil, err
	}
	stream, err := executePlan(ctx, split)
	if err != nil {
		return nil, nil, err
	}
	return stream, remotes, nil
}

// executePlan runs a split plan: remote nodes stream from their executors,
// residual operators evaluate locally over those streams.
func executePlan(ctx context.Context, p Plan) (*BatchStream, error) {
	switch n := p.(type) {
	case *RemoteNode:
		return executeRemote(ctx, n.Source, n.SQL, n.Sub)

	case *ScanNode:
		// A bare scan that the planner did not fuse still executes remotely.
		sql, err := Unparse(ctx, n, n.Source.Dialect)
		if err != nil {
			return nil, err
		}
		return executeRemote(ctx, n.Source, sql, n)

	case *StreamNode:
		return n.Stream, nil

	case *FilterNode:
		input, err := executePlan(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return filterStream(input, n.Predicate), nil

	case *ProjectNode:
		input, err := executePlan(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		schema, err := n.OutputSchema(ctx)
		if err != nil {
			return nil, err
		}
		return projectStream(input, schema, n.Exprs), nil

	case *JoinNode:
		return executeJoin(ctx, n)

	case *SortNode:
		input, err := executePlan(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return sortStream(ctx, input, n.Keys)

	case *LimitNode:
		input, err := executePlan(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return limitStream(input, n.N), nil

	default:
		return nil, oops.Code(errcode.InternalParsing).Errorf("cannot execute plan node %T", p)
	}
}

func executeRemote(ctx context.Context, src *Source, sql string, sub Plan) (*BatchStream, error) {
	schema, err := sub.OutputSchema(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := src.Executor.Execute(ctx, sql, schema)
	if err != nil {
		return nil, oops.
			Code(errcode.UpstreamFailure).
			With("source", src.ID).
			With("sql", sql).
			Wrapf(err, "source %s failed executing %q", src.ID, sql)
	}
	return adaptSchema(stream, schema)
}

func filterStream(input *BatchStream, pred Expr) *BatchStream {
	schema := input.Schema()
	return NewBatchStream(schema, func(ctx context.Context) (*RecordBatch, error) {
		for {
			batch, err := input.Next(ctx)
			if err != nil {
				return nil, err
			}
			var rows [][]any
			for _, row := range batch.Rows {
				keep, err := evalExpr(pred, schema, row)
				if err != nil {
					return nil, err
				}
				if b, ok := keep.(bool); ok && b {
					rows = append(rows, row)
				}
			}
			if len(rows) > 0 {
				return &RecordBatch{Schema: schema, Rows: rows}, nil
			}
			// All rows filtered out of this batch; pull the next one.
		}
	})
}

func projectStream(input *BatchStream, schema *Schema, exprs []NamedExpr) *BatchStream {
	inSchema := input.Schema()
	return NewBatchStream(schema, func(ctx context.Context) (*RecordBatch, error) {
		batch, err := input.Next(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([][]any, len(batch.Rows))
		for r, row := range batch.Rows {
			out := make([]any, len(exprs))
			for c, e := range exprs {
				v, err := evalExpr(e.Expr, inSchema, row)
				if err != nil {
					return nil, err
				}
				out[c] = v
			}
			rows[r] = out
		}
		return &RecordBatch{Schema: schema, Rows: rows}, nil
	})
}

// executeJoin hash-joins two streams: the right side is materialized, the
// left side streams through.
func executeJoin(ctx context.Context, n *JoinNode) (*BatchStream, error) {
	left, err := executePlan(ctx, n.Left)
	if err != nil {
		return nil, err
	}
	right, err := executePlan(ctx, n.Right)
	if err != nil {
		return nil, err
	}

	rightBatch, err := right.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rightSchema := right.Schema()

	hash := map[string][][]any{}
	for _, row := range rightBatch.Rows {
		key, err := joinKey(n.Keys, rightSchema, row, false)
		if err != nil {
			return nil, err
		}
		hash[key] = append(hash[key], row)
	}

	leftSchema := left.Schema()
	outSchema := leftSchema.Merge(rightSchema)

	return NewBatchStream(outSchema, func(ctx context.Context) (*RecordBatch, error) {
		for {
			batch, err := left.Next(ctx)
			if err != nil {
				return nil, err
			}
			var rows [][]any
			for _, lrow := range batch.Rows {
				key, err := joinKey(n.Keys, leftSchema, lrow, true)
				if err != nil {
					return nil, err
				}
				matches := hash[key]
				if len(matches) == 0 {
					if n.Type == JoinLeft {
						padded := append(append([]any{}, lrow...), make([]any, len(rightSchema.Fields))...)
						rows = append(rows, padded)
					}
					continue
				}
				for _, rrow := range matches {
					rows = append(rows, append(append([]any{}, lrow...), rrow...))
				}
			}
			if len(rows) > 0 {
				return &RecordBatch{Schema: outSchema, Rows: rows}, nil
			}
		}
	}), nil
}

func joinKey(keys []JoinKey, schema *Schema, row []any, leftSide bool) (string, error) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		col := k.Right
		if leftSide {
			col = k.Left
		}
		v, err := evalExpr(col, schema, row)
		if err != nil {
			return "", err
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("%q", parts), nil
}

func sortStream(ctx context.Context, input *BatchStream, keys []SortKey) (*BatchStream, error) {
	schema := input.Schema()
	// Sorting requires full materialization.
	batch, err := input.Collect(ctx)
	if err != nil {
		return nil, err
	}

	var sortErr error
	sort.SliceStable(batch.Rows, func(i, j int) bool {
		for _, k := range keys {
			vi, err := evalExpr(k.Expr, schema, batch.Rows[i])
			if err != nil {
				sortErr = err
				return false
			}
			vj, err := evalExpr(k.Expr, schema, batch.Rows[j])
			if err != nil {
				sortErr = err
				return false
			}
			cmp := compareValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if k.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}

	return StreamFromBatches(schema, batch), nil
}

func limitStream(input *BatchStream, n int) *BatchStream {
	remaining := n
	return NewBatchStream(input.Schema(), func(ctx context.Context) (*RecordBatch, error) {
		if remaining <= 0 {
			return nil, io.EOF
		}
		batch, err := input.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch.Rows) > remaining {
			batch = &RecordBatch{Schema: batch.Schema, Rows: batch.Rows[:remaining]}
		}
		remaining -= len(batch.Rows)
		return batch, nil
	})
}
