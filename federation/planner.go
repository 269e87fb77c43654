package federation

import (
	"context"

	"github.com/flanksource/commons/logger"
)

// RemoteQuery describes one pushed-down SQL statement, for logging and
// inspection.
type RemoteQuery struct {
	SourceID       string
	ComputeContext string
	SQL            string
}

// Planner splits a logical plan into maximal pushable subtrees and a
// residual local tree.
type Planner struct{}

// Split replaces every maximal pushable subtree with a RemoteNode carrying
// the subtree unparsed into the owning source's dialect. It returns the
// rewritten plan and the remote statements it produced.
func (pl *Planner) Split(ctx context.Context, p Plan) (Plan, []RemoteQuery, error) {
	split, err := pl.splitNode(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	var remotes []RemoteQuery
	collectRemotes(split, &remotes)
	for _, r := range remotes {
		logger.Debugf("federation: pushing to %s (%s): %s", r.SourceID, r.ComputeContext, r.SQL)
	}
	return split, remotes, nil
}

func (pl *Planner) splitNode(ctx context.Context, p Plan) (Plan, error) {
	if src, ok := pushableSource(p); ok {
		sql, err := Unparse(ctx, p, src.Dialect)
		if err == nil {
			return &RemoteNode{Source: src, SQL: sql, Sub: p}, nil
		}
		// Unparse can fail on a subtree the pushability check accepted only
		// if a translator rejects its arguments; fall through and split the
		// children instead.
		logger.Debugf("federation: subtree not unparsable for %s: %v", src.ID, err)
	}

	switch n := p.(type) {
	case *ScanNode, *RemoteNode:
		return p, nil
	case *FilterNode:
		input, err := pl.splitNode(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return &FilterNode{Input: input, Predicate: n.Predicate}, nil
	case *ProjectNode:
		input, err := pl.splitNode(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return &ProjectNode{Input: input, Exprs: n.Exprs}, nil
	case *JoinNode:
		left, err := pl.splitNode(ctx, n.Left)
		if err != nil {
			return nil, err
		}
		right, err := pl.splitNode(ctx, n.Right)
		if err != nil {
			return nil, err
		}
		return &JoinNode{Left: left, Right: right, Type: n.Type, Keys: n.Keys}, nil
	case *SortNode:
		input, err := pl.splitNode(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return &SortNode{Input: input, Keys: n.Keys}, nil
	case *LimitNode:
		input, err := pl.splitNode(ctx, n.Input)
		if err != nil {
			return nil, err
		}
		return &LimitNode{Input: input, N: n.N}, nil
	default:
		return p, nil
	}
}

// pushableSource decides whether an entire subtree can be executed by one
// source, and which one. Operators fuse into one remote subtree iff every
// table they reference shares the same compute context; joins push only when
// both sides share it; any scalar function must have a dialect translator.
func pushableSource(p Plan) (*Source, bool) {
	switch n := p.(type) {
	case *ScanNode:
		return n.Source, true

	case *FilterNode:
		src, ok := pushableSource(n.Input)
		if !ok || !src.Dialect.SupportsFilterPushdown || !exprPushable(n.Predicate, src.Dialect) {
			return nil, false
		}
		return src, true

	case *ProjectNode:
		src, ok := pushableSource(n.Input)
		if !ok || !src.Dialect.SupportsProjectionPushdown {
			return nil, false
		}
		for _, e := range n.Exprs {
			if !exprPushable(e.Expr, src.Dialect) {
				return nil, false
			}
		}
		return src, true

	case *JoinNode:
		if n.Type != JoinInner {
			return nil, false
		}
		left, lok := pushableSource(n.Left)
		right, rok := pushableSource(n.Right)
		if !lok || !rok {
			return nil, false
		}
		if left.ComputeContext == "" || left.ComputeContext != right.ComputeContext {
			return nil, false
		}
		return left, true

	case *SortNode:
		src, ok := pushableSource(n.Input)
		if !ok {
			return nil, false
		}
		for _, k := range n.Keys {
			if !exprPushable(k.Expr, src.Dialect) {
				return nil, false
			}
		}
		return src, true

	case *LimitNode:
		return pushableSource(n.Input)

	default:
		return nil, false
	}
}

// exprPushable reports whether the dialect can render the expression. Scalar
// functions require an explicit translator; everything else is structural.
func exprPushable(e Expr, d *Dialect) bool {
	switch t := e.(type) {
	case *ColumnExpr, *LiteralExpr, *VectorLiteral:
		return true
	case *BinaryExpr:
		return exprPushable(t.Left, d) && exprPushable(t.Right, d)
	case *FunctionExpr:
		if !d.HasFunction(t.Name) {
			return false
		}
		for _, a := range t.Args {
			if !exprPushable(a, d) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func collectRemotes(p Plan, out *[]RemoteQuery) {
	if n, ok := p.(*RemoteNode); ok {
		*out = append(*out, RemoteQuery{
			SourceID:       n.Source.ID,
			ComputeContext: n.Source.ComputeContext,
			SQL:            n.SQL,
		})
		return
	}
	for _, child := range p.Children() {
		collectRemotes(child, out)
	}
}
