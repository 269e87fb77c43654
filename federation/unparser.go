package federation

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// sqlSelect accumulates the clauses of a single SELECT while walking a
// pushable subtree.
type sqlSelect struct {
	projections []string
	from        string
	where       []string
	orderBy     []string
	limit       *int
}

func (s *sqlSelect) render() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(s.projections) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(s.projections, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(s.from)
	if len(s.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(s.where, " AND "))
	}
	if len(s.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(s.orderBy, ", "))
	}
	if s.limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", *s.limit))
	}
	return sb.String()
}

// Unparse serializes a pushable plan subtree back to SQL in the given
// dialect. The planner guarantees the subtree references a single compute
// context; Unparse fails if any expression lacks a dialect translator.
func Unparse(ctx context.Context, p Plan, d *Dialect) (string, error) {
	spec, err := buildSelect(ctx, p, d)
	if err != nil {
		return "", err
	}
	return spec.render(), nil
}

func buildSelect(ctx context.Context, p Plan, d *Dialect) (*sqlSelect, error) {
	switch n := p.(type) {
	case *ScanNode:
		return &sqlSelect{from: d.QuoteTable(n.Table)}, nil

	case *FilterNode:
		spec, err := buildSelect(ctx, n.Input, d)
		if err != nil {
			return nil, err
		}
		pred, err := unparseExpr(n.Predicate, d)
		if err != nil {
			return nil, err
		}
		spec.where = append(spec.where, pred)
		return spec, nil

	case *ProjectNode:
		spec, err := buildSelect(ctx, n.Input, d)
		if err != nil {
			return nil, err
		}
		projections := make([]string, len(n.Exprs))
		for i, e := range n.Exprs {
			rendered, err := unparseExpr(e.Expr, d)
			if err != nil {
				return nil, err
			}
			if e.Alias != "" {
				rendered = fmt.Sprintf("%s AS %s", rendered, d.QuoteIdent(e.Alias))
			}
			projections[i] = rendered
		}
		spec.projections = projections
		return spec, nil

	case *JoinNode:
		left, err := buildSelect(ctx, n.Left, d)
		if err != nil {
			return nil, err
		}
		right, err := buildSelect(ctx, n.Right, d)
		if err != nil {
			return nil, err
		}
		conds := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			l, err := unparseExpr(k.Left, d)
			if err != nil {
				return nil, err
			}
			r, err := unparseExpr(k.Right, d)
			if err != nil {
				return nil, err
			}
			conds[i] = fmt.Sprintf("%s = %s", l, r)
		}
		return &sqlSelect{
			from:  fmt.Sprintf("%s JOIN %s ON %s", left.from, right.from, strings.Join(conds, " AND ")),
			where: append(left.where, right.where...),
		}, nil

	case *SortNode:
		spec, err := buildSelect(ctx, n.Input, d)
		if err != nil {
			return nil, err
		}
		for _, k := range n.Keys {
			rendered, err := unparseExpr(k.Expr, d)
			if err != nil {
				return nil, err
			}
			if k.Desc {
				rendered += " DESC"
			} else {
				rendered += " ASC"
			}
			spec.orderBy = append(spec.orderBy, rendered)
		}
		return spec, nil

	case *LimitNode:
		spec, err := buildSelect(ctx, n.Input, d)
		if err != nil {
			return nil, err
		}
		limit := n.N
		spec.limit = &limit
		return spec, nil

	default:
		return nil, oops.Code(errcode.InternalParsing).Errorf("cannot unparse plan node %T", p)
	}
}

func unparseExpr(e Expr, d *Dialect) (string, error) {
	switch t := e.(type) {
	case *ColumnExpr:
		if t.Relation != "" {
			return d.QuoteIdent(t.Relation) + "." + d.QuoteIdent(t.Name), nil
		}
		return d.QuoteIdent(t.Name), nil

	case *LiteralExpr:
		return d.RenderLiteral(t.Value), nil

	case *VectorLiteral:
		return d.RenderVector(t.Values), nil

	case *BinaryExpr:
		left, err := unparseExpr(t.Left, d)
		if err != nil {
			return "", err
		}
		right, err := unparseExpr(t.Right, d)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, t.Op, right), nil

	case *FunctionExpr:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			rendered, err := unparseExpr(a, d)
			if err != nil {
				return "", err
			}
			args[i] = rendered
		}
		return d.TranslateFunction(t.Name, args)

	default:
		return "", oops.Code(errcode.InternalParsing).Errorf("cannot unparse expression %T", e)
	}
}
