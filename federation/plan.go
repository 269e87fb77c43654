package federation

import (
	"context"
)

// Plan is a node in the logical plan tree. The node set is closed: Scan,
// Filter, Project, Join, Sort, Limit, plus the Stream leaf for
// pre-materialized inputs and the Remote node the planner substitutes
// for pushed-down subtrees.
type Plan interface {
	// OutputSchema resolves the node's schema. Resolution may be lazy: a
	// scan consults its source's schema cache on first use.
	OutputSchema(ctx context.Context) (*Schema, error)
	// Children returns the node's inputs.
	Children() []Plan
}

// ScanNode reads a table from its owning source.
type ScanNode struct {
	Table  TableRef
	Source *Source
}

func (n *ScanNode) OutputSchema(ctx context.Context) (*Schema, error) {
	return n.Source.TableSchema(ctx, n.Table)
}

func (n *ScanNode) Children() []Plan { return nil }

// FilterNode keeps rows for which the predicate is true.
type FilterNode struct {
	Input     Plan
	Predicate Expr
}

func (n *FilterNode) OutputSchema(ctx context.Context) (*Schema, error) {
	return n.Input.OutputSchema(ctx)
}

func (n *FilterNode) Children() []Plan { return []Plan{n.Input} }

// ProjectNode computes output expressions.
type ProjectNode struct {
	Input Plan
	Exprs []NamedExpr
}

func (n *ProjectNode) OutputSchema(ctx context.Context) (*Schema, error) {
	in, err := n.Input.OutputSchema(ctx)
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(n.Exprs))
	for i, e := range n.Exprs {
		fields[i] = Field{Name: e.OutputName(), Type: exprType(e.Expr, in)}
	}
	return &Schema{Fields: fields}, nil
}

func (n *ProjectNode) Children() []Plan { return []Plan{n.Input} }

// JoinType is the join variant. Only inner joins participate in push-down.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
)

// JoinNode joins two inputs on equality keys.
type JoinNode struct {
	Left  Plan
	Right Plan
	Type  JoinType
	Keys  []JoinKey
}

func (n *JoinNode) OutputSchema(ctx context.Context) (*Schema, error) {
	left, err := n.Left.OutputSchema(ctx)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.OutputSchema(ctx)
	if err != nil {
		return nil, err
	}
	return left.Merge(right), nil
}

func (n *JoinNode) Children() []Plan { return []Plan{n.Left, n.Right} }

// SortNode orders rows by its keys.
type SortNode struct {
	Input Plan
	Keys  []SortKey
}

func (n *SortNode) OutputSchema(ctx context.Context) (*Schema, error) {
	return n.Input.OutputSchema(ctx)
}

func (n *SortNode) Children() []Plan { return []Plan{n.Input} }

// LimitNode caps the row count.
type LimitNode struct {
	Input Plan
	N     int
}

func (n *LimitNode) OutputSchema(ctx context.Context) (*Schema, error) {
	return n.Input.OutputSchema(ctx)
}

func (n *LimitNode) Children() []Plan { return []Plan{n.Input} }

// StreamNode wraps a pre-materialized stream as a leaf, wiring inputs that
// did not come from a source scan (tool output, collected batches) into
// local execution. It never participates in push-down.
type StreamNode struct {
	Stream *BatchStream
}

func (n *StreamNode) OutputSchema(ctx context.Context) (*Schema, error) {
	return n.Stream.Schema(), nil
}

func (n *StreamNode) Children() []Plan { return nil }

// RemoteNode is a pushed-down subtree: the planner has unparsed Sub into SQL
// in the source's dialect.
type RemoteNode struct {
	Source *Source
	SQL    string
	Sub    Plan
}

func (n *RemoteNode) OutputSchema(ctx context.Context) (*Schema, error) {
	return n.Sub.OutputSchema(ctx)
}

func (n *RemoteNode) Children() []Plan { return nil }

// exprType infers the output type of a projection expression.
func exprType(e Expr, input *Schema) DataType {
	switch t := e.(type) {
	case *ColumnExpr:
		if idx := input.FieldIndex(t.String()); idx >= 0 {
			return input.Fields[idx].Type
		}
		return TypeUtf8
	case *LiteralExpr:
		switch t.Value.(type) {
		case int, int32, int64:
			return TypeInt64
		case float32, float64:
			return TypeFloat64
		case bool:
			return TypeBool
		default:
			return TypeUtf8
		}
	case *VectorLiteral:
		return TypeFloat32List
	case *BinaryExpr:
		switch t.Op {
		case "+", "-", "*", "/":
			return TypeFloat64
		default:
			return TypeBool
		}
	case *FunctionExpr:
		switch t.Name {
		case "cosine_distance":
			return TypeFloat64
		default:
			return TypeUtf8
		}
	default:
		return TypeUtf8
	}
}
