package federation

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// Expr is a scalar expression appearing in filters, projections and sort keys.
type Expr interface {
	String() string
}

// ColumnExpr references a column, optionally qualified by relation.
type ColumnExpr struct {
	Relation string
	Name     string
}

func Col(name string) *ColumnExpr {
	if idx := strings.Index(name, "."); idx >= 0 {
		return &ColumnExpr{Relation: name[:idx], Name: name[idx+1:]}
	}
	return &ColumnExpr{Name: name}
}

func (e *ColumnExpr) String() string {
	if e.Relation != "" {
		return e.Relation + "." + e.Name
	}
	return e.Name
}

// LiteralExpr is a constant value.
type LiteralExpr struct {
	Value any
}

func Lit(v any) *LiteralExpr { return &LiteralExpr{Value: v} }

func (e *LiteralExpr) String() string { return fmt.Sprintf("%v", e.Value) }

// VectorLiteral is an embedding vector constant, produced by the vector
// search layer.
type VectorLiteral struct {
	Values []float32
}

func (e *VectorLiteral) String() string { return fmt.Sprintf("vector[%d]", len(e.Values)) }

// BinaryExpr applies an operator to two operands. Supported operators:
// comparison (=, !=, <, <=, >, >=), arithmetic (+, -, *, /) and AND/OR.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func Eq(l, r Expr) *BinaryExpr  { return &BinaryExpr{Op: "=", Left: l, Right: r} }
func And(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "AND", Left: l, Right: r} }

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

// FunctionExpr calls a scalar function. Push-down requires a dialect-level
// translator for the function name.
type FunctionExpr struct {
	Name string
	Args []Expr
}

func (e *FunctionExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Name, strings.Join(args, ", "))
}

// NamedExpr is a projection item with an output alias.
type NamedExpr struct {
	Expr  Expr
	Alias string
}

// OutputName returns the alias, or the expression's natural name.
func (n NamedExpr) OutputName() string {
	if n.Alias != "" {
		return n.Alias
	}
	if col, ok := n.Expr.(*ColumnExpr); ok {
		return col.Name
	}
	return n.Expr.String()
}

// SortKey orders results by an expression.
type SortKey struct {
	Expr Expr
	Desc bool
}

// JoinKey equates a left column with a right column.
type JoinKey struct {
	Left  *ColumnExpr
	Right *ColumnExpr
}

// evalExpr evaluates an expression against a row.
func evalExpr(e Expr, schema *Schema, row []any) (any, error) {
	switch t := e.(type) {
	case *ColumnExpr:
		name := t.Name
		if t.Relation != "" {
			if idx := schema.FieldIndex(t.Relation + "." + t.Name); idx >= 0 {
				return row[idx], nil
			}
		}
		idx := schema.FieldIndex(name)
		if idx < 0 {
			return nil, oops.Code(errcode.NotFound).Errorf("column %q not found", t.String())
		}
		return row[idx], nil

	case *LiteralExpr:
		return t.Value, nil

	case *VectorLiteral:
		return t.Values, nil

	case *BinaryExpr:
		left, err := evalExpr(t.Left, schema, row)
		if err != nil {
			return nil, err
		}
		right, err := evalExpr(t.Right, schema, row)
		if err != nil {
			return nil, err
		}
		return applyBinary(t.Op, left, right)

	case *FunctionExpr:
		args := make([]any, len(t.Args))
		for i, a := range t.Args {
			v, err := evalExpr(a, schema, row)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return callScalarFunction(t.Name, args)

	default:
		return nil, oops.Code(errcode.InvalidArgument).Errorf("unsupported expression %T", e)
	}
}

func applyBinary(op string, left, right any) (any, error) {
	switch op {
	case "AND", "OR":
		l, lok := left.(bool)
		r, rok := right.(bool)
		if !lok || !rok {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("%s requires boolean operands", op)
		}
		if op == "AND" {
			return l && r, nil
		}
		return l || r, nil
	case "=":
		return compareValues(left, right) == 0, nil
	case "!=":
		return compareValues(left, right) != 0, nil
	case "<":
		return compareValues(left, right) < 0, nil
	case "<=":
		return compareValues(left, right) <= 0, nil
	case ">":
		return compareValues(left, right) > 0, nil
	case ">=":
		return compareValues(left, right) >= 0, nil
	case "+", "-", "*", "/":
		l, lok := toFloat(left)
		r, rok := toFloat(right)
		if !lok || !rok {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("%s requires numeric operands", op)
		}
		switch op {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		default:
			return l / r, nil
		}
	default:
		return nil, oops.Code(errcode.InvalidArgument).Errorf("unsupported operator %q", op)
	}
}

// compareValues orders two values: numerics numerically, everything else as
// strings. Nil sorts last so absent values never displace ranked rows.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func toVector(v any) ([]float32, bool) {
	switch t := v.(type) {
	case []float32:
		return t, true
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out, true
	default:
		return nil, false
	}
}

// callScalarFunction evaluates the scalar functions the local engine knows.
func callScalarFunction(name string, args []any) (any, error) {
	switch strings.ToLower(name) {
	case "cosine_distance":
		if len(args) != 2 {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("cosine_distance expects 2 arguments, got %d", len(args))
		}
		// A row with no embedding has no distance; it is excluded downstream.
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		a, aok := toVector(args[0])
		b, bok := toVector(args[1])
		if !aok || !bok {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("cosine_distance expects vector arguments")
		}
		return CosineDistance(a, b)
	case "lower":
		if len(args) != 1 {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("lower expects 1 argument")
		}
		s, _ := args[0].(string)
		return strings.ToLower(s), nil
	case "upper":
		if len(args) != 1 {
			return nil, oops.Code(errcode.InvalidArgument).Errorf("upper expects 1 argument")
		}
		s, _ := args[0].(string)
		return strings.ToUpper(s), nil
	default:
		return nil, oops.Code(errcode.NotFound).Errorf("unknown scalar function %q", name)
	}
}

// CosineDistance computes 1 - cosine similarity between two equal-length
// vectors.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, oops.Code(errcode.InvalidArgument).Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
}
