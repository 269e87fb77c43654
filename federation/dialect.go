package federation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// FuncTranslator renders a scalar function call in a dialect's SQL, given the
// already-rendered argument expressions.
type FuncTranslator func(args []string) (string, error)

// Dialect describes the SQL surface of a federated source: identifier
// quoting, which operators may be pushed down and the scalar functions the
// source can evaluate. A function without a registered translator blocks
// push-down of any subtree containing it.
type Dialect struct {
	Name string

	SupportsFilterPushdown     bool
	SupportsProjectionPushdown bool

	quoteRune   rune
	translators map[string]FuncTranslator
}

// NewDialect returns a dialect with double-quote identifier quoting and
// filter/projection push-down enabled.
func NewDialect(name string) *Dialect {
	return &Dialect{
		Name:                       name,
		SupportsFilterPushdown:     true,
		SupportsProjectionPushdown: true,
		quoteRune:                  '"',
		translators:                map[string]FuncTranslator{},
	}
}

// RegisterFunction adds a translator for a scalar function.
func (d *Dialect) RegisterFunction(name string, t FuncTranslator) *Dialect {
	d.translators[strings.ToLower(name)] = t
	return d
}

// HasFunction reports whether the dialect can translate a scalar function.
func (d *Dialect) HasFunction(name string) bool {
	_, ok := d.translators[strings.ToLower(name)]
	return ok
}

// QuoteIdent quotes an identifier, qualifying dotted names part by part.
func (d *Dialect) QuoteIdent(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = fmt.Sprintf("%c%s%c", d.quoteRune, p, d.quoteRune)
	}
	return strings.Join(parts, ".")
}

// QuoteTable quotes a table reference.
func (d *Dialect) QuoteTable(ref TableRef) string {
	return d.QuoteIdent(ref.String())
}

// RenderLiteral renders a constant in the dialect's SQL.
func (d *Dialect) RenderLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case bool:
		if t {
			return "TRUE"
		}
		return "FALSE"
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// RenderVector renders an embedding vector literal as a bracketed array
// string, the form both pgvector and the local accelerator accept.
func (d *Dialect) RenderVector(values []float32) string {
	var sb strings.Builder
	sb.WriteString("'[")
	for i, v := range values {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteString("]'")
	return sb.String()
}

// TranslateFunction renders a function call, failing when no translator is
// registered.
func (d *Dialect) TranslateFunction(name string, args []string) (string, error) {
	t, ok := d.translators[strings.ToLower(name)]
	if !ok {
		return "", oops.
			Code(errcode.InvalidArgument).
			With("dialect", d.Name).
			Errorf("no translator for function %q in dialect %s", name, d.Name)
	}
	return t(args)
}

// Postgres returns the postgres dialect. cosine_distance translates to the
// pgvector cosine distance operator.
func Postgres() *Dialect {
	d := NewDialect("postgres")
	d.RegisterFunction("cosine_distance", func(args []string) (string, error) {
		if len(args) != 2 {
			return "", fmt.Errorf("cosine_distance expects 2 arguments, got %d", len(args))
		}
		return fmt.Sprintf("(%s <=> %s)", args[0], args[1]), nil
	})
	d.RegisterFunction("lower", passthroughFunc("lower", 1))
	d.RegisterFunction("upper", passthroughFunc("upper", 1))
	return d
}

// SQLite returns the dialect of the local accelerator. cosine_distance is a
// Go-registered scalar function on the sqlite connection.
func SQLite() *Dialect {
	d := NewDialect("sqlite")
	d.RegisterFunction("cosine_distance", passthroughFunc("cosine_distance", 2))
	d.RegisterFunction("lower", passthroughFunc("lower", 1))
	d.RegisterFunction("upper", passthroughFunc("upper", 1))
	return d
}

// MySQL returns the mysql dialect. No vector function translators are
// registered, so vector subtrees are never pushed to mysql sources.
func MySQL() *Dialect {
	d := NewDialect("mysql")
	d.quoteRune = '`'
	d.RegisterFunction("lower", passthroughFunc("lower", 1))
	d.RegisterFunction("upper", passthroughFunc("upper", 1))
	return d
}

func passthroughFunc(name string, arity int) FuncTranslator {
	return func(args []string) (string, error) {
		if len(args) != arity {
			return "", fmt.Errorf("%s expects %d arguments, got %d", name, arity, len(args))
		}
		return fmt.Sprintf("%s(%s)", name, strings.Join(args, ", ")), nil
	}
}
