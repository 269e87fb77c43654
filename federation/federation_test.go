package federation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver serves fixed schemas and counts resolutions.
type staticResolver struct {
	mu      sync.Mutex
	schemas map[string]*Schema
	calls   int
}

func (r *staticResolver) GetTableSchema(ctx context.Context, ref TableRef) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if s, ok := r.schemas[ref.String()]; ok {
		return s, nil
	}
	return nil, ErrTableNamesUnsupported
}

func (r *staticResolver) TableNames(ctx context.Context) ([]string, error) {
	return nil, ErrTableNamesUnsupported
}

// fakeExecutor records executed SQL and serves canned batches.
type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	results  map[string]*RecordBatch
	fallback *RecordBatch
}

func (e *fakeExecutor) Execute(ctx context.Context, sql string, schema *Schema) (*BatchStream, error) {
	e.mu.Lock()
	e.executed = append(e.executed, sql)
	e.mu.Unlock()

	if batch, ok := e.results[sql]; ok {
		return StreamFromBatches(batch.Schema, batch), nil
	}
	if e.fallback != nil {
		return StreamFromBatches(e.fallback.Schema, e.fallback), nil
	}
	return StreamFromBatches(schema, &RecordBatch{Schema: schema}), nil
}

func testSchema(names ...string) *Schema {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n, Type: TypeInt64}
	}
	return &Schema{Fields: fields}
}

func newTestFederator(t *testing.T) (*Federator, *fakeExecutor, *fakeExecutor) {
	t.Helper()
	f := NewFederator()

	pgExec := &fakeExecutor{results: map[string]*RecordBatch{}}
	myExec := &fakeExecutor{results: map[string]*RecordBatch{}}

	pgResolver := &staticResolver{schemas: map[string]*Schema{
		"t1": testSchema("id", "a"),
		"t2": testSchema("id", "b"),
	}}
	myResolver := &staticResolver{schemas: map[string]*Schema{
		"t3": testSchema("id", "c"),
	}}

	f.RegisterSource(NewSource("pg", Postgres(), "pg1", pgExec, pgResolver))
	f.RegisterSource(NewSource("my", MySQL(), "mysql1", myExec, myResolver))
	require.NoError(t, f.RegisterTable(ParseTableRef("t1"), "pg"))
	require.NoError(t, f.RegisterTable(ParseTableRef("t2"), "pg"))
	require.NoError(t, f.RegisterTable(ParseTableRef("t3"), "my"))

	return f, pgExec, myExec
}

func TestSplit_JoinAcrossComputeContexts(t *testing.T) {
	f, _, _ := newTestFederator(t)
	ctx := context.Background()

	t1, err := f.Scan(ParseTableRef("t1"))
	require.NoError(t, err)
	t2, err := f.Scan(ParseTableRef("t2"))
	require.NoError(t, err)
	t3, err := f.Scan(ParseTableRef("t3"))
	require.NoError(t, err)

	// SELECT * FROM t1 JOIN t2 ON t1.id = t2.id JOIN t3 ON t1.id = t3.id
	inner := &JoinNode{Left: t1, Right: t2, Keys: []JoinKey{{Left: Col("t1.id"), Right: Col("t2.id")}}}
	plan := &JoinNode{Left: inner, Right: t3, Keys: []JoinKey{{Left: Col("t1.id"), Right: Col("t3.id")}}}

	var planner Planner
	split, remotes, err := planner.Split(ctx, plan)
	require.NoError(t, err)

	// Exactly two remote SQLs: t1 JOIN t2 fused to pg1, t3 alone to mysql1,
	// with the cross-context join left local.
	require.Len(t, remotes, 2)
	assert.Equal(t, "pg", remotes[0].SourceID)
	assert.Equal(t, `SELECT * FROM "t1" JOIN "t2" ON "t1"."id" = "t2"."id"`, remotes[0].SQL)
	assert.Equal(t, "my", remotes[1].SourceID)
	assert.Equal(t, "SELECT * FROM `t3`", remotes[1].SQL)

	join, ok := split.(*JoinNode)
	require.True(t, ok, "residual plan root should be a local join")
	_, leftRemote := join.Left.(*RemoteNode)
	_, rightRemote := join.Right.(*RemoteNode)
	assert.True(t, leftRemote)
	assert.True(t, rightRemote)
}

func TestSplit_SharedComputeContextIssuesOneRemoteQuery(t *testing.T) {
	f, pgExec, _ := newTestFederator(t)
	ctx := context.Background()

	t1, err := f.Scan(ParseTableRef("t1"))
	require.NoError(t, err)
	t2, err := f.Scan(ParseTableRef("t2"))
	require.NoError(t, err)

	plan := &JoinNode{Left: t1, Right: t2, Keys: []JoinKey{{Left: Col("t1.id"), Right: Col("t2.id")}}}

	stream, remotes, err := f.Query(ctx, plan)
	require.NoError(t, err)
	require.Len(t, remotes, 1)

	_, err = stream.Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, pgExec.executed, 1)
}

func TestSplit_UntranslatableFunctionBlocksPushdown(t *testing.T) {
	f, _, _ := newTestFederator(t)
	ctx := context.Background()

	// mysql has no cosine_distance translator: the filter stays local and
	// only the bare scan is pushed.
	t3, err := f.Scan(ParseTableRef("t3"))
	require.NoError(t, err)

	plan := &FilterNode{
		Input: t3,
		Predicate: &BinaryExpr{
			Op:    "<",
			Left:  &FunctionExpr{Name: "cosine_distance", Args: []Expr{Col("c"), &VectorLiteral{Values: []float32{1, 0}}}},
			Right: Lit(0.5),
		},
	}

	var planner Planner
	split, remotes, err := planner.Split(ctx, plan)
	require.NoError(t, err)
	require.Len(t, remotes, 1)
	assert.Equal(t, "SELECT * FROM `t3`", remotes[0].SQL)

	_, isFilter := split.(*FilterNode)
	assert.True(t, isFilter, "filter with untranslatable function must remain local")
}

func TestUnparse_FullSelect(t *testing.T) {
	src := NewSource("pg", Postgres(), "pg1", &fakeExecutor{}, &staticResolver{schemas: map[string]*Schema{
		"docs": testSchema("id", "score"),
	}})
	scan := &ScanNode{Table: ParseTableRef("docs"), Source: src}

	plan := &LimitNode{
		N: 3,
		Input: &SortNode{
			Keys: []SortKey{{Expr: Col("_dist")}},
			Input: &ProjectNode{
				Exprs: []NamedExpr{
					{Expr: Col("id")},
					{Expr: &FunctionExpr{Name: "cosine_distance", Args: []Expr{Col("embedding"), &VectorLiteral{Values: []float32{0.5, 0.5}}}}, Alias: "_dist"},
				},
				Input: &FilterNode{
					Input:     scan,
					Predicate: Eq(Col("lang"), Lit("en")),
				},
			},
		},
	}

	sql, err := Unparse(context.Background(), plan, Postgres())
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", ("embedding" <=> '[0.5,0.5]') AS "_dist" FROM "docs" WHERE ("lang" = 'en') ORDER BY "_dist" ASC LIMIT 3`,
		sql)
}

func TestLocalExecution_JoinFilterSortLimit(t *testing.T) {
	ctx := context.Background()

	leftSchema := NewSchema(Field{Name: "id", Type: TypeInt64}, Field{Name: "name", Type: TypeUtf8})
	rightSchema := NewSchema(Field{Name: "key", Type: TypeInt64}, Field{Name: "score", Type: TypeFloat64})

	left := StreamFromBatches(leftSchema, &RecordBatch{Schema: leftSchema, Rows: [][]any{
		{int64(1), "a"}, {int64(2), "b"}, {int64(3), "c"},
	}})
	right := StreamFromBatches(rightSchema, &RecordBatch{Schema: rightSchema, Rows: [][]any{
		{int64(2), 0.5}, {int64(1), 0.9}, {int64(4), 0.1},
	}})

	plan := &LimitNode{
		N: 1,
		Input: &SortNode{
			Keys: []SortKey{{Expr: Col("score"), Desc: true}},
			Input: &JoinNode{
				Left:  &StreamNode{Stream: left},
				Right: &StreamNode{Stream: right},
				Keys:  []JoinKey{{Left: Col("id"), Right: Col("key")}},
			},
		},
	}

	result, err := executePlan(ctx, plan)
	require.NoError(t, err)

	out, err := result.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "a", out.Rows[0][1])
	assert.Equal(t, 0.9, out.Rows[0][3])
}

func TestStreamNode_ExecutesAsLeaf(t *testing.T) {
	ctx := context.Background()
	schema := NewSchema(Field{Name: "id", Type: TypeInt64})
	leaf := &StreamNode{Stream: StreamFromBatches(schema, &RecordBatch{Schema: schema, Rows: [][]any{{int64(7)}}})}

	stream, err := executePlan(ctx, leaf)
	require.NoError(t, err)
	out, err := stream.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, int64(7), out.Rows[0][0])
}

func TestSchemaCache_ResolvedLazilyAndOnce(t *testing.T) {
	resolver := &staticResolver{schemas: map[string]*Schema{"t1": testSchema("id")}}
	src := NewSource("pg", Postgres(), "pg1", &fakeExecutor{}, resolver)

	assert.Equal(t, 0, resolver.calls, "schema resolution must be lazy")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := src.TableSchema(ctx, ParseTableRef("t1"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, resolver.calls)

	require.NoError(t, src.RefreshSchemas(ctx))
	_, err := src.TableSchema(ctx, ParseTableRef("t1"))
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.calls)
}

func TestNamespaceRoundTrip(t *testing.T) {
	cases := [][]string{
		{"a"},
		{"a", "b", "c"},
		{"with space", "with/slash", "with%percent"},
		{"ünïcode", "データ"},
	}
	for _, parts := range cases {
		encoded := EncodeNamespace(parts)
		decoded, err := DecodeNamespace(encoded)
		require.NoError(t, err)
		assert.Equal(t, parts, decoded)
	}

	_, err := DecodeNamespace(EncodeNamespace([]string{"a", ""}))
	assert.Error(t, err, "empty namespace parts are rejected")
}

func TestCosineDistance(t *testing.T) {
	d, err := CosineDistance([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)

	d, err = CosineDistance([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-9)

	_, err = CosineDistance([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestParseTableRef(t *testing.T) {
	assert.Equal(t, TableRef{Name: "t"}, ParseTableRef("t"))
	assert.Equal(t, TableRef{Schema: "s", Name: "t"}, ParseTableRef("s.t"))
	assert.Equal(t, TableRef{Catalog: "c", Schema: "s", Name: "t"}, ParseTableRef("c.s.t"))
}
