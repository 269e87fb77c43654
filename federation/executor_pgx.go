package federation

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxExecutor executes SQL against a postgres source over a pgx pool.
type PgxExecutor struct {
	Pool      *pgxpool.Pool
	BatchSize int
}

func (e *PgxExecutor) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return defaultBatchSize
}

// Execute implements Executor.
func (e *PgxExecutor) Execute(ctx context.Context, sqlText string, schema *Schema) (*BatchStream, error) {
	rows, err := e.Pool.Query(ctx, sqlText)
	if err != nil {
		return nil, err
	}

	descs := rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	actual := schemaForColumns(cols, schema)

	done := false
	return NewBatchStream(actual, func(ctx context.Context) (*RecordBatch, error) {
		if done {
			return nil, io.EOF
		}

		batch := &RecordBatch{Schema: actual}
		for len(batch.Rows) < e.batchSize() {
			if !rows.Next() {
				done = true
				rows.Close()
				if err := rows.Err(); err != nil {
					return nil, err
				}
				break
			}
			values, err := rows.Values()
			if err != nil {
				rows.Close()
				return nil, err
			}
			for i := range values {
				values[i] = normalizeValue(values[i], actual.Fields[i].Type)
			}
			batch.Rows = append(batch.Rows, values)
		}

		if len(batch.Rows) == 0 {
			return nil, io.EOF
		}
		return batch, nil
	}), nil
}

// PostgresSource wraps a pgx pool as a federated source. Sources created from
// the same pool share a compute context so joins between their tables push
// down.
func PostgresSource(id, computeContext string, pool *pgxpool.Pool) *Source {
	return NewSource(id, Postgres(), computeContext, &PgxExecutor{Pool: pool}, &pgSchemaResolver{pool: pool})
}

type pgSchemaResolver struct {
	pool *pgxpool.Pool
}

func (r *pgSchemaResolver) GetTableSchema(ctx context.Context, ref TableRef) (*Schema, error) {
	schemaName := ref.Schema
	if schemaName == "" {
		schemaName = "public"
	}

	rows, err := r.pool.Query(ctx,
		`SELECT column_name, data_type
		   FROM information_schema.columns
		  WHERE table_schema = $1 AND table_name = $2
		  ORDER BY ordinal_position`,
		schemaName, ref.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: name, Type: pgType(dataType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &Schema{Fields: fields}, nil
}

func (r *pgSchemaResolver) TableNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func pgType(dataType string) DataType {
	switch dataType {
	case "integer", "bigint", "smallint":
		return TypeInt64
	case "real", "double precision", "numeric":
		return TypeFloat64
	case "boolean":
		return TypeBool
	case "USER-DEFINED":
		// pgvector columns report as USER-DEFINED.
		return TypeFloat32List
	default:
		return TypeUtf8
	}
}
