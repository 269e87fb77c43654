package federation

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

const defaultBatchSize = 1024

// SQLExecutor executes dialect SQL over a database/sql connection and streams
// the result in batches. Rows are pulled from the driver only as the consumer
// drains the stream.
type SQLExecutor struct {
	DB        *sql.DB
	BatchSize int
}

func (e *SQLExecutor) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return defaultBatchSize
}

// Execute implements Executor.
func (e *SQLExecutor) Execute(ctx context.Context, sqlText string, schema *Schema) (*BatchStream, error) {
	rows, err := e.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
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
				closeErr := rows.Close()
				if err := rows.Err(); err != nil {
					return nil, err
				}
				if closeErr != nil {
					return nil, closeErr
				}
				break
			}

			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
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

// schemaForColumns derives the stream schema from the driver's column list,
// taking field types from the expected schema where the names match.
func schemaForColumns(cols []string, expected *Schema) *Schema {
	fields := make([]Field, len(cols))
	for i, name := range cols {
		fields[i] = Field{Name: name, Type: TypeUtf8}
		if expected != nil {
			if idx := expected.FieldIndex(name); idx >= 0 {
				fields[i].Type = expected.Fields[idx].Type
			}
		}
	}
	return &Schema{Fields: fields}
}

// normalizeValue converts driver values to the engine's representation.
func normalizeValue(v any, t DataType) any {
	switch raw := v.(type) {
	case []byte:
		s := string(raw)
		if t == TypeFloat32List {
			if vec, err := ParseVector(s); err == nil {
				return vec
			}
		}
		return s
	case string:
		if t == TypeFloat32List {
			if vec, err := ParseVector(raw); err == nil {
				return vec
			}
		}
		return raw
	default:
		return v
	}
}

// ParseVector parses a bracketed vector literal ("[0.1,0.2]") into a float32
// slice.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, oops.Code(errcode.InternalParsing).Errorf("not a vector literal: %q", s)
	}
	var out []float32
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, oops.Code(errcode.InternalParsing).Wrapf(err, "invalid vector literal %q", s)
	}
	return out, nil
}
