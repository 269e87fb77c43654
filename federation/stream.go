package federation

import (
	"context"
	"io"

	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// RecordBatch is a materialized batch of rows sharing a schema.
type RecordBatch struct {
	Schema *Schema
	Rows   [][]any
}

// NumRows returns the number of rows in the batch.
func (b *RecordBatch) NumRows() int {
	return len(b.Rows)
}

// SizeBytes estimates the in-memory size of the batch. It satisfies the
// results cache's Artifact contract.
func (b *RecordBatch) SizeBytes() int64 {
	var size int64
	for _, row := range b.Rows {
		for _, v := range row {
			switch t := v.(type) {
			case string:
				size += int64(len(t))
			case []float32:
				size += int64(4 * len(t))
			case nil:
				size++
			default:
				size += 8
			}
		}
	}
	return size
}

// BatchStream is a lazy, finite, non-restartable sequence of record batches.
// Next returns io.EOF after the final batch; consumers must not iterate a
// stream twice.
type BatchStream struct {
	schema *Schema
	next   func(ctx context.Context) (*RecordBatch, error)
	closed bool
}

// NewBatchStream builds a stream from a pull function.
func NewBatchStream(schema *Schema, next func(ctx context.Context) (*RecordBatch, error)) *BatchStream {
	return &BatchStream{schema: schema, next: next}
}

// StreamFromBatches returns a stream over pre-materialized batches.
func StreamFromBatches(schema *Schema, batches ...*RecordBatch) *BatchStream {
	i := 0
	return NewBatchStream(schema, func(ctx context.Context) (*RecordBatch, error) {
		if i >= len(batches) {
			return nil, io.EOF
		}
		b := batches[i]
		i++
		return b, nil
	})
}

// Schema returns the stream's schema.
func (s *BatchStream) Schema() *Schema {
	return s.schema
}

// Next pulls the next batch, or io.EOF when the stream is exhausted.
func (s *BatchStream) Next(ctx context.Context) (*RecordBatch, error) {
	if s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, oops.Code(errcode.Cancelled).Wrap(err)
	}
	batch, err := s.next(ctx)
	if err == io.EOF {
		s.closed = true
		return nil, io.EOF
	}
	return batch, err
}

// Collect drains the stream into a single batch.
func (s *BatchStream) Collect(ctx context.Context) (*RecordBatch, error) {
	out := &RecordBatch{Schema: s.schema}
	for {
		batch, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, batch.Rows...)
	}
}

// adaptSchema wraps a remote stream so its batches match the expected schema:
// columns are selected and reordered by name. Remote sources are free to
// return extra or differently-ordered columns.
func adaptSchema(stream *BatchStream, expected *Schema) (*BatchStream, error) {
	actual := stream.Schema()
	mapping := make([]int, len(expected.Fields))
	identity := len(actual.Fields) == len(expected.Fields)
	for i, f := range expected.Fields {
		idx := actual.FieldIndex(f.Name)
		if idx < 0 {
			return nil, oops.
				Code(errcode.InternalParsing).
				With("column", f.Name).
				Errorf("remote result missing column %q", f.Name)
		}
		mapping[i] = idx
		if idx != i {
			identity = false
		}
	}
	if identity {
		return stream, nil
	}

	return NewBatchStream(expected, func(ctx context.Context) (*RecordBatch, error) {
		batch, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([][]any, len(batch.Rows))
		for r, row := range batch.Rows {
			projected := make([]any, len(mapping))
			for c, idx := range mapping {
				projected[c] = row[idx]
			}
			rows[r] = projected
		}
		return &RecordBatch{Schema: expected, Rows: rows}, nil
	}), nil
}
