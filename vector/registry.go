// Package vector implements embedding-based retrieval over federated tables:
// a query is embedded, candidate rows are ranked by a distance expression
// evaluated by the owning source, and chunked rows are folded back to their
// original row by minimum distance.
package vector

import (
	"sort"
	"sync"
)

// Chunking describes how a table's rows were split before embedding. When
// configured, one original row may yield several embedded chunks.
type Chunking struct {
	Enabled bool
	// TargetChunkSize is informational; chunk boundaries are fixed at
	// ingestion time.
	TargetChunkSize int
}

// EmbeddingColumn registers a vector-embedded column of a table. The embedded
// representation is addressable by the table's primary keys.
type EmbeddingColumn struct {
	Table         string
	Column        string
	ContentColumn string
	ModelID       string
	PrimaryKeys   []string
	Chunking      *Chunking
}

// Registry maps tables to their embedding columns. Writes happen during
// startup or refresh; reads are concurrent.
type Registry struct {
	mu      sync.RWMutex
	columns map[string]EmbeddingColumn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{columns: map[string]EmbeddingColumn{}}
}

// Register adds or replaces the embedding column for a table.
func (r *Registry) Register(col EmbeddingColumn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.columns[col.Table] = col
}

// Get returns the embedding column for a table.
func (r *Registry) Get(table string) (EmbeddingColumn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	col, ok := r.columns[table]
	return col, ok
}

// Tables lists every table with a registered embedding column, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.columns))
	for t := range r.columns {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
