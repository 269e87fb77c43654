package federation

import (
	"context"
	"errors"
	"time"

	gocachelib "github.com/eko/gocache/lib/v4/cache"
	gocachestore "github.com/eko/gocache/store/go_cache/v4"
	"github.com/flanksource/commons/logger"
	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/errcode"
)

// ErrTableNamesUnsupported is returned by sources that cannot enumerate
// their tables. Callers must tolerate it.
var ErrTableNamesUnsupported = errors.New("source does not support listing table names")

// Executor runs dialect SQL against a remote source and returns a lazy
// record-batch stream. The stream applies transport-native backpressure: it
// does not pull from the source faster than the consumer drains it.
type Executor interface {
	Execute(ctx context.Context, sql string, schema *Schema) (*BatchStream, error)
}

// SchemaResolver resolves table schemas for a source.
type SchemaResolver interface {
	GetTableSchema(ctx context.Context, ref TableRef) (*Schema, error)
	// TableNames enumerates the source's tables, or returns
	// ErrTableNamesUnsupported.
	TableNames(ctx context.Context) ([]string, error)
}

// Source is a federated compute unit: a dialect, an executor and a compute
// context tag. Two sources sharing a compute context may have a join pushed
// to one of them. Sources live for the process lifetime unless explicitly
// refreshed.
type Source struct {
	ID             string
	Dialect        *Dialect
	ComputeContext string
	Executor       Executor
	Resolver       SchemaResolver

	schemas *gocachelib.Cache[*Schema]
}

// NewSource builds a source with a lazy schema cache.
func NewSource(id string, dialect *Dialect, computeContext string, executor Executor, resolver SchemaResolver) *Source {
	store := gocachestore.NewGoCache(gocache.New(30*time.Minute, time.Hour))
	return &Source{
		ID:             id,
		Dialect:        dialect,
		ComputeContext: computeContext,
		Executor:       executor,
		Resolver:       resolver,
		schemas:        gocachelib.New[*Schema](store),
	}
}

// TableSchema resolves the schema of a table, lazily and cached per source.
func (s *Source) TableSchema(ctx context.Context, ref TableRef) (*Schema, error) {
	key := ref.String()
	if schema, err := s.schemas.Get(ctx, key); err == nil && schema != nil {
		return schema, nil
	}

	schema, err := s.Resolver.GetTableSchema(ctx, ref)
	if err != nil {
		return nil, oops.
			Code(errcode.UpstreamFailure).
			With("source", s.ID).
			With("table", key).
			Wrap(err)
	}

	if err := s.schemas.Set(ctx, key, schema); err != nil {
		logger.Debugf("source %s: failed to cache schema for %s: %v", s.ID, key, err)
	}
	return schema, nil
}

// TableNames enumerates tables when the source supports it.
func (s *Source) TableNames(ctx context.Context) ([]string, error) {
	return s.Resolver.TableNames(ctx)
}

// RefreshSchemas drops the cached schemas so the next use re-resolves them.
func (s *Source) RefreshSchemas(ctx context.Context) error {
	return s.schemas.Clear(ctx)
}
