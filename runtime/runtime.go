// Package runtime composes the serving pieces: federated sources,
// embedding columns, the model gateway, tool catalogs, the results
// cache and the readiness table. The HTTP and Flight surfaces only talk
// to a *Runtime.
package runtime

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/nittaya1990/spiced/auth"
	"github.com/nittaya1990/spiced/cache"
	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/request"
	"github.com/nittaya1990/spiced/status"
	"github.com/nittaya1990/spiced/tools"
	"github.com/nittaya1990/spiced/vector"
)

// Config tunes the runtime.
type Config struct {
	// CacheMaxBytes enables the results cache when positive.
	CacheMaxBytes int64
	// SQLSource is the source id raw SQL statements are routed to.
	// Defaults to the first registered source.
	SQLSource string
	// RateLimitTokens / RateLimitWindowSeconds tune the write limiter.
	// Zero values take the defaults (100 tokens per 60s).
	RateLimitTokens        int
	RateLimitWindowSeconds int

	// Registerer receives all metric families. Defaults to the global
	// prometheus registerer.
	Registerer prometheus.Registerer
}

// Runtime ties the registries together.
type Runtime struct {
	cfg Config

	Status     *status.Registry
	Federator  *federation.Federator
	Embeddings *vector.Registry
	Models     *llm.Registry
	Tools      *tools.Registry
	Results    *cache.ResultsCache
	Limiter    *auth.WriteLimiter

	LLMMetrics *llm.Metrics

	searcher *vector.Searcher
	sources  []string
}

// New builds an empty runtime. Construction order matters: metric
// families register first so every later component can record from its
// first operation, then the status table, then the registries.
func New(cfg Config) *Runtime {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	llmMetrics := llm.NewMetrics(reg)

	var results *cache.ResultsCache
	if cfg.CacheMaxBytes > 0 {
		results = cache.New(cache.Config{MaxSizeBytes: cfg.CacheMaxBytes, Registerer: reg})
	}

	rt := &Runtime{
		cfg:        cfg,
		Status:     status.NewRegistry(),
		Federator:  federation.NewFederator(),
		Embeddings: vector.NewRegistry(),
		Models:     llm.NewRegistry(),
		Tools:      tools.NewToolRegistry(),
		Results:    results,
		Limiter:    auth.NewWriteLimiter(cfg.RateLimitTokens, windowSeconds(cfg.RateLimitWindowSeconds)),
		LLMMetrics: llmMetrics,
	}
	rt.searcher = vector.NewSearcher(rt.Embeddings, rt.Federator, rt.Models)
	return rt
}

// AddSource registers a federated source and tracks it in the status
// table as Initializing until marked ready.
func (r *Runtime) AddSource(src *federation.Source) {
	r.Federator.RegisterSource(src)
	r.sources = append(r.sources, src.ID)
	r.Status.Register("source:" + src.ID)
}

// AddDataset maps a table to a source and registers its readiness entry.
func (r *Runtime) AddDataset(ref federation.TableRef, sourceID string) error {
	if err := r.Federator.RegisterTable(ref, sourceID); err != nil {
		return err
	}
	r.Status.Register("dataset:" + ref.String())
	return nil
}

// AddChatModel registers a chat model, instrumented with the runtime's
// gateway metrics.
func (r *Runtime) AddChatModel(provider llm.ChatProvider) {
	r.Models.RegisterChat(llm.Instrument(provider, r.LLMMetrics))
	r.Status.Register("model:" + provider.Name())
}

// AddEmbeddingModel registers an embedding model.
func (r *Runtime) AddEmbeddingModel(provider llm.EmbeddingProvider) {
	r.Models.RegisterEmbedding(provider)
	r.Status.Register("model:" + provider.Name())
}

// Search runs a vector similarity search.
func (r *Runtime) Search(ctx context.Context, req vector.SearchRequest) (map[string]*federation.RecordBatch, error) {
	return r.searcher.Search(ctx, req)
}

// Scan starts a plan over a registered table.
func (r *Runtime) Scan(ref federation.TableRef) (*federation.ScanNode, error) {
	return r.Federator.Scan(ref)
}

// Query executes a plan against the federated engine.
func (r *Runtime) Query(ctx context.Context, plan federation.Plan) (*federation.BatchStream, []federation.RemoteQuery, error) {
	return r.Federator.Query(ctx, plan)
}

// Readiness reports component id to state name, sorted for stable output.
func (r *Runtime) Readiness() map[string]string {
	out := map[string]string{}
	for id, component := range r.Status.All() {
		out[id] = component.State.String()
	}
	return out
}

// ExecSQL routes a raw SQL statement to the configured SQL source. Read
// statements return the collected result through the results cache; the
// fingerprint covers the statement, the source and its table schemas, so
// cached results are invalidated when a schema changes. Write statements
// require the read_write group, consume a write-limiter token and never
// touch the cache.
func (r *Runtime) ExecSQL(ctx context.Context, sqlText string) (*federation.RecordBatch, cache.Status, error) {
	sqlText = strings.TrimSpace(sqlText)
	if sqlText == "" {
		return nil, cache.StatusDisabled, oops.Code(errcode.InvalidArgument).Errorf("empty SQL statement")
	}

	source, err := r.sqlSource()
	if err != nil {
		return nil, cache.StatusDisabled, err
	}

	execute := func(ctx context.Context) (cache.Artifact, error) {
		stream, err := source.Executor.Execute(ctx, sqlText, nil)
		if err != nil {
			return nil, oops.Code(errcode.UpstreamFailure).With("source", source.ID).Wrap(err)
		}
		return stream.Collect(ctx)
	}

	if IsWriteStatement(sqlText) {
		// Principals arrive through the protocol edge; internal callers
		// carry none and are trusted.
		if principal := request.FromContext(ctx).Principal(); principal != nil {
			if err := auth.RequireWrite(*principal); err != nil {
				return nil, cache.StatusDisabled, err
			}
		}
		if err := r.Limiter.Allow(); err != nil {
			return nil, cache.StatusDisabled, err
		}
		artifact, err := execute(ctx)
		if err != nil {
			return nil, cache.StatusDisabled, err
		}
		return artifact.(*federation.RecordBatch), cache.StatusDisabled, nil
	}

	key := cache.NewFingerprint(sqlText, nil, r.schemaDigest(ctx, source), source.ID)
	artifact, cacheStatus, err := r.Results.GetOrCompute(ctx, key, execute)
	if err != nil {
		return nil, cacheStatus, err
	}
	return artifact.(*federation.RecordBatch), cacheStatus, nil
}

// readVerbs are the statement keywords served from the results cache.
// Everything else is treated as a write.
var readVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true,
	"SHOW": true, "EXPLAIN": true, "DESCRIBE": true,
}

// IsWriteStatement classifies a SQL statement by its leading keyword.
func IsWriteStatement(sqlText string) bool {
	fields := strings.Fields(sqlText)
	if len(fields) == 0 {
		return false
	}
	return !readVerbs[strings.ToUpper(fields[0])]
}

func (r *Runtime) sqlSource() (*federation.Source, error) {
	id := r.cfg.SQLSource
	if id == "" && len(r.sources) > 0 {
		id = r.sources[0]
	}
	source, ok := r.Federator.Source(id)
	if !ok {
		return nil, oops.Code(errcode.NotReady).With("source", id).Errorf("no SQL source configured")
	}
	return source, nil
}

// schemaDigest combines the schema digests of the source's registered
// tables. Unresolvable schemas contribute nothing; the fingerprint is
// then keyed on statement and source alone.
func (r *Runtime) schemaDigest(ctx context.Context, source *federation.Source) string {
	names, err := source.TableNames(ctx)
	if err != nil {
		return ""
	}
	sort.Strings(names)

	var digests []string
	for _, name := range names {
		schema, err := source.TableSchema(ctx, federation.ParseTableRef(name))
		if err != nil {
			continue
		}
		digests = append(digests, schema.Digest())
	}
	return strings.Join(digests, ",")
}

func windowSeconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
