// Package tools hosts the callable tools exposed to chat models: a
// builtin catalog backed by the runtime itself, plus catalogs bridged
// from external MCP servers. Tool invocations run inside the chat
// orchestrator's completion loop.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nittaya1990/spiced/errcode"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/vector"
)

// Runtime is the slice of the serving runtime that tools may touch.
type Runtime interface {
	// Search runs a vector similarity search.
	Search(ctx context.Context, req vector.SearchRequest) (map[string]*federation.RecordBatch, error)
	// Scan starts a plan over a registered table.
	Scan(ref federation.TableRef) (*federation.ScanNode, error)
	// Query executes a plan against the federated engine.
	Query(ctx context.Context, plan federation.Plan) (*federation.BatchStream, []federation.RemoteQuery, error)
	// Readiness reports component id to state name.
	Readiness() map[string]string
}

// Tool is one callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() json.RawMessage
	Strict() bool
	// Call parses argsJSON and runs the tool. The returned value is
	// JSON-marshaled into the tool message.
	Call(ctx context.Context, argsJSON string, rt Runtime) (any, error)
}

// Catalog is a named group of tools.
type Catalog interface {
	Name() string
	All(ctx context.Context) ([]Tool, error)
	Get(ctx context.Context, name string) (Tool, error)
}

// ErrToolNotFound is returned when no catalog carries the named tool.
var ErrToolNotFound = oops.Code(errcode.NotFound).Errorf("tool not found")

// Registry aggregates catalogs. Later catalogs win on name collisions.
type Registry struct {
	mu       sync.RWMutex
	catalogs []Catalog
}

func NewToolRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) AddCatalog(catalog Catalog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogs = append(r.catalogs, catalog)
}

// All returns every tool across catalogs, later catalogs shadowing
// earlier ones, sorted by name.
func (r *Registry) All(ctx context.Context) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := map[string]Tool{}
	for _, catalog := range r.catalogs {
		tools, err := catalog.All(ctx)
		if err != nil {
			return nil, oops.With("catalog", catalog.Name()).Wrap(err)
		}
		for _, tool := range tools {
			byName[tool.Name()] = tool
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out, nil
}

// Get resolves a tool by name, searching catalogs newest-first.
func (r *Registry) Get(ctx context.Context, name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.catalogs) - 1; i >= 0; i-- {
		tool, err := r.catalogs[i].Get(ctx, name)
		if err == nil {
			return tool, nil
		}
	}
	return nil, oops.With("tool", name).Wrap(ErrToolNotFound)
}

// Specs renders the registry as chat tool specs.
func (r *Registry) Specs(ctx context.Context) ([]llm.ToolSpec, error) {
	tools, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, tool := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
			Strict:      tool.Strict(),
		})
	}
	return specs, nil
}

// CallTool invokes a tool inside a tool_use span carrying the tool name
// and raw input. Successful calls record the captured output; failures
// record the error.
func CallTool(ctx context.Context, tool Tool, argsJSON string, rt Runtime) (string, error) {
	ctx, span := otel.Tracer("spiced.tools").Start(ctx, "tool_use",
		trace.WithAttributes(
			attribute.String("tool", tool.Name()),
			attribute.String("input", argsJSON),
		))
	defer span.End()

	result, err := tool.Call(ctx, argsJSON, rt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return "", oops.Code(errcode.InternalParsing).With("tool", tool.Name()).Wrapf(err, "tool output not serializable")
	}

	span.SetAttributes(attribute.String("captured_output", string(encoded)))
	return string(encoded), nil
}
