// Command spiced runs the data-and-AI serving runtime: federated SQL
// over registered sources, vector search, and an OpenAI-compatible
// model gateway with tool use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flanksource/commons/logger"

	"github.com/nittaya1990/spiced/auth"
	"github.com/nittaya1990/spiced/config"
	"github.com/nittaya1990/spiced/db"
	"github.com/nittaya1990/spiced/federation"
	"github.com/nittaya1990/spiced/llm"
	"github.com/nittaya1990/spiced/runtime"
	"github.com/nittaya1990/spiced/server"
	"github.com/nittaya1990/spiced/tools"
)

// stringList collects repeatable flags.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func main() {
	var (
		addr          = flag.String("addr", ":8090", "HTTP listen address")
		cacheMaxBytes = flag.Int64("cache-max-bytes", 128<<20, "results cache size in bytes, 0 disables")
		sqlitePath    = flag.String("sqlite", "", "path to a SQLite acceleration database")
		postgresConn  = flag.String("postgres", "", "postgres connection string for a federated source")
		embedDim      = flag.Int("local-embed-dim", 384, "dimensions of the local embedding model")
		podPath       = flag.String("spicepod", "", "path to a pod manifest (JSON)")

		toolDirectives stringList
		apiKeys        stringList
	)
	flag.Var(&toolDirectives, "tool", "tool directive, e.g. mcp:https://host/mcp or mcp:/usr/bin/server (repeatable)")
	flag.Var(&apiKeys, "api-key", "API key as <key>:ro or <key>:rw (repeatable)")
	flag.Parse()

	if level := os.Getenv("SPICED_LOG"); level != "" {
		logger.StandardLogger().SetLogLevel(level)
	}

	if err := run(*addr, *cacheMaxBytes, *sqlitePath, *postgresConn, *podPath, *embedDim, toolDirectives, apiKeys); err != nil {
		logger.Fatalf("spiced failed: %v", err)
	}
}

func run(addr string, cacheMaxBytes int64, sqlitePath, postgresConn, podPath string, embedDim int, toolDirectives, apiKeys []string) error {
	ctx := context.Background()

	rt := runtime.New(runtime.Config{CacheMaxBytes: cacheMaxBytes})

	if podPath != "" {
		pod, err := config.Load(podPath)
		if err != nil {
			return err
		}
		if err := applyPod(ctx, rt, pod); err != nil {
			return err
		}
	}

	if postgresConn != "" {
		pool, err := db.NewPgxPool(ctx, postgresConn)
		if err != nil {
			return fmt.Errorf("postgres source: %w", err)
		}
		defer pool.Close()

		source := federation.PostgresSource("postgres", postgresConn, pool)
		rt.AddSource(source)
		if err := registerSourceTables(ctx, rt, source); err != nil {
			return err
		}
		rt.Status.MarkReady("source:postgres")
	}

	if sqlitePath != "" {
		accelerator, err := federation.NewAccelerator(sqlitePath)
		if err != nil {
			return fmt.Errorf("sqlite accelerator: %w", err)
		}
		defer accelerator.Close()

		source := accelerator.Source("accelerator", sqlitePath)
		rt.AddSource(source)
		if err := registerSourceTables(ctx, rt, source); err != nil {
			return err
		}
		rt.Status.MarkReady("source:accelerator")
	}

	embedder, err := llm.NewLocalEmbedder("local-embed", embedDim)
	if err != nil {
		return err
	}
	rt.AddEmbeddingModel(embedder)
	rt.Status.MarkReady("model:local-embed")

	rt.Tools.AddCatalog(tools.NewBuiltinCatalog())
	for _, directive := range toolDirectives {
		id, ok := tools.ParseMCPDirective(directive)
		if !ok {
			return fmt.Errorf("unrecognized tool directive %q", directive)
		}
		catalog := tools.NewMCPCatalog(tools.MCPConfig{Name: directive, ID: id})
		defer catalog.Close()
		rt.Tools.AddCatalog(catalog)
		logger.Infof("registered MCP tool catalog %s", id)
	}

	verifier, err := buildVerifier(apiKeys)
	if err != nil {
		return err
	}

	srv := server.New(server.Config{Addr: addr, Verifier: verifier}, rt)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Infof("shutting down")
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()

	return srv.Start()
}

// registerSourceTables enumerates the source's tables and registers each
// as a ready dataset. Sources that cannot enumerate are left to explicit
// registration.
func registerSourceTables(ctx context.Context, rt *runtime.Runtime, source *federation.Source) error {
	names, err := source.TableNames(ctx)
	if err != nil {
		logger.Warnf("source %s: table enumeration unavailable: %v", source.ID, err)
		return nil
	}
	for _, name := range names {
		ref := federation.ParseTableRef(name)
		if err := rt.AddDataset(ref, source.ID); err != nil {
			return err
		}
		rt.Status.MarkReady("dataset:" + ref.String())
	}
	return nil
}

func buildVerifier(apiKeys []string) (auth.Verifier, error) {
	if len(apiKeys) == 0 {
		return auth.AnonymousVerifier{}, nil
	}
	keys := map[string]auth.KeyAccess{}
	for _, entry := range apiKeys {
		key, access, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid api key %q, expected <key>:ro or <key>:rw", entry)
		}
		switch access {
		case "ro":
			keys[key] = auth.ReadOnly
		case "rw":
			keys[key] = auth.ReadWrite
		default:
			return nil, fmt.Errorf("invalid api key access %q", access)
		}
	}
	return auth.NewAPIKeyVerifier(keys), nil
}
