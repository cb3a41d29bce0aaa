package main

import (
	"fmt"
	"time"

	"github.com/diffsec/knowsync/internal/circuitbreaker"
	"github.com/diffsec/knowsync/internal/embedding"
	"github.com/diffsec/knowsync/internal/project"
	"github.com/diffsec/knowsync/internal/ratelimit"
	"github.com/diffsec/knowsync/internal/store"
	"github.com/diffsec/knowsync/internal/syncengine"
)

// Persistent flags shared by every subcommand that needs to build a stack.
var (
	registryPath      string
	dbPath            string
	embedProviderName string
	embedModel        string
	embedEndpoint     string
)

// stack bundles the components the sync, worker, and mcp subcommands wire
// together: the project registry, the SQLite-backed knowledge store, and
// the SyncEngine that sits on top of both plus an embedding provider and
// a per-project circuit breaker registry.
type stack struct {
	Registry *project.Registry
	Store    *store.SQLiteStore
	Breakers *circuitbreaker.Registry
	Engine   *syncengine.Engine
}

func (s *stack) Close() error {
	return s.Store.Close()
}

// buildStack constructs the shared dependency graph from the persistent
// flags. It is the single place the sync, worker, and mcp paths go through
// (the project subcommands open only the registry), mirroring project.ValidateLocalPath's role as the
// one source of truth for path safety.
func buildStack() (*stack, error) {
	reg, err := project.NewRegistry(registryPath)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", registryPath, err)
	}

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dbPath, err)
	}

	embedCfg, ok := embedding.DefaultConfigs[embedProviderName]
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider %q (valid: ollama, openai)", embedProviderName)
	}
	cfg := *embedCfg
	if embedModel != "" {
		cfg.Model = embedModel
	}
	if embedEndpoint != "" {
		cfg.Endpoint = embedEndpoint
	}
	provider, err := embedding.NewProvider(&cfg)
	if err != nil {
		return nil, fmt.Errorf("build embedding provider: %w", err)
	}

	limiter := ratelimit.New(60, time.Minute)
	embedder := embedding.NewBatchEmbedder(provider, limiter)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig)
	engine := syncengine.New(st, reg, embedder, breakers)

	return &stack{Registry: reg, Store: st, Breakers: breakers, Engine: engine}, nil
}
