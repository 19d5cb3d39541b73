// Package ragflow provides a top-level convenience entry point for building
// and executing retrieval-augmented workflow graphs with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/ragflow"
//
//	result, err := ragflow.Run(ctx, specs,
//		ragflow.WithInput("query", "what is a vector store?"),
//		ragflow.WithConfig(cfg),
//	)
//
// This is a thin wrapper over [workflow.NewGraph] and [workflow.Executor];
// both produce identical results. Use the workflow package directly when
// you need to reuse a graph or executor across runs.
package ragflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/llm"
	llmcache "github.com/BaSui01/ragflow/llm/cache"
	"github.com/BaSui01/ragflow/rag"
	"github.com/BaSui01/ragflow/workflow"
)

// Option configures a single [Run] invocation.
type Option func(*runOptions)

type runOptions struct {
	cfg     *config.Config
	logger  *zap.Logger
	initial map[string]any
}

// WithConfig overrides the default engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *runOptions) { o.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *runOptions) { o.logger = logger }
}

// WithInput sets one initial input visible to every node.
func WithInput(key string, value any) Option {
	return func(o *runOptions) {
		if o.initial == nil {
			o.initial = make(map[string]any)
		}
		o.initial[key] = value
	}
}

// WithInputs sets all initial inputs at once.
func WithInputs(initial map[string]any) Option {
	return func(o *runOptions) { o.initial = initial }
}

// NewCache builds the content-addressed cache layer on store, with the
// default entry TTL taken from cfg. cfg nil means defaults.
func NewCache(cfg *config.Config, store llmcache.Store, logger *zap.Logger) *llmcache.Cache {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return llmcache.NewCache(store, &llmcache.Config{DefaultTTL: cfg.CacheTTL}, logger)
}

// NewRetriever builds a retrieval pipeline whose similarity threshold and
// context token budget come from cfg. embedCache may be nil to skip
// embedding caching; cfg nil means defaults.
func NewRetriever(cfg *config.Config, embedder llm.EmbeddingProvider, store rag.VectorStore, embedCache *llmcache.Cache, logger *zap.Logger) *rag.Retriever {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	rc := rag.DefaultRetrieverConfig()
	rc.MinScore = cfg.MinSimilarity
	rc.TokenBudget = cfg.ContextTokenBudget
	return rag.NewRetriever(embedder, store, embedCache, rc, logger)
}

// Run validates the node specs into a graph and executes it once.
func Run(ctx context.Context, specs []workflow.NodeSpec, opts ...Option) (*workflow.RunResult, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	graph, err := workflow.NewGraph(specs)
	if err != nil {
		return nil, err
	}
	return workflow.NewExecutor(o.cfg, o.logger).Run(ctx, graph, o.initial)
}
