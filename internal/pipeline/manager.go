//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/database"
	"github.com/pgEdge/pgedge-chat-server/internal/llm/factory"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/weaviate"
)

// StoreOpener connects to the vector store of a pipeline. The returned
// close function releases its connections and may be nil.
type StoreOpener func(ctx context.Context, cfg config.VectorStoreConfig) (retrieval.VectorStore, func(), error)

// Manager manages the lifecycle of pipelines.
type Manager struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	order     []string
	logger    *slog.Logger
}

// Pipeline is a configured pipeline with all clients initialised.
type Pipeline struct {
	name         string
	description  string
	orchestrator *Orchestrator
	closeStore   func()
}

// ManagerConfig contains configuration for creating a Manager.
type ManagerConfig struct {
	Config *config.Config
	Logger *slog.Logger

	// OpenStore connects vector stores; nil uses OpenStore.
	OpenStore StoreOpener

	// Observer is passed to every orchestrator.
	Observer func(State)
}

// NewManager creates a pipeline manager from configuration. Every error is
// an ErrConfiguration.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	openStore := cfg.OpenStore
	if openStore == nil {
		openStore = OpenStore
	}

	m := &Manager{
		pipelines: make(map[string]*Pipeline),
		logger:    logger,
	}

	for _, pCfg := range cfg.Config.Pipelines {
		p, err := m.createPipeline(ctx, pCfg, openStore, cfg.Observer)
		if err != nil {
			// Clean up any already created pipelines
			_ = m.Close()
			return nil, fmt.Errorf("%w: failed to create pipeline %s: %w", ErrConfiguration, pCfg.Name, err)
		}
		m.pipelines[pCfg.Name] = p
		m.order = append(m.order, pCfg.Name)

		logger.Info("pipeline created",
			"name", pCfg.Name,
			"vector_store", pCfg.VectorStore.Provider,
			"collection", pCfg.VectorStore.Collection,
			"embedding_provider", pCfg.EmbeddingLLM.Provider,
			"completion_provider", pCfg.RAGLLM.Provider,
			"condense_provider", pCfg.CondenseLLM.Provider,
		)
	}

	return m, nil
}

// OpenStore connects to a pgvector table or a Weaviate class.
func OpenStore(ctx context.Context, cfg config.VectorStoreConfig) (retrieval.VectorStore, func(), error) {
	switch strings.ToLower(cfg.Provider) {
	case config.StorePGVector, "":
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := database.NewStore(pool, cfg)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case config.StoreWeaviate:
		store, err := weaviate.NewStore(cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown vector store provider: %s", cfg.Provider)
	}
}

// createPipeline creates a single pipeline with all providers initialised.
func (m *Manager) createPipeline(
	ctx context.Context,
	pCfg config.Pipeline,
	openStore StoreOpener,
	observer func(State),
) (*Pipeline, error) {
	pipelineLogger := m.logger.With("pipeline", pCfg.Name)

	// Providers first, so a missing key fails before any connection is made.
	apiKeys, err := config.NewAPIKeyLoader(pCfg.APIKeys).LoadKeysForPipeline(pCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load API keys: %w", err)
	}

	embedder, err := factory.NewEmbeddingProvider(pCfg.EmbeddingLLM, apiKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	generator, err := factory.NewCompletionProvider(pCfg.RAGLLM, apiKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion provider: %w", err)
	}

	condenser := generator
	if !pCfg.CondenseLLM.IsZero() && pCfg.CondenseLLM != pCfg.RAGLLM {
		condenser, err = factory.NewCompletionProvider(pCfg.CondenseLLM, apiKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to create condense provider: %w", err)
		}
	}

	prompts, err := NewPrompts(pCfg.Prompts.Condense, pCfg.Prompts.Answer)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, pCfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	if closeStore == nil {
		closeStore = func() {}
	}

	opts := []retrieval.Option{
		retrieval.WithTopK(pCfg.TopK),
		retrieval.WithLogger(pipelineLogger),
	}
	if pCfg.Search.HybridEnabled {
		opts = append(opts, retrieval.WithHybridRerank(pCfg.Search.Candidates))
	}

	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Condenser:   condenser,
		Generator:   generator,
		Retriever:   retrieval.New(embedder, store, opts...),
		Prompts:     prompts,
		Institution: pCfg.Institution,
		Temperature: pCfg.TemperatureOrZero(),
		MaxTokens:   pCfg.MaxTokens,
		Context: ContextOptions{
			Separator:     pCfg.Context.SeparatorOrDefault(),
			QuestionField: pCfg.Context.QuestionField,
			AnswerField:   pCfg.Context.AnswerField,
		},
		FallbackToQuestion: pCfg.Condense.FallbackToQuestion,
		Observer:           observer,
		Logger:             pipelineLogger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	p := NewPipeline(pCfg.Name, pCfg.Description, orchestrator)
	p.closeStore = closeStore
	return p, nil
}

// NewPipeline wraps an orchestrator as a named pipeline.
func NewPipeline(name, description string, o *Orchestrator) *Pipeline {
	return &Pipeline{
		name:         name,
		description:  description,
		orchestrator: o,
	}
}

// List returns information about all pipelines in configuration order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		p := m.pipelines[name]
		infos = append(infos, Info{
			Name:        p.name,
			Description: p.description,
		})
	}

	return infos
}

// Get retrieves a pipeline by name.
func (m *Manager) Get(name string) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pipelines[name]
	if !ok {
		return nil, ErrPipelineNotFound
	}

	return p, nil
}

// Run answers question on the pipeline. See Orchestrator.Run.
func (p *Pipeline) Run(ctx context.Context, question string, history []chat.Message) (*AnswerStream, error) {
	return p.orchestrator.Run(ctx, question, history)
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string {
	return p.name
}

// Description returns the pipeline description.
func (p *Pipeline) Description() string {
	return p.description
}

// Close releases resources associated with the pipeline.
func (p *Pipeline) Close() {
	if p.closeStore != nil {
		p.closeStore()
	}
}

// Close shuts down the manager and releases resources.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pipelines {
		p.Close()
	}
	m.pipelines = nil
	m.order = nil

	return nil
}
