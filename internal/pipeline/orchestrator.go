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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/llm"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
)

var errEmptyCondensation = errors.New("model returned an empty standalone question")

// Retriever returns the documents relevant to a standalone question, most
// relevant first.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Document, error)
}

// Orchestrator runs the fixed stage sequence of one pipeline. It holds no
// per-request state and may serve any number of concurrent runs.
type Orchestrator struct {
	condenser   llm.CompletionProvider
	generator   llm.CompletionProvider
	retriever   Retriever
	prompts     *Prompts
	institution string
	temperature float64
	maxTokens   int
	contextOpts ContextOptions
	fallback    bool
	observer    func(State)
	logger      *slog.Logger
}

// OrchestratorConfig contains the configuration for creating an orchestrator.
type OrchestratorConfig struct {
	// Condenser rewrites follow-up questions. Defaults to Generator.
	Condenser llm.CompletionProvider
	Generator llm.CompletionProvider
	Retriever Retriever

	// Prompts defaults to the built-in templates.
	Prompts     *Prompts
	Institution string

	Temperature float64
	MaxTokens   int

	Context ContextOptions

	// FallbackToQuestion uses the raw question when condensation fails
	// instead of failing the run.
	FallbackToQuestion bool

	// Observer, if set, is called on every state transition.
	Observer func(State)
	Logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("%w: no completion provider", ErrConfiguration)
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("%w: no retriever", ErrConfiguration)
	}

	condenser := cfg.Condenser
	if condenser == nil {
		condenser = cfg.Generator
	}

	prompts := cfg.Prompts
	if prompts == nil {
		var err error
		if prompts, err = NewPrompts("", ""); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	contextOpts := cfg.Context
	if contextOpts == (ContextOptions{}) {
		contextOpts = DefaultContextOptions()
	}
	if contextOpts.AnswerField == "" {
		contextOpts.AnswerField = config.DefaultAnswerField
	}

	return &Orchestrator{
		condenser:   condenser,
		generator:   cfg.Generator,
		retriever:   cfg.Retriever,
		prompts:     prompts,
		institution: cfg.Institution,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		contextOpts: contextOpts,
		fallback:    cfg.FallbackToQuestion,
		observer:    cfg.Observer,
		logger:      logger,
	}, nil
}

// Run answers question in the context of history, which must not contain
// the question itself. It returns once the first chunk of the answer is
// available; the caller owns the stream and must consume or Close it.
func (o *Orchestrator) Run(
	ctx context.Context,
	question string,
	history []chat.Message,
) (*AnswerStream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, o.fail(StateIdle, ErrMalformedRequest, errors.New("question is required"))
	}
	for i, m := range history {
		if err := m.Validate(); err != nil {
			return nil, o.fail(StateIdle, ErrMalformedRequest, fmt.Errorf("history[%d]: %w", i, err))
		}
	}

	o.transition(StateFormattingHistory)
	formatted := chat.FormatHistory(history)

	o.transition(StateCondensing)
	standalone, err := o.condense(ctx, formatted, question)
	if err != nil {
		return nil, o.fail(StateCondensing, ErrGeneration, err)
	}

	o.transition(StateRetrieving)
	docs, err := o.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return nil, o.fail(StateRetrieving, ErrRetrieval, err)
	}

	o.transition(StateExtractingContext)
	contextBlock := ExtractContext(docs, o.contextOpts)

	o.transition(StateGenerating)
	stream, err := o.generate(ctx, standalone, contextBlock)
	if err != nil {
		return nil, o.fail(StateGenerating, ErrGeneration, err)
	}

	o.transition(StateStreaming)
	o.transition(StateDone)

	o.logger.Debug("pipeline run handed off stream",
		"standalone_question", standalone,
		"documents", len(docs),
	)

	return stream, nil
}

// condense rewrites question into a standalone question.
func (o *Orchestrator) condense(ctx context.Context, history, question string) (string, error) {
	standalone, err := o.callCondenser(ctx, history, question)
	if err == nil {
		return standalone, nil
	}
	if !o.fallback {
		return "", err
	}

	o.logger.Warn("condensation failed, using original question",
		"error", err,
	)
	return question, nil
}

func (o *Orchestrator) callCondenser(ctx context.Context, history, question string) (string, error) {
	prompt, err := o.prompts.RenderCondense(CondenseData{
		History:  history,
		Question: question,
	})
	if err != nil {
		return "", err
	}

	resp, err := o.condenser.Complete(ctx, llm.PromptRequest(prompt, o.temperature, o.maxTokens))
	if err != nil {
		return "", fmt.Errorf("failed to condense question: %w", err)
	}

	standalone := strings.TrimSpace(resp.Content)
	if standalone == "" {
		return "", errEmptyCondensation
	}
	return standalone, nil
}

// generate starts the answer stream and waits for its first chunk, so
// that a model failure before any output is reported by Run.
func (o *Orchestrator) generate(ctx context.Context, question, contextBlock string) (*AnswerStream, error) {
	prompt, err := o.prompts.RenderAnswer(AnswerData{
		Institution: o.institution,
		Context:     contextBlock,
		Question:    question,
	})
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	chunks, errs := o.generator.CompleteStream(genCtx,
		llm.PromptRequest(prompt, o.temperature, o.maxTokens))

	for chunk := range chunks {
		if chunk.Content != "" {
			return newAnswerStream(chunk.Content, chunks, errs, cancel), nil
		}
	}

	// The model finished without producing any text.
	if err := <-errs; err != nil {
		cancel()
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return newAnswerStream("", chunks, errs, cancel), nil
}

func (o *Orchestrator) transition(s State) {
	o.logger.Debug("pipeline state", "state", s.String())
	if o.observer != nil {
		o.observer(s)
	}
}

func (o *Orchestrator) fail(stage State, kind, err error) error {
	o.logger.Debug("pipeline failed",
		"stage", stage.String(),
		"error", err,
	)
	o.transition(StateFailed)
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
