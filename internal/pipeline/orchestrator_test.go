//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/llm"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
)

// MockCompletionProvider implements llm.CompletionProvider for testing.
type MockCompletionProvider struct {
	CompleteFunc       func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteStreamFunc func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error)

	mu            sync.Mutex
	completeCalls int
	streamCalls   int
}

func (m *MockCompletionProvider) Complete(
	ctx context.Context,
	req llm.CompletionRequest,
) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.completeCalls++
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &llm.CompletionResponse{Content: "mock response"}, nil
}

func (m *MockCompletionProvider) CompleteStream(
	ctx context.Context,
	req llm.CompletionRequest,
) (<-chan llm.StreamChunk, <-chan error) {
	m.mu.Lock()
	m.streamCalls++
	m.mu.Unlock()

	if m.CompleteStreamFunc != nil {
		return m.CompleteStreamFunc(ctx, req)
	}
	return streamOf(ctx, nil, "mock ", "stream")
}

func (m *MockCompletionProvider) ModelName() string { return "mock-model" }

func (m *MockCompletionProvider) calls() (complete, stream int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeCalls, m.streamCalls
}

// streamOf emits parts then err, the way the real providers do.
func streamOf(ctx context.Context, err error, parts ...string) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)
		defer close(chunkChan)

		for _, p := range parts {
			select {
			case chunkChan <- llm.StreamChunk{Content: p}:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if err != nil {
			errChan <- err
		}
	}()

	return chunkChan, errChan
}

// MockRetriever implements Retriever for testing.
type MockRetriever struct {
	RetrieveFunc func(ctx context.Context, query string) ([]retrieval.Document, error)
}

func (m *MockRetriever) Retrieve(ctx context.Context, query string) ([]retrieval.Document, error) {
	if m.RetrieveFunc != nil {
		return m.RetrieveFunc(ctx, query)
	}
	return nil, nil
}

func lastUserContent(req llm.CompletionRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[len(req.Messages)-1].Content
}

func newTestOrchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg)
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

// Empty history, no documents: generation still runs with an empty context.
func TestRun_EmptyHistoryNoDocuments(t *testing.T) {
	var condensePrompt, answerPrompt string

	condenser := &MockCompletionProvider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			condensePrompt = lastUserContent(req)
			return &llm.CompletionResponse{Content: "  What courses are available?\n"}, nil
		},
	}
	generator := &MockCompletionProvider{
		CompleteStreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
			answerPrompt = lastUserContent(req)
			return streamOf(ctx, nil, "Which programme ", "are you enrolled in?")
		},
	}

	var query string
	retriever := &MockRetriever{
		RetrieveFunc: func(_ context.Context, q string) ([]retrieval.Document, error) {
			query = q
			return nil, nil
		},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Condenser: condenser,
		Generator: generator,
		Retriever: retriever,
	})

	stream, err := o.Run(context.Background(), "What courses are available?", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	answer, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if query != "What courses are available?" {
		t.Errorf("expected trimmed standalone question, got %q", query)
	}
	if !strings.Contains(condensePrompt, "Chat history:\n\n") {
		t.Errorf("expected empty history block in condense prompt:\n%s", condensePrompt)
	}
	if !strings.Contains(answerPrompt, "Context:\n\n\nQuestion: What courses are available?") {
		t.Errorf("expected empty context block in answer prompt:\n%s", answerPrompt)
	}
	if answer != "Which programme are you enrolled in?" {
		t.Errorf("unexpected answer %q", answer)
	}
}

// Prior turns are folded into the standalone question and the answer
// prompt carries the retrieved documents.
func TestRun_HistoryWithDocuments(t *testing.T) {
	history := []chat.Message{
		{Role: chat.RoleUser, Content: "I'm a Bachelor's student"},
		{Role: chat.RoleAssistant, Content: "Which semester?"},
	}
	question := "3rd semester, what electives can I take?"
	standalone := "Which electives can a Bachelor's student take in the 3rd semester?"

	var condensePrompt, answerPrompt string
	provider := &MockCompletionProvider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			condensePrompt = lastUserContent(req)
			return &llm.CompletionResponse{Content: standalone}, nil
		},
		CompleteStreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
			answerPrompt = lastUserContent(req)
			return streamOf(ctx, nil, "You can take ", "Data Mining.")
		},
	}

	retriever := &MockRetriever{
		RetrieveFunc: func(_ context.Context, q string) ([]retrieval.Document, error) {
			if q != standalone {
				t.Errorf("retriever got %q, want standalone question", q)
			}
			return []retrieval.Document{
				{Content: "Electives in semester 3", Metadata: map[string]string{"answer": "Data Mining, Robotics"}},
			}, nil
		},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Generator:   provider,
		Retriever:   retriever,
		Institution: "Example University",
	})

	stream, err := o.Run(context.Background(), question, history)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	answer, err := stream.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	wantHistory := "user: I'm a Bachelor's student\nassistant: Which semester?"
	if !strings.Contains(condensePrompt, wantHistory) {
		t.Errorf("condense prompt missing history:\n%s", condensePrompt)
	}
	if strings.Count(condensePrompt, question) != 1 {
		t.Errorf("current question should appear once, as the follow up:\n%s", condensePrompt)
	}
	if !strings.Contains(answerPrompt, "Question: Electives in semester 3\nSample answer: Data Mining, Robotics") {
		t.Errorf("answer prompt missing context:\n%s", answerPrompt)
	}
	if !strings.Contains(answerPrompt, "Example University") {
		t.Errorf("answer prompt missing institution:\n%s", answerPrompt)
	}
	if answer != "You can take Data Mining." {
		t.Errorf("unexpected answer %q", answer)
	}
}

// Without context options the answer metadata and a blank line separator
// are used.
func TestRun_DefaultContextOptions(t *testing.T) {
	tests := []struct {
		name string
		opts ContextOptions
		want string
	}{
		{
			name: "zero options",
			want: "Question: Q1\nSample answer: A1\n\nQuestion: Q2\nSample answer: A2",
		},
		{
			name: "separator only",
			opts: ContextOptions{Separator: "\n---\n"},
			want: "Question: Q1\nSample answer: A1\n---\nQuestion: Q2\nSample answer: A2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var answerPrompt string
			provider := &MockCompletionProvider{
				CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
					return &llm.CompletionResponse{Content: "standalone"}, nil
				},
				CompleteStreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
					answerPrompt = lastUserContent(req)
					return streamOf(ctx, nil, "ok")
				},
			}
			retriever := &MockRetriever{
				RetrieveFunc: func(_ context.Context, q string) ([]retrieval.Document, error) {
					return []retrieval.Document{
						{Content: "Q1", Metadata: map[string]string{"answer": "A1"}},
						{Content: "Q2", Metadata: map[string]string{"answer": "A2"}},
					}, nil
				},
			}

			o, err := NewOrchestrator(OrchestratorConfig{
				Generator: provider,
				Retriever: retriever,
				Context:   tt.opts,
			})
			if err != nil {
				t.Fatalf("NewOrchestrator failed: %v", err)
			}

			stream, err := o.Run(context.Background(), "question", nil)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if _, err := stream.ReadAll(); err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}

			if !strings.Contains(answerPrompt, tt.want) {
				t.Errorf("answer prompt missing context %q:\n%s", tt.want, answerPrompt)
			}
		})
	}
}

// A retrieval failure ends the run before any answer is generated.
func TestRun_RetrievalFailure(t *testing.T) {
	generator := &MockCompletionProvider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "standalone"}, nil
		},
	}
	connErr := errors.New("dial tcp: connection refused")
	retriever := &MockRetriever{
		RetrieveFunc: func(context.Context, string) ([]retrieval.Document, error) {
			return nil, connErr
		},
	}

	var states []State
	o := newTestOrchestrator(t, OrchestratorConfig{
		Generator: generator,
		Retriever: retriever,
		Observer:  func(s State) { states = append(states, s) },
	})

	stream, err := o.Run(context.Background(), "question", nil)
	if stream != nil {
		t.Error("expected no stream")
	}
	if !errors.Is(err, ErrRetrieval) || !errors.Is(err, connErr) {
		t.Fatalf("expected retrieval failure wrapping the cause, got %v", err)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StateRetrieving {
		t.Errorf("expected StageError in retrieving, got %v", err)
	}
	if _, streams := generator.calls(); streams != 0 {
		t.Errorf("generation must not run after retrieval failure, got %d calls", streams)
	}
	if len(states) == 0 || states[len(states)-1] != StateFailed {
		t.Errorf("expected final state failed, got %v", states)
	}
}

func TestRun_StateSequence(t *testing.T) {
	var states []State
	o := newTestOrchestrator(t, OrchestratorConfig{
		Generator: &MockCompletionProvider{},
		Retriever: &MockRetriever{},
		Observer:  func(s State) { states = append(states, s) },
	})

	stream, err := o.Run(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	stream.Close()

	want := []State{
		StateFormattingHistory,
		StateCondensing,
		StateRetrieving,
		StateExtractingContext,
		StateGenerating,
		StateStreaming,
		StateDone,
	}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestRun_CondensationFailure(t *testing.T) {
	tests := []struct {
		name     string
		resp     *llm.CompletionResponse
		err      error
		fallback bool
		wantErr  bool
	}{
		{name: "model error", err: &llm.Error{Code: llm.ErrCodeRateLimit, Message: "slow down"}, wantErr: true},
		{name: "blank result", resp: &llm.CompletionResponse{Content: "   \n"}, wantErr: true},
		{name: "model error with fallback", err: errors.New("boom"), fallback: true},
		{name: "blank result with fallback", resp: &llm.CompletionResponse{Content: ""}, fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &MockCompletionProvider{
				CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
					return tt.resp, tt.err
				},
			}
			var query string
			retriever := &MockRetriever{
				RetrieveFunc: func(_ context.Context, q string) ([]retrieval.Document, error) {
					query = q
					return nil, nil
				},
			}

			o := newTestOrchestrator(t, OrchestratorConfig{
				Generator:          provider,
				Retriever:          retriever,
				FallbackToQuestion: tt.fallback,
			})

			stream, err := o.Run(context.Background(), "raw question", nil)
			if tt.wantErr {
				if !errors.Is(err, ErrGeneration) {
					t.Fatalf("expected generation failure, got %v", err)
				}
				if query != "" {
					t.Error("retrieval must not run after condensation failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			stream.Close()
			if query != "raw question" {
				t.Errorf("expected fallback to raw question, got %q", query)
			}
		})
	}
}

func TestRun_GenerationFailsBeforeFirstChunk(t *testing.T) {
	apiErr := &llm.Error{Code: llm.ErrCodeInvalidKey, Message: "bad key", StatusCode: 401}
	provider := &MockCompletionProvider{
		CompleteStreamFunc: func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
			return streamOf(ctx, apiErr)
		},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{Generator: provider, Retriever: &MockRetriever{}})

	_, err := o.Run(context.Background(), "question", nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Code != llm.ErrCodeInvalidKey {
		t.Errorf("expected provider error in chain, got %v", err)
	}
}

func TestRun_GenerationFailsMidStream(t *testing.T) {
	provider := &MockCompletionProvider{
		CompleteStreamFunc: func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
			return streamOf(ctx, errors.New("connection reset"), "partial ", "answer")
		},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{Generator: provider, Retriever: &MockRetriever{}})

	stream, err := o.Run(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var got []string
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, ErrGeneration) {
				t.Errorf("expected generation failure, got %v", err)
			}
			break
		}
		got = append(got, chunk)
	}

	if strings.Join(got, "") != "partial answer" {
		t.Errorf("emitted chunks should stand, got %v", got)
	}
}

func TestRun_MalformedRequest(t *testing.T) {
	provider := &MockCompletionProvider{}
	o := newTestOrchestrator(t, OrchestratorConfig{Generator: provider, Retriever: &MockRetriever{}})

	tests := []struct {
		name     string
		question string
		history  []chat.Message
	}{
		{"blank question", "  ", nil},
		{"unknown role", "hi", []chat.Message{{Role: "robot", Content: "beep"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tt.question, tt.history)
			if !errors.Is(err, ErrMalformedRequest) {
				t.Errorf("expected malformed request, got %v", err)
			}
		})
	}

	if complete, stream := provider.calls(); complete+stream != 0 {
		t.Error("no model call expected for malformed requests")
	}
}

func TestRun_RequestParameters(t *testing.T) {
	var requests []llm.CompletionRequest
	var mu sync.Mutex
	record := func(req llm.CompletionRequest) {
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
	}

	provider := &MockCompletionProvider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			record(req)
			return &llm.CompletionResponse{Content: "q"}, nil
		},
		CompleteStreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
			record(req)
			return streamOf(ctx, nil, "a")
		},
	}

	o := newTestOrchestrator(t, OrchestratorConfig{
		Generator:   provider,
		Retriever:   &MockRetriever{},
		Temperature: 0.2,
		MaxTokens:   256,
	})

	stream, err := o.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	stream.Close()

	if len(requests) != 2 {
		t.Fatalf("expected 2 model requests, got %d", len(requests))
	}
	for _, req := range requests {
		if req.Temperature != 0.2 || req.MaxTokens != 256 {
			t.Errorf("unexpected sampling parameters %+v", req)
		}
	}
}

func TestRun_EmptyAnswer(t *testing.T) {
	provider := &MockCompletionProvider{
		CompleteStreamFunc: func(ctx context.Context, _ llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
			return streamOf(ctx, nil)
		},
	}
	o := newTestOrchestrator(t, OrchestratorConfig{Generator: provider, Retriever: &MockRetriever{}})

	stream, err := o.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestNewOrchestrator_MissingClients(t *testing.T) {
	if _, err := NewOrchestrator(OrchestratorConfig{Retriever: &MockRetriever{}}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected configuration error without generator, got %v", err)
	}
	if _, err := NewOrchestrator(OrchestratorConfig{Generator: &MockCompletionProvider{}}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected configuration error without retriever, got %v", err)
	}
}

func TestRun_Concurrent(t *testing.T) {
	provider := &MockCompletionProvider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "standalone"}, nil
		},
	}
	o := newTestOrchestrator(t, OrchestratorConfig{Generator: provider, Retriever: &MockRetriever{}})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := o.Run(context.Background(), "q", nil)
			if err != nil {
				errs <- err
				return
			}
			if _, err := stream.ReadAll(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent run failed: %v", err)
	}
}
