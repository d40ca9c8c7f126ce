//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/llm"
	"github.com/pgEdge/pgedge-chat-server/internal/pipeline"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
	"github.com/pgEdge/pgedge-chat-server/internal/session"
)

// mockProvider implements llm.CompletionProvider for testing.
type mockProvider struct {
	mu        sync.Mutex
	prompts   []string
	parts     []string
	streamErr error
}

func (m *mockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, req.Messages[len(req.Messages)-1].Content)
	m.mu.Unlock()
	return &llm.CompletionResponse{Content: "What are the fees?"}, nil
}

func (m *mockProvider) CompleteStream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)
		for _, part := range m.parts {
			select {
			case chunks <- llm.StreamChunk{Content: part}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if m.streamErr != nil {
			errs <- m.streamErr
		}
	}()

	return chunks, errs
}

func (m *mockProvider) ModelName() string { return "mock" }

func (m *mockProvider) condensePrompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// mockRetriever returns fixed documents or an error.
type mockRetriever struct {
	docs []retrieval.Document
	err  error
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string) ([]retrieval.Document, error) {
	return m.docs, m.err
}

// mockPipelineManager implements PipelineManager for testing.
type mockPipelineManager struct {
	pipelines map[string]*pipeline.Pipeline
}

func (m *mockPipelineManager) List() []pipeline.Info {
	return []pipeline.Info{{Name: "admissions", Description: "Admissions FAQ"}}
}

func (m *mockPipelineManager) Get(name string) (*pipeline.Pipeline, error) {
	p, ok := m.pipelines[name]
	if !ok {
		return nil, pipeline.ErrPipelineNotFound
	}
	return p, nil
}

// memorySessions implements SessionStore in memory.
type memorySessions struct {
	mu       sync.Mutex
	sessions map[string][]chat.Message
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: make(map[string][]chat.Message)}
}

func (m *memorySessions) Create(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "0b6c6f7e-8d3a-4a8e-9a59-3f0f4c1c2d11"
	m.sessions[id] = nil
	return id, nil
}

func (m *memorySessions) Load(ctx context.Context, id string) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return append([]chat.Message(nil), msgs...), nil
}

func (m *memorySessions) Append(ctx context.Context, id string, messages ...chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return session.ErrSessionNotFound
	}
	m.sessions[id] = append(m.sessions[id], messages...)
	return nil
}

func (m *memorySessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return session.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddress: "127.0.0.1",
			Port:          8080,
		},
	}
}

type fixture struct {
	provider  *mockProvider
	retriever *mockRetriever
	sessions  *memorySessions
	handler   http.Handler
}

func newFixture(t *testing.T, withSessions bool) *fixture {
	t.Helper()

	f := &fixture{
		provider: &mockProvider{parts: []string{"Fees are ", "EUR 500."}},
		retriever: &mockRetriever{docs: []retrieval.Document{{
			Content:  "How much are the fees?",
			Metadata: map[string]string{"answer": "EUR 500 per semester."},
		}}},
	}

	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Generator: f.provider,
		Retriever: f.retriever,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	pm := &mockPipelineManager{pipelines: map[string]*pipeline.Pipeline{
		"admissions": pipeline.NewPipeline("admissions", "Admissions FAQ", o),
	}}

	var sessions SessionStore
	if withSessions {
		f.sessions = newMemorySessions()
		sessions = f.sessions
	}

	f.handler = New(testConfig(), pm, sessions, nil).Handler()
	return f
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

// readEvents parses an SSE body into events.
func readEvents(t *testing.T, body string) []StreamEvent {
	t.Helper()

	var events []StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", resp.Status)
	}
	if w.Header().Get("Link") == "" {
		t.Error("expected Link header")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodPost, "/v1/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
	if code := decodeError(t, w).Code; code != "METHOD_NOT_ALLOWED" {
		t.Errorf("unexpected error code %s", code)
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/v1/nothing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if code := decodeError(t, w).Code; code != "NOT_FOUND" {
		t.Errorf("unexpected error code %s", code)
	}
}

func TestListPipelines(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/v1/pipelines", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp PipelinesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Pipelines) != 1 || resp.Pipelines[0].Name != "admissions" {
		t.Errorf("unexpected pipelines %+v", resp.Pipelines)
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/v1/openapi.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var spec OpenAPISpec
	if err := json.NewDecoder(w.Body).Decode(&spec); err != nil {
		t.Fatalf("failed to decode spec: %v", err)
	}
	for _, path := range []string{"/health", "/pipelines", "/pipelines/{name}/chat", "/sessions", "/sessions/{id}"} {
		if _, ok := spec.Paths[path]; !ok {
			t.Errorf("spec is missing path %s", path)
		}
	}
}

func TestChat_StreamsEvents(t *testing.T) {
	f := newFixture(t, false)

	body := `{"messages":[
		{"role":"User","content":"Tell me about the MSc."},
		{"role":"assistant","content":"It is a two year programme."},
		{"role":"user","content":"How much does it cost?"}]}`
	w := f.do(http.MethodPost, "/v1/pipelines/admissions/chat", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %s", ct)
	}

	events := readEvents(t, w.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].Content+events[1].Content != "Fees are EUR 500." {
		t.Errorf("unexpected answer %+v", events)
	}
	if events[2].Type != "done" {
		t.Errorf("expected done event, got %+v", events[2])
	}

	prompts := f.provider.condensePrompts()
	if len(prompts) != 1 {
		t.Fatalf("expected one condensation, got %d", len(prompts))
	}
	if !strings.Contains(prompts[0], "user: Tell me about the MSc.") {
		t.Errorf("history roles should be normalised, got %q", prompts[0])
	}
	if strings.Contains(prompts[0], "user: How much does it cost?") {
		t.Errorf("current message should not be part of the history: %q", prompts[0])
	}
}

func TestChat_PlainText(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodPost, "/v1/pipelines/admissions/chat",
		`{"question":"How much are the fees?"}`, "Accept", "text/plain")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %s", w.Header().Get("Content-Type"))
	}
	if w.Body.String() != "Fees are EUR 500." {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestChat_MidStreamError(t *testing.T) {
	f := newFixture(t, false)
	f.provider.streamErr = errors.New("connection reset")

	w := f.do(http.MethodPost, "/v1/pipelines/admissions/chat", `{"question":"Fees?"}`)

	events := readEvents(t, w.Body.String())
	last := events[len(events)-1]
	if last.Type != "error" || !strings.Contains(last.Error, "connection reset") {
		t.Errorf("expected trailing error event, got %+v", events)
	}
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		setup    func(f *fixture)
		wantCode int
		wantErr  string
	}{
		{
			name:     "unknown pipeline",
			path:     "/v1/pipelines/missing/chat",
			body:     `{"question":"hi"}`,
			wantCode: http.StatusNotFound,
			wantErr:  "PIPELINE_NOT_FOUND",
		},
		{
			name:     "invalid JSON",
			body:     `{"question":`,
			wantCode: http.StatusBadRequest,
			wantErr:  "INVALID_REQUEST",
		},
		{
			name:     "no question",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "MALFORMED_REQUEST",
		},
		{
			name:     "unknown role",
			body:     `{"messages":[{"role":"robot","content":"hi"}]}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "MALFORMED_REQUEST",
		},
		{
			name:     "sessions disabled",
			body:     `{"question":"hi","session_id":"0b6c6f7e-8d3a-4a8e-9a59-3f0f4c1c2d11"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  "SESSIONS_DISABLED",
		},
		{
			name: "retrieval failure",
			body: `{"question":"hi"}`,
			setup: func(f *fixture) {
				f.retriever.err = errors.New("index offline")
			},
			wantCode: http.StatusBadGateway,
			wantErr:  "RETRIEVAL_FAILED",
		},
		{
			name: "generation failure",
			body: `{"question":"hi"}`,
			setup: func(f *fixture) {
				f.provider.parts = nil
				f.provider.streamErr = errors.New("model overloaded")
			},
			wantCode: http.StatusBadGateway,
			wantErr:  "GENERATION_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			if tt.setup != nil {
				tt.setup(f)
			}
			path := tt.path
			if path == "" {
				path = "/v1/pipelines/admissions/chat"
			}

			w := f.do(http.MethodPost, path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if code := decodeError(t, w).Code; code != tt.wantErr {
				t.Errorf("expected error code %s, got %s", tt.wantErr, code)
			}
		})
	}
}

func TestSessions_Conversation(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(http.MethodPost, "/v1/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	var created SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	body := `{"question":"How much are the fees?","session_id":"` + created.SessionID + `"}`
	w = f.do(http.MethodPost, "/v1/pipelines/admissions/chat", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	stored, _ := f.sessions.Load(context.Background(), created.SessionID)
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored messages, got %+v", stored)
	}
	if stored[0].Role != chat.RoleUser || stored[0].Content != "How much are the fees?" {
		t.Errorf("unexpected user turn %+v", stored[0])
	}
	if stored[1].Role != chat.RoleAssistant || stored[1].Content != "Fees are EUR 500." {
		t.Errorf("unexpected assistant turn %+v", stored[1])
	}

	// The stored turns become history for the follow-up.
	body = `{"question":"And for international students?","session_id":"` + created.SessionID + `"}`
	f.do(http.MethodPost, "/v1/pipelines/admissions/chat", body)

	prompts := f.provider.condensePrompts()
	if !strings.Contains(prompts[len(prompts)-1], "assistant: Fees are EUR 500.") {
		t.Errorf("expected session history in condense prompt, got %q", prompts[len(prompts)-1])
	}

	w = f.do(http.MethodDelete, "/v1/sessions/"+created.SessionID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	w = f.do(http.MethodDelete, "/v1/sessions/"+created.SessionID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestSessions_UnknownSession(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(http.MethodPost, "/v1/pipelines/admissions/chat",
		`{"question":"hi","session_id":"nope"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if code := decodeError(t, w).Code; code != "SESSION_NOT_FOUND" {
		t.Errorf("unexpected error code %s", code)
	}
}

func TestSessions_Disabled(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodPost, "/v1/sessions", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, false)

	w := f.do(http.MethodGet, "/v1/health", "")
	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a generated request ID")
	}

	const id = "5f1d7c3a-2b4e-4f6a-8c9d-0e1f2a3b4c5d"
	w = f.do(http.MethodGet, "/v1/health", "", RequestIDHeader, id)
	if got := w.Header().Get(RequestIDHeader); got != id {
		t.Errorf("expected request ID %s to be kept, got %s", id, got)
	}

	w = f.do(http.MethodGet, "/v1/health", "", RequestIDHeader, "not-a-uuid")
	if got := w.Header().Get(RequestIDHeader); got == "not-a-uuid" {
		t.Error("invalid request ID should be replaced")
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://example.edu", "*"},
		{"listed origin", []string{"https://example.edu"}, "https://example.edu", "https://example.edu"},
		{"unlisted origin", []string{"https://example.edu"}, "https://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Server.CORS = config.CORSConfig{Enabled: true, AllowedOrigins: tt.allowed}
			handler := New(cfg, &mockPipelineManager{}, nil, nil).Handler()

			req := httptest.NewRequest(http.MethodOptions, "/v1/pipelines/admissions/chat", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("expected status %d, got %d", http.StatusNoContent, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("expected allowed origin %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	srv := New(testConfig(), &mockPipelineManager{}, nil, nil)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}
