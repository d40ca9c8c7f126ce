//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

// CompletionProvider implements the llm.CompletionProvider interface.
type CompletionProvider struct {
	client      *Client
	model       string
	temperature float64
	maxTokens   int
}

// NewCompletionProvider creates a new Ollama completion provider.
func NewCompletionProvider(opts ...CompletionOption) *CompletionProvider {
	p := &CompletionProvider{
		client:      NewClient(),
		model:       defaultChatModel,
		temperature: 0,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CompletionOption configures the completion provider.
type CompletionOption func(*CompletionProvider)

// WithCompletionModel sets the chat model.
func WithCompletionModel(model string) CompletionOption {
	return func(p *CompletionProvider) {
		p.model = model
	}
}

// WithTemperature sets the default temperature.
func WithTemperature(temp float64) CompletionOption {
	return func(p *CompletionProvider) {
		p.temperature = temp
	}
}

// WithMaxTokens caps generated tokens (num_predict). Zero leaves the
// model default in place.
func WithMaxTokens(tokens int) CompletionOption {
	return func(p *CompletionProvider) {
		p.maxTokens = tokens
	}
}

// WithCompletionClient sets a custom client.
func WithCompletionClient(client *Client) CompletionOption {
	return func(p *CompletionProvider) {
		p.client = client
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatResponse is both the non-streaming body and one NDJSON stream line.
type chatResponse struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

func (r *chatResponse) finishReason() string {
	if !r.Done {
		return ""
	}
	if r.DoneReason != "" {
		return r.DoneReason
	}
	return "stop"
}

func (r *chatResponse) usage() llm.TokenUsage {
	return llm.TokenUsage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

// Complete generates a non-streaming completion.
func (p *CompletionProvider) Complete(
	ctx context.Context,
	req llm.CompletionRequest,
) (*llm.CompletionResponse, error) {
	var out chatResponse
	if err := p.client.postJSON(ctx, "/api/chat", p.buildRequest(req, false), &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &llm.Error{Code: llm.ErrCodeModelError, Message: out.Error}
	}

	return &llm.CompletionResponse{
		Content:      out.Message.Content,
		FinishReason: out.finishReason(),
		Usage:        out.usage(),
	}, nil
}

// CompleteStream generates a streaming completion. Ollama streams
// newline-delimited JSON objects, the last of which has done=true.
func (p *CompletionProvider) CompleteStream(
	ctx context.Context,
	req llm.CompletionRequest,
) (<-chan llm.StreamChunk, <-chan error) {
	chunkChan := make(chan llm.StreamChunk)
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)
		defer close(chunkChan)

		resp, err := p.client.post(ctx, "/api/chat", p.buildRequest(req, true))
		if err != nil {
			errChan <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()

		dec := json.NewDecoder(resp.Body)
		for {
			var line chatResponse
			if err := dec.Decode(&line); err != nil {
				if errors.Is(err, io.EOF) {
					errChan <- fmt.Errorf("stream ended before completion")
					return
				}
				if ctx.Err() != nil {
					errChan <- ctx.Err()
					return
				}
				errChan <- fmt.Errorf("stream read error: %w", err)
				return
			}
			if line.Error != "" {
				errChan <- &llm.Error{Code: llm.ErrCodeModelError, Message: line.Error}
				return
			}

			chunk := llm.StreamChunk{
				Content:      line.Message.Content,
				FinishReason: line.finishReason(),
			}
			if line.Done {
				usage := line.usage()
				chunk.Usage = &usage
			}

			select {
			case chunkChan <- chunk:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}

			if line.Done {
				return
			}
		}
	}()

	return chunkChan, errChan
}

func (p *CompletionProvider) buildRequest(req llm.CompletionRequest, stream bool) chatRequest {
	temperature := p.temperature
	if req.Temperature >= 0 {
		temperature = req.Temperature
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	return chatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
		Options: chatOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
		},
	}
}

// ModelName returns the model name.
func (p *CompletionProvider) ModelName() string {
	return p.model
}

var _ llm.CompletionProvider = (*CompletionProvider)(nil)
