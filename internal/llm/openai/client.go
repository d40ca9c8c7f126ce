//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package openai provides chat completion and embedding providers backed by
// the OpenAI API (or any compatible server).
package openai

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultChatModel      = "gpt-4o-mini"
	defaultTimeout        = 60
)

// Client wraps a go-openai client configured for one endpoint.
type Client struct {
	api *goopenai.Client
}

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the client.
type ClientOption func(*clientOptions)

// WithBaseURL sets a custom base URL, e.g. for an OpenAI-compatible server.
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(seconds int) ClientOption {
	return func(o *clientOptions) {
		o.httpClient.Timeout = time.Duration(seconds) * time.Second
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// NewClient creates a new OpenAI client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	o := &clientOptions{
		httpClient: &http.Client{Timeout: defaultTimeout * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = o.httpClient

	return &Client{api: goopenai.NewClientWithConfig(cfg)}
}

// translateError maps go-openai errors onto llm.Error so callers can
// classify them without importing the SDK.
func translateError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return llm.ErrorFromStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return llm.ErrorFromStatus(reqErr.HTTPStatusCode, reqErr.Error())
	}

	return fmt.Errorf("request failed: %w", err)
}
