//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package retrieval turns a standalone question into a ranked list of
// documents from a vector index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

// ErrCollectionNotFound is returned by a VectorStore when the configured
// collection (table or class) does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Document is one retrieved record.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// Field returns a metadata value, or the page content when name is empty.
func (d Document) Field(name string) (string, bool) {
	if name == "" {
		return d.Content, true
	}
	v, ok := d.Metadata[name]
	return v, ok
}

// VectorStore runs a similarity search over one collection. Results are
// ordered most similar first.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, k int) ([]Document, error)
}

// Retriever embeds a query and searches a VectorStore.
type Retriever struct {
	embedder   llm.EmbeddingProvider
	store      VectorStore
	topK       int
	hybrid     bool
	candidates int
	logger     *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the number of documents returned.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		r.topK = k
	}
}

// WithHybridRerank fetches candidates documents by vector similarity and
// re-ranks them with BM25 before keeping the top k.
func WithHybridRerank(candidates int) Option {
	return func(r *Retriever) {
		r.hybrid = true
		r.candidates = candidates
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// DefaultTopK is used when no top k is configured.
const DefaultTopK = 4

// New creates a Retriever.
func New(embedder llm.EmbeddingProvider, store VectorStore, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		store:    store,
		topK:     DefaultTopK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	if r.candidates < r.topK {
		r.candidates = 2 * r.topK
	}
	return r
}

// TopK returns the configured result bound.
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns up to top k documents for query, most relevant first.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	k := r.topK
	if r.hybrid {
		k = r.candidates
	}

	docs, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if r.hybrid {
		docs = Rerank(query, docs, r.topK)
	} else if len(docs) > r.topK {
		docs = docs[:r.topK]
	}

	r.logger.Debug("retrieved documents",
		"count", len(docs),
		"top_k", r.topK,
		"hybrid", r.hybrid)

	return docs, nil
}
