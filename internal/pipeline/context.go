//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package pipeline

import (
	"strings"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/retrieval"
)

// ContextOptions controls how documents are projected into the context
// block. An empty field name selects the document's page content.
type ContextOptions struct {
	Separator     string
	QuestionField string
	AnswerField   string
}

// DefaultContextOptions returns the page content as the question and the
// "answer" metadata field as the answer, separated by a blank line.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		Separator:   config.DefaultSeparator,
		AnswerField: config.DefaultAnswerField,
	}
}

// ExtractContext renders each document as "Question: <q>\nSample answer: <a>"
// and joins them with the separator, keeping retrieval order. A field the
// document lacks falls back to its page content.
func ExtractContext(docs []retrieval.Document, opts ContextOptions) string {
	if len(docs) == 0 {
		return ""
	}

	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = "Question: " + field(doc, opts.QuestionField) +
			"\nSample answer: " + field(doc, opts.AnswerField)
	}
	return strings.Join(parts, opts.Separator)
}

func field(doc retrieval.Document, name string) string {
	if v, ok := doc.Field(name); ok {
		return v
	}
	return doc.Content
}
