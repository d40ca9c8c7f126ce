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
	"fmt"
	"strings"
	"text/template"
)

// DefaultCondenseTemplate rewrites a follow-up into a standalone question.
// Fields: .History, .Question.
const DefaultCondenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.
The standalone question must be self-contained: include any detail from the conversation (such as a programme or semester) that the follow up question depends on.
Return only the standalone question.

Chat history:
{{.History}}

Follow up question: {{.Question}}
Standalone question:`

// DefaultAnswerTemplate answers from the retrieved context only.
// Fields: .Institution, .Context, .Question.
const DefaultAnswerTemplate = `You are a representative of {{if .Institution}}{{.Institution}}{{else}}the institution{{end}} and answer in the first person on its behalf.
Answer the question using only the information in the context below. Do not use any other knowledge.
If the context does not contain enough information, or the question is missing details you need (for example the programme or the semester), ask a clarifying question instead of guessing.
Be concise and direct.

Context:
{{.Context}}

Question: {{.Question}}
Answer:`

// CondenseData fills the condense template.
type CondenseData struct {
	History  string
	Question string
}

// AnswerData fills the answer template.
type AnswerData struct {
	Institution string
	Context     string
	Question    string
}

// Prompts holds the parsed templates of one pipeline.
type Prompts struct {
	condense *template.Template
	answer   *template.Template
}

// NewPrompts parses the given templates, using the defaults for empty
// ones.
func NewPrompts(condense, answer string) (*Prompts, error) {
	if strings.TrimSpace(condense) == "" {
		condense = DefaultCondenseTemplate
	}
	if strings.TrimSpace(answer) == "" {
		answer = DefaultAnswerTemplate
	}

	c, err := template.New("condense").Option("missingkey=error").Parse(condense)
	if err != nil {
		return nil, fmt.Errorf("failed to parse condense prompt: %w", err)
	}
	a, err := template.New("answer").Option("missingkey=error").Parse(answer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse answer prompt: %w", err)
	}

	p := &Prompts{condense: c, answer: a}

	// Catch references to unknown fields at load time.
	if _, err := p.RenderCondense(CondenseData{}); err != nil {
		return nil, err
	}
	if _, err := p.RenderAnswer(AnswerData{}); err != nil {
		return nil, err
	}

	return p, nil
}

// RenderCondense renders the condense prompt.
func (p *Prompts) RenderCondense(data CondenseData) (string, error) {
	var sb strings.Builder
	if err := p.condense.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render condense prompt: %w", err)
	}
	return sb.String(), nil
}

// RenderAnswer renders the answer prompt.
func (p *Prompts) RenderAnswer(data AnswerData) (string, error) {
	var sb strings.Builder
	if err := p.answer.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render answer prompt: %w", err)
	}
	return sb.String(), nil
}
