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
	"testing"
)

func TestNewPrompts_Defaults(t *testing.T) {
	p, err := NewPrompts("", "")
	if err != nil {
		t.Fatalf("NewPrompts failed: %v", err)
	}

	condense, err := p.RenderCondense(CondenseData{History: "user: hi", Question: "and then?"})
	if err != nil {
		t.Fatalf("RenderCondense failed: %v", err)
	}
	for _, want := range []string{"standalone question", "original language", "user: hi", "Follow up question: and then?"} {
		if !strings.Contains(condense, want) {
			t.Errorf("condense prompt missing %q:\n%s", want, condense)
		}
	}

	answer, err := p.RenderAnswer(AnswerData{Context: "CTX", Question: "Q?"})
	if err != nil {
		t.Fatalf("RenderAnswer failed: %v", err)
	}
	for _, want := range []string{"the institution", "first person", "clarifying question", "concise", "Context:\nCTX", "Question: Q?"} {
		if !strings.Contains(answer, want) {
			t.Errorf("answer prompt missing %q:\n%s", want, answer)
		}
	}
}

func TestNewPrompts_Overrides(t *testing.T) {
	p, err := NewPrompts("H={{.History}} Q={{.Question}}", "{{.Institution}}|{{.Context}}|{{.Question}}")
	if err != nil {
		t.Fatalf("NewPrompts failed: %v", err)
	}

	got, _ := p.RenderCondense(CondenseData{History: "h", Question: "q"})
	if got != "H=h Q=q" {
		t.Errorf("unexpected condense prompt %q", got)
	}
	got, _ = p.RenderAnswer(AnswerData{Institution: "Uni", Context: "c", Question: "q"})
	if got != "Uni|c|q" {
		t.Errorf("unexpected answer prompt %q", got)
	}
}

func TestNewPrompts_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		condense string
		answer   string
	}{
		{"syntax error", "{{.History", ""},
		{"unknown field", "", "{{.Documents}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPrompts(tt.condense, tt.answer); err == nil {
				t.Error("expected error")
			}
		})
	}
}
