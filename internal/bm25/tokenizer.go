//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package bm25

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultStopWords contains common English stop words.
var DefaultStopWords = stopWordSet(
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "to", "was", "were", "will", "with", "this", "but", "they", "have",
	"had", "what", "when", "where", "who", "which", "why", "how", "all", "each",
	"every", "both", "few", "more", "most", "other", "some", "such", "no", "not",
	"only", "same", "so", "than", "too", "very", "can", "just", "should", "now",
	"i", "you", "we", "me", "my", "your", "our", "their", "him", "her",
	"am", "do", "does", "did", "there", "any",
)

func stopWordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Tokenizer lowercases text, splits on anything that is not a letter or
// digit, and drops stop words and single-character tokens.
type Tokenizer struct {
	stopWords map[string]struct{}
}

// NewTokenizer creates a tokenizer with the default stop words.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopWords: DefaultStopWords}
}

// NewTokenizerWithStopWords creates a tokenizer with custom stop words.
// A nil list keeps every token.
func NewTokenizerWithStopWords(words []string) *Tokenizer {
	return &Tokenizer{stopWords: stopWordSet(words...)}
}

// Tokenize splits text into normalised tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var tokens []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := t.stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// TokenFrequencies returns a map of token to frequency count.
func (t *Tokenizer) TokenFrequencies(text string) map[string]int {
	freqs := make(map[string]int)
	for _, token := range t.Tokenize(text) {
		freqs[token]++
	}
	return freqs
}
