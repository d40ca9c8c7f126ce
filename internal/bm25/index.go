//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package bm25

import (
	"cmp"
	"slices"
)

type document struct {
	length    int
	termFreqs map[string]int
}

// Index is an immutable BM25 index over an ordered list of texts. It is
// safe for concurrent use.
type Index struct {
	tokenizer *Tokenizer
	params    Params
	docs      []document
	docFreqs  map[string]int
	avgDocLen float64
}

// NewIndex indexes texts with the default tokenizer and parameters.
func NewIndex(texts []string) *Index {
	return NewIndexWithParams(texts, NewTokenizer(), DefaultParams())
}

// NewIndexWithParams indexes texts with a custom tokenizer and parameters.
func NewIndexWithParams(texts []string, tokenizer *Tokenizer, params Params) *Index {
	idx := &Index{
		tokenizer: tokenizer,
		params:    params,
		docs:      make([]document, len(texts)),
		docFreqs:  make(map[string]int),
	}

	totalLen := 0
	for i, text := range texts {
		freqs := tokenizer.TokenFrequencies(text)
		length := 0
		for term, n := range freqs {
			length += n
			idx.docFreqs[term]++
		}
		idx.docs[i] = document{length: length, termFreqs: freqs}
		totalLen += length
	}
	if len(texts) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(texts))
	}

	return idx
}

// Len returns the number of indexed texts.
func (idx *Index) Len() int {
	return len(idx.docs)
}

// Scores returns the BM25 score of every indexed text for query, in index
// order.
func (idx *Index) Scores(query string) []float64 {
	scores := make([]float64, len(idx.docs))

	queryTerms := idx.tokenizer.TokenFrequencies(query)
	if len(queryTerms) == 0 {
		return scores
	}

	for i, doc := range idx.docs {
		for term := range queryTerms {
			scores[i] += idx.params.termScore(
				doc.termFreqs[term], idx.docFreqs[term],
				len(idx.docs), doc.length, idx.avgDocLen)
		}
	}
	return scores
}

// Rank returns the positions of texts with a positive score for query,
// best first. Ties keep index order.
func (idx *Index) Rank(query string) []int {
	scores := idx.Scores(query)

	ranked := make([]int, 0, len(scores))
	for i, s := range scores {
		if s > 0 {
			ranked = append(ranked, i)
		}
	}
	slices.SortStableFunc(ranked, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})
	return ranked
}
