//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package bm25 scores a small, fixed set of texts against a query with
// Okapi BM25. It is used to re-rank vector search candidates, so an index
// is built per query and never mutated.
package bm25

import "math"

// Default BM25 parameters.
const (
	DefaultK1 = 1.2  // term frequency saturation
	DefaultB  = 0.75 // document length normalisation
)

// Params are the BM25 tuning parameters.
type Params struct {
	K1 float64
	B  float64
}

// DefaultParams returns the conventional Lucene defaults.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// idf is the Lucene variant of inverse document frequency, which stays
// non-negative for terms present in most documents:
//
//	IDF(t) = log(1 + (N - df + 0.5) / (df + 0.5))
func idf(docCount, docFreq int) float64 {
	if docCount == 0 || docFreq == 0 {
		return 0
	}
	n := float64(docCount)
	df := float64(docFreq)
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// termScore is the BM25 contribution of one query term to one document.
func (p Params) termScore(tf, docFreq, docCount, docLen int, avgDocLen float64) float64 {
	if tf == 0 || avgDocLen == 0 {
		return 0
	}
	f := float64(tf)
	norm := 1 - p.B + p.B*(float64(docLen)/avgDocLen)
	return idf(docCount, docFreq) * (f * (p.K1 + 1)) / (f + p.K1*norm)
}
