//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package retrieval

import (
	"cmp"
	"slices"

	"github.com/pgEdge/pgedge-chat-server/internal/bm25"
)

// DefaultRRFConstant is the k constant for Reciprocal Rank Fusion. A value
// of 60 is commonly used in practice.
const DefaultRRFConstant = 60

// FuseRanks combines several rankings of the same n items with Reciprocal
// Rank Fusion:
//
//	score(d) = sum over rankings of 1 / (k + rank(d))
//
// where rank is 1-indexed. Each ranking lists item positions best first and
// may omit items. The result lists every position ranked at least once,
// highest fused score first; ties keep the order of the first ranking.
func FuseRanks(n int, k float64, rankings ...[]int) ([]int, []float64) {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make([]float64, n)
	seen := make([]bool, n)
	firstRank := make([]int, n)
	for i := range firstRank {
		firstRank[i] = n
	}

	for r, ranking := range rankings {
		for i, pos := range ranking {
			if pos < 0 || pos >= n {
				continue
			}
			scores[pos] += 1.0 / (k + float64(i+1))
			seen[pos] = true
			if r == 0 {
				firstRank[pos] = i
			}
		}
	}

	order := make([]int, 0, n)
	for pos := range n {
		if seen[pos] {
			order = append(order, pos)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(firstRank[a], firstRank[b])
	})

	return order, scores
}

// Rerank re-orders vector search candidates by fusing their vector rank
// with a BM25 ranking against query, and keeps the best topK. Document
// scores are replaced by the fused score.
func Rerank(query string, candidates []Document, topK int) []Document {
	if len(candidates) == 0 {
		return candidates
	}

	texts := make([]string, len(candidates))
	vectorRank := make([]int, len(candidates))
	for i, d := range candidates {
		texts[i] = d.Content
		vectorRank[i] = i
	}
	lexicalRank := bm25.NewIndex(texts).Rank(query)

	order, scores := FuseRanks(len(candidates), DefaultRRFConstant, vectorRank, lexicalRank)

	out := make([]Document, 0, min(topK, len(order)))
	for _, pos := range order {
		if len(out) == topK {
			break
		}
		d := candidates[pos]
		d.Score = scores[pos]
		out = append(out, d)
	}
	return out
}
