//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package bm25

import (
	"math"
	"reflect"
	"testing"
)

func TestTokenizer_Tokenize(t *testing.T) {
	tok := NewTokenizer()

	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{"simple text", "hello world", []string{"hello", "world"}},
		{"with punctuation", "Hello, World!", []string{"hello", "world"}},
		{"single characters dropped", "version 2.0 released", []string{"version", "released"}},
		{"stop words removed", "the quick brown fox jumps over the lazy dog",
			[]string{"quick", "brown", "fox", "jumps", "over", "lazy", "dog"}},
		{"empty string", "", nil},
		{"non-ascii letters", "Prüfungsordnung für Masterstudium",
			[]string{"prüfungsordnung", "für", "masterstudium"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tok.Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.expect) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.expect)
			}
		})
	}
}

func TestTokenizer_CustomStopWords(t *testing.T) {
	tok := NewTokenizerWithStopWords([]string{"semester"})

	got := tok.Tokenize("the third semester")
	want := []string{"the", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestTokenizer_TokenFrequencies(t *testing.T) {
	freqs := NewTokenizer().TokenFrequencies("elective elective course")
	if freqs["elective"] != 2 || freqs["course"] != 1 {
		t.Errorf("unexpected frequencies %v", freqs)
	}
}

func TestIDF(t *testing.T) {
	if idf(0, 1) != 0 || idf(10, 0) != 0 {
		t.Error("idf should be zero for an empty corpus or unseen term")
	}
	rare := idf(10, 1)
	common := idf(10, 9)
	if rare <= common {
		t.Errorf("rare term idf %f should exceed common term idf %f", rare, common)
	}
	if idf(10, 10) < 0 {
		t.Error("idf must be non-negative")
	}
}

func TestIndex_Scores(t *testing.T) {
	idx := NewIndex([]string{
		"Bachelor electives for the third semester",
		"Master thesis registration deadlines",
		"Electives electives electives",
	})

	if idx.Len() != 3 {
		t.Fatalf("expected 3 documents, got %d", idx.Len())
	}

	scores := idx.Scores("third semester electives")
	if scores[1] != 0 {
		t.Errorf("unrelated document should score 0, got %f", scores[1])
	}
	if scores[0] <= scores[2] {
		t.Errorf("document matching more terms should win: %v", scores)
	}
	for _, s := range scores {
		if math.IsNaN(s) {
			t.Fatalf("NaN score in %v", scores)
		}
	}
}

func TestIndex_Rank(t *testing.T) {
	idx := NewIndex([]string{
		"Redis is an in-memory data store",
		"PostgreSQL is a powerful relational database",
		"MySQL is another popular relational database",
	})

	ranked := idx.Rank("relational database PostgreSQL")
	if len(ranked) != 2 {
		t.Fatalf("expected 2 matching documents, got %v", ranked)
	}
	if ranked[0] != 1 || ranked[1] != 2 {
		t.Errorf("expected [1 2], got %v", ranked)
	}
}

func TestIndex_EmptyQueryAndCorpus(t *testing.T) {
	if got := NewIndex(nil).Rank("anything"); len(got) != 0 {
		t.Errorf("empty index should rank nothing, got %v", got)
	}
	if got := NewIndex([]string{"some text"}).Rank("the a"); len(got) != 0 {
		t.Errorf("stop-word query should rank nothing, got %v", got)
	}
}
