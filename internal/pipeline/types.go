//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline runs the conversational retrieval pipeline: condense the
// question, retrieve context, and stream a grounded answer.
package pipeline

// Info contains basic pipeline information for listing.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// State is a step of a pipeline run.
type State int

// Run states in execution order. Failed is reachable from every state
// before Done.
const (
	StateIdle State = iota
	StateFormattingHistory
	StateCondensing
	StateRetrieving
	StateExtractingContext
	StateGenerating
	StateStreaming
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateFormattingHistory: "formatting_history",
	StateCondensing:        "condensing",
	StateRetrieving:        "retrieving",
	StateExtractingContext: "extracting_context",
	StateGenerating:        "generating",
	StateStreaming:         "streaming",
	StateDone:              "done",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
