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
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is to classify an error returned by Run or by
// AnswerStream.Recv.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrGeneration       = errors.New("generation failure")
	ErrRetrieval        = errors.New("retrieval failure")
	ErrMalformedRequest = errors.New("malformed request")
)

// ErrPipelineNotFound is returned when a requested pipeline does not exist.
var ErrPipelineNotFound = errors.New("pipeline not found")

// StageError records the stage a run failed in.
type StageError struct {
	Stage State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
