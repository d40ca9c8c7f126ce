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
	"context"
	"errors"
	"io"
	"strings"

	"github.com/pgEdge/pgedge-chat-server/internal/llm"
)

// ErrStreamConsumed is returned when an AnswerStream is read after it has
// ended, been closed, or been handed to WriteTo.
var ErrStreamConsumed = errors.New("answer stream already consumed")

// AnswerStream is the generated answer as a sequence of text chunks. It can
// be consumed once, either by calling Recv until it returns an error or by a
// single call to WriteTo. An AnswerStream is not safe for concurrent use.
type AnswerStream struct {
	pending string
	chunks  <-chan llm.StreamChunk
	errs    <-chan error
	cancel  context.CancelFunc

	started  bool
	finished bool
}

func newAnswerStream(
	first string,
	chunks <-chan llm.StreamChunk,
	errs <-chan error,
	cancel context.CancelFunc,
) *AnswerStream {
	return &AnswerStream{
		pending: first,
		chunks:  chunks,
		errs:    errs,
		cancel:  cancel,
	}
}

// Recv returns the next non-empty chunk. It returns io.EOF when the answer
// is complete, or an ErrGeneration error if the model failed mid-stream;
// chunks already returned stand.
func (s *AnswerStream) Recv() (string, error) {
	if s.finished {
		return "", ErrStreamConsumed
	}
	s.started = true

	if s.pending != "" {
		chunk := s.pending
		s.pending = ""
		return chunk, nil
	}

	for chunk := range s.chunks {
		if chunk.Content != "" {
			return chunk.Content, nil
		}
	}

	err := <-s.errs
	s.finish()
	if err != nil {
		return "", &StageError{Stage: StateStreaming, Kind: ErrGeneration, Err: err}
	}
	return "", io.EOF
}

// WriteTo writes the whole answer to w, flushing after each chunk when w
// supports it.
func (s *AnswerStream) WriteTo(w io.Writer) (int64, error) {
	if s.started || s.finished {
		return 0, ErrStreamConsumed
	}

	flusher, _ := w.(interface{ Flush() })

	var total int64
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		n, err := io.WriteString(w, chunk)
		total += int64(n)
		if err != nil {
			s.Close()
			return total, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// ReadAll consumes the stream and returns the full answer text.
func (s *AnswerStream) ReadAll() (string, error) {
	var sb strings.Builder
	_, err := s.WriteTo(&sb)
	return sb.String(), err
}

// Close abandons the stream, cancelling the model call and waiting for the
// provider to release its connection. It is safe to call more than once.
func (s *AnswerStream) Close() {
	if s.finished {
		return
	}
	s.cancel()
	for range s.chunks {
	}
	<-s.errs
	s.finish()
}

func (s *AnswerStream) finish() {
	s.finished = true
	s.pending = ""
	s.cancel()
}
