//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pgEdge/pgedge-chat-server/internal/chat"
	"github.com/pgEdge/pgedge-chat-server/internal/pipeline"
	"github.com/pgEdge/pgedge-chat-server/internal/session"
)

// maxRequestBytes bounds the size of a chat request body.
const maxRequestBytes = 1 << 20

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// PipelinesResponse is the response for the list pipelines endpoint.
type PipelinesResponse struct {
	Pipelines []pipeline.Info `json:"pipelines"`
}

// ChatRequest is the body of a chat request. Either Question or Messages
// must be supplied; when both are, Question replaces the text of the last
// message.
type ChatRequest struct {
	Question  string         `json:"question,omitempty"`
	Messages  []chat.Message `json:"messages,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// StreamEvent is a single Server-Sent Event of a chat answer.
type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SessionResponse is returned when a session is created.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleHealth handles the GET /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleListPipelines handles the GET /pipelines endpoint.
func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, PipelinesResponse{Pipelines: s.pipelines.List()})
}

// handleChat handles the POST /pipelines/{name}/chat endpoint.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	logger := s.requestLogger(r).With("pipeline", name)

	p, err := s.pipelines.Get(name)
	if err != nil {
		if errors.Is(err, pipeline.ErrPipelineNotFound) {
			s.respondError(w, http.StatusNotFound, "PIPELINE_NOT_FOUND",
				"pipeline not found: "+name)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	var req ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"invalid request body: "+err.Error())
		return
	}

	messages, err := normaliseMessages(req.Messages)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}

	question, history, err := chat.ResolveRequest(req.Question, messages)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
		return
	}

	if req.SessionID != "" {
		if s.sessions == nil {
			s.respondError(w, http.StatusBadRequest, "SESSIONS_DISABLED",
				"sessions are not enabled")
			return
		}
		stored, err := s.sessions.Load(r.Context(), req.SessionID)
		if err != nil {
			s.respondSessionError(w, err)
			return
		}
		history = append(stored, history...)
	}

	stream, err := p.Run(r.Context(), question, history)
	if err != nil {
		logger.Error("chat failed", "error", err)
		s.respondPipelineError(w, err)
		return
	}
	defer stream.Close()

	var answer string
	if acceptsPlainText(r) {
		answer, err = s.writePlainText(w, stream)
	} else {
		answer, err = s.writeEvents(w, stream)
	}
	if err != nil {
		logger.Error("answer stream failed", "error", err)
		return
	}

	if req.SessionID != "" {
		err := s.sessions.Append(r.Context(), req.SessionID,
			chat.Message{Role: chat.RoleUser, Content: question},
			chat.Message{Role: chat.RoleAssistant, Content: answer})
		if err != nil {
			logger.Error("failed to save session turn",
				"session_id", req.SessionID,
				"error", err)
		}
	}
}

// normaliseMessages lower-cases roles and rejects unknown ones.
func normaliseMessages(messages []chat.Message) ([]chat.Message, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	out := make([]chat.Message, len(messages))
	for i, m := range messages {
		msg, err := chat.NewMessage(string(m.Role), m.Content)
		if err != nil {
			return nil, err
		}
		out[i] = msg
	}
	return out, nil
}

// acceptsPlainText reports whether the client asked for a raw text answer.
func acceptsPlainText(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") &&
		!strings.Contains(accept, "text/event-stream")
}

// writeEvents streams the answer as Server-Sent Events and returns the
// text that was sent.
func (s *Server) writeEvents(w http.ResponseWriter, stream *pipeline.AnswerStream) (string, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "STREAMING_ERROR",
			"streaming not supported")
		return "", errors.New("streaming not supported")
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	var answer strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return answer.String(), s.sendSSE(w, flusher, StreamEvent{Type: "done"})
		}
		if err != nil {
			_ = s.sendSSE(w, flusher, StreamEvent{Type: "error", Error: err.Error()})
			return answer.String(), err
		}

		answer.WriteString(chunk)
		if err := s.sendSSE(w, flusher, StreamEvent{Type: "chunk", Content: chunk}); err != nil {
			return answer.String(), err
		}
	}
}

// writePlainText streams the answer as a chunked text/plain body.
func (s *Server) writePlainText(w http.ResponseWriter, stream *pipeline.AnswerStream) (string, error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	tw := &teeWriter{w: w}
	_, err := stream.WriteTo(tw)
	return tw.sb.String(), err
}

// teeWriter records what it writes to a response and keeps it flushable.
type teeWriter struct {
	w  http.ResponseWriter
	sb strings.Builder
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.sb.Write(p[:n])
	return n, err
}

func (t *teeWriter) Flush() {
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendSSE sends a Server-Sent Event.
func (s *Server) sendSSE(w http.ResponseWriter, flusher http.Flusher, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal SSE event", "error", err)
		return err
	}

	// SSE format: data: {json}\n\n
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleCreateSession handles the POST /sessions endpoint.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.respondError(w, http.StatusNotFound, "SESSIONS_DISABLED",
			"sessions are not enabled")
		return
	}

	id, err := s.sessions.Create(r.Context())
	if err != nil {
		s.requestLogger(r).Error("failed to create session", "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "SESSION_STORE_ERROR",
			"failed to create session")
		return
	}

	s.respondJSON(w, http.StatusCreated, SessionResponse{SessionID: id})
}

// handleDeleteSession handles the DELETE /sessions/{id} endpoint.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.respondError(w, http.StatusNotFound, "SESSIONS_DISABLED",
			"sessions are not enabled")
		return
	}

	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondSessionError maps session store errors to HTTP responses.
func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.respondError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		return
	}
	s.logger.Error("session store failed", "error", err)
	s.respondError(w, http.StatusServiceUnavailable, "SESSION_STORE_ERROR",
		"session store unavailable")
}

// respondPipelineError maps a failed pipeline run to an HTTP response.
func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrMalformedRequest):
		s.respondError(w, http.StatusBadRequest, "MALFORMED_REQUEST", err.Error())
	case errors.Is(err, pipeline.ErrRetrieval):
		s.respondError(w, http.StatusBadGateway, "RETRIEVAL_FAILED", err.Error())
	case errors.Is(err, pipeline.ErrGeneration):
		s.respondError(w, http.StatusBadGateway, "GENERATION_FAILED", err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// respondJSON sends a JSON response with RFC 8631 Link header for API discovery.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	// RFC 8631: Link header for API documentation discovery
	w.Header().Set("Link", `</v1/openapi.json>; rel="service-desc"`)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// respondError sends an error response.
func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
