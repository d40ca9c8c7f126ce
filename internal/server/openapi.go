//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"net/http"
)

// OpenAPISpec represents the OpenAPI v3 specification.
type OpenAPISpec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       OpenAPIInfo            `json:"info"`
	Servers    []OpenAPIServer        `json:"servers"`
	Paths      map[string]OpenAPIPath `json:"paths"`
	Components OpenAPIComponents      `json:"components"`
}

// OpenAPIInfo contains API metadata.
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// OpenAPIServer describes a server.
type OpenAPIServer struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// OpenAPIPath contains operations for a path.
type OpenAPIPath struct {
	Get    *OpenAPIOperation `json:"get,omitempty"`
	Post   *OpenAPIOperation `json:"post,omitempty"`
	Put    *OpenAPIOperation `json:"put,omitempty"`
	Delete *OpenAPIOperation `json:"delete,omitempty"`
}

// OpenAPIOperation describes an API operation.
type OpenAPIOperation struct {
	Summary     string                     `json:"summary"`
	Description string                     `json:"description,omitempty"`
	OperationID string                     `json:"operationId"`
	Tags        []string                   `json:"tags,omitempty"`
	Parameters  []OpenAPIParameter         `json:"parameters,omitempty"`
	RequestBody *OpenAPIRequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]OpenAPIResponse `json:"responses"`
}

// OpenAPIParameter describes a parameter.
type OpenAPIParameter struct {
	Name        string        `json:"name"`
	In          string        `json:"in"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Schema      OpenAPISchema `json:"schema"`
}

// OpenAPIRequestBody describes a request body.
type OpenAPIRequestBody struct {
	Description string                      `json:"description,omitempty"`
	Required    bool                        `json:"required"`
	Content     map[string]OpenAPIMediaType `json:"content"`
}

// OpenAPIResponse describes a response.
type OpenAPIResponse struct {
	Description string                      `json:"description"`
	Content     map[string]OpenAPIMediaType `json:"content,omitempty"`
}

// OpenAPIMediaType describes a media type.
type OpenAPIMediaType struct {
	Schema OpenAPISchema `json:"schema"`
}

// OpenAPISchema describes a schema.
type OpenAPISchema struct {
	Type        string                   `json:"type,omitempty"`
	Format      string                   `json:"format,omitempty"`
	Description string                   `json:"description,omitempty"`
	Properties  map[string]OpenAPISchema `json:"properties,omitempty"`
	Items       *OpenAPISchema           `json:"items,omitempty"`
	Required    []string                 `json:"required,omitempty"`
	Default     any                      `json:"default,omitempty"`
	Ref         string                   `json:"$ref,omitempty"`
}

// OpenAPIComponents contains reusable components.
type OpenAPIComponents struct {
	Schemas map[string]OpenAPISchema `json:"schemas"`
}

// handleOpenAPI handles the GET /v1/openapi.json endpoint.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, BuildOpenAPISpec())
}

// jsonContent returns a JSON media type referring to a component schema.
func jsonContent(schema string) map[string]OpenAPIMediaType {
	return map[string]OpenAPIMediaType{
		"application/json": {
			Schema: OpenAPISchema{Ref: "#/components/schemas/" + schema},
		},
	}
}

// errorResponse describes an error reply.
func errorResponse(description string) OpenAPIResponse {
	return OpenAPIResponse{
		Description: description,
		Content:     jsonContent("ErrorResponse"),
	}
}

// BuildOpenAPISpec constructs the OpenAPI v3 specification.
// This is exported so it can be used to generate static documentation.
func BuildOpenAPISpec() OpenAPISpec {
	return OpenAPISpec{
		OpenAPI: "3.0.3",
		Info: OpenAPIInfo{
			Title:       "pgEdge Chat Server API",
			Description: "REST API for conversational question answering over institutional knowledge bases",
			Version:     "1.0.0",
		},
		Servers: []OpenAPIServer{
			{
				URL:         "/v1",
				Description: "API v1",
			},
		},
		Paths: map[string]OpenAPIPath{
			"/health": {
				Get: &OpenAPIOperation{
					Summary:     "Health check",
					Description: "Check if the server is running and healthy",
					OperationID: "getHealth",
					Tags:        []string{"System"},
					Responses: map[string]OpenAPIResponse{
						"200": {
							Description: "Server is healthy",
							Content:     jsonContent("HealthResponse"),
						},
					},
				},
			},
			"/pipelines": {
				Get: &OpenAPIOperation{
					Summary:     "List pipelines",
					Description: "Get a list of all configured chat pipelines",
					OperationID: "listPipelines",
					Tags:        []string{"Pipelines"},
					Responses: map[string]OpenAPIResponse{
						"200": {
							Description: "List of pipelines",
							Content:     jsonContent("PipelinesResponse"),
						},
					},
				},
			},
			"/pipelines/{name}/chat": {
				Post: &OpenAPIOperation{
					Summary: "Chat with a pipeline",
					Description: "Condense the conversation into a standalone question, " +
						"retrieve matching documents and stream the answer. " +
						"Send Accept: text/plain for a raw text stream instead of Server-Sent Events.",
					OperationID: "chatPipeline",
					Tags:        []string{"Pipelines"},
					Parameters: []OpenAPIParameter{
						{
							Name:        "name",
							In:          "path",
							Description: "Pipeline name",
							Required:    true,
							Schema:      OpenAPISchema{Type: "string"},
						},
					},
					RequestBody: &OpenAPIRequestBody{
						Description: "Chat request",
						Required:    true,
						Content:     jsonContent("ChatRequest"),
					},
					Responses: map[string]OpenAPIResponse{
						"200": {
							Description: "Streamed answer",
							Content: map[string]OpenAPIMediaType{
								"text/event-stream": {
									Schema: OpenAPISchema{
										Ref: "#/components/schemas/StreamEvent",
									},
								},
								"text/plain": {
									Schema: OpenAPISchema{
										Type:        "string",
										Description: "Answer text, flushed as it is generated",
									},
								},
							},
						},
						"400": errorResponse("Malformed request"),
						"404": errorResponse("Pipeline or session not found"),
						"502": errorResponse("Retrieval or generation failed"),
						"500": errorResponse("Server error"),
					},
				},
			},
			"/sessions": {
				Post: &OpenAPIOperation{
					Summary:     "Create session",
					Description: "Start a server-side conversation whose turns are remembered between requests",
					OperationID: "createSession",
					Tags:        []string{"Sessions"},
					Responses: map[string]OpenAPIResponse{
						"201": {
							Description: "Session created",
							Content:     jsonContent("SessionResponse"),
						},
						"404": errorResponse("Sessions are not enabled"),
						"503": errorResponse("Session store unavailable"),
					},
				},
			},
			"/sessions/{id}": {
				Delete: &OpenAPIOperation{
					Summary:     "Delete session",
					Description: "Forget a conversation",
					OperationID: "deleteSession",
					Tags:        []string{"Sessions"},
					Parameters: []OpenAPIParameter{
						{
							Name:        "id",
							In:          "path",
							Description: "Session ID",
							Required:    true,
							Schema:      OpenAPISchema{Type: "string", Format: "uuid"},
						},
					},
					Responses: map[string]OpenAPIResponse{
						"204": {Description: "Session deleted"},
						"404": errorResponse("Session not found"),
						"503": errorResponse("Session store unavailable"),
					},
				},
			},
		},
		Components: OpenAPIComponents{
			Schemas: map[string]OpenAPISchema{
				"HealthResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"status": {
							Type:        "string",
							Description: "Health status",
						},
					},
					Required: []string{"status"},
				},
				"PipelinesResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"pipelines": {
							Type:        "array",
							Description: "List of available pipelines",
							Items: &OpenAPISchema{
								Ref: "#/components/schemas/PipelineInfo",
							},
						},
					},
					Required: []string{"pipelines"},
				},
				"PipelineInfo": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"name": {
							Type:        "string",
							Description: "Pipeline name",
						},
						"description": {
							Type:        "string",
							Description: "Pipeline description",
						},
					},
					Required: []string{"name"},
				},
				"Message": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"role": {
							Type:        "string",
							Description: "Message role: user, assistant or system",
						},
						"content": {
							Type:        "string",
							Description: "Message content",
						},
					},
					Required: []string{"role", "content"},
				},
				"ChatRequest": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"question": {
							Type:        "string",
							Description: "The current question; overrides the text of the last message",
						},
						"messages": {
							Type:        "array",
							Description: "The conversation, oldest first; the last message is the current one",
							Items: &OpenAPISchema{
								Ref: "#/components/schemas/Message",
							},
						},
						"session_id": {
							Type:        "string",
							Format:      "uuid",
							Description: "Session whose stored turns precede the submitted messages",
						},
					},
				},
				"StreamEvent": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"type": {
							Type:        "string",
							Description: "Event type: chunk, error or done",
						},
						"content": {
							Type:        "string",
							Description: "Answer text (chunk events)",
						},
						"error": {
							Type:        "string",
							Description: "Failure description (error events)",
						},
					},
					Required: []string{"type"},
				},
				"SessionResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"session_id": {
							Type:        "string",
							Format:      "uuid",
							Description: "New session ID",
						},
					},
					Required: []string{"session_id"},
				},
				"ErrorResponse": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"error": {
							Ref: "#/components/schemas/ErrorDetail",
						},
					},
					Required: []string{"error"},
				},
				"ErrorDetail": {
					Type: "object",
					Properties: map[string]OpenAPISchema{
						"code": {
							Type:        "string",
							Description: "Error code",
						},
						"message": {
							Type:        "string",
							Description: "Error message",
						},
					},
					Required: []string{"code", "message"},
				},
			},
		},
	}
}
