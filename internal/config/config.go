//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration loading and validation for the
// pgEdge Chat Server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Vector store providers.
const (
	StorePGVector = "pgvector"
	StoreWeaviate = "weaviate"
)

// Config is the root configuration structure for the server.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	APIKeys   APIKeysConfig  `yaml:"api_keys"`
	Sessions  SessionsConfig `yaml:"sessions"`
	Defaults  Defaults       `yaml:"defaults"`
	Pipelines []Pipeline     `yaml:"pipelines"`
}

// APIKeysConfig contains paths to files containing API keys for LLM providers.
// If not specified, keys are loaded from environment variables or default
// file locations (~/.anthropic-api-key, ~/.openai-api-key, ~/.voyage-api-key).
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Voyage    string `yaml:"voyage"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddress string     `yaml:"listen_address"`
	Port          int        `yaml:"port"`
	TLS           TLSConfig  `yaml:"tls"`
	CORS          CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"` // or ["*"] for all
}

// TLSConfig contains TLS/HTTPS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SessionsConfig controls the optional Redis-backed conversation store.
type SessionsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	RedisURL    string        `yaml:"redis_url"`
	TTL         time.Duration `yaml:"ttl"`
	MaxMessages int           `yaml:"max_messages"`
}

// Defaults contains default values that can be overridden per-pipeline.
type Defaults struct {
	TopK         int           `yaml:"top_k"`
	Temperature  *float64      `yaml:"temperature"`
	MaxTokens    int           `yaml:"max_tokens"`
	EmbeddingLLM LLMConfig     `yaml:"embedding_llm"`
	RAGLLM       LLMConfig     `yaml:"rag_llm"`
	CondenseLLM  LLMConfig     `yaml:"condense_llm"`
	APIKeys      APIKeysConfig `yaml:"api_keys"`
}

// Pipeline defines a single conversational pipeline.
type Pipeline struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Institution  string            `yaml:"institution"` // who the assistant speaks for
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	EmbeddingLLM LLMConfig         `yaml:"embedding_llm"`
	RAGLLM       LLMConfig         `yaml:"rag_llm"`
	CondenseLLM  LLMConfig         `yaml:"condense_llm"` // defaults to rag_llm
	APIKeys      APIKeysConfig     `yaml:"api_keys"`
	TopK         int               `yaml:"top_k"`
	Temperature  *float64          `yaml:"temperature"`
	MaxTokens    int               `yaml:"max_tokens"`
	Search       SearchConfig      `yaml:"search"`
	Context      ContextConfig     `yaml:"context"`
	Prompts      PromptsConfig     `yaml:"prompts"`
	Condense     CondenseConfig    `yaml:"condense"`
}

// VectorStoreConfig selects and configures the collection a pipeline
// retrieves from.
type VectorStoreConfig struct {
	Provider       string         `yaml:"provider"`
	Collection     string         `yaml:"collection"`
	TextField      string         `yaml:"text_field"`
	VectorField    string         `yaml:"vector_field"`
	IDField        string         `yaml:"id_field"`
	MetadataFields []string       `yaml:"metadata_fields"`
	Filter         *ConfigFilter  `yaml:"filter"`
	Database       DatabaseConfig `yaml:"database"`
	Weaviate       WeaviateConfig `yaml:"weaviate"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	// Certificate-based authentication
	SSLCert   string `yaml:"ssl_cert"`
	SSLKey    string `yaml:"ssl_key"`
	SSLRootCA string `yaml:"ssl_root_ca"`

	MaxConns int32 `yaml:"max_conns"`
}

// WeaviateConfig contains Weaviate connection settings.
type WeaviateConfig struct {
	Host   string `yaml:"host"`   // host:port
	Scheme string `yaml:"scheme"` // http or https
	APIKey string `yaml:"api_key"`
}

// SearchConfig contains settings for search behavior.
type SearchConfig struct {
	HybridEnabled bool `yaml:"hybrid_enabled"` // BM25 re-rank of vector candidates
	Candidates    int  `yaml:"candidates"`     // vector candidates fetched for re-rank
}

// ContextConfig controls how retrieved documents are rendered for the
// answer prompt.
type ContextConfig struct {
	Separator     *string `yaml:"separator"`
	QuestionField string  `yaml:"question_field"` // empty means page content
	AnswerField   string  `yaml:"answer_field"`
}

// PromptsConfig holds optional text/template overrides.
type PromptsConfig struct {
	Condense string `yaml:"condense"`
	Answer   string `yaml:"answer"`
}

// CondenseConfig controls the question condensation stage.
type CondenseConfig struct {
	FallbackToQuestion bool `yaml:"fallback_to_question"`
}

// FilterCondition represents a single filter condition.
type FilterCondition struct {
	Column   string `json:"column" yaml:"column"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// Filter is a list of conditions joined by AND or OR.
type Filter struct {
	Conditions []FilterCondition `json:"conditions" yaml:"conditions"`
	Logic      string            `json:"logic,omitempty" yaml:"logic,omitempty"` // default AND
}

// ConfigFilter is a collection filter as written in the config file: a
// raw SQL fragment (pgvector only) or a structured Filter.
type ConfigFilter struct {
	RawSQL     string
	Structured *Filter
}

// UnmarshalYAML accepts either a scalar (raw SQL) or a mapping.
func (cf *ConfigFilter) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&cf.RawSQL)
	case yaml.MappingNode:
		var f Filter
		if err := value.Decode(&f); err != nil {
			return err
		}
		cf.Structured = &f
		return nil
	default:
		return fmt.Errorf("line %d: filter must be a string or structured filter object", value.Line)
	}
}

// LLMConfig contains settings for an LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// IsZero reports whether no provider has been configured.
func (l LLMConfig) IsZero() bool {
	return l.Provider == "" && l.Model == "" && l.BaseURL == ""
}

// Default values applied when neither the pipeline nor defaults set them.
const (
	DefaultTopK        = 4
	DefaultMaxTokens   = 1024
	DefaultSessionTTL  = 24 * time.Hour
	DefaultMaxMessages = 20
	DefaultSeparator   = "\n\n"
	DefaultAnswerField = "answer"
	DefaultTextField   = "content"
	DefaultVectorField = "embedding"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0",
			Port:          8080,
		},
		Sessions: SessionsConfig{
			RedisURL:    "redis://localhost:6379/0",
			TTL:         DefaultSessionTTL,
			MaxMessages: DefaultMaxMessages,
		},
		Defaults: Defaults{
			TopK:      DefaultTopK,
			MaxTokens: DefaultMaxTokens,
		},
	}
}

// SeparatorOrDefault returns the configured separator, or the default
// when none was set. An explicit empty string is honoured.
func (c ContextConfig) SeparatorOrDefault() string {
	if c.Separator == nil {
		return DefaultSeparator
	}
	return *c.Separator
}

// TemperatureOrZero returns the pipeline temperature, 0 when unset.
func (p Pipeline) TemperatureOrZero() float64 {
	if p.Temperature == nil {
		return 0
	}
	return *p.Temperature
}

// FindPipeline returns the named pipeline.
func (c *Config) FindPipeline(name string) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return Pipeline{}, false
}
