//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	embeddingProviders  = []string{"openai", "voyage", "ollama"}
	completionProviders = []string{"anthropic", "openai", "ollama"}
	vectorStores        = []string{StorePGVector, StoreWeaviate}
	sslModes            = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
)

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}

	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration for errors and returns all validation
// errors found.
func (c *Config) Validate() error {
	var errs ValidationErrors

	c.validateServer(&errs)
	c.validateSessions(&errs)
	c.validateDefaults(&errs)
	c.validatePipelines(&errs)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateServer(errs *ValidationErrors) {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.add("server.port", "must be between 1 and 65535")
	}

	if c.Server.TLS.Enabled {
		requireFile(errs, "server.tls.cert_file", c.Server.TLS.CertFile)
		requireFile(errs, "server.tls.key_file", c.Server.TLS.KeyFile)
	}
}

func requireFile(errs *ValidationErrors, field, path string) {
	if path == "" {
		errs.add(field, "required when TLS is enabled")
		return
	}
	if _, err := os.Stat(expandPath(path)); err != nil {
		errs.add(field, "file not found: %s", path)
	}
}

func (c *Config) validateSessions(errs *ValidationErrors) {
	if !c.Sessions.Enabled {
		return
	}
	if c.Sessions.RedisURL == "" {
		errs.add("sessions.redis_url", "required when sessions are enabled")
	}
	if c.Sessions.TTL < 0 {
		errs.add("sessions.ttl", "must be non-negative")
	}
	if c.Sessions.MaxMessages < 0 {
		errs.add("sessions.max_messages", "must be non-negative")
	}
}

func (c *Config) validateDefaults(errs *ValidationErrors) {
	validateLLMOptional(errs, "defaults.embedding_llm", c.Defaults.EmbeddingLLM, embeddingProviders)
	validateLLMOptional(errs, "defaults.rag_llm", c.Defaults.RAGLLM, completionProviders)
	validateLLMOptional(errs, "defaults.condense_llm", c.Defaults.CondenseLLM, completionProviders)
	validateTemperature(errs, "defaults.temperature", c.Defaults.Temperature)
}

func (c *Config) validatePipelines(errs *ValidationErrors) {
	if len(c.Pipelines) == 0 {
		errs.add("pipelines", "at least one pipeline must be configured")
		return
	}

	names := make(map[string]bool)
	for i, p := range c.Pipelines {
		if names[p.Name] {
			errs.add(fmt.Sprintf("pipelines[%d].name", i), "duplicate pipeline name: %s", p.Name)
		}
		names[p.Name] = true

		c.validatePipeline(errs, i, p)
	}
}

func (c *Config) validatePipeline(errs *ValidationErrors, index int, p Pipeline) {
	prefix := fmt.Sprintf("pipelines[%d]", index)

	if p.Name == "" {
		errs.add(prefix+".name", "required")
	} else if strings.ContainsAny(p.Name, "/ ") {
		errs.add(prefix+".name", "must not contain spaces or slashes")
	}

	validateVectorStore(errs, prefix+".vector_store", p.VectorStore)

	validateLLM(errs, prefix+".embedding_llm", p.EmbeddingLLM, embeddingProviders)
	validateLLM(errs, prefix+".rag_llm", p.RAGLLM, completionProviders)
	validateLLM(errs, prefix+".condense_llm", p.CondenseLLM, completionProviders)

	if p.TopK < 1 {
		errs.add(prefix+".top_k", "must be at least 1")
	}
	if p.MaxTokens < 0 {
		errs.add(prefix+".max_tokens", "must be non-negative")
	}
	validateTemperature(errs, prefix+".temperature", p.Temperature)

	for _, f := range contextFields(p.Context, p.VectorStore.TextField) {
		if !slices.Contains(p.VectorStore.MetadataFields, f) {
			errs.add(prefix+".vector_store.metadata_fields",
				"must include context field %q", f)
		}
	}

	if p.Search.HybridEnabled && p.Search.Candidates < p.TopK {
		errs.add(prefix+".search.candidates", "must be at least top_k (%d)", p.TopK)
	}
}

func validateTemperature(errs *ValidationErrors, field string, t *float64) {
	if t != nil && (*t < 0 || *t > 2) {
		errs.add(field, "must be between 0 and 2")
	}
}

func validateVectorStore(errs *ValidationErrors, prefix string, vs VectorStoreConfig) {
	if !slices.Contains(vectorStores, vs.Provider) {
		errs.add(prefix+".provider", "must be one of: %s", strings.Join(vectorStores, ", "))
		return
	}
	if vs.Collection == "" {
		errs.add(prefix+".collection", "required")
	}
	if vs.TextField == "" {
		errs.add(prefix+".text_field", "required")
	}

	if vs.Filter != nil && vs.Filter.Structured != nil {
		validateFilter(errs, prefix+".filter", vs.Filter.Structured)
	}

	switch vs.Provider {
	case StorePGVector:
		if vs.VectorField == "" {
			errs.add(prefix+".vector_field", "required")
		}
		validateDatabase(errs, prefix+".database", vs.Database)
	case StoreWeaviate:
		if vs.Filter != nil && vs.Filter.RawSQL != "" {
			errs.add(prefix+".filter", "raw SQL filters are only supported by pgvector")
		}
		if vs.Weaviate.Host == "" {
			errs.add(prefix+".weaviate.host", "required")
		}
		if vs.Weaviate.Scheme != "http" && vs.Weaviate.Scheme != "https" {
			errs.add(prefix+".weaviate.scheme", "must be http or https")
		}
	}
}

func validateFilter(errs *ValidationErrors, prefix string, f *Filter) {
	if f.Logic != "" && !strings.EqualFold(f.Logic, "AND") && !strings.EqualFold(f.Logic, "OR") {
		errs.add(prefix+".logic", "must be AND or OR")
	}
	for i, cond := range f.Conditions {
		if cond.Column == "" {
			errs.add(fmt.Sprintf("%s.conditions[%d].column", prefix, i), "required")
		}
		if cond.Operator == "" {
			errs.add(fmt.Sprintf("%s.conditions[%d].operator", prefix, i), "required")
		}
	}
}

func validateDatabase(errs *ValidationErrors, prefix string, db DatabaseConfig) {
	if db.Host == "" {
		errs.add(prefix+".host", "required")
	}
	if db.Database == "" {
		errs.add(prefix+".database", "required")
	}
	if db.Port < 1 || db.Port > 65535 {
		errs.add(prefix+".port", "must be between 1 and 65535")
	}
	if db.SSLMode != "" && !slices.Contains(sslModes, db.SSLMode) {
		errs.add(prefix+".ssl_mode", "must be one of: %s", strings.Join(sslModes, ", "))
	}
	if db.MaxConns < 0 {
		errs.add(prefix+".max_conns", "must be non-negative")
	}
}

// validateLLM validates a required provider block.
func validateLLM(errs *ValidationErrors, prefix string, llm LLMConfig, validProviders []string) {
	if llm.Provider == "" {
		errs.add(prefix+".provider", "required")
	} else if !slices.Contains(validProviders, strings.ToLower(llm.Provider)) {
		errs.add(prefix+".provider", "must be one of: %s", strings.Join(validProviders, ", "))
	}

	if llm.Model == "" {
		errs.add(prefix+".model", "required")
	}
}

// validateLLMOptional validates a provider block only when a provider is set.
func validateLLMOptional(errs *ValidationErrors, prefix string, llm LLMConfig, validProviders []string) {
	if llm.Provider == "" {
		return
	}
	if !slices.Contains(validProviders, strings.ToLower(llm.Provider)) {
		errs.add(prefix+".provider", "must be one of: %s", strings.Join(validProviders, ", "))
	}
	if llm.Model == "" {
		errs.add(prefix+".model", "required when provider is set")
	}
}
