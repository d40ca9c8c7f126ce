//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the default configuration file name.
	ConfigFileName = "pgedge-chat-server.yaml"

	// SystemConfigPath is the system-wide configuration path.
	SystemConfigPath = "/etc/pgedge/" + ConfigFileName

	// DefaultEnvFile is loaded when present and no env file is given.
	DefaultEnvFile = ".env"
)

// Environment variables that override values from the config file.
const (
	EnvListenAddress  = "PGEDGE_CHAT_LISTEN_ADDRESS"
	EnvPort           = "PGEDGE_CHAT_PORT"
	EnvRedisURL       = "PGEDGE_CHAT_REDIS_URL"
	EnvWeaviateAPIKey = "WEAVIATE_API_KEY"
	EnvPGPassword     = "PGPASSWORD"
)

// LoadEnvFile loads KEY=value pairs from an env file into the process
// environment without overriding variables that are already set. An empty
// path loads ./.env if it exists.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = DefaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads the configuration from the specified path, or searches
// default locations if path is empty.
//
// Search order:
//  1. Explicit path (if provided)
//  2. /etc/pgedge/pgedge-chat-server.yaml
//  3. pgedge-chat-server.yaml in the binary's directory
func Load(path string) (*Config, error) {
	configPath, err := findConfigFile(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{
		SystemConfigPath,
		getBinaryDirConfigPath(),
	}

	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no configuration file found; searched: %v", searchPaths)
}

func getBinaryDirConfigPath() string {
	executable, err := os.Executable()
	if err != nil {
		return ""
	}

	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return ""
	}

	return filepath.Join(filepath.Dir(executable), ConfigFileName)
}

// applyEnvOverrides lets deployment environments override server settings
// and supply secrets that should not live in the YAML file.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvListenAddress); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Sessions.RedisURL = v
	}

	weaviateKey := os.Getenv(EnvWeaviateAPIKey)
	pgPassword := os.Getenv(EnvPGPassword)
	for i := range cfg.Pipelines {
		vs := &cfg.Pipelines[i].VectorStore
		if vs.Weaviate.APIKey == "" {
			vs.Weaviate.APIKey = weaviateKey
		}
		if vs.Database.Password == "" {
			vs.Database.Password = pgPassword
		}
	}
	return nil
}

// applyDefaults applies default values to pipelines where not specified.
func applyDefaults(cfg *Config) {
	if cfg.Sessions.TTL == 0 {
		cfg.Sessions.TTL = DefaultSessionTTL
	}
	if cfg.Sessions.MaxMessages == 0 {
		cfg.Sessions.MaxMessages = DefaultMaxMessages
	}

	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]

		if p.TopK == 0 {
			p.TopK = cfg.Defaults.TopK
		}
		if p.TopK == 0 {
			p.TopK = DefaultTopK
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = cfg.Defaults.MaxTokens
		}
		if p.Temperature == nil {
			p.Temperature = cfg.Defaults.Temperature
		}

		p.EmbeddingLLM = mergeLLM(p.EmbeddingLLM, cfg.Defaults.EmbeddingLLM)
		p.RAGLLM = mergeLLM(p.RAGLLM, cfg.Defaults.RAGLLM)
		p.CondenseLLM = mergeLLM(p.CondenseLLM, cfg.Defaults.CondenseLLM)
		if p.CondenseLLM.IsZero() {
			p.CondenseLLM = p.RAGLLM
		}

		// API keys cascade: pipeline -> defaults -> global
		p.APIKeys.Anthropic = firstNonEmpty(p.APIKeys.Anthropic,
			cfg.Defaults.APIKeys.Anthropic, cfg.APIKeys.Anthropic)
		p.APIKeys.OpenAI = firstNonEmpty(p.APIKeys.OpenAI,
			cfg.Defaults.APIKeys.OpenAI, cfg.APIKeys.OpenAI)
		p.APIKeys.Voyage = firstNonEmpty(p.APIKeys.Voyage,
			cfg.Defaults.APIKeys.Voyage, cfg.APIKeys.Voyage)

		if p.Search.HybridEnabled && p.Search.Candidates == 0 {
			p.Search.Candidates = 2 * p.TopK
		}
		if p.Context.AnswerField == "" {
			p.Context.AnswerField = DefaultAnswerField
		}

		vs := &p.VectorStore
		vs.Provider = strings.ToLower(vs.Provider)
		if vs.Provider == "" {
			vs.Provider = StorePGVector
		}
		if vs.TextField == "" {
			vs.TextField = DefaultTextField
		}
		if len(vs.MetadataFields) == 0 {
			vs.MetadataFields = contextFields(p.Context, vs.TextField)
		}

		switch vs.Provider {
		case StorePGVector:
			if vs.VectorField == "" {
				vs.VectorField = DefaultVectorField
			}
			if vs.Database.Port == 0 {
				vs.Database.Port = 5432
			}
			if vs.Database.SSLMode == "" {
				vs.Database.SSLMode = "prefer"
			}
		case StoreWeaviate:
			if vs.Weaviate.Scheme == "" {
				vs.Weaviate.Scheme = "http"
			}
		}
	}
}

// contextFields returns the metadata fields the context extractor reads.
// Fields naming the text field are served from the page content.
func contextFields(c ContextConfig, textField string) []string {
	var fields []string
	for _, f := range []string{c.QuestionField, c.AnswerField} {
		if f != "" && f != textField && !slices.Contains(fields, f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// mergeLLM fills unset fields of p from d. A pipeline that names a
// different provider than the defaults does not inherit the default model.
func mergeLLM(p, d LLMConfig) LLMConfig {
	if p.Provider == "" {
		p.Provider = d.Provider
	}
	if !strings.EqualFold(p.Provider, d.Provider) {
		return p
	}
	if p.Model == "" {
		p.Model = d.Model
	}
	if p.BaseURL == "" {
		p.BaseURL = d.BaseURL
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
