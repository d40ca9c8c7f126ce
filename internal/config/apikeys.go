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
	"strings"
)

// Environment variable names for API keys.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvVoyageAPIKey    = "VOYAGE_API_KEY"
)

// Default API key file paths (relative to home directory).
const (
	DefaultAnthropicKeyFile = ".anthropic-api-key"
	DefaultOpenAIKeyFile    = ".openai-api-key"
	DefaultVoyageKeyFile    = ".voyage-api-key"
)

// LoadedKeys holds all loaded API keys.
type LoadedKeys struct {
	Anthropic string
	OpenAI    string
	Voyage    string
}

// keySource describes where one provider's key may come from.
type keySource struct {
	name        string
	configPath  string
	envVar      string
	defaultFile string
	dest        *string
}

// APIKeyLoader handles loading API keys from configured paths, environment
// variables, or default file locations.
type APIKeyLoader struct {
	config APIKeysConfig
}

// NewAPIKeyLoader creates a new API key loader with the given configuration.
func NewAPIKeyLoader(cfg APIKeysConfig) *APIKeyLoader {
	return &APIKeyLoader{config: cfg}
}

// LoadKeysForPipeline loads only the API keys required by the providers a
// pipeline uses. The loader should be built from the pipeline's effective
// (already cascaded) key configuration. Ollama needs no key.
func (l *APIKeyLoader) LoadKeysForPipeline(pipeline Pipeline) (*LoadedKeys, error) {
	keys := &LoadedKeys{}

	needed := map[string]bool{}
	for _, llm := range []LLMConfig{pipeline.EmbeddingLLM, pipeline.RAGLLM, pipeline.CondenseLLM} {
		needed[strings.ToLower(llm.Provider)] = true
	}

	sources := []keySource{
		{"anthropic", l.config.Anthropic, EnvAnthropicAPIKey, DefaultAnthropicKeyFile, &keys.Anthropic},
		{"openai", l.config.OpenAI, EnvOpenAIAPIKey, DefaultOpenAIKeyFile, &keys.OpenAI},
		{"voyage", l.config.Voyage, EnvVoyageAPIKey, DefaultVoyageKeyFile, &keys.Voyage},
	}
	for _, src := range sources {
		if !needed[src.name] {
			continue
		}
		key, err := loadKey(src)
		if err != nil {
			return nil, err
		}
		*src.dest = key
	}

	return keys, nil
}

// loadKey resolves a key in priority order: configured file path,
// environment variable, then ~/.<provider>-api-key.
func loadKey(src keySource) (string, error) {
	if src.configPath != "" {
		return readKeyFile(expandPath(src.configPath), src.name)
	}

	if key := strings.TrimSpace(os.Getenv(src.envVar)); key != "" {
		return key, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	path := filepath.Join(homeDir, src.defaultFile)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf(
			"%s API key not found: set %s environment variable or create %s",
			src.name, src.envVar, path)
	}

	return readKeyFile(path, src.name)
}

func readKeyFile(path, providerName string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s API key file not found: %s", providerName, path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s API key: %w", providerName, err)
	}

	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("%s API key file is empty: %s", providerName, path)
	}

	return key, nil
}
