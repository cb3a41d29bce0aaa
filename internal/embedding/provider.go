// Package embedding talks to an external embedding provider and batches,
// rate-limits, and retries calls into it on the pipeline's behalf.
package embedding

import (
	"context"
	"fmt"
	"os"
)

// Provider generates embedding vectors for text. Implementations wrap a
// specific backend (Ollama, OpenAI, ...).
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// Config configures a Provider.
type Config struct {
	Provider  string
	Model     string
	Endpoint  string
	APIKeyEnv string
	Dimension int
	BatchSize int
}

// DefaultConfigs holds conservative per-provider defaults.
var DefaultConfigs = map[string]*Config{
	"ollama": {
		Provider:  "ollama",
		Model:     "nomic-embed-text",
		Endpoint:  "http://localhost:11434",
		Dimension: 768,
		BatchSize: 64,
	},
	"openai": {
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		APIKeyEnv: "OPENAI_API_KEY",
		Dimension: 1536,
		BatchSize: 100,
	},
}

// NewProvider builds the Provider named by config.Provider.
func NewProvider(config *Config) (Provider, error) {
	switch config.Provider {
	case "ollama":
		return NewOllamaProvider(config)
	case "openai":
		return NewOpenAIProvider(config)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}
}

// GetAPIKey reads an API key from the environment, erroring if unset.
func GetAPIKey(envVar string) (string, error) {
	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	return key, nil
}

// AvailableProviders lists the provider names NewProvider accepts.
func AvailableProviders() []string {
	return []string{"ollama", "openai"}
}

// ValidateConfig fills in provider-specific defaults and checks that any
// required credentials are present.
func ValidateConfig(config *Config) error {
	if config.Provider == "" {
		return fmt.Errorf("provider is required")
	}

	switch config.Provider {
	case "ollama":
		if config.Endpoint == "" {
			config.Endpoint = DefaultConfigs["ollama"].Endpoint
		}
		if config.Model == "" {
			config.Model = DefaultConfigs["ollama"].Model
		}
	case "openai":
		if config.APIKeyEnv == "" {
			config.APIKeyEnv = DefaultConfigs["openai"].APIKeyEnv
		}
		if _, err := GetAPIKey(config.APIKeyEnv); err != nil {
			return fmt.Errorf("OpenAI API key not configured: %w", err)
		}
		if config.Model == "" {
			config.Model = DefaultConfigs["openai"].Model
		}
	default:
		return fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}
	return nil
}
