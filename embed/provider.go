// Package embed provides text embedding providers for the vector index.
// Model invocation is a collaborator concern; the rest of the system
// only ever sees the Provider interface.
package embed

import (
	"context"
	"fmt"
)

// Provider generates embeddings for batches of texts. Every returned
// vector must have the dimension the store was created with.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures an embedding provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider"` // openai, ollama, local
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	Dim      int    `json:"dim" yaml:"dim"`
}

// New creates a provider from config.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "ollama", "":
		return NewOllama(cfg), nil
	case "local":
		return NewLocal(cfg.Dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
