// Package embed turns chunk text into vectors. Providers are selected by
// name from Config; Retrying wraps any Embedder with transient-error retry.
package embed

import (
	"context"
	"fmt"
	"strings"
)

// Embedder generates embeddings for a batch of texts. The returned slice is
// aligned with texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding space; cached vectors are keyed by it.
	Model() string
	Dim() int
}

// Config configures an embedding provider.
type Config struct {
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"` // ollama, openai, custom, fake
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	Dim      int    `json:"dim" yaml:"dim" mapstructure:"dim"`
}

// New creates an embedder from configuration.
func New(cfg Config) (Embedder, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dim)
	}
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "openai", "custom":
		return NewOpenAI(cfg)
	case "fake":
		return NewBagOfWords(cfg.Dim), nil
	case "":
		return nil, fmt.Errorf("embedding provider not specified")
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// maxEmbedChars bounds a single input. Most embedding models accept 8192
// tokens; 24000 chars leaves headroom for tokenisers with a worse ratio.
const maxEmbedChars = 24000

// Truncate cuts text to the provider input limit on a word boundary.
func Truncate(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
	}
	return text[:cut]
}

// CheckShape verifies a provider response before it reaches the store:
// one vector per input, each of dimension dim.
func CheckShape(provider string, got [][]float32, want, dim int) error {
	if len(got) != want {
		return fmt.Errorf("%s returned %d embeddings for %d inputs", provider, len(got), want)
	}
	for i, v := range got {
		if len(v) != dim {
			return fmt.Errorf("%s embedding %d has dimension %d, want %d", provider, i, len(v), dim)
		}
	}
	return nil
}

// Func adapts a plain function to Embedder.
type Func struct {
	Name      string
	Dimension int
	Fn        func(ctx context.Context, texts []string) ([][]float32, error)
}

func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.Fn(ctx, texts)
}

func (f Func) Model() string { return f.Name }

func (f Func) Dim() int { return f.Dimension }
