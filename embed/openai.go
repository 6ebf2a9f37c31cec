package embed

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bbiangul/agrokg/kgerr"
)

// openAIEmbedder uses the OpenAI embeddings API or any compatible server
// reachable through BaseURL.
//
//	text-embedding-3-small  (1536 dim)  default
//	text-embedding-3-large  (3072 dim)
type openAIEmbedder struct {
	client openaisdk.Client
	cfg    Config
}

// NewOpenAI creates an OpenAI-compatible embedder. An API key is required
// unless BaseURL points at a local server.
func NewOpenAI(cfg Config) (Embedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai: missing api_key in config")
	}
	if cfg.Model == "" {
		cfg.Model = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openAIEmbedder{client: openaisdk.NewClient(opts...), cfg: cfg}, nil
}

func (p *openAIEmbedder) Model() string { return p.cfg.Model }

func (p *openAIEmbedder) Dim() int { return p.cfg.Dim }

func (p *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(p.cfg.Model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.cfg.Model != string(openaisdk.EmbeddingModelTextEmbeddingAda002) {
		params.Dimensions = openaisdk.Int(int64(p.cfg.Dim))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openaisdk.Error
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
			return nil, fmt.Errorf("openai embed: %w", err)
		}
		return nil, kgerr.Wrap(err, kgerr.CodeEmbedTransient, "openai embed request failed")
	}

	result := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		result[d.Index] = float64sToFloat32s(d.Embedding)
	}
	if err := CheckShape("openai", result, len(texts), p.cfg.Dim); err != nil {
		return nil, err
	}
	return result, nil
}
