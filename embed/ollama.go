package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bbiangul/agrokg/kgerr"
)

// ollamaEmbedder calls Ollama's native /api/embed endpoint, which accepts a
// batch of inputs in one request.
type ollamaEmbedder struct {
	cfg    Config
	client *http.Client
}

// NewOllama creates an embedder for a local Ollama server.
func NewOllama(cfg Config) Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	// Generous: Ollama loads the model on first request.
	return &ollamaEmbedder{cfg: cfg, client: &http.Client{Timeout: 120 * time.Second}}
}

func (p *ollamaEmbedder) Model() string { return p.cfg.Model }

func (p *ollamaEmbedder) Dim() int { return p.cfg.Dim }

func (p *ollamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ollamaEmbedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/embed", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, kgerr.Wrap(err, kgerr.CodeEmbedTransient, "ollama embed request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama embed error %d: %s", resp.StatusCode, string(body))
		if retryableStatus(resp.StatusCode) {
			return nil, kgerr.Wrap(err, kgerr.CodeEmbedTransient, "ollama unavailable",
				kgerr.Field("status", resp.StatusCode))
		}
		return nil, err
	}

	var out ollamaEmbedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding ollama embed response: %w", err)
	}

	result := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		result[i] = float64sToFloat32s(emb)
	}
	if err := CheckShape("ollama", result, len(texts), p.cfg.Dim); err != nil {
		return nil, err
	}
	return result, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func float64sToFloat32s(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
