package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/viterin/vek/vek32"

	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/store"
)

// ChunkResult is a chunk returned as text evidence.
type ChunkResult struct {
	ChunkID       int64   `json:"chunk_id"`
	Document      string  `json:"document"`
	EffectiveDate string  `json:"effective_date,omitempty"`
	Seq           int     `json:"seq"`
	SectionType   string  `json:"section_type"`
	Text          string  `json:"text"`
	Similarity    float64 `json:"similarity"`
}

// VectorQuery embeds text with the indexing embedder and returns the top k
// chunks by cosine similarity. Chunks without an embedding never match.
func (e *Engine) VectorQuery(ctx context.Context, text string, k int) ([]ChunkResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalidQuery("text", "is required")
	}
	if err := e.checkK(k); err != nil {
		return nil, err
	}
	qv, err := e.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.vectorHits(ctx, qv, k)
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedder.Embed(ctx, []string{embed.Truncate(text)})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedding query: empty embedding returned")
	}
	return vecs[0], nil
}

// vectorHits runs the vec0 KNN search and re-scores candidates with exact
// cosine similarity so the order does not depend on index internals.
func (e *Engine) vectorHits(ctx context.Context, qv []float32, k int) ([]ChunkResult, error) {
	hits, err := e.store.VectorSearch(ctx, qv, k)
	if err != nil {
		return nil, err
	}
	out := make([]ChunkResult, len(hits))
	for i, h := range hits {
		out[i] = chunkResult(h, similarity(qv, h))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func similarity(qv []float32, h store.ChunkHit) float64 {
	if len(h.Embedding) == len(qv) {
		// NaN for zero vectors.
		if s := float64(vek32.CosineSimilarity(qv, h.Embedding)); !math.IsNaN(s) {
			return round(s)
		}
	}
	return round(1 - h.Distance)
}

func chunkResult(h store.ChunkHit, sim float64) ChunkResult {
	return ChunkResult{
		ChunkID:       h.ID,
		Document:      h.DocumentSourceID,
		EffectiveDate: h.EffectiveDate,
		Seq:           h.Seq,
		SectionType:   h.SectionType,
		Text:          h.Text,
		Similarity:    sim,
	}
}
