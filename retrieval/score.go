package retrieval

import (
	"math"
	"sort"
)

// ScorerConfig weighs chunk similarity against corroboration. An item's
// score is
//
//	SimilarityWeight*bestSimilarity + min(CorroborationBoost*(n-1), CorroborationCap)
//
// where n is the number of distinct chunks that mention the item.
type ScorerConfig struct {
	SimilarityWeight   float64 `json:"similarity_weight" yaml:"similarity_weight" mapstructure:"similarity_weight"`
	CorroborationBoost float64 `json:"corroboration_boost" yaml:"corroboration_boost" mapstructure:"corroboration_boost"`
	CorroborationCap   float64 `json:"corroboration_cap" yaml:"corroboration_cap" mapstructure:"corroboration_cap"`
}

// DefaultScorerConfig returns the weights used when none are configured.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{SimilarityWeight: 1.0, CorroborationBoost: 0.05, CorroborationCap: 0.15}
}

// Candidate is an item to be ranked.
type Candidate struct {
	Key           string    // stable identity, e.g. "Weed:3"
	Similarities  []float64 // one per distinct corroborating chunk
	EffectiveDate string    // newest document date behind the item, YYYY-MM-DD
	ProductName   string
	Name          string
}

// Ranked is a scored candidate.
type Ranked struct {
	Candidate
	Score         float64
	Similarity    float64
	Corroboration int
}

// Score computes the combined score of one candidate.
func (c ScorerConfig) Score(similarities []float64) (score, best float64) {
	if len(similarities) == 0 {
		return 0, 0
	}
	best = math.Inf(-1)
	for _, s := range similarities {
		best = math.Max(best, s)
	}
	boost := math.Min(c.CorroborationBoost*float64(len(similarities)-1), c.CorroborationCap)
	return c.SimilarityWeight*best + boost, best
}

// Rank scores and orders candidates: score descending, then newer effective
// date, then product name, then name, then key. The order is total, so equal
// input yields equal output.
func (c ScorerConfig) Rank(cands []Candidate) []Ranked {
	out := make([]Ranked, len(cands))
	for i, cand := range cands {
		score, best := c.Score(cand.Similarities)
		out[i] = Ranked{Candidate: cand, Score: round(score), Similarity: best, Corroboration: len(cand.Similarities)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EffectiveDate != b.EffectiveDate {
			return a.EffectiveDate > b.EffectiveDate
		}
		if a.ProductName != b.ProductName {
			return a.ProductName < b.ProductName
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Key < b.Key
	})
	return out
}

// round drops float noise below 1e-9 so scores that are equal on paper
// compare equal and fall through to the tie-breaks.
func round(x float64) float64 {
	return math.Round(x*1e9) / 1e9
}
