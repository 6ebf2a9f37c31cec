package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// BagOfWords is a deterministic offline embedder: each lowercase word is
// hashed into one of Dim buckets and the counts are L2-normalised. Texts that
// share vocabulary land close together under cosine distance.
type BagOfWords struct {
	dim int
}

func NewBagOfWords(dim int) *BagOfWords {
	return &BagOfWords{dim: dim}
}

func (b *BagOfWords) Model() string { return "bag-of-words" }

func (b *BagOfWords) Dim() int { return b.dim }

func (b *BagOfWords) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.vector(t)
	}
	return out, nil
}

func (b *BagOfWords) vector(text string) []float32 {
	v := make([]float32, b.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(b.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// Empty text still needs a valid cosine vector.
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
