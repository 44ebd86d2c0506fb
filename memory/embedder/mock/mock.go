// Package mock provides a deterministic hash-based embedder for tests and
// local development. Identical texts always embed to identical vectors, so
// consolidation behavior is reproducible without a model.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/mnemohq/mnemo-go-sdk/memory"
)

// Embedder generates deterministic unit vectors from a text hash.
type Embedder struct {
	dimensions int
}

var _ memory.Embedder = (*Embedder)(nil)

// New creates a mock embedder with 384 dimensions, matching
// all-MiniLM-L6-v2 so it can stand in for the ONNX embedder.
func New() *Embedder {
	return &Embedder{dimensions: 384}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimensions)
	for i := range vec {
		// LCG keeps the expansion deterministic per seed.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
