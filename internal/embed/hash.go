package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Hash is a deterministic embedder for tests and offline use. Equal texts get
// equal vectors; distinct texts get unrelated ones. It carries no meaning.
type Hash struct {
	dimensions int
}

// NewHash creates a hash embedder. dims <= 0 selects DefaultDimensions.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Hash{dimensions: dims}
}

// Embed seeds a linear congruential generator with the FNV-1a hash of text
// and returns the normalized sequence.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(text))
	seed := f.Sum64()

	vec := make([]float32, h.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (h *Hash) Dimensions() int {
	return h.dimensions
}
