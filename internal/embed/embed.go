// Package embed turns text into fixed-size vectors.
//
// The engine treats embedding as an external capability: an Embedder is a
// pure function of its input for a given model, and its dimension is fixed
// for the lifetime of a deployment.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "embed")

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("embed: unknown provider")

// Embedder converts text to an embedding vector.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// BatchEmbedder is implemented by embedders that can embed several texts in
// one round trip.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Many embeds texts in order, using a single batch call when e supports it.
func Many(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if be, ok := e.(BatchEmbedder); ok {
		out, err := be.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(out) != len(texts) {
			return nil, fmt.Errorf("embed: batch returned %d vectors for %d texts", len(out), len(texts))
		}
		return out, nil
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed: text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// ─── Provider selection ──────────────────────────────────────────────────────

// Provider names accepted by New.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   string
	Model      string
	BaseURL    string
	APIKey     string
	Dimensions int
	// CacheSize is the number of embeddings kept in memory. Zero disables
	// caching.
	CacheSize int
}

// New builds the configured embedder, wrapped in a cache when CacheSize > 0.
func New(cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case ProviderHash, "":
		e = NewHash(cfg.Dimensions)
	case ProviderOpenAI:
		e, err = NewOpenAI(OpenAIConfig{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		c, err := NewCached(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return e, nil
}

// normalize scales vec to unit length in place. A zero vector is left as is.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
