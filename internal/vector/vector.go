// Package vector provides the similarity index behind conversation memory.
//
// Two backends exist and the set is closed: a local exact index that keeps
// its vectors in process and writes them through to two sidecar files, and a
// remote managed index reached over HTTP. Both satisfy Index; the backend is
// picked once, by Open, from a validated Config.
package vector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "vector")

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension, or ids and vectors are not paired one to one.
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")

	// ErrBackendUnavailable wraps remote failures that survived retrying.
	ErrBackendUnavailable = errors.New("vector: backend unavailable")

	// ErrCorruptedSnapshot is returned by LoadLocal when the two sidecar
	// artifacts do not describe the same index.
	ErrCorruptedSnapshot = errors.New("vector: corrupted snapshot")

	// ErrInvalidConfig is returned by Open for a configuration the chosen
	// backend cannot run with.
	ErrInvalidConfig = errors.New("vector: invalid config")
)

// Kind names an index backend.
type Kind string

// Supported backends.
const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Match is one search hit.
type Match struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// Stats describes an index for observability output.
type Stats struct {
	Backend      Kind   `json:"backend"`
	TotalVectors int    `json:"total_vectors"`
	Dimension    int    `json:"dimension"`
	IndexName    string `json:"index_name,omitempty"`
	Location     string `json:"location,omitempty"`
}

// Index is the capability set shared by every backend.
//
// Add overwrites vectors whose id is already present; an id never has two
// entries. Search returns at most k matches by descending score and an empty
// slice on an empty index. Delete of an unknown id is a no-op.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Match, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
	Dimension() int
	Close() error

	// backend keeps the set of implementations closed to this package.
	backend() Kind
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config selects and configures a backend.
type Config struct {
	Kind      Kind
	Dimension int
	Local     LocalConfig
	Remote    RemoteConfig
}

// LocalConfig configures the local exact index.
type LocalConfig struct {
	// Dir holds the sidecar artifacts. Empty keeps the index in memory only.
	Dir string
	// ResetOnCorruption starts from an empty index when the sidecars on disk
	// disagree, instead of failing Open.
	ResetOnCorruption bool
}

// Validate checks the configuration of the selected backend.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	switch c.Kind {
	case KindLocal:
		return nil
	case KindRemote:
		return c.Remote.validate()
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Kind)
	}
}

func (c RemoteConfig) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: remote host is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Host)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: remote host %q is not an absolute URL", ErrInvalidConfig, c.Host)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: remote api key is required", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Open validates cfg and constructs the selected backend.
//
// For the local backend Open loads the sidecar artifacts. A corrupted pair
// is either reported (the default) or, with ResetOnCorruption, logged and
// replaced by an empty index.
func Open(cfg Config) (Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindRemote:
		idx, err := NewRemote(cfg.Remote, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		idx, err := LoadLocal(cfg.Local.Dir, cfg.Dimension)
		if err == nil {
			return idx, nil
		}
		if !errors.Is(err, ErrCorruptedSnapshot) || !cfg.Local.ResetOnCorruption {
			return nil, err
		}
		log.WithError(err).WithField("dir", cfg.Local.Dir).
			Warn("inconsistent local index snapshot, resetting to empty")
		if idx, err = NewLocal(cfg.Local.Dir, cfg.Dimension); err != nil {
			return nil, err
		}
		return idx, nil
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func validateBatch(dim int, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("%w: %d ids for %d vectors", ErrDimensionMismatch, len(ids), len(vectors))
	}
	for i, v := range vectors {
		if ids[i] == "" {
			return fmt.Errorf("vector: empty id at position %d", i)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: id %q has %d dimensions, index has %d", ErrDimensionMismatch, ids[i], len(v), dim)
		}
	}
	return nil
}

func validateQuery(dim int, query []float32) error {
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), dim)
	}
	return nil
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
