package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// upsertBatchSize caps the vectors sent per upsert request.
const upsertBatchSize = 100

// RemoteConfig configures the managed index client. The wire format is the
// Pinecone data plane.
type RemoteConfig struct {
	// Host is the index endpoint, e.g. https://my-index-abc123.svc.pinecone.io.
	Host      string
	APIKey    string
	Namespace string
	IndexName string

	// Timeout bounds each HTTP request. Zero means 10s.
	Timeout time.Duration
	// MaxRetries bounds retries of a failed request. Zero disables retrying.
	MaxRetries int
	// RateLimit caps requests per second. Zero disables client-side limiting.
	RateLimit int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// StatusError is a non-2xx reply from the remote index.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote index returned %d: %s", e.Code, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Remote is an Index backed by a managed vector service.
type Remote struct {
	cfg     RemoteConfig
	dim     int
	host    string
	client  *http.Client
	limiter *rate.Limiter
}

// NewRemote validates cfg and returns a client. No request is made.
func NewRemote(cfg RemoteConfig, dim int) (*Remote, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	return &Remote{
		cfg:     cfg,
		dim:     dim,
		host:    strings.TrimRight(cfg.Host, "/"),
		client:  client,
		limiter: limiter,
	}, nil
}

// ─── Wire types ──────────────────────────────────────────────────────────────

type remoteVector struct {
	ID     string    `json:"id"`
	Values []float32 `json:"values"`
}

type upsertRequest struct {
	Vectors   []remoteVector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace,omitempty"`
	IncludeValues   bool      `json:"includeValues"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID    string  `json:"id"`
		Score float32 `json:"score"`
	} `json:"matches"`
}

type deleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace,omitempty"`
}

type statsResponse struct {
	Dimension        int `json:"dimension"`
	TotalVectorCount int `json:"totalVectorCount"`
	Namespaces       map[string]struct {
		VectorCount int `json:"vectorCount"`
	} `json:"namespaces"`
}

// ─── Index ───────────────────────────────────────────────────────────────────

// Add upserts vectors in batches. Upsert is keyed by id, so a retried batch
// overwrites rather than duplicates.
func (r *Remote) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if err := validateBatch(r.dim, ids, vectors); err != nil {
		return err
	}

	for start := 0; start < len(ids); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(ids))
		req := upsertRequest{Namespace: r.cfg.Namespace}
		for i := start; i < end; i++ {
			req.Vectors = append(req.Vectors, remoteVector{ID: ids[i], Values: vectors[i]})
		}
		if err := r.call(ctx, "/vectors/upsert", req, nil); err != nil {
			return fmt.Errorf("vector: remote upsert: %w", err)
		}
	}
	return nil
}

// Search queries the service. Ties keep the order the service returned.
func (r *Remote) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := validateQuery(r.dim, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	var resp queryResponse
	err := r.call(ctx, "/query", queryRequest{
		Vector:    query,
		TopK:      k,
		Namespace: r.cfg.Namespace,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("vector: remote query: %w", err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, Match{ID: m.ID, Score: m.Score})
	}
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes id. The service treats unknown ids as a no-op.
func (r *Remote) Delete(ctx context.Context, id string) error {
	err := r.call(ctx, "/vectors/delete", deleteRequest{
		IDs:       []string{id},
		Namespace: r.cfg.Namespace,
	}, nil)
	if err != nil {
		return fmt.Errorf("vector: remote delete %q: %w", id, err)
	}
	return nil
}

// Stats reports the vector count of the configured namespace, or of the whole
// index when no namespace is set.
func (r *Remote) Stats(ctx context.Context) (Stats, error) {
	var resp statsResponse
	if err := r.call(ctx, "/describe_index_stats", struct{}{}, &resp); err != nil {
		return Stats{}, fmt.Errorf("vector: remote stats: %w", err)
	}

	total := resp.TotalVectorCount
	if r.cfg.Namespace != "" {
		total = resp.Namespaces[r.cfg.Namespace].VectorCount
	}
	return Stats{
		Backend:      KindRemote,
		TotalVectors: total,
		Dimension:    r.dim,
		IndexName:    r.cfg.IndexName,
		Location:     r.host,
	}, nil
}

// Dimension returns the fixed vector size of this index.
func (r *Remote) Dimension() int { return r.dim }

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *Remote) backend() Kind { return KindRemote }

// ─── Transport ───────────────────────────────────────────────────────────────

// call POSTs body to path and decodes the reply into out (when non-nil),
// retrying transient failures with exponential backoff.
func (r *Remote) call(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff()
	b = backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(r.cfg.MaxRetries))

	attempt := 0
	op := func() error {
		attempt++
		err := r.do(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("path", path).WithField("attempt", attempt).
			WithField("wait", wait).Warn("remote index request failed, retrying")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return err
		}
		return fmt.Errorf("%w: %s after %d attempt(s): %v", ErrBackendUnavailable, path, attempt, err)
	}
	return nil
}

func (r *Remote) do(ctx context.Context, path string, payload []byte, out any) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.host+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", r.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
