// Package ingest is the single entry point for raw conversational text:
// normalize, sanitize, mask, append to the episodic log, classify, route
// preferences and trim the tenant's buffer.
//
// Steps are not transactional. The episodic append and the preference upsert
// are load-bearing: if either fails the call fails. Trimming runs after both
// have committed; a trim failure also fails the call, but the append and any
// upsert that preceded it stay in place.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/HendryAvila/cortex/internal/classify"
	"github.com/HendryAvila/cortex/internal/episodic"
	"github.com/HendryAvila/cortex/internal/preference"
	"github.com/HendryAvila/cortex/internal/store"
	"github.com/HendryAvila/cortex/internal/textproc"
)

const instrumentationName = "github.com/HendryAvila/cortex/internal/ingest"

var (
	log    = logrus.WithField("component", "ingest")
	tracer = otel.Tracer(instrumentationName)
)

// ErrInvalidRequest is returned for a request without a tenant or with an
// unparseable timestamp.
var ErrInvalidRequest = errors.New("ingest: invalid request")

// Defaults.
const (
	DefaultMaxEpisodes = 200
	DefaultRole        = "user"
	EpisodeSource      = "chat"
)

// Options configures a Pipeline.
type Options struct {
	// MaxEpisodes bounds each tenant's episodic buffer. Zero selects
	// DefaultMaxEpisodes; negative disables trimming.
	MaxEpisodes int
	// PIIMode defaults to textproc.PIIMask.
	PIIMode textproc.PIIMode
	// MaxTextLength defaults to textproc.DefaultMaxLength.
	MaxTextLength int
}

// Request is one piece of text to ingest.
type Request struct {
	UserID string
	Role   string
	Text   string
	// Timestamp is RFC 3339 and defaults to now. It is used for the episode
	// and for any preference the text produces.
	Timestamp string
	// Metadata is stored as JSON on the episode.
	Metadata map[string]any
}

// Result reports what Ingest did.
type Result struct {
	EpisodeID      int64                   `json:"episode_id"`
	TokenCount     int                     `json:"token_count"`
	Classification classify.Classification `json:"classification"`
	PIIMasked      bool                    `json:"pii_masked"`
	// PreferenceKey is set when a preference was upserted.
	PreferenceKey string `json:"preference_key,omitempty"`
	Trimmed       int64  `json:"trimmed"`
}

// Pipeline runs ingestion against the episodic and preference stores.
type Pipeline struct {
	episodes *episodic.Store
	prefs    *preference.Store
	opts     Options

	ingested metric.Int64Counter
}

// New returns a pipeline with opts defaults applied.
func New(episodes *episodic.Store, prefs *preference.Store, opts Options) (*Pipeline, error) {
	if opts.MaxEpisodes == 0 {
		opts.MaxEpisodes = DefaultMaxEpisodes
	}
	if opts.PIIMode == "" {
		opts.PIIMode = textproc.PIIMask
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = textproc.DefaultMaxLength
	}

	ingested, err := otel.Meter(instrumentationName).Int64Counter("cortex_ingest_total",
		metric.WithDescription("Ingested texts by classification label"))
	if err != nil {
		return nil, fmt.Errorf("ingest: create counter: %w", err)
	}

	return &Pipeline{episodes: episodes, prefs: prefs, opts: opts, ingested: ingested}, nil
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// Ingest processes req and returns the result.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.ingest",
		trace.WithAttributes(attribute.String("user_id", req.UserID)))
	defer span.End()

	if strings.TrimSpace(req.UserID) == "" {
		return nil, fail(span, fmt.Errorf("%w: user id is required", ErrInvalidRequest))
	}
	ts, err := store.CanonicalTime(req.Timestamp)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: %w", ErrInvalidRequest, err))
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = DefaultRole
	}

	var metadata *string
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fail(span, fmt.Errorf("%w: metadata: %v", ErrInvalidRequest, err))
		}
		s := string(raw)
		metadata = &s
	}

	text := textproc.Normalize(req.Text)
	text = textproc.Sanitize(text, p.opts.MaxTextLength)
	tokens := textproc.EstimateTokens(text)
	text, masked := textproc.ApplyPII(text, p.opts.PIIMode)

	source := EpisodeSource
	episodeID, err := p.episodes.Add(ctx, episodic.Episode{
		UserID:    req.UserID,
		Content:   "[" + role + "] " + text,
		Timestamp: ts,
		Tags:      &role,
		Source:    &source,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("ingest: append episode: %w", err))
	}

	res := &Result{
		EpisodeID:      episodeID,
		TokenCount:     tokens,
		Classification: classify.Classify(text),
		PIIMasked:      masked,
	}

	if key, value, ok := res.Classification.PreferenceKV(); ok {
		err := p.prefs.Upsert(ctx, preference.UpsertParams{
			UserID:          req.UserID,
			Key:             key,
			Value:           value,
			Confidence:      res.Classification.Confidence,
			SourceEpisodeID: &episodeID,
			Timestamp:       ts,
		})
		if err != nil {
			return nil, fail(span, fmt.Errorf("ingest: upsert preference: %w", err))
		}
		res.PreferenceKey = key
	}

	if p.opts.MaxEpisodes > 0 {
		trimmed, err := p.episodes.Trim(ctx, req.UserID, p.opts.MaxEpisodes)
		if err != nil {
			return nil, fail(span, fmt.Errorf("ingest: trim buffer: %w", err))
		}
		res.Trimmed = trimmed
	}

	label := string(res.Classification.Label)
	p.ingested.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
	span.SetAttributes(
		attribute.Int64("episode_id", episodeID),
		attribute.String("label", label),
		attribute.Bool("pii_masked", masked),
	)
	log.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"episode_id": episodeID,
		"label":      label,
		"tokens":     tokens,
	}).Debug("ingested")

	return res, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
