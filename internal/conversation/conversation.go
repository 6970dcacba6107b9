// Package conversation stores chat messages in two places at once: the row
// in the shared metadata store and the embedding in a vector index.
//
// The two stores fail independently and there is no two-phase commit. A
// vector write is always issued first and, when the row insert that follows
// it fails, undone with a compensating delete before the error is returned.
// Both steps run inside the metadata store's lock, so a compensation can
// never race with a concurrent add of the same id.
//
// The vector index is shared by every tenant. Search results are therefore
// filtered against the tenant recorded on the hydrated row; that filter is
// the isolation boundary.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/HendryAvila/cortex/internal/embed"
	"github.com/HendryAvila/cortex/internal/store"
	"github.com/HendryAvila/cortex/internal/vector"
)

const instrumentationName = "github.com/HendryAvila/cortex/internal/conversation"

var (
	log    = logrus.WithField("component", "conversation")
	tracer = otel.Tracer(instrumentationName)
)

var (
	// ErrInvalidMessage is returned for a message missing a required field.
	ErrInvalidMessage = errors.New("conversation: invalid message")

	// ErrDuplicateMessage is returned when a message id is already stored.
	ErrDuplicateMessage = errors.New("conversation: duplicate message id")

	// ErrPartialDelete is returned by DeleteUserMessages when rows were
	// deleted but some vectors could not be.
	ErrPartialDelete = errors.New("conversation: partial delete")
)

// Defaults.
const (
	DefaultOverfetch = 4
	DefaultLimit     = 10
)

// Schema creates the messages table and its indexes. It is idempotent.
const Schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT    NOT NULL,
		message_id      TEXT    NOT NULL UNIQUE,
		content         TEXT    NOT NULL,
		role            TEXT    NOT NULL,
		timestamp       TEXT    NOT NULL,
		conversation_id TEXT,
		metadata_json   TEXT,
		embedding_ref   TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_messages_user_ts      ON messages(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_conv_ts      ON messages(conversation_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_messages_user_role_ts ON messages(user_id, role, timestamp);
`

const columns = `user_id, message_id, content, role, timestamp, conversation_id, metadata_json`

// ─── Types ───────────────────────────────────────────────────────────────────

// Message is one stored chat message. Messages are immutable once added.
type Message struct {
	UserID         string  `json:"user_id"`
	MessageID      string  `json:"message_id"`
	Content        string  `json:"content"`
	Role           string  `json:"role"`
	Timestamp      string  `json:"timestamp"`
	ConversationID *string `json:"conversation_id,omitempty"`
	// Metadata is a JSON document stored verbatim.
	Metadata *string `json:"metadata,omitempty"`
}

// ScoredMessage is a search hit.
type ScoredMessage struct {
	Message
	Score float32 `json:"score"`
}

// Stats summarizes one tenant's messages.
type Stats struct {
	UserID            string         `json:"user_id"`
	TotalMessages     int            `json:"total_messages"`
	RoleCounts        map[string]int `json:"role_counts"`
	ConversationCount int            `json:"conversation_count"`
	FirstMessageAt    *string        `json:"first_message_at,omitempty"`
	LastMessageAt     *string        `json:"last_message_at,omitempty"`
	Index             vector.Stats   `json:"vector_index"`
}

// Options tunes a Memory.
type Options struct {
	// Overfetch multiplies the search limit to get the number of candidates
	// requested from the index. Zero selects DefaultOverfetch.
	Overfetch int
}

// Memory is the conversation store.
type Memory struct {
	db        *store.DB
	index     vector.Index
	embedder  embed.Embedder
	overfetch int

	compensations metric.Int64Counter
	compFailures  metric.Int64Counter
}

// New migrates the messages schema on db and returns a Memory. The embedder
// and the index must agree on the vector dimension.
func New(ctx context.Context, db *store.DB, index vector.Index, embedder embed.Embedder, opts Options) (*Memory, error) {
	if embedder.Dimensions() != index.Dimension() {
		return nil, fmt.Errorf("conversation: %w: embedder produces %d dimensions, index expects %d",
			vector.ErrDimensionMismatch, embedder.Dimensions(), index.Dimension())
	}
	if err := db.Migrate(ctx, Schema); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	if opts.Overfetch <= 0 {
		opts.Overfetch = DefaultOverfetch
	}

	meter := otel.Meter(instrumentationName)
	compensations, err := meter.Int64Counter("cortex_conversation_compensations",
		metric.WithDescription("Compensating vector deletes issued after a failed metadata write"))
	if err != nil {
		return nil, fmt.Errorf("conversation: create counter: %w", err)
	}
	compFailures, err := meter.Int64Counter("cortex_conversation_compensation_failures",
		metric.WithDescription("Compensating vector deletes that failed and left an orphan vector"))
	if err != nil {
		return nil, fmt.Errorf("conversation: create counter: %w", err)
	}

	return &Memory{
		db:            db,
		index:         index,
		embedder:      embedder,
		overfetch:     opts.Overfetch,
		compensations: compensations,
		compFailures:  compFailures,
	}, nil
}

// Index returns the vector index this memory writes to.
func (m *Memory) Index() vector.Index {
	return m.index
}

// prepare validates msg and canonicalizes its timestamp, defaulting to now.
func prepare(msg Message) (Message, error) {
	switch {
	case strings.TrimSpace(msg.UserID) == "":
		return msg, fmt.Errorf("%w: user id is required", ErrInvalidMessage)
	case strings.TrimSpace(msg.MessageID) == "":
		return msg, fmt.Errorf("%w: message id is required", ErrInvalidMessage)
	case strings.TrimSpace(msg.Role) == "":
		return msg, fmt.Errorf("%w: role is required", ErrInvalidMessage)
	case msg.Content == "":
		return msg, fmt.Errorf("%w: content is required", ErrInvalidMessage)
	}
	ts, err := store.CanonicalTime(msg.Timestamp)
	if err != nil {
		return msg, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	msg.Timestamp = ts
	return msg, nil
}

func scanMessage(r store.Row) (Message, error) {
	var msg Message
	err := r.Scan(&msg.UserID, &msg.MessageID, &msg.Content, &msg.Role, &msg.Timestamp,
		&msg.ConversationID, &msg.Metadata)
	return msg, err
}
