package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/HendryAvila/cortex/internal/embed"
	"github.com/HendryAvila/cortex/internal/store"
	"github.com/HendryAvila/cortex/internal/vector"
)

const insertSQL = `INSERT INTO messages (` + columns + `, embedding_ref) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func insertArgs(msg Message) []any {
	return []any{
		msg.UserID, msg.MessageID, msg.Content, msg.Role, msg.Timestamp,
		msg.ConversationID, msg.Metadata, msg.MessageID,
	}
}

// AddMessage embeds msg, writes its vector and then its row, and returns the
// message id. If the row cannot be written the vector is deleted again before
// the error is returned.
//
// An id that already has a row yields ErrDuplicateMessage before the index is
// touched, so the stored message keeps its vector.
func (m *Memory) AddMessage(ctx context.Context, msg Message) (string, error) {
	ctx, span := tracer.Start(ctx, "conversation.add_message",
		trace.WithAttributes(
			attribute.String("user_id", msg.UserID),
			attribute.String("message_id", msg.MessageID),
		))
	defer span.End()

	msg, err := prepare(msg)
	if err != nil {
		return "", fail(span, err)
	}

	vec, err := m.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return "", fail(span, fmt.Errorf("conversation: embed: %w", err))
	}

	err = m.db.Do(ctx, func(c *store.Conn) error {
		if err := rejectStored(ctx, c, []string{msg.MessageID}); err != nil {
			return err
		}
		if err := m.index.Add(ctx, []string{msg.MessageID}, [][]float32{vec}); err != nil {
			return m.indexFailure(ctx, []string{msg.MessageID}, err)
		}
		if _, err := c.Exec(ctx, insertSQL, insertArgs(msg)...); err != nil {
			return m.compensate(ctx, []string{msg.MessageID}, insertError(msg.MessageID, err))
		}
		return nil
	})
	if err != nil {
		return "", fail(span, err)
	}
	return msg.MessageID, nil
}

// AddMessages stores a batch with the same contract as AddMessage, all or
// nothing. A batch naming an already stored id is rejected before any write;
// any later failure, including an id repeated within the batch, removes every
// vector of the batch and no row is kept.
func (m *Memory) AddMessages(ctx context.Context, msgs []Message) ([]string, error) {
	ctx, span := tracer.Start(ctx, "conversation.add_messages",
		trace.WithAttributes(attribute.Int("batch_size", len(msgs))))
	defer span.End()

	if len(msgs) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(msgs))
	texts := make([]string, len(msgs))
	params := make([][]any, len(msgs))
	for i := range msgs {
		msg, err := prepare(msgs[i])
		if err != nil {
			return nil, fail(span, fmt.Errorf("message %d: %w", i, err))
		}
		ids[i] = msg.MessageID
		texts[i] = msg.Content
		params[i] = insertArgs(msg)
	}

	vecs, err := embed.Many(ctx, m.embedder, texts)
	if err != nil {
		return nil, fail(span, fmt.Errorf("conversation: embed batch: %w", err))
	}

	err = m.db.Do(ctx, func(c *store.Conn) error {
		if err := rejectStored(ctx, c, ids); err != nil {
			return err
		}
		if err := m.index.Add(ctx, ids, vecs); err != nil {
			return m.indexFailure(ctx, ids, err)
		}
		if _, err := c.ExecMany(ctx, insertSQL, params); err != nil {
			return m.compensate(ctx, ids, insertError("", err))
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}
	return ids, nil
}

// rejectStored returns ErrDuplicateMessage naming every id in ids that
// already has a row. It runs inside the write's lock.
func rejectStored(ctx context.Context, c *store.Conn, ids []string) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")

	var stored []string
	err := c.QueryAll(ctx,
		`SELECT message_id FROM messages WHERE message_id IN (`+placeholders+`) ORDER BY id`,
		func(r store.Row) error {
			var id string
			if err := r.Scan(&id); err != nil {
				return err
			}
			stored = append(stored, id)
			return nil
		},
		args...,
	)
	if err != nil {
		return fmt.Errorf("conversation: check existing ids: %w", err)
	}
	if len(stored) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, strings.Join(quoteAll(stored), ", "))
	}
	return nil
}

func quoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("%q", id)
	}
	return out
}

// indexFailure handles a failed vector write. A rejected batch wrote
// nothing; any other failure may have applied part of the batch, so it is
// compensated like a failed insert.
func (m *Memory) indexFailure(ctx context.Context, ids []string, err error) error {
	err = fmt.Errorf("conversation: index add: %w", err)
	if errors.Is(err, vector.ErrDimensionMismatch) {
		return err
	}
	return m.compensate(ctx, ids, err)
}

// compensate deletes the vectors of ids after cause. Every id is attempted;
// failures are joined onto cause, which stays matchable with errors.Is.
func (m *Memory) compensate(ctx context.Context, ids []string, cause error) error {
	ctx, span := tracer.Start(ctx, "conversation.compensate",
		trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer span.End()

	errs := []error{cause}
	for _, id := range ids {
		m.compensations.Add(ctx, 1)
		if err := m.index.Delete(ctx, id); err != nil {
			m.compFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("message_id", id)))
			log.WithError(err).WithField("message_id", id).
				Error("compensating vector delete failed, orphan vector left in index")
			errs = append(errs, fmt.Errorf("compensate %q: %w", id, err))
		}
	}

	log.WithError(cause).WithField("ids", len(ids)).Warn("metadata write failed, vectors compensated")
	if len(errs) > 1 {
		span.SetStatus(codes.Error, "compensation incomplete")
	}
	return errors.Join(errs...)
}

func insertError(id string, err error) error {
	if store.IsUniqueViolation(err) {
		if id != "" {
			return fmt.Errorf("%w: %q: %v", ErrDuplicateMessage, id, err)
		}
		return fmt.Errorf("%w: %v", ErrDuplicateMessage, err)
	}
	return fmt.Errorf("conversation: insert: %w", err)
}

// fail records err on span and returns it.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
