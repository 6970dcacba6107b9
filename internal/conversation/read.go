package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/HendryAvila/cortex/internal/store"
)

// ─── Search ──────────────────────────────────────────────────────────────────

// SearchSimilar returns the tenant's messages closest in meaning to query.
//
// limit*Overfetch candidates are requested from the shared index, hydrated
// from the metadata store, and every candidate whose row is missing or
// belongs to another tenant is dropped before ranking and truncation.
func (m *Memory) SearchSimilar(ctx context.Context, userID, query string, limit int) ([]ScoredMessage, error) {
	ctx, span := tracer.Start(ctx, "conversation.search_similar",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fail(span, fmt.Errorf("conversation: embed query: %w", err))
	}

	matches, err := m.index.Search(ctx, vec, limit*m.overfetch)
	if err != nil {
		return nil, fail(span, fmt.Errorf("conversation: index search: %w", err))
	}
	if len(matches) == 0 {
		return []ScoredMessage{}, nil
	}

	ids := make([]string, len(matches))
	for i, mt := range matches {
		ids[i] = mt.ID
	}
	rows, err := m.hydrate(ctx, ids)
	if err != nil {
		return nil, fail(span, err)
	}

	out := make([]ScoredMessage, 0, limit)
	dropped := 0
	for _, mt := range matches {
		msg, ok := rows[mt.ID]
		if !ok || msg.UserID != userID {
			dropped++
			continue
		}
		out = append(out, ScoredMessage{Message: msg, Score: mt.Score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}

	span.SetAttributes(
		attribute.Int("candidates", len(matches)),
		attribute.Int("dropped", dropped),
		attribute.Int("results", len(out)),
	)
	return out, nil
}

// hydrate loads the rows for ids keyed by message id. Unknown ids are absent
// from the result.
func (m *Memory) hydrate(ctx context.Context, ids []string) (map[string]Message, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows := make(map[string]Message, len(ids))
	err := m.db.QueryAll(ctx,
		`SELECT `+columns+` FROM messages WHERE message_id IN (`+placeholders+`)`,
		func(r store.Row) error {
			msg, err := scanMessage(r)
			if err != nil {
				return err
			}
			rows[msg.MessageID] = msg
			return nil
		}, args...)
	if err != nil {
		return nil, fmt.Errorf("conversation: hydrate: %w", err)
	}
	return rows, nil
}

// SearchByContent returns the tenant's messages whose content contains substr
// (case-sensitive), newest first.
func (m *Memory) SearchByContent(ctx context.Context, userID, substr string, limit int) ([]Message, error) {
	ctx, span := tracer.Start(ctx, "conversation.search_content",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}
	out, err := m.list(ctx,
		`SELECT `+columns+` FROM messages
		 WHERE user_id = ? AND instr(content, ?) > 0
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		userID, substr, limit)
	if err != nil {
		return nil, fail(span, fmt.Errorf("conversation: search content: %w", err))
	}
	return out, nil
}

// ─── Lookup ──────────────────────────────────────────────────────────────────

// GetMessage returns the message stored under id, or nil if there is none.
func (m *Memory) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	found, err := m.db.QueryOne(ctx,
		`SELECT `+columns+` FROM messages WHERE message_id = ?`,
		func(r store.Row) error {
			var err error
			msg, err = scanMessage(r)
			return err
		}, id)
	if err != nil {
		return nil, fmt.Errorf("conversation: get message: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &msg, nil
}

// GetConversation returns the tenant's messages in conversationID oldest
// first. With an empty conversationID it returns the tenant's most recent
// messages across conversations, newest first.
func (m *Memory) GetConversation(ctx context.Context, userID, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var (
		out []Message
		err error
	)
	if conversationID != "" {
		out, err = m.list(ctx,
			`SELECT `+columns+` FROM messages
			 WHERE user_id = ? AND conversation_id = ?
			 ORDER BY timestamp ASC, id ASC LIMIT ?`,
			userID, conversationID, limit)
	} else {
		out, err = m.list(ctx,
			`SELECT `+columns+` FROM messages
			 WHERE user_id = ?
			 ORDER BY timestamp DESC, id DESC LIMIT ?`,
			userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get conversation: %w", err)
	}
	return out, nil
}

func (m *Memory) list(ctx context.Context, query string, args ...any) ([]Message, error) {
	out := []Message{}
	err := m.db.QueryAll(ctx, query, func(r store.Row) error {
		msg, err := scanMessage(r)
		if err != nil {
			return err
		}
		out = append(out, msg)
		return nil
	}, args...)
	return out, err
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// UserStats summarizes the tenant's messages and reports the index stats.
func (m *Memory) UserStats(ctx context.Context, userID string) (*Stats, error) {
	ctx, span := tracer.Start(ctx, "conversation.user_stats",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	st := &Stats{UserID: userID, RoleCounts: map[string]int{}}
	err := m.db.Do(ctx, func(c *store.Conn) error {
		_, err := c.QueryOne(ctx,
			`SELECT COUNT(*), COUNT(DISTINCT conversation_id), MIN(timestamp), MAX(timestamp)
			 FROM messages WHERE user_id = ?`,
			func(r store.Row) error {
				return r.Scan(&st.TotalMessages, &st.ConversationCount, &st.FirstMessageAt, &st.LastMessageAt)
			}, userID)
		if err != nil {
			return err
		}
		return c.QueryAll(ctx,
			`SELECT role, COUNT(*) FROM messages WHERE user_id = ? GROUP BY role`,
			func(r store.Row) error {
				var (
					role string
					n    int
				)
				if err := r.Scan(&role, &n); err != nil {
					return err
				}
				st.RoleCounts[role] = n
				return nil
			}, userID)
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("conversation: user stats: %w", err))
	}

	idx, err := m.index.Stats(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("conversation: index stats: %w", err))
	}
	st.Index = idx
	return st, nil
}

// ─── Delete ──────────────────────────────────────────────────────────────────

// DeleteUserMessages removes all of the tenant's messages from both stores
// and returns the number of rows deleted.
//
// Every vector delete is attempted even after one fails, and the rows are
// deleted regardless. Vector failures are then reported together, wrapped in
// ErrPartialDelete, alongside the row count.
func (m *Memory) DeleteUserMessages(ctx context.Context, userID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "conversation.delete_user_messages",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	var (
		deleted    int64
		ids        []string
		vectorErrs []error
	)
	err := m.db.Do(ctx, func(c *store.Conn) error {
		err := c.QueryAll(ctx, `SELECT message_id FROM messages WHERE user_id = ?`,
			func(r store.Row) error {
				var id string
				if err := r.Scan(&id); err != nil {
					return err
				}
				ids = append(ids, id)
				return nil
			}, userID)
		if err != nil {
			return fmt.Errorf("list ids: %w", err)
		}

		for _, id := range ids {
			if err := m.index.Delete(ctx, id); err != nil {
				vectorErrs = append(vectorErrs, fmt.Errorf("%q: %w", id, err))
			}
		}

		res, err := c.Exec(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("delete rows: %w", err)
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		err = fmt.Errorf("conversation: delete user messages: %w", errors.Join(append([]error{err}, vectorErrs...)...))
		return 0, fail(span, err)
	}

	span.SetAttributes(attribute.Int64("deleted", deleted))
	if len(vectorErrs) > 0 {
		log.WithField("user_id", userID).WithField("failed", len(vectorErrs)).
			Error("tenant rows deleted but some vectors remain")
		err := fmt.Errorf("%w: %d of %d vectors not deleted: %w",
			ErrPartialDelete, len(vectorErrs), len(ids), errors.Join(vectorErrs...))
		return deleted, fail(span, err)
	}
	return deleted, nil
}
