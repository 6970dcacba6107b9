// Package episodic keeps a per-tenant, time-ordered log of raw ingested
// events. Episodes are append-only and are removed only by retention.
package episodic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/HendryAvila/cortex/internal/store"
)

var log = logrus.WithField("component", "episodic")

// ErrInvalidEpisode is returned for an episode without tenant or content.
var ErrInvalidEpisode = errors.New("episodic: invalid episode")

// DefaultLimit applies when a read is called with limit <= 0.
const DefaultLimit = 50

// Schema creates the episodes table. It is idempotent.
const Schema = `
	CREATE TABLE IF NOT EXISTS episodes (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id       TEXT    NOT NULL,
		content       TEXT    NOT NULL,
		timestamp     TEXT    NOT NULL,
		tags          TEXT,
		source        TEXT,
		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_episodes_user_ts ON episodes(user_id, timestamp);
`

const columns = `id, user_id, content, timestamp, tags, source, metadata_json`

// Episode is one stored event.
type Episode struct {
	ID        int64   `json:"id"`
	UserID    string  `json:"user_id"`
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp"`
	Tags      *string `json:"tags,omitempty"`
	Source    *string `json:"source,omitempty"`
	Metadata  *string `json:"metadata,omitempty"`
}

// Store is the episodic log over a shared metadata store.
type Store struct {
	db *store.DB
}

// New migrates the episodes schema on db and returns the store.
func New(ctx context.Context, db *store.DB) (*Store, error) {
	if err := db.Migrate(ctx, Schema); err != nil {
		return nil, fmt.Errorf("episodic: %w", err)
	}
	return &Store{db: db}, nil
}

// Add appends e and returns its id. Ids grow monotonically. An empty
// Timestamp is set to now.
func (s *Store) Add(ctx context.Context, e Episode) (int64, error) {
	args, err := insertArgs(e)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(ctx, insertSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("episodic: add: %w", err)
	}
	return res.LastInsertID, nil
}

// AddMany appends all episodes in one transaction and returns how many were
// written. Either all are stored or none.
func (s *Store) AddMany(ctx context.Context, episodes []Episode) (int64, error) {
	params := make([][]any, 0, len(episodes))
	for i, e := range episodes {
		args, err := insertArgs(e)
		if err != nil {
			return 0, fmt.Errorf("episode %d: %w", i, err)
		}
		params = append(params, args)
	}
	n, err := s.db.ExecMany(ctx, insertSQL, params)
	if err != nil {
		return 0, fmt.Errorf("episodic: add many: %w", err)
	}
	return n, nil
}

const insertSQL = `INSERT INTO episodes (user_id, content, timestamp, tags, source, metadata_json) VALUES (?, ?, ?, ?, ?, ?)`

func insertArgs(e Episode) ([]any, error) {
	if strings.TrimSpace(e.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidEpisode)
	}
	if e.Content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidEpisode)
	}
	ts, err := store.CanonicalTime(e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEpisode, err)
	}
	return []any{e.UserID, e.Content, ts, e.Tags, e.Source, e.Metadata}, nil
}

// Timeline returns the tenant's episodes, newest first. When since is set,
// only episodes with timestamp >= since are returned.
func (s *Store) Timeline(ctx context.Context, userID string, limit int, since string) ([]Episode, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT ` + columns + ` FROM episodes WHERE user_id = ?`
	args := []any{userID}
	if strings.TrimSpace(since) != "" {
		var err error
		if since, err = boundary("since", since); err != nil {
			return nil, err
		}
		query += " AND timestamp >= ?"
		args = append(args, since)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	out, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("episodic: timeline: %w", err)
	}
	return out, nil
}

// Search returns the tenant's episodes whose content contains substr
// (case-sensitive), newest first.
func (s *Store) Search(ctx context.Context, userID, substr string, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	out, err := s.query(ctx,
		`SELECT `+columns+` FROM episodes
		 WHERE user_id = ? AND instr(content, ?) > 0
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		userID, substr, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("episodic: search: %w", err)
	}
	return out, nil
}

// Count returns how many episodes the tenant has.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	var n int
	_, err := s.db.QueryOne(ctx, `SELECT COUNT(*) FROM episodes WHERE user_id = ?`,
		func(r store.Row) error { return r.Scan(&n) }, userID)
	if err != nil {
		return 0, fmt.Errorf("episodic: count: %w", err)
	}
	return n, nil
}

// ─── Retention ───────────────────────────────────────────────────────────────

// DeleteBefore removes the tenant's episodes with timestamp strictly less
// than cutoff and returns how many were removed.
func (s *Store) DeleteBefore(ctx context.Context, userID, cutoff string) (int64, error) {
	cutoff, err := boundary("cutoff", cutoff)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(ctx, `DELETE FROM episodes WHERE user_id = ? AND timestamp < ?`, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("episodic: delete before: %w", err)
	}
	return res.RowsAffected, nil
}

// boundary canonicalizes a caller-supplied time bound. Unlike an episode
// timestamp it has no default.
func boundary(name, ts string) (string, error) {
	if strings.TrimSpace(ts) == "" {
		return "", fmt.Errorf("episodic: %s: %w: empty", name, store.ErrInvalidTimestamp)
	}
	c, err := store.CanonicalTime(ts)
	if err != nil {
		return "", fmt.Errorf("episodic: %s: %w", name, err)
	}
	return c, nil
}

// Trim bounds the tenant's buffer to keep episodes: the cutoff is the
// timestamp of the keep-th most recent episode and everything strictly older
// is deleted. Episodes sharing the cutoff timestamp all survive, so the
// buffer can hold more than keep rows. keep <= 0 disables trimming.
func (s *Store) Trim(ctx context.Context, userID string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	var deleted int64
	err := s.db.Do(ctx, func(c *store.Conn) error {
		var cutoff string
		found, err := c.QueryOne(ctx,
			`SELECT timestamp FROM episodes WHERE user_id = ?
			 ORDER BY timestamp DESC, id DESC LIMIT 1 OFFSET ?`,
			func(r store.Row) error { return r.Scan(&cutoff) },
			userID, keep-1,
		)
		if err != nil || !found {
			return err
		}
		res, err := c.Exec(ctx, `DELETE FROM episodes WHERE user_id = ? AND timestamp < ?`, userID, cutoff)
		if err != nil {
			return err
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("episodic: trim: %w", err)
	}

	if deleted > 0 {
		log.WithField("user_id", userID).WithField("deleted", deleted).WithField("keep", keep).
			Debug("episodic buffer trimmed")
	}
	return deleted, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Episode, error) {
	out := []Episode{}
	err := s.db.QueryAll(ctx, query, func(r store.Row) error {
		var e Episode
		if err := r.Scan(&e.ID, &e.UserID, &e.Content, &e.Timestamp, &e.Tags, &e.Source, &e.Metadata); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	}, args...)
	return out, err
}
