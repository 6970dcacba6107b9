// Package preference stores structured per-tenant preferences with
// last-writer-wins semantics: one row per (tenant, key), fully replaced on
// every write, no history.
package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/cortex/internal/store"
)

// ErrInvalidPreference is returned for malformed upsert input.
var ErrInvalidPreference = errors.New("preference: invalid preference")

// Schema creates the preferences table. It is idempotent.
const Schema = `
	CREATE TABLE IF NOT EXISTS preferences (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id           TEXT    NOT NULL,
		key               TEXT    NOT NULL,
		value             TEXT    NOT NULL,
		confidence        REAL    NOT NULL,
		source_episode_id INTEGER,
		last_updated      TEXT    NOT NULL,
		UNIQUE(user_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_preferences_user ON preferences(user_id);
`

// Preference is one stored row. Value is the JSON encoding of what was
// upserted.
type Preference struct {
	UserID          string          `json:"user_id"`
	Key             string          `json:"key"`
	Value           json.RawMessage `json:"value"`
	Confidence      float64         `json:"confidence"`
	SourceEpisodeID *int64          `json:"source_episode_id,omitempty"`
	LastUpdated     string          `json:"last_updated"`
}

// UpsertParams holds input for Upsert.
type UpsertParams struct {
	UserID          string
	Key             string
	Value           any
	Confidence      float64
	SourceEpisodeID *int64
	// Timestamp defaults to now.
	Timestamp string
}

// Store is the preference table over a shared metadata store.
type Store struct {
	db *store.DB
}

// New migrates the preferences schema on db and returns the store.
func New(ctx context.Context, db *store.DB) (*Store, error) {
	if err := db.Migrate(ctx, Schema); err != nil {
		return nil, fmt.Errorf("preference: %w", err)
	}
	return &Store{db: db}, nil
}

// Upsert writes p in one statement: inserted if (tenant, key) is new,
// otherwise value, confidence, provenance and timestamp are replaced.
func (s *Store) Upsert(ctx context.Context, p UpsertParams) error {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%w: user id and key are required", ErrInvalidPreference)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidPreference, p.Confidence)
	}
	value, err := json.Marshal(p.Value)
	if err != nil {
		return fmt.Errorf("%w: value is not JSON-serializable: %v", ErrInvalidPreference, err)
	}
	ts, err := store.CanonicalTime(p.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPreference, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO preferences (user_id, key, value, confidence, source_episode_id, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET
		   value             = excluded.value,
		   confidence        = excluded.confidence,
		   source_episode_id = excluded.source_episode_id,
		   last_updated      = excluded.last_updated`,
		p.UserID, p.Key, string(value), p.Confidence, p.SourceEpisodeID, ts,
	)
	if err != nil {
		return fmt.Errorf("preference: upsert: %w", err)
	}
	return nil
}

// GetAll returns the tenant's preferences ordered by key.
func (s *Store) GetAll(ctx context.Context, userID string) ([]Preference, error) {
	out := []Preference{}
	err := s.db.QueryAll(ctx,
		`SELECT user_id, key, value, confidence, source_episode_id, last_updated
		 FROM preferences WHERE user_id = ? ORDER BY key ASC`,
		func(r store.Row) error {
			p, err := scan(r)
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		}, userID)
	if err != nil {
		return nil, fmt.Errorf("preference: get all: %w", err)
	}
	return out, nil
}

// Get returns one preference, or nil if the tenant has no row for key.
func (s *Store) Get(ctx context.Context, userID, key string) (*Preference, error) {
	var p Preference
	found, err := s.db.QueryOne(ctx,
		`SELECT user_id, key, value, confidence, source_episode_id, last_updated
		 FROM preferences WHERE user_id = ? AND key = ?`,
		func(r store.Row) error {
			var err error
			p, err = scan(r)
			return err
		}, userID, key)
	if err != nil {
		return nil, fmt.Errorf("preference: get: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// Clear deletes every preference of the tenant and returns how many.
func (s *Store) Clear(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("preference: clear: %w", err)
	}
	return res.RowsAffected, nil
}

func scan(r store.Row) (Preference, error) {
	var (
		p     Preference
		value string
	)
	if err := r.Scan(&p.UserID, &p.Key, &value, &p.Confidence, &p.SourceEpisodeID, &p.LastUpdated); err != nil {
		return Preference{}, err
	}
	p.Value = json.RawMessage(value)
	return p, nil
}
