package episodic_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/cortex/internal/episodic"
	"github.com/HendryAvila/cortex/internal/store"
)

func newTestStore(t *testing.T) *episodic.Store {
	t.Helper()
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "cortex.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := episodic.New(context.Background(), db)
	require.NoError(t, err)
	return s
}

// ts returns a distinct fixed-width timestamp for minute i.
func ts(i int) string {
	return fmt.Sprintf("2024-01-01T%02d:%02d:00.000000Z", i/60, i%60)
}

func addN(t *testing.T, s *episodic.Store, user string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Add(context.Background(), episodic.Episode{
			UserID: user, Content: fmt.Sprintf("[user] event %d", i), Timestamp: ts(i),
		})
		require.NoError(t, err)
	}
}

func TestAdd_MonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := s.Add(ctx, episodic.Episode{UserID: "u1", Content: "x"})
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestAdd_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, episodic.Episode{Content: "no tenant"})
	assert.ErrorIs(t, err, episodic.ErrInvalidEpisode)

	_, err = s.Add(ctx, episodic.Episode{UserID: "u1"})
	assert.ErrorIs(t, err, episodic.ErrInvalidEpisode)
}

func TestAdd_DefaultsTimestampAndKeepsOptionalFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tags, source, meta := "user", "chat", `{"k":1}`
	_, err := s.Add(ctx, episodic.Episode{UserID: "u1", Content: "[user] hi", Tags: &tags, Source: &source, Metadata: &meta})
	require.NoError(t, err)

	got, err := s.Timeline(ctx, "u1", 10, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Timestamp, len(store.TimeLayout))
	assert.Equal(t, "user", *got[0].Tags)
	assert.Equal(t, "chat", *got[0].Source)
	assert.JSONEq(t, meta, *got[0].Metadata)
}

func TestAddMany_AllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddMany(ctx, []episodic.Episode{
		{UserID: "u1", Content: "a"},
		{UserID: "", Content: "b"},
	})
	assert.ErrorIs(t, err, episodic.ErrInvalidEpisode)

	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	written, err := s.AddMany(ctx, []episodic.Episode{
		{UserID: "u1", Content: "a", Timestamp: ts(1)},
		{UserID: "u1", Content: "b", Timestamp: ts(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)
}

func TestTimeline_NewestFirstAndSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addN(t, s, "u1", 5)
	addN(t, s, "u2", 2)

	got, err := s.Timeline(ctx, "u1", 3, "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ts(4), got[0].Timestamp)
	assert.Equal(t, ts(3), got[1].Timestamp)
	assert.Equal(t, ts(2), got[2].Timestamp)

	got, err = s.Timeline(ctx, "u1", 0, ts(3))
	require.NoError(t, err)
	assert.Len(t, got, 2, "since is inclusive")

	for _, e := range got {
		assert.Equal(t, "u1", e.UserID)
	}
}

func TestSearch_SubstringScopedToTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, c := range []string{"[user] Coffee please", "[user] more coffee", "[assistant] tea"} {
		_, err := s.Add(ctx, episodic.Episode{UserID: "u1", Content: c, Timestamp: ts(i)})
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, episodic.Episode{UserID: "u2", Content: "[user] coffee too", Timestamp: ts(9)})
	require.NoError(t, err)

	got, err := s.Search(ctx, "u1", "coffee", 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "match is case-sensitive")
	assert.Equal(t, "[user] more coffee", got[0].Content)

	got, err = s.Search(ctx, "u1", "offee", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "[user] more coffee", got[0].Content, "newest first")
}

// ─── Retention ──────────────────────────────────────────────────────────────

func TestDeleteBefore_StrictlyLess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addN(t, s, "u1", 5)
	addN(t, s, "u2", 5)

	n, err := s.DeleteBefore(ctx, "u1", ts(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, left)

	other, err := s.Count(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 5, other, "other tenants untouched")
}

func TestTrim_ExactlyMaxWithDistinctTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const max, extra = 10, 7
	addN(t, s, "u1", max+extra)

	deleted, err := s.Trim(ctx, "u1", max)
	require.NoError(t, err)
	assert.Equal(t, int64(extra), deleted)

	got, err := s.Timeline(ctx, "u1", 1000, "")
	require.NoError(t, err)
	assert.Len(t, got, max)
	assert.Equal(t, ts(max+extra-1), got[0].Timestamp)
	assert.Equal(t, ts(extra), got[len(got)-1].Timestamp)
}

func TestTrim_SharedBoundaryOverRetains(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Two old rows, then four rows sharing one timestamp, then two newer.
	stamps := []string{ts(0), ts(1), ts(5), ts(5), ts(5), ts(5), ts(8), ts(9)}
	for i, at := range stamps {
		_, err := s.Add(ctx, episodic.Episode{UserID: "u1", Content: fmt.Sprintf("e%d", i), Timestamp: at})
		require.NoError(t, err)
	}

	// keep=4 puts the cutoff on ts(5); every row at ts(5) survives.
	deleted, err := s.Trim(ctx, "u1", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 6, n, "buffer over-retains, never under-retains")
	assert.GreaterOrEqual(t, n, 4)
}

func TestTrim_UnderLimitAndDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addN(t, s, "u1", 3)

	deleted, err := s.Trim(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = s.Trim(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = s.Trim(ctx, "nobody", 1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

// ─── Timestamps ─────────────────────────────────────────────────────────────

func TestAdd_CanonicalizesTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []episodic.Episode{
		{UserID: "u1", Content: "fraction", Timestamp: "2024-05-01T10:00:00.500000Z"},
		{UserID: "u1", Content: "offset", Timestamp: "2024-05-01T10:00:01+00:00"},
		{UserID: "u1", Content: "zone", Timestamp: "2024-05-01T11:59:59+02:00"},
	} {
		_, err := s.Add(ctx, e)
		require.NoError(t, err)
	}

	got, err := s.Timeline(ctx, "u1", 10, "")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "offset", got[0].Content)
	assert.Equal(t, "2024-05-01T10:00:01.000000Z", got[0].Timestamp)
	assert.Equal(t, "fraction", got[1].Content)
	assert.Equal(t, "zone", got[2].Content)
	assert.Equal(t, "2024-05-01T09:59:59.000000Z", got[2].Timestamp)
}

func TestTrim_MixedOffsetsKeepsNewest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, episodic.Episode{UserID: "u1", Content: "older", Timestamp: "2024-05-01T10:00:00.500000Z"})
	require.NoError(t, err)
	_, err = s.Add(ctx, episodic.Episode{UserID: "u1", Content: "newer", Timestamp: "2024-05-01T10:00:01+00:00"})
	require.NoError(t, err)

	deleted, err := s.Trim(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := s.Timeline(ctx, "u1", 10, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "newer", got[0].Content)
}

func TestAdd_RejectsUnparseableTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, episodic.Episode{UserID: "u1", Content: "x", Timestamp: "yesterday"})
	assert.ErrorIs(t, err, episodic.ErrInvalidEpisode)
	assert.ErrorIs(t, err, store.ErrInvalidTimestamp)

	_, err = s.AddMany(ctx, []episodic.Episode{
		{UserID: "u1", Content: "ok", Timestamp: ts(1)},
		{UserID: "u1", Content: "bad", Timestamp: "2024-05-01 10:00"},
	})
	assert.ErrorIs(t, err, episodic.ErrInvalidEpisode)

	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTimeline_SinceWithOffset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addN(t, s, "u1", 5)

	// 01:03+01:00 is ts(3) in UTC.
	got, err := s.Timeline(ctx, "u1", 10, "2024-01-01T01:03:00+01:00")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = s.Timeline(ctx, "u1", 10, "last week")
	assert.ErrorIs(t, err, store.ErrInvalidTimestamp)
}

func TestDeleteBefore_RequiresCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addN(t, s, "u1", 3)

	for _, cutoff := range []string{"", "soon"} {
		_, err := s.DeleteBefore(ctx, "u1", cutoff)
		assert.ErrorIs(t, err, store.ErrInvalidTimestamp)
	}
	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
