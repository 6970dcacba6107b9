package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/cortex/internal/conversation"
	"github.com/HendryAvila/cortex/internal/embed"
	"github.com/HendryAvila/cortex/internal/store"
	"github.com/HendryAvila/cortex/internal/vector"
)

const dims = 16

// flakyIndex wraps the local index and fails deletes for selected ids.
type flakyIndex struct {
	*vector.Local
	failDelete map[string]bool
}

func (f *flakyIndex) Delete(ctx context.Context, id string) error {
	if f.failDelete[id] {
		return errors.New("index unreachable")
	}
	return f.Local.Delete(ctx, id)
}

type fixture struct {
	mem   *conversation.Memory
	index *flakyIndex
	db    *store.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "cortex.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	local, err := vector.NewLocal(filepath.Join(t.TempDir(), "index"), dims)
	require.NoError(t, err)
	idx := &flakyIndex{Local: local, failDelete: map[string]bool{}}

	mem, err := conversation.New(context.Background(), db, idx, embed.NewHash(dims), conversation.Options{})
	require.NoError(t, err)
	return &fixture{mem: mem, index: idx, db: db}
}

func strp(s string) *string { return &s }

func msg(user, id, content string) conversation.Message {
	return conversation.Message{UserID: user, MessageID: id, Content: content, Role: "user"}
}

func vectorCount(t *testing.T, f *fixture) int {
	t.Helper()
	st, err := f.index.Stats(context.Background())
	require.NoError(t, err)
	return st.TotalVectors
}

func TestNew_DimensionMismatch(t *testing.T) {
	db, err := store.Open(store.Config{Path: store.MemoryPath})
	require.NoError(t, err)
	defer db.Close()
	local, err := vector.NewLocal("", dims)
	require.NoError(t, err)

	_, err = conversation.New(context.Background(), db, local, embed.NewHash(dims*2), conversation.Options{})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

// ─── Add ────────────────────────────────────────────────────────────────────

func TestAddMessage_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := conversation.Message{
		UserID:         "u1",
		MessageID:      "m1",
		Content:        "I prefer mornings",
		Role:           "assistant",
		Timestamp:      "2024-03-01T09:00:00.000000Z",
		ConversationID: strp("c1"),
		Metadata:       strp(`{"channel":"web"}`),
	}
	id, err := f.mem.AddMessage(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	got, err := f.mem.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, in, *got)
	assert.True(t, f.index.Contains("m1"))
}

func TestAddMessage_DefaultsTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mem.AddMessage(ctx, msg("u1", "m1", "hello"))
	require.NoError(t, err)

	got, err := f.mem.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got.Timestamp, len(store.TimeLayout))
	assert.Nil(t, got.ConversationID)
}

func TestAddMessage_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, m := range []conversation.Message{
		{MessageID: "m", Content: "c", Role: "user"},
		{UserID: "u", Content: "c", Role: "user"},
		{UserID: "u", MessageID: "m", Content: "c"},
		{UserID: "u", MessageID: "m", Role: "user"},
	} {
		_, err := f.mem.AddMessage(ctx, m)
		assert.ErrorIs(t, err, conversation.ErrInvalidMessage)
	}
	assert.Zero(t, vectorCount(t, f))
}

func TestAddMessage_DuplicateKeepsStoredVector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mem.AddMessage(ctx, msg("u1", "dup", "original"))
	require.NoError(t, err)

	_, err = f.mem.AddMessage(ctx, msg("u2", "dup", "intruder"))
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrDuplicateMessage)

	assert.True(t, f.index.Contains("dup"), "stored message keeps its vector")
	assert.Equal(t, 1, vectorCount(t, f))

	got, err := f.mem.GetMessage(ctx, "dup")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "original", got.Content, "stored row is untouched")

	hits, err := f.mem.SearchSimilar(ctx, "u1", "original", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dup", hits[0].MessageID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4, "vector was not replaced by the rejected content")

	hits, err = f.mem.SearchSimilar(ctx, "u2", "intruder", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAddMessage_ValidatesTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := msg("u1", "m1", "hello")
	in.Timestamp = "2024-03-01T10:00:00.25+01:00"
	_, err := f.mem.AddMessage(ctx, in)
	require.NoError(t, err)

	got, err := f.mem.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T09:00:00.250000Z", got.Timestamp)

	bad := msg("u1", "m2", "hello")
	bad.Timestamp = "yesterday"
	_, err = f.mem.AddMessage(ctx, bad)
	assert.ErrorIs(t, err, conversation.ErrInvalidMessage)
	assert.ErrorIs(t, err, store.ErrInvalidTimestamp)
	assert.False(t, f.index.Contains("m2"))
}

func TestAddMessages_RepeatedIDIsCompensated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mem.AddMessages(ctx, []conversation.Message{
		msg("u1", "a", "first"),
		msg("u1", "twice", "second"),
		msg("u1", "twice", "third"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrDuplicateMessage)

	assert.Zero(t, vectorCount(t, f), "insert failure removes every vector of the batch")
	for _, id := range []string{"a", "twice"} {
		got, err := f.mem.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestAddMessages_CompensationFailureIsReported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.index.failDelete["twice"] = true
	_, err := f.mem.AddMessages(ctx, []conversation.Message{
		msg("u1", "twice", "one"),
		msg("u1", "twice", "two"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrDuplicateMessage)
	assert.Contains(t, err.Error(), "index unreachable")
	assert.True(t, f.index.Contains("twice"), "failed compensation leaves the orphan")
}

func TestAddMessages_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mem.AddMessage(ctx, msg("u1", "existing", "already here"))
	require.NoError(t, err)

	_, err = f.mem.AddMessages(ctx, []conversation.Message{
		msg("u1", "a", "first"),
		msg("u1", "b", "second"),
		msg("u2", "existing", "clash"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrDuplicateMessage)
	assert.Contains(t, err.Error(), `"existing"`)

	for _, id := range []string{"a", "b"} {
		assert.False(t, f.index.Contains(id), "vector %q must not be written", id)
		got, err := f.mem.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got, "row %q must not survive a failed batch", id)
	}
	assert.True(t, f.index.Contains("existing"), "stored message keeps its vector")

	hits, err := f.mem.SearchSimilar(ctx, "u1", "already here", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "existing", hits[0].MessageID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)

	ids, err := f.mem.AddMessages(ctx, []conversation.Message{
		msg("u1", "a", "first"),
		msg("u1", "b", "second"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, 3, vectorCount(t, f))
}

func TestAddMessages_ValidationBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)

	_, err := f.mem.AddMessages(context.Background(), []conversation.Message{
		msg("u1", "a", "fine"),
		{UserID: "u1", MessageID: "b", Role: "user"},
	})
	assert.ErrorIs(t, err, conversation.ErrInvalidMessage)
	assert.Zero(t, vectorCount(t, f))

	ids, err := f.mem.AddMessages(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// ─── Search ─────────────────────────────────────────────────────────────────

func TestSearchSimilar_RanksExactTextFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, c := range []string{"the weather is nice", "book a flight to Lisbon", "order more coffee"} {
		_, err := f.mem.AddMessage(ctx, msg("u1", fmt.Sprintf("m%d", i), c))
		require.NoError(t, err)
	}

	got, err := f.mem.SearchSimilar(ctx, "u1", "book a flight to Lisbon", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-4)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestSearchSimilar_NeverCrossesTenants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The other tenant floods the shared index with exact matches.
	for i := 0; i < 30; i++ {
		_, err := f.mem.AddMessage(ctx, msg("u2", fmt.Sprintf("evil-%d", i), "secret plan"))
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := f.mem.AddMessage(ctx, msg("u1", fmt.Sprintf("mine-%d", i), fmt.Sprintf("my note %d", i)))
		require.NoError(t, err)
	}

	for _, q := range []string{"secret plan", "my note 1", "anything"} {
		for _, limit := range []int{1, 3, 50} {
			got, err := f.mem.SearchSimilar(ctx, "u1", q, limit)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(got), limit)
			for _, h := range got {
				assert.Equal(t, "u1", h.UserID, "query %q leaked %s", q, h.MessageID)
			}
		}
	}
}

func TestSearchSimilar_EmptyIndex(t *testing.T) {
	f := newFixture(t)

	got, err := f.mem.SearchSimilar(context.Background(), "u1", "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSearchByContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	add := func(user, id, content, ts string) {
		m := msg(user, id, content)
		m.Timestamp = ts
		_, err := f.mem.AddMessage(ctx, m)
		require.NoError(t, err)
	}
	add("u1", "a", "Pizza tonight", "2024-01-01T10:00:00.000000Z")
	add("u1", "b", "pizza again", "2024-01-02T10:00:00.000000Z")
	add("u1", "c", "more pizza please", "2024-01-03T10:00:00.000000Z")
	add("u2", "d", "pizza for u2", "2024-01-04T10:00:00.000000Z")

	got, err := f.mem.SearchByContent(ctx, "u1", "pizza", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "case-sensitive, tenant-scoped")
	assert.Equal(t, "c", got[0].MessageID)
	assert.Equal(t, "b", got[1].MessageID)

	got, err = f.mem.SearchByContent(ctx, "u1", "izza", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].MessageID)
}

// ─── Conversation / stats ───────────────────────────────────────────────────

func TestGetConversation_Ordering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, conv := range []string{"c1", "c2", "c1", "c1"} {
		m := msg("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("text %d", i))
		m.ConversationID = strp(conv)
		m.Timestamp = fmt.Sprintf("2024-01-01T10:00:0%d.000000Z", i)
		_, err := f.mem.AddMessage(ctx, m)
		require.NoError(t, err)
	}

	thread, err := f.mem.GetConversation(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, thread, 3)
	assert.Equal(t, "m0", thread[0].MessageID, "conversation is oldest first")
	assert.Equal(t, "m3", thread[2].MessageID)

	recent, err := f.mem.GetConversation(ctx, "u1", "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m3", recent[0].MessageID, "recent is newest first")
	assert.Equal(t, "m2", recent[1].MessageID)

	other, err := f.mem.GetConversation(ctx, "u2", "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUserStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rows := []struct{ role, conv, ts string }{
		{"user", "c1", "2024-01-01T10:00:00.000000Z"},
		{"assistant", "c1", "2024-01-01T10:00:01.000000Z"},
		{"user", "c2", "2024-01-05T10:00:00.000000Z"},
		{"user", "", "2024-01-03T10:00:00.000000Z"},
	}
	for i, r := range rows {
		m := msg("u1", fmt.Sprintf("m%d", i), "x")
		m.Role = r.role
		m.Timestamp = r.ts
		if r.conv != "" {
			m.ConversationID = strp(r.conv)
		}
		_, err := f.mem.AddMessage(ctx, m)
		require.NoError(t, err)
	}
	_, err := f.mem.AddMessage(ctx, msg("u2", "other", "x"))
	require.NoError(t, err)

	st, err := f.mem.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalMessages)
	assert.Equal(t, map[string]int{"user": 3, "assistant": 1}, st.RoleCounts)
	assert.Equal(t, 2, st.ConversationCount)
	require.NotNil(t, st.FirstMessageAt)
	require.NotNil(t, st.LastMessageAt)
	assert.Equal(t, rows[0].ts, *st.FirstMessageAt)
	assert.Equal(t, rows[2].ts, *st.LastMessageAt)
	assert.Equal(t, vector.KindLocal, st.Index.Backend)
	assert.Equal(t, 5, st.Index.TotalVectors)

	empty, err := f.mem.UserStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalMessages)
	assert.Nil(t, empty.FirstMessageAt)
	assert.Empty(t, empty.RoleCounts)
}

// ─── Delete ─────────────────────────────────────────────────────────────────

func TestDeleteUserMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.mem.AddMessage(ctx, msg("u1", fmt.Sprintf("a%d", i), "mine"))
		require.NoError(t, err)
	}
	_, err := f.mem.AddMessage(ctx, msg("u2", "b0", "theirs"))
	require.NoError(t, err)

	n, err := f.mem.DeleteUserMessages(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, vectorCount(t, f))
	assert.True(t, f.index.Contains("b0"))

	st, err := f.mem.UserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, st.TotalMessages)
}

func TestDeleteUserMessages_PartialVectorFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.mem.AddMessage(ctx, msg("u1", fmt.Sprintf("a%d", i), "mine"))
		require.NoError(t, err)
	}
	f.index.failDelete["a1"] = true

	n, err := f.mem.DeleteUserMessages(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, conversation.ErrPartialDelete)
	assert.Contains(t, err.Error(), `"a1"`)
	assert.Equal(t, int64(4), n, "rows are deleted even when a vector is not")

	assert.True(t, f.index.Contains("a1"), "the failed vector is surfaced, not hidden")
	for _, id := range []string{"a0", "a2", "a3"} {
		assert.False(t, f.index.Contains(id), "remaining ids are still processed")
	}
}
