package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Empty(t, sess.Messages)
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), "no-such-session")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)

	tokens := 3
	_, err = store.AppendMessage(ctx, id, "u1", "user", "hi", nil)
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, "u1", "assistant", "hello", &tokens)
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, "u1", "user", "how are you?", nil)
	require.NoError(t, err)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	assert.Equal(t, "hi", sess.Messages[0].Content)
	assert.Equal(t, "hello", sess.Messages[1].Content)
	require.NotNil(t, sess.Messages[1].TokensUsed)
	assert.Equal(t, 3, *sess.Messages[1].TokensUsed)
	assert.Equal(t, "how are you?", sess.Messages[2].Content)
}

func TestAppendMessageOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, id, "u2", "user", "intrusion", nil)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = store.AppendMessage(ctx, "missing", "u1", "user", "hi", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "u2")
	require.NoError(t, err)
	second, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)

	// Touching the older session should float it to the top.
	_, err = store.AppendMessage(ctx, first, "u1", "user", "bump", nil)
	require.NoError(t, err)

	sessions, err := store.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first, sessions[0].SessionID)
	assert.Equal(t, second, sessions[1].SessionID)
}

func TestDeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, id, "u1", "user", "hi", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, store.DeleteSession(ctx, id, "u2"), ErrAccessDenied)
	require.NoError(t, store.DeleteSession(ctx, id, "u1"))
	assert.ErrorIs(t, store.DeleteSession(ctx, id, "u1"), ErrNotFound)

	_, err = store.GetSession(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearAllAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "u1")
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "u2")
	require.NoError(t, err)

	sessions, err := store.CountSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, sessions)

	users, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, users)

	removed, err := store.ClearAll(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	sessions, err = store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, sessions)
}
