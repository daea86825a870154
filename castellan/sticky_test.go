package castellan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSticky(t testing.TB) (*StickyKeeper, *mockSessionHandler) {
	t.Helper()
	session := newMockSessionHandler()
	keeper := NewStickyKeeper(setupTestWriteDB(t), session, testLogger(t))
	return keeper, session
}

func TestStickySetAndRemove(t *testing.T) {
	ctx := context.Background()
	keeper, session := newTestSticky(t)

	require.NoError(
		t, keeper.Set(ctx, "guild-1", "chan-1", "read the rules", time.Minute),
	)
	require.Len(t, session.sentContents, 1)
	assert.Equal(t, "read the rules", session.sentContents[0])

	require.NoError(t, keeper.Remove(ctx, "chan-1"))
	assert.Len(t, session.deletedIDs, 1)

	assert.ErrorIs(t, keeper.Remove(ctx, "chan-1"), ErrStickyNotFound)

	// the channel is free for a new sticky
	require.NoError(
		t, keeper.Set(ctx, "guild-1", "chan-1", "new rules", time.Minute),
	)
}

func TestStickyRepostsAfterOtherMessages(t *testing.T) {
	ctx := context.Background()
	keeper, session := newTestSticky(t)

	// zero debounce so the repost happens immediately
	require.NoError(
		t, keeper.Set(ctx, "guild-1", "chan-1", "read the rules", time.Nanosecond),
	)
	firstID := keeper.stickies["chan-1"].LastMessageID
	time.Sleep(time.Millisecond)

	keeper.HandleMessage(ctx, "chan-1", "user-1", "bot-user")

	assert.Contains(t, session.deletedIDs, firstID)
	require.Len(t, session.sentContents, 2)
	assert.NotEqual(t, firstID, keeper.stickies["chan-1"].LastMessageID)
}

func TestStickyIgnoresOwnAndUnmanagedChannels(t *testing.T) {
	ctx := context.Background()
	keeper, session := newTestSticky(t)
	require.NoError(
		t, keeper.Set(ctx, "guild-1", "chan-1", "read the rules", time.Nanosecond),
	)
	time.Sleep(time.Millisecond)

	// the bot's own repost must not trigger another repost
	keeper.HandleMessage(ctx, "chan-1", "bot-user", "bot-user")
	assert.Len(t, session.sentContents, 1)

	// messages in channels without a sticky are ignored
	keeper.HandleMessage(ctx, "chan-2", "user-1", "bot-user")
	assert.Len(t, session.sentContents, 1)
}

func TestStickyDebounce(t *testing.T) {
	ctx := context.Background()
	keeper, session := newTestSticky(t)
	require.NoError(
		t, keeper.Set(ctx, "guild-1", "chan-1", "read the rules", time.Hour),
	)

	// inside the debounce window nothing is reposted
	keeper.HandleMessage(ctx, "chan-1", "user-1", "bot-user")
	keeper.HandleMessage(ctx, "chan-1", "user-2", "bot-user")
	assert.Len(t, session.sentContents, 1)
}

func TestStickyLoad(t *testing.T) {
	ctx := context.Background()
	db := setupTestWriteDB(t)
	session := newMockSessionHandler()
	keeper := NewStickyKeeper(db, session, testLogger(t))
	require.NoError(
		t, keeper.Set(ctx, "guild-1", "chan-1", "read the rules", time.Minute),
	)

	restarted := NewStickyKeeper(db, session, testLogger(t))
	require.NoError(t, restarted.Load(ctx))
	sticky, ok := restarted.stickies["chan-1"]
	require.True(t, ok)
	assert.Equal(t, "read the rules", sticky.Content)
	assert.Equal(t, time.Minute, sticky.MinInterval.Duration)
}
