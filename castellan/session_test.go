package castellan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()

	_, ok := store.Get("guild-1", "user-1")
	assert.False(t, ok)

	store.Put(
		"guild-1", "user-1", &ApplicationSession{
			PanelName:   "staff",
			GuildID:     "guild-1",
			CurrentPage: 1,
			TotalPages:  2,
			Answers:     map[string]string{},
			StartedAt:   time.Now(),
		},
	)
	session, ok := store.Get("guild-1", "user-1")
	require.True(t, ok)
	assert.Equal(t, "staff", session.PanelName)

	// same user in another guild is a separate session
	_, ok = store.Get("guild-2", "user-1")
	assert.False(t, ok)

	store.Delete("guild-1", "user-1")
	_, ok = store.Get("guild-1", "user-1")
	assert.False(t, ok)
}

func TestMemorySessionStoreSweep(t *testing.T) {
	store := NewMemorySessionStore()
	store.Put(
		"guild-1", "old", &ApplicationSession{
			PanelName: "staff",
			StartedAt: time.Now().Add(-time.Hour),
		},
	)
	store.Put(
		"guild-1", "fresh", &ApplicationSession{
			PanelName: "staff",
			StartedAt: time.Now(),
		},
	)

	removed := store.Sweep(30 * time.Minute)
	assert.Equal(t, 1, removed)

	_, ok := store.Get("guild-1", "old")
	assert.False(t, ok)
	_, ok = store.Get("guild-1", "fresh")
	assert.True(t, ok)
}
