package castellan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abcde", truncate("abcdefgh", 5))
	assert.Equal(t, "", truncate("", 5))
}

func TestGenerateRandomHexString(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		s, err := generateRandomHexString(8)
		require.NoError(t, err)
		assert.Len(t, s, 8)
		assert.False(t, seen[s])
		seen[s] = true
	}
}

func TestChunkItems(t *testing.T) {
	chunks := chunkItems(2, "a", "b", "c", "d", "e")
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"e"}, chunks[2])
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, hash, "hunter2")

	ok, err := verifyPassword(hash, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword(hash, "hunter3")
	require.NoError(t, err)
	assert.False(t, ok)
}
