package castellan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPanel(guildID string, name string) *PanelDefinition {
	return &PanelDefinition{
		GuildID:      guildID,
		Name:         name,
		ChannelID:    "chan-1",
		LogChannelID: "chan-logs",
		Questions: QuestionList{
			{ID: "q1", Label: "Why?", InputKind: 2},
		},
	}
}

func TestPanelRegistryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))
	require.NoError(t, registry.Load(ctx))

	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "staff")))

	panel, err := registry.Get("guild-1", "staff")
	require.NoError(t, err)
	assert.Equal(t, "staff", panel.Name)
	assert.Equal(t, "chan-logs", panel.LogChannelID)

	_, err = registry.Get("guild-1", "nope")
	assert.ErrorIs(t, err, ErrPanelNotFound)

	// same name in another guild is fine
	require.NoError(t, registry.Create(ctx, testPanel("guild-2", "staff")))
}

func TestPanelRegistryDuplicateName(t *testing.T) {
	ctx := context.Background()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))

	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "staff")))
	err := registry.Create(ctx, testPanel("guild-1", "staff"))
	assert.ErrorIs(t, err, ErrDuplicatePanel)
}

func TestPanelRegistryInvalidName(t *testing.T) {
	ctx := context.Background()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))

	for _, name := range []string{"", "Staff", "has space", "has:colon", "ünicode"} {
		err := registry.Create(ctx, testPanel("guild-1", name))
		assert.ErrorIs(t, err, ErrInvalidPanelName, "name: %q", name)
	}
}

func TestPanelRegistryDeleteAndRecreate(t *testing.T) {
	ctx := context.Background()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))

	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "staff")))
	require.NoError(t, registry.Delete(ctx, "guild-1", "staff"))

	_, err := registry.Get("guild-1", "staff")
	assert.ErrorIs(t, err, ErrPanelNotFound)

	// deleting again reports not found
	err = registry.Delete(ctx, "guild-1", "staff")
	assert.ErrorIs(t, err, ErrPanelNotFound)

	// the name is free again
	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "staff")))
}

func TestPanelRegistryListForGuild(t *testing.T) {
	ctx := context.Background()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))

	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "staff")))
	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "membership")))
	require.NoError(t, registry.Create(ctx, testPanel("guild-2", "police")))

	panels := registry.ListForGuild("guild-1")
	require.Len(t, panels, 2)
	assert.Equal(t, "membership", panels[0].Name)
	assert.Equal(t, "staff", panels[1].Name)
}

func TestPanelRegistryLoadRebuilds(t *testing.T) {
	ctx := context.Background()
	db := setupTestWriteDB(t)
	registry := NewPanelRegistry(db, testLogger(t))
	require.NoError(t, registry.Create(ctx, testPanel("guild-1", "staff")))

	// a second registry on the same db sees the panel after Load
	second := NewPanelRegistry(db, testLogger(t))
	require.NoError(t, second.Load(ctx))
	panel, err := second.Get("guild-1", "staff")
	require.NoError(t, err)
	assert.Equal(t, "staff", panel.Name)
}

func TestVerificationConfigUpsert(t *testing.T) {
	ctx := context.Background()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))

	_, err := registry.GetVerification("guild-1")
	assert.ErrorIs(t, err, ErrVerificationNotFound)

	require.NoError(
		t, registry.SetVerification(
			ctx, &VerificationDefinition{
				GuildID:   "guild-1",
				ChannelID: "chan-1",
				RoleID:    "role-1",
				Kind:      ChallengeSimple,
			},
		),
	)
	def, err := registry.GetVerification("guild-1")
	require.NoError(t, err)
	assert.Equal(t, ChallengeSimple, def.Kind)

	// setup again overwrites instead of erroring
	require.NoError(
		t, registry.SetVerification(
			ctx, &VerificationDefinition{
				GuildID:   "guild-1",
				ChannelID: "chan-2",
				RoleID:    "role-2",
				Kind:      ChallengeEmoji,
			},
		),
	)
	def, err = registry.GetVerification("guild-1")
	require.NoError(t, err)
	assert.Equal(t, ChallengeEmoji, def.Kind)
	assert.Equal(t, "role-2", def.RoleID)
}
