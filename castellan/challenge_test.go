package castellan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	image []byte
	err   error
}

func (f fakeRenderer) RenderGlyph(context.Context, string) ([]byte, error) {
	return f.image, f.err
}

func TestChallengeExactlyOneCorrectOption(t *testing.T) {
	engine := NewChallengeEngine(nil, testLogger(t))
	for i := 0; i < 50; i++ {
		challenge, err := engine.Generate(context.Background(), ChallengeEmoji)
		require.NoError(t, err)
		require.Len(t, challenge.Options, challengeOptionCount)

		correct := 0
		seen := map[string]bool{}
		for _, option := range challenge.Options {
			action, parseErr := ParseComponentAction(option.CustomID)
			require.NoError(t, parseErr)
			assert.Equal(t, ActionChallengeOption, action.Kind)
			if action.Correct {
				correct++
			}
			assert.False(t, seen[option.Glyph], "duplicate glyph %q", option.Glyph)
			seen[option.Glyph] = true
		}
		assert.Equal(t, 1, correct)
	}
}

func TestChallengeCorrectPositionVaries(t *testing.T) {
	engine := NewChallengeEngine(nil, testLogger(t))
	positions := map[int]bool{}
	for i := 0; i < 200; i++ {
		challenge, err := engine.Generate(context.Background(), ChallengeEmoji)
		require.NoError(t, err)
		for idx, option := range challenge.Options {
			if option.Correct {
				positions[idx] = true
			}
		}
	}
	assert.Len(t, positions, challengeOptionCount)
}

func TestChallengeNoncesUnique(t *testing.T) {
	engine := NewChallengeEngine(nil, testLogger(t))
	nonces := map[string]bool{}
	for i := 0; i < 100; i++ {
		challenge, err := engine.Generate(context.Background(), ChallengeEmoji)
		require.NoError(t, err)
		action, parseErr := ParseComponentAction(challenge.Options[0].CustomID)
		require.NoError(t, parseErr)
		assert.False(t, nonces[action.Nonce], "nonce reused: %s", action.Nonce)
		nonces[action.Nonce] = true
	}
}

func TestEvaluateChallengeOption(t *testing.T) {
	assert.True(
		t, EvaluateChallengeOption(
			ComponentAction{Kind: ActionChallengeOption, Correct: true, Nonce: "n"},
		),
	)
	assert.False(
		t, EvaluateChallengeOption(
			ComponentAction{Kind: ActionChallengeOption, Correct: false, Nonce: "n"},
		),
	)
	// a verdict only counts on challenge actions
	assert.False(
		t, EvaluateChallengeOption(ComponentAction{Kind: ActionVerify, Correct: true}),
	)
}

func TestChallengeImageRenderSuccess(t *testing.T) {
	engine := NewChallengeEngine(
		fakeRenderer{image: []byte("png-bytes")}, testLogger(t),
	)
	challenge, err := engine.Generate(context.Background(), ChallengeImage)
	require.NoError(t, err)
	assert.Equal(t, ChallengeImage, challenge.Kind)
	assert.Equal(t, []byte("png-bytes"), challenge.Image)
}

func TestChallengeImageFallsBackOnRenderFailure(t *testing.T) {
	engine := NewChallengeEngine(
		fakeRenderer{err: errors.New("font missing")}, testLogger(t),
	)
	challenge, err := engine.Generate(context.Background(), ChallengeImage)
	require.NoError(t, err)
	assert.Equal(t, ChallengeEmoji, challenge.Kind)
	assert.Empty(t, challenge.Image)
	require.Len(t, challenge.Options, challengeOptionCount)
}

func TestChallengeImageWithoutRendererFallsBack(t *testing.T) {
	engine := NewChallengeEngine(nil, testLogger(t))
	challenge, err := engine.Generate(context.Background(), ChallengeImage)
	require.NoError(t, err)
	assert.Equal(t, ChallengeEmoji, challenge.Kind)
}

func TestChallengeUngeneratedKinds(t *testing.T) {
	engine := NewChallengeEngine(nil, testLogger(t))
	_, err := engine.Generate(context.Background(), ChallengeSimple)
	assert.Error(t, err)
	_, err = engine.Generate(context.Background(), ChallengeExternalPassport)
	assert.Error(t, err)
}
