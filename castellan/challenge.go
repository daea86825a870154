package castellan

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/lmittmann/tint"
)

// ChallengeKind selects how a guild verifies new members.
type ChallengeKind string

const (
	// ChallengeSimple grants the role on a single button click.
	ChallengeSimple ChallengeKind = "simple"

	// ChallengeExternalPassport directs the member to an out-of-band
	// identity flow; no role is granted by the bot.
	ChallengeExternalPassport ChallengeKind = "external_passport"

	// ChallengeEmoji asks the member to pick a named emoji from a row of
	// lookalikes.
	ChallengeEmoji ChallengeKind = "emoji_challenge"

	// ChallengeImage renders the emoji into an image attachment, falling
	// back to the text form when rendering fails.
	ChallengeImage ChallengeKind = "image_challenge"
)

// challengeOptionCount is how many buttons a challenge presents.
const challengeOptionCount = 4

// challengeEmoji is the pool a challenge samples from. Names are what the
// prompt shows; the member has to match name to glyph.
var challengeEmoji = []ChallengeEmojiEntry{
	{Name: "apple", Glyph: "\U0001F34E"},
	{Name: "banana", Glyph: "\U0001F34C"},
	{Name: "cherry", Glyph: "\U0001F352"},
	{Name: "grapes", Glyph: "\U0001F347"},
	{Name: "lemon", Glyph: "\U0001F34B"},
	{Name: "melon", Glyph: "\U0001F348"},
	{Name: "peach", Glyph: "\U0001F351"},
	{Name: "pear", Glyph: "\U0001F350"},
	{Name: "pineapple", Glyph: "\U0001F34D"},
	{Name: "strawberry", Glyph: "\U0001F353"},
}

// ChallengeEmojiEntry is one entry in the challenge vocabulary.
type ChallengeEmojiEntry struct {
	Name  string
	Glyph string
}

// ChallengeOption is one candidate button. Whether it's the right answer is
// baked into its CustomID, so evaluating a click needs no stored state.
type ChallengeOption struct {
	Glyph    string
	CustomID string
	Correct  bool
}

// Challenge is a generated prompt plus its options. Image holds rendered
// PNG bytes for ChallengeImage when the renderer succeeded.
type Challenge struct {
	Kind       ChallengeKind
	PromptName string
	Options    []ChallengeOption
	Image      []byte
}

// AssetRenderer turns a challenge glyph into an image attachment.
type AssetRenderer interface {
	RenderGlyph(ctx context.Context, glyph string) ([]byte, error)
}

// ChallengeEngine generates verification challenges. It keeps no per-user
// state: option custom IDs carry the verdict, and each challenge gets a
// fresh nonce so old buttons can't be confused with new ones.
type ChallengeEngine struct {
	renderer AssetRenderer
	logger   *slog.Logger
}

func NewChallengeEngine(renderer AssetRenderer, log *slog.Logger) *ChallengeEngine {
	if log == nil {
		log = slog.Default()
	}
	return &ChallengeEngine{
		renderer: renderer,
		logger:   log.With(loggerNameKey, "challenge_engine"),
	}
}

// Generate builds a challenge of the given kind. For ChallengeImage, a
// renderer failure degrades to the emoji form rather than blocking
// verification.
func (e *ChallengeEngine) Generate(
	ctx context.Context,
	kind ChallengeKind,
) (*Challenge, error) {
	if kind != ChallengeEmoji && kind != ChallengeImage {
		return nil, fmt.Errorf("challenge kind %q is not generated", kind)
	}

	nonce, err := generateRandomHexString(8)
	if err != nil {
		return nil, fmt.Errorf("error generating challenge nonce: %w", err)
	}

	picks := samplePool(challengeEmoji, challengeOptionCount)
	correctIndex := rand.IntN(len(picks))

	challenge := &Challenge{
		Kind:       kind,
		PromptName: picks[correctIndex].Name,
		Options:    make([]ChallengeOption, 0, len(picks)),
	}
	for i, pick := range picks {
		action := ComponentAction{
			Kind:    ActionChallengeOption,
			Correct: i == correctIndex,
			Nonce:   nonce,
		}
		challenge.Options = append(
			challenge.Options, ChallengeOption{
				Glyph:    pick.Glyph,
				CustomID: action.String(),
				Correct:  i == correctIndex,
			},
		)
	}

	if kind == ChallengeImage {
		if e.renderer == nil {
			challenge.Kind = ChallengeEmoji
		} else if image, renderErr := e.renderer.RenderGlyph(
			ctx,
			picks[correctIndex].Glyph,
		); renderErr != nil {
			e.logger.WarnContext(
				ctx,
				"challenge image render failed, using emoji form",
				tint.Err(renderErr),
			)
			challenge.Kind = ChallengeEmoji
		} else {
			challenge.Image = image
		}
	}
	return challenge, nil
}

// EvaluateChallengeOption reports whether a clicked challenge button was
// the correct one. The verdict comes entirely from the parsed custom ID.
func EvaluateChallengeOption(action ComponentAction) bool {
	return action.Kind == ActionChallengeOption && action.Correct
}

// samplePool picks n distinct entries in random order.
func samplePool(pool []ChallengeEmojiEntry, n int) []ChallengeEmojiEntry {
	shuffled := make([]ChallengeEmojiEntry, len(pool))
	copy(shuffled, pool)
	rand.Shuffle(
		len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		},
	)
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}
