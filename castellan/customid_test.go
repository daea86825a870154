package castellan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentActionRoundTrip(t *testing.T) {
	actions := []ComponentAction{
		{Kind: ActionApply, Panel: "staff"},
		{Kind: ActionFormResume, Panel: "police", Page: 2},
		{Kind: ActionFormPage, Panel: "police", Page: 3},
		{Kind: ActionVerify},
		{Kind: ActionChallengeOption, Correct: true, Nonce: "deadbeef"},
		{Kind: ActionChallengeOption, Correct: false, Nonce: "deadbeef"},
		{Kind: ActionReview, Accept: true, ResponseID: "abc-123"},
		{Kind: ActionReview, Accept: false, ResponseID: "abc-123"},
		{Kind: ActionDecide, Accept: true, ResponseID: "abc-123"},
	}
	for _, action := range actions {
		encoded := action.String()
		require.NotEmpty(t, encoded)
		decoded, err := ParseComponentAction(encoded)
		require.NoError(t, err, "custom_id: %s", encoded)
		assert.Equal(t, action, decoded)
	}
}

func TestParseComponentActionRejectsMalformed(t *testing.T) {
	malformed := []string{
		"",
		"bogus",
		"bogus:stuff",
		"apply",
		"apply:",
		"page:staff",
		"page:staff:zero",
		"page:staff:0",
		"page:staff:-1",
		"resume:staff:1:extra",
		"verify:extra",
		"captcha:c",
		"captcha:y:deadbeef",
		"captcha:c:",
		"review:a",
		"review:maybe:abc-123",
		"review:a:",
		"decide:x:abc-123",
	}
	for _, customID := range malformed {
		_, err := ParseComponentAction(customID)
		assert.Error(t, err, "custom_id: %q", customID)
	}
}

func TestParseComponentActionNoPrefixGuessing(t *testing.T) {
	// An ID that merely starts with a known tag must not be routed.
	_, err := ParseComponentAction("applyx:staff")
	assert.Error(t, err)
	_, err = ParseComponentAction("apply:staff:extra")
	assert.Error(t, err)
}
