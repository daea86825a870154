package castellan

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Component custom IDs carry a tagged action encoding. Each encoded ID
// starts with an action tag; the remaining fields depend on the action.
// Parsing is strict: unknown tags, missing fields, or malformed values are
// rejected rather than falling through to a default handler.
const (
	customIDSeparator = ":"

	actionTagApply      = "apply"   // apply:<panel>
	actionTagFormResume = "resume"  // resume:<panel>:<page>
	actionTagFormPage   = "page"    // page:<panel>:<page>
	actionTagVerify     = "verify"  // verify
	actionTagChallenge  = "captcha" // captcha:<c|x>:<nonce>
	actionTagReview     = "review"  // review:<a|d>:<response_id>
	actionTagDecide     = "decide"  // decide:<a|d>:<response_id> (reason modal)

	challengeTagCorrect   = "c"
	challengeTagIncorrect = "x"

	reviewTagAccept = "a"
	reviewTagDeny   = "d"
)

// ComponentActionKind identifies which interactive flow a component or
// modal custom ID belongs to.
type ComponentActionKind int

const (
	ActionUnknown ComponentActionKind = iota

	// ActionApply is the Apply button on a published panel
	ActionApply

	// ActionFormResume is the "Continue" button between form pages
	ActionFormResume

	// ActionFormPage is a submitted modal form page
	ActionFormPage

	// ActionVerify is the Verify button on the verification prompt
	ActionVerify

	// ActionChallengeOption is one of the rendered challenge choices
	ActionChallengeOption

	// ActionReview is a reviewer's Accept/Deny button on a review prompt
	ActionReview

	// ActionDecide is the submitted reason modal following ActionReview
	ActionDecide
)

func (k ComponentActionKind) String() string {
	switch k {
	case ActionApply:
		return actionTagApply
	case ActionFormResume:
		return actionTagFormResume
	case ActionFormPage:
		return actionTagFormPage
	case ActionVerify:
		return actionTagVerify
	case ActionChallengeOption:
		return actionTagChallenge
	case ActionReview:
		return actionTagReview
	case ActionDecide:
		return actionTagDecide
	default:
		return "unknown"
	}
}

// ComponentAction is a decoded component/modal custom ID.
type ComponentAction struct {
	Kind ComponentActionKind

	// Panel is set for ActionApply, ActionFormResume and ActionFormPage
	Panel string

	// Page is set for ActionFormResume and ActionFormPage (1-based)
	Page int

	// Correct and Nonce are set for ActionChallengeOption
	Correct bool
	Nonce   string

	// ResponseID and Accept are set for ActionReview and ActionDecide
	ResponseID string
	Accept     bool
}

func (a ComponentAction) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", a.Kind.String())}
	if a.Panel != "" {
		attrs = append(attrs, slog.String("panel", a.Panel))
	}
	if a.Page != 0 {
		attrs = append(attrs, slog.Int("page", a.Page))
	}
	if a.ResponseID != "" {
		attrs = append(attrs, slog.String("response_id", a.ResponseID))
	}
	return slog.GroupValue(attrs...)
}

// String re-encodes the action into its custom ID form.
func (a ComponentAction) String() string {
	switch a.Kind {
	case ActionApply:
		return strings.Join([]string{actionTagApply, a.Panel}, customIDSeparator)
	case ActionFormResume:
		return strings.Join(
			[]string{actionTagFormResume, a.Panel, strconv.Itoa(a.Page)},
			customIDSeparator,
		)
	case ActionFormPage:
		return strings.Join(
			[]string{actionTagFormPage, a.Panel, strconv.Itoa(a.Page)},
			customIDSeparator,
		)
	case ActionVerify:
		return actionTagVerify
	case ActionChallengeOption:
		tag := challengeTagIncorrect
		if a.Correct {
			tag = challengeTagCorrect
		}
		return strings.Join(
			[]string{actionTagChallenge, tag, a.Nonce},
			customIDSeparator,
		)
	case ActionReview, ActionDecide:
		tag := reviewTagDeny
		if a.Accept {
			tag = reviewTagAccept
		}
		prefix := actionTagReview
		if a.Kind == ActionDecide {
			prefix = actionTagDecide
		}
		return strings.Join(
			[]string{prefix, tag, a.ResponseID},
			customIDSeparator,
		)
	default:
		return ""
	}
}

// ParseComponentAction decodes a component or modal custom ID into a
// ComponentAction, validating the field count and value formats for the
// encoded action tag.
func ParseComponentAction(customID string) (ComponentAction, error) {
	parts := strings.Split(customID, customIDSeparator)
	switch parts[0] {
	case actionTagApply:
		if len(parts) != 2 || parts[1] == "" {
			return ComponentAction{}, fmt.Errorf("malformed apply custom_id: %q", customID)
		}
		return ComponentAction{Kind: ActionApply, Panel: parts[1]}, nil
	case actionTagFormResume, actionTagFormPage:
		if len(parts) != 3 || parts[1] == "" {
			return ComponentAction{}, fmt.Errorf("malformed form custom_id: %q", customID)
		}
		page, err := strconv.Atoi(parts[2])
		if err != nil || page < 1 {
			return ComponentAction{}, fmt.Errorf("malformed form page in custom_id: %q", customID)
		}
		kind := ActionFormPage
		if parts[0] == actionTagFormResume {
			kind = ActionFormResume
		}
		return ComponentAction{Kind: kind, Panel: parts[1], Page: page}, nil
	case actionTagVerify:
		if len(parts) != 1 {
			return ComponentAction{}, fmt.Errorf("malformed verify custom_id: %q", customID)
		}
		return ComponentAction{Kind: ActionVerify}, nil
	case actionTagChallenge:
		if len(parts) != 3 || parts[2] == "" {
			return ComponentAction{}, fmt.Errorf("malformed challenge custom_id: %q", customID)
		}
		switch parts[1] {
		case challengeTagCorrect:
			return ComponentAction{
				Kind:    ActionChallengeOption,
				Correct: true,
				Nonce:   parts[2],
			}, nil
		case challengeTagIncorrect:
			return ComponentAction{
				Kind:  ActionChallengeOption,
				Nonce: parts[2],
			}, nil
		default:
			return ComponentAction{}, fmt.Errorf("unknown challenge tag in custom_id: %q", customID)
		}
	case actionTagReview, actionTagDecide:
		if len(parts) != 3 || parts[2] == "" {
			return ComponentAction{}, fmt.Errorf("malformed review custom_id: %q", customID)
		}
		kind := ActionReview
		if parts[0] == actionTagDecide {
			kind = ActionDecide
		}
		switch parts[1] {
		case reviewTagAccept:
			return ComponentAction{Kind: kind, Accept: true, ResponseID: parts[2]}, nil
		case reviewTagDeny:
			return ComponentAction{Kind: kind, ResponseID: parts[2]}, nil
		default:
			return ComponentAction{}, fmt.Errorf("unknown review tag in custom_id: %q", customID)
		}
	default:
		return ComponentAction{}, fmt.Errorf("unknown custom_id action: %q", customID)
	}
}
