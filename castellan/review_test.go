package castellan

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestReview(t testing.TB) (*ReviewWorkflow, *mockSessionHandler, *PanelDefinition) {
	t.Helper()
	ctx := context.Background()
	db := setupTestWriteDB(t)
	registry := NewPanelRegistry(db, testLogger(t))

	panel := &PanelDefinition{
		GuildID:          "guild-1",
		Name:             "staff",
		LogChannelID:     "chan-logs",
		ResultsChannelID: "chan-results",
		RoleID:           "role-staff",
		Questions: QuestionList{
			{ID: "q1", Label: "Why?", InputKind: 2},
		},
	}
	require.NoError(t, registry.Create(ctx, panel))

	session := newMockSessionHandler()
	workflow := NewReviewWorkflow(
		db,
		session,
		registry,
		nil,
		rate.NewLimiter(rate.Inf, 1),
		testLogger(t),
	)
	return workflow, session, panel
}

func TestRecordSubmission(t *testing.T) {
	ctx := context.Background()
	workflow, session, panel := newTestReview(t)

	response, err := workflow.RecordSubmission(
		ctx, panel, "user-1", "applicant",
		[]Answer{{Question: "Why?", Answer: "because"}},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, response.ResponseID)
	assert.Equal(t, ResponseStatusPending, response.Status)

	// posted for review, and the message reference was saved for the
	// terminal-state edit later
	require.Len(t, session.sentMessages, 1)
	assert.NotEmpty(t, response.ReviewMessageID)

	var stored ApplicationResponse
	err = workflow.db.DB().Where(
		"response_id = ?", response.ResponseID,
	).First(&stored).Error
	require.NoError(t, err)
	assert.Equal(t, response.ReviewMessageID, stored.ReviewMessageID)
	require.Len(t, stored.Answers, 1)
	assert.Equal(t, "because", stored.Answers[0].Answer)
}

func TestDecideAccept(t *testing.T) {
	ctx := context.Background()
	workflow, session, panel := newTestReview(t)

	response, err := workflow.RecordSubmission(
		ctx, panel, "user-1", "applicant",
		[]Answer{{Question: "Why?", Answer: "because"}},
	)
	require.NoError(t, err)

	decided, err := workflow.Decide(
		ctx, response.ResponseID, Decision{
			Accept:    true,
			DecidedBy: "reviewer-1",
			Reason:    "welcome aboard",
		},
	)
	require.NoError(t, err)
	assert.Equal(t, ResponseStatusAccepted, decided.Status)
	assert.Equal(t, "reviewer-1", decided.DecidedBy)
	require.NotNil(t, decided.DecidedAt)

	// side effects: role grant, DM, results post, review message edit
	assert.Contains(t, session.rolesAdded, "user-1/role-staff")
	assert.Contains(t, session.dmChannels, "user-1")
	assert.Contains(t, session.editedIDs, response.ReviewMessageID)
}

func TestDecideDenySkipsRoleGrant(t *testing.T) {
	ctx := context.Background()
	workflow, session, panel := newTestReview(t)

	response, err := workflow.RecordSubmission(
		ctx, panel, "user-1", "applicant", []Answer{},
	)
	require.NoError(t, err)

	decided, err := workflow.Decide(
		ctx, response.ResponseID, Decision{
			Accept:    false,
			DecidedBy: "reviewer-1",
		},
	)
	require.NoError(t, err)
	assert.Equal(t, ResponseStatusDenied, decided.Status)
	assert.Empty(t, session.rolesAdded)
	assert.Contains(t, session.dmChannels, "user-1")
}

func TestDecideExactlyOnce(t *testing.T) {
	ctx := context.Background()
	workflow, _, panel := newTestReview(t)

	response, err := workflow.RecordSubmission(
		ctx, panel, "user-1", "applicant", []Answer{},
	)
	require.NoError(t, err)

	// reviewer A accepts, then reviewer B denies; A's decision stands
	_, err = workflow.Decide(
		ctx, response.ResponseID,
		Decision{Accept: true, DecidedBy: "reviewer-a"},
	)
	require.NoError(t, err)

	loser, err := workflow.Decide(
		ctx, response.ResponseID,
		Decision{Accept: false, DecidedBy: "reviewer-b"},
	)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, ResponseStatusAccepted, loser.Status)

	var stored ApplicationResponse
	require.NoError(
		t, workflow.db.DB().Where(
			"response_id = ?", response.ResponseID,
		).First(&stored).Error,
	)
	assert.Equal(t, ResponseStatusAccepted, stored.Status)
	assert.Equal(t, "reviewer-a", stored.DecidedBy)
}

func TestDecideConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	workflow, _, panel := newTestReview(t)

	response, err := workflow.RecordSubmission(
		ctx, panel, "user-1", "applicant", []Answer{},
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		accept := i%2 == 0
		go func() {
			defer wg.Done()
			_, decideErr := workflow.Decide(
				ctx, response.ResponseID,
				Decision{Accept: accept, DecidedBy: "racer"},
			)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case decideErr == nil:
				winners++
			default:
				losers++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	assert.Equal(t, 7, losers)
}

func TestDecideUnknownResponse(t *testing.T) {
	ctx := context.Background()
	workflow, _, _ := newTestReview(t)
	_, err := workflow.Decide(
		ctx, "no-such-id", Decision{Accept: true, DecidedBy: "reviewer"},
	)
	assert.ErrorIs(t, err, ErrResponseNotFound)
}

func TestDecideSurvivesDeletedPanel(t *testing.T) {
	ctx := context.Background()
	workflow, session, panel := newTestReview(t)

	response, err := workflow.RecordSubmission(
		ctx, panel, "user-1", "applicant", []Answer{},
	)
	require.NoError(t, err)

	require.NoError(t, workflow.registry.Delete(ctx, panel.GuildID, panel.Name))

	// decision still lands; role grant and results post are skipped, but
	// the review message still gets its terminal-state edit
	decided, err := workflow.Decide(
		ctx, response.ResponseID,
		Decision{Accept: true, DecidedBy: "reviewer-1"},
	)
	require.NoError(t, err)
	assert.Equal(t, ResponseStatusAccepted, decided.Status)
	assert.Empty(t, session.rolesAdded)
	assert.Contains(t, session.editedIDs, response.ReviewMessageID)
}
