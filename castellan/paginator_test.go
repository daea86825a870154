package castellan

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPanelWithQuestions(guildID string, name string, n int) *PanelDefinition {
	questions := make(QuestionList, 0, n)
	for i := 1; i <= n; i++ {
		questions = append(
			questions, Question{
				ID:        fmt.Sprintf("q%d", i),
				Label:     fmt.Sprintf("Question %d", i),
				InputKind: 1,
			},
		)
	}
	return &PanelDefinition{
		GuildID:      guildID,
		Name:         name,
		LogChannelID: "chan-logs",
		Questions:    questions,
	}
}

func newTestPaginator(t testing.TB, panels ...*PanelDefinition) *FormPaginator {
	t.Helper()
	registry := NewPanelRegistry(setupTestWriteDB(t), testLogger(t))
	for _, panel := range panels {
		require.NoError(t, registry.Create(context.Background(), panel))
	}
	return NewFormPaginator(registry, NewMemorySessionStore(), testLogger(t))
}

func TestPageCount(t *testing.T) {
	counts := map[int]int{
		0: 0, 1: 1, 4: 1, 5: 1, 6: 2, 10: 2, 11: 3, 25: 5,
	}
	for questions, pages := range counts {
		assert.Equal(t, pages, PageCount(questions), "questions: %d", questions)
	}
}

func TestPaginatorSingleShot(t *testing.T) {
	// 4 questions fit in one modal, so no session is created
	paginator := newTestPaginator(t, testPanelWithQuestions("g", "partnership", 4))

	result, err := paginator.Begin("g", "u", "partnership")
	require.NoError(t, err)
	assert.True(t, result.SingleShot)

	_, ok := paginator.sessions.Get("g", "u")
	assert.False(t, ok)

	result, err = paginator.SubmitPage(
		"g", "u", "partnership", 1, map[string]string{
			"q1": "a1", "q2": "a2", "q3": "a3", "q4": "a4",
		},
	)
	require.NoError(t, err)
	assert.True(t, result.Done)
	require.Len(t, result.Answers, 4)
	assert.Equal(t, "Question 1", result.Answers[0].Question)
	assert.Equal(t, "a1", result.Answers[0].Answer)
}

func TestPaginatorMultiPageFlow(t *testing.T) {
	// 11 questions slice into pages of 5, 5 and 1
	paginator := newTestPaginator(t, testPanelWithQuestions("g", "police", 11))

	result, err := paginator.Begin("g", "u", "police")
	require.NoError(t, err)
	assert.False(t, result.SingleShot)
	assert.Equal(t, 1, result.Page)

	panel := result.Panel
	assert.Len(t, paginator.PageQuestions(panel, 1), 5)
	assert.Len(t, paginator.PageQuestions(panel, 2), 5)
	assert.Len(t, paginator.PageQuestions(panel, 3), 1)
	assert.Empty(t, paginator.PageQuestions(panel, 4))

	result, err = paginator.SubmitPage(
		"g", "u", "police", 1, map[string]string{
			"q1": "a1", "q2": "a2", "q3": "a3", "q4": "a4", "q5": "a5",
		},
	)
	require.NoError(t, err)
	assert.False(t, result.Done)
	assert.Equal(t, 2, result.NextPage)

	result, err = paginator.SubmitPage(
		"g", "u", "police", 2, map[string]string{
			"q6": "a6", "q7": "a7", "q8": "a8", "q9": "a9", "q10": "a10",
		},
	)
	require.NoError(t, err)
	assert.False(t, result.Done)
	assert.Equal(t, 3, result.NextPage)

	result, err = paginator.SubmitPage(
		"g", "u", "police", 3, map[string]string{"q11": "a11"},
	)
	require.NoError(t, err)
	assert.True(t, result.Done)
	require.Len(t, result.Answers, 11)
	for i, answer := range result.Answers {
		assert.Equal(t, fmt.Sprintf("Question %d", i+1), answer.Question)
		assert.Equal(t, fmt.Sprintf("a%d", i+1), answer.Answer)
	}

	// finishing clears the session
	_, ok := paginator.sessions.Get("g", "u")
	assert.False(t, ok)
}

func TestPaginatorStepMismatch(t *testing.T) {
	paginator := newTestPaginator(t, testPanelWithQuestions("g", "police", 11))
	_, err := paginator.Begin("g", "u", "police")
	require.NoError(t, err)

	// skipping ahead
	_, err = paginator.SubmitPage("g", "u", "police", 2, map[string]string{"q6": "x"})
	assert.ErrorIs(t, err, ErrStepMismatch)

	// resubmitting an already-completed page
	_, err = paginator.SubmitPage(
		"g", "u", "police", 1, map[string]string{
			"q1": "a1", "q2": "a2", "q3": "a3", "q4": "a4", "q5": "a5",
		},
	)
	require.NoError(t, err)
	_, err = paginator.SubmitPage("g", "u", "police", 1, map[string]string{"q1": "y"})
	assert.ErrorIs(t, err, ErrStepMismatch)
}

func TestPaginatorStaleSession(t *testing.T) {
	paginator := newTestPaginator(t, testPanelWithQuestions("g", "police", 11))

	// no Begin at all
	_, err := paginator.SubmitPage("g", "u", "police", 1, map[string]string{"q1": "x"})
	assert.ErrorIs(t, err, ErrStaleSession)

	// completed session is stale too
	_, err = paginator.Begin("g", "u", "police")
	require.NoError(t, err)
	_, err = paginator.SubmitPage(
		"g", "u", "police", 1,
		map[string]string{"q1": "a", "q2": "a", "q3": "a", "q4": "a", "q5": "a"},
	)
	require.NoError(t, err)
	_, err = paginator.SubmitPage(
		"g", "u", "police", 2,
		map[string]string{"q6": "a", "q7": "a", "q8": "a", "q9": "a", "q10": "a"},
	)
	require.NoError(t, err)
	result, err := paginator.SubmitPage(
		"g", "u", "police", 3, map[string]string{"q11": "a"},
	)
	require.NoError(t, err)
	require.True(t, result.Done)

	_, err = paginator.SubmitPage("g", "u", "police", 3, map[string]string{"q11": "b"})
	assert.ErrorIs(t, err, ErrStaleSession)
}

func TestPaginatorBeginDiscardsExistingSession(t *testing.T) {
	paginator := newTestPaginator(t, testPanelWithQuestions("g", "police", 11))

	_, err := paginator.Begin("g", "u", "police")
	require.NoError(t, err)
	_, err = paginator.SubmitPage(
		"g", "u", "police", 1,
		map[string]string{"q1": "a", "q2": "a", "q3": "a", "q4": "a", "q5": "a"},
	)
	require.NoError(t, err)

	// restarting goes back to page 1 with no answers carried over
	_, err = paginator.Begin("g", "u", "police")
	require.NoError(t, err)
	session, ok := paginator.sessions.Get("g", "u")
	require.True(t, ok)
	assert.Equal(t, 1, session.CurrentPage)
	assert.Empty(t, session.Answers)
}

func TestPaginatorUnknownPanel(t *testing.T) {
	paginator := newTestPaginator(t)
	_, err := paginator.Begin("g", "u", "ghost")
	assert.ErrorIs(t, err, ErrPanelNotFound)
	_, err = paginator.SubmitPage("g", "u", "ghost", 1, nil)
	assert.ErrorIs(t, err, ErrPanelNotFound)
}

func TestOrderedAnswersFillsMissing(t *testing.T) {
	panel := testPanelWithQuestions("g", "staff", 3)
	answers := orderedAnswers(panel, map[string]string{"q1": "one", "q3": "three"})
	require.Len(t, answers, 3)
	assert.Equal(t, "one", answers[0].Answer)
	assert.Equal(t, "", answers[1].Answer)
	assert.Equal(t, "three", answers[2].Answer)
}
