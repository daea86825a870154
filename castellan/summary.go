package castellan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const summarizerSystemPrompt = `You summarize community membership ` +
	`applications for moderators. Reply with at most three sentences ` +
	`covering who the applicant is and anything a reviewer should look at ` +
	`closely. Do not make an accept or deny recommendation.`

// ReviewSummarizer produces a short reviewer-facing summary of an
// application using the OpenAI chat completion API. A nil summarizer (no
// API token configured) means no summaries.
type ReviewSummarizer struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewReviewSummarizer returns nil when cfg has no token, which disables
// summaries for the whole run.
func NewReviewSummarizer(cfg *OpenAIConfig, log *slog.Logger) *ReviewSummarizer {
	if cfg == nil || cfg.Token == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &ReviewSummarizer{
		client: openai.NewClient(cfg.Token),
		model:  model,
		logger: log.With(loggerNameKey, "review_summarizer"),
	}
}

func (s *ReviewSummarizer) Summarize(
	ctx context.Context,
	panel *PanelDefinition,
	response *ApplicationResponse,
) (string, error) {
	var sb strings.Builder
	sb.WriteString(
		fmt.Sprintf(
			"Application for %q by %s:\n",
			panel.Name,
			response.Username,
		),
	)
	for _, answer := range response.Answers {
		sb.WriteString(
			fmt.Sprintf("Q: %s\nA: %s\n", answer.Question, answer.Answer),
		)
	}

	resp, err := s.client.CreateChatCompletion(
		ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: summarizerSystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: truncate(sb.String(), 8000),
				},
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("error requesting summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summary response had no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
