package castellan

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// ErrResponseNotFound is returned when the referenced application
	// response does not exist.
	ErrResponseNotFound = errors.New("application response not found")

	// ErrAlreadyDecided is returned when a second decision arrives for a
	// response that already has one. The first decision stands.
	ErrAlreadyDecided = errors.New("this application has already been decided")
)

// ResponseStatus is an application response's review state.
type ResponseStatus string

const (
	ResponseStatusPending  ResponseStatus = "pending"
	ResponseStatusAccepted ResponseStatus = "accepted"
	ResponseStatusDenied   ResponseStatus = "denied"
)

// Answer is one question/answer pair from a submitted application.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// AnswerList stores an ordered answer set as a JSON column.
type AnswerList []Answer

// Scan implements the sql.Scanner interface.
func (a *AnswerList) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unexpected type for AnswerList: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (a AnswerList) Value() (driver.Value, error) {
	data, err := json.Marshal(a)
	return string(data), err
}

// GormDataType is used by GORM to determine the default data type for a field.
func (AnswerList) GormDataType() string {
	return "string"
}

// ApplicationResponse is one submitted application and, eventually, its
// decision. Status only ever moves pending -> accepted or pending -> denied,
// enforced by a guarded update in Decide.
//
//nolint:lll // struct tags can't be split
type ApplicationResponse struct {
	ModelUintID
	ModelUnixTime
	ResponseID      string         `json:"response_id" gorm:"uniqueIndex;not null"`
	GuildID         string         `json:"guild_id" gorm:"index;not null"`
	PanelName       string         `json:"panel_name" gorm:"not null"`
	UserID          string         `json:"user_id" gorm:"index;not null"`
	Username        string         `json:"username" gorm:"type:string"`
	Answers         AnswerList     `json:"answers" gorm:"type:string;not null"`
	Status          ResponseStatus `json:"status" gorm:"type:string;not null;default:pending"`
	Summary         string         `json:"summary" gorm:"type:string"`
	DecidedBy       string         `json:"decided_by" gorm:"type:string"`
	DecisionReason  string         `json:"decision_reason" gorm:"type:string"`
	DecidedAt       *int64         `json:"decided_at"`
	ReviewChannelID string         `json:"review_channel_id" gorm:"type:string"`
	ReviewMessageID string         `json:"review_message_id" gorm:"type:string"`
}

func (a ApplicationResponse) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("response_id", a.ResponseID),
		slog.String("guild_id", a.GuildID),
		slog.String("panel_name", a.PanelName),
		slog.String("user_id", a.UserID),
		slog.String("status", string(a.Status)),
	)
}

// Decision is a reviewer's verdict on an application response.
type Decision struct {
	Accept    bool
	DecidedBy string
	Reason    string
}

// ReviewWorkflow persists submitted applications, posts them for review,
// and applies decisions. Persistence is the hard requirement; every
// Discord-facing side effect is best-effort and logged on failure.
type ReviewWorkflow struct {
	db         DBI
	session    DiscordSessionHandler
	registry   *PanelRegistry
	summarizer *ReviewSummarizer
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewReviewWorkflow(
	db DBI,
	session DiscordSessionHandler,
	registry *PanelRegistry,
	summarizer *ReviewSummarizer,
	limiter *rate.Limiter,
	log *slog.Logger,
) *ReviewWorkflow {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(
			rate.Limit(DefaultNotifyRatePerSecond),
			DefaultNotifyBurst,
		)
	}
	return &ReviewWorkflow{
		db:         db,
		session:    session,
		registry:   registry,
		summarizer: summarizer,
		limiter:    limiter,
		logger:     log.With(loggerNameKey, "review_workflow"),
	}
}

// RecordSubmission persists a completed application and posts it to the
// panel's log channel for review. The create must succeed; a failed review
// post leaves the response retrievable through the admin API instead.
func (w *ReviewWorkflow) RecordSubmission(
	ctx context.Context,
	panel *PanelDefinition,
	userID string,
	username string,
	answers []Answer,
) (*ApplicationResponse, error) {
	response := &ApplicationResponse{
		ResponseID: uuid.NewString(),
		GuildID:    panel.GuildID,
		PanelName:  panel.Name,
		UserID:     userID,
		Username:   username,
		Answers:    answers,
		Status:     ResponseStatusPending,
	}
	if w.summarizer != nil {
		summary, err := w.summarizer.Summarize(ctx, panel, response)
		if err != nil {
			w.logger.WarnContext(ctx, "error summarizing application", tint.Err(err))
		} else {
			response.Summary = summary
		}
	}
	if _, err := w.db.Create(ctx, response); err != nil {
		return nil, fmt.Errorf("error saving application response: %w", err)
	}
	w.logger.InfoContext(ctx, "recorded application", "response", *response)

	msg, err := w.session.ChannelMessageSendComplex(
		panel.LogChannelID,
		w.reviewMessage(panel, response),
	)
	if err != nil {
		w.logger.ErrorContext(
			ctx,
			"error posting application for review",
			tint.Err(err),
			"response", *response,
		)
		return response, nil
	}
	response.ReviewChannelID = msg.ChannelID
	response.ReviewMessageID = msg.ID
	if _, err = w.db.Updates(
		ctx, response, map[string]any{
			"review_channel_id": msg.ChannelID,
			"review_message_id": msg.ID,
		},
	); err != nil {
		w.logger.ErrorContext(
			ctx,
			"error saving review message reference",
			tint.Err(err),
		)
	}
	return response, nil
}

// Decide applies a reviewer's verdict. The status flip is a guarded update
// on the pending state, so concurrent decisions race for one winner and
// every loser gets ErrAlreadyDecided without side effects.
func (w *ReviewWorkflow) Decide(
	ctx context.Context,
	responseID string,
	decision Decision,
) (*ApplicationResponse, error) {
	var response ApplicationResponse
	err := w.db.DB().WithContext(ctx).Where(
		"response_id = ?", responseID,
	).First(&response).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, fmt.Errorf("error loading application response: %w", err)
	}

	status := ResponseStatusDenied
	if decision.Accept {
		status = ResponseStatusAccepted
	}
	now := time.Now().UnixMilli()
	rowsAffected, err := w.db.UpdatesWhere(
		ctx,
		&ApplicationResponse{},
		map[string]any{
			"status":          status,
			"decided_by":      decision.DecidedBy,
			"decision_reason": decision.Reason,
			"decided_at":      now,
		},
		"response_id = ? AND status = ?",
		responseID,
		ResponseStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("error updating application response: %w", err)
	}
	if rowsAffected == 0 {
		// Lost the race: reload so the caller sees the winning decision.
		if reloadErr := w.db.DB().WithContext(ctx).Where(
			"response_id = ?", responseID,
		).First(&response).Error; reloadErr != nil {
			w.logger.WarnContext(
				ctx, "error reloading decided response", tint.Err(reloadErr),
			)
		}
		return &response, ErrAlreadyDecided
	}

	response.Status = status
	response.DecidedBy = decision.DecidedBy
	response.DecisionReason = decision.Reason
	response.DecidedAt = &now
	w.logger.InfoContext(
		ctx,
		"decided application",
		"response", response,
		"decided_by", decision.DecidedBy,
	)

	w.notifyDecision(ctx, &response)
	return &response, nil
}

// notifyDecision runs the decision's side effects. None of them can undo
// the recorded decision; failures are logged and skipped.
func (w *ReviewWorkflow) notifyDecision(
	ctx context.Context,
	response *ApplicationResponse,
) {
	panel, err := w.registry.Get(response.GuildID, response.PanelName)
	if err != nil {
		w.logger.WarnContext(
			ctx,
			"panel gone, skipping decision side effects",
			tint.Err(err),
			"response", *response,
		)
		w.editReviewMessage(ctx, response, nil)
		return
	}

	if response.Status == ResponseStatusAccepted && panel.RoleID != "" {
		if err = w.session.GuildMemberRoleAdd(
			response.GuildID, response.UserID, panel.RoleID,
		); err != nil {
			w.logger.ErrorContext(
				ctx,
				"error granting role",
				tint.Err(err),
				"role_id", panel.RoleID,
				"response", *response,
			)
		}
	}

	if w.waitNotify(ctx) {
		w.sendApplicantDM(ctx, panel, response)
	}
	if panel.ResultsChannelID != "" && w.waitNotify(ctx) {
		if _, err = w.session.ChannelMessageSendComplex(
			panel.ResultsChannelID,
			&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{
				decisionEmbed(response),
			}},
		); err != nil {
			w.logger.ErrorContext(
				ctx,
				"error posting decision to results channel",
				tint.Err(err),
				"response", *response,
			)
		}
	}
	w.editReviewMessage(ctx, response, panel)
}

func (w *ReviewWorkflow) waitNotify(ctx context.Context) bool {
	if err := w.limiter.Wait(ctx); err != nil {
		w.logger.WarnContext(ctx, "notification rate limit wait aborted", tint.Err(err))
		return false
	}
	return true
}

func (w *ReviewWorkflow) sendApplicantDM(
	ctx context.Context,
	panel *PanelDefinition,
	response *ApplicationResponse,
) {
	channel, err := w.session.UserChannelCreate(response.UserID)
	if err != nil {
		w.logger.WarnContext(
			ctx,
			"error opening DM channel",
			tint.Err(err),
			"response", *response,
		)
		return
	}
	verdict := "denied"
	if response.Status == ResponseStatusAccepted {
		verdict = "accepted"
	}
	content := fmt.Sprintf(
		"Your **%s** application in %s was **%s**.",
		panel.Name,
		panel.GuildID,
		verdict,
	)
	if response.DecisionReason != "" {
		content = fmt.Sprintf(
			"%s\nReason: %s",
			content,
			truncate(response.DecisionReason, discordMaxMessageLength/2),
		)
	}
	if _, err = w.session.ChannelMessageSend(channel.ID, content); err != nil {
		w.logger.WarnContext(
			ctx,
			"error sending decision DM",
			tint.Err(err),
			"response", *response,
		)
	}
}

// editReviewMessage rewrites the original review post to its terminal
// state, dropping the accept/deny buttons.
func (w *ReviewWorkflow) editReviewMessage(
	ctx context.Context,
	response *ApplicationResponse,
	panel *PanelDefinition,
) {
	if response.ReviewMessageID == "" || response.ReviewChannelID == "" {
		return
	}
	embed := responseEmbed(panel, response)
	components := []discordgo.MessageComponent{}
	if _, err := w.session.ChannelMessageEditComplex(
		&discordgo.MessageEdit{
			ID:         response.ReviewMessageID,
			Channel:    response.ReviewChannelID,
			Embeds:     &[]*discordgo.MessageEmbed{embed},
			Components: &components,
		},
	); err != nil {
		w.logger.WarnContext(
			ctx,
			"error editing review message",
			tint.Err(err),
			"response", *response,
		)
	}
}

// reviewMessage builds the review post for a pending application, with
// accept/deny buttons keyed to the response ID.
func (w *ReviewWorkflow) reviewMessage(
	panel *PanelDefinition,
	response *ApplicationResponse,
) *discordgo.MessageSend {
	acceptAction := ComponentAction{
		Kind:       ActionReview,
		Accept:     true,
		ResponseID: response.ResponseID,
	}
	denyAction := ComponentAction{
		Kind:       ActionReview,
		Accept:     false,
		ResponseID: response.ResponseID,
	}
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{responseEmbed(panel, response)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Accept",
						Style:    discordgo.SuccessButton,
						CustomID: acceptAction.String(),
					},
					discordgo.Button{
						Label:    "Deny",
						Style:    discordgo.DangerButton,
						CustomID: denyAction.String(),
					},
				},
			},
		},
	}
}

// responseEmbed renders an application response. For pending responses it
// shows the answers; decided responses add the verdict footer. panel may be
// nil when it was deleted after submission.
func responseEmbed(
	panel *PanelDefinition,
	response *ApplicationResponse,
) *discordgo.MessageEmbed {
	title := fmt.Sprintf("Application: %s", response.PanelName)
	if panel != nil && panel.Title != "" {
		title = panel.Title
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(response.Answers)+1)
	for _, answer := range response.Answers {
		value := answer.Answer
		if value == "" {
			value = "*no answer*"
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  truncate(answer.Question, 256),
				Value: truncate(value, 1024),
			},
		)
	}
	if response.Summary != "" {
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name:  "Summary",
				Value: truncate(response.Summary, 1024),
			},
		)
	}
	embed := &discordgo.MessageEmbed{
		Title: truncate(title, 256),
		Description: fmt.Sprintf(
			"Submitted by <@%s> (`%s`)",
			response.UserID,
			response.Username,
		),
		Fields: fields,
		Color:  embedColorForStatus(response.Status),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Response %s", response.ResponseID),
		},
	}
	if response.Status != ResponseStatusPending {
		verdict := fmt.Sprintf(
			"%s by <@%s>",
			string(response.Status),
			response.DecidedBy,
		)
		if response.DecisionReason != "" {
			verdict = fmt.Sprintf("%s: %s", verdict, response.DecisionReason)
		}
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "Decision",
				Value: truncate(verdict, 1024),
			},
		)
	}
	return embed
}

func decisionEmbed(response *ApplicationResponse) *discordgo.MessageEmbed {
	verdict := "denied"
	if response.Status == ResponseStatusAccepted {
		verdict = "accepted"
	}
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Application %s", verdict),
		Description: fmt.Sprintf(
			"<@%s>'s **%s** application was %s by <@%s>.",
			response.UserID,
			response.PanelName,
			verdict,
			response.DecidedBy,
		),
		Color: embedColorForStatus(response.Status),
	}
}

func embedColorForStatus(status ResponseStatus) int {
	switch status {
	case ResponseStatusAccepted:
		return 0x57F287
	case ResponseStatusDenied:
		return 0xED4245
	default:
		return 0x5865F2
	}
}
