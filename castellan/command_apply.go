package castellan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleApplicationsCommand handles the `/applications` slash command and
// its `setup`, `delete`, `list` and `panel` subcommands.
func (c *Castellan) handleApplicationsCommand(
	ctx context.Context,
	handler GatewayHandler,
	data discordgo.ApplicationCommandInteractionData,
) {
	if handler.interaction.GuildID == "" {
		handler.respondEphemeral(ctx, "This command only works in a server.")
		return
	}
	if len(data.Options) == 0 {
		handler.respondEphemeral(ctx, "Missing subcommand.")
		return
	}
	sub := data.Options[0]
	switch sub.Name {
	case "setup":
		c.applicationsSetup(ctx, handler, sub)
	case "delete":
		c.applicationsDelete(ctx, handler, sub)
	case "list":
		c.applicationsList(ctx, handler)
	case "panel":
		c.applicationsPanel(ctx, handler, sub)
	default:
		handler.respondEphemeral(ctx, "Unknown subcommand.")
	}
}

func (c *Castellan) applicationsSetup(
	ctx context.Context,
	handler GatewayHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := discordInteractionOptions(sub.Options)
	name := opts["name"].StringValue()
	preset := opts["preset"].StringValue()
	questions, ok := applicationPresets[preset]
	if !ok {
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf("Unknown preset %q.", preset),
		)
		return
	}

	def := &PanelDefinition{
		GuildID:      handler.interaction.GuildID,
		Name:         name,
		ChannelID:    opts["channel"].ChannelValue(nil).ID,
		LogChannelID: opts["log_channel"].ChannelValue(nil).ID,
		Questions:    questions,
	}
	if opt, isSet := opts["role"]; isSet {
		def.RoleID = opt.RoleValue(nil, "").ID
	}
	if opt, isSet := opts["results_channel"]; isSet {
		def.ResultsChannelID = opt.ChannelValue(nil).ID
	}
	if opt, isSet := opts["title"]; isSet {
		def.Title = opt.StringValue()
	}
	if opt, isSet := opts["description"]; isSet {
		def.Description = opt.StringValue()
	}

	if err := c.registry.Create(ctx, def); err != nil {
		switch {
		case errors.Is(err, ErrDuplicatePanel), errors.Is(err, ErrInvalidPanelName):
			handler.respondEphemeral(ctx, err.Error())
		default:
			handler.Logger().ErrorContext(ctx, "error creating panel", tint.Err(err))
			handler.respondEphemeral(ctx, "Something went wrong creating the panel.")
		}
		return
	}
	c.dbNotifier.ReloadPanels(ctx)

	if _, err := c.discord.session.ChannelMessageSendComplex(
		def.ChannelID, panelMessage(def),
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error publishing panel message",
			tint.Err(err),
			"panel", *def,
		)
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf(
				"Panel `%s` created, but I couldn't post it in <#%s>. "+
					"Check my permissions there.",
				def.Name, def.ChannelID,
			),
		)
		return
	}
	handler.respondEphemeral(
		ctx,
		fmt.Sprintf(
			"Panel `%s` created with %d questions and posted in <#%s>.",
			def.Name, len(def.Questions), def.ChannelID,
		),
	)
}

func (c *Castellan) applicationsDelete(
	ctx context.Context,
	handler GatewayHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := discordInteractionOptions(sub.Options)
	name := opts["name"].StringValue()
	err := c.registry.Delete(ctx, handler.interaction.GuildID, name)
	switch {
	case err == nil:
		c.dbNotifier.ReloadPanels(ctx)
		handler.respondEphemeral(ctx, fmt.Sprintf("Panel `%s` deleted.", name))
	case errors.Is(err, ErrPanelNotFound):
		handler.respondEphemeral(ctx, fmt.Sprintf("No panel named `%s` here.", name))
	default:
		handler.Logger().ErrorContext(ctx, "error deleting panel", tint.Err(err))
		handler.respondEphemeral(ctx, "Something went wrong deleting the panel.")
	}
}

func (c *Castellan) applicationsList(
	ctx context.Context,
	handler GatewayHandler,
) {
	panels := c.registry.ListForGuild(handler.interaction.GuildID)
	if len(panels) == 0 {
		handler.respondEphemeral(ctx, "No application panels set up here yet.")
		return
	}
	lines := make([]string, 0, len(panels))
	for _, p := range panels {
		lines = append(
			lines, fmt.Sprintf(
				"`%s` (%d questions, reviewed in <#%s>)",
				p.Name, len(p.Questions), p.LogChannelID,
			),
		)
	}
	handler.respondEphemeral(ctx, strings.Join(lines, "\n"))
}

// applicationsPanel reposts a panel's Apply message, either in the panel's
// configured channel or one given explicitly.
func (c *Castellan) applicationsPanel(
	ctx context.Context,
	handler GatewayHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := discordInteractionOptions(sub.Options)
	name := opts["name"].StringValue()
	panel, err := c.registry.Get(handler.interaction.GuildID, name)
	if err != nil {
		handler.respondEphemeral(ctx, fmt.Sprintf("No panel named `%s` here.", name))
		return
	}
	channelID := panel.ChannelID
	if opt, isSet := opts["channel"]; isSet {
		channelID = opt.ChannelValue(nil).ID
	}
	if _, err = c.discord.session.ChannelMessageSendComplex(
		channelID, panelMessage(panel),
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error reposting panel message",
			tint.Err(err),
			"panel", *panel,
		)
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf(
				"Couldn't post the panel in <#%s>. Check my permissions there.",
				channelID,
			),
		)
		return
	}
	handler.respondEphemeral(
		ctx, fmt.Sprintf("Panel `%s` posted in <#%s>.", name, channelID),
	)
}

// handleApplyButton starts (or restarts) an application and presents the
// form's first page.
func (c *Castellan) handleApplyButton(
	ctx context.Context,
	handler GatewayHandler,
	action ComponentAction,
) {
	user := getDiscordUser(handler.interaction)
	if user == nil {
		return
	}
	result, err := c.paginator.Begin(
		handler.interaction.GuildID, user.ID, action.Panel,
	)
	if err != nil {
		if errors.Is(err, ErrPanelNotFound) {
			handler.respondEphemeral(ctx, "That application panel no longer exists.")
			return
		}
		handler.Logger().ErrorContext(ctx, "error starting application", tint.Err(err))
		handler.respondEphemeral(ctx, "Something went wrong starting your application.")
		return
	}
	if err = handler.respondModal(
		ctx, pageModal(result.Panel, 1),
	); err != nil && !result.SingleShot {
		// The modal never reached the user, so don't leave the session
		// waiting on a page that was never shown.
		c.sessions.Delete(handler.interaction.GuildID, user.ID)
	}
}

// handleFormResume re-presents the modal for the session's next page after
// the intermediate Continue button.
func (c *Castellan) handleFormResume(
	ctx context.Context,
	handler GatewayHandler,
	action ComponentAction,
) {
	user := getDiscordUser(handler.interaction)
	if user == nil {
		return
	}
	guildID := handler.interaction.GuildID
	session, ok := c.sessions.Get(guildID, user.ID)
	if !ok || session.PanelName != action.Panel {
		handler.respondEphemeral(ctx, ErrStaleSession.Error())
		return
	}
	if session.CurrentPage != action.Page {
		handler.respondEphemeral(ctx, ErrStepMismatch.Error())
		return
	}
	panel, err := c.registry.Get(guildID, action.Panel)
	if err != nil {
		handler.respondEphemeral(ctx, "That application panel no longer exists.")
		return
	}
	_ = handler.respondModal(ctx, pageModal(panel, action.Page))
}

// handleFormPageSubmit merges one submitted modal page. A finished form is
// recorded for review; an unfinished one gets a Continue button for the
// next page, since a modal submission can't be answered with another
// modal.
func (c *Castellan) handleFormPageSubmit(
	ctx context.Context,
	handler GatewayHandler,
	action ComponentAction,
	data discordgo.ModalSubmitInteractionData,
) {
	user := getDiscordUser(handler.interaction)
	if user == nil {
		return
	}
	result, err := c.paginator.SubmitPage(
		handler.interaction.GuildID,
		user.ID,
		action.Panel,
		action.Page,
		modalAnswers(data),
	)
	if err != nil {
		switch {
		case errors.Is(err, ErrStaleSession), errors.Is(err, ErrStepMismatch):
			handler.respondEphemeral(ctx, err.Error())
		case errors.Is(err, ErrPanelNotFound):
			handler.respondEphemeral(ctx, "That application panel no longer exists.")
		default:
			handler.Logger().ErrorContext(ctx, "error submitting page", tint.Err(err))
			handler.respondEphemeral(ctx, "Something went wrong saving your answers.")
		}
		return
	}

	if !result.Done {
		resumeAction := ComponentAction{
			Kind:  ActionFormResume,
			Panel: action.Panel,
			Page:  result.NextPage,
		}
		totalPages := PageCount(len(result.Panel.Questions))
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: fmt.Sprintf(
						"Page %d of %d saved. Press Continue for the next page.",
						action.Page, totalPages,
					),
					Flags: discordgo.MessageFlagsEphemeral,
					Components: []discordgo.MessageComponent{
						discordgo.ActionsRow{
							Components: []discordgo.MessageComponent{
								discordgo.Button{
									Label:    "Continue",
									Style:    discordgo.PrimaryButton,
									CustomID: resumeAction.String(),
								},
							},
						},
					},
				},
			},
		)
		return
	}

	response, err := c.review.RecordSubmission(
		ctx, result.Panel, user.ID, user.Username, result.Answers,
	)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error recording application", tint.Err(err))
		handler.respondEphemeral(
			ctx,
			"Something went wrong saving your application. Please try again.",
		)
		return
	}
	handler.respondEphemeral(
		ctx,
		fmt.Sprintf(
			"Your `%s` application was submitted. You'll get a DM when it's reviewed. (ref `%s`)",
			result.Panel.Name, response.ResponseID,
		),
	)
}

// handleReviewButton opens the decision reason modal for a reviewer's
// Accept or Deny click.
func (c *Castellan) handleReviewButton(
	ctx context.Context,
	handler GatewayHandler,
	action ComponentAction,
) {
	verdict := "Deny"
	if action.Accept {
		verdict = "Accept"
	}
	decideAction := ComponentAction{
		Kind:       ActionDecide,
		Accept:     action.Accept,
		ResponseID: action.ResponseID,
	}
	_ = handler.respondModal(
		ctx, &discordgo.InteractionResponseData{
			CustomID: decideAction.String(),
			Title:    fmt.Sprintf("%s application", verdict),
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    "reason",
							Label:       "Reason (sent to the applicant)",
							Style:       discordgo.TextInputParagraph,
							Required:    false,
							MaxLength:   500,
							Placeholder: "Optional",
						},
					},
				},
			},
		},
	)
}

// handleDecideModal applies the reviewer's verdict from the reason modal.
func (c *Castellan) handleDecideModal(
	ctx context.Context,
	handler GatewayHandler,
	action ComponentAction,
	data discordgo.ModalSubmitInteractionData,
) {
	reviewer := getDiscordUser(handler.interaction)
	if reviewer == nil {
		return
	}
	response, err := c.review.Decide(
		ctx, action.ResponseID, Decision{
			Accept:    action.Accept,
			DecidedBy: reviewer.ID,
			Reason:    modalAnswers(data)["reason"],
		},
	)
	switch {
	case err == nil:
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf(
				"Marked <@%s>'s application as **%s**.",
				response.UserID, string(response.Status),
			),
		)
	case errors.Is(err, ErrAlreadyDecided):
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf(
				"Someone already marked that application as **%s**.",
				string(response.Status),
			),
		)
	case errors.Is(err, ErrResponseNotFound):
		handler.respondEphemeral(ctx, "That application no longer exists.")
	default:
		handler.Logger().ErrorContext(ctx, "error deciding application", tint.Err(err))
		handler.respondEphemeral(ctx, "Something went wrong applying that decision.")
	}
}

// panelMessage builds the published panel message with its Apply button.
func panelMessage(panel *PanelDefinition) *discordgo.MessageSend {
	title := panel.Title
	if title == "" {
		title = fmt.Sprintf("%s applications", panel.Name)
	}
	description := panel.Description
	if description == "" {
		description = "Press Apply to start your application."
	}
	applyAction := ComponentAction{Kind: ActionApply, Panel: panel.Name}
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       truncate(title, 256),
				Description: truncate(description, 4096),
			},
		},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Apply",
						Style:    discordgo.PrimaryButton,
						CustomID: applyAction.String(),
					},
				},
			},
		},
	}
}

// pageModal builds the modal for one page of a panel's form.
func pageModal(
	panel *PanelDefinition,
	page int,
) *discordgo.InteractionResponseData {
	pageAction := ComponentAction{
		Kind:  ActionFormPage,
		Panel: panel.Name,
		Page:  page,
	}
	title := panel.Title
	if title == "" {
		title = fmt.Sprintf("%s application", panel.Name)
	}
	totalPages := PageCount(len(panel.Questions))
	if totalPages > 1 {
		title = fmt.Sprintf("%s (%d/%d)", title, page, totalPages)
	}

	questions := panel.Questions
	start := (page - 1) * questionsPerPage
	end := start + questionsPerPage
	if end > len(questions) {
		end = len(questions)
	}
	rows := make([]discordgo.MessageComponent, 0, end-start)
	for _, q := range questions[start:end] {
		style := discordgo.TextInputShort
		if q.InputKind == int(discordgo.TextInputParagraph) {
			style = discordgo.TextInputParagraph
		}
		rows = append(
			rows, discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:  q.ID,
						Label:     truncate(q.Label, 45),
						Style:     style,
						Required:  true,
						MaxLength: 1024,
					},
				},
			},
		)
	}
	return &discordgo.InteractionResponseData{
		CustomID:   pageAction.String(),
		Title:      truncate(title, 45),
		Components: rows,
	}
}

// modalAnswers flattens a modal submission's text inputs, keyed by input
// custom ID.
func modalAnswers(data discordgo.ModalSubmitInteractionData) map[string]string {
	answers := map[string]string{}
	for _, component := range data.Components {
		row, ok := component.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, isInput := inner.(*discordgo.TextInput); isInput {
				answers[input.CustomID] = input.Value
			}
		}
	}
	return answers
}
