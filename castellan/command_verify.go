package castellan

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleVerificationCommand handles `/verification setup`.
func (c *Castellan) handleVerificationCommand(
	ctx context.Context,
	handler GatewayHandler,
	data discordgo.ApplicationCommandInteractionData,
) {
	if handler.interaction.GuildID == "" {
		handler.respondEphemeral(ctx, "This command only works in a server.")
		return
	}
	if len(data.Options) == 0 || data.Options[0].Name != "setup" {
		handler.respondEphemeral(ctx, "Unknown subcommand.")
		return
	}
	opts := discordInteractionOptions(data.Options[0].Options)

	def := &VerificationDefinition{
		GuildID:   handler.interaction.GuildID,
		ChannelID: opts["channel"].ChannelValue(nil).ID,
		RoleID:    opts["role"].RoleValue(nil, "").ID,
		Kind:      ChallengeKind(opts["type"].StringValue()),
	}
	if opt, isSet := opts["title"]; isSet {
		def.Title = opt.StringValue()
	}
	if opt, isSet := opts["description"]; isSet {
		def.Description = opt.StringValue()
	}

	if err := c.registry.SetVerification(ctx, def); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error saving verification config", tint.Err(err),
		)
		handler.respondEphemeral(ctx, "Something went wrong saving the config.")
		return
	}
	c.dbNotifier.ReloadPanels(ctx)

	if _, err := c.discord.session.ChannelMessageSendComplex(
		def.ChannelID, verifyMessage(def),
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error publishing verification message",
			tint.Err(err),
			"channel_id", def.ChannelID,
		)
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf(
				"Verification configured, but I couldn't post in <#%s>. "+
					"Check my permissions there.",
				def.ChannelID,
			),
		)
		return
	}
	handler.respondEphemeral(
		ctx,
		fmt.Sprintf(
			"Verification (%s) set up in <#%s>.", string(def.Kind), def.ChannelID,
		),
	)
}

// handleVerifyButton starts the guild's configured verification flow.
func (c *Castellan) handleVerifyButton(
	ctx context.Context,
	handler GatewayHandler,
) {
	user := getDiscordUser(handler.interaction)
	if user == nil {
		return
	}
	def, err := c.registry.GetVerification(handler.interaction.GuildID)
	if err != nil {
		if errors.Is(err, ErrVerificationNotFound) {
			handler.respondEphemeral(ctx, "Verification isn't set up here anymore.")
			return
		}
		handler.Logger().ErrorContext(ctx, "error loading verification", tint.Err(err))
		handler.respondEphemeral(ctx, "Something went wrong. Try again.")
		return
	}

	switch def.Kind {
	case ChallengeSimple:
		c.grantVerifiedRole(ctx, handler, def, user.ID)
	case ChallengeExternalPassport:
		instructions := def.Description
		if instructions == "" {
			instructions = "Follow the passport instructions pinned in this " +
				"channel. A moderator will confirm your verification."
		}
		handler.respondEphemeral(ctx, instructions)
	case ChallengeEmoji, ChallengeImage:
		c.presentChallenge(ctx, handler, def.Kind)
	default:
		handler.Logger().WarnContext(
			ctx, "unknown verification kind", "kind", string(def.Kind),
		)
		handler.respondEphemeral(ctx, "Verification is misconfigured here.")
	}
}

// presentChallenge generates a challenge and responds with its option
// buttons, attaching the rendered image when one was produced.
func (c *Castellan) presentChallenge(
	ctx context.Context,
	handler GatewayHandler,
	kind ChallengeKind,
) {
	challenge, err := c.challenges.Generate(ctx, kind)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error generating challenge", tint.Err(err))
		handler.respondEphemeral(ctx, "Something went wrong. Try again.")
		return
	}

	buttons := make([]discordgo.MessageComponent, 0, len(challenge.Options))
	for _, option := range challenge.Options {
		buttons = append(
			buttons, discordgo.Button{
				Label:    option.Glyph,
				Style:    discordgo.SecondaryButton,
				CustomID: option.CustomID,
			},
		)
	}
	responseData := &discordgo.InteractionResponseData{
		Content: fmt.Sprintf(
			"Press the **%s** button to verify.", challenge.PromptName,
		),
		Flags: discordgo.MessageFlagsEphemeral,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		},
	}
	if challenge.Kind == ChallengeImage && len(challenge.Image) > 0 {
		responseData.Content = "Press the button matching the image to verify."
		responseData.Files = []*discordgo.File{
			{
				Name:        "challenge.png",
				ContentType: "image/png",
				Reader:      bytes.NewReader(challenge.Image),
			},
		}
	}
	_ = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: responseData,
		},
	)
}

// handleChallengeOption settles a challenge button click. The verdict is
// read from the custom ID; a wrong pick just sends the member back to the
// Verify button for a fresh challenge.
func (c *Castellan) handleChallengeOption(
	ctx context.Context,
	handler GatewayHandler,
	action ComponentAction,
) {
	user := getDiscordUser(handler.interaction)
	if user == nil {
		return
	}
	if !EvaluateChallengeOption(action) {
		handler.respondEphemeral(
			ctx,
			"That wasn't it. Press Verify to try a new challenge.",
		)
		return
	}
	def, err := c.registry.GetVerification(handler.interaction.GuildID)
	if err != nil {
		handler.respondEphemeral(ctx, "Verification isn't set up here anymore.")
		return
	}
	c.grantVerifiedRole(ctx, handler, def, user.ID)
}

func (c *Castellan) grantVerifiedRole(
	ctx context.Context,
	handler GatewayHandler,
	def *VerificationDefinition,
	userID string,
) {
	if err := c.discord.session.GuildMemberRoleAdd(
		def.GuildID, userID, def.RoleID,
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error granting verified role",
			tint.Err(err),
			"role_id", def.RoleID,
			"user_id", userID,
		)
		handler.respondEphemeral(
			ctx,
			"I couldn't give you the role. Ask a moderator to check my permissions.",
		)
		return
	}
	handler.respondEphemeral(ctx, "You're verified. Welcome!")
}

// verifyMessage builds the published verification prompt with its Verify
// button.
func verifyMessage(def *VerificationDefinition) *discordgo.MessageSend {
	title := def.Title
	if title == "" {
		title = "Member verification"
	}
	description := def.Description
	if description == "" {
		description = "Press Verify to get access to the server."
	}
	verifyAction := ComponentAction{Kind: ActionVerify}
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
						Label:    "Verify",
						Style:    discordgo.SuccessButton,
						CustomID: verifyAction.String(),
					},
				},
			},
		},
	}
}
