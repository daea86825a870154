package castellan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleStickyCommand handles `/sticky set` and `/sticky remove` for the
// channel the command was used in.
func (c *Castellan) handleStickyCommand(
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
	channelID := handler.interaction.ChannelID

	switch sub.Name {
	case "set":
		opts := discordInteractionOptions(sub.Options)
		content := opts["content"].StringValue()
		interval := DefaultStickyMinInterval
		if opt, isSet := opts["interval"]; isSet {
			interval = time.Duration(opt.IntValue()) * time.Second
		}
		if err := c.sticky.Set(
			ctx, handler.interaction.GuildID, channelID, content, interval,
		); err != nil {
			handler.Logger().ErrorContext(ctx, "error setting sticky", tint.Err(err))
			handler.respondEphemeral(ctx, "Something went wrong setting the sticky.")
			return
		}
		handler.respondEphemeral(
			ctx,
			fmt.Sprintf(
				"Sticky set for this channel (reposted at most every %s).",
				interval,
			),
		)
	case "remove":
		err := c.sticky.Remove(ctx, channelID)
		switch {
		case err == nil:
			handler.respondEphemeral(ctx, "Sticky removed.")
		case errors.Is(err, ErrStickyNotFound):
			handler.respondEphemeral(ctx, "This channel has no sticky message.")
		default:
			handler.Logger().ErrorContext(ctx, "error removing sticky", tint.Err(err))
			handler.respondEphemeral(ctx, "Something went wrong removing the sticky.")
		}
	default:
		handler.respondEphemeral(ctx, "Unknown subcommand.")
	}
}
