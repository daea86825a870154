package castellan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// ErrStickyNotFound is returned when the channel has no sticky message.
var ErrStickyNotFound = errors.New("no sticky message in that channel")

// StickyMessage pins a message to the bottom of a channel by reposting it
// after other activity. MinInterval debounces the repost so a busy channel
// doesn't turn into a wall of reposts.
//
//nolint:lll // struct tags can't be split
type StickyMessage struct {
	ModelUintID
	ModelUnixTime
	GuildID       string   `json:"guild_id" gorm:"index;not null"`
	ChannelID     string   `json:"channel_id" gorm:"uniqueIndex;not null"`
	Content       string   `json:"content" gorm:"not null"`
	LastMessageID string   `json:"last_message_id" gorm:"type:string"`
	MinInterval   Duration `json:"min_interval" gorm:"type:string"`
}

// StickyKeeper manages sticky messages. repostAt tracks, per channel, the
// earliest time the next repost is allowed.
type StickyKeeper struct {
	db      DBI
	session DiscordSessionHandler
	logger  *slog.Logger

	mu       sync.Mutex
	stickies map[string]*StickyMessage
	repostAt map[string]time.Time
}

func NewStickyKeeper(db DBI, session DiscordSessionHandler, log *slog.Logger) *StickyKeeper {
	if log == nil {
		log = slog.Default()
	}
	return &StickyKeeper{
		db:       db,
		session:  session,
		logger:   log.With(loggerNameKey, "sticky_keeper"),
		stickies: map[string]*StickyMessage{},
		repostAt: map[string]time.Time{},
	}
}

// Load populates the channel cache from the database.
func (k *StickyKeeper) Load(ctx context.Context) error {
	var stickies []StickyMessage
	if err := k.db.DB().WithContext(ctx).Find(&stickies).Error; err != nil {
		return fmt.Errorf("error loading sticky messages: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stickies = make(map[string]*StickyMessage, len(stickies))
	for i := range stickies {
		s := stickies[i]
		k.stickies[s.ChannelID] = &s
	}
	return nil
}

// Set creates or replaces the channel's sticky and posts it immediately.
func (k *StickyKeeper) Set(
	ctx context.Context,
	guildID string,
	channelID string,
	content string,
	minInterval time.Duration,
) error {
	if minInterval <= 0 {
		minInterval = DefaultStickyMinInterval
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	sticky := k.stickies[channelID]
	if sticky == nil {
		sticky = &StickyMessage{GuildID: guildID, ChannelID: channelID}
	}
	sticky.Content = content
	sticky.MinInterval = Duration{minInterval}

	msg, err := k.session.ChannelMessageSend(channelID, content)
	if err != nil {
		return fmt.Errorf("error posting sticky message: %w", err)
	}
	sticky.LastMessageID = msg.ID

	if sticky.ID == 0 {
		_, err = k.db.Create(ctx, sticky)
	} else {
		_, err = k.db.Save(ctx, sticky)
	}
	if err != nil {
		return fmt.Errorf("error saving sticky message: %w", err)
	}
	k.stickies[channelID] = sticky
	k.repostAt[channelID] = time.Now().Add(minInterval)
	return nil
}

// Remove deletes the channel's sticky and its last posted message.
func (k *StickyKeeper) Remove(ctx context.Context, channelID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	sticky, ok := k.stickies[channelID]
	if !ok {
		return ErrStickyNotFound
	}
	if sticky.LastMessageID != "" {
		if err := k.session.ChannelMessageDelete(
			channelID, sticky.LastMessageID,
		); err != nil {
			k.logger.WarnContext(
				ctx,
				"error deleting previous sticky message",
				tint.Err(err),
				"channel_id", channelID,
			)
		}
	}
	// Hard delete so the channel unique index frees up for a new sticky.
	k.db.Lock()
	rv := k.db.DB().Unscoped().Where(
		"channel_id = ?", channelID,
	).Delete(&StickyMessage{})
	k.db.Unlock()
	if rv.Error != nil {
		return fmt.Errorf("error deleting sticky message: %w", rv.Error)
	}
	delete(k.stickies, channelID)
	delete(k.repostAt, channelID)
	return nil
}

// HandleMessage reposts the channel's sticky after someone else posts,
// respecting the debounce interval. Messages from the bot itself are
// ignored so a repost doesn't trigger another repost.
func (k *StickyKeeper) HandleMessage(
	ctx context.Context,
	channelID string,
	authorID string,
	botUserID string,
) {
	if authorID == botUserID {
		return
	}
	k.mu.Lock()
	sticky, ok := k.stickies[channelID]
	if !ok {
		k.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Before(k.repostAt[channelID]) {
		k.mu.Unlock()
		return
	}
	k.repostAt[channelID] = now.Add(sticky.MinInterval.Duration)
	previousID := sticky.LastMessageID
	content := sticky.Content
	k.mu.Unlock()

	if previousID != "" {
		if err := k.session.ChannelMessageDelete(channelID, previousID); err != nil {
			k.logger.WarnContext(
				ctx,
				"error deleting previous sticky message",
				tint.Err(err),
				"channel_id", channelID,
			)
		}
	}
	msg, err := k.session.ChannelMessageSend(channelID, content)
	if err != nil {
		k.logger.ErrorContext(
			ctx,
			"error reposting sticky message",
			tint.Err(err),
			"channel_id", channelID,
		)
		return
	}

	k.mu.Lock()
	if current, stillSet := k.stickies[channelID]; stillSet {
		current.LastMessageID = msg.ID
	}
	k.mu.Unlock()
	if _, err = k.db.UpdatesWhere(
		ctx,
		&StickyMessage{},
		map[string]any{"last_message_id": msg.ID},
		"channel_id = ?",
		channelID,
	); err != nil {
		k.logger.WarnContext(
			ctx,
			"error saving sticky message ID",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
}
