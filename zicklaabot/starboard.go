package zicklaabot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// Fav is a message a user bookmarked for themselves via reaction. The
// bot DMs them a copy and keeps this record.
type Fav struct {
	ModelUintID
	ModelUnixTime
	UserID     string `gorm:"index;not null" json:"user_id"`
	MessageID  string `gorm:"index;not null" json:"message_id"`
	ChannelID  string `gorm:"not null" json:"channel_id"`
	GuildID    string `json:"guild_id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// Star marks a message as having been reposted to the starboard
// channel. The unique message ID prevents a second repost no matter
// how many more star reactions arrive.
type Star struct {
	ModelUintID
	ModelUnixTime
	MessageID string `gorm:"uniqueIndex;not null" json:"message_id"`
	ChannelID string `gorm:"not null" json:"channel_id"`
	AuthorID  string `json:"author_id"`
	Stars     int    `json:"stars"`
}

// starboardSession is the slice of the Discord session the reaction
// handlers need.
type starboardSession interface {
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendEmbed(
		channelID string,
		embed *discordgo.MessageEmbed,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
}

// Starboard handles the reaction-driven archival features: personal
// bookmarks DM'd back to the reacting user, and a shared channel
// messages get reposted into once they collect enough star reactions.
type Starboard struct {
	config  *StarboardConfig
	db      DBI
	session starboardSession
	logger  *slog.Logger
}

func newStarboard(b *ZicklaaBot, config *StarboardConfig) *Starboard {
	s := &Starboard{
		config: config,
		db:     b.writeDB,
		logger: b.logger.With(loggerNameKey, "starboard"),
	}
	if b.discord != nil {
		s.session = b.discord.session
	}
	return s
}

// handleReactionAdd routes reaction events to the bookmark or
// starboard flow based on the emoji.
func (s *Starboard) handleReactionAdd(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	switch r.Emoji.Name {
	case s.config.FavEmoji:
		s.handleFav(ctx, r)
	case s.config.StarEmoji:
		s.handleStar(ctx, r)
	}
}

// handleFav DMs the reacting user a copy of the message and records it.
func (s *Starboard) handleFav(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	logger := s.logger.With(
		"user_id", r.UserID,
		"message_id", r.MessageID,
		"channel_id", r.ChannelID,
	)

	msg, err := s.session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		logger.WarnContext(ctx, "unable to fetch bookmarked message", tint.Err(err))
		return
	}

	fav := &Fav{
		UserID:    r.UserID,
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		GuildID:   r.GuildID,
		Content:   msg.Content,
	}
	if msg.Author != nil {
		fav.AuthorID = msg.Author.ID
		fav.AuthorName = msg.Author.Username
	}
	if _, createErr := s.db.Create(ctx, fav); createErr != nil {
		logger.ErrorContext(ctx, "error saving fav", tint.Err(createErr))
		return
	}

	dm, err := s.session.UserChannelCreate(r.UserID)
	if err != nil {
		logger.WarnContext(ctx, "unable to open DM channel", tint.Err(err))
		return
	}
	if _, sendErr := s.session.ChannelMessageSendEmbed(
		dm.ID,
		s.messageEmbed(msg, "🔖 Dein gespeicherter Beitrag"),
	); sendErr != nil {
		logger.WarnContext(ctx, "unable to DM fav", tint.Err(sendErr))
	}
}

// handleStar reposts a message into the starboard channel once it
// reaches the configured reaction count. Repost happens at most once
// per message, enforced by the unique index on [Star].
func (s *Starboard) handleStar(
	ctx context.Context,
	r *discordgo.MessageReactionAdd,
) {
	if s.config.ChannelID == "" || r.ChannelID == s.config.ChannelID {
		return
	}

	logger := s.logger.With(
		"message_id", r.MessageID,
		"channel_id", r.ChannelID,
	)

	msg, err := s.session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		logger.WarnContext(ctx, "unable to fetch starred message", tint.Err(err))
		return
	}

	stars := 0
	for _, reaction := range msg.Reactions {
		if reaction.Emoji != nil && reaction.Emoji.Name == s.config.StarEmoji {
			stars = reaction.Count
			break
		}
	}
	if stars < s.config.Threshold {
		return
	}

	var existing Star
	err = s.db.DB().WithContext(ctx).Where(
		"message_id = ?", r.MessageID,
	).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.ErrorContext(ctx, "error checking starboard state", tint.Err(err))
		return
	}

	star := &Star{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		Stars:     stars,
	}
	if msg.Author != nil {
		star.AuthorID = msg.Author.ID
	}
	if _, createErr := s.db.Create(ctx, star); createErr != nil {
		// a concurrent handler may have won the unique-index race
		logger.WarnContext(ctx, "error saving star", tint.Err(createErr))
		return
	}

	embed := s.messageEmbed(
		msg,
		fmt.Sprintf("%s %d | <#%s>", s.config.StarEmoji, stars, r.ChannelID),
	)
	if _, sendErr := s.session.ChannelMessageSendEmbed(
		s.config.ChannelID,
		embed,
	); sendErr != nil {
		logger.ErrorContext(ctx, "error reposting to starboard", tint.Err(sendErr))
		return
	}

	logger.InfoContext(ctx, "reposted message to starboard", "stars", stars)
}

func (s *Starboard) messageEmbed(
	msg *discordgo.Message,
	title string,
) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(msg.Content, discordMaxMessageLength),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}
	if msg.Author != nil {
		embed.Author = &discordgo.MessageEmbedAuthor{
			Name:    msg.Author.Username,
			IconURL: msg.Author.AvatarURL(""),
		}
	}
	if len(msg.Attachments) > 0 && msg.Attachments[0] != nil {
		embed.Image = &discordgo.MessageEmbedImage{
			URL: msg.Attachments[0].URL,
		}
	}
	return embed
}
