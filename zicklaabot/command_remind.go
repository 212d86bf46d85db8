package zicklaabot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// rollForwardTolerance is how far in the past a resolved absolute
	// time may be and still be interpreted as "tomorrow": "erinnere
	// mich um 08:00" at 08:05 means tomorrow morning, not an error.
	rollForwardTolerance = 12 * time.Hour

	// remindMaxAmount bounds the `/remindme in` amount. The Discord
	// option carries the same limit, but the handler enforces it too so
	// the stored due time can never wrap around.
	remindMaxAmount = 10_000_000

	msgPastTime      = "❌ Zeit liegt in der Vergangenheit."
	msgBadFormat     = "❌ Ungültiges Eingabeformat."
	msgUseRemindIn   = "❌ Für Zeitspannen nutze bitte `/remindme in …`."
	msgTomorrowNote  = " (Die Zeit ist schon vorbei, ich gehe von morgen aus!)"
	confirmationTmpl = "✅ Alles klar! Ich erinnere dich in %s daran. (%s)"
)

// remindUnitSeconds maps the `/remindme in` unit choices to their
// length in seconds.
var remindUnitSeconds = map[string]int64{
	"sekunden": 1,
	"minuten":  60,
	"stunden":  3600,
	"tage":     86400,
	"wochen":   7 * 86400,
	"monate":   30 * 86400,
	"jahre":    365 * 86400,
}

// errPastTime rejects an absolute time too far in the past to be
// rolled forward.
var errPastTime = errors.New("resolved time is in the past")

// resolveDueTime validates a resolved absolute time against now. A
// time less than 12 hours in the past rolls forward by exactly one
// day; anything older is rejected.
func resolveDueTime(resolved, now time.Time) (time.Time, bool, error) {
	if !resolved.Before(now) {
		return resolved, false, nil
	}
	if now.Sub(resolved) < rollForwardTolerance {
		return resolved.Add(24 * time.Hour), true, nil
	}
	return time.Time{}, false, errPastTime
}

// respondMessage sends an immediate channel-message interaction
// response with the given flags.
func (b *ZicklaaBot) respondMessage(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	flags discordgo.MessageFlags,
) {
	err := b.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   flags,
			},
		},
	)
	if err != nil {
		b.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

func (b *ZicklaaBot) respondEphemeral(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
) {
	b.respondMessage(ctx, i, content, discordgo.MessageFlagsEphemeral)
}

// handleRemindCommand dispatches the `/remindme` subcommands.
func (b *ZicklaaBot) handleRemindCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		b.respondEphemeral(ctx, i, msgBadFormat)
		return
	}
	sub := options[0]
	switch sub.Name {
	case remindSubcommandIn:
		b.handleRemindIn(ctx, i, sub)
	case remindSubcommandAt:
		b.handleRemindAt(ctx, i, sub)
	case remindSubcommandList:
		b.handleRemindList(ctx, i)
	default:
		b.respondEphemeral(ctx, i, msgBadFormat)
	}
}

func subcommandOptions(
	sub *discordgo.ApplicationCommandInteractionDataOption,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(sub.Options),
	)
	for _, option := range sub.Options {
		optionMap[option.Name] = option
	}
	return optionMap
}

// handleRemindIn creates a reminder a fixed span from now, computed by
// direct arithmetic on the chosen unit - no parsing involved.
func (b *ZicklaaBot) handleRemindIn(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	user := getDiscordUser(i)
	if user == nil {
		b.respondEphemeral(ctx, i, b.config.Discord.ErrorMessage)
		return
	}

	opts := subcommandOptions(sub)
	amountOpt, ok := opts[remindOptionAmount]
	if !ok {
		b.respondEphemeral(ctx, i, msgBadFormat)
		return
	}
	unitOpt, ok := opts[remindOptionUnit]
	if !ok {
		b.respondEphemeral(ctx, i, msgBadFormat)
		return
	}

	amount := amountOpt.IntValue()
	unitSeconds, ok := remindUnitSeconds[unitOpt.StringValue()]
	if !ok || amount < 1 || amount > remindMaxAmount {
		b.respondEphemeral(ctx, i, msgBadFormat)
		return
	}

	var text string
	if textOpt, hasText := opts[remindOptionText]; hasText {
		text = textOpt.StringValue()
	}

	now := b.scheduler.now()
	dueAt := now.Unix() + amount*unitSeconds

	b.createReminder(ctx, i, user, text, dueAt, now)
}

// handleRemindAt creates a reminder at an absolute point in time,
// parsed from free-form input. A resolved time that has already
// passed today by less than 12 hours rolls forward one day.
func (b *ZicklaaBot) handleRemindAt(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	user := getDiscordUser(i)
	if user == nil {
		b.respondEphemeral(ctx, i, b.config.Discord.ErrorMessage)
		return
	}

	opts := subcommandOptions(sub)
	timeOpt, ok := opts[remindOptionTime]
	if !ok {
		b.respondEphemeral(ctx, i, msgBadFormat)
		return
	}

	spec, err := ParseTimeExpression(timeOpt.StringValue())
	if err != nil {
		b.respondEphemeral(ctx, i, msgBadFormat)
		return
	}
	if spec.IsDuration() {
		b.respondEphemeral(ctx, i, msgUseRemindIn)
		return
	}

	var text string
	if textOpt, hasText := opts[remindOptionText]; hasText {
		text = textOpt.StringValue()
	}

	now := b.scheduler.now().In(b.timezone)
	resolved := spec.Fields.Resolve(now)

	dueAt, rolledForward, err := resolveDueTime(resolved, now)
	if err != nil {
		b.respondEphemeral(ctx, i, msgPastTime)
		return
	}

	b.createReminder(ctx, i, user, text, dueAt.Unix(), now, rolledForward)
}

// createReminder sends the public confirmation message and persists
// the reminder, recording the confirmation message's ID so delivery
// can reply to it.
func (b *ZicklaaBot) createReminder(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	text string,
	dueAt int64,
	now time.Time,
	rolledForward ...bool,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = b.logger
	}

	confirmation := fmt.Sprintf(
		confirmationTmpl,
		humanizeSeconds(dueAt-now.Unix()),
		formatAbsolute(dueAt, b.timezone),
	)
	if len(rolledForward) > 0 && rolledForward[0] {
		confirmation += msgTomorrowNote
	}

	b.respondMessage(ctx, i, confirmation, 0)

	confirmationID := ""
	msg, err := b.discord.session.InteractionResponse(i.Interaction)
	if err != nil {
		logger.WarnContext(ctx, "unable to fetch confirmation message", tint.Err(err))
	} else if msg != nil {
		confirmationID = msg.ID
	}

	reminder := &Reminder{
		OwnerID:               user.ID,
		Text:                  text,
		DueAt:                 dueAt,
		ChannelID:             i.ChannelID,
		ConfirmationMessageID: confirmationID,
	}
	if err := InsertReminder(ctx, b.writeDB, reminder); err != nil {
		logger.ErrorContext(ctx, "error inserting reminder", tint.Err(err))
		if _, editErr := b.discord.session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: &b.config.Discord.ErrorMessage},
		); editErr != nil {
			logger.ErrorContext(ctx, "error editing response", tint.Err(editErr))
		}
		return
	}

	logger.InfoContext(ctx, "created reminder", "reminder", reminder)
}
