package zicklaabot

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const deliveryTmpl = "⏰ <@%s>\nIch werde dich wissen lassen:\n**%s**"

// deliverySession is the slice of the Discord session the scheduler
// needs to deliver a reminder. Kept narrow so tests can stub it.
type deliverySession interface {
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSend(
		channelID string,
		message string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// Scheduler is the background reminder delivery loop. A single
// instance polls the store for the earliest pending reminder and, once
// due, deletes it and sends the notification - in that order, so a
// failed send can never produce a duplicate delivery.
type Scheduler struct {
	config  *ReminderConfig
	db      DBI
	session deliverySession

	// fallback supplies generated text for reminders saved without any
	fallback func() string

	timezone *time.Location
	logger   *slog.Logger
	limiter  *rate.Limiter

	// now is replaceable for tests
	now func() time.Time

	// lastDeliveredID guards against double delivery of a reminder
	// that is briefly still visible after its delivering poll. Owned
	// exclusively by the scheduler loop.
	lastDeliveredID uint

	metricDelivered atomic.Int64
	metricOrphaned  atomic.Int64
	metricLost      atomic.Int64
}

func newScheduler(b *ZicklaaBot, config *ReminderConfig) *Scheduler {
	s := &Scheduler{
		config:   config,
		db:       b.writeDB,
		timezone: b.timezone,
		logger:   b.logger.With(loggerNameKey, "scheduler"),
		limiter:  rate.NewLimiter(rate.Limit(config.SendsPerSecond), 1),
		now:      time.Now,
		fallback: b.generator.Fallback,
	}
	if b.discord != nil {
		s.session = b.discord.session
	}
	return s
}

// Watch runs the polling loop until the context is canceled. One bad
// iteration never terminates the loop.
func (s *Scheduler) Watch(ctx context.Context) {
	s.logger.InfoContext(
		ctx,
		"reminder scheduler started",
		"poll_interval", s.config.PollInterval,
	)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reminder scheduler stopped")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll performs a single scheduler iteration: find the earliest
// pending reminder and deliver it if due.
func (s *Scheduler) poll(ctx context.Context) {
	defer func() {
		if rv := recover(); rv != nil {
			s.logger.ErrorContext(ctx, "scheduler iteration panicked", "panic", rv)
		}
	}()

	reminder, err := EarliestPendingReminder(ctx, s.db)
	if err != nil {
		s.logger.ErrorContext(ctx, "error querying earliest reminder", tint.Err(err))
		return
	}
	if reminder == nil {
		return
	}
	if reminder.DueAt > s.now().Unix() {
		return
	}

	s.deliver(ctx, reminder)
}

// deliver removes the reminder from the store and sends the
// notification. Deletion happens before the send: a reminder is never
// visible to users twice, at the accepted cost that a failed send
// loses it.
func (s *Scheduler) deliver(ctx context.Context, reminder *Reminder) {
	logger := s.logger.With("reminder", reminder)

	// the record may have been deleted since it was selected
	exists, err := ReminderExists(ctx, s.db, reminder.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error re-checking reminder", tint.Err(err))
		return
	}
	if !exists {
		logger.InfoContext(ctx, "reminder vanished before delivery, skipping")
		return
	}

	if reminder.ID == s.lastDeliveredID {
		return
	}

	if _, channelErr := s.session.Channel(reminder.ChannelID); channelErr != nil {
		// expected over time as channels get deleted or hidden
		logger.InfoContext(
			ctx,
			"reminder channel no longer resolvable, discarding",
			tint.Err(channelErr),
		)
		if deleteErr := DeleteReminder(ctx, s.db, reminder.ID); deleteErr != nil {
			logger.ErrorContext(ctx, "error deleting orphaned reminder", tint.Err(deleteErr))
		}
		s.metricOrphaned.Add(1)
		return
	}

	s.lastDeliveredID = reminder.ID
	if deleteErr := DeleteReminder(ctx, s.db, reminder.ID); deleteErr != nil {
		logger.ErrorContext(ctx, "error deleting reminder before send", tint.Err(deleteErr))
		return
	}

	if waitErr := s.limiter.Wait(ctx); waitErr != nil {
		logger.WarnContext(ctx, "rate limiter wait aborted", tint.Err(waitErr))
		return
	}

	text := reminder.Text
	for text == "" {
		text = s.fallback()
	}

	content := truncate(
		fmt.Sprintf(deliveryTmpl, reminder.OwnerID, text),
		discordMaxMessageLength,
	)

	if sendErr := s.send(reminder, content); sendErr != nil {
		// the record is already gone - an accepted lossy failure mode
		logger.ErrorContext(ctx, "reminder delivery failed", tint.Err(sendErr))
		s.metricLost.Add(1)
		return
	}

	s.metricDelivered.Add(1)
	logger.InfoContext(ctx, "delivered reminder")
}

// send replies to the confirmation message when it still exists,
// otherwise falls back to a plain channel send.
func (s *Scheduler) send(reminder *Reminder, content string) error {
	if reminder.ConfirmationMessageID != "" {
		_, msgErr := s.session.ChannelMessage(
			reminder.ChannelID,
			reminder.ConfirmationMessageID,
		)
		if msgErr == nil {
			_, sendErr := s.session.ChannelMessageSendReply(
				reminder.ChannelID,
				content,
				&discordgo.MessageReference{
					MessageID: reminder.ConfirmationMessageID,
					ChannelID: reminder.ChannelID,
				},
			)
			return sendErr
		}
	}

	_, sendErr := s.session.ChannelMessageSend(reminder.ChannelID, content)
	return sendErr
}

// PendingCount reports the number of stored reminders, for the status API.
func (s *Scheduler) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.DB().WithContext(ctx).Model(&Reminder{}).Count(&count).Error
	return count, err
}
