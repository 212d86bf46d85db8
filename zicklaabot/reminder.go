package zicklaabot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// Reminder is a single scheduled reminder. DueAt is stored as epoch
// seconds in UTC; the user's configured timezone only matters when
// parsing input and rendering output.
type Reminder struct {
	ModelUintID
	ModelUnixTime

	// OwnerID is the Discord user ID (snowflake) of the user who
	// created the reminder, and who will be mentioned upon delivery.
	OwnerID string `gorm:"index;not null" json:"owner_id"`

	// Text is the reminder message, verbatim as the user entered it.
	// May be empty, in which case delivery substitutes generated text.
	Text string `json:"text"`

	// DueAt is the scheduled delivery time as epoch seconds.
	DueAt int64 `gorm:"index;not null" json:"due_at"`

	// ChannelID is the channel the reminder was created in, and where
	// it will be delivered.
	ChannelID string `gorm:"not null" json:"channel_id"`

	// ConfirmationMessageID is the ID of the public confirmation
	// message sent when the reminder was created. Delivery replies to
	// this message when it still exists.
	ConfirmationMessageID string `json:"confirmation_message_id"`

	// ParentID references an earlier reminder this one follows up on.
	// Stored but not yet acted upon.
	ParentID *uint `json:"parent_id,omitempty"`
}

func (r Reminder) String() string {
	return fmt.Sprintf(
		"Reminder(id: %d, owner: %s, due_at: %d, channel: %s)",
		r.ID, r.OwnerID, r.DueAt, r.ChannelID,
	)
}

func (r Reminder) LogValue() slog.Value {
	return structToSlogValue(r)
}

// InsertReminder persists a new reminder and returns it with its
// assigned ID.
func InsertReminder(ctx context.Context, db DBI, reminder *Reminder) error {
	_, err := db.Create(ctx, reminder)
	if err != nil {
		return fmt.Errorf("error creating reminder: %w", err)
	}
	return nil
}

// EarliestPendingReminder returns the reminder with the lowest DueAt,
// or nil if no reminders exist.
func EarliestPendingReminder(ctx context.Context, db DBI) (*Reminder, error) {
	var reminder Reminder
	err := db.DB().WithContext(ctx).Order("due_at asc").First(&reminder).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reminder, nil
}

// RemindersForOwner returns all of a user's reminders, soonest first.
func RemindersForOwner(ctx context.Context, db DBI, ownerID string) (
	[]Reminder,
	error,
) {
	var reminders []Reminder
	err := db.DB().WithContext(ctx).Where(
		"owner_id = ?", ownerID,
	).Order("due_at asc").Find(&reminders).Error
	return reminders, err
}

// ReminderExists reports whether a reminder with the given ID still
// exists. The scheduler re-checks this between selecting a reminder
// and delivering it.
func ReminderExists(ctx context.Context, db DBI, id uint) (bool, error) {
	var count int64
	err := db.DB().WithContext(ctx).Model(&Reminder{}).Where(
		"id = ?", id,
	).Count(&count).Error
	return count > 0, err
}

// DeleteReminder removes a reminder by ID. Deleting a reminder that
// does not exist is not an error.
func DeleteReminder(ctx context.Context, db DBI, id uint) error {
	_, err := db.Delete(ctx, &Reminder{}, id)
	return err
}
