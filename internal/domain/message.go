package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable record of something that happened.
// Messages carry identifiers and minimal payload, never entity references.
type Message interface {
	MessageType() string
}

const (
	MessageEventScheduled      = "event.scheduled"
	MessageEventStatusUpdated  = "event.status_updated"
	MessageEventReminderDue    = "event.reminder_due"
	MessageStarInvited         = "event.star_invited"
	MessageStarConfirmed       = "event.star_confirmed"
	MessageNotificationCreated = "notification.created"
)

// EventScheduled is emitted after a schedule write commits.
type EventScheduled struct {
	EventID   uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Version   int64
}

func (EventScheduled) MessageType() string { return MessageEventScheduled }

// EventStatusUpdated is emitted after a status transition commits.
type EventStatusUpdated struct {
	EventID uuid.UUID
	From    EventStatus
	To      EventStatus
}

func (EventStatusUpdated) MessageType() string { return MessageEventStatusUpdated }

// EventReminderDue is emitted by the reminder job.
type EventReminderDue struct {
	EventID uuid.UUID
	Window  ReminderWindow
}

func (EventReminderDue) MessageType() string { return MessageEventReminderDue }

type StarInvited struct {
	EventID uuid.UUID
	UserID  uuid.UUID
}

func (StarInvited) MessageType() string { return MessageStarInvited }

type StarConfirmed struct {
	EventID uuid.UUID
	UserID  uuid.UUID
}

func (StarConfirmed) MessageType() string { return MessageStarConfirmed }

// NotificationCreated is emitted once per persisted notification, after commit.
type NotificationCreated struct {
	NotificationID uuid.UUID
	RecipientID    uuid.UUID
}

func (NotificationCreated) MessageType() string { return MessageNotificationCreated }
