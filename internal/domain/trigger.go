package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerPurpose string

const (
	TriggerStart               TriggerPurpose = "start"
	TriggerEnd                 TriggerPurpose = "end"
	TriggerRemindOneDay        TriggerPurpose = "remind_one_day"
	TriggerRemindOneHour       TriggerPurpose = "remind_one_hour"
	TriggerRemindThirtyMinutes TriggerPurpose = "remind_thirty_minutes"
)

// AllTriggerPurposes lists every purpose; each is a distinct key per event.
var AllTriggerPurposes = []TriggerPurpose{
	TriggerStart,
	TriggerEnd,
	TriggerRemindOneDay,
	TriggerRemindOneHour,
	TriggerRemindThirtyMinutes,
}

// IsReminder reports whether the purpose only notifies and never transitions.
func (p TriggerPurpose) IsReminder() bool {
	switch p {
	case TriggerRemindOneDay, TriggerRemindOneHour, TriggerRemindThirtyMinutes:
		return true
	}
	return false
}

// ReminderWindow maps a reminder purpose to how long before start it fires.
type ReminderWindow string

const (
	ReminderOneDay        ReminderWindow = "one_day"
	ReminderOneHour       ReminderWindow = "one_hour"
	ReminderThirtyMinutes ReminderWindow = "thirty_minutes"
)

// Lead returns the offset before the event start.
func (w ReminderWindow) Lead() time.Duration {
	switch w {
	case ReminderOneDay:
		return 24 * time.Hour
	case ReminderOneHour:
		return time.Hour
	case ReminderThirtyMinutes:
		return 30 * time.Minute
	}
	return 0
}

// Window returns the reminder window for a reminder purpose.
func (p TriggerPurpose) Window() (ReminderWindow, bool) {
	switch p {
	case TriggerRemindOneDay:
		return ReminderOneDay, true
	case TriggerRemindOneHour:
		return ReminderOneHour, true
	case TriggerRemindThirtyMinutes:
		return ReminderThirtyMinutes, true
	}
	return "", false
}

// Trigger is a timer keyed by (EventID, Purpose).
type Trigger struct {
	EventID uuid.UUID
	Purpose TriggerPurpose
	FireAt  time.Time // UTC
}
