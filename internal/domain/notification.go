package domain

import (
	"time"

	"github.com/google/uuid"
)

type SubjectType string

const (
	SubjectEvent SubjectType = "event"
	SubjectGroup SubjectType = "group"
	SubjectUser  SubjectType = "user"
)

type NotificationKind string

const (
	KindEventStarted               NotificationKind = "event_started"
	KindEventCancelled             NotificationKind = "event_cancelled"
	KindEventReminderOneDay        NotificationKind = "event_reminder_one_day"
	KindEventReminderOneHour       NotificationKind = "event_reminder_one_hour"
	KindEventReminderThirtyMinutes NotificationKind = "event_reminder_thirty_minutes"
	KindStarInvited                NotificationKind = "star_invited"
	KindStarConfirmed              NotificationKind = "star_confirmed"
)

// Notification is one persisted message for one recipient.
type Notification struct {
	ID          uuid.UUID
	RecipientID uuid.UUID

	SubjectID   uuid.UUID
	SubjectType SubjectType
	Kind        NotificationKind

	Title       string
	Description string

	CreatedAt time.Time
	Read      bool
}

// FollowPreferences selects which event moments a follower wants to hear about.
type FollowPreferences struct {
	AtStart         bool
	AtThirtyMinutes bool
	AtOneHour       bool
	AtOneDay        bool
}

// Follow is an audience edge from a user to an event, group or user.
type Follow struct {
	UserID      uuid.UUID
	SubjectID   uuid.UUID
	SubjectType SubjectType
	Preferences FollowPreferences
}

// FollowFilter restricts followers by a single preference flag.
// The zero value matches every follower.
type FollowFilter string

const (
	FilterNone            FollowFilter = ""
	FilterAtStart         FollowFilter = "at_start"
	FilterAtThirtyMinutes FollowFilter = "at_thirty_minutes"
	FilterAtOneHour       FollowFilter = "at_one_hour"
	FilterAtOneDay        FollowFilter = "at_one_day"
)

// Matches reports whether the preferences satisfy the filter.
func (f FollowFilter) Matches(p FollowPreferences) bool {
	switch f {
	case FilterAtStart:
		return p.AtStart
	case FilterAtThirtyMinutes:
		return p.AtThirtyMinutes
	case FilterAtOneHour:
		return p.AtOneHour
	case FilterAtOneDay:
		return p.AtOneDay
	default:
		return true
	}
}

type User struct {
	ID       uuid.UUID
	Username string

	// PushEndpoint is the web push gateway URL; empty disables web push.
	PushEndpoint string
	PushSecret   string
}
