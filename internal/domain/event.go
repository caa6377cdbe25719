package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventStatusUnlisted    EventStatus = "unlisted"
	EventStatusAnnounced   EventStatus = "announced"
	EventStatusPreliminary EventStatus = "preliminary"
	EventStatusStarted     EventStatus = "started"
	EventStatusConcluded   EventStatus = "concluded"
	EventStatusCanceled    EventStatus = "canceled"
)

// Schedulable reports whether triggers may exist for an event in this status.
func (s EventStatus) Schedulable() bool {
	return s == EventStatusAnnounced || s == EventStatusPreliminary
}

// Terminal reports whether no further transition is possible.
func (s EventStatus) Terminal() bool {
	return s == EventStatusConcluded || s == EventStatusCanceled
}

// Event is a live event hosted by a group.
type Event struct {
	ID      uuid.UUID
	GroupID uuid.UUID

	Name      string
	Status    EventStatus
	AutoStart bool

	StartTime *time.Time
	EndTime   *time.Time

	// ScheduleVersion increments on every successful schedule write.
	ScheduleVersion int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSchedule reports whether both start and end are set.
func (e Event) HasSchedule() bool {
	return e.StartTime != nil && e.EndTime != nil
}

type Group struct {
	ID   uuid.UUID
	Name string
}

type ParticipantStatus string

const (
	ParticipantStatusInvited   ParticipantStatus = "invited"
	ParticipantStatusConfirmed ParticipantStatus = "confirmed"
)

// Participant is a user performing at an event ("star").
type Participant struct {
	EventID   uuid.UUID
	UserID    uuid.UUID
	Status    ParticipantStatus
	UpdatedAt time.Time
}
