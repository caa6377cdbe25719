// Package store defines the persistence contract consumed by the core.
//
// Every dispatch and every fired trigger opens its own Session through an
// Opener; sessions are never shared across goroutines. Read-modify-write
// happens inside InTx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Reader holds the read operations available both inside and outside a transaction.
type Reader interface {
	GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error)
	GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error)
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
	GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error)
	GetParticipant(ctx context.Context, eventID, userID uuid.UUID) (domain.Participant, error)

	// ListFollowers returns follow edges of a subject matching the filter.
	ListFollowers(ctx context.Context, subjectID uuid.UUID, subjectType domain.SubjectType, filter domain.FollowFilter) ([]domain.Follow, error)

	// ListSchedulableEvents returns announced/preliminary/started events whose
	// end time is after the given instant, ordered by id, paginated.
	ListSchedulableEvents(ctx context.Context, endsAfter time.Time, limit, offset int) ([]domain.Event, error)

	ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error)
}

// Tx is a transactional scope.
type Tx interface {
	Reader

	// GetEventForUpdate reads and locks the event row until the transaction ends.
	GetEventForUpdate(ctx context.Context, id uuid.UUID) (domain.Event, error)
	UpdateEventSchedule(ctx context.Context, id uuid.UUID, start, end time.Time, version int64, updatedAt time.Time) error
	UpdateEventStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus, updatedAt time.Time) error

	InsertNotifications(ctx context.Context, notifications []domain.Notification) error
	// MarkNotificationRead returns ErrNotFound if the notification does not
	// belong to the user.
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error

	UpsertParticipant(ctx context.Context, p domain.Participant) error
}

// Store is the unit-of-work facing contract.
type Store interface {
	Reader

	// InTx runs fn in a transaction; fn's error rolls back.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Session is a Store bound to one scoped connection.
type Session interface {
	Store
	Close() error
}

// Opener creates isolated sessions.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}
