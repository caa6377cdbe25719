// Package lifecycle owns every status and schedule change of an event.
//
// Each operation is one read-modify-write in a single transaction with the
// event row locked. Messages are published only after the commit.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// MinLeadTime is how far in the future a scheduled start must be.
const MinLeadTime = time.Minute

const (
	OpSchedule        = "schedule"
	OpAnnounce        = "announce"
	OpMarkPreliminary = "mark_preliminary"
	OpStart           = "start"
	OpConclude        = "conclude"
	OpCancel          = "cancel"
	OpInviteStar      = "invite_star"
	OpConfirmStar     = "confirm_star"
)

// Publisher is the subset of the event bus the machine needs.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// MetricsSink records transition outcomes.
type MetricsSink interface {
	TransitionCompleted(op string, outcome string)
}

type Machine struct {
	store   store.Store
	pub     Publisher
	clock   func() time.Time
	logger  zerolog.Logger
	metrics MetricsSink // optional, nil = disabled
}

// New binds a machine to a store scope. Machines are cheap; build one per
// unit of work.
func New(st store.Store, pub Publisher) *Machine {
	return &Machine{
		store:  st,
		pub:    pub,
		clock:  time.Now,
		logger: zerolog.Nop(),
	}
}

func (m *Machine) WithClock(clock func() time.Time) *Machine {
	m.clock = clock
	return m
}

func (m *Machine) WithLogger(l zerolog.Logger) *Machine {
	m.logger = l.With().Str("component", "lifecycle").Logger()
	return m
}

func (m *Machine) WithMetrics(sink MetricsSink) *Machine {
	m.metrics = sink
	return m
}

// Schedule sets the start and end of an event and bumps its schedule
// version. Allowed while unlisted, announced or preliminary.
func (m *Machine) Schedule(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	now := m.clock().UTC()
	start, end = start.UTC(), end.UTC()

	var version int64
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}

		switch e.Status {
		case domain.EventStatusUnlisted, domain.EventStatusAnnounced, domain.EventStatusPreliminary:
		default:
			return reject(e, OpSchedule, "event can no longer be scheduled")
		}
		if start.Before(now.Add(MinLeadTime)) {
			return reject(e, OpSchedule, "start must be at least one minute in the future")
		}
		if !end.After(start) {
			return reject(e, OpSchedule, "end must be after start")
		}

		version = e.ScheduleVersion + 1
		return tx.UpdateEventSchedule(ctx, id, start, end, version, now)
	})
	m.record(OpSchedule, err)
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("event_id", id.String()).
		Time("start", start).
		Time("end", end).
		Int64("version", version).
		Msg("event scheduled")

	m.publish(ctx, domain.EventScheduled{
		EventID:   id,
		StartTime: start,
		EndTime:   end,
		Version:   version,
	})
	return nil
}

// Announce makes an unlisted event public.
func (m *Machine) Announce(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, OpAnnounce, domain.EventStatusAnnounced, func(e domain.Event, now time.Time) string {
		if e.Status != domain.EventStatusUnlisted {
			return "only unlisted events can be announced"
		}
		return ""
	})
}

// MarkPreliminary flags an announced event as not yet final.
func (m *Machine) MarkPreliminary(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, OpMarkPreliminary, domain.EventStatusPreliminary, func(e domain.Event, now time.Time) string {
		if e.Status != domain.EventStatusAnnounced {
			return "only announced events can be marked preliminary"
		}
		return ""
	})
}

// Start moves a scheduled event to started once its start time is reached.
func (m *Machine) Start(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, OpStart, domain.EventStatusStarted, func(e domain.Event, now time.Time) string {
		if !e.Status.Schedulable() {
			return "only announced or preliminary events can start"
		}
		if !e.HasSchedule() {
			return "event has no schedule"
		}
		if now.Before(*e.StartTime) {
			return "start time not reached"
		}
		return ""
	})
}

// Conclude ends a started event.
func (m *Machine) Conclude(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, OpConclude, domain.EventStatusConcluded, func(e domain.Event, now time.Time) string {
		if e.Status != domain.EventStatusStarted {
			return "only started events can be concluded"
		}
		return ""
	})
}

// Cancel stops any event that has not already finished.
func (m *Machine) Cancel(ctx context.Context, id uuid.UUID) error {
	return m.transition(ctx, id, OpCancel, domain.EventStatusCanceled, func(e domain.Event, now time.Time) string {
		if e.Status.Terminal() {
			return "event already finished"
		}
		return ""
	})
}

type checkFn func(e domain.Event, now time.Time) string

func (m *Machine) transition(ctx context.Context, id uuid.UUID, op string, to domain.EventStatus, check checkFn) error {
	now := m.clock().UTC()

	var from domain.EventStatus
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEventForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if reason := check(e, now); reason != "" {
			return reject(e, op, reason)
		}
		from = e.Status
		return tx.UpdateEventStatus(ctx, id, to, now)
	})
	m.record(op, err)
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("event_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("status updated")

	m.publish(ctx, domain.EventStatusUpdated{EventID: id, From: from, To: to})
	return nil
}

// InviteStar invites a user to perform at an event. Re-inviting a star that
// has not confirmed yet publishes the invitation again.
func (m *Machine) InviteStar(ctx context.Context, eventID, userID uuid.UUID) error {
	now := m.clock().UTC()

	err := m.store.InTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if e.Status.Terminal() {
			return reject(e, OpInviteStar, "event already finished")
		}
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}

		p, err := tx.GetParticipant(ctx, eventID, userID)
		switch {
		case err == nil && p.Status == domain.ParticipantStatusConfirmed:
			return reject(e, OpInviteStar, "star already confirmed")
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}

		return tx.UpsertParticipant(ctx, domain.Participant{
			EventID:   eventID,
			UserID:    userID,
			Status:    domain.ParticipantStatusInvited,
			UpdatedAt: now,
		})
	})
	m.record(OpInviteStar, err)
	if err != nil {
		return err
	}

	m.publish(ctx, domain.StarInvited{EventID: eventID, UserID: userID})
	return nil
}

// ConfirmStar records that an invited user accepted.
func (m *Machine) ConfirmStar(ctx context.Context, eventID, userID uuid.UUID) error {
	now := m.clock().UTC()

	err := m.store.InTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if e.Status.Terminal() {
			return reject(e, OpConfirmStar, "event already finished")
		}

		p, err := tx.GetParticipant(ctx, eventID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return reject(e, OpConfirmStar, "user was not invited")
		}
		if err != nil {
			return err
		}
		if p.Status != domain.ParticipantStatusInvited {
			return reject(e, OpConfirmStar, "star already confirmed")
		}

		p.Status = domain.ParticipantStatusConfirmed
		p.UpdatedAt = now
		return tx.UpsertParticipant(ctx, p)
	})
	m.record(OpConfirmStar, err)
	if err != nil {
		return err
	}

	m.publish(ctx, domain.StarConfirmed{EventID: eventID, UserID: userID})
	return nil
}

func reject(e domain.Event, op, reason string) error {
	return &TransitionError{EventID: e.ID, Op: op, From: e.Status, Reason: reason}
}

// publish runs after commit. The caller going away must not lose the
// message of a committed transition, so its cancellation is dropped. A
// message that still cannot be enqueued does not undo the transition.
func (m *Machine) publish(ctx context.Context, msg domain.Message) {
	if err := m.pub.Publish(context.WithoutCancel(ctx), msg); err != nil {
		m.logger.Warn().Err(err).Str("message", msg.MessageType()).Msg("publish failed")
	}
}

func (m *Machine) record(op string, err error) {
	if m.metrics == nil {
		return
	}
	switch {
	case err == nil:
		m.metrics.TransitionCompleted(op, "success")
	case errors.Is(err, ErrInvalidTransition):
		m.metrics.TransitionCompleted(op, "rejected")
	default:
		m.metrics.TransitionCompleted(op, "error")
	}
}
