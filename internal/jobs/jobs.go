// Package jobs holds the work run when a trigger fires. Every job re-reads
// the event first and turns into a no-op when the trigger is stale.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/lifecycle"
	"github.com/Auros/VRAtlas.API-sub000/internal/scheduler"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// Set builds the purpose to job table handed to the scheduler.
type Set struct {
	clock   func() time.Time
	metrics lifecycle.MetricsSink // optional, nil = disabled
}

func New() *Set {
	return &Set{clock: time.Now}
}

func (s *Set) WithClock(clock func() time.Time) *Set {
	s.clock = clock
	return s
}

// WithMetrics forwards transition metrics to the machines the jobs build.
func (s *Set) WithMetrics(sink lifecycle.MetricsSink) *Set {
	s.metrics = sink
	return s
}

// Table maps every trigger purpose to its job.
func (s *Set) Table() map[domain.TriggerPurpose]scheduler.Job {
	reminder := scheduler.JobFunc(s.remind)
	return map[domain.TriggerPurpose]scheduler.Job{
		domain.TriggerStart:               scheduler.JobFunc(s.start),
		domain.TriggerEnd:                 scheduler.JobFunc(s.end),
		domain.TriggerRemindOneDay:        reminder,
		domain.TriggerRemindOneHour:       reminder,
		domain.TriggerRemindThirtyMinutes: reminder,
	}
}

func (s *Set) machine(uow *eventbus.UnitOfWork) *lifecycle.Machine {
	m := lifecycle.New(uow.Store, uow.Publisher).
		WithClock(s.clock).
		WithLogger(uow.Logger)
	if s.metrics != nil {
		m.WithMetrics(s.metrics)
	}
	return m
}

// fetch returns ok=false when the event no longer exists.
func fetch(ctx context.Context, uow *eventbus.UnitOfWork, t domain.Trigger) (domain.Event, bool, error) {
	e, err := uow.Store.GetEvent(ctx, t.EventID)
	if errors.Is(err, store.ErrNotFound) {
		uow.Logger.Debug().Msg("event gone, nothing to do")
		return domain.Event{}, false, nil
	}
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("get event: %w", err)
	}
	return e, true, nil
}

func skip(uow *eventbus.UnitOfWork, reason string) error {
	uow.Logger.Debug().Str("reason", reason).Msg("stale trigger, skipped")
	return nil
}

func (s *Set) start(ctx context.Context, uow *eventbus.UnitOfWork, t domain.Trigger) error {
	e, ok, err := fetch(ctx, uow, t)
	if !ok {
		return err
	}

	switch {
	case !e.AutoStart:
		return skip(uow, "auto start disabled")
	case !e.Status.Schedulable():
		return skip(uow, "status "+string(e.Status))
	case !e.HasSchedule() || s.clock().UTC().Before(*e.StartTime):
		return skip(uow, "start time not reached")
	}

	return ignoreRejected(uow, s.machine(uow).Start(ctx, e.ID))
}

func (s *Set) end(ctx context.Context, uow *eventbus.UnitOfWork, t domain.Trigger) error {
	e, ok, err := fetch(ctx, uow, t)
	if !ok {
		return err
	}

	switch {
	case e.Status != domain.EventStatusStarted:
		return skip(uow, "status "+string(e.Status))
	case e.EndTime == nil || s.clock().UTC().Before(*e.EndTime):
		return skip(uow, "end time not reached")
	}

	return ignoreRejected(uow, s.machine(uow).Conclude(ctx, e.ID))
}

func (s *Set) remind(ctx context.Context, uow *eventbus.UnitOfWork, t domain.Trigger) error {
	window, ok := t.Purpose.Window()
	if !ok {
		return fmt.Errorf("purpose %s is not a reminder", t.Purpose)
	}

	e, ok, err := fetch(ctx, uow, t)
	if !ok {
		return err
	}
	if !e.Status.Schedulable() {
		return skip(uow, "status "+string(e.Status))
	}

	return uow.Publisher.Publish(ctx, domain.EventReminderDue{EventID: e.ID, Window: window})
}

// ignoreRejected treats a lost race with another transition as a no-op.
func ignoreRejected(uow *eventbus.UnitOfWork, err error) error {
	if errors.Is(err, lifecycle.ErrInvalidTransition) {
		uow.Logger.Debug().Err(err).Msg("transition rejected, state changed since fetch")
		return nil
	}
	return err
}
