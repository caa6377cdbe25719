package scheduler

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

const ListenerName = "scheduler.listener"

// listener re-reads the event from its unit of work and syncs the trigger
// table. It never trusts the message payload for state.
type listener[M domain.Message] struct {
	s       *Scheduler
	uow     *eventbus.UnitOfWork
	eventID func(M) uuid.UUID
}

func (l *listener[M]) Handle(ctx context.Context, msg M) error {
	id := l.eventID(msg)

	e, err := l.uow.Store.GetEvent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		l.uow.Logger.Debug().Str("event_id", id.String()).Msg("event gone, unregistering")
		l.s.UnregisterAll(id)
		return nil
	}
	if err != nil {
		return err
	}

	l.s.Sync(e)
	return nil
}

// Register adds the scheduler listener for schedule and status messages.
func (s *Scheduler) Register(b *eventbus.Builder) {
	eventbus.Register(b, ListenerName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.EventScheduled] {
		return &listener[domain.EventScheduled]{
			s:       s,
			uow:     uow,
			eventID: func(m domain.EventScheduled) uuid.UUID { return m.EventID },
		}
	})
	eventbus.Register(b, ListenerName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.EventStatusUpdated] {
		return &listener[domain.EventStatusUpdated]{
			s:       s,
			uow:     uow,
			eventID: func(m domain.EventStatusUpdated) uuid.UUID { return m.EventID },
		}
	})
}
