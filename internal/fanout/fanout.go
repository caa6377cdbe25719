// Package fanout turns lifecycle messages into persisted notifications for
// the audience of an event and announces each one after commit.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// ErrInconsistent is returned when a message refers to an event that does
// not exist. The fan-out is abandoned.
var ErrInconsistent = errors.New("fanout: referenced event does not exist")

const (
	HandlerName = "fanout"

	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 200 * time.Millisecond
)

// MetricsSink records fan-out metrics. All methods must be non-blocking.
type MetricsSink interface {
	NotificationsCreated(kind string, count int)
	FanoutRetry()
}

type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

type Service struct {
	config    Config
	templates Templates
	clock     func() time.Time
	metrics   MetricsSink // optional, nil = disabled
}

func New(config Config) *Service {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	return &Service{
		config:    config,
		templates: DefaultTemplates(),
		clock:     time.Now,
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) WithTemplates(t Templates) *Service {
	s.templates = t
	return s
}

func (s *Service) WithMetrics(sink MetricsSink) *Service {
	s.metrics = sink
	return s
}

// Register adds the fan-out handler kinds to the bus builder.
func (s *Service) Register(b *eventbus.Builder) {
	eventbus.Register(b, HandlerName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.EventStatusUpdated] {
		return eventbus.HandlerFunc[domain.EventStatusUpdated](func(ctx context.Context, msg domain.EventStatusUpdated) error {
			return s.OnStatusUpdated(ctx, uow, msg)
		})
	})
	eventbus.Register(b, HandlerName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.EventReminderDue] {
		return eventbus.HandlerFunc[domain.EventReminderDue](func(ctx context.Context, msg domain.EventReminderDue) error {
			return s.OnReminderDue(ctx, uow, msg)
		})
	})
	eventbus.Register(b, HandlerName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.StarInvited] {
		return eventbus.HandlerFunc[domain.StarInvited](func(ctx context.Context, msg domain.StarInvited) error {
			return s.OnStarInvited(ctx, uow, msg)
		})
	})
	eventbus.Register(b, HandlerName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.StarConfirmed] {
		return eventbus.HandlerFunc[domain.StarConfirmed](func(ctx context.Context, msg domain.StarConfirmed) error {
			return s.OnStarConfirmed(ctx, uow, msg)
		})
	})
}

// audienceQuery is one followers lookup.
type audienceQuery struct {
	subjectID   uuid.UUID
	subjectType domain.SubjectType
	filter      domain.FollowFilter
}

// OnStatusUpdated notifies followers when an event starts or is cancelled.
// Starting notifies followers of the event and its group who asked to hear
// about starts; cancelling notifies every follower of the event.
func (s *Service) OnStatusUpdated(ctx context.Context, uow *eventbus.UnitOfWork, msg domain.EventStatusUpdated) error {
	var kind domain.NotificationKind
	switch msg.To {
	case domain.EventStatusStarted:
		kind = domain.KindEventStarted
	case domain.EventStatusCanceled:
		kind = domain.KindEventCancelled
	default:
		return nil
	}

	e, err := s.fetchEvent(ctx, uow, msg.EventID)
	if err != nil {
		return err
	}

	queries := []audienceQuery{{e.ID, domain.SubjectEvent, domain.FilterNone}}
	if kind == domain.KindEventStarted {
		queries = []audienceQuery{
			{e.ID, domain.SubjectEvent, domain.FilterAtStart},
			{e.GroupID, domain.SubjectGroup, domain.FilterAtStart},
		}
	}

	audience, err := followers(ctx, uow.Store, queries...)
	if err != nil {
		return err
	}
	return s.notify(ctx, uow, e, kind, audience, tokens{})
}

// OnReminderDue notifies event followers whose preference matches the window.
func (s *Service) OnReminderDue(ctx context.Context, uow *eventbus.UnitOfWork, msg domain.EventReminderDue) error {
	var (
		kind   domain.NotificationKind
		filter domain.FollowFilter
	)
	switch msg.Window {
	case domain.ReminderOneDay:
		kind, filter = domain.KindEventReminderOneDay, domain.FilterAtOneDay
	case domain.ReminderOneHour:
		kind, filter = domain.KindEventReminderOneHour, domain.FilterAtOneHour
	case domain.ReminderThirtyMinutes:
		kind, filter = domain.KindEventReminderThirtyMinutes, domain.FilterAtThirtyMinutes
	default:
		return fmt.Errorf("unknown reminder window %q", msg.Window)
	}

	e, err := s.fetchEvent(ctx, uow, msg.EventID)
	if err != nil {
		return err
	}

	audience, err := followers(ctx, uow.Store, audienceQuery{e.ID, domain.SubjectEvent, filter})
	if err != nil {
		return err
	}
	return s.notify(ctx, uow, e, kind, audience, tokens{})
}

// OnStarInvited notifies the invited user directly.
func (s *Service) OnStarInvited(ctx context.Context, uow *eventbus.UnitOfWork, msg domain.StarInvited) error {
	e, err := s.fetchEvent(ctx, uow, msg.EventID)
	if err != nil {
		return err
	}
	return s.notify(ctx, uow, e, domain.KindStarInvited, []uuid.UUID{msg.UserID}, tokens{})
}

// OnStarConfirmed notifies followers of the star and of the event. The star
// is not notified about themselves.
func (s *Service) OnStarConfirmed(ctx context.Context, uow *eventbus.UnitOfWork, msg domain.StarConfirmed) error {
	e, err := s.fetchEvent(ctx, uow, msg.EventID)
	if err != nil {
		return err
	}

	star, err := uow.Store.GetUser(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("star %s: %w", msg.UserID, ErrInconsistent)
		}
		return fmt.Errorf("get star: %w", err)
	}

	audience, err := followers(ctx, uow.Store,
		audienceQuery{star.ID, domain.SubjectUser, domain.FilterNone},
		audienceQuery{e.ID, domain.SubjectEvent, domain.FilterNone},
	)
	if err != nil {
		return err
	}

	filtered := audience[:0]
	for _, id := range audience {
		if id != star.ID {
			filtered = append(filtered, id)
		}
	}
	return s.notify(ctx, uow, e, domain.KindStarConfirmed, filtered, tokens{star: star.Username})
}

func (s *Service) fetchEvent(ctx context.Context, uow *eventbus.UnitOfWork, id uuid.UUID) (domain.Event, error) {
	e, err := uow.Store.GetEvent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, ErrInconsistent)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// followers runs every query and returns user ids de-duplicated in first
// seen order.
func followers(ctx context.Context, r store.Reader, queries ...audienceQuery) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, q := range queries {
		follows, err := r.ListFollowers(ctx, q.subjectID, q.subjectType, q.filter)
		if err != nil {
			return nil, fmt.Errorf("list followers of %s %s: %w", q.subjectType, q.subjectID, err)
		}
		for _, f := range follows {
			if seen[f.UserID] {
				continue
			}
			seen[f.UserID] = true
			ids = append(ids, f.UserID)
		}
	}
	return ids, nil
}

// notify persists one notification per resolvable recipient in a single
// transaction, then publishes NotificationCreated for each row.
func (s *Service) notify(ctx context.Context, uow *eventbus.UnitOfWork, e domain.Event, kind domain.NotificationKind, audience []uuid.UUID, tok tokens) error {
	log := uow.Logger.With().
		Str("event_id", e.ID.String()).
		Str("kind", string(kind)).
		Logger()

	if len(audience) == 0 {
		log.Debug().Msg("empty audience")
		return nil
	}

	group, err := uow.Store.GetGroup(ctx, e.GroupID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Warn().Str("group_id", e.GroupID.String()).Msg("owning group not found")
	case err != nil:
		return fmt.Errorf("get group: %w", err)
	}

	tok.event = e.Name
	tok.group = group.Name
	tok.start = e.StartTime
	title, description := s.templates.render(kind, tok)

	now := s.clock().UTC()
	rows := make([]domain.Notification, 0, len(audience))
	for _, userID := range audience {
		if _, err := uow.Store.GetUser(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn().Str("user_id", userID.String()).Msg("recipient not found, skipped")
				continue
			}
			return fmt.Errorf("get user: %w", err)
		}
		rows = append(rows, domain.Notification{
			ID:          uuid.New(),
			RecipientID: userID,
			SubjectID:   e.ID,
			SubjectType: domain.SubjectEvent,
			Kind:        kind,
			Title:       title,
			Description: description,
			CreatedAt:   now,
		})
	}

	if len(rows) == 0 {
		log.Debug().Msg("no resolvable recipients")
		return nil
	}

	if err := s.insert(ctx, uow.Store, rows, log); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.NotificationsCreated(string(kind), len(rows))
	}
	log.Info().Int("recipients", len(rows)).Msg("notifications created")

	for _, n := range rows {
		msg := domain.NotificationCreated{NotificationID: n.ID, RecipientID: n.RecipientID}
		if err := uow.Publisher.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("publish failed")
		}
	}
	return nil
}

// insert writes the whole batch in one transaction, retrying the batch.
func (s *Service) insert(ctx context.Context, st store.Store, rows []domain.Notification, log zerolog.Logger) error {
	var err error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if s.metrics != nil {
				s.metrics.FanoutRetry()
			}
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", s.config.RetryBackoff).Msg("retrying batch insert")

			timer := time.NewTimer(s.config.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = st.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertNotifications(ctx, rows)
		})
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("insert notifications after %d attempts: %w", s.config.MaxAttempts, err)
}
