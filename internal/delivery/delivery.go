// Package delivery pushes persisted notifications to external channels.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// ErrSkipped is returned by a channel that does not apply to the recipient.
var ErrSkipped = errors.New("delivery: channel not applicable")

const (
	RouterName = "delivery.router"

	DefaultParallelism = 4
)

// Channel is one outbound transport.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n domain.Notification, u domain.User) error
}

// MetricsSink defines the interface for recording delivery metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryCompleted(channel, outcome string, duration time.Duration)
}

// Payload is the JSON body sent to every channel.
type Payload struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	SubjectID      string `json:"subject_id"`
	SubjectType    string `json:"subject_type"`
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	CreatedAt      string `json:"created_at"`
}

func NewPayload(n domain.Notification) Payload {
	return Payload{
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID.String(),
		SubjectID:      n.SubjectID.String(),
		SubjectType:    string(n.SubjectType),
		Kind:           string(n.Kind),
		Title:          n.Title,
		Description:    n.Description,
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Router is the bus handler for NotificationCreated. It fans one
// notification out to every channel concurrently; a channel failure is
// logged and never affects the other channels.
type Router struct {
	channels    []Channel
	parallelism int
	metrics     MetricsSink // optional, nil = disabled
}

func NewRouter(channels ...Channel) *Router {
	return &Router{
		channels:    channels,
		parallelism: DefaultParallelism,
	}
}

func (r *Router) WithParallelism(n int) *Router {
	if n > 0 {
		r.parallelism = n
	}
	return r
}

// WithMetrics attaches a metrics sink to the router.
func (r *Router) WithMetrics(sink MetricsSink) *Router {
	r.metrics = sink
	return r
}

// Channels returns the configured channel names.
func (r *Router) Channels() []string {
	names := make([]string, len(r.channels))
	for i, ch := range r.channels {
		names[i] = ch.Name()
	}
	return names
}

func (r *Router) Register(b *eventbus.Builder) {
	eventbus.Register(b, RouterName, func(uow *eventbus.UnitOfWork) eventbus.TypedHandler[domain.NotificationCreated] {
		return eventbus.HandlerFunc[domain.NotificationCreated](func(ctx context.Context, msg domain.NotificationCreated) error {
			return r.Route(ctx, uow, msg)
		})
	})
}

// Route re-reads the notification and its recipient, then delivers.
func (r *Router) Route(ctx context.Context, uow *eventbus.UnitOfWork, msg domain.NotificationCreated) error {
	n, err := uow.Store.GetNotification(ctx, msg.NotificationID)
	if err != nil {
		return fmt.Errorf("get notification %s: %w", msg.NotificationID, err)
	}

	u, err := uow.Store.GetUser(ctx, n.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		uow.Logger.Debug().Str("user_id", n.RecipientID.String()).Msg("recipient gone, not delivered")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for _, ch := range r.channels {
		g.Go(func() error {
			r.deliver(ctx, uow, ch, n, u)
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (r *Router) deliver(ctx context.Context, uow *eventbus.UnitOfWork, ch Channel, n domain.Notification, u domain.User) {
	start := time.Now()
	err := eventbus.Recover(func() error {
		return ch.Deliver(ctx, n, u)
	})

	outcome := "success"
	switch {
	case errors.Is(err, ErrSkipped):
		outcome = "skipped"
	case err != nil:
		outcome = "failed"
		uow.Logger.Warn().
			Err(err).
			Str("channel", ch.Name()).
			Str("notification_id", n.ID.String()).
			Msg("delivery failed")
	}

	if r.metrics != nil {
		r.metrics.DeliveryCompleted(ch.Name(), outcome, time.Since(start))
	}
}
