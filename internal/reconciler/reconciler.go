// Package reconciler re-derives the scheduler's trigger table from the store.
//
// The trigger table lives in process memory, so after a restart (or a
// message lost to a full bus) it can drift from the persisted events. The
// reconciler pages through every announced, preliminary and started event
// that has not ended yet and hands each one to the scheduler's Sync, which
// is idempotent: fired purposes stay fired, stale versions are ignored.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/cron"
	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

// Syncer rebuilds the triggers of one event.
type Syncer interface {
	Sync(e domain.Event)
}

// MetricsSink defines the interface for recording reconciler metrics.
type MetricsSink interface {
	ReconcileCompleted(synced int, duration time.Duration)
	ReconcileFailed()
}

// Config holds reconciler configuration.
type Config struct {
	// BatchSize is the page size used when listing events.
	// Default: 100.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{BatchSize: 100}
}

type Reconciler struct {
	config   Config
	schedule cron.Schedule
	opener   store.Opener
	syncer   Syncer
	clock    func() time.Time
	logger   zerolog.Logger
	metrics  MetricsSink // optional, nil = disabled
}

func New(config Config, schedule cron.Schedule, opener store.Opener, syncer Syncer) *Reconciler {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Reconciler{
		config:   config,
		schedule: schedule,
		opener:   opener,
		syncer:   syncer,
		clock:    time.Now,
		logger:   zerolog.Nop(),
	}
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

func (r *Reconciler) WithLogger(l zerolog.Logger) *Reconciler {
	r.logger = l.With().Str("component", "reconciler").Logger()
	return r
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run reconciles once immediately, then on every tick of the schedule.
// It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info().Int("batch_size", r.config.BatchSize).Msg("started")

	r.cycle(ctx)

	for {
		now := time.Now()
		timer := time.NewTimer(r.schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("stopped")
			return
		case <-timer.C:
			r.cycle(ctx)
		}
	}
}

func (r *Reconciler) cycle(ctx context.Context) {
	start := time.Now()
	synced, err := r.Reconcile(ctx)
	if err != nil {
		// Retried on the next tick.
		r.logger.Error().Err(err).Int("synced", synced).Msg("cycle failed")
		if r.metrics != nil {
			r.metrics.ReconcileFailed()
		}
		return
	}

	r.logger.Debug().Int("synced", synced).Dur("took", time.Since(start)).Msg("cycle complete")
	if r.metrics != nil {
		r.metrics.ReconcileCompleted(synced, time.Since(start))
	}
}

// Reconcile syncs every live event and returns how many were synced.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	session, err := r.opener.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	now := r.clock().UTC()
	synced := 0
	for offset := 0; ; offset += r.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		events, err := session.ListSchedulableEvents(ctx, now, r.config.BatchSize, offset)
		if err != nil {
			return synced, fmt.Errorf("list events at offset %d: %w", offset, err)
		}

		for _, e := range events {
			r.syncer.Sync(e)
			synced++
		}

		if len(events) < r.config.BatchSize {
			return synced, nil
		}
	}
}
