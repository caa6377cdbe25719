// Package scheduler keeps the process-local trigger table and fires jobs
// when triggers come due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/logger"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

const (
	DefaultTickInterval = time.Second

	// DefaultRetention is how long a finished entry is remembered after its
	// last trigger fired or its event ended.
	DefaultRetention = time.Hour
)

// ErrNoPublisher is returned by Run when WithPublisher was never called.
var ErrNoPublisher = errors.New("scheduler: no publisher configured")

// Job runs when a trigger fires, inside its own unit of work.
type Job interface {
	Run(ctx context.Context, uow *eventbus.UnitOfWork, trigger domain.Trigger) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, uow *eventbus.UnitOfWork, trigger domain.Trigger) error

func (f JobFunc) Run(ctx context.Context, uow *eventbus.UnitOfWork, trigger domain.Trigger) error {
	return f(ctx, uow, trigger)
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickCompleted(duration time.Duration, fired int)
	TriggerFired(purpose string, outcome string, duration time.Duration)
	TriggersActive(count int)
}

type Config struct {
	TickInterval time.Duration
	Retention    time.Duration
}

// entry is the trigger set of one event for one schedule version.
//
// A terminal entry is a tombstone for a canceled, concluded or deleted
// event: it holds no triggers and rejects every later sync, so a stale
// snapshot cannot bring triggers back. Tombstones and entries whose end has
// fired are removed once expires has passed.
type entry struct {
	version  int64
	triggers map[domain.TriggerPurpose]time.Time
	fired    map[domain.TriggerPurpose]bool
	terminal bool
	expires  time.Time
}

// finished reports whether nothing is left to fire for this entry.
func (e *entry) finished() bool {
	return e.terminal || (len(e.triggers) == 0 && e.fired[domain.TriggerEnd])
}

type Scheduler struct {
	config  Config
	opener  store.Opener
	pub     eventbus.Publisher
	jobs    map[domain.TriggerPurpose]Job
	clock   func() time.Time
	logger  zerolog.Logger
	metrics MetricsSink // optional, nil = disabled

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

// New builds a scheduler. jobs must cover every trigger purpose.
func New(config Config, opener store.Opener, jobs map[domain.TriggerPurpose]Job) (*Scheduler, error) {
	for _, p := range domain.AllTriggerPurposes {
		if jobs[p] == nil {
			return nil, fmt.Errorf("scheduler: no job for purpose %s", p)
		}
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	table := make(map[domain.TriggerPurpose]Job, len(jobs))
	for p, j := range jobs {
		table[p] = j
	}

	return &Scheduler{
		config:  config,
		opener:  opener,
		jobs:    table,
		clock:   time.Now,
		logger:  zerolog.Nop(),
		entries: make(map[uuid.UUID]*entry),
	}, nil
}

// WithPublisher sets the publisher handed to jobs. The bus is usually
// built after the scheduler has registered its listener.
func (s *Scheduler) WithPublisher(pub eventbus.Publisher) *Scheduler {
	s.pub = pub
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) WithLogger(l zerolog.Logger) *Scheduler {
	s.logger = l.With().Str("component", "scheduler").Logger()
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Compute derives the trigger set of a scheduled event. Reminders whose
// fire time is already past are skipped; start and end are always present.
func Compute(e domain.Event, now time.Time) []domain.Trigger {
	if !e.HasSchedule() {
		return nil
	}
	start, end := e.StartTime.UTC(), e.EndTime.UTC()

	triggers := []domain.Trigger{
		{EventID: e.ID, Purpose: domain.TriggerStart, FireAt: start},
		{EventID: e.ID, Purpose: domain.TriggerEnd, FireAt: end},
	}
	for _, p := range domain.AllTriggerPurposes {
		w, ok := p.Window()
		if !ok {
			continue
		}
		at := start.Add(-w.Lead())
		if at.Before(now) {
			continue
		}
		triggers = append(triggers, domain.Trigger{EventID: e.ID, Purpose: p, FireAt: at})
	}
	return triggers
}

// Replace atomically swaps the trigger set of an event. A version lower than
// the installed one, or any version for a tombstoned event, is ignored.
// Re-applying the installed version keeps
// purposes that already fired for it out of the table. Reports whether the
// set was applied.
func (s *Scheduler) Replace(eventID uuid.UUID, version int64, triggers []domain.Trigger) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.entries[eventID]
	if cur != nil && cur.terminal {
		s.logger.Debug().
			Str("event_id", eventID.String()).
			Int64("version", version).
			Msg("replacement for finished event ignored")
		return false
	}
	if cur != nil && version < cur.version {
		s.logger.Debug().
			Str("event_id", eventID.String()).
			Int64("version", version).
			Int64("installed", cur.version).
			Msg("stale replacement ignored")
		return false
	}

	fired := make(map[domain.TriggerPurpose]bool)
	if cur != nil && version == cur.version {
		fired = cur.fired
	}

	next := &entry{
		version:  version,
		triggers: make(map[domain.TriggerPurpose]time.Time, len(triggers)),
		fired:    fired,
	}
	for _, t := range triggers {
		if t.EventID != eventID || fired[t.Purpose] {
			continue
		}
		next.triggers[t.Purpose] = t.FireAt.UTC()
	}
	if cur != nil && version == cur.version && len(next.triggers) == 0 {
		next.expires = cur.expires
	}
	s.entries[eventID] = next
	s.reportActive()
	return true
}

// Unregister removes the given purposes of an event.
func (s *Scheduler) Unregister(eventID uuid.UUID, purposes ...domain.TriggerPurpose) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.entries[eventID]
	if cur == nil {
		return
	}
	for _, p := range purposes {
		delete(cur.triggers, p)
	}
	s.reportActive()
}

// UnregisterAll drops every trigger of an event that is over for good and
// leaves a tombstone behind.
func (s *Scheduler) UnregisterAll(eventID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version int64
	if cur := s.entries[eventID]; cur != nil {
		version = cur.version
	}
	s.entries[eventID] = &entry{
		version:  version,
		triggers: make(map[domain.TriggerPurpose]time.Time),
		fired:    make(map[domain.TriggerPurpose]bool),
		terminal: true,
		expires:  s.clock().UTC().Add(s.config.Retention),
	}
	s.reportActive()
}

// forget removes the entry of an event that is not schedulable right now,
// unless a newer schedule is already installed.
func (s *Scheduler) forget(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.entries[e.ID]
	if cur == nil || cur.terminal || e.ScheduleVersion < cur.version {
		return
	}
	delete(s.entries, e.ID)
	s.reportActive()
}

// Sync applies the trigger policy for the observed state of an event.
func (s *Scheduler) Sync(e domain.Event) {
	switch {
	case e.Status.Schedulable() && e.HasSchedule():
		s.Replace(e.ID, e.ScheduleVersion, Compute(e, s.clock().UTC()))
	case e.Status == domain.EventStatusStarted && e.EndTime != nil:
		s.keepEndOnly(e)
	case e.Status.Terminal():
		s.UnregisterAll(e.ID)
	default:
		s.forget(e)
	}
}

// keepEndOnly drops start and reminders of a started event and makes sure
// its end trigger exists unless it already fired.
func (s *Scheduler) keepEndOnly(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.entries[e.ID]
	if cur != nil && (cur.terminal || e.ScheduleVersion < cur.version) {
		return
	}
	if cur == nil || e.ScheduleVersion > cur.version {
		cur = &entry{
			version:  e.ScheduleVersion,
			triggers: make(map[domain.TriggerPurpose]time.Time),
			fired:    make(map[domain.TriggerPurpose]bool),
		}
		s.entries[e.ID] = cur
	}

	for p := range cur.triggers {
		if p != domain.TriggerEnd {
			delete(cur.triggers, p)
		}
	}
	if !cur.fired[domain.TriggerEnd] {
		cur.triggers[domain.TriggerEnd] = e.EndTime.UTC()
	}
	s.reportActive()
}

// Snapshot returns the active triggers of an event ordered by fire time.
func (s *Scheduler) Snapshot(eventID uuid.UUID) []domain.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.entries[eventID]
	if cur == nil {
		return nil
	}
	out := make([]domain.Trigger, 0, len(cur.triggers))
	for p, at := range cur.triggers {
		out = append(out, domain.Trigger{EventID: eventID, Purpose: p, FireAt: at})
	}
	sortTriggers(out)
	return out
}

// Len returns the number of active triggers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked()
}

func (s *Scheduler) countLocked() int {
	n := 0
	for _, e := range s.entries {
		n += len(e.triggers)
	}
	return n
}

func (s *Scheduler) reportActive() {
	if s.metrics != nil {
		s.metrics.TriggersActive(s.countLocked())
	}
}

func sortTriggers(ts []domain.Trigger) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].FireAt.Equal(ts[j].FireAt) {
			return ts[i].FireAt.Before(ts[j].FireAt)
		}
		return ts[i].Purpose < ts[j].Purpose
	})
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.pub == nil {
		return ErrNoPublisher
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("tick", s.config.TickInterval).Msg("started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.processTick(ctx)
		}
	}
}

// processTick removes every due trigger from the table before running its
// job, so a trigger fires at most once.
func (s *Scheduler) processTick(ctx context.Context) {
	start := time.Now()
	now := s.clock().UTC()

	due := s.takeDue(now)
	for _, t := range due {
		s.fire(ctx, t)
	}

	if s.metrics != nil {
		s.metrics.TickCompleted(time.Since(start), len(due))
	}
}

func (s *Scheduler) takeDue(now time.Time) []domain.Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Trigger
	for id, e := range s.entries {
		for p, at := range e.triggers {
			if at.After(now) {
				continue
			}
			due = append(due, domain.Trigger{EventID: id, Purpose: p, FireAt: at})
			delete(e.triggers, p)
			e.fired[p] = true
		}

		if !e.finished() {
			continue
		}
		switch {
		case e.expires.IsZero():
			e.expires = now.Add(s.config.Retention)
		case now.After(e.expires):
			delete(s.entries, id)
		}
	}
	if len(due) > 0 {
		s.reportActive()
	}
	sortTriggers(due)
	return due
}

func (s *Scheduler) fire(ctx context.Context, t domain.Trigger) {
	start := time.Now()
	log := s.logger.With().
		Str("event_id", t.EventID.String()).
		Str("purpose", string(t.Purpose)).
		Logger()

	err := s.runJob(ctx, log, t)
	outcome := "success"
	if err != nil {
		outcome = "error"
		logger.Critical(&log).Err(err).Msg("job failed")
	} else {
		log.Debug().Msg("job completed")
	}

	if s.metrics != nil {
		s.metrics.TriggerFired(string(t.Purpose), outcome, time.Since(start))
	}
}

func (s *Scheduler) runJob(ctx context.Context, log zerolog.Logger, t domain.Trigger) error {
	uow, err := eventbus.OpenUnitOfWork(ctx, s.opener, log, s.pub)
	if err != nil {
		return err
	}
	defer func() {
		if err := uow.Close(); err != nil {
			uow.Logger.Warn().Err(err).Msg("close session")
		}
	}()

	job := s.jobs[t.Purpose]
	return eventbus.Recover(func() error {
		return job.Run(ctx, uow, t)
	})
}
