// Package memory is an in-process implementation of store.Store.
//
// Transactions run against a private copy of the data under the write lock
// and are swapped in on success, so a failed fn leaves no trace. It backs
// the memory store driver and the tests of every core package.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

type participantKey struct {
	eventID uuid.UUID
	userID  uuid.UUID
}

type data struct {
	events        map[uuid.UUID]domain.Event
	groups        map[uuid.UUID]domain.Group
	users         map[uuid.UUID]domain.User
	follows       []domain.Follow
	notifications map[uuid.UUID]domain.Notification
	participants  map[participantKey]domain.Participant
}

func newData() *data {
	return &data{
		events:        make(map[uuid.UUID]domain.Event),
		groups:        make(map[uuid.UUID]domain.Group),
		users:         make(map[uuid.UUID]domain.User),
		notifications: make(map[uuid.UUID]domain.Notification),
		participants:  make(map[participantKey]domain.Participant),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.groups {
		c.groups[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	c.follows = append(c.follows, d.follows...)
	for k, v := range d.notifications {
		c.notifications[k] = v
	}
	for k, v := range d.participants {
		c.participants[k] = v
	}
	return c
}

// Store holds all rows in memory. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	data   *data
	writes int
}

func New() *Store {
	return &Store{data: newData()}
}

// Open returns a session over the shared data; Close is a no-op.
func (s *Store) Open(ctx context.Context) (store.Session, error) {
	return session{s}, nil
}

type session struct {
	*Store
}

func (session) Close() error { return nil }

// InTx runs fn against a copy of the data and commits it if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{reader: reader{d: s.data.clone()}}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = t.d
	s.writes += t.writes
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.GetEvent(ctx, id)
}

func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.GetGroup(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.GetUser(ctx, id)
}

func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.GetNotification(ctx, id)
}

func (s *Store) GetParticipant(ctx context.Context, eventID, userID uuid.UUID) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.GetParticipant(ctx, eventID, userID)
}

func (s *Store) ListFollowers(ctx context.Context, subjectID uuid.UUID, subjectType domain.SubjectType, filter domain.FollowFilter) ([]domain.Follow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.ListFollowers(ctx, subjectID, subjectType, filter)
}

func (s *Store) ListSchedulableEvents(ctx context.Context, endsAfter time.Time, limit, offset int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.ListSchedulableEvents(ctx, endsAfter, limit, offset)
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reader{d: s.data}.ListNotifications(ctx, userID, limit, offset)
}

// Seeding helpers. The core never writes these entities itself.

func (s *Store) PutEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.events[e.ID] = e
}

func (s *Store) PutGroup(g domain.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.groups[g.ID] = g
}

func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

func (s *Store) DeleteEvent(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.events, id)
}

func (s *Store) AddFollow(f domain.Follow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.follows = append(s.data.follows, f)
}

// Writes returns the number of committed write operations.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Notifications returns every stored notification ordered by creation time.
func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Notification, 0, len(s.data.notifications))
	for _, n := range s.data.notifications {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type reader struct {
	d *data
}

func (r reader) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	e, ok := r.d.events[id]
	if !ok {
		return domain.Event{}, store.ErrNotFound
	}
	return e, nil
}

func (r reader) GetGroup(ctx context.Context, id uuid.UUID) (domain.Group, error) {
	g, ok := r.d.groups[id]
	if !ok {
		return domain.Group{}, store.ErrNotFound
	}
	return g, nil
}

func (r reader) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	u, ok := r.d.users[id]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r reader) GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error) {
	n, ok := r.d.notifications[id]
	if !ok {
		return domain.Notification{}, store.ErrNotFound
	}
	return n, nil
}

func (r reader) GetParticipant(ctx context.Context, eventID, userID uuid.UUID) (domain.Participant, error) {
	p, ok := r.d.participants[participantKey{eventID, userID}]
	if !ok {
		return domain.Participant{}, store.ErrNotFound
	}
	return p, nil
}

func (r reader) ListFollowers(ctx context.Context, subjectID uuid.UUID, subjectType domain.SubjectType, filter domain.FollowFilter) ([]domain.Follow, error) {
	var out []domain.Follow
	for _, f := range r.d.follows {
		if f.SubjectID == subjectID && f.SubjectType == subjectType && filter.Matches(f.Preferences) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r reader) ListSchedulableEvents(ctx context.Context, endsAfter time.Time, limit, offset int) ([]domain.Event, error) {
	var all []domain.Event
	for _, e := range r.d.events {
		if !e.Status.Schedulable() && e.Status != domain.EventStatusStarted {
			continue
		}
		if e.EndTime == nil || !e.EndTime.After(endsAfter) {
			continue
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	return page(all, limit, offset), nil
}

func (r reader) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	var all []domain.Notification
	for _, n := range r.d.notifications {
		if n.RecipientID == userID {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

type tx struct {
	reader
	writes int
}

func (t *tx) GetEventForUpdate(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	return t.GetEvent(ctx, id)
}

func (t *tx) UpdateEventSchedule(ctx context.Context, id uuid.UUID, start, end time.Time, version int64, updatedAt time.Time) error {
	e, ok := t.d.events[id]
	if !ok {
		return store.ErrNotFound
	}
	start, end = start.UTC(), end.UTC()
	e.StartTime = &start
	e.EndTime = &end
	e.ScheduleVersion = version
	e.UpdatedAt = updatedAt
	t.d.events[id] = e
	t.writes++
	return nil
}

func (t *tx) UpdateEventStatus(ctx context.Context, id uuid.UUID, status domain.EventStatus, updatedAt time.Time) error {
	e, ok := t.d.events[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Status = status
	e.UpdatedAt = updatedAt
	t.d.events[id] = e
	t.writes++
	return nil
}

func (t *tx) InsertNotifications(ctx context.Context, notifications []domain.Notification) error {
	for _, n := range notifications {
		t.d.notifications[n.ID] = n
	}
	t.writes++
	return nil
}

func (t *tx) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	n, ok := t.d.notifications[id]
	if !ok || n.RecipientID != userID {
		return store.ErrNotFound
	}
	n.Read = true
	t.d.notifications[id] = n
	t.writes++
	return nil
}

func (t *tx) UpsertParticipant(ctx context.Context, p domain.Participant) error {
	t.d.participants[participantKey{p.EventID, p.UserID}] = p
	t.writes++
	return nil
}

var (
	_ store.Opener = (*Store)(nil)
	_ store.Store  = (*Store)(nil)
	_ store.Tx     = (*tx)(nil)
)
