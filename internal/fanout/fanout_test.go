package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
	"github.com/Auros/VRAtlas.API-sub000/internal/store/memory"
	"github.com/Auros/VRAtlas.API-sub000/internal/testutil"
)

var now = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

// flakyStore fails the first n transactions.
type flakyStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("deadlock detected")
	}
	return f.Store.InTx(ctx, fn)
}

// visibilityPublisher asserts every announced notification is already stored.
type visibilityPublisher struct {
	t     *testing.T
	store *memory.Store
	mu    sync.Mutex
	seen  int
}

func (p *visibilityPublisher) Publish(ctx context.Context, msg domain.Message) error {
	nc, ok := msg.(domain.NotificationCreated)
	if !ok {
		return nil
	}
	n, err := p.store.GetNotification(ctx, nc.NotificationID)
	assert.NoError(p.t, err, "notification published before commit")
	assert.Equal(p.t, nc.RecipientID, n.RecipientID)

	p.mu.Lock()
	p.seen++
	p.mu.Unlock()
	return nil
}

type mockFanoutMetrics struct {
	created map[string]int
	retries int
}

func (m *mockFanoutMetrics) NotificationsCreated(kind string, count int) {
	if m.created == nil {
		m.created = make(map[string]int)
	}
	m.created[kind] += count
}

func (m *mockFanoutMetrics) FanoutRetry() { m.retries++ }

type fixture struct {
	store *memory.Store
	pub   *testutil.Publisher
	svc   *Service
	event domain.Event
	group domain.Group
}

func newFixture() *fixture {
	st := memory.New()
	group := domain.Group{ID: uuid.New(), Name: "Neon Collective"}
	e := testutil.ScheduledEvent(domain.EventStatusAnnounced, now.Add(time.Hour))
	e.GroupID = group.ID
	st.PutGroup(group)
	st.PutEvent(e)

	return &fixture{
		store: st,
		pub:   &testutil.Publisher{},
		svc:   New(Config{MaxAttempts: 3}).WithClock(func() time.Time { return now }),
		event: e,
		group: group,
	}
}

func (f *fixture) uow(st store.Store) *eventbus.UnitOfWork {
	if st == nil {
		st = f.store
	}
	return &eventbus.UnitOfWork{ID: uuid.New(), Store: st, Logger: zerolog.Nop(), Publisher: f.pub}
}

// follower creates a user following subject with the given preferences.
func (f *fixture) follower(subjectID uuid.UUID, subjectType domain.SubjectType, prefs domain.FollowPreferences) uuid.UUID {
	u := domain.User{ID: uuid.New(), Username: "user-" + uuid.NewString()[:8]}
	f.store.PutUser(u)
	f.follow(u.ID, subjectID, subjectType, prefs)
	return u.ID
}

func (f *fixture) follow(userID, subjectID uuid.UUID, subjectType domain.SubjectType, prefs domain.FollowPreferences) {
	f.store.AddFollow(domain.Follow{UserID: userID, SubjectID: subjectID, SubjectType: subjectType, Preferences: prefs})
}

func recipients(ns []domain.Notification) []uuid.UUID {
	out := make([]uuid.UUID, len(ns))
	for i, n := range ns {
		out[i] = n.RecipientID
	}
	return out
}

func created(msgs []domain.Message) []uuid.UUID {
	var out []uuid.UUID
	for _, m := range msgs {
		if nc, ok := m.(domain.NotificationCreated); ok {
			out = append(out, nc.RecipientID)
		}
	}
	return out
}

func statusUpdate(id uuid.UUID, to domain.EventStatus) domain.EventStatusUpdated {
	return domain.EventStatusUpdated{EventID: id, From: domain.EventStatusAnnounced, To: to}
}

func TestCancel_NotifiesAllEventFollowersRegardlessOfPreferences(t *testing.T) {
	f := newFixture()
	atStart := domain.FollowPreferences{AtStart: true}
	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		want = append(want, f.follower(f.event.ID, domain.SubjectEvent, atStart))
	}
	want = append(want, f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{}))
	// Group followers are not told about cancellations.
	f.follower(f.group.ID, domain.SubjectGroup, atStart)

	require.NoError(t, f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, domain.EventStatusCanceled)))

	ns := f.store.Notifications()
	assert.ElementsMatch(t, want, recipients(ns))
	assert.ElementsMatch(t, want, created(f.pub.Messages()))
	for _, n := range ns {
		assert.Equal(t, domain.KindEventCancelled, n.Kind)
		assert.Equal(t, f.event.ID, n.SubjectID)
		assert.Equal(t, domain.SubjectEvent, n.SubjectType)
		assert.False(t, n.Read)
	}
}

func TestStart_NotifiesAtStartFollowersOfEventAndGroup(t *testing.T) {
	f := newFixture()
	atStart := domain.FollowPreferences{AtStart: true}

	eventFan := f.follower(f.event.ID, domain.SubjectEvent, atStart)
	groupFan := f.follower(f.group.ID, domain.SubjectGroup, atStart)
	f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{AtOneDay: true})

	// Following both still yields one notification.
	both := f.follower(f.event.ID, domain.SubjectEvent, atStart)
	f.follow(both, f.group.ID, domain.SubjectGroup, atStart)

	require.NoError(t, f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, domain.EventStatusStarted)))

	assert.ElementsMatch(t, []uuid.UUID{eventFan, groupFan, both}, recipients(f.store.Notifications()))
	assert.Len(t, created(f.pub.Messages()), 3)
	assert.Equal(t, 1, f.store.Writes())
}

func TestFanout_EmptyAudienceWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		run  func(f *fixture) error
	}{
		{"started", func(f *fixture) error {
			return f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, domain.EventStatusStarted))
		}},
		{"canceled", func(f *fixture) error {
			return f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, domain.EventStatusCanceled))
		}},
		{"reminder", func(f *fixture) error {
			return f.svc.OnReminderDue(context.Background(), f.uow(nil), domain.EventReminderDue{EventID: f.event.ID, Window: domain.ReminderOneHour})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			require.NoError(t, tt.run(f))
			assert.Zero(t, f.store.Writes())
			assert.Empty(t, f.pub.Messages())
		})
	}
}

func TestFanout_OtherStatusesIgnored(t *testing.T) {
	f := newFixture()
	f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{AtStart: true})

	for _, to := range []domain.EventStatus{domain.EventStatusAnnounced, domain.EventStatusPreliminary, domain.EventStatusConcluded} {
		require.NoError(t, f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, to)))
	}
	assert.Zero(t, f.store.Writes())
}

func TestFanout_MissingEventIsInconsistent(t *testing.T) {
	f := newFixture()
	f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{AtStart: true})
	f.store.DeleteEvent(f.event.ID)

	err := f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, domain.EventStatusCanceled))
	assert.ErrorIs(t, err, ErrInconsistent)

	err = f.svc.OnReminderDue(context.Background(), f.uow(nil), domain.EventReminderDue{EventID: f.event.ID, Window: domain.ReminderOneDay})
	assert.ErrorIs(t, err, ErrInconsistent)

	assert.Zero(t, f.store.Writes())
	assert.Empty(t, f.pub.Messages())
}

func TestFanout_UnresolvableRecipientsSkipped(t *testing.T) {
	f := newFixture()
	resolvable := f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})
	f.follow(uuid.New(), f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})

	require.NoError(t, f.svc.OnStatusUpdated(context.Background(), f.uow(nil), statusUpdate(f.event.ID, domain.EventStatusCanceled)))

	assert.Equal(t, []uuid.UUID{resolvable}, recipients(f.store.Notifications()))
	assert.Equal(t, []uuid.UUID{resolvable}, created(f.pub.Messages()))
}

func TestReminder_FilterMatchesWindow(t *testing.T) {
	tests := []struct {
		window domain.ReminderWindow
		prefs  domain.FollowPreferences
		kind   domain.NotificationKind
	}{
		{domain.ReminderOneDay, domain.FollowPreferences{AtOneDay: true}, domain.KindEventReminderOneDay},
		{domain.ReminderOneHour, domain.FollowPreferences{AtOneHour: true}, domain.KindEventReminderOneHour},
		{domain.ReminderThirtyMinutes, domain.FollowPreferences{AtThirtyMinutes: true}, domain.KindEventReminderThirtyMinutes},
	}

	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			f := newFixture()
			want := f.follower(f.event.ID, domain.SubjectEvent, tt.prefs)
			f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{AtStart: true})
			f.follower(f.group.ID, domain.SubjectGroup, tt.prefs)

			require.NoError(t, f.svc.OnReminderDue(context.Background(), f.uow(nil), domain.EventReminderDue{EventID: f.event.ID, Window: tt.window}))

			ns := f.store.Notifications()
			require.Len(t, ns, 1)
			assert.Equal(t, want, ns[0].RecipientID)
			assert.Equal(t, tt.kind, ns[0].Kind)
		})
	}
}

func TestReminder_UnknownWindow(t *testing.T) {
	f := newFixture()
	assert.Error(t, f.svc.OnReminderDue(context.Background(), f.uow(nil), domain.EventReminderDue{EventID: f.event.ID, Window: "fortnight"}))
}

func TestStarInvited_NotifiesInvitee(t *testing.T) {
	f := newFixture()
	star := domain.User{ID: uuid.New(), Username: "dj-nova"}
	f.store.PutUser(star)
	f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{AtStart: true})

	require.NoError(t, f.svc.OnStarInvited(context.Background(), f.uow(nil), domain.StarInvited{EventID: f.event.ID, UserID: star.ID}))

	ns := f.store.Notifications()
	require.Len(t, ns, 1)
	assert.Equal(t, star.ID, ns[0].RecipientID)
	assert.Equal(t, domain.KindStarInvited, ns[0].Kind)
	assert.Equal(t, "You're invited to Midnight Club", ns[0].Title)
	assert.Equal(t, "Neon Collective invited you to perform at Midnight Club.", ns[0].Description)
}

func TestStarConfirmed_NotifiesFollowersOfStarAndEvent(t *testing.T) {
	f := newFixture()
	star := domain.User{ID: uuid.New(), Username: "dj-nova"}
	f.store.PutUser(star)

	starFan := f.follower(star.ID, domain.SubjectUser, domain.FollowPreferences{})
	eventFan := f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})
	f.follow(star.ID, f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})

	require.NoError(t, f.svc.OnStarConfirmed(context.Background(), f.uow(nil), domain.StarConfirmed{EventID: f.event.ID, UserID: star.ID}))

	ns := f.store.Notifications()
	assert.ElementsMatch(t, []uuid.UUID{starFan, eventFan}, recipients(ns))
	require.NotEmpty(t, ns)
	assert.Equal(t, "dj-nova is performing at Midnight Club", ns[0].Title)
}

func TestStarConfirmed_UnknownStarIsInconsistent(t *testing.T) {
	f := newFixture()
	err := f.svc.OnStarConfirmed(context.Background(), f.uow(nil), domain.StarConfirmed{EventID: f.event.ID, UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestFanout_CommitBeforePublish(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})
	}

	pub := &visibilityPublisher{t: t, store: f.store}
	uow := f.uow(nil)
	uow.Publisher = pub

	require.NoError(t, f.svc.OnStatusUpdated(context.Background(), uow, statusUpdate(f.event.ID, domain.EventStatusCanceled)))
	assert.Equal(t, 5, pub.seen)
}

func TestFanout_RetriesWholeBatch(t *testing.T) {
	f := newFixture()
	metrics := &mockFanoutMetrics{}
	f.svc.WithMetrics(metrics)
	for i := 0; i < 3; i++ {
		f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})
	}

	flaky := &flakyStore{Store: f.store, failures: 2}
	require.NoError(t, f.svc.OnStatusUpdated(context.Background(), f.uow(flaky), statusUpdate(f.event.ID, domain.EventStatusCanceled)))

	assert.Equal(t, 3, flaky.calls)
	assert.Len(t, f.store.Notifications(), 3)
	assert.Equal(t, 1, f.store.Writes())
	assert.Equal(t, 2, metrics.retries)
	assert.Equal(t, 3, metrics.created[string(domain.KindEventCancelled)])
}

func TestFanout_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture()
	f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})

	flaky := &flakyStore{Store: f.store, failures: 10}
	err := f.svc.OnStatusUpdated(context.Background(), f.uow(flaky), statusUpdate(f.event.ID, domain.EventStatusCanceled))

	assert.Error(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Empty(t, f.store.Notifications())
	assert.Empty(t, f.pub.Messages())
}

func TestRegister_DispatchThroughBus(t *testing.T) {
	f := newFixture()
	fan := f.follower(f.event.ID, domain.SubjectEvent, domain.FollowPreferences{})

	b := eventbus.NewBuilder()
	f.svc.Register(b)
	bus := eventbus.New(b.Build(), f.store)

	require.NoError(t, bus.Dispatch(context.Background(), statusUpdate(f.event.ID, domain.EventStatusCanceled)))
	assert.Equal(t, []uuid.UUID{fan}, recipients(f.store.Notifications()))

	err := bus.Dispatch(context.Background(), domain.EventReminderDue{EventID: uuid.New(), Window: domain.ReminderOneDay})
	assert.ErrorIs(t, err, ErrInconsistent)
}

func TestTemplates_Render(t *testing.T) {
	start := time.Date(2024, 6, 1, 20, 30, 0, 0, time.UTC)
	title, desc := DefaultTemplates().render(domain.KindEventReminderOneHour, tokens{
		event: "Midnight Club",
		group: "Neon Collective",
		start: &start,
	})

	assert.Equal(t, "Midnight Club starts in an hour", title)
	assert.Equal(t, "Midnight Club by Neon Collective starts at Sat Jun 1 20:30 UTC.", desc)

	title, desc = Templates{}.render(domain.KindEventStarted, tokens{})
	assert.Equal(t, "event_started", title)
	assert.Empty(t, desc)
}
