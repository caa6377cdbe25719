package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/eventbus"
	"github.com/Auros/VRAtlas.API-sub000/internal/lifecycle"
	"github.com/Auros/VRAtlas.API-sub000/internal/store/memory"
	"github.com/Auros/VRAtlas.API-sub000/internal/testutil"
)

type listenerFixture struct {
	store *memory.Store
	pub   *testutil.Publisher
	clock *testutil.FakeClock
	sched *Scheduler
	bus   *eventbus.Bus
	m     *lifecycle.Machine
}

func newListenerFixture(t *testing.T) *listenerFixture {
	t.Helper()
	st := memory.New()
	clock := testutil.NewFakeClock(now)
	pub := &testutil.Publisher{}

	sched, err := New(Config{}, st, allJobs((&jobRecorder{}).job(nil)))
	require.NoError(t, err)
	sched.WithClock(clock.Now)

	b := eventbus.NewBuilder()
	sched.Register(b)
	bus := eventbus.New(b.Build(), st)
	sched.WithPublisher(bus)

	return &listenerFixture{
		store: st,
		pub:   pub,
		clock: clock,
		sched: sched,
		bus:   bus,
		m:     lifecycle.New(st, pub).WithClock(clock.Now),
	}
}

// deliver dispatches everything the machine published, then forgets it.
func (f *listenerFixture) deliver(t *testing.T) {
	t.Helper()
	for _, msg := range f.pub.Messages() {
		require.NoError(t, f.bus.Dispatch(context.Background(), msg))
	}
	f.pub.Reset()
}

func TestListener_ScheduleTwoHoursAhead(t *testing.T) {
	f := newListenerFixture(t)
	e := domain.Event{ID: testutil.MustParseUUID("6f1c2a34-3c1b-4a55-9c1e-0f3f8b7a9d10"), Status: domain.EventStatusUnlisted, AutoStart: true}
	f.store.PutEvent(e)

	require.NoError(t, f.m.Announce(context.Background(), e.ID))
	require.NoError(t, f.m.Schedule(context.Background(), e.ID, now.Add(2*time.Hour), now.Add(3*time.Hour)))
	f.deliver(t)

	assert.ElementsMatch(t, []domain.TriggerPurpose{
		domain.TriggerStart,
		domain.TriggerEnd,
		domain.TriggerRemindOneHour,
		domain.TriggerRemindThirtyMinutes,
	}, purposes(f.sched.Snapshot(e.ID)))
}

func TestListener_CancelUnregistersEverything(t *testing.T) {
	f := newListenerFixture(t)
	e := testutil.ScheduledEvent(domain.EventStatusAnnounced, now.Add(48*time.Hour))
	f.store.PutEvent(e)
	f.sched.Sync(e)
	require.Len(t, f.sched.Snapshot(e.ID), 5)

	require.NoError(t, f.m.Cancel(context.Background(), e.ID))
	f.deliver(t)

	assert.Empty(t, f.sched.Snapshot(e.ID))
}

func TestListener_MissingEventUnregisters(t *testing.T) {
	f := newListenerFixture(t)
	e := testutil.ScheduledEvent(domain.EventStatusAnnounced, now.Add(48*time.Hour))
	f.sched.Sync(e)

	require.NoError(t, f.bus.Dispatch(context.Background(), domain.EventStatusUpdated{
		EventID: e.ID,
		From:    domain.EventStatusAnnounced,
		To:      domain.EventStatusCanceled,
	}))
	assert.Empty(t, f.sched.Snapshot(e.ID))
}

func TestListener_ConcurrentSchedulesConvergeOnLastCommit(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newListenerFixture(t)
		e := testutil.ScheduledEvent(domain.EventStatusAnnounced, now.Add(48*time.Hour))
		f.store.PutEvent(e)

		var wg sync.WaitGroup
		for _, start := range []time.Time{now.Add(5 * time.Hour), now.Add(30 * time.Hour)} {
			wg.Add(1)
			go func(start time.Time) {
				defer wg.Done()
				assert.NoError(t, f.m.Schedule(context.Background(), e.ID, start, start.Add(time.Hour)))
			}(start)
		}
		wg.Wait()

		msgs := f.pub.Messages()
		require.Len(t, msgs, 2)

		// Deliver in reverse publish order to model reordered dispatch.
		for j := len(msgs) - 1; j >= 0; j-- {
			require.NoError(t, f.bus.Dispatch(context.Background(), msgs[j]))
		}

		stored, err := f.store.GetEvent(context.Background(), e.ID)
		require.NoError(t, err)

		want := Compute(stored, now)
		sortTriggers(want)
		assert.Equal(t, want, f.sched.Snapshot(e.ID))
	}
}

func TestListener_StaleMessageAfterRescheduleIsHarmless(t *testing.T) {
	f := newListenerFixture(t)
	e := testutil.ScheduledEvent(domain.EventStatusAnnounced, now.Add(48*time.Hour))
	f.store.PutEvent(e)

	require.NoError(t, f.m.Schedule(context.Background(), e.ID, now.Add(5*time.Hour), now.Add(6*time.Hour)))
	first := f.pub.Messages()[0]
	f.pub.Reset()
	require.NoError(t, f.m.Schedule(context.Background(), e.ID, now.Add(10*time.Hour), now.Add(11*time.Hour)))
	f.deliver(t)

	// The old message re-reads current state and lands on the same set.
	require.NoError(t, f.bus.Dispatch(context.Background(), first))

	snap := f.sched.Snapshot(e.ID)
	require.Len(t, snap, 4)
	assert.Equal(t, now.Add(10*time.Hour), snap[2].FireAt)
}
