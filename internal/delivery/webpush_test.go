package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Auros/VRAtlas.API-sub000/internal/circuitbreaker"
	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/testutil"
)

func testNotification() domain.Notification {
	return domain.Notification{
		ID:          uuid.New(),
		RecipientID: uuid.New(),
		SubjectID:   uuid.New(),
		SubjectType: domain.SubjectEvent,
		Kind:        domain.KindEventStarted,
		Title:       "Midnight Club has started",
		Description: "Midnight Club by Night Owls is live now.",
		CreatedAt:   time.Date(2024, 6, 1, 20, 30, 0, 0, time.UTC),
	}
}

var noBackoff = []time.Duration{0, 0, 0}

type mockAttemptMetrics struct {
	mu      sync.Mutex
	classes []string
}

func (m *mockAttemptMetrics) WebPushAttempt(statusClass string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = append(m.classes, statusClass)
}

func TestWebPush_SignedRequest(t *testing.T) {
	var (
		gotHeaders http.Header
		gotBody    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := testNotification()
	u := domain.User{ID: n.RecipientID, PushEndpoint: server.URL, PushSecret: "s3cret"}

	err := NewWebPush(server.Client()).Deliver(context.Background(), n, u)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, n.ID.String(), gotHeaders.Get(HeaderNotificationID))
	assert.NotEmpty(t, gotHeaders.Get(HeaderDeliveryID))
	assert.True(t, VerifySignature("s3cret", gotBody, gotHeaders.Get(HeaderSignature)))

	var p Payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, n.ID.String(), p.NotificationID)
	assert.Equal(t, "event_started", p.Kind)
	assert.Equal(t, "2024-06-01T20:30:00Z", p.CreatedAt)
}

func TestWebPush_SkipsUserWithoutEndpoint(t *testing.T) {
	err := NewWebPush(nil).Deliver(context.Background(), testNotification(), domain.User{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrSkipped)
}

func TestWebPush_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	metrics := &mockAttemptMetrics{}
	wp := NewWebPush(server.Client()).WithBackoff(noBackoff).WithMetrics(metrics)

	err := wp.Deliver(context.Background(), testNotification(), domain.User{PushEndpoint: server.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"5xx", "5xx", "2xx"}, metrics.classes)
}

func TestWebPush_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	err := NewWebPush(server.Client()).WithBackoff(noBackoff).
		Deliver(context.Background(), testNotification(), domain.User{PushEndpoint: server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebPush_RetriesTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewWebPush(server.Client()).WithBackoff(noBackoff).
		Deliver(context.Background(), testNotification(), domain.User{PushEndpoint: server.URL})
	require.Error(t, err)
	assert.Equal(t, int32(len(noBackoff)), calls.Load())
}

func TestWebPush_BreakerOpensPerEndpoint(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cb := circuitbreaker.New(2, time.Hour)
	wp := NewWebPush(server.Client()).WithBackoff([]time.Duration{0}).WithCircuitBreaker(cb)
	u := domain.User{PushEndpoint: server.URL}

	require.Error(t, wp.Deliver(context.Background(), testNotification(), u))
	require.Error(t, wp.Deliver(context.Background(), testNotification(), u))
	assert.Equal(t, circuitbreaker.StateOpen, cb.State(server.URL))

	err := wp.Deliver(context.Background(), testNotification(), u)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the endpoint")

	assert.Equal(t, circuitbreaker.StateClosed, cb.State("http://other.invalid"))
}

func TestWebPush_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	wp := NewWebPush(server.Client()).WithBackoff([]time.Duration{0, time.Hour})

	done := make(chan error, 1)
	go func() {
		done <- wp.Deliver(ctx, testNotification(), domain.User{PushEndpoint: server.URL})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not return after cancel")
	}
}

func TestSignature_RoundTrip(t *testing.T) {
	body := []byte(`{"kind":"star_invited"}`)
	sig := ComputeSignature("secret", body)

	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", []byte(`{}`), sig))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   string
	}{
		{"ok", 200, nil, "2xx"},
		{"gone", 410, nil, "4xx"},
		{"unavailable", 503, nil, "5xx"},
		{"redirect", 302, nil, "other_error"},
		{"timeout", 0, errors.New("context deadline exceeded"), "timeout"},
		{"refused", 0, errors.New("dial tcp: connection refused"), "connection_error"},
		{"other", 0, errors.New("tls: bad certificate"), "other_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStatus(tt.status, tt.err))
		})
	}
}

func TestWebPush_CancelledHalfOpenAttemptReleasesEndpoint(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	clock := testutil.NewFakeClock(time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC))
	cb := circuitbreaker.New(1, time.Minute).WithClock(clock.Now)
	u := domain.User{PushEndpoint: server.URL}

	wp := NewWebPush(server.Client()).WithBackoff([]time.Duration{0}).WithCircuitBreaker(cb)
	require.Error(t, wp.Deliver(context.Background(), testNotification(), u))
	require.Equal(t, circuitbreaker.StateOpen, cb.State(server.URL))

	// The half-open attempt fails once and is cancelled while backing off.
	clock.Advance(2 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	slow := NewWebPush(server.Client()).WithBackoff([]time.Duration{0, time.Hour}).WithCircuitBreaker(cb)
	done := make(chan error, 1)
	go func() { done <- slow.Deliver(ctx, testNotification(), u) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not return after cancel")
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.State(server.URL))

	// After the next cooldown the endpoint gets another trial request.
	healthy.Store(true)
	clock.Advance(2 * time.Minute)
	require.NoError(t, wp.Deliver(context.Background(), testNotification(), u))
	assert.Equal(t, circuitbreaker.StateClosed, cb.State(server.URL))
}
