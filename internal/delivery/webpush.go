package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Auros/VRAtlas.API-sub000/internal/circuitbreaker"
	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

const (
	HeaderNotificationID = "X-VRAtlas-Notification-ID"
	HeaderDeliveryID     = "X-VRAtlas-Delivery-ID"
	HeaderSignature      = "X-VRAtlas-Signature"

	DefaultWebPushTimeout = 10 * time.Second
)

var defaultWebPushBackoff = []time.Duration{
	0,
	500 * time.Millisecond,
	2 * time.Second,
}

// AttemptMetricsSink records individual web push attempts.
type AttemptMetricsSink interface {
	WebPushAttempt(statusClass string, duration time.Duration)
}

// SendResult is the outcome of one HTTP attempt.
type SendResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r SendResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r SendResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return r.StatusCode >= 500
}

// WebPush posts the notification to the user's push gateway, signed with
// the user's push secret.
type WebPush struct {
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
	timeout time.Duration
	backoff []time.Duration
	metrics AttemptMetricsSink // optional, nil = disabled
}

func NewWebPush(client *http.Client) *WebPush {
	if client == nil {
		client = &http.Client{}
	}
	return &WebPush{
		client:  client,
		timeout: DefaultWebPushTimeout,
		backoff: defaultWebPushBackoff,
	}
}

func (w *WebPush) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *WebPush {
	w.breaker = cb
	return w
}

func (w *WebPush) WithTimeout(d time.Duration) *WebPush {
	if d > 0 {
		w.timeout = d
	}
	return w
}

// WithBackoff sets the wait before each attempt; its length is the attempt count.
func (w *WebPush) WithBackoff(backoff []time.Duration) *WebPush {
	if len(backoff) > 0 {
		w.backoff = backoff
	}
	return w
}

func (w *WebPush) WithMetrics(sink AttemptMetricsSink) *WebPush {
	w.metrics = sink
	return w
}

func (w *WebPush) Name() string { return "webpush" }

func (w *WebPush) Deliver(ctx context.Context, n domain.Notification, u domain.User) error {
	if u.PushEndpoint == "" {
		return ErrSkipped
	}
	if w.breaker != nil {
		if err := w.breaker.Allow(u.PushEndpoint); err != nil {
			return err
		}
	}

	body, err := json.Marshal(NewPayload(n))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	signature := ComputeSignature(u.PushSecret, body)

	var last SendResult
	for attempt, wait := range w.backoff {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				// The previous attempt failed; the half-open trial must not stay pending.
				if w.breaker != nil {
					w.breaker.RecordFailure(u.PushEndpoint)
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		last = w.send(ctx, u.PushEndpoint, n.ID, signature, body)
		if w.metrics != nil {
			w.metrics.WebPushAttempt(classifyStatus(last.StatusCode, last.Error), last.Duration)
		}

		if last.IsSuccess() {
			if w.breaker != nil {
				w.breaker.RecordSuccess(u.PushEndpoint)
			}
			return nil
		}
		if !last.IsRetryable() {
			break
		}
	}

	if w.breaker != nil {
		w.breaker.RecordFailure(u.PushEndpoint)
	}
	if last.Error != nil {
		return last.Error
	}
	return fmt.Errorf("push gateway returned status %d", last.StatusCode)
}

func (w *WebPush) send(ctx context.Context, url string, notificationID uuid.UUID, signature string, body []byte) SendResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderNotificationID, notificationID.String())
	req.Header.Set(HeaderDeliveryID, uuid.NewString())
	req.Header.Set(HeaderSignature, signature)

	resp, err := w.client.Do(req)
	if err != nil {
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return SendResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

// ComputeSignature returns the hex HMAC-SHA256 of body.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for push gateways to authenticate deliveries.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// classifyStatus maps an attempt to a bounded set of metric labels.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "no such host"),
			strings.Contains(msg, "network is unreachable"),
			strings.Contains(msg, "dial"):
			return "connection_error"
		}
		return "other_error"
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}
