// Command push-receiver is a local stand-in for a web push gateway. It
// verifies delivery signatures and keeps the most recent payloads for
// inspection.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/delivery"
	"github.com/Auros/VRAtlas.API-sub000/internal/logger"
)

const maxStored = 50

type received struct {
	Timestamp      string           `json:"timestamp"`
	NotificationID string           `json:"notification_id"`
	DeliveryID     string           `json:"delivery_id"`
	Verified       bool             `json:"verified"`
	Payload        delivery.Payload `json:"payload"`
}

type stats struct {
	Count    int64      `json:"count"`
	Rejected int64      `json:"rejected"`
	Last     []received `json:"last"`
	Since    string     `json:"since"`
}

type receiver struct {
	secret string
	log    zerolog.Logger
	now    func() time.Time

	// failWith, when non-zero, is returned instead of 200 so retry and
	// circuit behaviour can be observed.
	failWith int

	mu       sync.Mutex
	count    int64
	rejected int64
	last     []received
	since    time.Time
}

func newReceiver(secret string, log zerolog.Logger) *receiver {
	r := &receiver{secret: secret, log: log, now: time.Now}
	r.since = r.now().UTC()
	return r
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /push", rc.push)
	mux.HandleFunc("GET /stats", rc.stats)
	mux.HandleFunc("POST /reset", rc.reset)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func (rc *receiver) push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	verified := true
	if rc.secret != "" {
		verified = delivery.VerifySignature(rc.secret, body, r.Header.Get(delivery.HeaderSignature))
	}
	if !verified {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		rc.log.Warn().Str("notification_id", r.Header.Get(delivery.HeaderNotificationID)).Msg("signature mismatch")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var p delivery.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	rec := received{
		Timestamp:      rc.now().UTC().Format(time.RFC3339Nano),
		NotificationID: r.Header.Get(delivery.HeaderNotificationID),
		DeliveryID:     r.Header.Get(delivery.HeaderDeliveryID),
		Verified:       rc.secret != "",
		Payload:        p,
	}

	rc.mu.Lock()
	rc.count++
	rc.last = append(rc.last, rec)
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	failWith := rc.failWith
	rc.mu.Unlock()

	rc.log.Info().
		Int64("n", current).
		Str("kind", p.Kind).
		Str("title", p.Title).
		Msg("push received")

	if failWith != 0 {
		w.WriteHeader(failWith)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:    rc.count,
		Rejected: rc.rejected,
		Last:     append([]received(nil), rc.last...),
		Since:    rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count = 0
	rc.rejected = 0
	rc.last = nil
	rc.since = rc.now().UTC()
	rc.mu.Unlock()
	fmt.Fprintln(w, "reset")
}

func main() {
	log := logger.New("push-receiver")

	addr := ":8090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rc := newReceiver(os.Getenv("PUSH_SECRET"), log)
	if v := os.Getenv("FAIL_STATUS"); v != "" {
		fmt.Sscanf(v, "%d", &rc.failWith)
	}
	if rc.secret == "" {
		log.Warn().Msg("PUSH_SECRET unset: signatures are not verified")
	}

	log.Info().Str("addr", addr).Msg("push-receiver listening")
	if err := http.ListenAndServe(addr, rc.routes()); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}
