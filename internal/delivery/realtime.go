package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
)

const (
	DefaultBacklogSize = 50
	DefaultBacklogTTL  = 24 * time.Hour
)

// ChannelKey is the pub/sub channel the socket gateway subscribes to.
func ChannelKey(userID uuid.UUID) string {
	return "vratlas:notifications:" + userID.String()
}

// BacklogKey is the list holding the most recent payloads of a user.
func BacklogKey(userID uuid.UUID) string {
	return "vratlas:notifications:" + userID.String() + ":backlog"
}

// Realtime publishes notifications to connected clients through Redis and
// keeps a short backlog for clients that reconnect.
type Realtime struct {
	client     redis.Cmdable
	backlog    int64
	backlogTTL time.Duration
}

func NewRealtime(client redis.Cmdable) *Realtime {
	return &Realtime{
		client:     client,
		backlog:    DefaultBacklogSize,
		backlogTTL: DefaultBacklogTTL,
	}
}

// WithBacklog sets how many payloads are kept per user and for how long.
// A size of zero disables the backlog.
func (r *Realtime) WithBacklog(size int, ttl time.Duration) *Realtime {
	if size >= 0 {
		r.backlog = int64(size)
	}
	if ttl > 0 {
		r.backlogTTL = ttl
	}
	return r
}

func (r *Realtime) Name() string { return "realtime" }

func (r *Realtime) Deliver(ctx context.Context, n domain.Notification, u domain.User) error {
	body, err := json.Marshal(NewPayload(n))
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, ChannelKey(u.ID), body)
	if r.backlog > 0 {
		key := BacklogKey(u.ID)
		pipe.LPush(ctx, key, body)
		pipe.LTrim(ctx, key, 0, r.backlog-1)
		pipe.Expire(ctx, key, r.backlogTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Backlog returns the stored payloads of a user, newest first.
func (r *Realtime) Backlog(ctx context.Context, userID uuid.UUID) ([]Payload, error) {
	raw, err := r.client.LRange(ctx, BacklogKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]Payload, 0, len(raw))
	for _, s := range raw {
		var p Payload
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("decode backlog entry: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
