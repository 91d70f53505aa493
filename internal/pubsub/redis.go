package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
	"github.com/sirupsen/logrus"

	"github.com/sujalbistaa/pollwave/internal/notify"
)

// Channel is the Redis channel carrying poll change events.
const Channel = "pollwave:events"

// Redis publishes change events to a Redis channel so every instance can
// deliver them to its own WebSocket clients.
type Redis struct {
	client *redis.Client
	log    *logrus.Entry
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string, log *logrus.Entry) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Publish(ctx context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}

// Subscribe streams events from the Redis channel. Undecodable payloads
// are logged and skipped.
func (r *Redis) Subscribe(ctx context.Context, f notify.Filter) <-chan notify.Event {
	out := make(chan notify.Event, 64)
	sub := r.client.Subscribe(ctx, Channel)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev notify.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.log.WithError(err).Warn("skipping malformed event from Redis")
					continue
				}
				if !f.Match(ev) {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Bridge forwards every Redis event into local until ctx is cancelled.
func (r *Redis) Bridge(ctx context.Context, local notify.Publisher) {
	for ev := range r.Subscribe(ctx, notify.Filter{}) {
		if err := local.Publish(ctx, ev); err != nil {
			r.log.WithError(err).Warn("failed to forward event to hub")
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
