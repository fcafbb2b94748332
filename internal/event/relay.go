package event

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRelayChannel = "marketplace:session-events"

// RedisRelay mirrors session events between the local bus and a Redis pub/sub
// channel. It is a best-effort broadcast: delivery is not acknowledged and
// nothing is replayed for late subscribers.
type RedisRelay struct {
	client  redis.UniversalClient
	bus     Bus
	channel string
	origin  string
	logger  *slog.Logger
}

func NewRedisRelay(client redis.UniversalClient, bus Bus, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = defaultRelayChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:  client,
		bus:     bus,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With("component", "relay"),
	}
}

// Run blocks until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	local, unsubscribe := r.bus.Subscribe()
	defer unsubscribe()

	remote := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-local:
			if !ok {
				return nil
			}
			if !e.IsSession() || e.remote {
				continue
			}
			e.Relay = r.origin
			payload, err := json.Marshal(e)
			if err != nil {
				r.logger.Error("failed to marshal session event", "error", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.Warn("failed to relay session event", "type", e.Type, "error", err)
			}
		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.logger.Warn("dropping malformed session event", "error", err)
				continue
			}
			if e.Relay == r.origin || !e.IsSession() {
				continue
			}
			e.remote = true
			r.bus.Publish(e)
		}
	}
}
