package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/logging"
)

// DefaultRedisChannel is the shared pub/sub channel for notification inserts.
const DefaultRedisChannel = "notifier:notifications"

// publishTimeout bounds a single redis PUBLISH.
const publishTimeout = 2 * time.Second

// redisEnvelope is the message shape carried over redis pub/sub.
type redisEnvelope struct {
	Event  Event     `json:"event"`
	SentAt time.Time `json:"sent_at"`
}

func encodeEnvelope(ev Event, now time.Time) ([]byte, error) {
	return json.Marshal(redisEnvelope{Event: ev, SentAt: now.UTC()})
}

func decodeEnvelope(payload []byte) (Event, error) {
	var env redisEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, err
	}
	if env.Event.Type == "" || env.Event.Record.UserID == "" {
		return Event{}, fmt.Errorf("incomplete envelope")
	}
	return env.Event, nil
}

// RedisBridge connects a local Hub to a redis pub/sub channel, so inserts
// published by any process reach subscribers in every process. Without a
// client it degrades to publishing straight into the local hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	local   *Hub
	log     *zap.Logger
}

// NewRedisBridge constructs a bridge. client may be nil.
func NewRedisBridge(client *redis.Client, channel string, local *Hub, log *zap.Logger) *RedisBridge {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBridge{
		client:  client,
		channel: channel,
		local:   local,
		log:     logging.OrNop(log),
	}
}

// Subscribe opens a subscription on the local hub.
func (b *RedisBridge) Subscribe(ctx context.Context, f Filter) (Subscription, error) {
	return b.local.Subscribe(ctx, f)
}

// Publish sends ev to the shared redis channel.
func (b *RedisBridge) Publish(ctx context.Context, ev Event) error {
	if b.client == nil {
		return b.local.Publish(ctx, ev)
	}

	body, err := encodeEnvelope(ev, time.Now())
	if err != nil {
		return fmt.Errorf("encoding redis envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("publishing to redis channel %s: %w", b.channel, err)
	}
	return nil
}

// Serve keeps Run going until ctx is cancelled. Each time the redis
// subscription breaks, local subscribers are failed with the error so they
// resubscribe, and Run is retried under policy.
func (b *RedisBridge) Serve(ctx context.Context, policy backoff.BackOff) {
	attempt := 0
	_ = backoff.RetryNotify(func() error {
		attempt++
		started := time.Now()
		err := b.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > time.Minute {
			// A long healthy run starts the delays over.
			policy.Reset()
		}
		b.local.Fail(err)
		return err
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		b.log.Error("redis bridge stopped",
			zap.Int("attempt", attempt), zap.Duration("retry_in", next), zap.Error(err))
	})
}

// Run forwards messages from the redis channel into the local hub until ctx
// is cancelled or the subscription breaks.
func (b *RedisBridge) Run(ctx context.Context) error {
	if b.client == nil {
		<-ctx.Done()
		return nil
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to redis channel %s: %w", b.channel, err)
	}
	b.log.Info("redis bridge subscribed", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis channel %s closed", b.channel)
			}
			ev, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping redis message",
					zap.String("channel", b.channel), zap.Error(err))
				continue
			}
			if err := b.local.Publish(ctx, ev); err != nil {
				return fmt.Errorf("forwarding redis message: %w", err)
			}
		}
	}
}
