package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nhle/notifier/internal/credential"
	"github.com/nhle/notifier/internal/model"
	"github.com/nhle/notifier/internal/realtime"
)

// transport is the live channel selected by realtime.mode.
type transport struct {
	channel   realtime.Channel
	publisher realtime.Publisher
	bridge    *realtime.RedisBridge
	closers   []func()
}

func (t *transport) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

// newTransport wires the configured mode:
//
//	local      in-process hub; live inserts only from this process
//	redis      hub fed by a redis pub/sub bridge
//	websocket  subscribe and publish through a `notifier serve` relay
func newTransport(ctx context.Context, cfg *model.AppConfig, log *zap.Logger) (*transport, error) {
	hub := realtime.NewHub()
	t := &transport{channel: hub, publisher: hub, closers: []func(){hub.Close}}

	switch cfg.Realtime.Mode {
	case model.RealtimeLocal:
		return t, nil

	case model.RealtimeRedis:
		client := newRedisClient(cfg.Realtime, log)
		t.closers = append(t.closers, func() { _ = client.Close() })
		t.bridge = realtime.NewRedisBridge(client, cfg.Realtime.RedisChannel, hub, log.Named("redis"))
		t.channel, t.publisher = t.bridge, t.bridge

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			t.bridge.Serve(runCtx, bridgeBackOff(cfg.Inbox))
		}()
		t.closers = append(t.closers, func() {
			cancel()
			<-done
		})
		return t, nil

	case model.RealtimeWebsocket:
		pub, err := realtime.NewRelayPublisher(cfg.Realtime.WSURL)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.channel = realtime.NewWSChannel(cfg.Realtime.WSURL)
		t.publisher = pub
		return t, nil

	default:
		t.Close()
		return nil, fmt.Errorf("unknown realtime mode %q", cfg.Realtime.Mode)
	}
}

// bridgeBackOff paces redis bridge restarts like inbox resubscribes.
func bridgeBackOff(cfg model.InboxConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if d := cfg.ResubscribeBackoff(); d > 0 {
		b.InitialInterval = d
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// newRedisClient builds a client for cfg. The password, if any, lives in
// the keyring.
func newRedisClient(cfg model.RealtimeConfig, log *zap.Logger) *redis.Client {
	password, err := credential.Get(credential.KeyRedisPassword)
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		log.Warn("reading redis password", zap.Error(err))
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: password,
	})
}
