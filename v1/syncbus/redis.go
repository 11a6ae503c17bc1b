package syncbus

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisChannel is the pub/sub channel used when none is given.
	DefaultRedisChannel = "redlock:events"
	redisBusTimeout     = 5 * time.Second
)

// RedisBus implements Bus on Redis pub/sub. Every key travels over one
// channel and is dispatched locally.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	pubsub  *redis.PubSub
	hub     *hub
	logger  *slog.Logger
	done    chan struct{}
}

// NewRedisBus subscribes to channel and returns a bus publishing on it. An
// empty channel means DefaultRedisChannel.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, channel string, opts ...Option) (*RedisBus, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	ps := client.Subscribe(ctx, channel)
	rctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if _, err := ps.Receive(rctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	b := &RedisBus{
		client:  client,
		channel: channel,
		pubsub:  ps,
		hub:     newHub(),
		logger:  newBusOptions(opts).logger,
		done:    make(chan struct{}),
	}
	go b.dispatch()
	return b, nil
}

func (b *RedisBus) dispatch() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		ev, err := decode([]byte(msg.Payload))
		if err != nil {
			b.logger.Warn("redlock: dropping malformed bus message", "channel", b.channel, "error", err)
			continue
		}
		b.hub.deliver(ev)
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string, payload []byte) error {
	data, err := encode(key, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return err
	}
	b.hub.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	return b.hub.subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.hub.unsubscribe(key, ch)
	return nil
}

// Close stops the subscription and closes every subscriber channel. The
// Redis client is left open.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	b.hub.close()
	return err
}

func (b *RedisBus) Metrics() Metrics {
	return b.hub.metrics()
}
