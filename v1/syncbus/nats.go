package syncbus

import (
	"context"

	nats "github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject used when none is given.
const DefaultNATSSubject = "redlock.events"

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
	hub     *hub
}

// NewNATSBus subscribes to subject on conn and returns a bus publishing on
// it. An empty subject means DefaultNATSSubject.
func NewNATSBus(conn *nats.Conn, subject string, opts ...Option) (*NATSBus, error) {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	logger := newBusOptions(opts).logger
	b := &NATSBus{conn: conn, subject: subject, hub: newHub()}
	sub, err := conn.Subscribe(subject, func(m *nats.Msg) {
		ev, err := decode(m.Data)
		if err != nil {
			logger.Warn("redlock: dropping malformed bus message", "subject", subject, "error", err)
			return
		}
		b.hub.deliver(ev)
	})
	if err != nil {
		return nil, err
	}
	// Make sure the server knows the subscription before anything is published.
	if err := conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	b.sub = sub
	return b, nil
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string, payload []byte) error {
	data, err := encode(key, payload)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return err
	}
	b.hub.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	return b.hub.subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.hub.unsubscribe(key, ch)
	return nil
}

// Close drops the NATS subscription and closes every subscriber channel.
// The connection is left open.
func (b *NATSBus) Close() error {
	err := b.sub.Unsubscribe()
	b.hub.close()
	return err
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return b.hub.metrics()
}
