package syncbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
)

// Event is a notification delivered to subscribers of Key.
type Event struct {
	Key     string
	Payload []byte
}

// Bus provides a best-effort pub/sub mechanism used by redlock to tell
// waiting acquirers on other processes that a resource was released.
type Bus interface {
	Publish(ctx context.Context, key string, payload []byte) error
	// Subscribe returns a channel receiving events for key until ctx ends
	// or Unsubscribe is called, after which the channel is closed.
	Subscribe(ctx context.Context, key string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, key string, ch <-chan Event) error
	Close() error
}

type Metrics struct {
	Published uint64
	Delivered uint64
}

// Option configures a remote bus.
type Option func(*busOptions)

type busOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report dropped messages. The default
// is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func newBusOptions(opts []Option) busOptions {
	o := busOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// envelope is the wire format shared by the remote buses, which all carry
// every key over a single channel, subject or topic.
type envelope struct {
	Key     string `json:"k"`
	Payload []byte `json:"p,omitempty"`
}

func encode(key string, payload []byte) ([]byte, error) {
	return json.Marshal(envelope{Key: key, Payload: payload})
}

func decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, err
	}
	return Event{Key: env.Key, Payload: env.Payload}, nil
}

type subscription struct {
	ch   chan Event
	stop func() bool
}

// hub fans events out to local subscribers. Delivery never blocks: a
// subscriber that has not drained its previous event misses the new one.
type hub struct {
	mu        sync.Mutex
	subs      map[string][]subscription
	closed    bool
	published atomic.Uint64
	delivered atomic.Uint64
}

func newHub() *hub {
	return &hub{subs: make(map[string][]subscription)}
}

func (h *hub) subscribe(ctx context.Context, key string) (<-chan Event, error) {
	ch := make(chan Event, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, rlerrors.ErrConnectionClosed
	}
	stop := context.AfterFunc(ctx, func() {
		h.unsubscribe(key, ch)
	})
	h.subs[key] = append(h.subs[key], subscription{ch: ch, stop: stop})
	return ch, nil
}

func (h *hub) unsubscribe(key string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[key]
	for i, s := range subs {
		if s.ch == ch {
			s.stop()
			close(s.ch)
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			break
		}
	}
	if len(subs) == 0 {
		delete(h.subs, key)
	} else {
		h.subs[key] = subs
	}
}

func (h *hub) deliver(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs[ev.Key] {
		select {
		case s.ch <- ev:
			h.delivered.Add(1)
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.subs {
		for _, s := range subs {
			s.stop()
			close(s.ch)
		}
	}
	h.subs = make(map[string][]subscription)
}

func (h *hub) metrics() Metrics {
	return Metrics{
		Published: h.published.Load(),
		Delivered: h.delivered.Load(),
	}
}

// InMemoryBus is a local implementation of Bus for a single process and
// for tests.
type InMemoryBus struct {
	hub *hub
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{hub: newHub()}
}

// Publish implements Bus.Publish.
func (b *InMemoryBus) Publish(ctx context.Context, key string, payload []byte) error {
	b.hub.published.Add(1)
	b.hub.deliver(Event{Key: key, Payload: payload})
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	return b.hub.subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.hub.unsubscribe(key, ch)
	return nil
}

// Close implements Bus.Close.
func (b *InMemoryBus) Close() error {
	b.hub.close()
	return nil
}

func (b *InMemoryBus) Metrics() Metrics {
	return b.hub.metrics()
}
