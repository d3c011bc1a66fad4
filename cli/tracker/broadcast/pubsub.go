package broadcast

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// PubSub bridges room traffic between server instances. A nil PubSub on the
// hub means single-instance operation.
type PubSub interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error
	Close() error
}

// MemoryPubSub loops messages back within the process. Useful in tests and
// single-instance mode when the loop-suppression path still needs exercising.
type MemoryPubSub struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte)
}

func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{handlers: make(map[string][]func([]byte))}
}

func (m *MemoryPubSub) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.RLock()
	handlers := m.handlers[topic]
	m.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(_ context.Context, topic string, handler func(payload []byte)) error {
	m.mu.Lock()
	m.handlers[topic] = append(m.handlers[topic], handler)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPubSub) Close() error { return nil }

// RedisPubSub carries room traffic over Redis channels, the same role the
// socket adapter plays in multi-instance deployments.
type RedisPubSub struct {
	client *redis.Client
	subs   []*redis.PubSub
	mu     sync.Mutex
}

func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

func (r *RedisPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, topic string, handler func(payload []byte)) error {
	sub := r.client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	return nil
}

func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.Close()
	}
	r.subs = nil
	return nil
}
