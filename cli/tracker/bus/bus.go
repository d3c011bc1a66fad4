package bus

import (
	"errors"
	"sync"
)

// LocationChannel carries the sampled cross-instance location stream.
const LocationChannel = "tracking:location:update"

var ErrUnknownBus = errors.New("event bus backend isn't supported")

// Publisher is a connector to the shared message bus. Implementations exist
// for NATS, RabbitMQ and a Tarantool queue; Memory serves single-instance
// deployments and tests.
type Publisher interface {
	// Init establishes the broker connection.
	Init(map[string]string) error

	// Publish emits a payload on a channel. Best effort; the caller logs and
	// continues on error.
	Publish(channel string, payload []byte) error

	// Subscribe registers a handler for a channel. Handlers must not block.
	Subscribe(channel string, handler func(payload []byte)) error

	// Close tears the connection down.
	Close() error
}

// Memory is an in-process Publisher. Delivery is synchronous and only
// reaches subscribers in the same process.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string][]func([]byte)
}

func NewMemory() *Memory {
	return &Memory{handlers: make(map[string][]func([]byte))}
}

func (m *Memory) Init(map[string]string) error { return nil }

func (m *Memory) Publish(channel string, payload []byte) error {
	m.mu.RLock()
	handlers := m.handlers[channel]
	m.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (m *Memory) Subscribe(channel string, handler func(payload []byte)) error {
	m.mu.Lock()
	m.handlers[channel] = append(m.handlers[channel], handler)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
