package gpubvh

import (
	"sync"

	"github.com/google/uuid"
)

// Topic names a broadcast signal. Topics are plain strings so callers can
// define their own alongside the built-in ones.
type Topic string

// SignalReloadShaders asks every subscriber to re-create its compiled GPU
// pipelines. The builder subscribes to it during Initialize.
const SignalReloadShaders Topic = "reload-shaders"

// Handle keeps a subscription alive. Closing it unregisters the handler;
// Close is idempotent.
type Handle struct {
	bus   *SignalBus
	topic Topic
	id    string
	once  sync.Once
}

func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.bus.mu.Lock()
		defer h.bus.mu.Unlock()
		handlers := h.bus.handlers[h.topic]
		delete(handlers, h.id)
		if len(handlers) == 0 {
			delete(h.bus.handlers, h.topic)
		}
	})
}

// SignalBus is a minimal synchronous publish/subscribe registry. Handlers run
// on the goroutine that calls Publish, in unspecified order.
type SignalBus struct {
	mu       sync.Mutex
	handlers map[Topic]map[string]func(userdata uint64)
}

func NewSignalBus() *SignalBus {
	return &SignalBus{
		handlers: map[Topic]map[string]func(uint64){},
	}
}

func (b *SignalBus) Subscribe(topic Topic, handler func(userdata uint64)) *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.NewString()
	if b.handlers[topic] == nil {
		b.handlers[topic] = map[string]func(uint64){}
	}
	b.handlers[topic][id] = handler
	return &Handle{bus: b, topic: topic, id: id}
}

func (b *SignalBus) Publish(topic Topic, userdata uint64) {
	b.mu.Lock()
	handlers := make([]func(uint64), 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(userdata)
	}
}
