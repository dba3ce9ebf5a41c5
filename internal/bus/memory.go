package bus

import "sync"

// MemoryBus is the in-process EventPublisher. Handlers run synchronously
// on the broadcasting goroutine; they must be short.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

var _ EventPublisher = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string]EventHandler)}
}

func (b *MemoryBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *MemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

func (b *MemoryBus) Broadcast(event Event) {
	b.mu.RLock()
	hs := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(event)
	}
}
