package broker

import (
	"context"
	"sync"
)

// Memory is the in-process broker for -dev mode and tests. It delivers
// synchronously, so a published event has reached every local handler by the
// time Publish returns.
type Memory struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (b *Memory) Publish(ctx context.Context, room string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(room, payload)
	}
	return nil
}

func (b *Memory) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Memory) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()
	return nil
}
