package interaction

import (
	"context"
	"sync"
)

// ChannelPort передаёт события в канал. Основной способ подключить фронтенд:
// потребитель читает Events() в своём цикле.
//
// Notify блокируется, пока событие не прочитано (или не отменён ctx),
// поэтому потребитель обязан читать канал до Close.
type ChannelPort struct {
	Nop

	events chan Event

	mu     sync.RWMutex
	closed bool
}

// NewChannelPort создаёт порт с буфером size.
func NewChannelPort(size int) *ChannelPort {
	if size < 0 {
		size = 0
	}
	return &ChannelPort{events: make(chan Event, size)}
}

// Events возвращает канал событий.
func (c *ChannelPort) Events() <-chan Event {
	return c.events
}

// Notify реализует Port.
func (c *ChannelPort) Notify(ctx context.Context, ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// Close закрывает канал. События после Close отбрасываются.
func (c *ChannelPort) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}
