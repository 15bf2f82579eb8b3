package interaction

import (
	"context"
	"sync"
)

// Collector запоминает все события. Используется в тестах и в CLI
// для итогового отчёта.
type Collector struct {
	Nop

	mu     sync.Mutex
	events []Event
}

// NewCollector создаёт пустой Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Notify реализует Port.
func (c *Collector) Notify(_ context.Context, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events возвращает копию событий в порядке поступления.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// OfKind возвращает события одного вида.
func (c *Collector) OfKind(kind EventKind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Count возвращает количество событий одного вида.
func (c *Collector) Count(kind EventKind) int {
	return len(c.OfKind(kind))
}

// Last возвращает последнее событие вида kind.
func (c *Collector) Last(kind EventKind) (Event, bool) {
	events := c.OfKind(kind)
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}
