// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package events

import (
	"context"
	"log/slog"
	"sync"
)

// Handler consumes an event delivered by a Bus.
type Handler func(ctx context.Context, e *Event)

// Bus is an in-process Publisher. Handlers run synchronously in Publish.
// It keeps the last published events for inspection.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	history  []*Event
	keep     int
}

// NewBus returns a Bus that retains up to keep events.
func NewBus(keep int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]Handler),
		keep:     keep,
	}
}

// Subscribe registers h for eventType. An empty type receives every event.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish records e and hands it to every matching handler.
func (b *Bus) Publish(ctx context.Context, e *Event) error {
	b.mu.Lock()
	if b.keep > 0 {
		b.history = append(b.history, e)
		if over := len(b.history) - b.keep; over > 0 {
			b.history = b.history[over:]
		}
	}
	hs := append([]Handler(nil), b.handlers[e.EventType]...)
	hs = append(hs, b.handlers[""]...)
	b.mu.Unlock()

	b.logger.DebugContext(ctx, "event dispatched",
		"event_type", e.EventType,
		"aggregate_id", e.AggregateID,
		"handlers", len(hs),
	)
	for _, h := range hs {
		h(ctx, e)
	}
	return nil
}

// Events returns the retained events of eventType, or all of them when
// eventType is empty, oldest first.
func (b *Bus) Events(eventType string) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Event
	for _, e := range b.history {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
