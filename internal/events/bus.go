// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package events

import (
	"sync"

	"github.com/ecosync/internal/job"
)

// Handler receives one queue event.
type Handler func(job.Event)

// Bus is the in-process publish/subscribe channel for queue lifecycle
// events. Delivery is synchronous and ordered: every subscriber registered
// before an Emit sees that event, and all subscribers see events in the
// exact order they were emitted. Nothing is persisted; late subscribers
// query the store for history instead.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id      int
	handler Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Unsubscribe is idempotent.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, handler: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the event to all current subscribers in registration order.
// The emitter's lock is held across delivery, which is what makes the
// ordering guarantee hold when producers emit from multiple goroutines.
// Handlers must not call Subscribe, Emit, or an unsubscribe function from
// within delivery.
func (b *Bus) Emit(event job.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		s.handler(event)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
