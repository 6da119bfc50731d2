package pipeline

import (
	"sync"

	"facepulse/internal/monitoring"
)

// EventBus provides pub/sub for cycle results
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	sessionFilter string // Empty string means receive all sessions
	channel       chan *Result
	handler       ResultHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for results of every session.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeSession registers a handler for results of one session.
func (b *EventBus) SubscribeSession(sessionID string, handler ResultHandler) func() {
	return b.add(&eventSubscription{sessionFilter: sessionID, handler: handler})
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a channel that receives results.
// Results are dropped while the channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *Result, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Result, bufferSize)
	sub := &eventSubscription{
		channel: ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// SubscribeAsync delivers results to handler on its own goroutine through a
// channel of bufferSize. Results are dropped while the handler is behind, so
// a slow handler never delays Publish. The goroutine exits on unsubscribe or
// Close.
func (b *EventBus) SubscribeAsync(bufferSize int, handler ResultHandler) func() {
	ch, unsubscribe := b.SubscribeChannel(bufferSize)
	go func() {
		for result := range ch {
			deliver(handler, result)
		}
	}()
	return unsubscribe
}

// Publish sends a result to all subscribers. Handlers run synchronously so
// results arrive in cycle order. They are called without the bus lock held
// and may unsubscribe themselves.
func (b *EventBus) Publish(result *Result) {
	if result == nil {
		return
	}

	var handlers []ResultHandler

	b.mu.RLock()
	for sub := range b.subscribers {
		if sub.sessionFilter != "" && sub.sessionFilter != result.SessionID {
			continue
		}

		if sub.handler != nil {
			handlers = append(handlers, sub.handler)
		} else if sub.channel != nil {
			// Sent under the lock; unsubscribe closes the channel.
			select {
			case sub.channel <- result:
			default:
			}
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, result)
	}
}

func deliver(h ResultHandler, result *Result) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[EventBus] Result handler panicked: %v", r)
		}
	}()
	h.OnResult(result)
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
