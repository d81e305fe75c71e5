package events

import (
	"sync"
)

// GlobalKey is the special key for subscribing to all events.
const GlobalKey = "*"

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers of the event's key.
	Publish(event Event)
	// Subscribe returns a channel that receives events for the given key.
	// Keys are "kind/id" for one entity, "kind/*" for every entity of a
	// kind, or GlobalKey for everything.
	Subscribe(key string) <-chan Event
	// Unsubscribe removes a subscription channel.
	Unsubscribe(key string, ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory implementation of Publisher.
type MemoryPublisher struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subscribers: make(map[string][]chan Event),
		bufferSize:  100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish fans the event out to entity, kind and global subscribers.
// Non-blocking: skips subscribers with full buffers.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	p.deliver(event.Key, event)
	if event.Key == GlobalKey {
		return
	}
	if kk := KindKey(kindOf(event.Key)); kk != event.Key {
		p.deliver(kk, event)
	}
	p.deliver(GlobalKey, event)
}

// deliver must be called with p.mu held.
func (p *MemoryPublisher) deliver(key string, event Event) {
	for _, ch := range p.subscribers[key] {
		select {
		case ch <- event:
		default:
			// Skip if channel buffer is full (non-blocking)
		}
	}
}

// Subscribe returns a channel that receives events for the given key.
func (p *MemoryPublisher) Subscribe(key string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers[key] = append(p.subscribers[key], ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (p *MemoryPublisher) Unsubscribe(key string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[key]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[key] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(p.subscribers[key]) == 0 {
		delete(p.subscribers, key)
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true

	for key, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, key)
	}
}

// SubscriberCount returns the number of subscribers for a key.
func (p *MemoryPublisher) SubscriberCount(key string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[key])
}

// KeyCount returns the number of keys with subscribers.
func (p *MemoryPublisher) KeyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// NopPublisher is a no-op publisher for when events are disabled.
type NopPublisher struct{}

// Publish does nothing.
func (p *NopPublisher) Publish(event Event) {}

// Subscribe returns a closed channel.
func (p *NopPublisher) Subscribe(key string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (p *NopPublisher) Unsubscribe(key string, ch <-chan Event) {}

// Close does nothing.
func (p *NopPublisher) Close() {}

// NewNopPublisher creates a no-op publisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}
