package events

import (
	"fmt"
	"io"
	"sync"
)

// EchoPublisher writes a one-line summary of every event to an io.Writer.
// It wraps another publisher so subscribers still receive the events.
type EchoPublisher struct {
	inner Publisher
	out   io.Writer
	mu    sync.Mutex
}

// NewEchoPublisher creates a publisher that echoes events to out and
// forwards them to inner. inner may be nil.
func NewEchoPublisher(out io.Writer, inner Publisher) *EchoPublisher {
	return &EchoPublisher{inner: inner, out: out}
}

// Publish echoes the event and fans it out to the inner publisher.
func (p *EchoPublisher) Publish(event Event) {
	if p.inner != nil {
		p.inner.Publish(event)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := event.Data.(PhaseChange); ok {
		fmt.Fprintf(p.out, "%s %s: %s → %s\n", event.Key, d.Phase, d.From, d.To)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", event.Key, event.Type)
}

// Subscribe delegates to the inner publisher or returns a closed channel.
func (p *EchoPublisher) Subscribe(key string) <-chan Event {
	if p.inner != nil {
		return p.inner.Subscribe(key)
	}
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe delegates to the inner publisher.
func (p *EchoPublisher) Unsubscribe(key string, ch <-chan Event) {
	if p.inner != nil {
		p.inner.Unsubscribe(key, ch)
	}
}

// Close delegates to the inner publisher.
func (p *EchoPublisher) Close() {
	if p.inner != nil {
		p.inner.Close()
	}
}
