package session

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/webmodder/internal/providers/browser/sandbox"
)

// EventType names what changed in a session
type EventType string

const (
	EventState       EventType = "state"
	EventRendered    EventType = "rendered"
	EventError       EventType = "error"
	EventDismissed   EventType = "error_dismissed"
	EventPatched     EventType = "patched"
	EventDiagnostics EventType = "diagnostics"
	EventClosed      EventType = "closed"
)

// Event is published to session subscribers
type Event struct {
	Type        EventType            `json:"type"`
	Session     string               `json:"session"`
	State       State                `json:"state,omitempty"`
	URL         string               `json:"url,omitempty"`
	Title       string               `json:"title,omitempty"`
	RequestID   string               `json:"request_id,omitempty"`
	HandleID    string               `json:"handle_id,omitempty"`
	Error       string               `json:"error,omitempty"`
	Diagnostics []sandbox.Diagnostic `json:"diagnostics,omitempty"`
	Time        time.Time            `json:"time"`
}

const subscriberBuffer = 64

// broker fans events out to subscribers. Slow subscribers lose events
// rather than blocking the session.
type broker struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broker) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
