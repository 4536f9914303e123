// Package events carries progress notifications from the daemon to its UI
// clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event names.
const (
	TaskStream            = "task-stream"
	OrchestrationProgress = "orchestration-progress"
)

// Sink receives named events. Publish must not block for long and never
// reports failure to the caller.
type Sink interface {
	Publish(name string, payload any)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, payload any)

// Publish calls f.
func (f SinkFunc) Publish(name string, payload any) { f(name, payload) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(string, any) {})

// Event is one published notification as seen by subscribers.
type Event struct {
	Name      string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to sinks and channel subscribers. Subscribers that
// fall behind lose events instead of blocking publishers.
type Bus struct {
	mu      sync.RWMutex
	sinks   []Sink
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Int64
	now     func() time.Time
}

// NewBus creates a bus publishing to sinks.
func NewBus(sinks ...Sink) *Bus {
	return &Bus{
		sinks: sinks,
		subs:  make(map[int]chan Event),
		now:   time.Now,
	}
}

// AddSink registers another sink.
func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers the event to every sink and subscriber.
func (b *Bus) Publish(name string, payload any) {
	ev := Event{Name: name, Data: payload, Timestamp: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.sinks {
		s.Publish(name, payload)
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many subscriber deliveries were skipped.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
