package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Publish(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func TestBusPublishesToSinks(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	bus := NewBus(first)
	bus.AddSink(second)
	bus.AddSink(nil)

	bus.Publish(TaskStream, map[string]any{"taskId": "t1"})

	assert.Equal(t, []string{TaskStream}, first.events)
	assert.Equal(t, []string{TaskStream}, second.events)
}

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	assert.Equal(t, 1, bus.Subscribers())

	bus.Publish(OrchestrationProgress, "step")

	ev := <-ch
	assert.Equal(t, OrchestrationProgress, ev.Name)
	assert.Equal(t, "step", ev.Data)
	assert.False(t, ev.Timestamp.IsZero())

	cancel()
	cancel()
	assert.Equal(t, 0, bus.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(TaskStream, 1)
	bus.Publish(TaskStream, 2)

	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).Data)
	assert.EqualValues(t, 1, bus.Dropped())
}

func TestSinkFuncAndDiscard(t *testing.T) {
	var got string
	SinkFunc(func(name string, payload any) { got = name }).Publish("x", nil)
	assert.Equal(t, "x", got)

	assert.NotPanics(t, func() { Discard.Publish(TaskStream, nil) })
}
