package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversInOrder(t *testing.T) {
	bus := NewEventBus()
	var seen []uint64
	unsubscribe := bus.Subscribe(ResultHandlerFunc(func(r *Result) { seen = append(seen, r.Seq) }))

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(&Result{Seq: i})
	}
	bus.Publish(nil)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)

	unsubscribe()
	bus.Publish(&Result{Seq: 6})
	assert.Len(t, seen, 5)
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventBusSessionFilter(t *testing.T) {
	bus := NewEventBus()
	var got []string
	bus.SubscribeSession("a", ResultHandlerFunc(func(r *Result) { got = append(got, r.SessionID) }))

	bus.Publish(&Result{SessionID: "a"})
	bus.Publish(&Result{SessionID: "b"})
	bus.Publish(&Result{SessionID: "a"})
	assert.Equal(t, []string{"a", "a"}, got)
}

func TestEventBusChannelDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, unsubscribe := bus.SubscribeChannel(1)

	bus.Publish(&Result{Seq: 1})
	bus.Publish(&Result{Seq: 2})

	r := <-ch
	assert.Equal(t, uint64(1), r.Seq)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected result %d", extra.Seq)
	default:
	}

	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok)
	unsubscribe()
}

func TestEventBusHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	bus.Subscribe(ResultHandlerFunc(func(*Result) { panic("boom") }))
	bus.Subscribe(ResultHandlerFunc(func(*Result) { calls++ }))

	require.NotPanics(t, func() { bus.Publish(&Result{Seq: 1}) })
	assert.Equal(t, 1, calls)
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus()
	ch, _ := bus.SubscribeChannel(1)
	bus.Subscribe(ResultHandlerFunc(func(*Result) {}))

	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventBusHandlerMayUnsubscribeItself(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	var unsubscribe func()
	unsubscribe = bus.Subscribe(ResultHandlerFunc(func(*Result) {
		calls++
		unsubscribe()
	}))

	done := make(chan struct{})
	go func() {
		bus.Publish(&Result{Seq: 1})
		bus.Publish(&Result{Seq: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish did not return")
	}
	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.SubscriberCount())
}

func TestEventBusSubscribeAsyncNeverBlocksPublish(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	release := make(chan struct{})
	received := make(chan uint64, 16)
	bus.SubscribeAsync(2, ResultHandlerFunc(func(r *Result) {
		<-release
		received <- r.Seq
	}))

	done := make(chan struct{})
	go func() {
		for i := uint64(1); i <= 10; i++ {
			bus.Publish(&Result{Seq: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish waited for a blocked handler")
	}

	close(release)
	require.Eventually(t, func() bool { return len(received) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), <-received)
}
