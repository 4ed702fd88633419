package artnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusFanOut(t *testing.T) {
	bus := newEventBus()

	a, cancelA := bus.subscribe()
	b, cancelB := bus.subscribe()
	defer cancelA()
	defer cancelB()

	n := &Node{IP: "10.0.0.1"}
	bus.publish(NodeDiscovered{Node: n})

	require.Len(t, collectEvents(a), 1)
	require.Len(t, collectEvents(b), 1)

	// cancelled consumers stop receiving, others are unaffected
	cancelA()
	bus.publish(NodeChanged{Node: n})
	_, open := <-a
	assert.False(t, open)
	require.Len(t, collectEvents(b), 1)
}

func TestEventBusDropsOldest(t *testing.T) {
	bus := newEventBus()
	ch, cancel := bus.subscribe()
	defer cancel()

	for i := 0; i < eventBufferSize+10; i++ {
		bus.publish(UniverseDMX{Data: []byte{byte(i)}})
	}

	got := collectEvents(ch)
	require.Len(t, got, eventBufferSize)

	// the oldest events were shed; the newest survives at the tail
	first := got[0].(UniverseDMX)
	last := got[len(got)-1].(UniverseDMX)
	assert.Equal(t, byte(10), first.Data[0])
	assert.Equal(t, byte(eventBufferSize+9), last.Data[0])
}

func TestEventBusClose(t *testing.T) {
	bus := newEventBus()
	ch, cancel := bus.subscribe()

	bus.publish(NodeDiscovered{})
	bus.close()

	// queued events remain readable, then the stream ends
	_, open := <-ch
	assert.True(t, open)
	_, open = <-ch
	assert.False(t, open)

	// subscribing after close yields an ended stream
	ch2, _ := bus.subscribe()
	_, open = <-ch2
	assert.False(t, open)

	cancel()
	bus.close()
}
