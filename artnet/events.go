package artnet

import (
	"sync"
)

// Event is a topology or DMX notification fanned out to every subscriber.
type Event interface {
	eventText() string
}

// NodeDiscovered is emitted on the first ArtPollReply from a new address.
type NodeDiscovered struct {
	Node *Node
}

// NodeChanged is emitted when a later reply alters a node's portName,
// longName or style.
type NodeChanged struct {
	Node *Node
}

// NodeLost is reserved: the engine never removes nodes, so it is never
// produced. Embedders implementing a staleness policy can emit it themselves.
type NodeLost struct {
	Node *Node
}

// NodePortAdded is emitted for each port appearing on a reply's bind page.
type NodePortAdded struct {
	Node *Node
	Port *Port
}

// NodePortRemoved is emitted for each port dropped from a reply's bind page.
type NodePortRemoved struct {
	Node *Node
	Port *Port
}

// UniverseDiscovered is emitted exactly once per port-address, the first
// time anything references it.
type UniverseDiscovered struct {
	Universe *Universe
}

// UniverseDMX is emitted when a universe latches an incoming frame. Data is
// the full 512-byte buffer after the write.
type UniverseDMX struct {
	Universe *Universe
	Data     []byte
}

func (NodeDiscovered) eventText() string     { return "node-added" }
func (NodeLost) eventText() string           { return "node-removed" }
func (NodeChanged) eventText() string        { return "node-changed" }
func (NodePortAdded) eventText() string      { return "node-port-changed" }
func (NodePortRemoved) eventText() string    { return "node-port-changed" }
func (UniverseDiscovered) eventText() string { return "universe-added" }
func (UniverseDMX) eventText() string        { return "universe-dmx" }

// eventBufferSize bounds each subscriber's queue. DMX arrives at ~40Hz per
// publisher, so a stalled consumer sheds the oldest events rather than
// blocking the receive loop.
const eventBufferSize = 64

type eventBus struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{subs: map[chan Event]struct{}{}}
}

// subscribe registers a new consumer. The returned cancel func is idempotent
// and safe after the bus is closed.
func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, eventBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// publish delivers to every subscriber, dropping the oldest queued event
// when a buffer is full.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// close ends every subscriber's stream.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = map[chan Event]struct{}{}
}
