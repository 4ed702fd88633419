package artnet

import (
	"time"
)

// SeqKey identifies one DMX source feeding a universe: the datagram source
// address plus the sender's physical input port. A single node with two
// physical ports can feed the same universe twice; receivers disambiguate by
// this pair.
type SeqKey struct {
	Addr     string // source "ip:port"
	Physical uint8
}

// Universe is one 15-bit port-address and its latched DMX frame. Universes
// are created the first time any port-address is referenced and are never
// removed.
type Universe struct {
	Addr PortAddress

	// Publishers and Subscribers hold back-references into the node
	// registry; the engine owns both lists.
	Publishers  []*Node
	Subscribers []*Node

	// PublisherSeq latches the most recent sequence byte per source. No
	// reorder or loss policy is applied here; the table exists for
	// observers.
	PublisherSeq map[SeqKey]uint8

	lastData    [DMXUniverseSize]byte
	lastSeq     uint8
	lastPublish time.Time

	client *Client
}

func newUniverse(addr PortAddress, client *Client) *Universe {
	return &Universe{
		Addr:         addr,
		PublisherSeq: map[SeqKey]uint8{},
		lastSeq:      1,
		client:       client,
	}
}

func (u *Universe) String() string {
	return u.Addr.String()
}

// GetDMX returns a copy of the latched frame.
func (u *Universe) GetDMX() []byte {
	u.client.mu.Lock()
	defer u.client.mu.Unlock()

	out := make([]byte, DMXUniverseSize)
	copy(out, u.lastData[:])
	return out
}

// SetDMX latches a full frame and unicasts it to the universe's subscribers.
// The local peer must have an input port configured here.
func (u *Universe) SetDMX(data []byte) error {
	return u.client.SetDMX(u.Addr, data)
}

// nextSeq advances the outgoing sequence counter. Wraps within 1..254 so the
// emitted value is never 0, which receivers treat as unsequenced.
func (u *Universe) nextSeq() uint8 {
	u.lastSeq = u.lastSeq%254 + 1
	return u.lastSeq
}
