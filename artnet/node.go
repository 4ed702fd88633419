package artnet

import (
	"fmt"
	"time"
)

// Style codes, see Art-Net 4 Table 4
const (
	StyleNode       = 0x00
	StyleController = 0x01
	StyleMedia      = 0x02
	StyleRoute      = 0x03
	StyleBackup     = 0x04
	StyleConfig     = 0x05
	StyleVisual     = 0x06
)

var mediaNames = []string{"DMX", "MIDI", "Avab", "Colortran CMX", "ADB 62.5", "Art-Net", "DALI"}

// Node is a remote peer observed via ArtPollReply. Identity is the IPv4
// address carried in the reply; a node that changes address becomes a new
// Node and the old record is left for the embedder to age out.
type Node struct {
	IP        string
	UDPPort   uint16
	PortName  string
	LongName  string
	Style     uint8
	LastReply time.Time

	// Ports is the flat list across all bind pages; Binds holds the same
	// ports grouped by the 1-based bindIndex they were reported on (0 when
	// the reply carried none).
	Ports []*Port
	Binds map[int][]*Port
}

func newNode(ip string, udpPort uint16, portName, longName string, style uint8) *Node {
	return &Node{
		IP:       ip,
		UDPPort:  udpPort,
		PortName: portName,
		LongName: longName,
		Style:    style,
		Binds:    map[int][]*Port{},
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("ArtNetNode<%s,%s:%d>", n.PortName, n.IP, n.UDPPort)
}

// Port is one DMX port bound to a universe. Owner is the remote Node that
// reported it, or nil for a port configured on the local peer.
//
// The direction naming follows the wire protocol: an Input port reads DMX and
// publishes it onto the universe, an Output port receives the universe from
// the network.
type Port struct {
	Owner    *Node
	IsInput  bool
	Media    uint8
	Addr     PortAddress
	Universe *Universe
}

func (p *Port) String() string {
	dir := "Output"
	if p.IsInput {
		dir = "Input"
	}
	media := "unknown"
	if int(p.Media) < len(mediaNames) {
		media = mediaNames[p.Media]
	}
	return fmt.Sprintf("Port<%s,%s,%s>", dir, media, p.Addr)
}

// equal is the reconciliation identity: direction, media kind and address.
func (p *Port) equal(o *Port) bool {
	return p.IsInput == o.IsInput && p.Media == o.Media && p.Addr == o.Addr
}

func portListContains(list []*Port, p *Port) bool {
	for _, q := range list {
		if q.equal(p) {
			return true
		}
	}
	return false
}

func removePort(list []*Port, p *Port) []*Port {
	for i, q := range list {
		if q.equal(p) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeNode(list []*Node, n *Node) []*Node {
	for i, q := range list {
		if q == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
