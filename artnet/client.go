package artnet

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/phuslu/log"

	"github.com/TeaEngineering/goartnet/metrics"
)

const (
	pollInterval      = 2 * time.Second
	rebroadcastAfter  = 1 * time.Second
	schedulerTick     = 100 * time.Millisecond
	oemCode           = 0x2CD3
	estaCode          = 0x02AE
	status2PortAddr15 = 0x08 // 15-bit port-address supported
)

var ErrNotPublishing = errors.New("no input port configured")

// Transport sends one datagram. The Receiver implements it over the engine's
// socket; tests substitute an in-memory fabric.
type Transport interface {
	SendTo(data []byte, addr *net.UDPAddr) error
}

// ClientConfig carries the recognized configuration surface. Net and SubNet
// are only used in replies while the peer has no ports of its own.
type ClientConfig struct {
	Interface string
	Net       uint8
	SubNet    uint8
	PortName  string // 17 bytes max on the wire
	LongName  string // 63 bytes max on the wire
	Style     uint8
	Passive   bool // suppress unsolicited poll-replies on property changes
}

// Client is an Art-Net peer: it discovers nodes, advertises its own ports,
// tracks publishers and subscribers per universe and forwards DMX.
//
// All protocol state lives behind one mutex; the receiver goroutine and the
// scheduler goroutine are the only internal writers.
type Client struct {
	mu sync.Mutex

	nodes     map[string]*Node
	universes map[PortAddress]*Universe

	ports     []*Port
	portBinds map[int][]*Port

	portName string
	longName string
	style    uint8
	net      uint8
	subnet   uint8
	passive  bool

	iface       string
	UnicastIP   net.IP
	BroadcastIP net.IP
	MAC         [6]byte

	transport Transport
	receiver  *Receiver

	publishing    []*Universe
	lastPoll      time.Time
	reportCounter int

	// universes first referenced by the datagram or call in progress;
	// their UniverseDiscovered events flush after any port events.
	pendingUniv []*Universe

	rdm RDMInterrogator

	bus      *eventBus
	done     chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg ClientConfig) *Client {
	portName := cfg.PortName
	if portName == "" {
		portName = "goartnet"
	}
	longName := cfg.LongName
	if longName == "" {
		longName = fmt.Sprintf("%s (goartnet)", portName)
	}

	return &Client{
		nodes:     map[string]*Node{},
		universes: map[PortAddress]*Universe{},
		portBinds: map[int][]*Port{1: nil},
		portName:  portName,
		longName:  longName,
		style:     cfg.Style,
		net:       cfg.Net,
		subnet:    cfg.SubNet,
		passive:   cfg.Passive,
		iface:     cfg.Interface,
		MAC:       [6]byte{0x01, 0x22, 0x33, 0x44, 0x55, 0x66},
		rdm:       NopRDMInterrogator{},
		bus:       newEventBus(),
		done:      make(chan struct{}),
	}
}

// Connect resolves the network interface, binds the Art-Net socket and starts
// the receive loop plus (unless passive) the poll/rebroadcast scheduler.
func (c *Client) Connect() error {
	if c.BroadcastIP == nil || c.UnicastIP == nil {
		info, err := resolveInterface(c.iface)
		if err != nil {
			return err
		}
		c.iface = info.Name
		c.UnicastIP = info.UnicastIP
		c.BroadcastIP = info.BroadcastIP
		copy(c.MAC[:], info.MAC)
	}

	log.Info().
		Str("interface", c.iface).
		Str("ip", c.UnicastIP.String()).
		Str("broadcast", c.BroadcastIP.String()).
		Msg("artnet client starting")

	recv, err := NewReceiver(&net.UDPAddr{IP: net.IPv4zero, Port: Port}, c)
	if err != nil {
		return fmt.Errorf("bind artnet socket: %w", err)
	}
	c.mu.Lock()
	c.receiver = recv
	c.transport = recv
	c.mu.Unlock()

	recv.Start()
	if !c.passive {
		go c.pollLoop()
	}
	return nil
}

// Stop cancels the scheduler, closes the socket and ends all event streams.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		recv := c.receiver
		c.mu.Unlock()
		if recv != nil {
			recv.Stop()
		}
		c.bus.close()
	})
}

// SetTransport substitutes the outgoing datagram path. Intended for tests
// and for capture-based receivers that cannot send.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// Events returns a new independent subscription to the engine's event
// stream. The channel ends when the engine stops or cancel is called.
func (c *Client) Events() (<-chan Event, func()) {
	return c.bus.subscribe()
}

// Nodes returns a snapshot of the node registry.
func (c *Client) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Node returns the registry entry for an IP, or nil.
func (c *Client) Node(ip string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[ip]
}

// Universes returns a snapshot of the universe registry.
func (c *Client) Universes() []*Universe {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Universe, 0, len(c.universes))
	for _, u := range c.universes {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Universe returns the registry entry for a port-address, or nil. Use
// SetPortConfig or SetDMX to create universes.
func (c *Client) Universe(addr PortAddress) *Universe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.universes[addr]
}

// LocalPorts returns the peer's own configured ports.
func (c *Client) LocalPorts() []*Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Port(nil), c.ports...)
}

func (c *Client) PortName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portName
}

func (c *Client) LongName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.longName
}

func (c *Client) Style() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.style
}

// SetPortName updates the short name and, unless passive, announces it.
func (c *Client) SetPortName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.portName = name
	c.announceLocked()
}

func (c *Client) SetLongName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.longName = name
	c.announceLocked()
}

func (c *Client) SetStyle(style uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.style = style
	c.announceLocked()
}

// SetRDMInterrogator installs the embedder's RDM behavior.
func (c *Client) SetRDMInterrogator(r RDMInterrogator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rdm = r
}

func (c *Client) announceLocked() {
	if !c.passive && c.transport != nil {
		c.sendPollReplyLocked()
	}
}

// SetPortConfig declares, replaces or removes the local port on a universe.
// Passing input=false, output=false removes any existing port. The universe
// record is created if this is the first reference to the address.
func (c *Client) SetPortConfig(addr PortAddress, isInput, isOutput bool) (*Universe, error) {
	if !addr.Valid() {
		return nil, fmt.Errorf("%w: %d exceeds 0x7fff", ErrInvalidPortAddress, addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.flushPendingLocked()

	u := c.getCreateUniverseLocked(addr)

	for _, p := range c.ports {
		if p.Universe == u {
			c.ports = removePort(c.ports, p)
			log.Debug().Stringer("port", p).Msg("removed own port")
			break
		}
	}

	if isInput || isOutput {
		p := &Port{IsInput: isInput, Addr: addr, Universe: u}
		c.ports = append(c.ports, p)
		log.Debug().Stringer("port", p).Msg("configured own port")
	}

	// One port per bind page; a portless peer still answers on page 1.
	if len(c.ports) > 0 {
		c.portBinds = map[int][]*Port{}
		for i, p := range c.ports {
			c.portBinds[i+1] = []*Port{p}
		}
	} else {
		c.portBinds = map[int][]*Port{1: nil}
	}

	for i, pu := range c.publishing {
		if pu == u {
			c.publishing = append(c.publishing[:i], c.publishing[i+1:]...)
			break
		}
	}
	if isInput {
		c.publishing = append(c.publishing, u)
	}

	c.announceLocked()
	return u, nil
}

// SetDMX latches a full 512-byte frame into the universe and unicasts it to
// every subscriber. The peer must have an input port configured on the
// universe.
func (c *Client) SetDMX(addr PortAddress, data []byte) error {
	if !addr.Valid() {
		return fmt.Errorf("%w: %d exceeds 0x7fff", ErrInvalidPortAddress, addr)
	}
	if len(data) != DMXUniverseSize {
		return fmt.Errorf("dmx frame must be %d bytes, got %d", DMXUniverseSize, len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.flushPendingLocked()

	u := c.getCreateUniverseLocked(addr)

	if !c.isPublishingLocked(u) {
		return fmt.Errorf("%w for %s", ErrNotPublishing, u)
	}

	copy(u.lastData[:], data)
	c.sendArtDmxLocked(u)
	return nil
}

func (c *Client) isPublishingLocked(u *Universe) bool {
	for _, pu := range c.publishing {
		if pu == u {
			return true
		}
	}
	return false
}

func (c *Client) getCreateUniverseLocked(addr PortAddress) *Universe {
	u := c.universes[addr]
	if u == nil {
		u = newUniverse(addr, c)
		c.universes[addr] = u
		c.pendingUniv = append(c.pendingUniv, u)
	}
	return u
}

func (c *Client) flushPendingLocked() {
	for _, u := range c.pendingUniv {
		c.bus.publish(UniverseDiscovered{Universe: u})
	}
	c.pendingUniv = c.pendingUniv[:0]
}

// HandlePoll implements PacketHandler.
func (c *Client) HandlePoll(src *net.UDPAddr, pkt *PollPacket) {
	log.Debug().
		Str("src", src.String()).
		Int("ver", int(pkt.ProtVer)).
		Int("flags", int(pkt.Flags)).
		Msg("received ArtPoll")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendPollReplyLocked()
}

// HandlePollReply implements PacketHandler: reconcile the reported bind page
// into the node and universe registries.
func (c *Client) HandlePollReply(src *net.UDPAddr, pkt *PollReplyPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.flushPendingLocked()

	ip := net.IP(pkt.IPAddress[:]).String()
	portName := trimNul(pkt.PortName[:])
	longName := trimNul(pkt.LongName[:])

	var events []Event

	node := c.nodes[ip]
	if node == nil {
		node = newNode(ip, pkt.Port, portName, longName, pkt.Style)
		c.nodes[ip] = node
		events = append(events, NodeDiscovered{Node: node})
		metrics.NodesDiscovered.Inc()
		log.Info().Str("ip", ip).Str("name", portName).Msg("node discovered")
	} else if node.PortName != portName || node.LongName != longName || node.Style != pkt.Style {
		node.PortName = portName
		node.LongName = longName
		node.Style = pkt.Style
		node.UDPPort = pkt.Port
		events = append(events, NodeChanged{Node: node})
		log.Info().Str("ip", ip).Str("name", portName).Msg("node changed")
	}
	node.LastReply = time.Now()

	bindIndex := int(pkt.BindIndex)
	if _, ok := node.Binds[bindIndex]; !ok {
		node.Binds[bindIndex] = nil
	}

	// Build the page's new port list from the four slots. Both direction
	// bits may be set, yielding two ports from one slot.
	var portList []*Port
	for i := 0; i < 4; i++ {
		t := pkt.PortTypes[i]
		if t&PortTypeOutput != 0 {
			addr := NewPortAddress(pkt.NetSwitch, pkt.SubSwitch, pkt.SwOut[i])
			portList = append(portList, &Port{
				Owner:    node,
				Media:    t & PortMediaMask,
				Addr:     addr,
				Universe: c.getCreateUniverseLocked(addr),
			})
		}
		if t&PortTypeInput != 0 {
			addr := NewPortAddress(pkt.NetSwitch, pkt.SubSwitch, pkt.SwIn[i])
			portList = append(portList, &Port{
				Owner:    node,
				IsInput:  true,
				Media:    t & PortMediaMask,
				Addr:     addr,
				Universe: c.getCreateUniverseLocked(addr),
			})
		}
	}

	old := append([]*Port(nil), node.Binds[bindIndex]...)

	for _, p := range portList {
		if portListContains(old, p) {
			continue
		}
		node.Ports = append(node.Ports, p)
		node.Binds[bindIndex] = append(node.Binds[bindIndex], p)
		if p.IsInput {
			p.Universe.Publishers = append(p.Universe.Publishers, node)
		} else {
			p.Universe.Subscribers = append(p.Universe.Subscribers, node)
		}
		events = append(events, NodePortAdded{Node: node, Port: p})
	}

	for _, p := range old {
		if portListContains(portList, p) {
			continue
		}
		node.Ports = removePort(node.Ports, p)
		node.Binds[bindIndex] = removePort(node.Binds[bindIndex], p)
		if p.IsInput {
			p.Universe.Publishers = removeNode(p.Universe.Publishers, node)
		} else {
			p.Universe.Subscribers = removeNode(p.Universe.Subscribers, node)
		}
		events = append(events, NodePortRemoved{Node: node, Port: p})
	}

	log.Debug().
		Str("ip", ip).
		Str("name", portName).
		Int("bindIndex", bindIndex).
		Int("ports", len(portList)).
		Msg("received ArtPollReply")

	for _, ev := range events {
		c.bus.publish(ev)
	}
}

// HandleDMX implements PacketHandler: latch the frame and record the
// per-source sequence. Frames are accepted regardless of subscription state.
func (c *Client) HandleDMX(src *net.UDPAddr, pkt *DMXPacket) {
	if !pkt.PortAddress.Valid() {
		metrics.MalformedPackets.Inc()
		log.Debug().Str("src", src.String()).Msg("ArtDmx with invalid port-address")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.getCreateUniverseLocked(pkt.PortAddress)

	// Sequence 0 means the sender does not sequence; anything else is
	// latched per (source address, physical port).
	if pkt.Sequence > 0 {
		u.PublisherSeq[SeqKey{Addr: src.String(), Physical: pkt.Physical}] = pkt.Sequence
	}

	n := int(pkt.Length)
	if n > DMXUniverseSize {
		n = DMXUniverseSize
	}
	copy(u.lastData[:n], pkt.Data[:n])

	metrics.DMXFramesReceived.Inc()

	c.flushPendingLocked()

	data := make([]byte, DMXUniverseSize)
	copy(data, u.lastData[:])
	c.bus.publish(UniverseDMX{Universe: u, Data: data})
}

func (c *Client) pollLoop() {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *Client) tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range c.publishing {
		if now.Sub(u.lastPublish) > rebroadcastAfter {
			c.sendArtDmxLocked(u)
		}
	}

	if now.Sub(c.lastPoll) > pollInterval {
		c.sendPollLocked()
	}
}

func (c *Client) sendPollLocked() {
	c.lastPoll = time.Now()
	c.reportCounter = (c.reportCounter + 1) % 10000

	if c.transport == nil || c.BroadcastIP == nil {
		return
	}
	addr := &net.UDPAddr{IP: c.BroadcastIP, Port: Port}
	if err := c.transport.SendTo(BuildPollPacket(), addr); err != nil {
		log.Warn().Err(err).Str("dst", addr.String()).Msg("poll send failed")
		return
	}
	metrics.PacketsSent.WithLabelValues("poll").Inc()
}

// sendArtDmxLocked advances the universe's sequence and unicasts the frame to
// each subscriber in list order.
func (c *Client) sendArtDmxLocked(u *Universe) {
	u.lastPublish = time.Now()
	seq := u.nextSeq()

	if c.transport == nil {
		return
	}
	for _, s := range u.Subscribers {
		addr := &net.UDPAddr{IP: net.ParseIP(s.IP), Port: int(s.UDPPort)}
		buf := BuildDMXPacket(u.Addr, seq, 0, &u.lastData)
		if err := c.transport.SendTo(buf, addr); err != nil {
			log.Warn().Err(err).Str("dst", addr.String()).Stringer("universe", u).Msg("dmx send failed")
			continue
		}
		metrics.PacketsSent.WithLabelValues("dmx").Inc()
		metrics.DMXFramesSent.Inc()
	}
}

// sendPollReplyLocked broadcasts one reply per bind page.
func (c *Client) sendPollReplyLocked() {
	if c.transport == nil || c.UnicastIP == nil || c.BroadcastIP == nil {
		return
	}

	binds := make([]int, 0, len(c.portBinds))
	for bi := range c.portBinds {
		binds = append(binds, bi)
	}
	sort.Ints(binds)

	addr := &net.UDPAddr{IP: c.BroadcastIP, Port: Port}
	for _, bi := range binds {
		pkt := c.buildPollReplyLocked(bi, c.portBinds[bi])
		if err := c.transport.SendTo(pkt.Marshal(), addr); err != nil {
			log.Warn().Err(err).Str("dst", addr.String()).Msg("poll-reply send failed")
			continue
		}
		metrics.PacketsSent.WithLabelValues("pollreply").Inc()
	}
}

func (c *Client) buildPollReplyLocked(bindIndex int, ports []*Port) *PollReplyPacket {
	pkt := &PollReplyPacket{
		Port:      Port,
		VersInfo:  1,
		NetSwitch: c.net,
		SubSwitch: c.subnet,
		Oem:       oemCode,
		EstaMan:   estaCode,
		NumPorts:  uint16(len(ports)),
		Style:     c.style,
		MAC:       c.MAC,
		BindIndex: uint8(bindIndex),
		Status2:   status2PortAddr15,
	}

	ip4 := c.UnicastIP.To4()
	copy(pkt.IPAddress[:], ip4)
	copy(pkt.BindIP[:], ip4)
	copy(pkt.PortName[:17], c.portName)
	copy(pkt.LongName[:63], c.longName)
	copy(pkt.NodeReport[:], fmt.Sprintf("#0001 [%04d] Debug OK", c.reportCounter))

	for i, p := range ports {
		if i >= 4 {
			break
		}
		if p.IsInput {
			pkt.PortTypes[i] = p.Media | PortTypeInput
		} else {
			pkt.PortTypes[i] = p.Media | PortTypeOutput
		}
		netv, subv, univ := p.Universe.Addr.Split()
		pkt.NetSwitch = netv
		pkt.SubSwitch = subv
		if p.IsInput {
			pkt.SwIn[i] = univ
		} else {
			pkt.SwOut[i] = univ
		}
	}

	return pkt
}
