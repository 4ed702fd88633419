package artnet

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PcapReceiver listens for Art-Net packets using packet capture. This
// requires elevated privileges but avoids binding port 6454, so it can watch
// a network beside another Art-Net application.
type PcapReceiver struct {
	handle  *pcap.Handle
	handler PacketHandler
	done    chan struct{}
}

// NewPcapReceiver opens iface for live capture filtered to Art-Net traffic.
func NewPcapReceiver(iface string, handler PacketHandler) (*PcapReceiver, error) {
	handle, err := pcap.OpenLive(iface, 1600, true, pcap.BlockForever)
	if err != nil {
		return nil, err
	}

	if err := handle.SetBPFFilter("udp port 6454"); err != nil {
		handle.Close()
		return nil, err
	}

	return &PcapReceiver{
		handle:  handle,
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// Start begins receiving packets
func (r *PcapReceiver) Start() {
	go r.receiveLoop()
}

// Stop stops the receiver
func (r *PcapReceiver) Stop() {
	close(r.done)
	r.handle.Close()
}

func (r *PcapReceiver) receiveLoop() {
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	for {
		select {
		case <-r.done:
			return
		case packet, ok := <-source.Packets():
			if !ok {
				return
			}
			handleCaptured(r.handler, packet)
		}
	}
}

// ReplayPcapFile feeds every Art-Net payload in a capture file to the
// handler in recorded order. Topology and DMX state can be reconstructed
// offline from a recording this way.
func ReplayPcapFile(path string, handler PacketHandler) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return err
	}
	defer handle.Close()

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		handleCaptured(handler, packet)
	}
	return nil
}

func handleCaptured(handler PacketHandler, packet gopacket.Packet) {
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp, _ := udpLayer.(*layers.UDP)
	if udp == nil {
		return
	}

	var srcIP [4]byte
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		if ip, _ := ipLayer.(*layers.IPv4); ip != nil {
			copy(srcIP[:], ip.SrcIP.To4())
		}
	}

	if len(udp.Payload) < 10 {
		return
	}

	src := &net.UDPAddr{
		IP:   net.IP(srcIP[:]),
		Port: int(udp.SrcPort),
	}
	dispatchPacket(handler, src, udp.Payload)
}
