// Package metrics defines prometheus metric types for the Art-Net peer.
//
// The counters track things entering or leaving the engine: datagrams by
// opcode, malformed datagrams dropped at the codec, DMX frames latched or
// forwarded, and nodes appearing in the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceived counts decoded datagrams by opcode.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artnet_packets_received_total",
			Help: "Art-Net datagrams received, by opcode",
		},
		[]string{"opcode"})

	// MalformedPackets counts dropped datagrams: bad prefix, truncated
	// mandatory region, unknown opcode, or an ArtDmx port-address above
	// 0x7FFF.
	MalformedPackets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artnet_malformed_packets_total",
			Help: "datagrams dropped as malformed or unsupported",
		})

	// PacketsSent counts outgoing datagrams by type (poll, pollreply, dmx).
	PacketsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artnet_packets_sent_total",
			Help: "Art-Net datagrams sent, by type",
		},
		[]string{"type"})

	// DMXFramesReceived counts frames latched into universes.
	DMXFramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artnet_dmx_frames_received_total",
			Help: "incoming DMX frames latched into the universe registry",
		})

	// DMXFramesSent counts frames unicast to subscribers.
	DMXFramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artnet_dmx_frames_sent_total",
			Help: "DMX frames unicast to subscribers",
		})

	// NodesDiscovered counts first sightings in the node registry.
	NodesDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "artnet_nodes_discovered_total",
			Help: "nodes added to the registry",
		})
)
