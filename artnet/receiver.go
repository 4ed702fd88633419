package artnet

import (
	"context"
	"net"
	"syscall"

	"github.com/phuslu/log"
	"golang.org/x/sys/unix"

	"github.com/TeaEngineering/goartnet/metrics"
)

// PacketHandler is called for each decoded Art-Net packet
type PacketHandler interface {
	HandleDMX(src *net.UDPAddr, pkt *DMXPacket)
	HandlePoll(src *net.UDPAddr, pkt *PollPacket)
	HandlePollReply(src *net.UDPAddr, pkt *PollReplyPacket)
}

// Receiver owns the engine's datagram socket: it listens for Art-Net packets
// and doubles as the outgoing Transport so all traffic originates from port
// 6454 as peers expect.
type Receiver struct {
	conn    *net.UDPConn
	handler PacketHandler
	done    chan struct{}
}

// NewReceiver binds addr with SO_REUSEADDR and SO_BROADCAST so the peer can
// coexist with other Art-Net software on the host and emit broadcasts.
func NewReceiver(addr *net.UDPAddr, handler PacketHandler) (*Receiver, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, conn syscall.RawConn) error {
			var serr error
			err := conn.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if serr != nil {
					return
				}
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, err
	}

	return &Receiver{
		conn:    pc.(*net.UDPConn),
		handler: handler,
		done:    make(chan struct{}),
	}, nil
}

// Start begins receiving packets
func (r *Receiver) Start() {
	go r.receiveLoop()
}

// Stop stops the receiver and closes the socket
func (r *Receiver) Stop() {
	close(r.done)
	r.conn.Close()
}

func (r *Receiver) receiveLoop() {
	buf := make([]byte, 1024)

	for {
		select {
		case <-r.done:
			return
		default:
		}

		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.done:
				return
			default:
				log.Error().Err(err).Msg("artnet socket read failed")
				return
			}
		}

		dispatchPacket(r.handler, src, buf[:n])
	}
}

// dispatchPacket decodes and routes one datagram. Malformed or unknown
// packets are counted and dropped without touching any state.
func dispatchPacket(handler PacketHandler, src *net.UDPAddr, data []byte) {
	opCode, pkt, err := ParsePacket(data)
	if err != nil {
		metrics.MalformedPackets.Inc()
		log.Debug().
			Str("src", src.String()).
			Int("opcode", int(opCode)).
			Err(err).
			Msg("dropped datagram")
		return
	}

	metrics.PacketsReceived.WithLabelValues(opCodeName(opCode)).Inc()

	switch opCode {
	case OpDmx:
		handler.HandleDMX(src, pkt.(*DMXPacket))
	case OpPoll:
		handler.HandlePoll(src, pkt.(*PollPacket))
	case OpPollReply:
		handler.HandlePollReply(src, pkt.(*PollReplyPacket))
	}
}

func opCodeName(op uint16) string {
	switch op {
	case OpPoll:
		return "poll"
	case OpPollReply:
		return "pollreply"
	case OpDmx:
		return "dmx"
	default:
		return "other"
	}
}

// LocalAddr returns the local address the receiver is bound to
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// SendTo implements Transport over the receiver's socket
func (r *Receiver) SendTo(data []byte, addr *net.UDPAddr) error {
	_, err := r.conn.WriteToUDP(data, addr)
	return err
}
