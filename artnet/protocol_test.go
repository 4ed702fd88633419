package artnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAddressString(t *testing.T) {
	assert.Equal(t, "0:0:4", PortAddress(4).String())
	assert.Equal(t, "0:1:5", PortAddress(0x15).String())
	assert.Equal(t, "3:1:5", PortAddress(0x315).String())
	assert.Equal(t, "7:15:15", PortAddress(0x7FF).String())
	assert.Equal(t, "15:15:15", PortAddress(0xFFF).String())
	assert.Equal(t, "127:15:15", PortAddress(0x7FFF).String())
}

func TestParsePortAddress(t *testing.T) {
	addr, err := ParsePortAddress("3:1:5")
	require.NoError(t, err)
	assert.Equal(t, PortAddress(789), addr)

	addr, err = ParsePortAddress("127:15:15")
	require.NoError(t, err)
	assert.Equal(t, PortAddress(0x7FFF), addr)

	_, err = ParsePortAddress("128:0:0")
	assert.ErrorIs(t, err, ErrInvalidPortAddress)

	_, err = ParsePortAddress("0:16:0")
	assert.ErrorIs(t, err, ErrInvalidPortAddress)

	_, err = ParsePortAddress("0:0:16")
	assert.ErrorIs(t, err, ErrInvalidPortAddress)

	addr, err = ParsePortAddress("789")
	require.NoError(t, err)
	assert.Equal(t, PortAddress(789), addr)

	_, err = ParsePortAddress("32768")
	assert.ErrorIs(t, err, ErrInvalidPortAddress)

	_, err = ParsePortAddress("1:2")
	assert.ErrorIs(t, err, ErrInvalidPortAddress)
}

func TestPortAddressSplit(t *testing.T) {
	for _, v := range []uint16{0, 1, 0x15, 0x315, 0x7FF, 0x7FFF} {
		n, s, u := PortAddress(v).Split()
		assert.Equal(t, PortAddress(v), NewPortAddress(n, s, u))
	}
	assert.False(t, PortAddress(0x8000).Valid())
	assert.True(t, PortAddress(0x7FFF).Valid())
}

func TestBuildPollPacket(t *testing.T) {
	want := []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00, 0x00, 0x20, 0x00, 0x0E, 0x02, 0x10}
	assert.Equal(t, want, BuildPollPacket())
}

func TestParsePollPacket(t *testing.T) {
	op, pkt, err := ParsePacket(BuildPollPacket())
	require.NoError(t, err)
	assert.Equal(t, uint16(OpPoll), op)

	poll := pkt.(*PollPacket)
	assert.Equal(t, uint16(ProtocolVersion), poll.ProtVer)
	assert.Equal(t, uint8(0x02), poll.Flags)
	assert.Equal(t, uint8(0x10), poll.DiagPriority)
}

func TestDMXPacketRoundTrip(t *testing.T) {
	var data [DMXUniverseSize]byte
	for i := range data {
		data[i] = byte(i % 251)
	}

	buf := BuildDMXPacket(NewPortAddress(3, 1, 5), 42, 1, &data)
	require.Len(t, buf, 10+dmxHeaderLen+DMXUniverseSize)

	op, pkt, err := ParsePacket(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(OpDmx), op)

	dmx := pkt.(*DMXPacket)
	assert.Equal(t, uint16(ProtocolVersion), dmx.ProtVer)
	assert.Equal(t, uint8(42), dmx.Sequence)
	assert.Equal(t, uint8(1), dmx.Physical)
	assert.Equal(t, PortAddress(0x315), dmx.PortAddress)
	assert.Equal(t, uint16(DMXUniverseSize), dmx.Length)
	assert.Equal(t, data, dmx.Data)
}

func TestParseDMXPacketShortFrame(t *testing.T) {
	var data [DMXUniverseSize]byte
	data[0] = 0xAA
	data[1] = 0xBB
	buf := BuildDMXPacket(0, 0, 0, &data)

	// declare 2 channels and truncate the payload to match
	buf[16] = 0
	buf[17] = 2
	buf = buf[:20]

	_, pkt, err := ParsePacket(buf)
	require.NoError(t, err)
	dmx := pkt.(*DMXPacket)
	assert.Equal(t, uint16(2), dmx.Length)
	assert.Equal(t, byte(0xAA), dmx.Data[0])
	assert.Equal(t, byte(0xBB), dmx.Data[1])
	assert.Equal(t, byte(0), dmx.Data[2])
}

func TestParseDMXPacketOversizeLength(t *testing.T) {
	var data [DMXUniverseSize]byte
	buf := BuildDMXPacket(0, 0, 0, &data)

	// a claimed channel count past 512 is reported as sent; only the copy
	// into Data is bounded to one universe
	buf[16] = 0x08
	buf[17] = 0x00

	_, pkt, err := ParsePacket(buf)
	require.NoError(t, err)
	dmx := pkt.(*DMXPacket)
	assert.Equal(t, uint16(0x800), dmx.Length)
}

func samplePollReply() *PollReplyPacket {
	pkt := &PollReplyPacket{
		IPAddress: [4]byte{192, 168, 1, 205},
		Port:      Port,
		VersInfo:  1,
		NetSwitch: 3,
		SubSwitch: 1,
		Oem:       oemCode,
		EstaMan:   estaCode,
		NumPorts:  4,
		PortTypes: [4]byte{0x80, 0x80, 0xC0, 0x40},
		SwIn:      [4]byte{0, 0, 2, 3},
		SwOut:     [4]byte{0, 1, 2, 0},
		Style:     StyleNode,
		MAC:       [6]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
		BindIP:    [4]byte{192, 168, 1, 205},
		BindIndex: 1,
		Status2:   status2PortAddr15,
	}
	copy(pkt.PortName[:], "QLC+")
	copy(pkt.LongName[:], "Q Light Controller Plus")
	copy(pkt.NodeReport[:], "#0001 [0007] Debug OK")
	return pkt
}

func TestPollReplyRoundTrip(t *testing.T) {
	pkt := samplePollReply()
	buf := pkt.Marshal()
	require.Len(t, buf, pollReplyPacketSize)

	op, parsed, err := ParsePacket(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(OpPollReply), op)
	assert.Equal(t, pkt, parsed.(*PollReplyPacket))

	// re-encoding the decoded packet reproduces the bytes
	assert.Equal(t, buf, parsed.(*PollReplyPacket).Marshal())
}

func TestPollReplyOptionalTail(t *testing.T) {
	full := samplePollReply()
	buf := full.Marshal()

	// Truncated at the mandatory region: optional fields decode to zero.
	_, parsed, err := ParsePacket(buf[:10+replyMandatoryLen])
	require.NoError(t, err)
	pkt := parsed.(*PollReplyPacket)
	assert.Equal(t, [4]byte{}, pkt.BindIP)
	assert.Equal(t, uint8(0), pkt.BindIndex)
	assert.Equal(t, uint8(0), pkt.Status2)
	assert.Equal(t, full.PortTypes, pkt.PortTypes)
	assert.Equal(t, full.MAC, pkt.MAC)

	// One byte short of the mandatory region is malformed.
	_, _, err = ParsePacket(buf[:10+replyMandatoryLen-1])
	assert.ErrorIs(t, err, ErrPacketTooShort)

	// BindIP+BindIndex present, everything later absent.
	_, parsed, err = ParsePacket(buf[:10+202])
	require.NoError(t, err)
	pkt = parsed.(*PollReplyPacket)
	assert.Equal(t, full.BindIP, pkt.BindIP)
	assert.Equal(t, full.BindIndex, pkt.BindIndex)
	assert.Equal(t, uint8(0), pkt.Status2)
}

func TestParsePacketErrors(t *testing.T) {
	_, _, err := ParsePacket([]byte("Art-Net"))
	assert.ErrorIs(t, err, ErrPacketTooShort)

	_, _, err = ParsePacket([]byte("Art-Nxt\x00\x00\x20\x00\x0E\x02\x10"))
	assert.ErrorIs(t, err, ErrInvalidHeader)

	op, _, err := ParsePacket([]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00, 0x00, 0x99})
	assert.ErrorIs(t, err, ErrUnknownOpCode)
	assert.Equal(t, uint16(0x9900), op)
}

func TestTrimNul(t *testing.T) {
	assert.Equal(t, "QLC+", trimNul([]byte("QLC+\x00\x00\x00")))
	assert.Equal(t, "abc", trimNul([]byte("abc")))
	assert.Equal(t, "", trimNul([]byte{0, 'x'}))
}

func FuzzPollReplyRoundTrip(f *testing.F) {
	f.Add(samplePollReply().Marshal())
	f.Add(BuildPollPacket())
	f.Add([]byte("Art-Net\x00"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, input []byte) {
		op, pkt, err := ParsePacket(input)
		if err != nil || op != OpPollReply {
			return
		}
		reply := pkt.(*PollReplyPacket)
		buf := reply.Marshal()
		_, pkt2, err := ParsePacket(buf)
		if err != nil {
			t.Fatalf("re-parse of marshaled reply failed: %v", err)
		}
		if *pkt2.(*PollReplyPacket) != *reply {
			t.Fatalf("roundtrip mismatch: %+v != %+v", pkt2, reply)
		}
	})
}

func FuzzParsePortAddress(f *testing.F) {
	f.Add("0:0:0")
	f.Add("3:1:5")
	f.Add("127:15:15")
	f.Add("128:0:0")
	f.Add("0")
	f.Add("32767")
	f.Add("32768")
	f.Add("")
	f.Add("a:b:c")
	f.Add("-1")

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParsePortAddress(input)
		if err != nil {
			return
		}
		if !addr.Valid() {
			t.Fatalf("parse accepted invalid address %d from %q", addr, input)
		}
		s := addr.String()
		addr2, err := ParsePortAddress(s)
		if err != nil {
			t.Fatalf("roundtrip failed: parsed %q -> %v -> %q, but re-parse failed: %v", input, addr, s, err)
		}
		if addr != addr2 {
			t.Fatalf("roundtrip mismatch: %v != %v", addr, addr2)
		}
	})
}
