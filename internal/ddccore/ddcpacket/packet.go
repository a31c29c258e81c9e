// Package ddcpacket implements the DDC/CI wire framing: pure,
// allocation-light encode/decode functions with no I/O and no retry
// logic of their own. ddcpacket is exhaustively unit tested against
// round-trip and checksum invariants, since every higher layer
// depends on this codec being exactly right.
package ddcpacket

import (
	"fmt"

	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// Well-known bus addresses.
const (
	HostAddress    byte = 0x51
	MonitorAddress byte = 0x6E

	// virtual XOR seeds used in the checksum even though the seed byte
	// itself is never transmitted.
	outboundSeed byte = 0x51
	inboundSeed  byte = 0x50

	// MaxPayload is the largest payload a single packet may carry.
	MaxPayload = 32
)

// PacketType enumerates the opcodes
type PacketType byte

const (
	VCPRequest           PacketType = 0x01
	VCPReply             PacketType = 0x02
	VCPSet               PacketType = 0x03
	TimingReply          PacketType = 0x06
	TimingRequest        PacketType = 0x07
	SaveSettings         PacketType = 0xE2
	CapabilitiesReply    PacketType = 0xE3
	TableWrite           PacketType = 0xE4
	TableReadRequest     PacketType = 0xE5
	IdentificationReq    PacketType = 0xE6
	CapabilitiesRequest  PacketType = 0xF3
)

// Packet is the parsed representation of one DDC/CI frame. Source and
// Dest are the logical addresses (0x51 host / 0x6E monitor); Type is
// the opcode, carried as the first byte of Payload per the wire
// format, and also exposed as a field for convenience.
type Packet struct {
	Type    PacketType
	Source  byte
	Dest    byte
	Payload []byte // opcode byte included, i.e. Payload[0] == byte(Type)
}

// Encode serializes a Packet onto the wire:
// dest | (0x80|len) | payload... | checksum.
// The checksum XORs every preceding byte on the wire, including a
// virtual source byte that is never itself transmitted (0x51 for
// host-originated packets, 0x50 for monitor-originated replies).
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) == 0 {
		return nil, ddcerr.New(ddcerr.InvalidArgument, "ddcpacket.Encode", "payload must include the opcode byte")
	}
	if len(p.Payload) > MaxPayload {
		return nil, ddcerr.New(ddcerr.InvalidArgument, "ddcpacket.Encode", fmt.Sprintf("payload length %d exceeds %d", len(p.Payload), MaxPayload))
	}

	seed := seedFor(p.Source)

	out := make([]byte, 0, 2+len(p.Payload)+1)
	out = append(out, p.Dest)
	out = append(out, 0x80|byte(len(p.Payload)))
	out = append(out, p.Payload...)

	cksum := seed
	for _, b := range out {
		cksum ^= b
	}
	out = append(out, cksum)

	return out, nil
}

// Decode parses a wire frame. src is the logical source address the
// caller expects (HostAddress when decoding a request one is about
// to send for self-check, MonitorAddress when decoding a monitor
// reply) — it determines which virtual seed is used and what
// destination is expected on the wire.
func Decode(wire []byte, src byte) (Packet, error) {
	if len(wire) < 3 {
		return Packet{}, ddcerr.New(ddcerr.ShortRead, "ddcpacket.Decode", "frame shorter than minimum 3 bytes")
	}

	dest := wire[0]
	lenByte := wire[1]
	if lenByte&0x80 == 0 {
		return Packet{}, ddcerr.New(ddcerr.InvalidResponse, "ddcpacket.Decode", "length byte missing high bit")
	}
	payloadLen := int(lenByte & 0x7F)

	expected := 2 + payloadLen + 1
	if len(wire) != expected {
		return Packet{}, ddcerr.New(ddcerr.InvalidResponse, "ddcpacket.Decode", fmt.Sprintf("length mismatch: frame=%d expected=%d", len(wire), expected))
	}

	payload := wire[2 : 2+payloadLen]
	gotChecksum := wire[len(wire)-1]

	seed := seedFor(src)
	cksum := seed
	for _, b := range wire[:len(wire)-1] {
		cksum ^= b
	}
	if cksum != gotChecksum {
		return Packet{}, ddcerr.New(ddcerr.ChecksumMismatch, "ddcpacket.Decode", "checksum mismatch")
	}

	if want := expectedDest(src); dest != want {
		return Packet{}, ddcerr.New(ddcerr.UnexpectedDestination, "ddcpacket.Decode",
			fmt.Sprintf("destination 0x%02x, want 0x%02x for source 0x%02x", dest, want, src))
	}

	if payloadLen == 0 {
		// Zero-length payload is the "null response" signal for
		// "feature unsupported"; it has no opcode byte to read.
		return Packet{Source: src, Dest: dest, Payload: nil}, nil
	}

	return Packet{
		Type:    PacketType(payload[0]),
		Source:  src,
		Dest:    dest,
		Payload: payload,
	}, nil
}

func seedFor(src byte) byte {
	if src == HostAddress {
		return outboundSeed
	}
	return inboundSeed
}

// expectedDest is the wire destination byte a frame must carry for
// the given logical source: a host-originated frame is always
// addressed to the monitor, and a monitor reply is always addressed
// back to the host.
func expectedDest(src byte) byte {
	if src == HostAddress {
		return MonitorAddress
	}
	return HostAddress
}

// IsNullResponse reports whether a decoded Packet is the zero-length
// "unsupported feature" signal.
func IsNullResponse(p Packet) bool {
	return len(p.Payload) == 0
}
