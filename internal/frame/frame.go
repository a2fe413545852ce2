// Package frame builds the preformed IPv4/IPv6/UDP test frames spec
// section 4.1 describes (the Frame Factory) and exposes the O(1) per-frame
// stamping operation the Rate-Paced Sender drives on its hot path.
//
// Frames are serialized exactly once, at template-build time, using
// gopacket/layers — the same one-shot serialize-then-patch shape the pim
// sender in the example corpus uses for its own checksum-bearing packets.
// The hot path (Stamp) never touches gopacket again; it only overwrites the
// 8-byte counter slot and the 2-byte checksum field in an already-built
// buffer.
package frame

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/lencse/siitperf-go/internal/checksum"
)

// Class distinguishes foreground frames (the IP version under test, routed
// through the DUT's translation path) from background frames (always IPv6,
// exercising the DUT's non-translating path concurrently).
type Class int

const (
	Foreground Class = iota
	Background
)

func (c Class) String() string {
	if c == Background {
		return "background"
	}
	return "foreground"
}

// IPVersion selects the foreground IP version under measurement.
// Background frames are always IPv6 regardless of IPVersion.
type IPVersion int

const (
	V4 IPVersion = 4
	V6 IPVersion = 6
)

// Wire layout constants (spec section 3: "Absolute offsets used by the
// receiver's fast path").
const (
	EthernetHeaderLen = 14
	IPv4HeaderLen     = 20
	IPv6HeaderLen     = 40
	UDPHeaderLen      = 8

	// MagicLen and CounterLen are the fixed-size fields at the start of
	// every test frame's UDP payload.
	MagicLen   = 8
	CounterLen = 8

	// MinPayloadLen is the smallest payload that can hold the magic and
	// the counter slot with no filler.
	MinPayloadLen = MagicLen + CounterLen

	offsetIPv4Checksum = EthernetHeaderLen + IPv4HeaderLen + 6
	offsetIPv4Magic    = EthernetHeaderLen + IPv4HeaderLen + UDPHeaderLen
	offsetIPv4Counter  = offsetIPv4Magic + MagicLen

	offsetIPv6Checksum = EthernetHeaderLen + IPv6HeaderLen + 6
	offsetIPv6Magic    = EthernetHeaderLen + IPv6HeaderLen + UDPHeaderLen
	offsetIPv6Counter  = offsetIPv6Magic + MagicLen

	// Exported aliases of the receiver's fast-path offsets (spec section 3):
	// IPv4 magic at 42 / counter at 50; IPv6 magic at 62 / counter at 70.
	V4MagicOffset   = offsetIPv4Magic
	V4CounterOffset = offsetIPv4Counter
	V6MagicOffset   = offsetIPv6Magic
	V6CounterOffset = offsetIPv6Counter
)

// Magic is the 8-byte "IDENTIFY" signature every test frame payload starts
// with (spec section 3).
var Magic = [MagicLen]byte{'I', 'D', 'E', 'N', 'T', 'I', 'F', 'Y'}

// testPort is the fixed UDP port pair test frames use. The classifier
// receiver never inspects ports — classification runs entirely off
// EtherType, next-header/protocol, and the magic — so any fixed value
// works; it exists only so the UDP header is well-formed.
const testPort = 50000

// Params describes one frame template to build.
type Params struct {
	IPVersion IPVersion
	Class     Class

	// FrameSize is the configured on-wire frame length including the
	// 4-byte FCS the NIC appends (spec section 3: "the CRC byte count (4)
	// is excluded from the configured frame length when computing IP/UDP
	// lengths"). The buffer Build returns is FrameSize-4 bytes.
	FrameSize int

	TesterMAC net.HardwareAddr
	DUTMAC    net.HardwareAddr

	SourceIP netip.Addr
	DestIP   netip.Addr
}

// Template is a single preformed frame buffer plus the metadata the
// checksum patcher and sender need to stamp a counter into it in O(1).
type Template struct {
	Buf []byte

	// UncomplementedChecksum is the pre-complement checksum sum captured
	// once at build time, with the counter slot zeroed (spec section 4.2).
	UncomplementedChecksum uint16

	counterOffset  int
	checksumOffset int
}

// CounterOffset returns the byte offset of the 8-byte counter slot within
// Buf.
func (t *Template) CounterOffset() int { return t.counterOffset }

// Stamp writes counter into the template's counter slot and patches the UDP
// checksum in place (spec section 4.3, steps 4-5). It performs no
// allocation and touches only the 8 counter bytes and the 2 checksum bytes.
func (t *Template) Stamp(counter uint64) {
	binary.LittleEndian.PutUint64(t.Buf[t.counterOffset:t.counterOffset+8], counter)

	newChecksum := checksum.Patch(t.UncomplementedChecksum, counter)
	binary.BigEndian.PutUint16(t.Buf[t.checksumOffset:t.checksumOffset+2], newChecksum)
}

// Counter reads back the counter slot, used by tests and by the classifier
// receiver's reference/loopback path.
func (t *Template) Counter() uint64 {
	return binary.LittleEndian.Uint64(t.Buf[t.counterOffset : t.counterOffset+8])
}

// payloadBytes returns the fixed magic + zero counter + filler payload for
// a template of the given total payload length.
func payloadBytes(payloadLen int) []byte {
	buf := make([]byte, payloadLen)
	copy(buf[0:MagicLen], Magic[:])
	// Counter slot (buf[8:16]) starts zeroed; Stamp overwrites it later.
	for i := MinPayloadLen; i < payloadLen; i++ {
		buf[i] = byte((i - MinPayloadLen) % 256)
	}
	return buf
}

// Build serializes one frame template with gopacket/layers and captures the
// offsets and baseline checksum the hot path needs. This is the Frame
// Factory's one-time, non-hot-path use of gopacket (spec section 4.1).
func Build(p Params) (*Template, error) {
	wireLen := p.FrameSize - 4
	if wireLen <= 0 {
		return nil, fmt.Errorf("frame: frame size %d too small after FCS", p.FrameSize)
	}

	var ipHeaderLen int
	switch p.IPVersion {
	case V4:
		ipHeaderLen = IPv4HeaderLen
	case V6:
		ipHeaderLen = IPv6HeaderLen
	default:
		return nil, fmt.Errorf("frame: unsupported IP version %d", p.IPVersion)
	}

	payloadLen := wireLen - EthernetHeaderLen - ipHeaderLen - UDPHeaderLen
	if payloadLen < MinPayloadLen {
		return nil, fmt.Errorf("frame: frame size %d leaves no room for a %d-byte payload (ipv%d)",
			p.FrameSize, MinPayloadLen, p.IPVersion)
	}

	eth := &layers.Ethernet{
		SrcMAC: p.TesterMAC,
		DstMAC: p.DUTMAC,
	}

	udp := &layers.UDP{
		SrcPort: testPort,
		DstPort: testPort,
	}

	payload := gopacket.Payload(payloadBytes(payloadLen))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var (
		checksumOffset int
		counterOffset  int
		err            error
	)

	switch p.IPVersion {
	case V4:
		eth.EthernetType = layers.EthernetTypeIPv4
		ip4 := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    p.SourceIP.AsSlice(),
			DstIP:    p.DestIP.AsSlice(),
		}
		if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, fmt.Errorf("frame: set checksum network layer: %w", err)
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip4, udp, payload)
		checksumOffset = offsetIPv4Checksum
		counterOffset = offsetIPv4Counter
	case V6:
		eth.EthernetType = layers.EthernetTypeIPv6
		ip6 := &layers.IPv6{
			Version:    6,
			NextHeader: layers.IPProtocolUDP,
			HopLimit:   64,
			SrcIP:      p.SourceIP.AsSlice(),
			DstIP:      p.DestIP.AsSlice(),
		}
		if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
			return nil, fmt.Errorf("frame: set checksum network layer: %w", err)
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip6, udp, payload)
		checksumOffset = offsetIPv6Checksum
		counterOffset = offsetIPv6Counter
	}
	if err != nil {
		return nil, fmt.Errorf("frame: serialize: %w", err)
	}

	wire := make([]byte, len(buf.Bytes()))
	copy(wire, buf.Bytes())

	onWire := binary.BigEndian.Uint16(wire[checksumOffset : checksumOffset+2])

	return &Template{
		Buf:                    wire,
		UncomplementedChecksum: checksum.Uncomplement(onWire),
		counterOffset:          counterOffset,
		checksumOffset:         checksumOffset,
	}, nil
}

// PerturbDest returns dest with its network-index octet set to
// networkIndex, per spec section 3's destination fanout rule: the IPv4
// third octet (bits 16..23), or the IPv6 eighth octet (bits 56..63).
// networkIndex must be in [0,256).
//
// This always writes the octet, including for networkIndex 0: per the
// reference implementation (pdv.c's curr_dst_ipv4 perturbation loop),
// index 0 is just another fanout destination, not an identity case.
// Callers that want the unperturbed base address when fanout is disabled
// (numDestNets == 1) must skip calling PerturbDest entirely rather than
// rely on networkIndex == 0 to mean "don't touch it".
func PerturbDest(dest netip.Addr, version IPVersion, networkIndex int) netip.Addr {
	b := dest.As16()
	if dest.Is4() {
		a4 := dest.As4()
		a4[2] = byte(networkIndex)
		return netip.AddrFrom4(a4)
	}

	b[7] = byte(networkIndex)
	return netip.AddrFrom16(b)
}
