//go:build linux

package pktio

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

// AFPacket is the Linux transport for PacketIO: a SOCK_RAW/AF_PACKET socket
// bound to one interface by ifindex, set non-blocking so TxBurst/RxBurst
// never suspend the caller — the hot-path contract spec section 5 requires
// ("no suspension points inside the hot loops"). Socket setup binds to the
// interface's ifindex with bind(2) on a link-layer address and, for
// promiscuous mode, adds a PACKET_MR_PROMISC membership via setsockopt; no
// UDP/IP stack is involved.
type AFPacket struct {
	fd      int
	ifIndex int

	mu sync.Mutex
}

// NewAFPacket opens a raw AF_PACKET socket bound to ifName. When promisc is
// true the interface is switched into promiscuous mode so the receiver also
// observes frames addressed to other link-layer destinations — needed when
// the DUT translates the destination MAC of returning frames.
func NewAFPacket(ifName string, promisc bool) (*AFPacket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("pktio: socket(AF_PACKET): %w", err)
	}

	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pktio: interface %s: %w", ifName, err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pktio: set non-blocking: %w", err)
	}

	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("pktio: bind to %s: %w", ifName, err)
	}

	if promisc {
		mreq := unix.PacketMreq{
			Ifindex: int32(iface.Index),
			Type:    unix.PACKET_MR_PROMISC,
		}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("pktio: set promiscuous on %s: %w", ifName, err)
		}
	}

	return &AFPacket{fd: fd, ifIndex: iface.Index}, nil
}

// Alloc returns a zeroed buffer of size bytes. AF_PACKET has no driver-owned
// descriptor pool to draw from at the socket layer, so this is a plain
// allocation; ErrAllocFailed is reserved for an exhausted fixed-size pool,
// which a future ring-backed implementation could introduce without
// changing the PacketIO contract.
func (a *AFPacket) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Free is a no-op; the buffer is collected once unreferenced.
func (a *AFPacket) Free(buf []byte) {}

// TxBurst writes bufs one at a time via non-blocking Write calls, accepting
// as many as the kernel socket buffer allows before returning EAGAIN. This
// models tx_burst as a bounded per-call loop rather than a true hardware
// ring, per SPEC_FULL.md's poll-mode I/O expansion.
func (a *AFPacket) TxBurst(bufs [][]byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, buf := range bufs {
		n, err := unix.Write(a.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return i, nil
			}
			return i, fmt.Errorf("pktio: write: %w", err)
		}
		if n != len(buf) {
			return i, fmt.Errorf("pktio: short write: %d of %d bytes", n, len(buf))
		}
	}
	return len(bufs), nil
}

// RxBurst reads up to len(bufs) frames via non-blocking Read calls. A
// result of 0 with a nil error means nothing was waiting.
func (a *AFPacket) RxBurst(bufs [][]byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for n < len(bufs) {
		buf := bufs[n]
		if buf == nil {
			buf = make([]byte, 2048)
		}
		buf = buf[:cap(buf)]
		read, err := unix.Read(a.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return n, nil
			}
			return n, fmt.Errorf("pktio: read: %w", err)
		}
		bufs[n] = buf[:read]
		n++
	}
	return n, nil
}

// Close releases the underlying socket.
func (a *AFPacket) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := unix.Close(a.fd); err != nil {
		return fmt.Errorf("pktio: close: %w", err)
	}
	return nil
}

// htons converts a 16-bit value from host to network byte order, needed
// because AF_PACKET protocol numbers are specified in network byte order
// while Go integer literals are host-order.
func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | v>>8
}

var _ PacketIO = (*AFPacket)(nil)
