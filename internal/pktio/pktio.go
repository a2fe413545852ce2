// Package pktio defines the poll-mode packet I/O collaborator spec
// section 6 describes: alloc, tx_burst, rx_burst, free, over whatever
// transport backs a given run. The reference implementation links directly
// against a NIC driver's poll-mode ring API; a Go team cannot do that
// portably, so this package makes the interface itself a first-class,
// grounded component with two implementations: a Linux AF_PACKET raw socket
// (afpacket_linux.go) and an in-process loopback queue for tests
// (loopback.go).
package pktio

import "errors"

// MaxBurst is the burst size the classifier's drain loop hands to RxBurst
// (receiver.MaxBurst mirrors it), matching the common DPDK default.
// TxBurst and RxBurst implementations move up to len(bufs) frames per call
// and do not enforce this limit themselves.
const MaxBurst = 32

// ErrAllocFailed indicates the packet pool is exhausted. Spec section 4.1:
// "Allocation failure is fatal."
var ErrAllocFailed = errors.New("pktio: buffer allocation failed")

// PacketIO is the poll-mode packet interface the sender and receiver
// consume (spec section 6: "alloc(pool) -> buf, tx_burst(port, queue, bufs,
// n) -> accepted, rx_burst(port, queue, bufs, max) -> received, free(buf)").
type PacketIO interface {
	// Alloc returns a driver-owned buffer of at least size bytes, or
	// ErrAllocFailed.
	Alloc(size int) ([]byte, error)

	// Free releases a buffer obtained from Alloc back to the pool.
	Free(buf []byte)

	// TxBurst attempts to enqueue bufs for transmission and returns how many
	// were accepted, starting from index 0. A partial or zero result means
	// the caller must busy-retry with the remaining slice (spec section 4.3,
	// step 7: "busy-retry tx_burst... until it accepts the frame").
	TxBurst(bufs [][]byte) (accepted int, err error)

	// RxBurst fills bufs (reusing its backing arrays where possible) with up
	// to len(bufs) received frames and returns how many arrived. A result of
	// 0 is not an error; it means nothing was waiting, and the caller
	// busy-polls again (spec section 4.4: burst-drain until the global
	// deadline).
	RxBurst(bufs [][]byte) (received int, err error)

	// Close releases the underlying transport.
	Close() error
}
