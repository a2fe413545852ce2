package pktio

// Loopback is an in-process, channel-backed PacketIO with no real NIC: every
// frame handed to TxBurst on one end becomes available to RxBurst on the
// paired end. It exists for the round-trip-identity property (spec section
// 8) and for sender/receiver unit tests that need a deterministic transport
// without a bound interface.
//
// A Loopback is one end of one wire; NewLoopbackPair wires up both ends at
// once.
type Loopback struct {
	txQueue chan []byte
	rxQueue chan []byte
}

// NewLoopbackPair returns two Loopbacks representing the two ends of one
// wire: frames a.TxBurst sends arrive on b.RxBurst, and frames b.TxBurst
// sends arrive on a.RxBurst.
func NewLoopbackPair(capacity int) (a, b *Loopback) {
	aToB := make(chan []byte, capacity)
	bToA := make(chan []byte, capacity)

	a = &Loopback{txQueue: aToB, rxQueue: bToA}
	b = &Loopback{txQueue: bToA, rxQueue: aToB}
	return a, b
}

// Alloc returns a zeroed buffer of size bytes. Loopback has no fixed pool;
// allocation never fails.
func (l *Loopback) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// Free is a no-op for Loopback; Go's garbage collector owns the buffer once
// nothing references it.
func (l *Loopback) Free(buf []byte) {}

// TxBurst enqueues as many of bufs as fit without blocking, matching a
// hardware ring's "fewer than n accepted" contract under backpressure.
func (l *Loopback) TxBurst(bufs [][]byte) (int, error) {
	for i, buf := range bufs {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		select {
		case l.txQueue <- cp:
		default:
			return i, nil
		}
	}
	return len(bufs), nil
}

// RxBurst drains up to len(bufs) queued frames without blocking.
func (l *Loopback) RxBurst(bufs [][]byte) (int, error) {
	n := 0
	for n < len(bufs) {
		select {
		case frame := <-l.rxQueue:
			bufs[n] = frame
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

// Close is a no-op for Loopback.
func (l *Loopback) Close() error { return nil }

var _ PacketIO = (*Loopback)(nil)
