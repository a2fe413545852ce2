package pktio_test

import (
	"bytes"
	"testing"

	"github.com/lencse/siitperf-go/internal/pktio"
)

func TestLoopbackRoundTripIdentity(t *testing.T) {
	t.Parallel()

	a, b := pktio.NewLoopbackPair(8)

	sent := [][]byte{
		[]byte("frame one"),
		[]byte("frame two"),
		[]byte("frame three"),
	}

	accepted, err := a.TxBurst(sent)
	if err != nil {
		t.Fatalf("TxBurst() error: %v", err)
	}
	if accepted != len(sent) {
		t.Fatalf("TxBurst() accepted = %d, want %d", accepted, len(sent))
	}

	recvBufs := make([][]byte, len(sent))
	received, err := b.RxBurst(recvBufs)
	if err != nil {
		t.Fatalf("RxBurst() error: %v", err)
	}
	if received != len(sent) {
		t.Fatalf("RxBurst() received = %d, want %d", received, len(sent))
	}

	for i := range sent {
		if !bytes.Equal(recvBufs[i], sent[i]) {
			t.Errorf("frame %d = %q, want %q", i, recvBufs[i], sent[i])
		}
	}
}

func TestLoopbackRxBurstEmptyIsNotError(t *testing.T) {
	t.Parallel()

	a, b := pktio.NewLoopbackPair(4)
	_ = a

	got, err := b.RxBurst(make([][]byte, 4))
	if err != nil {
		t.Fatalf("RxBurst() on empty queue error: %v", err)
	}
	if got != 0 {
		t.Errorf("RxBurst() = %d, want 0", got)
	}
}

func TestLoopbackTxBurstBackpressure(t *testing.T) {
	t.Parallel()

	a, _ := pktio.NewLoopbackPair(2)

	bufs := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	accepted, err := a.TxBurst(bufs)
	if err != nil {
		t.Fatalf("TxBurst() error: %v", err)
	}
	if accepted != 2 {
		t.Errorf("TxBurst() accepted = %d, want 2 (queue capacity)", accepted)
	}
}

func TestLoopbackBidirectional(t *testing.T) {
	t.Parallel()

	a, b := pktio.NewLoopbackPair(4)

	if _, err := a.TxBurst([][]byte{[]byte("a-to-b")}); err != nil {
		t.Fatalf("a.TxBurst() error: %v", err)
	}
	if _, err := b.TxBurst([][]byte{[]byte("b-to-a")}); err != nil {
		t.Fatalf("b.TxBurst() error: %v", err)
	}

	bBuf := make([][]byte, 1)
	if n, err := b.RxBurst(bBuf); err != nil || n != 1 {
		t.Fatalf("b.RxBurst() = %d, %v, want 1, nil", n, err)
	}
	if string(bBuf[0]) != "a-to-b" {
		t.Errorf("b received %q, want %q", bBuf[0], "a-to-b")
	}

	aBuf := make([][]byte, 1)
	if n, err := a.RxBurst(aBuf); err != nil || n != 1 {
		t.Fatalf("a.RxBurst() = %d, %v, want 1, nil", n, err)
	}
	if string(aBuf[0]) != "b-to-a" {
		t.Errorf("a received %q, want %q", aBuf[0], "b-to-a")
	}
}
