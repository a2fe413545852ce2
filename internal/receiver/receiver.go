// Package receiver implements the Classifier Receiver (spec section 4.4):
// it burst-drains the RX queue until a global deadline, identifies test
// frames by their magic signature, and stores the arrival timestamp at the
// slot indexed by the frame's own counter.
package receiver

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"github.com/google/gopacket/layers"

	"github.com/lencse/siitperf-go/internal/frame"
	"github.com/lencse/siitperf-go/internal/pktio"
	"github.com/lencse/siitperf-go/internal/tsc"
)

// MaxBurst is the largest number of frames drained from the RX queue in one
// poll, matching the common DPDK default (spec section 4.4).
const MaxBurst = pktio.MaxBurst

// ErrProtocolViolation indicates a received frame's counter is out of
// bounds for the declared frame count — spec section 3, invariant 4: "A
// frame whose counter >= frames_to_send is a protocol violation and fatal
// to the run" (it would otherwise corrupt memory by indexing past the
// timestamp array).
var ErrProtocolViolation = errors.New("receiver: frame counter exceeds declared frame count")

// Config bundles everything one receiver goroutine needs to run one
// direction's receive side.
type Config struct {
	IO    pktio.PacketIO
	Clock tsc.Clock

	// NumFrames bounds the valid counter range [0, NumFrames) and sizes the
	// returned receive_ts array.
	NumFrames uint64

	// Deadline is finish_receiving, the cycle value at which the burst-drain
	// loop exits regardless of in-flight frames (spec section 5: "the
	// receiver terminates when the cycle clock crosses finish_receiving").
	Deadline uint64
}

// Run executes the burst-drain loop and returns receive_ts[0..NumFrames),
// zero-initialized for every counter that never arrived before Deadline.
//
// Run locks its goroutine to its own OS thread for the whole loop
// (SPEC_FULL.md section 4.3/4.4 Go mapping); the thread is not pinned to a
// specific CPU core.
func Run(cfg Config) ([]uint64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	receiveTS := make([]uint64, cfg.NumFrames)
	bufs := make([][]byte, MaxBurst)

	for cfg.Clock.Now() < cfg.Deadline {
		n, err := cfg.IO.RxBurst(bufs)
		if err != nil {
			return receiveTS, fmt.Errorf("receiver: rx_burst: %w", err)
		}

		for i := 0; i < n; i++ {
			// Timestamp captured before any further processing, to minimize
			// measurement bias (spec section 4.4).
			ts := cfg.Clock.Now()
			buf := bufs[i]

			counter, ok := classify(buf)
			if !ok {
				cfg.IO.Free(buf)
				continue
			}

			if counter >= cfg.NumFrames {
				return receiveTS, fmt.Errorf("%w: counter %d, num_frames %d", ErrProtocolViolation, counter, cfg.NumFrames)
			}

			receiveTS[counter] = ts
			cfg.IO.Free(buf)
		}
	}

	return receiveTS, nil
}

// classify identifies a test frame and extracts its counter, per spec
// section 4.4's exact offsets. Any frame that doesn't match — wrong
// EtherType, wrong next-header/protocol, or a magic mismatch — is silently
// dropped, as the spec requires ("All other frames are silently dropped
// after freeing the buffer").
func classify(buf []byte) (counter uint64, ok bool) {
	if len(buf) < 14 {
		return 0, false
	}

	etherType := binary.BigEndian.Uint16(buf[12:14])

	switch etherType {
	case uint16(layers.EthernetTypeIPv4):
		if len(buf) < frame.V4CounterOffset+8 {
			return 0, false
		}
		if buf[23] != 17 {
			return 0, false
		}
		if !bytes.Equal(buf[frame.V4MagicOffset:frame.V4MagicOffset+frame.MagicLen], frame.Magic[:]) {
			return 0, false
		}
		return binary.LittleEndian.Uint64(buf[frame.V4CounterOffset : frame.V4CounterOffset+8]), true

	case uint16(layers.EthernetTypeIPv6):
		if len(buf) < frame.V6CounterOffset+8 {
			return 0, false
		}
		if buf[20] != 17 {
			return 0, false
		}
		if !bytes.Equal(buf[frame.V6MagicOffset:frame.V6MagicOffset+frame.MagicLen], frame.Magic[:]) {
			return 0, false
		}
		return binary.LittleEndian.Uint64(buf[frame.V6CounterOffset : frame.V6CounterOffset+8]), true
	}

	return 0, false
}
