// Package sender implements the Rate-Paced Sender (spec section 4.3): it
// emits duration*frame_rate frames on one TX queue, busy-spin paced against
// a hardware-clock epoch, recording the emission timestamp of every frame
// in a preallocated array indexed by the frame's own sequence counter.
package sender

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/lencse/siitperf-go/internal/frame"
	"github.com/lencse/siitperf-go/internal/pktio"
	"github.com/lencse/siitperf-go/internal/tsc"
)

// Tolerance is the compile-time wall-time slack spec section 4.3 allows
// before a run is declared invalid ("duration * TOLERANCE ... a compile-time
// slack, e.g., 1.0 + small epsilon").
const Tolerance = 1.05

// ErrTimingInvalid indicates the sender's wall-clock elapsed time exceeded
// duration*Tolerance — a category-4 temporal failure (spec section 7).
var ErrTimingInvalid = errors.New("sender: elapsed wall time exceeded tolerance")

// Config bundles everything one sender goroutine needs to run one
// direction's transmit side.
type Config struct {
	Templates *frame.TemplateSet

	// ClassN and ClassM are the foreground/background mix parameters: frame
	// s is foreground iff s mod ClassN < ClassM.
	ClassN int
	ClassM int

	// NumFrames is F = duration * frame_rate, the total frame count.
	NumFrames uint64

	// FrameRate is the configured frames-per-second pacing target.
	FrameRate uint64

	Clock tsc.Clock
	IO    pktio.PacketIO

	// StartTSC is the shared run epoch every sender/receiver paces against,
	// set once by the conductor before any core launches.
	StartTSC uint64
}

// newRNG returns a thread-local PRNG seeded non-deterministically, the Go
// equivalent of "a thread-local 64-bit Mersenne-Twister seeded from a
// non-deterministic device" (spec section 4.3, step 2; section 9 design
// note). One instance per sender goroutine; never shared.
func newRNG() (*rand.Rand, error) {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("sender: seed PRNG: %w", err)
	}
	s1 := binary.LittleEndian.Uint64(seed[0:8])
	s2 := binary.LittleEndian.Uint64(seed[8:16])
	return rand.New(rand.NewPCG(s1, s2)), nil
}

// Run executes the sender's full algorithm and returns send_ts[0..F), the
// emission timestamp of every frame indexed by its own counter.
//
// Run locks its goroutine to its own OS thread for the whole loop, the Go
// analogue of the reference implementation's remote-core launch onto a
// dedicated lcore (SPEC_FULL.md section 4.3); the thread is not pinned to a
// specific CPU core.
func Run(cfg Config) ([]uint64, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rng, err := newRNG()
	if err != nil {
		return nil, err
	}

	numDestNets := cfg.Templates.NumNetworks(frame.Foreground)

	sendTS := make([]uint64, cfg.NumFrames)
	hz := cfg.Clock.Hz()

	for s := uint64(0); s < cfg.NumFrames; s++ {
		class := frame.Background
		if int(s%uint64(cfg.ClassN)) < cfg.ClassM {
			class = frame.Foreground
		}

		network := 0
		if numDestNets > 1 {
			network = rng.IntN(numDestNets)
		}

		rotation := int(s % uint64(cfg.Templates.N))
		tmpl := cfg.Templates.Template(class, network, rotation)
		tmpl.Stamp(s)

		gate := cfg.StartTSC + s*hz/cfg.FrameRate
		for cfg.Clock.Now() < gate {
			// Busy-spin: no sleep, no yield (spec section 5).
		}

		bufs := [][]byte{tmpl.Buf}
		for {
			accepted, err := cfg.IO.TxBurst(bufs)
			if err != nil {
				return sendTS, fmt.Errorf("sender: tx_burst: %w", err)
			}
			if accepted > 0 {
				break
			}
			// Busy-retry (spec section 4.3, step 7).
		}

		sendTS[s] = cfg.Clock.Now()
	}

	if cfg.NumFrames > 0 {
		duration := float64(cfg.NumFrames) / float64(cfg.FrameRate)
		elapsedCycles := sendTS[cfg.NumFrames-1] - cfg.StartTSC
		elapsedSeconds := float64(elapsedCycles) / float64(hz)
		if elapsedSeconds > duration*Tolerance {
			return sendTS, fmt.Errorf("%w: elapsed %.3fs exceeds %.3fs*%.3f tolerance",
				ErrTimingInvalid, elapsedSeconds, duration, Tolerance)
		}
	}

	return sendTS, nil
}
