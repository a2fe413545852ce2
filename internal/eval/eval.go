// Package eval implements the PDV Evaluator (spec section 4.5): from a
// paired send/receive timestamp array it reconstructs per-frame latency,
// clips and counts clock-skew artifacts, and reports either a late-frame
// count or the full Dmin/Dmax/D99.9/PDV distribution, converted to
// milliseconds via the run's tsc.Clock frequency.
//
// Evaluate is a pure function — no I/O, no goroutines — mirroring the
// reference implementation's free-standing evaluatePdv.
package eval

import "sort"

// Result holds the evaluator's output. Which fields are meaningful depends
// on Mode.
type Result struct {
	Mode Mode

	// NumCorrected counts frames whose raw latency was negative (clock skew
	// across cores) and was clipped to zero (spec section 4.5).
	NumCorrected int

	// FramesLost counts frames that never arrived before the deadline
	// (receive_ts == 0).
	FramesLost int

	// FramesReceived is populated only in ModeLateFrameCounting: the number
	// of frames whose latency was at or under the configured timeout.
	FramesReceived int

	// DminMs, DmaxMs, D999Ms, PDVMs are populated only in ModeFullPDV, all
	// in milliseconds.
	DminMs float64
	DmaxMs float64
	D999Ms float64
	PDVMs  float64
}

// Mode selects which of the evaluator's two reporting shapes Evaluate uses.
type Mode int

const (
	// ModeFullPDV computes Dmin, Dmax, D99.9, and PDV over the full sorted
	// latency distribution. Selected when frameTimeoutMs == 0.
	ModeFullPDV Mode = iota

	// ModeLateFrameCounting counts frames whose latency fell at or under
	// frameTimeoutMs instead of computing percentiles. Selected when
	// frameTimeoutMs > 0.
	ModeLateFrameCounting
)

// Evaluate reconstructs per-frame latency from sendTS and receiveTS (both
// indexed by frame counter, length F) and reports it per spec section 4.5.
//
//   - hz is the clock frequency (tsc.Clock.Hz()) used to convert cycle
//     counts to milliseconds.
//   - frameTimeoutMs is the CLI's frame_timeout parameter: 0 selects
//     ModeFullPDV; a positive value selects ModeLateFrameCounting with that
//     threshold.
//   - penaltyMs is the fixed latency substituted for a frame that never
//     arrived. The substituted value takes part in late-frame counting and,
//     in ModeFullPDV, in Dmin/Dmax/D99.9 like any measured latency; each
//     such frame is also counted in FramesLost.
//
// sendTS and receiveTS must have equal, non-zero length; Evaluate panics
// otherwise, since this is a programming error in the conductor, not a
// runtime condition the evaluator itself can recover from.
func Evaluate(sendTS, receiveTS []uint64, hz uint64, frameTimeoutMs, penaltyMs float64) Result {
	if len(sendTS) != len(receiveTS) {
		panic("eval: sendTS and receiveTS length mismatch")
	}
	if len(sendTS) == 0 {
		panic("eval: empty timestamp arrays")
	}

	f := len(sendTS)
	frameTimeoutCycles := msToCycles(frameTimeoutMs, hz)
	penaltyCycles := msToCycles(penaltyMs, hz)

	latency := make([]int64, f)
	numCorrected := 0
	framesLost := 0

	for i := 0; i < f; i++ {
		if receiveTS[i] != 0 {
			d := int64(receiveTS[i]) - int64(sendTS[i])
			if d < 0 {
				d = 0
				numCorrected++
			}
			latency[i] = d
		} else {
			latency[i] = int64(penaltyCycles)
			framesLost++
		}
	}

	if frameTimeoutMs > 0 {
		framesReceived := 0
		for _, l := range latency {
			if l <= int64(frameTimeoutCycles) {
				framesReceived++
			}
		}
		return Result{
			Mode:           ModeLateFrameCounting,
			NumCorrected:   numCorrected,
			FramesLost:     framesLost,
			FramesReceived: framesReceived,
		}
	}

	dmin, dmax := latency[0], latency[0]
	for _, l := range latency {
		if l < dmin {
			dmin = l
		}
		if l > dmax {
			dmax = l
		}
	}

	sorted := make([]int64, f)
	copy(sorted, latency)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := ceilDiv(999*f, 1000) - 1
	if idx < 0 {
		idx = 0
	}
	d999 := sorted[idx]

	return Result{
		Mode:         ModeFullPDV,
		NumCorrected: numCorrected,
		FramesLost:   framesLost,
		DminMs:       cyclesToMs(uint64(dmin), hz),
		DmaxMs:       cyclesToMs(uint64(dmax), hz),
		D999Ms:       cyclesToMs(uint64(d999), hz),
		PDVMs:        cyclesToMs(uint64(d999-dmin), hz),
	}
}

// ceilDiv returns ceil(a/b) for positive integers, used for the
// ceil(0.999*F) percentile index (spec section 4.5: "D99.9 =
// latency[ceil(0.999*F)-1]").
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func msToCycles(ms float64, hz uint64) uint64 {
	return uint64(ms * float64(hz) / 1000)
}

func cyclesToMs(cycles uint64, hz uint64) float64 {
	return 1000 * float64(cycles) / float64(hz)
}
