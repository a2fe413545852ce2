package eval_test

import (
	"math"
	"testing"

	"github.com/lencse/siitperf-go/internal/eval"
)

const hz = 1_000_000_000 // 1 GHz, matching tsc.Monotonic

func TestEvaluateFullPDVNoLoss(t *testing.T) {
	t.Parallel()

	// Scenario 1: single flow, no loss, F=2000, constant 1ms latency.
	const f = 2000
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = uint64(i) * 1_000_000 // 1ms apart
		receiveTS[i] = sendTS[i] + 1_000_000
	}

	result := eval.Evaluate(sendTS, receiveTS, hz, 0, 100)

	if result.Mode != eval.ModeFullPDV {
		t.Fatalf("Mode = %v, want ModeFullPDV", result.Mode)
	}
	if result.FramesLost != 0 {
		t.Errorf("FramesLost = %d, want 0", result.FramesLost)
	}
	if result.NumCorrected != 0 {
		t.Errorf("NumCorrected = %d, want 0", result.NumCorrected)
	}
	if math.Abs(result.DminMs-1.0) > 1e-9 {
		t.Errorf("DminMs = %v, want 1.0", result.DminMs)
	}
	if math.Abs(result.DmaxMs-1.0) > 1e-9 {
		t.Errorf("DmaxMs = %v, want 1.0", result.DmaxMs)
	}
	if result.PDVMs < 0 {
		t.Errorf("PDVMs = %v, want >= 0", result.PDVMs)
	}
}

func TestEvaluateLateFrameCounting(t *testing.T) {
	t.Parallel()

	// Scenario 2: half the frames delayed 100ms, timeout = 50ms.
	const f = 2000
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = uint64(i) * 1_000_000
		delay := uint64(1_000_000) // 1ms, on time
		if i%2 == 0 {
			delay = 100_000_000 // 100ms, late
		}
		receiveTS[i] = sendTS[i] + delay
	}

	result := eval.Evaluate(sendTS, receiveTS, hz, 50, 0)

	if result.Mode != eval.ModeLateFrameCounting {
		t.Fatalf("Mode = %v, want ModeLateFrameCounting", result.Mode)
	}
	if result.FramesReceived != 1000 {
		t.Errorf("FramesReceived = %d, want 1000", result.FramesReceived)
	}
	if result.FramesLost != 0 {
		t.Errorf("FramesLost = %d, want 0", result.FramesLost)
	}
}

func TestEvaluateLostFrame(t *testing.T) {
	t.Parallel()

	// Scenario 3: drop frame 42, full PDV mode.
	const f = 100
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = uint64(i) * 1_000_000
		receiveTS[i] = sendTS[i] + 1_000_000
	}
	receiveTS[42] = 0

	const penaltyMs = 200.0
	result := eval.Evaluate(sendTS, receiveTS, hz, 0, penaltyMs)

	if result.FramesLost != 1 {
		t.Fatalf("FramesLost = %d, want 1", result.FramesLost)
	}

	// The penalty becomes the new Dmax, since it is far larger than the
	// 1ms nominal latency every other frame has.
	if math.Abs(result.DmaxMs-penaltyMs) > 1e-6 {
		t.Errorf("DmaxMs = %v, want %v (the penalty)", result.DmaxMs, penaltyMs)
	}
}

func TestEvaluateNegativeLatencyClippedAndCounted(t *testing.T) {
	t.Parallel()

	const f = 10
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = 1_000_000
		receiveTS[i] = 1_000_000
	}
	// Frame 3 arrives "before" it was sent due to cross-core clock skew.
	receiveTS[3] = 900_000

	result := eval.Evaluate(sendTS, receiveTS, hz, 0, 0)

	if result.NumCorrected != 1 {
		t.Errorf("NumCorrected = %d, want 1", result.NumCorrected)
	}
	// Clipped to zero, so it must not make Dmin negative.
	if result.DminMs < 0 {
		t.Errorf("DminMs = %v, want >= 0", result.DminMs)
	}
}

func TestEvaluateMonotonicity(t *testing.T) {
	t.Parallel()

	const f = 500
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = uint64(i) * 1_000_000
		receiveTS[i] = sendTS[i] + uint64(1+i%37)*1000
	}

	result := eval.Evaluate(sendTS, receiveTS, hz, 0, 0)

	if !(result.DminMs <= result.D999Ms && result.D999Ms <= result.DmaxMs) {
		t.Errorf("monotonicity violated: Dmin=%v D99.9=%v Dmax=%v", result.DminMs, result.D999Ms, result.DmaxMs)
	}
	if result.PDVMs < 0 {
		t.Errorf("PDVMs = %v, want >= 0", result.PDVMs)
	}
}

func TestEvaluatePenaltySubstitutionTouchesOnlyOneSlot(t *testing.T) {
	t.Parallel()

	const f = 20
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = uint64(i) * 1_000_000
		receiveTS[i] = sendTS[i] + 2_000_000
	}
	receiveTS[7] = 0

	const penaltyMs = 500.0
	result := eval.Evaluate(sendTS, receiveTS, hz, 0, penaltyMs)

	if result.FramesLost != 1 {
		t.Fatalf("FramesLost = %d, want 1", result.FramesLost)
	}
	// Every non-lost frame has latency 2ms; Dmax is driven entirely by the
	// one penalty-substituted slot.
	if math.Abs(result.DmaxMs-penaltyMs) > 1e-6 {
		t.Errorf("DmaxMs = %v, want %v", result.DmaxMs, penaltyMs)
	}
	if math.Abs(result.DminMs-2.0) > 1e-6 {
		t.Errorf("DminMs = %v, want 2.0 (unaffected by the penalty slot)", result.DminMs)
	}
}

// BenchmarkEvaluate exercises the full PDV mode's sort-and-percentile hot
// path over a realistic frame count.
func BenchmarkEvaluate(b *testing.B) {
	const f = 100_000
	sendTS := make([]uint64, f)
	receiveTS := make([]uint64, f)
	for i := 0; i < f; i++ {
		sendTS[i] = uint64(i) * 1_000_000
		receiveTS[i] = sendTS[i] + uint64(1+i%997)*1000
	}

	b.ReportAllocs()
	for b.Loop() {
		_ = eval.Evaluate(sendTS, receiveTS, hz, 0, 0)
	}
}
