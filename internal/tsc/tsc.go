// Package tsc provides the hardware cycle counter abstraction the rest of
// this module paces itself against.
//
// The reference design reads an x86 TSC directly and divides by its
// calibrated frequency. Go has no portable RDTSC intrinsic without cgo or
// assembly, so Clock substitutes a monotonic nanosecond clock: cycles are
// nanoseconds and Hz is 1e9. Every formula downstream (send_ts + s*hz/rate,
// 1000*value/hz, ...) is dimensionally identical whichever unit backs
// "cycles", because Hz is threaded through consistently wherever cycles are
// converted back to wall time.
package tsc

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonically increasing hardware-clock-like cycle counter with
// a known, fixed frequency.
type Clock interface {
	// Now returns the current cycle count.
	Now() uint64
	// Hz returns the clock's frequency in cycles per second.
	Hz() uint64
}

// Monotonic is the production Clock, backed by time.Now()'s monotonic
// reading. One cycle is one nanosecond.
type Monotonic struct {
	epoch time.Time
}

// NewMonotonic returns a Monotonic clock whose epoch is the instant of
// construction. Now() returns nanoseconds elapsed since that epoch.
func NewMonotonic() *Monotonic {
	return &Monotonic{epoch: time.Now()}
}

// Now implements Clock.
func (m *Monotonic) Now() uint64 {
	return uint64(time.Since(m.epoch).Nanoseconds())
}

// Hz implements Clock. A nanosecond-resolution clock runs at 1 GHz.
func (m *Monotonic) Hz() uint64 {
	return 1_000_000_000
}

// Fake is a deterministic Clock for tests: an atomically-incrementing
// counter advanced explicitly by the test rather than by wall time.
type Fake struct {
	cycles uint64
	hz     uint64
}

// NewFake returns a Fake clock starting at cycle 0 with the given frequency.
func NewFake(hz uint64) *Fake {
	return &Fake{hz: hz}
}

// Now implements Clock.
func (f *Fake) Now() uint64 {
	return atomic.LoadUint64(&f.cycles)
}

// Hz implements Clock.
func (f *Fake) Hz() uint64 {
	return f.hz
}

// Advance moves the fake clock forward by delta cycles and returns the new
// value.
func (f *Fake) Advance(delta uint64) uint64 {
	return atomic.AddUint64(&f.cycles, delta)
}

// Set pins the fake clock to an absolute cycle value.
func (f *Fake) Set(cycles uint64) {
	atomic.StoreUint64(&f.cycles, cycles)
}
