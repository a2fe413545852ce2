// Package conductor orchestrates one run: for every enabled direction it
// launches a sender goroutine and a receiver goroutine against a shared
// StartTSC epoch, waits for both to finish, and hands their timestamp
// arrays to the PDV Evaluator (spec section 5: "Orchestration").
package conductor

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lencse/siitperf-go/internal/eval"
	"github.com/lencse/siitperf-go/internal/frame"
	"github.com/lencse/siitperf-go/internal/pktio"
	"github.com/lencse/siitperf-go/internal/receiver"
	"github.com/lencse/siitperf-go/internal/sender"
	"github.com/lencse/siitperf-go/internal/tsc"
)

// Direction bundles everything one measurement direction (forward or
// reverse) needs to run its sender and receiver concurrently against the
// conductor's shared epoch.
type Direction struct {
	// Name tags errors and metric labels for this direction, e.g.
	// "forward" or "reverse".
	Name string

	Templates  *frame.TemplateSet
	SenderIO   pktio.PacketIO
	ReceiverIO pktio.PacketIO

	// ClassN and ClassM are the foreground/background mix parameters.
	ClassN, ClassM int

	// NumFrames is F = duration * frame_rate.
	NumFrames uint64
	FrameRate uint64

	// FrameTimeoutMs selects the evaluator's mode: 0 for full PDV, positive
	// for late-frame counting (spec section 4.5).
	FrameTimeoutMs float64

	// PenaltyMs is the fixed latency credited to a frame that never arrives.
	PenaltyMs float64

	// GlobalTimeoutMs is the extra slack added to the nominal duration
	// before the receiver's deadline expires (spec section 5:
	// "finish_receiving = start_tsc + duration*hz + global_timeout*hz/1000").
	GlobalTimeoutMs float64
}

// Result pairs one direction's name with its evaluated PDV result.
type Result struct {
	Side string
	Eval eval.Result
}

// Run launches every direction's sender and receiver concurrently under a
// single errgroup, all paced against one shared StartTSC epoch taken at the
// start of Run. It returns the evaluated Result for every direction whose
// sender and receiver both produced a timestamp array, even when one
// goroutine in another direction failed — a fatal error in one direction
// does not discard results already computable for another (spec section 7:
// per-direction failures are reported independently).
//
// The returned error, if non-nil, is the first goroutine failure observed,
// wrapped with its direction's Name.
func Run(clock tsc.Clock, directions ...Direction) ([]Result, error) {
	if len(directions) == 0 {
		return nil, nil
	}

	startTSC := clock.Now()
	hz := clock.Hz()

	sendTS := make([][]uint64, len(directions))
	receiveTS := make([][]uint64, len(directions))

	var g errgroup.Group

	for i, d := range directions {
		i, d := i, d

		duration := float64(d.NumFrames) / float64(d.FrameRate)
		deadline := startTSC +
			uint64(duration*float64(hz)) +
			uint64(d.GlobalTimeoutMs*float64(hz)/1000)

		g.Go(func() error {
			ts, err := sender.Run(sender.Config{
				Templates: d.Templates,
				ClassN:    d.ClassN,
				ClassM:    d.ClassM,
				NumFrames: d.NumFrames,
				FrameRate: d.FrameRate,
				Clock:     clock,
				IO:        d.SenderIO,
				StartTSC:  startTSC,
			})
			sendTS[i] = ts
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			return nil
		})

		g.Go(func() error {
			ts, err := receiver.Run(receiver.Config{
				IO:        d.ReceiverIO,
				Clock:     clock,
				NumFrames: d.NumFrames,
				Deadline:  deadline,
			})
			receiveTS[i] = ts
			if err != nil {
				return fmt.Errorf("%s: %w", d.Name, err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	results := make([]Result, 0, len(directions))
	for i, d := range directions {
		if sendTS[i] == nil || receiveTS[i] == nil {
			continue
		}
		r := eval.Evaluate(sendTS[i], receiveTS[i], hz, d.FrameTimeoutMs, d.PenaltyMs)
		results = append(results, Result{Side: d.Name, Eval: r})
	}

	return results, runErr
}
