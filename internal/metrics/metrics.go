// Package metrics exposes the PDV Evaluator's per-run results as Prometheus
// metrics, mirroring the teacher collector's GaugeVec/CounterVec shape
// (spec section 4.5's Result fields, one gauge per reported statistic,
// labeled by measurement side).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lencse/siitperf-go/internal/eval"
)

const (
	namespace = "pdvtester"
	subsystem = "run"
)

// labelSide distinguishes the forward and reverse measurement directions.
const labelSide = "side"

// Collector holds all pdvtester Prometheus metrics for a single run.
//
// Unlike a long-running daemon's metrics, these are all gauges: each run
// reports one Result per enabled direction and the process exits shortly
// after, so there is nothing to accumulate across scrapes.
type Collector struct {
	Dmin           *prometheus.GaugeVec
	Dmax           *prometheus.GaugeVec
	D999           *prometheus.GaugeVec
	PDV            *prometheus.GaugeVec
	FramesLost     *prometheus.GaugeVec
	FramesReceived *prometheus.GaugeVec
	NumCorrected   *prometheus.GaugeVec
}

// NewCollector creates a Collector with all pdvtester metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Dmin,
		c.Dmax,
		c.D999,
		c.PDV,
		c.FramesLost,
		c.FramesReceived,
		c.NumCorrected,
	)

	return c
}

func newMetrics() *Collector {
	labels := []string{labelSide}

	return &Collector{
		Dmin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dmin_milliseconds",
			Help:      "Minimum one-way delay observed in the latency distribution.",
		}, labels),

		Dmax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dmax_milliseconds",
			Help:      "Maximum one-way delay observed in the latency distribution.",
		}, labels),

		D999: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "d999_milliseconds",
			Help:      "99.9th percentile one-way delay (RFC 5481 D99.9).",
		}, labels),

		PDV: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pdv_milliseconds",
			Help:      "Packet Delay Variation: D99.9 minus Dmin (RFC 5481).",
		}, labels),

		FramesLost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_lost",
			Help:      "Frames never observed arriving before the receive deadline.",
		}, labels),

		FramesReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received",
			Help:      "Frames received at or under frame_timeout (late-frame counting mode only).",
		}, labels),

		NumCorrected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "num_corrected",
			Help:      "Frames whose raw latency was negative due to clock skew and clipped to zero.",
		}, labels),
	}
}

// Observe records one direction's eval.Result under the given side label
// ("forward" or "reverse").
func (c *Collector) Observe(side string, r eval.Result) {
	c.FramesLost.WithLabelValues(side).Set(float64(r.FramesLost))
	c.NumCorrected.WithLabelValues(side).Set(float64(r.NumCorrected))

	if r.Mode == eval.ModeLateFrameCounting {
		c.FramesReceived.WithLabelValues(side).Set(float64(r.FramesReceived))
		return
	}

	c.Dmin.WithLabelValues(side).Set(r.DminMs)
	c.Dmax.WithLabelValues(side).Set(r.DmaxMs)
	c.D999.WithLabelValues(side).Set(r.D999Ms)
	c.PDV.WithLabelValues(side).Set(r.PDVMs)
}
