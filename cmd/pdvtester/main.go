// pdvtester measures Packet Delay Variation across a stateless IPv4/IPv6
// translator under test (RFC 8219 / RFC 5481).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lencse/siitperf-go/internal/conductor"
	"github.com/lencse/siitperf-go/internal/config"
	"github.com/lencse/siitperf-go/internal/eval"
	"github.com/lencse/siitperf-go/internal/frame"
	"github.com/lencse/siitperf-go/internal/metrics"
	"github.com/lencse/siitperf-go/internal/pktio"
	"github.com/lencse/siitperf-go/internal/tsc"
	appversion "github.com/lencse/siitperf-go/internal/version"
)

// templateRotationDepth is N, the number of pre-built rotation copies per
// (network, class) template, guarding against the write-after-send hazard
// (spec section 3). A handful of in-flight copies is enough at any rate
// this tool can busy-spin pace.
const templateRotationDepth = 4

// metricsScrapeWindow is how long the metrics HTTP endpoint stays up after
// the run completes, for scrape-based environments (SPEC_FULL.md section 6).
const metricsScrapeWindow = 5 * time.Second

// errFrameTimeoutTooLarge indicates frame_timeout does not satisfy
// frame_timeout < 1000*duration + global_timeout (spec section 6).
var errFrameTimeoutTooLarge = errors.New("frame_timeout must be less than 1000*duration + global_timeout")

func main() {
	os.Exit(run())
}

// exitCode carries runMeasurement's process exit code out of cobra's RunE,
// which only reports whether an error occurred.
var exitCode int

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		return exitCode
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "pdvtester",
		Short:   "Packet Delay Variation tester for stateless IPv4/IPv6 translators",
		Version: appversion.Version,
	}

	var configPath string
	runCmd := &cobra.Command{
		Use:   "run ipv6_frame_size frame_rate duration global_timeout n m frame_timeout",
		Short: "Run a PDV measurement",
		Args:  cobra.ExactArgs(7),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = runMeasurement(configPath, args)
			if exitCode != 0 {
				return fmt.Errorf("pdvtester: run exited with code %d", exitCode)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	root.AddCommand(runCmd)
	return root
}

// params holds the seven positional CLI parameters, parsed and validated
// (spec section 6).
type params struct {
	ipv6FrameSize  int
	ipv4FrameSize  int
	frameRate      uint64
	duration       int
	globalTimeout  int
	n, m           int
	frameTimeoutMs float64
}

func parseParams(args []string) (params, error) {
	ints := make([]int, 6)
	for i, name := range []string{"ipv6_frame_size", "frame_rate", "duration", "global_timeout", "n", "m"} {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return params{}, fmt.Errorf("parse %s: %w", name, err)
		}
		ints[i] = v
	}
	frameTimeout, err := strconv.Atoi(args[6])
	if err != nil {
		return params{}, fmt.Errorf("parse frame_timeout: %w", err)
	}

	p := params{
		ipv6FrameSize:  ints[0],
		ipv4FrameSize:  ints[0] - 20,
		frameRate:      uint64(ints[1]),
		duration:       ints[2],
		globalTimeout:  ints[3],
		n:              ints[4],
		m:              ints[5],
		frameTimeoutMs: float64(frameTimeout),
	}

	if p.duration < 1 || p.duration > 3600 {
		return params{}, fmt.Errorf("duration %d out of range [1,3600]", p.duration)
	}
	if p.globalTimeout < 0 || p.globalTimeout > 60000 {
		return params{}, fmt.Errorf("global_timeout %d out of range [0,60000]", p.globalTimeout)
	}
	if p.frameTimeoutMs >= 1000*float64(p.duration)+float64(p.globalTimeout) {
		return params{}, fmt.Errorf("%w: got %v", errFrameTimeoutTooLarge, p.frameTimeoutMs)
	}

	return p, nil
}

func runMeasurement(configPath string, args []string) int {
	p, err := parseParams(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdvtester: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdvtester: load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Log)
	logger.Info("pdvtester starting",
		slog.String("version", appversion.Version),
		slog.Uint64("frame_rate", p.frameRate),
		slog.Int("duration", p.duration),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	directions, closers, err := buildDirections(cfg, p, logger)
	defer closeAll(closers, logger)
	if err != nil {
		logger.Error("build directions", slog.String("error", err.Error()))
		return 1
	}
	if len(directions) == 0 {
		logger.Error("no direction enabled")
		return 1
	}

	resultCh := make(chan runOutcome, 1)
	go func() {
		results, err := conductor.Run(tsc.NewMonotonic(), directions...)
		resultCh <- runOutcome{results: results, err: err}
	}()

	var outcome runOutcome
	select {
	case outcome = <-resultCh:
	case <-ctx.Done():
		logger.Error("interrupted before completion", slog.String("error", ctx.Err().Error()))
		return 130
	}

	fmt.Println("Info: Testing started.")
	for _, r := range outcome.results {
		collector.Observe(r.Side, r.Eval)
		reportResult(r.Side, r.Eval)
	}
	fmt.Println("Info: Test finished.")

	if outcome.err != nil {
		logger.Error("run failed", slog.String("error", outcome.err.Error()))
		return 1
	}

	serveMetricsBriefly(cfg.Metrics, reg, logger)

	logger.Info("pdvtester finished")
	return 0
}

type runOutcome struct {
	results []conductor.Result
	err     error
}

// reportResult prints the "Info:"-prefixed human report the reference
// implementation's evaluatePdv emits, one line per statistic, labeled by
// side.
func reportResult(side string, r eval.Result) {
	fmt.Printf("Info: %s frames completely missing: %d\n", side, r.FramesLost)
	if r.NumCorrected != 0 {
		fmt.Printf("Info: %s frames with negative latency corrected to zero: %d\n", side, r.NumCorrected)
	}

	if r.Mode == eval.ModeLateFrameCounting {
		fmt.Printf("Info: %s frames received within frame_timeout: %d\n", side, r.FramesReceived)
		return
	}

	fmt.Printf("Info: %s Dmin: %f\n", side, r.DminMs)
	fmt.Printf("Info: %s Dmax: %f\n", side, r.DmaxMs)
	fmt.Printf("Info: %s D99_9th_perc: %f\n", side, r.D999Ms)
	fmt.Printf("Info: %s PDV: %f\n", side, r.PDVMs)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.DefaultConfig()
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler).With(slog.String("component", "pdvtester"))
}

func closeAll(closers []pktio.PacketIO, logger *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("close packet io", slog.String("error", err.Error()))
		}
	}
}

func serveMetricsBriefly(cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) {
	if cfg.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.String("error", err.Error()))
		}
	}()

	time.Sleep(metricsScrapeWindow)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
	}
}

// buildDirections constructs one conductor.Direction per enabled side,
// wiring frame templates and an AF_PACKET transport bound to its configured
// interface. The same socket serves as both sender and receiver transport:
// spec section 6's poll-mode contract models one bound interface per
// direction, and AF_PACKET sockets support concurrent read and write.
func buildDirections(cfg *config.Config, p params, logger *slog.Logger) ([]conductor.Direction, []pktio.PacketIO, error) {
	numFrames := uint64(p.duration) * p.frameRate
	penaltyMs := 1000*float64(p.duration) + float64(p.globalTimeout)

	var directions []conductor.Direction
	var closers []pktio.PacketIO

	add := func(name string, dc config.DirectionConfig) error {
		if !dc.Enabled {
			return nil
		}

		io, err := pktio.NewAFPacket(dc.Interface, dc.Promiscuous)
		if err != nil {
			return fmt.Errorf("%s: open %s: %w", name, dc.Interface, err)
		}
		closers = append(closers, io)

		templates, err := buildTemplateSet(dc, p)
		if err != nil {
			return fmt.Errorf("%s: build templates: %w", name, err)
		}

		directions = append(directions, conductor.Direction{
			Name:            name,
			Templates:       templates,
			SenderIO:        io,
			ReceiverIO:      io,
			ClassN:          p.n,
			ClassM:          p.m,
			NumFrames:       numFrames,
			FrameRate:       p.frameRate,
			FrameTimeoutMs:  p.frameTimeoutMs,
			PenaltyMs:       penaltyMs,
			GlobalTimeoutMs: float64(p.globalTimeout),
		})
		logger.Info("direction configured",
			slog.String("side", name),
			slog.String("interface", dc.Interface),
			slog.Int("ip_version", dc.IPVersion),
		)
		return nil
	}

	if err := add("forward", cfg.Forward); err != nil {
		return nil, closers, err
	}
	if err := add("reverse", cfg.Reverse); err != nil {
		return nil, closers, err
	}

	return directions, closers, nil
}

func buildTemplateSet(dc config.DirectionConfig, p params) (*frame.TemplateSet, error) {
	testerMAC, err := dc.TesterMACAddr()
	if err != nil {
		return nil, err
	}
	dutMAC, err := dc.DUTMACAddr()
	if err != nil {
		return nil, err
	}
	sourceIP, err := dc.TesterSourceAddr()
	if err != nil {
		return nil, err
	}
	destIP, err := dc.TesterDestAddr()
	if err != nil {
		return nil, err
	}
	bgDestIP, err := dc.BackgroundDestAddr()
	if err != nil {
		return nil, err
	}

	foregroundFrameSize := p.ipv6FrameSize
	ipVersion := frame.V6
	if dc.IPVersion == 4 {
		foregroundFrameSize = p.ipv4FrameSize
		ipVersion = frame.V4
	}

	return frame.BuildTemplateSet(frame.Config{
		IPVersion:           ipVersion,
		N:                   templateRotationDepth,
		NumDestNets:         dc.NumDestNets,
		TesterMAC:           testerMAC,
		DUTMAC:              dutMAC,
		SourceIP:            sourceIP,
		ForegroundFrameSize: foregroundFrameSize,
		BackgroundFrameSize: p.ipv6FrameSize,
		ForegroundDestIP:    destIP,
		BackgroundDestIP:    bgDestIP,
	})
}
