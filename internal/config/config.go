// Package config manages pdvtester configuration using koanf/v2.
//
// Supports YAML files and environment variables. The values held
// here are exactly the book-keeping fields spec section 6 assigns to an
// external collaborator: IP versions per side, tester/DUT MAC addresses,
// tester real/translated IP addresses, per-side destination network counts,
// forward/reverse enable flags, the promiscuous flag, per-role CPU indices,
// and the memory channel count. None of it is interpreted by the core
// measurement packages; it is resolved here and handed down as plain fields.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete pdvtester configuration.
type Config struct {
	Forward DirectionConfig `koanf:"forward"`
	Reverse DirectionConfig `koanf:"reverse"`
	Metrics MetricsConfig   `koanf:"metrics"`
	Log     LogConfig       `koanf:"log"`
}

// DirectionConfig describes one measurement direction (forward or reverse).
// A direction with Enabled=false is skipped entirely by the conductor.
type DirectionConfig struct {
	// Enabled switches this direction on or off for the run.
	Enabled bool `koanf:"enabled"`

	// IPVersion is the foreground IP version under test: 4 or 6.
	IPVersion int `koanf:"ip_version"`

	// Interface is the network interface the sender/receiver bind to.
	Interface string `koanf:"interface"`

	// Promiscuous puts the bound interface into promiscuous mode so the
	// receiver observes translated frames addressed to other MACs.
	Promiscuous bool `koanf:"promiscuous"`

	// TesterMAC and DUTMAC are the link-layer addresses on each end of the
	// wire between tester and device under test.
	TesterMAC string `koanf:"tester_mac"`
	DUTMAC    string `koanf:"dut_mac"`

	// TesterSourceIP is the tester's own address on the sending side.
	TesterSourceIP string `koanf:"tester_source_ip"`

	// TesterDestIP is the first-network destination address on the
	// translated side; num_dest_nets governs how its network-index octet is
	// perturbed for subsequent networks per spec section 3.
	TesterDestIP string `koanf:"tester_dest_ip"`

	// BackgroundDestIP is the always-IPv6 destination address used for
	// background frames (spec section 3, "Background frame").
	BackgroundDestIP string `koanf:"background_dest_ip"`

	// NumDestNets is the number of destination networks to fan out across,
	// in [1,256].
	NumDestNets int `koanf:"num_dest_nets"`

	// SenderCPU and ReceiverCPU are the configured CPU indices for the
	// sender and receiver. They are loaded and carried here only: the
	// sender and receiver goroutines lock to an OS thread
	// (runtime.LockOSThread) but are not pinned to these CPUs.
	SenderCPU   int `koanf:"sender_cpu"`
	ReceiverCPU int `koanf:"receiver_cpu"`

	// MemoryChannels is the configured number of memory channels, carried
	// through from the original EAL-style configuration surface; no code
	// reads it.
	MemoryChannels int `koanf:"memory_channels"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration used for
// the brief post-run scrape window (SPEC_FULL.md section 6).
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// TesterMACAddr parses TesterMAC as a net.HardwareAddr.
func (dc DirectionConfig) TesterMACAddr() (net.HardwareAddr, error) {
	return parseMAC(dc.TesterMAC, "tester_mac")
}

// DUTMACAddr parses DUTMAC as a net.HardwareAddr.
func (dc DirectionConfig) DUTMACAddr() (net.HardwareAddr, error) {
	return parseMAC(dc.DUTMAC, "dut_mac")
}

func parseMAC(s, field string) (net.HardwareAddr, error) {
	if s == "" {
		return nil, fmt.Errorf("%s: %w", field, ErrEmptyMAC)
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return mac, nil
}

// TesterSourceAddr parses TesterSourceIP as a netip.Addr.
func (dc DirectionConfig) TesterSourceAddr() (netip.Addr, error) {
	return parseAddr(dc.TesterSourceIP, "tester_source_ip")
}

// TesterDestAddr parses TesterDestIP as a netip.Addr.
func (dc DirectionConfig) TesterDestAddr() (netip.Addr, error) {
	return parseAddr(dc.TesterDestIP, "tester_dest_ip")
}

// BackgroundDestAddr parses BackgroundDestIP as a netip.Addr.
func (dc DirectionConfig) BackgroundDestAddr() (netip.Addr, error) {
	if dc.BackgroundDestIP == "" {
		return netip.Addr{}, nil
	}
	return parseAddr(dc.BackgroundDestIP, "background_dest_ip")
}

func parseAddr(s, field string) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, fmt.Errorf("%s: %w", field, ErrEmptyAddr)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return addr, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. Both
// directions are disabled by default; the caller (or a loaded YAML file)
// must enable at least one and fill in its addressing fields before the run
// can proceed. NumDestNets defaults to 1, the no-fanout case.
func DefaultConfig() *Config {
	return &Config{
		Forward: DirectionConfig{
			IPVersion:      4,
			NumDestNets:    1,
			SenderCPU:      1,
			ReceiverCPU:    2,
			MemoryChannels: 4,
		},
		Reverse: DirectionConfig{
			IPVersion:      4,
			NumDestNets:    1,
			SenderCPU:      3,
			ReceiverCPU:    4,
			MemoryChannels: 4,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for pdvtester configuration.
// Variables are named PDVTESTER_<section>_<key>, e.g., PDVTESTER_LOG_LEVEL.
const envPrefix = "PDVTESTER_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (PDVTESTER_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	PDVTESTER_METRICS_ADDR -> metrics.addr
//	PDVTESTER_METRICS_PATH -> metrics.path
//	PDVTESTER_LOG_LEVEL     -> log.level
//	PDVTESTER_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and a YAML parser, the same
// loader shape used throughout the rest of this module's ambient stack.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms PDVTESTER_LOG_LEVEL -> log.level.
// Strips the PDVTESTER_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"forward.ip_version":      defaults.Forward.IPVersion,
		"forward.num_dest_nets":   defaults.Forward.NumDestNets,
		"forward.sender_cpu":      defaults.Forward.SenderCPU,
		"forward.receiver_cpu":    defaults.Forward.ReceiverCPU,
		"forward.memory_channels": defaults.Forward.MemoryChannels,
		"reverse.ip_version":      defaults.Reverse.IPVersion,
		"reverse.num_dest_nets":   defaults.Reverse.NumDestNets,
		"reverse.sender_cpu":      defaults.Reverse.SenderCPU,
		"reverse.receiver_cpu":    defaults.Reverse.ReceiverCPU,
		"reverse.memory_channels": defaults.Reverse.MemoryChannels,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrNoDirectionEnabled indicates neither forward nor reverse is enabled.
	ErrNoDirectionEnabled = errors.New("at least one of forward.enabled or reverse.enabled must be true")

	// ErrInvalidIPVersion indicates ip_version is neither 4 nor 6.
	ErrInvalidIPVersion = errors.New("ip_version must be 4 or 6")

	// ErrEmptyInterface indicates a direction has no bind interface.
	ErrEmptyInterface = errors.New("interface must not be empty")

	// ErrEmptyMAC indicates a required MAC address field is empty.
	ErrEmptyMAC = errors.New("MAC address must not be empty")

	// ErrEmptyAddr indicates a required IP address field is empty.
	ErrEmptyAddr = errors.New("IP address must not be empty")

	// ErrInvalidNumDestNets indicates num_dest_nets is outside [1,256].
	ErrInvalidNumDestNets = errors.New("num_dest_nets must be in [1,256]")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if !cfg.Forward.Enabled && !cfg.Reverse.Enabled {
		return ErrNoDirectionEnabled
	}

	if cfg.Forward.Enabled {
		if err := validateDirection(cfg.Forward); err != nil {
			return fmt.Errorf("forward: %w", err)
		}
	}

	if cfg.Reverse.Enabled {
		if err := validateDirection(cfg.Reverse); err != nil {
			return fmt.Errorf("reverse: %w", err)
		}
	}

	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	return nil
}

func validateDirection(dc DirectionConfig) error {
	if dc.IPVersion != 4 && dc.IPVersion != 6 {
		return ErrInvalidIPVersion
	}

	if dc.Interface == "" {
		return ErrEmptyInterface
	}

	if _, err := dc.TesterMACAddr(); err != nil {
		return err
	}

	if _, err := dc.DUTMACAddr(); err != nil {
		return err
	}

	if _, err := dc.TesterSourceAddr(); err != nil {
		return err
	}

	if _, err := dc.TesterDestAddr(); err != nil {
		return err
	}

	if dc.NumDestNets < 1 || dc.NumDestNets > 256 {
		return ErrInvalidNumDestNets
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
