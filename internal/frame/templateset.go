package frame

import (
	"fmt"
	"net"
	"net/netip"
)

// TemplateSet holds the preformed, N-deep rotating frame templates for one
// sender: Templates[class][network][rotation]. Building N independent
// rotation copies per (network, class) — rather than one buffer reused in
// place — is the structural defence against the write-after-send hazard
// spec section 3 describes: the driver may still be reading copy k while
// the CPU mutates copy k+1.
type TemplateSet struct {
	N           int
	NumDestNets int

	byClass [2][][]*Template // byClass[Foreground|Background][network][rotation]
}

// Config bundles the addressing and sizing inputs needed to build a full
// TemplateSet for one sender.
type Config struct {
	IPVersion   IPVersion
	N           int
	NumDestNets int

	TesterMAC net.HardwareAddr
	DUTMAC    net.HardwareAddr
	SourceIP  netip.Addr

	// ForegroundFrameSize and BackgroundFrameSize are on-wire lengths
	// including FCS (spec section 6: ipv4_frame_size = ipv6_frame_size-20).
	ForegroundFrameSize int
	BackgroundFrameSize int

	ForegroundDestIP netip.Addr
	BackgroundDestIP netip.Addr
}

// BuildTemplateSet builds every (class, network, rotation) template a
// sender needs, up front, at run start (spec section 3: "Frame templates
// are built once at sender start").
func BuildTemplateSet(cfg Config) (*TemplateSet, error) {
	if cfg.N < 1 {
		return nil, fmt.Errorf("frame: rotation depth N must be >= 1, got %d", cfg.N)
	}
	if cfg.NumDestNets < 1 || cfg.NumDestNets > 256 {
		return nil, fmt.Errorf("frame: num_dest_nets must be in [1,256], got %d", cfg.NumDestNets)
	}

	ts := &TemplateSet{N: cfg.N, NumDestNets: cfg.NumDestNets}

	fg, err := buildClassTemplates(classSpec{
		class:     Foreground,
		ipVersion: cfg.IPVersion,
		frameSize: cfg.ForegroundFrameSize,
		testerMAC: cfg.TesterMAC,
		dutMAC:    cfg.DUTMAC,
		sourceIP:  cfg.SourceIP,
		destIP:    cfg.ForegroundDestIP,
	}, cfg.N, cfg.NumDestNets)
	if err != nil {
		return nil, fmt.Errorf("frame: build foreground templates: %w", err)
	}
	ts.byClass[Foreground] = fg

	bg, err := buildClassTemplates(classSpec{
		class:     Background,
		ipVersion: V6,
		frameSize: cfg.BackgroundFrameSize,
		testerMAC: cfg.TesterMAC,
		dutMAC:    cfg.DUTMAC,
		sourceIP:  cfg.SourceIP,
		destIP:    cfg.BackgroundDestIP,
	}, cfg.N, cfg.NumDestNets)
	if err != nil {
		return nil, fmt.Errorf("frame: build background templates: %w", err)
	}
	ts.byClass[Background] = bg

	return ts, nil
}

type classSpec struct {
	class     Class
	ipVersion IPVersion
	frameSize int
	testerMAC net.HardwareAddr
	dutMAC    net.HardwareAddr
	sourceIP  netip.Addr
	destIP    netip.Addr
}

// buildClassTemplates builds the uncomplemented-checksum baseline for this
// class once per network, per the fix to the first open design question
// (spec section 9): Build runs once per (network, class), capturing the
// checksum from the zeroed counter slot, and the N rotation copies are byte
// copies of that buffer sharing the same checksum value rather than
// recomputing it per rotation index.
func buildClassTemplates(spec classSpec, n, numDestNets int) ([][]*Template, error) {
	perNetwork := make([][]*Template, numDestNets)

	for netIdx := 0; netIdx < numDestNets; netIdx++ {
		// Fanout perturbs every network index, including 0: with
		// numDestNets > 1, network 0's octet must be explicitly zeroed
		// like every other index (pdv.c does this unconditionally inside
		// its num_dest_nets > 1 branch). Only a true numDestNets == 1
		// (fanout disabled entirely) keeps the configured base address.
		dest := spec.destIP
		if numDestNets > 1 {
			dest = PerturbDest(spec.destIP, spec.ipVersion, netIdx)
		}

		base, err := Build(Params{
			IPVersion: spec.ipVersion,
			Class:     spec.class,
			FrameSize: spec.frameSize,
			TesterMAC: spec.testerMAC,
			DUTMAC:    spec.dutMAC,
			SourceIP:  spec.sourceIP,
			DestIP:    dest,
		})
		if err != nil {
			return nil, fmt.Errorf("network %d: %w", netIdx, err)
		}

		rotation := make([]*Template, n)
		for i := 0; i < n; i++ {
			tmpl := *base
			tmpl.Buf = append([]byte(nil), base.Buf...)
			rotation[i] = &tmpl
		}
		perNetwork[netIdx] = rotation
	}

	return perNetwork, nil
}

// Template returns the rotation-th copy of the (class, network) template.
func (ts *TemplateSet) Template(class Class, network, rotation int) *Template {
	return ts.byClass[class][network][rotation]
}

// NumNetworks returns how many destination networks were built for class.
func (ts *TemplateSet) NumNetworks(class Class) int {
	return len(ts.byClass[class])
}
