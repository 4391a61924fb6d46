// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package engine

import (
	"fmt"
	"sync/atomic"

	"github.com/portsample-ebpf/internal/types"
)

// Mode selects the matching policy.
type Mode uint8

const (
	ModeNone Mode = iota
	ModeSinglePort
	ModeDirectional
)

func (m Mode) String() string {
	switch m {
	case ModeSinglePort:
		return "single"
	case ModeDirectional:
		return "directional"
	default:
		return "none"
	}
}

// Policy is the port match policy. Port is used by ModeSinglePort; SrcPort
// and DstPort are the expected source and destination of ModeDirectional.
type Policy struct {
	Mode    Mode
	Port    uint16
	SrcPort uint16
	DstPort uint16
}

func SinglePort(p uint16) Policy {
	return Policy{Mode: ModeSinglePort, Port: p}
}

func DirectionalPorts(src, dst uint16) Policy {
	return Policy{Mode: ModeDirectional, SrcPort: src, DstPort: dst}
}

func (p Policy) String() string {
	switch p.Mode {
	case ModeSinglePort:
		return fmt.Sprintf("single(%d)", p.Port)
	case ModeDirectional:
		return fmt.Sprintf("directional(src=%d,dst=%d)", p.SrcPort, p.DstPort)
	default:
		return "none"
	}
}

// Ports returns the distinct ports the policy can match on, in a stable
// order. ModeNone returns nil.
func (p Policy) Ports() []uint16 {
	switch p.Mode {
	case ModeSinglePort:
		return []uint16{p.Port}
	case ModeDirectional:
		if p.SrcPort == p.DstPort {
			return []uint16{p.SrcPort}
		}
		return []uint16{p.SrcPort, p.DstPort}
	default:
		return nil
	}
}

// Config is the filter snapshot read on every packet. It must not be mutated
// once handed to a Filter; replace it instead.
//
// Direction tags directional matches with ingress/egress; without it a
// directional policy still matches on either check but the sample carries
// no direction. CaptureAddresses keeps the masked address octets.
type Config struct {
	Policy           Policy
	Direction        bool
	CaptureAddresses bool
}

// match applies the policy to h. The ingress check always runs first, so a
// header satisfying both checks is classified ingress.
func (c *Config) match(h *Headers) (types.Direction, bool) {
	switch c.Policy.Mode {
	case ModeSinglePort:
		p := c.Policy.Port
		return types.DirNone, h.SrcPort == p || h.DstPort == p
	case ModeDirectional:
		src, dst := c.Policy.SrcPort, c.Policy.DstPort
		if h.SrcPort == src || h.DstPort == dst {
			return types.DirIngress, true
		}
		if h.SrcPort == dst || h.DstPort == src {
			return types.DirEgress, true
		}
	}
	return types.DirNone, false
}

// Filter holds the active Config. Readers get a consistent snapshot; a
// Configure replaces the whole record.
type Filter struct {
	cur atomic.Pointer[Config]
}

func NewFilter(cfg *Config) *Filter {
	f := &Filter{}
	f.Configure(cfg)
	return f
}

// Configure installs a copy of cfg and returns the previous snapshot.
// A nil cfg disables matching.
func (f *Filter) Configure(cfg *Config) *Config {
	if cfg == nil {
		return f.cur.Swap(nil)
	}
	c := *cfg
	return f.cur.Swap(&c)
}

// Snapshot returns the active Config, or nil when no policy is set.
func (f *Filter) Snapshot() *Config {
	return f.cur.Load()
}
