// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package config

import (
	"fmt"
	"strings"

	"github.com/portsample-ebpf/internal/engine"
)

const (
	ModeNone        = "none"
	ModeSingle      = "single"
	ModeDirectional = "directional"
)

// FilterConfig is the user-facing form of engine.Config, shared by the
// config file and the control API. Ports are plain ints so that values
// above 65535 reach Validate instead of wrapping during decode.
type FilterConfig struct {
	Mode             string `mapstructure:"mode" json:"mode"`
	Port             int    `mapstructure:"port" json:"port,omitempty"`
	SrcPort          int    `mapstructure:"src_port" json:"src_port,omitempty"`
	DstPort          int    `mapstructure:"dst_port" json:"dst_port,omitempty"`
	Direction        bool   `mapstructure:"direction" json:"direction"`
	CaptureAddresses bool   `mapstructure:"capture_addresses" json:"capture_addresses"`
}

func (f FilterConfig) mode() string {
	m := strings.ToLower(strings.TrimSpace(f.Mode))
	if m == "" {
		return ModeNone
	}
	return m
}

const maxPort = 1<<16 - 1

// Validate checks the ports required by the mode. Port 0 never appears in
// TCP or UDP traffic, so it is rejected.
func (f FilterConfig) Validate() error {
	for _, p := range []struct {
		key   string
		value int
	}{{"port", f.Port}, {"src_port", f.SrcPort}, {"dst_port", f.DstPort}} {
		if p.value < 0 || p.value > maxPort {
			return fmt.Errorf("%w: filter.%s must be within 1..%d, got %d", ErrInvalidConfig, p.key, maxPort, p.value)
		}
	}
	switch f.mode() {
	case ModeNone:
		return nil
	case ModeSingle:
		if f.Port == 0 {
			return fmt.Errorf("%w: filter.port is required for mode %s", ErrInvalidConfig, ModeSingle)
		}
	case ModeDirectional:
		if f.SrcPort == 0 || f.DstPort == 0 {
			return fmt.Errorf("%w: filter.src_port and filter.dst_port are required for mode %s", ErrInvalidConfig, ModeDirectional)
		}
	default:
		return fmt.Errorf("%w: filter.mode must be %s, %s or %s, got %q",
			ErrInvalidConfig, ModeNone, ModeSingle, ModeDirectional, f.Mode)
	}
	return nil
}

// EngineConfig converts f. Mode none yields nil, which disables matching.
func (f FilterConfig) EngineConfig() (*engine.Config, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var p engine.Policy
	switch f.mode() {
	case ModeNone:
		return nil, nil
	case ModeSingle:
		p = engine.SinglePort(uint16(f.Port))
	case ModeDirectional:
		p = engine.DirectionalPorts(uint16(f.SrcPort), uint16(f.DstPort))
	}
	return &engine.Config{
		Policy:           p,
		Direction:        f.Direction,
		CaptureAddresses: f.CaptureAddresses,
	}, nil
}

// FilterFromEngine is the inverse of EngineConfig.
func FilterFromEngine(c *engine.Config) FilterConfig {
	if c == nil {
		return FilterConfig{Mode: ModeNone}
	}
	f := FilterConfig{
		Direction:        c.Direction,
		CaptureAddresses: c.CaptureAddresses,
	}
	switch c.Policy.Mode {
	case engine.ModeSinglePort:
		f.Mode = ModeSingle
		f.Port = int(c.Policy.Port)
	case engine.ModeDirectional:
		f.Mode = ModeDirectional
		f.SrcPort = int(c.Policy.SrcPort)
		f.DstPort = int(c.Policy.DstPort)
	default:
		f.Mode = ModeNone
	}
	return f
}
