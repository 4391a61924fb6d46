// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package source

import (
	"fmt"

	"golang.org/x/net/bpf"

	"github.com/portsample-ebpf/internal/engine"
)

// prefilterHeaderLen is the instruction count before the port checks.
const prefilterHeaderLen = 7

// Prefilter builds a classic BPF program that accepts IPv4 TCP/UDP frames
// with any of the policy ports on either side, truncated to snapLen. It is
// a coarse cut only: the engine still applies the exact policy, including
// direction. A policy of ModeNone rejects everything.
//
// Layout for n ports: header, n source checks, load dst, n destination
// checks, reject at 8+2n, accept at 9+2n.
func Prefilter(p engine.Policy, snapLen int) []bpf.Instruction {
	ports := p.Ports()
	if len(ports) == 0 {
		return []bpf.Instruction{bpf.RetConstant{Val: 0}}
	}
	n := len(ports)
	reject := uint8(8 + 2*n)
	accept := reject + 1
	skipTo := func(from, to uint8) uint8 { return to - from - 1 }

	prog := []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: engine.EtherTypeIPv4, SkipFalse: skipTo(1, reject)},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: engine.ProtoTCP, SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: engine.ProtoUDP, SkipFalse: skipTo(4, reject)},
		// X = IHL*4
		bpf.LoadMemShift{Off: 14},
		bpf.LoadIndirect{Off: 14, Size: 2},
	}
	for i, port := range ports {
		pc := uint8(prefilterHeaderLen + i)
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: skipTo(pc, accept)})
	}
	prog = append(prog, bpf.LoadIndirect{Off: 16, Size: 2})
	for i, port := range ports {
		pc := uint8(prefilterHeaderLen + n + 1 + i)
		prog = append(prog, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipTrue: skipTo(pc, accept)})
	}
	return append(prog,
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: uint32(snapLen)},
	)
}

// AssemblePrefilter returns Prefilter in the raw form SO_ATTACH_FILTER takes.
func AssemblePrefilter(p engine.Policy, snapLen int) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(Prefilter(p, snapLen))
	if err != nil {
		return nil, fmt.Errorf("assemble prefilter for %s: %w", p, err)
	}
	return raw, nil
}
