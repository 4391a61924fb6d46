// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package counter

import (
	"fmt"
	"log/slog"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"

	"github.com/portsample-ebpf/bpf"
)

// DefaultSyscallSymbol is the kernel function probed when none is configured.
const DefaultSyscallSymbol = "__sys_sendmsg"

// SyscallProbe counts invocations of a kernel function. The increment runs
// in the kprobe as a single atomic add on slot 0 of a one-entry array map.
type SyscallProbe struct {
	symbol string
	objs   bpf.CountObjects
	kp     link.Link
}

func NewSyscallProbe(symbol string) (*SyscallProbe, error) {
	if symbol == "" {
		symbol = DefaultSyscallSymbol
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock: %w", err)
	}
	p := &SyscallProbe{symbol: symbol}
	if err := bpf.LoadPortsample().LoadAndAssign(&p.objs, nil); err != nil {
		return nil, fmt.Errorf("load syscall counter: %w", err)
	}
	kp, err := link.Kprobe(symbol, p.objs.CountSyscall, nil)
	if err != nil {
		p.objs.Close()
		return nil, fmt.Errorf("attach kprobe %s: %w", symbol, err)
	}
	p.kp = kp
	slog.Info("syscall counter attached", "symbol", symbol)
	return p, nil
}

func (p *SyscallProbe) Symbol() string {
	return p.symbol
}

// Read returns the current invocation count.
func (p *SyscallProbe) Read() (uint64, error) {
	var key uint32
	var v uint64
	if err := p.objs.SyscallCount.Lookup(&key, &v); err != nil {
		return 0, fmt.Errorf("lookup %s: %w", bpf.CountMapName, err)
	}
	return v, nil
}

func (p *SyscallProbe) Close() error {
	if p.kp != nil {
		p.kp.Close()
	}
	return p.objs.Close()
}
