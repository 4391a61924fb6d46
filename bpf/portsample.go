// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package bpf holds the kernel objects used by portsample: the bounded
// sample store map and the syscall counting kprobe. Both are described in Go
// (map specs and an asm program) so no compiled object has to be embedded.
package bpf

import (
	"encoding/binary"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"github.com/portsample-ebpf/internal/types"
)

const (
	StoreMapName  = "sample_store"
	CountMapName  = "syscall_count"
	CountProgName = "count_syscall"

	defaultStoreEntries = 10000
)

// LoadPortsample returns a fresh CollectionSpec for all portsample objects.
// Caller may modify spec (e.g. Maps[StoreMapName].MaxEntries) before
// LoadAndAssign; only the objects named in the assign target are created.
func LoadPortsample() *ebpf.CollectionSpec {
	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			StoreMapName: {
				Name:       StoreMapName,
				Type:       ebpf.Hash,
				KeySize:    8,
				ValueSize:  uint32(binary.Size(types.EventRecord{})),
				MaxEntries: defaultStoreEntries,
			},
			CountMapName: {
				Name:       CountMapName,
				Type:       ebpf.Array,
				KeySize:    4,
				ValueSize:  8,
				MaxEntries: 1,
			},
		},
		Programs: map[string]*ebpf.ProgramSpec{
			CountProgName: {
				Name:         CountProgName,
				Type:         ebpf.Kprobe,
				License:      "GPL",
				Instructions: CountInstructions(),
			},
		},
	}
}

// CountInstructions bumps slot 0 of syscall_count with one atomic add and
// returns 0.
func CountInstructions() asm.Instructions {
	return asm.Instructions{
		// key = 0 on the stack
		asm.StoreImm(asm.RFP, -4, 0, asm.Word),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -4),
		asm.LoadMapPtr(asm.R1, 0).WithReference(CountMapName),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.Mov.Imm(asm.R1, 1),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	}
}

// StoreObjects is the LoadAndAssign target for the sample store alone.
type StoreObjects struct {
	SampleStore *ebpf.Map `ebpf:"sample_store"`
}

func (o *StoreObjects) Close() error {
	if o.SampleStore == nil {
		return nil
	}
	return o.SampleStore.Close()
}

// CountObjects is the LoadAndAssign target for the syscall tap.
type CountObjects struct {
	SyscallCount *ebpf.Map     `ebpf:"syscall_count"`
	CountSyscall *ebpf.Program `ebpf:"count_syscall"`
}

func (o *CountObjects) Close() error {
	var first error
	if o.CountSyscall != nil {
		first = o.CountSyscall.Close()
	}
	if o.SyscallCount != nil {
		if err := o.SyscallCount.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
