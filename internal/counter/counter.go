// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package counter provides the trivial increment-only counters used for
// engine outcomes and the syscall tap.
package counter

import "sync/atomic"

// Counter is incremented from many goroutines at once; each call is a
// single atomic add returning the new value.
type Counter interface {
	Increment(key uint32) uint64
}

// Array is a fixed set of counters indexed by key. Keys outside the array
// are ignored and report 0.
type Array struct {
	vals []atomic.Uint64
}

func NewArray(n int) *Array {
	if n < 0 {
		n = 0
	}
	return &Array{vals: make([]atomic.Uint64, n)}
}

func (a *Array) Increment(key uint32) uint64 {
	if int(key) >= len(a.vals) {
		return 0
	}
	return a.vals[key].Add(1)
}

func (a *Array) Load(key uint32) uint64 {
	if int(key) >= len(a.vals) {
		return 0
	}
	return a.vals[key].Load()
}

func (a *Array) Len() int {
	return len(a.vals)
}

// Snapshot copies all values. Concurrent increments may land on either side
// of the copy.
func (a *Array) Snapshot() []uint64 {
	out := make([]uint64, len(a.vals))
	for i := range a.vals {
		out[i] = a.vals[i].Load()
	}
	return out
}
