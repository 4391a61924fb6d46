// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package store holds emitted samples keyed by timestamp_ns until the
// collector drains them. Stores are bounded: a new key is refused once the
// store is full, while an existing key is always overwritten.
package store

import (
	"errors"

	"github.com/portsample-ebpf/internal/types"
)

// DefaultCapacity matches the default max_entries of the sample_store map.
const DefaultCapacity = 10000

var ErrInvalidCapacity = errors.New("store: capacity must be > 0")

// Store is safe for concurrent use. Iterate and Drain visit entries in
// ascending key order; fn returning false stops Iterate early.
type Store interface {
	Upsert(key uint64, ev types.Event) bool
	Iterate(fn func(key uint64, ev types.Event) bool) error
	Drain(fn func(key uint64, ev types.Event)) (int, error)
	Len() int
	Cap() int
	Stats() Stats
	Close() error
}

// Stats are cumulative since the store was created.
type Stats struct {
	Inserts    uint64
	Overwrites uint64
	Rejected   uint64
}
