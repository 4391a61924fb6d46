// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package store

import (
	"encoding/binary"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/portsample-ebpf/internal/types"
)

const defaultShards = 16

// Memory is a sharded in-process store. The shard is picked by hashing the
// key, so timestamps that differ only in their low bits still spread out.
type Memory struct {
	shards []shard
	cap    int64
	size   atomic.Int64

	inserts    atomic.Uint64
	overwrites atomic.Uint64
	rejected   atomic.Uint64
}

type shard struct {
	mu sync.Mutex
	m  map[uint64]types.Event
}

type entry struct {
	key uint64
	ev  types.Event
}

// NewMemory returns a store holding at most capacity entries across
// nShards shards (0 = default).
func NewMemory(capacity, nShards int) (*Memory, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if nShards <= 0 {
		nShards = defaultShards
	}
	if nShards > capacity {
		nShards = capacity
	}
	m := &Memory{shards: make([]shard, nShards), cap: int64(capacity)}
	hint := capacity/nShards + 1
	for i := range m.shards {
		m.shards[i].m = make(map[uint64]types.Event, hint)
	}
	return m, nil
}

func (m *Memory) shardFor(key uint64) *shard {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], key)
	return &m.shards[xxhash.Sum64(b[:])%uint64(len(m.shards))]
}

// Upsert stores ev under key. Writing an existing key replaces the earlier
// sample. It returns false only when key is new and the store is full.
func (m *Memory) Upsert(key uint64, ev types.Event) bool {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		s.m[key] = ev
		m.overwrites.Add(1)
		return true
	}
	if m.size.Add(1) > m.cap {
		m.size.Add(-1)
		m.rejected.Add(1)
		return false
	}
	s.m[key] = ev
	m.inserts.Add(1)
	return true
}

func (m *Memory) Iterate(fn func(key uint64, ev types.Event) bool) error {
	var all []entry
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			all = append(all, entry{k, v})
		}
		s.mu.Unlock()
	}
	sortEntries(all)
	for _, e := range all {
		if !fn(e.key, e.ev) {
			break
		}
	}
	return nil
}

// Drain removes every entry and hands it to fn. Samples upserted while the
// drain runs land in the fresh shard maps and are kept for the next drain.
func (m *Memory) Drain(fn func(key uint64, ev types.Event)) (int, error) {
	var all []entry
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		old := s.m
		s.m = make(map[uint64]types.Event, len(old))
		m.size.Add(-int64(len(old)))
		s.mu.Unlock()
		for k, v := range old {
			all = append(all, entry{k, v})
		}
	}
	sortEntries(all)
	for _, e := range all {
		fn(e.key, e.ev)
	}
	return len(all), nil
}

func (m *Memory) Len() int {
	return int(m.size.Load())
}

func (m *Memory) Cap() int {
	return int(m.cap)
}

func (m *Memory) Stats() Stats {
	return Stats{
		Inserts:    m.inserts.Load(),
		Overwrites: m.overwrites.Load(),
		Rejected:   m.rejected.Load(),
	}
}

func (m *Memory) Close() error {
	return nil
}

func sortEntries(all []entry) {
	slices.SortFunc(all, func(a, b entry) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		}
		return 0
	})
}
