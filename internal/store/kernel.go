// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"

	"github.com/portsample-ebpf/bpf"
	"github.com/portsample-ebpf/internal/types"
)

const defaultDrainBatch = 1024

// Kernel keeps samples in a BPF hash map, the same map a kernel-side
// program would write into. The kernel enforces the capacity: inserting a
// new key into a full map fails with E2BIG.
type Kernel struct {
	objs  bpf.StoreObjects
	cap   int
	batch int

	inserts    atomic.Uint64
	overwrites atomic.Uint64
	rejected   atomic.Uint64

	// set once batch ops fail with ErrNotSupported
	noBatch atomic.Bool
}

// NewKernel creates the sample_store map with room for capacity entries.
// drainBatch is the number of keys per batch syscall (0 = default).
func NewKernel(capacity, drainBatch int) (*Kernel, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if drainBatch <= 0 {
		drainBatch = defaultDrainBatch
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("remove memlock: %w", err)
	}
	spec := bpf.LoadPortsample()
	if m, ok := spec.Maps[bpf.StoreMapName]; ok {
		m.MaxEntries = uint32(capacity)
	}
	k := &Kernel{cap: capacity, batch: drainBatch}
	if err := spec.LoadAndAssign(&k.objs, nil); err != nil {
		return nil, fmt.Errorf("load %s: %w", bpf.StoreMapName, err)
	}
	slog.Info("kernel store created", "map", bpf.StoreMapName, "max_entries", capacity)
	return k, nil
}

// Upsert writes ev under key. An existing key is overwritten.
func (k *Kernel) Upsert(key uint64, ev types.Event) bool {
	rec := ev.Record()
	err := k.objs.SampleStore.Update(&key, &rec, ebpf.UpdateNoExist)
	if err == nil {
		k.inserts.Add(1)
		return true
	}
	if errors.Is(err, ebpf.ErrKeyExist) {
		if err := k.objs.SampleStore.Update(&key, &rec, ebpf.UpdateAny); err == nil {
			k.overwrites.Add(1)
			return true
		}
	}
	k.rejected.Add(1)
	return false
}

func (k *Kernel) Iterate(fn func(key uint64, ev types.Event) bool) error {
	all, err := k.collect()
	if err != nil {
		return err
	}
	for _, e := range all {
		if !fn(e.key, e.ev) {
			break
		}
	}
	return nil
}

func (k *Kernel) collect() ([]entry, error) {
	var (
		key uint64
		rec types.EventRecord
		all []entry
	)
	it := k.objs.SampleStore.Iterate()
	for it.Next(&key, &rec) {
		all = append(all, entry{key, rec.Event(key)})
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", bpf.StoreMapName, err)
	}
	sortEntries(all)
	return all, nil
}

// Drain empties the map with batch lookup-and-delete. Kernels without batch
// support fall back to iterate then delete key by key.
func (k *Kernel) Drain(fn func(key uint64, ev types.Event)) (int, error) {
	var all []entry
	var err error
	if !k.noBatch.Load() {
		all, err = k.drainBatch()
		if errors.Is(err, ebpf.ErrNotSupported) {
			slog.Info("batch lookup-and-delete unsupported, draining by key", "map", bpf.StoreMapName)
			k.noBatch.Store(true)
		}
	}
	if k.noBatch.Load() {
		all, err = k.drainByKey()
	}
	if err != nil {
		return 0, err
	}
	sortEntries(all)
	for _, e := range all {
		fn(e.key, e.ev)
	}
	return len(all), nil
}

func (k *Kernel) drainBatch() ([]entry, error) {
	keys := make([]uint64, k.batch)
	recs := make([]types.EventRecord, k.batch)
	var cursor ebpf.MapBatchCursor
	var all []entry
	for {
		n, err := k.objs.SampleStore.BatchLookupAndDelete(&cursor, keys, recs, nil)
		for i := 0; i < n; i++ {
			all = append(all, entry{keys[i], recs[i].Event(keys[i])})
		}
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return all, nil
		}
		if err != nil {
			return all, fmt.Errorf("batch lookup-and-delete %s: %w", bpf.StoreMapName, err)
		}
		if n == 0 {
			return all, nil
		}
	}
}

func (k *Kernel) drainByKey() ([]entry, error) {
	all, err := k.collect()
	if err != nil {
		return nil, err
	}
	for _, e := range all {
		key := e.key
		if err := k.objs.SampleStore.Delete(&key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return nil, fmt.Errorf("delete %s: %w", bpf.StoreMapName, err)
		}
	}
	return all, nil
}

// Len walks the map; it is meant for polling, not the packet path.
// Len counts the map entries. A walk that fails part way is logged and the
// entries seen so far are returned.
func (k *Kernel) Len() int {
	n, err := countEntries(k.objs.SampleStore.Iterate())
	if err != nil {
		slog.Warn("count sample store entries", "map", bpf.StoreMapName, "counted", n, "err", err)
	}
	return n
}

// entryIterator is the part of *ebpf.MapIterator used by countEntries.
type entryIterator interface {
	Next(keyOut, valueOut interface{}) bool
	Err() error
}

func countEntries(it entryIterator) (int, error) {
	var (
		key uint64
		rec types.EventRecord
		n   int
	)
	for it.Next(&key, &rec) {
		n++
	}
	if err := it.Err(); err != nil {
		return n, fmt.Errorf("iterate %s: %w", bpf.StoreMapName, err)
	}
	return n, nil
}

func (k *Kernel) Cap() int {
	return k.cap
}

func (k *Kernel) Stats() Stats {
	return Stats{
		Inserts:    k.inserts.Load(),
		Overwrites: k.overwrites.Load(),
		Rejected:   k.rejected.Load(),
	}
}

func (k *Kernel) Close() error {
	return k.objs.Close()
}
