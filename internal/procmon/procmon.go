// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package procmon samples the memory and disk IO of one process and reports
// the change between samples.
package procmon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

var ErrProcessNotFound = errors.New("procmon: process not found")

// Sample is a point-in-time reading. IO counters are cumulative.
type Sample struct {
	At         time.Time
	VMS        uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// Delta is the change from one sample to the next. VMS may shrink.
type Delta struct {
	At         time.Time
	VMS        int64
	ReadBytes  uint64
	WriteBytes uint64
}

type procReader interface {
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
	IOCountersWithContext(ctx context.Context) (*process.IOCountersStat, error)
}

type Monitor struct {
	pid      int32
	name     string
	proc     procReader
	interval time.Duration
	now      func() time.Time
}

// FindProcess returns the newest process (highest pid) whose name contains
// name.
func FindProcess(ctx context.Context, name string) (*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var best *process.Process
	for _, p := range procs {
		comm, err := p.NameWithContext(ctx)
		if err != nil || !strings.Contains(comm, name) {
			continue
		}
		if best == nil || p.Pid > best.Pid {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrProcessNotFound, name)
	}
	return best, nil
}

func New(p *process.Process, interval time.Duration) *Monitor {
	name, _ := p.Name()
	return &Monitor{pid: p.Pid, name: name, proc: p, interval: interval, now: time.Now}
}

func (m *Monitor) PID() int32 {
	return m.pid
}

func (m *Monitor) Name() string {
	return m.name
}

func (m *Monitor) Sample(ctx context.Context) (Sample, error) {
	mem, err := m.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("memory info for pid %d: %w", m.pid, err)
	}
	io, err := m.proc.IOCountersWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("io counters for pid %d: %w", m.pid, err)
	}
	return Sample{At: m.now(), VMS: mem.VMS, ReadBytes: io.ReadBytes, WriteBytes: io.WriteBytes}, nil
}

// Diff returns cur minus prev. A counter that went backwards (the process
// was replaced) reports its current value.
func Diff(prev, cur Sample) Delta {
	return Delta{
		At:         cur.At,
		VMS:        int64(cur.VMS) - int64(prev.VMS),
		ReadBytes:  counterDelta(prev.ReadBytes, cur.ReadBytes),
		WriteBytes: counterDelta(prev.WriteBytes, cur.WriteBytes),
	}
}

func counterDelta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}

// Run samples every interval and passes each delta to fn until ctx is done.
// The first sample only sets the baseline.
func (m *Monitor) Run(ctx context.Context, fn func(Delta)) error {
	prev, err := m.Sample(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur, err := m.Sample(ctx)
			if err != nil {
				return err
			}
			fn(Diff(prev, cur))
			prev = cur
		}
	}
}

// ListeningPorts returns the distinct local ports p listens on, sorted.
func ListeningPorts(ctx context.Context, p *process.Process) ([]uint16, error) {
	conns, err := p.ConnectionsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connections for pid %d: %w", p.Pid, err)
	}
	seen := make(map[uint16]struct{}, len(conns))
	var ports []uint16
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port == 0 || c.Laddr.Port > 0xffff {
			continue
		}
		port := uint16(c.Laddr.Port)
		if _, ok := seen[port]; ok {
			continue
		}
		seen[port] = struct{}{}
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return ports, nil
}
