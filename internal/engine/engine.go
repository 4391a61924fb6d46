// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package engine classifies raw Ethernet frames against a port filter and
// emits one sample per matching packet. The per-packet path is synchronous,
// bounded and does not allocate.
package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/portsample-ebpf/internal/counter"
	"github.com/portsample-ebpf/internal/types"
)

// Clock returns a monotonic timestamp in nanoseconds.
type Clock interface {
	NowNs() uint64
}

// MonotonicClock reads CLOCK_MONOTONIC, the same clock base as
// bpf_ktime_get_ns.
type MonotonicClock struct{}

func (MonotonicClock) NowNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}

// Sink receives emitted samples keyed by timestamp. Upsert reports false
// when the sample could not be stored.
type Sink interface {
	Upsert(key uint64, ev types.Event) bool
}

type Engine struct {
	clock Clock
	stats counter.Counter
	trace *rate.Limiter
}

type Option func(*Engine)

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithStats records one outcome per packet into c, indexed by the
// types.Stat* constants.
func WithStats(c counter.Counter) Option {
	return func(e *Engine) { e.stats = c }
}

// WithTrace enables debug logging of per-packet outcomes, at most
// perSecond lines per second.
func WithTrace(perSecond float64) Option {
	return func(e *Engine) {
		if perSecond > 0 {
			e.trace = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{clock: MonotonicClock{}}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Process classifies pkt against cfg and returns the sample it would emit.
// It has no side effects besides reading the clock.
func (e *Engine) Process(cfg *Config, pkt []byte) (types.Event, bool) {
	ev, err := e.classify(cfg, pkt, len(pkt))
	return ev, err == nil
}

// AttachAndProcess is the capture-path entry point: it classifies pkt and
// upserts the sample into sink on match. Outcomes are counted when the
// engine has a stats counter.
func (e *Engine) AttachAndProcess(cfg *Config, pkt []byte, sink Sink) {
	e.AttachAndProcessCaptured(cfg, pkt, len(pkt), sink)
}

// AttachAndProcessCaptured is AttachAndProcess for a frame truncated by the
// capture snap length; wireLen is the original frame length and becomes the
// sample length.
func (e *Engine) AttachAndProcessCaptured(cfg *Config, pkt []byte, wireLen int, sink Sink) {
	e.count(types.StatPacketsSeen)
	ev, err := e.classify(cfg, pkt, wireLen)
	if err != nil {
		e.count(statFor(err))
		e.traceOutcome(err, pkt)
		return
	}
	e.count(types.StatEmitted)
	if !sink.Upsert(ev.TimestampNs, ev) {
		e.count(types.StatStoreRejected)
	}
}

func (e *Engine) classify(cfg *Config, pkt []byte, wireLen int) (types.Event, error) {
	if cfg == nil || cfg.Policy.Mode == ModeNone {
		return types.Event{}, ErrNoMatch
	}
	h, err := Parse(pkt)
	if err != nil {
		return types.Event{}, err
	}
	dir, ok := cfg.match(&h)
	if !ok {
		return types.Event{}, ErrNoMatch
	}
	if wireLen < len(pkt) {
		wireLen = len(pkt)
	}
	ev := types.Event{
		SrcPort: h.SrcPort,
		DstPort: h.DstPort,
		Length:  uint32(wireLen),
	}
	if cfg.Direction {
		ev.Direction = dir
	}
	if cfg.CaptureAddresses {
		ev.HasAddrs = true
		ev.SrcAddr = h.SrcAddr
		ev.DstAddr = h.DstAddr
	}
	ev.TimestampNs = e.clock.NowNs()
	return ev, nil
}

func (e *Engine) count(stat uint32) {
	if e.stats != nil {
		e.stats.Increment(stat)
	}
}

func statFor(err error) uint32 {
	switch err {
	case ErrBufferTooShort, ErrOutOfBounds:
		return types.StatTooShort
	case ErrUnsupportedEtherType:
		return types.StatIgnoredEtherType
	case ErrUnsupportedIPProtocol:
		return types.StatIgnoredProtocol
	case ErrInvalidIPHeader:
		return types.StatInvalidHeader
	default:
		return types.StatUnmatched
	}
}

func (e *Engine) traceOutcome(err error, pkt []byte) {
	if e.trace == nil || !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	if e.trace.Allow() {
		slog.Debug("packet skipped", "reason", err, "len", len(pkt))
	}
}
