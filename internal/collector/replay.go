// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/portsample-ebpf/internal/engine"
	"github.com/portsample-ebpf/internal/source"
	"github.com/portsample-ebpf/internal/types"
)

// ReplaySummary reports one pass over a capture file.
type ReplaySummary struct {
	Packets  uint64
	Samples  uint64
	Rejected uint64
	Duration time.Duration
}

// captureClock stamps samples with the capture time of the frame being
// replayed instead of the host clock.
type captureClock struct {
	ns uint64
}

func (c *captureClock) NowNs() uint64 {
	return c.ns
}

// Replay runs every frame of a pcap or pcapng file through the engine with
// the configured filter and store, writing samples to the enabled record
// sinks. Samples are keyed by the frame's capture timestamp. The store is
// drained whenever it could be full and once more at the end.
func Replay(ctx context.Context, cfg Config, path string) (ReplaySummary, error) {
	var sum ReplaySummary
	if err := cfg.Validate(); err != nil {
		return sum, err
	}
	src, err := source.OpenReplay(path)
	if err != nil {
		return sum, err
	}
	defer src.Close()

	st, err := openStore(cfg.Store)
	if err != nil {
		return sum, err
	}
	defer st.Close()

	clock := &captureClock{}
	c, err := newCollector(cfg, st, prometheus.NewRegistry(), engine.WithClock(clock))
	if err != nil {
		return sum, err
	}
	sinks, err := openSinks(ctx, cfg.Records)
	if err != nil {
		return sum, err
	}
	c.sinks = sinks
	defer c.closeSinks()

	start := time.Now()
	slog.Info("replay started", "file", path, "filter", c.control.Current().Mode)
	if err := c.replay(ctx, src, clock, &sum); err != nil {
		return sum, err
	}
	if err := c.poll(ctx); err != nil {
		return sum, err
	}
	sum.Samples = c.drained
	sum.Rejected = c.stats.Load(types.StatStoreRejected)
	sum.Duration = time.Since(start)
	slog.Info("replay finished", "file", path, "packets", sum.Packets,
		"samples", sum.Samples, "rejected", sum.Rejected, "duration", sum.Duration)
	return sum, nil
}

func (c *Collector) replay(ctx context.Context, src source.Source, clock *captureClock, sum *ReplaySummary) error {
	drainEvery := uint64(c.store.Cap())
	cfg := c.filter.Snapshot()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := src.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src.Name(), err)
		}
		clock.ns = uint64(ci.Timestamp.UnixNano())
		c.engine.AttachAndProcessCaptured(cfg, data, ci.Length, c.store)
		sum.Packets++
		// Each frame stores at most one sample, so draining every Cap frames
		// keeps the store from filling.
		if sum.Packets%drainEvery == 0 {
			if err := c.poll(ctx); err != nil {
				return err
			}
		}
	}
}
