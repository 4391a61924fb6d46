// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/portsample-ebpf/internal/engine"
	"github.com/portsample-ebpf/internal/source"
)

// fanoutGroup returns the base AF_PACKET fanout id. 0 disables fanout.
func fanoutGroup(configured uint16, workers int) uint16 {
	if workers <= 1 {
		return 0
	}
	if configured != 0 {
		return configured
	}
	if g := uint16(os.Getpid()); g != 0 {
		return g
	}
	return 1
}

// interfaceGroup returns the fanout id for the i-th interface. The kernel
// only lets sockets bound to the same device join a group, so each
// interface gets its own id, counting up from base and skipping 0.
func interfaceGroup(base uint16, i int) uint16 {
	if base == 0 {
		return 0
	}
	return uint16((uint32(base)-1+uint32(i))%0xffff + 1)
}

type ringSlot struct {
	iface  string
	worker int
	group  uint16
}

// planRings lists the rings to open: workers per interface, all workers of
// one interface sharing that interface's fanout id.
func planRings(names []string, workers int, base uint16) []ringSlot {
	slots := make([]ringSlot, 0, len(names)*workers)
	for i, name := range names {
		group := interfaceGroup(base, i)
		for w := 0; w < workers; w++ {
			slots = append(slots, ringSlot{iface: name, worker: w, group: group})
		}
	}
	return slots
}

// openLive opens Workers rings per resolved interface and installs the
// prefilter for the initial policy on each.
func (c *Collector) openLive() error {
	// skipMissing=true allows startup when some configured interfaces are absent
	interfaces, err := source.ResolveInterfaces(c.cfg.Capture.Interfaces, true)
	if err != nil {
		slog.Error("resolve interfaces failed", "err", err, "config", c.cfg.Capture.Interfaces)
		return fmt.Errorf("interfaces: %w", err)
	}
	if len(interfaces) == 0 {
		return fmt.Errorf("interfaces: none of %q found", c.cfg.Capture.Interfaces)
	}

	group := fanoutGroup(c.cfg.Capture.FanoutGroup, c.cfg.Capture.Workers)
	policy := policyOf(c.filter.Snapshot())
	names := make([]string, len(interfaces))
	for i, iface := range interfaces {
		names[i] = iface.Name
	}
	for _, slot := range planRings(names, c.cfg.Capture.Workers, group) {
		l, err := source.OpenLive(source.LiveConfig{
			Interface:   slot.iface,
			SnapLen:     c.cfg.Capture.SnapLen,
			BufferMB:    c.cfg.Capture.BufferMB,
			PollTimeout: c.cfg.Capture.PollTimeout,
			FanoutGroup: slot.group,
		})
		if err != nil {
			slog.Error("open capture ring failed", "iface", slot.iface, "worker", slot.worker, "fanout_group", slot.group, "err", err)
			return err
		}
		c.live = append(c.live, l)
		if err := l.SetFilter(policy); err != nil {
			return err
		}
	}
	c.prevCapture = make([]source.CaptureStats, len(c.live))

	msg := "capture started on interfaces"
	if strings.TrimSpace(c.cfg.Capture.Interfaces) == source.AnyInterface {
		msg = "capture started on any (all non-loopback) interfaces"
	}
	slog.Info(msg, "interfaces", source.InterfaceNames(interfaces),
		"workers", c.cfg.Capture.Workers, "fanout_group", group, "policy", policy)
	return nil
}

func (c *Collector) closeLive() {
	for _, l := range c.live {
		l.Close()
	}
	if len(c.live) > 0 {
		slog.Info("capture stopped", "rings", len(c.live))
	}
	c.live = nil
}

// capture feeds every frame read from src to the engine until ctx is done
// or src is exhausted.
func (c *Collector) capture(ctx context.Context, src source.Source) error {
	slog.Debug("capture worker started", "source", src.Name())
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := src.ReadPacket()
		if err != nil {
			if source.IsTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", src.Name(), err)
		}
		c.engine.AttachAndProcessCaptured(c.filter.Snapshot(), data, ci.Length, c.store)
	}
}

// applyPrefilter re-installs the kernel prefilter on every ring after a
// filter change. A ring that rejects the new program keeps its old one;
// the engine still checks every frame against the new policy.
func (c *Collector) applyPrefilter(cfg *engine.Config) {
	policy := policyOf(cfg)
	for _, l := range c.live {
		if err := l.SetFilter(policy); err != nil {
			slog.Warn("prefilter update failed", "iface", l.Name(), "err", err)
		}
	}
}

func policyOf(cfg *engine.Config) engine.Policy {
	if cfg == nil {
		return engine.Policy{}
	}
	return cfg.Policy
}

func (c *Collector) readCaptureStats() {
	for i, l := range c.live {
		cur, err := l.Stats()
		if err != nil {
			slog.Debug("capture stats", "iface", l.Name(), "err", err)
			continue
		}
		prev := c.prevCapture[i]
		name := l.Name()
		if cur.Packets >= prev.Packets {
			c.metrics.capturePacketsTotal.WithLabelValues(name).Add(float64(cur.Packets - prev.Packets))
		}
		if cur.Drops >= prev.Drops {
			c.metrics.captureDropsTotal.WithLabelValues(name).Add(float64(cur.Drops - prev.Drops))
		}
		if cur.Freezes >= prev.Freezes {
			c.metrics.captureFreezesTotal.WithLabelValues(name).Add(float64(cur.Freezes - prev.Freezes))
		}
		c.prevCapture[i] = cur
	}
}

func (c *Collector) updateInterfaceStatusMetric() {
	if len(c.live) == 0 {
		return
	}
	all, err := net.Interfaces()
	if err != nil {
		slog.Debug("interface status metric: list failed", "err", err)
		return
	}
	if strings.TrimSpace(c.cfg.Capture.Interfaces) == source.AnyInterface {
		// Only report existing interfaces; labels for vanished ones are dropped.
		c.metrics.interfaceStatus.Reset()
	}
	for name, status := range interfaceStatus(all, c.cfg.Capture.Interfaces) {
		c.metrics.interfaceStatus.WithLabelValues(name).Set(float64(status))
	}
}

// interfaceStatus reports the configured interfaces (explicit list) or every
// non-loopback interface (any mode) as up, down or not found.
func interfaceStatus(all []net.Interface, list string) map[string]int {
	byName := make(map[string]net.Interface, len(all))
	for _, iface := range all {
		byName[iface.Name] = iface
	}
	var names []string
	if strings.TrimSpace(list) == source.AnyInterface {
		for _, iface := range all {
			if iface.Flags&net.FlagLoopback == 0 {
				names = append(names, iface.Name)
			}
		}
	} else {
		for _, name := range strings.Split(list, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	out := make(map[string]int, len(names))
	for _, name := range names {
		status := InterfaceStatusNotFound
		if iface, ok := byName[name]; ok {
			if iface.Flags&net.FlagUp != 0 {
				status = InterfaceStatusUp
			} else {
				status = InterfaceStatusDown
			}
		}
		out[name] = status
	}
	return out
}
