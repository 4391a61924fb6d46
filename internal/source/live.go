// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package source

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"

	"github.com/portsample-ebpf/internal/engine"
)

const (
	DefaultSnapLen     = 128
	DefaultBufferMB    = 8
	DefaultPollTimeout = 100 * time.Millisecond
)

// LiveConfig describes one AF_PACKET ring. Rings sharing a non-zero
// FanoutGroup on the same interface split its traffic by flow hash.
type LiveConfig struct {
	Interface   string
	SnapLen     int
	BufferMB    int
	PollTimeout time.Duration
	FanoutGroup uint16
}

// Live is a TPACKET_V3 ring bound to one interface.
type Live struct {
	name    string
	snapLen int
	tp      *afpacket.TPacket
}

// CaptureStats are the ring's kernel counters since it was opened.
type CaptureStats struct {
	Packets uint64
	Drops   uint64
	Freezes uint64
}

func OpenLive(cfg LiveConfig) (*Live, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = DefaultSnapLen
	}
	if cfg.BufferMB <= 0 {
		cfg.BufferMB = DefaultBufferMB
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	frameSize, blockSize, numBlocks, err := ringSize(cfg.BufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open ring on %s: %w", cfg.Interface, err)
	}
	if cfg.FanoutGroup != 0 {
		if err := tp.SetFanout(afpacket.FanoutHash, cfg.FanoutGroup); err != nil {
			tp.Close()
			return nil, fmt.Errorf("join fanout group %d on %s: %w", cfg.FanoutGroup, cfg.Interface, err)
		}
	}
	slog.Debug("capture ring opened", "iface", cfg.Interface, "frame_size", frameSize,
		"block_size", blockSize, "blocks", numBlocks, "fanout_group", cfg.FanoutGroup)
	return &Live{name: cfg.Interface, snapLen: cfg.SnapLen, tp: tp}, nil
}

func (l *Live) Name() string {
	return l.name
}

// ReadPacket returns a view into the ring. CaptureInfo.Length is the wire
// length; the data may be shorter when the frame exceeded the snap length.
func (l *Live) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return l.tp.ZeroCopyReadPacketData()
}

// SetFilter replaces the socket filter with the prefilter for p.
func (l *Live) SetFilter(p engine.Policy) error {
	raw, err := AssemblePrefilter(p, l.snapLen)
	if err != nil {
		return err
	}
	if err := l.tp.SetBPF(raw); err != nil {
		return fmt.Errorf("attach prefilter on %s: %w", l.name, err)
	}
	return nil
}

func (l *Live) Stats() (CaptureStats, error) {
	_, v3, err := l.tp.SocketStats()
	if err != nil {
		return CaptureStats{}, fmt.Errorf("socket stats on %s: %w", l.name, err)
	}
	return CaptureStats{
		Packets: uint64(v3.Packets()),
		Drops:   uint64(v3.Drops()),
		Freezes: uint64(v3.QueueFreezes()),
	}, nil
}

func (l *Live) Close() error {
	l.tp.Close()
	return nil
}
