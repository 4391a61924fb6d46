// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package source

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/portsample-ebpf/internal/engine"
)

// pcapng section header block type
const ngMagic = 0x0a0d0d0a

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Replay reads frames from a pcap or pcapng file. It returns io.EOF after
// the last frame.
type Replay struct {
	name string
	f    *os.File
	r    packetReader
}

func OpenReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read capture header %s: %w", path, err)
	}

	var r packetReader
	if binary.BigEndian.Uint32(magic) == ngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse capture %s: %w", path, err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("%w: %s has link type %s", ErrUnsupportedLinkType, path, r.LinkType())
	}
	return &Replay{name: path, f: f, r: r}, nil
}

func (r *Replay) Name() string {
	return r.name
}

func (r *Replay) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	return r.r.ReadPacketData()
}

// SetFilter is a no-op: every frame in the file reaches the engine.
func (r *Replay) SetFilter(engine.Policy) error {
	return nil
}

func (r *Replay) Close() error {
	return r.f.Close()
}
