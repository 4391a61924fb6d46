// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package source delivers raw Ethernet frames to the engine, either from
// AF_PACKET rings on live interfaces or from pcap files.
package source

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"

	"github.com/portsample-ebpf/internal/engine"
)

var (
	ErrUnsupportedLinkType = errors.New("source: only Ethernet captures are supported")
	ErrInvalidRing         = errors.New("source: invalid ring parameters")
)

// Source is read by exactly one goroutine. The data returned by ReadPacket
// may be borrowed and is only valid until the next call.
type Source interface {
	Name() string
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	// SetFilter narrows delivery to frames the policy could match. Sources
	// without a kernel filter accept it and deliver everything.
	SetFilter(p engine.Policy) error
	Close() error
}

// IsTimeout reports whether err is a ring poll timeout, after which the
// reader should check for cancellation and read again.
func IsTimeout(err error) bool {
	return errors.Is(err, afpacket.ErrTimeout)
}
