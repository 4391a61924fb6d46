// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package engine

import "errors"

// Per-packet outcomes. None of these reach the packet path; they only decide
// that no sample is recorded and which outcome counter is bumped.
var (
	ErrOutOfBounds           = errors.New("engine: read past end of packet")
	ErrBufferTooShort        = errors.New("engine: buffer too short for header")
	ErrUnsupportedEtherType  = errors.New("engine: unsupported ethertype")
	ErrUnsupportedIPProtocol = errors.New("engine: unsupported ip protocol")
	ErrInvalidIPHeader       = errors.New("engine: ipv4 header length below minimum")
	ErrNoMatch               = errors.New("engine: no filter match")
)
