// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package records writes drained samples out of process, one CSV line per
// sample.
package records

import (
	"context"
	"strconv"

	"github.com/portsample-ebpf/internal/types"
)

// Header names the CSV columns. Address columns are empty when addresses
// were not captured.
const Header = "timestamp_ns,length,src_addr,dst_addr,src_port,dst_port,direction"

// Sink receives each drained batch in key order.
type Sink interface {
	Write(ctx context.Context, evs []types.Event) error
	Close() error
}

// AppendCSV appends the CSV line for ev, without a trailing newline.
func AppendCSV(dst []byte, ev types.Event) []byte {
	dst = strconv.AppendUint(dst, ev.TimestampNs, 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(ev.Length), 10)
	dst = append(dst, ',')
	if ev.HasAddrs {
		dst = strconv.AppendUint(dst, uint64(ev.SrcAddr), 10)
	}
	dst = append(dst, ',')
	if ev.HasAddrs {
		dst = strconv.AppendUint(dst, uint64(ev.DstAddr), 10)
	}
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(ev.SrcPort), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(ev.DstPort), 10)
	dst = append(dst, ',')
	return strconv.AppendUint(dst, uint64(ev.Direction), 10)
}
