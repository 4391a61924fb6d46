// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package types

// Direction classifies a matched sample relative to the configured ports.
// Values match the direction byte of EventRecord.
type Direction uint8

const (
	DirNone    Direction = 0
	DirIngress Direction = 1
	DirEgress  Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirIngress:
		return "ingress"
	case DirEgress:
		return "egress"
	default:
		return "none"
	}
}

// Event is one emitted sample. Ports are in host order. SrcAddr/DstAddr hold
// only the lowest-order octet of the IPv4 address and are meaningful only
// when HasAddrs is set.
type Event struct {
	TimestampNs uint64
	SrcPort     uint16
	DstPort     uint16
	Length      uint32
	Direction   Direction
	HasAddrs    bool
	SrcAddr     uint8
	DstAddr     uint8
}

// EventRecord matches the value layout of the sample_store map (12 bytes).
// The key (timestamp_ns) is stored separately as the map key.
type EventRecord struct {
	SrcPort   uint16
	DstPort   uint16
	Length    uint32
	Direction uint8
	Flags     uint8
	SrcAddr   uint8
	DstAddr   uint8
}

const (
	RecordFlagAddrs = 1 << 0
)

// Record converts an Event into its map value layout.
func (e Event) Record() EventRecord {
	r := EventRecord{
		SrcPort:   e.SrcPort,
		DstPort:   e.DstPort,
		Length:    e.Length,
		Direction: uint8(e.Direction),
	}
	if e.HasAddrs {
		r.Flags |= RecordFlagAddrs
		r.SrcAddr = e.SrcAddr
		r.DstAddr = e.DstAddr
	}
	return r
}

// Event rebuilds the sample stored under key ts.
func (r EventRecord) Event(ts uint64) Event {
	return Event{
		TimestampNs: ts,
		SrcPort:     r.SrcPort,
		DstPort:     r.DstPort,
		Length:      r.Length,
		Direction:   Direction(r.Direction),
		HasAddrs:    r.Flags&RecordFlagAddrs != 0,
		SrcAddr:     r.SrcAddr,
		DstAddr:     r.DstAddr,
	}
}

// Engine outcome counter indices. Every packet handed to the engine bumps
// StatPacketsSeen and exactly one of the outcome slots. StatStoreRejected
// additionally counts emitted samples the store refused.
const (
	StatPacketsSeen      = 0
	StatTooShort         = 1
	StatIgnoredEtherType = 2
	StatIgnoredProtocol  = 3
	StatInvalidHeader    = 4
	StatUnmatched        = 5
	StatEmitted          = 6
	StatStoreRejected    = 7
	NumStats             = 8
)
