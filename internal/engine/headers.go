// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package engine

import "encoding/binary"

const (
	ethernetHeaderLen = 14
	ipv4HeaderMinLen  = 20
	ipv4MinIHL        = 5
	tcpHeaderLen      = 20
	udpHeaderLen      = 8

	EtherTypeIPv4 = 0x0800

	ProtoTCP = 6
	ProtoUDP = 17
)

// Headers holds the fields the matcher consumes. Ports are in host order.
// SrcAddr and DstAddr are the last octet of each IPv4 address.
type Headers struct {
	EtherType uint16
	Protocol  uint8
	SrcAddr   uint8
	DstAddr   uint8
	SrcPort   uint16
	DstPort   uint16
}

// Parse walks Ethernet, IPv4 and the TCP or UDP base header of pkt.
// It never reads past len(pkt) and never reads payload.
func Parse(pkt []byte) (Headers, error) {
	var h Headers
	c := newCursor(pkt)
	if err := parseEthernet(&c, &h); err != nil {
		return h, err
	}
	if err := parseIPv4(&c, &h); err != nil {
		return h, err
	}
	if err := parseTransport(&c, &h); err != nil {
		return h, err
	}
	return h, nil
}

func parseEthernet(c *cursor, h *Headers) error {
	b, err := c.view(ethernetHeaderLen)
	if err != nil {
		return ErrBufferTooShort
	}
	h.EtherType = binary.BigEndian.Uint16(b[12:14])
	if h.EtherType != EtherTypeIPv4 {
		return ErrUnsupportedEtherType
	}
	return c.advance(ethernetHeaderLen)
}

// parseIPv4 consumes the full header including options (IHL*4 bytes).
func parseIPv4(c *cursor, h *Headers) error {
	b, err := c.view(ipv4HeaderMinLen)
	if err != nil {
		return ErrBufferTooShort
	}
	ihl := int(b[0] & 0x0F)
	if ihl < ipv4MinIHL {
		return ErrInvalidIPHeader
	}
	h.Protocol = b[9]
	h.SrcAddr = b[15]
	h.DstAddr = b[19]
	// Other protocols stop here, even when their options are truncated.
	if h.Protocol != ProtoTCP && h.Protocol != ProtoUDP {
		return ErrUnsupportedIPProtocol
	}
	if err := c.advance(ihl * 4); err != nil {
		return ErrBufferTooShort
	}
	return nil
}

// parseTransport reads the source and destination ports. Both live in the
// first four bytes of either header, but the full base header must fit.
func parseTransport(c *cursor, h *Headers) error {
	n := udpHeaderLen
	if h.Protocol == ProtoTCP {
		n = tcpHeaderLen
	}
	b, err := c.view(n)
	if err != nil {
		return ErrBufferTooShort
	}
	h.SrcPort = binary.BigEndian.Uint16(b[0:2])
	h.DstPort = binary.BigEndian.Uint16(b[2:4])
	return nil
}
