// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

// Package packettest builds Ethernet frames for tests.
package packettest

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	SrcMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	DstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	SrcIP  = net.IP{10, 0, 0, 1}
	DstIP  = net.IP{10, 0, 0, 2}
)

// TCP returns a well-formed Ethernet/IPv4/TCP frame.
func TCP(t testing.TB, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     1,
		ACK:     true,
		Window:  1024,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

// UDP returns a well-formed Ethernet/IPv4/UDP frame.
func UDP(t testing.TB, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(layers.IPProtocolUDP)
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set checksum layer: %v", err)
	}
	return serialize(t, ethernet(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

// ARP returns an ARP request frame (ethertype 0x0806).
func ARP(t testing.TB) []byte {
	t.Helper()
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: SrcIP.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    DstIP.To4(),
	}
	return serialize(t, ethernet(layers.EthernetTypeARP), arp)
}

// Raw hand-assembles a frame with the given ethertype, IPv4 header length
// (in 32-bit words) and protocol, followed by transportLen bytes of
// transport header whose first four bytes carry the ports. IP option bytes
// are filled with 0xde so a parser that ignores IHL reads wrong ports.
// Addresses are 10.0.0.1 -> 10.0.0.2.
func Raw(etherType uint16, ihl int, proto byte, srcPort, dstPort uint16, transportLen int) []byte {
	ipLen := ihl * 4
	if ipLen < 20 {
		ipLen = 20
	}
	b := make([]byte, 14+ipLen+transportLen)
	copy(b[0:6], DstMAC)
	copy(b[6:12], SrcMAC)
	binary.BigEndian.PutUint16(b[12:14], etherType)

	ip := b[14 : 14+ipLen]
	ip[0] = 0x40 | byte(ihl&0x0f)
	binary.BigEndian.PutUint16(ip[2:4], uint16(ipLen+transportLen))
	ip[8] = 64
	ip[9] = proto
	copy(ip[12:16], SrcIP.To4())
	copy(ip[16:20], DstIP.To4())
	for i := 20; i < ipLen; i++ {
		ip[i] = 0xde
	}

	tr := b[14+ipLen:]
	if len(tr) >= 2 {
		binary.BigEndian.PutUint16(tr[0:2], srcPort)
	}
	if len(tr) >= 4 {
		binary.BigEndian.PutUint16(tr[2:4], dstPort)
	}
	return b
}

func ethernet(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: t}
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    SrcIP,
		DstIP:    DstIP,
	}
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize frame: %v", err)
	}
	return buf.Bytes()
}
