/*
 *    flowkey.go - flow identity for the TCP dissection and stream-analysis engine
 *
 *    Adapted from HoneyBadger's types.TcpIpFlow (David Stainton, 2014-2015),
 *    itself licensed GPLv3.
 */

package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Direction names one side of a Conversation. The engine assigns Forward to
// whichever endpoint wins the address/port tie-break in FlowKey.Direction.
type Direction uint8

const (
	DirectionForward Direction = iota
	DirectionReverse
)

// FlowKey identifies one direction of a TCP segment: the network-layer flow
// (IPv4 or IPv6, whichever was supplied) and the TCP port flow. It mirrors
// gopacket's own notion of a flow pair, the way TcpIpFlow did in the teacher.
type FlowKey struct {
	netFlow gopacket.Flow
	tcpFlow gopacket.Flow
}

// NewFlowKey builds a FlowKey from a pre-parsed network flow and TCP port flow.
func NewFlowKey(netFlow gopacket.Flow, tcpFlow gopacket.Flow) FlowKey {
	return FlowKey{netFlow: netFlow, tcpFlow: tcpFlow}
}

// NewFlowKeyFromAddrs builds a FlowKey directly from pre-parsed addresses and
// ports, for callers (tests, the segment parser) that don't want to build
// gopacket endpoints themselves. srcIP/dstIP must be 4 bytes (IPv4) or 16
// bytes (IPv6); net.IP of either length is accepted directly.
func NewFlowKeyFromAddrs(srcIP, dstIP net.IP, srcPort, dstPort uint16) FlowKey {
	netFlow, _ := gopacket.FlowFromEndpoints(layers.NewIPEndpoint(srcIP), layers.NewIPEndpoint(dstIP))
	tcpFlow, _ := gopacket.FlowFromEndpoints(
		layers.NewTCPPortEndpoint(layers.TCPPort(srcPort)),
		layers.NewTCPPortEndpoint(layers.TCPPort(dstPort)),
	)
	return FlowKey{netFlow: netFlow, tcpFlow: tcpFlow}
}

// String returns "srcIP:srcPort-dstIP:dstPort".
func (f FlowKey) String() string {
	return fmt.Sprintf("%s:%s-%s:%s", f.netFlow.Src(), f.tcpFlow.Src(), f.netFlow.Dst(), f.tcpFlow.Dst())
}

// Reverse returns the FlowKey for the opposite direction of the same segment.
func (f FlowKey) Reverse() FlowKey {
	return FlowKey{netFlow: f.netFlow.Reverse(), tcpFlow: f.tcpFlow.Reverse()}
}

// Equal reports whether f and g name the same directed flow.
func (f FlowKey) Equal(g FlowKey) bool {
	return f.netFlow == g.netFlow && f.tcpFlow == g.tcpFlow
}

// Flows exposes the component gopacket flows, for callers that need raw
// endpoint access (e.g. checksum pseudo-header construction).
func (f FlowKey) Flows() (gopacket.Flow, gopacket.Flow) {
	return f.netFlow, f.tcpFlow
}

// SrcPort / DstPort return the raw 16-bit TCP ports.
func (f FlowKey) SrcPort() uint16 {
	return binary.BigEndian.Uint16(f.tcpFlow.Src().Raw())
}

func (f FlowKey) DstPort() uint16 {
	return binary.BigEndian.Uint16(f.tcpFlow.Dst().Raw())
}

// SrcIP / DstIP return the raw network-layer address bytes (4 or 16 bytes).
func (f FlowKey) SrcIP() []byte { return f.netFlow.Src().Raw() }
func (f FlowKey) DstIP() []byte { return f.netFlow.Dst().Raw() }

// Direction compares this FlowKey's own source side against its own
// destination side per §4.C: addresses compared first, ties on the
// address broken by srcport > dstport. It returns DirectionForward when this
// FlowKey is already in canonical forward orientation (src wins the compare),
// DirectionReverse otherwise.
func (f FlowKey) Direction() Direction {
	srcIP, dstIP := f.SrcIP(), f.DstIP()
	switch bytes.Compare(srcIP, dstIP) {
	case 1:
		return DirectionForward
	case -1:
		return DirectionReverse
	}
	if f.SrcPort() > f.DstPort() {
		return DirectionForward
	}
	return DirectionReverse
}

// ConversationHash16 is the comparable map key for an IPv6 conversation:
// the unordered pair of 18-byte (16 address + 2 port) endpoints.
type ConversationHash16 struct {
	A [18]byte
	B [18]byte
}

// ConversationHash4 is the comparable map key for an IPv4 conversation: the
// unordered pair of 6-byte (4 address + 2 port) endpoints packed into
// uint64s for cheap comparison, exactly as HashedTcpIpv4Flow did.
type ConversationHash4 struct {
	A uint64
	B uint64
}

func endpoint6(ip, port []byte) [18]byte {
	var b [18]byte
	copy(b[:16], ip)
	copy(b[16:], port)
	return b
}

func endpoint4(ip, port []byte) uint64 {
	var b [8]byte
	copy(b[:4], ip)
	copy(b[4:6], port)
	return binary.BigEndian.Uint64(b[:])
}

// Hash6 returns the unordered IPv6 conversation key for this FlowKey.
func (f FlowKey) Hash6() ConversationHash16 {
	var portA, portB [2]byte
	binary.BigEndian.PutUint16(portA[:], f.SrcPort())
	binary.BigEndian.PutUint16(portB[:], f.DstPort())
	a := endpoint6(f.SrcIP(), portA[:])
	b := endpoint6(f.DstIP(), portB[:])
	if bytes.Compare(a[:], b[:]) > 0 {
		return ConversationHash16{A: a, B: b}
	}
	return ConversationHash16{A: b, B: a}
}

// Hash4 returns the unordered IPv4 conversation key for this FlowKey.
func (f FlowKey) Hash4() ConversationHash4 {
	var portA, portB [2]byte
	binary.BigEndian.PutUint16(portA[:], f.SrcPort())
	binary.BigEndian.PutUint16(portB[:], f.DstPort())
	a := endpoint4(f.SrcIP(), portA[:])
	b := endpoint4(f.DstIP(), portB[:])
	if a > b {
		return ConversationHash4{A: a, B: b}
	}
	return ConversationHash4{A: b, B: a}
}

// IsIPv6 reports whether this FlowKey's network layer is IPv6-sized.
func (f FlowKey) IsIPv6() bool {
	return len(f.SrcIP()) == 16
}
