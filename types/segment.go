package types

import (
	"net"
	"time"
)

// Flags is the 12-bit TCP header flags field: 9 named flags plus 3 reserved
// bits (spec §3 Segment).
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
	FlagReserved0
	FlagReserved1
	FlagReserved2
)

var flagReserved = FlagReserved0 | FlagReserved1 | FlagReserved2

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Letters renders the 12 one-character flag glyphs in N C E U A P R S F
// order with reserved bits first, middle-dot for unset (spec §6 Output
// surface).
func (f Flags) Letters() string {
	order := []struct {
		flag Flags
		ch   byte
	}{
		{FlagReserved0, 'R'}, {FlagReserved1, 'R'}, {FlagReserved2, 'R'},
		{FlagNS, 'N'}, {FlagCWR, 'C'}, {FlagECE, 'E'}, {FlagURG, 'U'},
		{FlagACK, 'A'}, {FlagPSH, 'P'}, {FlagRST, 'R'}, {FlagSYN, 'S'}, {FlagFIN, 'F'},
	}
	b := make([]byte, len(order))
	for i, o := range order {
		if f.Has(o.flag) {
			b[i] = o.ch
		} else {
			b[i] = 0xB7 // placeholder, replaced below with a real middle dot rune
		}
	}
	// Use a rune slice so the middle-dot is encoded correctly (it's not
	// single-byte ASCII); a byte-per-glyph buffer above keeps the set/unset
	// bookkeeping simple and is re-rendered here.
	out := make([]rune, len(order))
	for i, v := range b {
		if v == 0xB7 {
			out[i] = '·'
		} else {
			out[i] = rune(v)
		}
	}
	return string(out)
}

// NameList returns the comma-joined flag name list for the info column
// (spec §6), e.g. "SYN, ACK", with "Reserved" appended when any reserved
// bit is set.
func (f Flags) NameList() string {
	names := []struct {
		flag Flags
		name string
	}{
		{FlagNS, "NS"}, {FlagCWR, "CWR"}, {FlagECE, "ECE"}, {FlagURG, "URG"},
		{FlagACK, "ACK"}, {FlagPSH, "PSH"}, {FlagRST, "RST"}, {FlagSYN, "SYN"}, {FlagFIN, "FIN"},
	}
	var out string
	for _, n := range names {
		if f.Has(n.flag) {
			if out != "" {
				out += ", "
			}
			out += n.name
		}
	}
	if f&flagReserved != 0 {
		if out != "" {
			out += ", "
		}
		out += "Reserved"
	}
	return out
}

// Segment is the immutable per-call input to the engine: a raw TCP segment
// over a pre-parsed IPv4 or IPv6 network layer (spec §3 Segment, §1
// Non-goals: "no link-layer or IP dissection").
type Segment struct {
	SrcIP, DstIP     []byte // 4 or 16 bytes
	SrcPort, DstPort uint16

	Seq uint32
	Ack uint32

	DataOffset uint8 // header length in 32-bit words (the raw nibble)
	Flags      Flags

	Window        uint16
	Checksum      uint16
	UrgentPointer uint16

	Options []byte
	Payload []byte

	// Raw is the full wire TCP segment (header + options + payload), used to
	// verify the checksum against the IP pseudo-header (spec §4.A Checksum).
	// The checksum field (bytes 16-17) must be zeroed by the caller first --
	// VerifyChecksum recomputes it over the zeroed buffer and compares
	// against the Checksum field above. Nil skips verification.
	Raw []byte

	Timestamp time.Time
	Frame     uint64

	Visited    bool
	Fragmented bool
	InErrorPkt bool
}

// FlowKey returns this segment's forward-direction FlowKey.
func (s *Segment) FlowKey() FlowKey {
	return NewFlowKeyFromAddrs(net.IP(s.SrcIP), net.IP(s.DstIP), s.SrcPort, s.DstPort)
}

// SegLen returns the TCP payload length (spec §4.A "segment length").
func (s *Segment) SegLen() int { return len(s.Payload) }
