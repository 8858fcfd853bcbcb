// Package options implements the TCP option parser table (spec §4.B): a
// dispatch on option kind into typed sub-records, following the same
// "decode once into a typed value" idiom the teacher applies to the fixed
// TCP/IP header via gopacket/layers, generalized here to the variable-length
// option area gopacket itself leaves as an opaque byte slice.
package options

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

// Kind names a TCP option kind. The numeric values are exactly
// layers.TCPOptionKind's values; re-using that teacher dependency instead of
// re-declaring a parallel enum keeps this table grounded in gopacket rather
// than inventing a second source of truth for option numbering.
type Kind = layers.TCPOptionKind

const (
	KindEOL                  = layers.TCPOptionKindEndList
	KindNOP                  = layers.TCPOptionKindNop
	KindMSS                  = layers.TCPOptionKindMSS
	KindWindowScale          = layers.TCPOptionKindWindowScale
	KindSACKPermitted        = layers.TCPOptionKindSACKPermitted
	KindSACK                 = layers.TCPOptionKindSACK
	KindEcho                 = layers.TCPOptionKindEcho
	KindEchoReply            = layers.TCPOptionKindEchoReply
	KindTimestamps           = layers.TCPOptionKindTimestamps
	KindCC                   = layers.TCPOptionKindCC
	KindCCNew                = layers.TCPOptionKindCCNew
	KindCCEcho               = layers.TCPOptionKindCCEcho
	KindMD5Signature  byte   = 19
	KindSCPSCapable   byte   = 20
	KindSCPSSNACK     byte   = 21
	KindSCPSRecord    byte   = 22
	KindSCPSCorrupt   byte   = 23
	KindQuickStart    byte   = 27
	KindUserTimeout   byte   = 28
	KindMPTCP         byte   = 30
	KindTFO           byte   = 34
	KindRiverbedProbe byte   = 76
	KindRiverbedTrans byte   = 78
	KindExperiment253 byte  = 253
	KindExperiment254 byte  = 254
)

// Option is the tagged-sum parser output for one TCP option (spec §9 "Dynamic
// dispatch on option kind"). Parsed holds one of the typed structs below
// (Unknown for kinds not in the table), or nil for EOL/NOP and for options
// rejected before decoding. Malformed is set by OptionLengthInvalid-class
// conditions (§7); when set, Parsed may still carry a partial decode.
type Option struct {
	Kind      byte
	RawLen    int // the wire "len" byte, including kind+len octets (0 for EOL, 1 for NOP)
	Payload   []byte
	Parsed    interface{}
	Malformed bool
	Notes     []string // info-column annotations, e.g. "4 consecutive NOPs"
}

type MSS struct{ Value uint16 }

type WindowScale struct {
	Shift   uint8
	Clamped bool // shift > 14 was clamped to 14 (RFC 1323)
}

type SACKPermitted struct{}

type SackEdge struct{ Left, Right uint32 }

// Sack holds up to 4 SACK edge pairs (spec §4.B bound).
type Sack struct{ Edges []SackEdge }

type Timestamps struct{ TSval, TSecr uint32 }

type Echo struct{ Value uint32 }
type EchoReply struct{ Value uint32 }
type CC struct{ Value uint32 }
type CCNew struct{ Value uint32 }
type CCEcho struct{ Value uint32 }

type MD5Signature struct{ Digest [16]byte }

type ScpsCapabilities struct {
	Bets, Snack1, Snack2, Comp, Nlts bool
	ConnectionID                     uint8
}

type ScpsSnack struct {
	Hole      uint16
	HoleStart uint16 // raw wire value; not scaled by maxsizeacked
}

type QuickStart struct {
	RateNibble uint8
	TTLDiff    uint8
	QSNonce    uint32
}

type UserTimeout struct {
	GranularityMinutes bool // granularity bit: true = minutes, false = seconds
	Value              uint16
}

type TFO struct {
	Request bool
	Cookie  []byte
}

type RiverbedProbe struct {
	ProbeType uint8
	Payload   []byte
}

type RiverbedTransparency struct {
	InnerSrcIP   []byte
	InnerDstIP   []byte
	InnerSrcPort uint16
	InnerDstPort uint16
}

type Experimental struct {
	HasMagic bool
	Magic    uint16
	Payload  []byte
}

// Unknown is the fallback for any kind not in the table.
type Unknown struct {
	Payload []byte
}

// ParseConfig carries the subset of engine Config that affects option
// parsing, so this package stays independent of the engine package.
type ParseConfig struct {
	ExpOptionsWithMagic bool
}

// ParseOptions decodes the options byte range of a TCP header (spec §4.B).
// It never aborts on an unknown kind; it does stop once a length byte would
// run past the end of buf (OptionLengthInvalid, §7), returning everything
// decoded so far.
func ParseOptions(buf []byte, cfg ParseConfig) []Option {
	var out []Option
	nopRun := 0
	i := 0
	for i < len(buf) {
		kind := buf[i]
		if kind == byte(KindEOL) {
			out = append(out, Option{Kind: kind})
			break
		}
		if kind == byte(KindNOP) {
			nopRun++
			opt := Option{Kind: kind, RawLen: 1}
			if nopRun == 4 {
				opt.Notes = append(opt.Notes, "4 consecutive NOPs (possible middlebox stripping)")
			}
			out = append(out, opt)
			i++
			continue
		}
		nopRun = 0
		if i+1 >= len(buf) {
			// no room for a length byte at all.
			out = append(out, Option{Kind: kind, Malformed: true, Notes: []string{"option length invalid: truncated"}})
			break
		}
		optLen := int(buf[i+1])
		if optLen < 2 || i+optLen > len(buf) {
			out = append(out, Option{Kind: kind, RawLen: optLen, Malformed: true, Notes: []string{"option length invalid"}})
			break
		}
		payload := buf[i+2 : i+optLen]
		out = append(out, decode(kind, optLen, payload, cfg))
		i += optLen
	}
	return out
}

func decode(kind byte, optLen int, payload []byte, cfg ParseConfig) Option {
	opt := Option{Kind: kind, RawLen: optLen, Payload: payload}
	switch kind {
	case byte(KindMSS):
		if len(payload) != 2 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = MSS{Value: binary.BigEndian.Uint16(payload)}
	case byte(KindWindowScale):
		if len(payload) != 1 {
			opt.Malformed = true
			return opt
		}
		shift := payload[0]
		clamped := false
		if shift > 14 {
			shift = 14
			clamped = true
			opt.Notes = append(opt.Notes, "window scale shift clamped to 14")
		}
		opt.Parsed = WindowScale{Shift: shift, Clamped: clamped}
	case byte(KindSACKPermitted):
		opt.Parsed = SACKPermitted{}
	case byte(KindSACK):
		opt.Parsed = decodeSack(payload, &opt)
	case byte(KindEcho):
		if len(payload) != 4 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = Echo{Value: binary.BigEndian.Uint32(payload)}
	case byte(KindEchoReply):
		if len(payload) != 4 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = EchoReply{Value: binary.BigEndian.Uint32(payload)}
	case byte(KindTimestamps):
		if len(payload) != 8 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = Timestamps{TSval: binary.BigEndian.Uint32(payload[0:4]), TSecr: binary.BigEndian.Uint32(payload[4:8])}
	case byte(KindCC):
		if len(payload) != 4 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = CC{Value: binary.BigEndian.Uint32(payload)}
	case byte(KindCCNew):
		if len(payload) != 4 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = CCNew{Value: binary.BigEndian.Uint32(payload)}
	case byte(KindCCEcho):
		if len(payload) != 4 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = CCEcho{Value: binary.BigEndian.Uint32(payload)}
	case KindMD5Signature:
		if len(payload) != 16 {
			opt.Malformed = true
			return opt
		}
		var d [16]byte
		copy(d[:], payload)
		opt.Parsed = MD5Signature{Digest: d}
	case KindSCPSCapable:
		if len(payload) < 2 {
			opt.Malformed = true
			return opt
		}
		flags := payload[0]
		opt.Parsed = ScpsCapabilities{
			Bets:          flags&0x80 != 0,
			Snack1:        flags&0x40 != 0,
			Snack2:        flags&0x20 != 0,
			Comp:          flags&0x10 != 0,
			Nlts:          flags&0x08 != 0,
			ConnectionID:  payload[1],
		}
	case KindSCPSSNACK:
		if len(payload) != 4 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = ScpsSnack{
			HoleStart: binary.BigEndian.Uint16(payload[0:2]),
			Hole:      binary.BigEndian.Uint16(payload[2:4]),
		}
	case KindSCPSRecord, KindSCPSCorrupt:
		opt.Parsed = Unknown{Payload: payload}
	case KindQuickStart:
		if len(payload) != 6 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = QuickStart{
			RateNibble: payload[0] & 0x0F,
			TTLDiff:    payload[1],
			QSNonce:    binary.BigEndian.Uint32(payload[2:6]) >> 2,
		}
	case KindUserTimeout:
		if len(payload) != 2 {
			opt.Malformed = true
			return opt
		}
		raw := binary.BigEndian.Uint16(payload)
		opt.Parsed = UserTimeout{GranularityMinutes: raw&0x8000 != 0, Value: raw & 0x7FFF}
	case KindMPTCP:
		opt.Parsed = decodeMptcpOption(payload, &opt)
	case KindTFO:
		if len(payload) == 0 {
			opt.Parsed = TFO{Request: true}
		} else {
			opt.Parsed = TFO{Cookie: payload}
		}
	case KindRiverbedProbe:
		if len(payload) < 1 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = RiverbedProbe{ProbeType: payload[0], Payload: payload[1:]}
	case KindRiverbedTrans:
		if len(payload) < 14 {
			opt.Malformed = true
			return opt
		}
		opt.Parsed = RiverbedTransparency{
			InnerSrcPort: binary.BigEndian.Uint16(payload[0:2]),
			InnerDstPort: binary.BigEndian.Uint16(payload[2:4]),
			InnerSrcIP:   payload[4:8],
			InnerDstIP:   payload[8:12],
		}
	case KindExperiment253, KindExperiment254:
		if cfg.ExpOptionsWithMagic && len(payload) >= 2 {
			opt.Parsed = Experimental{HasMagic: true, Magic: binary.BigEndian.Uint16(payload[0:2]), Payload: payload[2:]}
		} else {
			opt.Parsed = Experimental{Payload: payload}
		}
	default:
		opt.Parsed = Unknown{Payload: payload}
	}
	return opt
}

// decodeSack parses SACK edge pairs (§4.B, ≤4 edges). An odd remainder after
// consuming full 8-byte edges is SubOptionMalformed at the partial edge.
func decodeSack(payload []byte, opt *Option) Sack {
	var sack Sack
	n := len(payload) / 8
	if n > 4 {
		n = 4
	}
	for i := 0; i < n; i++ {
		edge := payload[i*8 : i*8+8]
		sack.Edges = append(sack.Edges, SackEdge{
			Left:  binary.BigEndian.Uint32(edge[0:4]),
			Right: binary.BigEndian.Uint32(edge[4:8]),
		})
	}
	if len(payload)%8 != 0 {
		opt.Malformed = true
		opt.Notes = append(opt.Notes, "SACK: odd trailing bytes at partial edge")
	}
	return sack
}
