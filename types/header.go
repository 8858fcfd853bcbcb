package types

import (
	"fmt"

	"github.com/dstainton-tcpflow/tcpflow/options"
)

// ParseError names one of the structural, non-fatal parse outcomes of §7.
// The engine never panics on malformed input; these are returned as values.
type ParseError uint8

const (
	NoParseError ParseError = iota
	ShortSegment
	BogusHeaderLength
	BadChecksum
)

func (e ParseError) String() string {
	switch e {
	case ShortSegment:
		return "ShortSegment"
	case BogusHeaderLength:
		return "BogusHeaderLength"
	case BadChecksum:
		return "BadChecksum"
	default:
		return "none"
	}
}

// ChecksumStatus records the outcome of the pseudo-header checksum check
// (spec §4.A / §7 BadChecksum).
type ChecksumStatus uint8

const (
	ChecksumUnchecked ChecksumStatus = iota
	ChecksumOK
	ChecksumBad
	ChecksumFFFF // RFC 1624 zero/0xFFFF equivalence: warning, desegment still permitted
)

// HeaderRecord is the parsed form of one Segment (spec §4.A / §3). It is
// produced whether or not parsing hit a structural error; Error names which
// one, if any.
type HeaderRecord struct {
	Error ParseError

	HeaderLen  int // data_offset*4, in bytes
	PayloadLen int

	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            Flags
	Window           uint16
	Checksum         uint16
	UrgentPointer    uint16

	ChecksumStatus ChecksumStatus

	Options []options.Option
	Mptcp   *options.MptcpOption // non-nil iff an MPTCP option (kind 30) was present

	SackEdges []options.SackEdge // flattened from Options, bound to <=4 by the option parser

	StreamID uint64

	// RelSeq / RelAck hold seq/ack rewritten relative to the owning flow's
	// base_seq when Config.RelativeSeq is on (spec §6 Output surface,
	// testable property 1). Zero value when relative display is off.
	RelSeq, RelAck uint32
	HasRelative    bool

	// EffectiveWindow is raw_window << win_scale, or raw_window unscaled for
	// SYN segments (spec §4.A "Scaled window"). Until a window-scale option
	// has been observed, Config.DefaultWindowScaling supplies the shift; the
	// window stays unscaled when that is -1 or 0.
	EffectiveWindow uint32

	// TSval / TSecr mirror a Timestamps option (kind 8), omitted when
	// Config.IgnoreTimestamps suppresses them from the info column (spec §6).
	TSval, TSecr  uint32
	HasTimestamps bool
}

// FlagLetters and FlagNames expose the Output-surface renderings (spec §6)
// without requiring callers to reach into Flags directly.
func (h *HeaderRecord) FlagLetters() string { return h.Flags.Letters() }
func (h *HeaderRecord) FlagNames() string   { return h.Flags.NameList() }

// String gives a compact one-line rendering useful in logs and the demo CLI.
func (h *HeaderRecord) String() string {
	if h.Error != NoParseError {
		return fmt.Sprintf("[%s] %d->%d", h.Error, h.SrcPort, h.DstPort)
	}
	return fmt.Sprintf("%d->%d [%s] Seq=%d Ack=%d Win=%d Len=%d",
		h.SrcPort, h.DstPort, h.FlagLetters(), h.Seq, h.Ack, h.Window, h.PayloadLen)
}
