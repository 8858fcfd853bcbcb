package types

import "time"

// StaticFlags records facts about a FlowState that, once set, are never
// cleared (spec §3 FlowState.static_flags).
type StaticFlags uint8

const (
	BaseSeqSet StaticFlags = 1 << iota
	SawSyn
	SawSynAck
)

// FlowFlags records mutable per-direction mode bits (spec §3 FlowState.flags).
type FlowFlags uint8

const (
	ReassembleUntilFin FlowFlags = 1 << iota
)

// UnackedSegment is one entry of FlowState.UnackedSegments (spec §3).
type UnackedSegment struct {
	Frame   uint64
	Seq     Sequence
	NextSeq Sequence
	Ts      time.Time
}

// MaxUnackedSegments bounds FlowState.UnackedSegments (spec §3/§5). Once the
// list is full, PushUnacked drops each further segment (the ones already
// tracked are kept) and clears ValidBif.
const MaxUnackedSegments = 10000

// MSPFlags are the status bits of one Multisegment PDU (spec §3 MSP.flags).
type MSPFlags uint8

const (
	ReassembleEntireSegment MSPFlags = 1 << iota
	MissingFirstSegment
	GotAllSegments
)

// MSP (Multisegment PDU) tracks one application-layer PDU spanning multiple
// TCP segments (spec §3 MSP, GLOSSARY). The half-open range [Seq, NxtPdu)
// identifies the bytes it owns (invariant 5).
type MSP struct {
	Seq               Sequence
	NxtPdu            Sequence
	FirstFrame        uint64
	FirstFrameWithSeq uint64
	LastFrame         uint64
	LastFrameTime     time.Time
	Flags             MSPFlags

	// Callback is the subdissector this MSP was opened for (spec §4.E /
	// §4.H). Invoked once the reassembler has GotAllSegments, or once when
	// REASSEMBLE_UNTIL_FIN finalizes on the direction's FIN.
	Callback Subdissector

	// buffered holds bytes received so far, keyed by offset from Seq, used
	// by the reassembler to detect GotAllSegments once contiguous from 0 to
	// NxtPdu-Seq. Not part of the spec data model proper, but the storage
	// the reassembler needs to implement it; kept here since MSP already
	// owns the byte range it's responsible for.
	buffered map[int][]byte
}

func (m *MSP) Has(flag MSPFlags) bool { return m.Flags&flag != 0 }
func (m *MSP) Set(flag MSPFlags)      { m.Flags |= flag }
func (m *MSP) Clear(flag MSPFlags)    { m.Flags &^= flag }

// Len returns the number of bytes this MSP spans.
func (m *MSP) Len() int { return m.Seq.Difference(m.NxtPdu) }

// PutFragment stores a fragment at the given offset from Seq.
func (m *MSP) PutFragment(offset int, data []byte) {
	if m.buffered == nil {
		m.buffered = make(map[int][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.buffered[offset] = cp
}

// Assemble concatenates all buffered fragments covering [0, want) in order,
// returning the contiguous prefix and whether it's complete.
func (m *MSP) Assemble(want int) ([]byte, bool) {
	out := make([]byte, 0, want)
	pos := 0
	for pos < want {
		frag, ok := m.buffered[pos]
		if !ok {
			return out, false
		}
		take := frag
		if pos+len(take) > want {
			take = take[:want-pos]
		}
		out = append(out, take...)
		pos += len(take)
	}
	return out, true
}

// FlowState is the per-direction sequence/reassembly state for one side of a
// Conversation (spec §3 FlowState).
type FlowState struct {
	BaseSeq     Sequence
	StaticFlags StaticFlags

	NextSeq      Sequence
	NextSeqFrame uint64
	NextSeqTime  time.Time

	LastAck       Sequence
	LastAckTime   time.Time
	LastNonDupAck Sequence
	DupAckNum     int
	DupAckFrame   uint64

	// LastSegWasKeepAlive / LastSegWasZWP record whether the most recent
	// segment *sent in this direction* was classified KEEP_ALIVE /
	// ZERO_WINDOW_PROBE, consulted by the reverse direction's rule 7
	// disambiguation (spec §4.D).
	LastSegWasKeepAlive bool
	LastSegWasZWP       bool
	LastDupAckTime      time.Time

	MaxSeqToBeAcked Sequence

	Window   uint16
	WinScale int8 // -1 unknown, -2 not scaled, 0..14

	ValidBif bool

	PushBytesSent uint64
	PushSetLast   bool

	UnackedSegments []UnackedSegment

	ScpsCapable  bool
	MaxSizeAcked uint32

	// MultisegmentPDUs is the ordered map "seq -> MSP" from spec §3,
	// represented as a slice sorted ascending by Seq.
	MultisegmentPDUs []*MSP

	Fin uint64 // frame number, 0 if no FIN seen yet

	Flags FlowFlags

	MaxNextSeq Sequence // highest contiguous-reassembly frontier (OoO mode)

	MptcpSubflow *MptcpSubflow

	ProcessInfo *ProcessInfo
}

// ProcessInfo carries optional IPFIX-sourced process annotations (spec §3).
type ProcessInfo struct {
	User, Command string
	PID, UID      uint32
}

// NewFlowState returns a zeroed FlowState with window scale "unknown".
func NewFlowState() *FlowState {
	return &FlowState{
		BaseSeq:         InvalidSequence,
		NextSeq:         InvalidSequence,
		LastAck:         InvalidSequence,
		LastNonDupAck:   InvalidSequence,
		MaxSeqToBeAcked: InvalidSequence,
		MaxNextSeq:      InvalidSequence,
		WinScale:        -1,
		ValidBif:        true,
	}
}

func (f *FlowState) HasBaseSeq() bool { return f.StaticFlags&BaseSeqSet != 0 }

// SetBaseSeq sets base_seq exactly once per direction (invariant 2).
func (f *FlowState) SetBaseSeq(seq Sequence) {
	if f.HasBaseSeq() {
		return
	}
	f.BaseSeq = seq
	f.StaticFlags |= BaseSeqSet
}

// ScaledWindow applies WinScale to Window, per §4.A (never for SYN segments,
// handled by the caller).
func (f *FlowState) ScaledWindow() uint32 {
	if f.WinScale <= 0 {
		return uint32(f.Window)
	}
	return uint32(f.Window) << uint(f.WinScale)
}

// PushUnacked appends a segment to UnackedSegments, enforcing the cap and
// invalidating BiF tracking on overflow (spec §5).
func (f *FlowState) PushUnacked(u UnackedSegment) {
	if len(f.UnackedSegments) >= MaxUnackedSegments {
		f.ValidBif = false
		return
	}
	f.UnackedSegments = append(f.UnackedSegments, u)
}

// FindMSPLessEqual returns the MSP with the greatest Seq <= seq, per the
// reassembler's primary lookup (spec §4.E).
func (f *FlowState) FindMSPLessEqual(seq Sequence) *MSP {
	var best *MSP
	for _, m := range f.MultisegmentPDUs {
		if m.Seq.Difference(seq) >= 0 {
			if best == nil || best.Seq.Difference(m.Seq) > 0 {
				best = m
			}
		}
	}
	return best
}

// InsertMSP inserts m keeping MultisegmentPDUs sorted ascending by Seq.
func (f *FlowState) InsertMSP(m *MSP) {
	i := 0
	for i < len(f.MultisegmentPDUs) && f.MultisegmentPDUs[i].Seq.Difference(m.Seq) > 0 {
		i++
	}
	f.MultisegmentPDUs = append(f.MultisegmentPDUs, nil)
	copy(f.MultisegmentPDUs[i+1:], f.MultisegmentPDUs[i:])
	f.MultisegmentPDUs[i] = m
}
