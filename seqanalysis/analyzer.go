// Package seqanalysis implements the per-direction sequence-number
// analyzer (spec §4.D): the ordered anomaly-classification rule set run
// against a segment and the FlowState of the direction it belongs to.
//
// The branching style is carried over from HoneyBadger's
// stateDataTransfer, which dispatches purely on types.Sequence.Difference
// between the observed seq/ack and the flow's tracked next-seq/last-ack;
// this package generalizes that same idiom from a 3-way-handshake FSM into
// the richer anomaly-group classification the spec requires.
package seqanalysis

import (
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

// DefaultOOOThreshold is the out-of-order timing window used until a
// direction's ts_first_rtt is known (spec §4.D rule 9 OUT_OF_ORDER; "default
// 3 ms").
const DefaultOOOThreshold = 3 * time.Millisecond

// FastRetransmissionWindow bounds how soon after the most recent duplicate
// ACK (with at least two seen on the reverse direction) a resend must arrive
// to count as FAST_RETRANSMISSION (spec §4.D rule 9).
const FastRetransmissionWindow = 20 * time.Millisecond

// BifCeiling is the upper bound past which a computed bytes-in-flight value
// is considered bogus and withheld (spec §4.D "emits it ... when >0 and
// <2x10^9").
const BifCeiling = 2_000_000_000

// Input is everything the analyzer needs about one segment, already
// rewritten into the terms FlowState tracks.
type Input struct {
	Seq, Ack uint32
	SegLen   int
	Window   uint32 // already scaled, per §4.A
	SYN, FIN, RST, ACK, PSH bool
	Frame    uint64
	Ts       time.Time
}

// Config is the subset of engine configuration driving this package (spec
// §6: track_bytes_in_flight).
type Config struct {
	TrackBytesInFlight bool
}

// Analyzer runs the rule set of spec §4.D. It carries no state of its own;
// all state lives on the FlowState pair passed to Run.
type Analyzer struct {
	cfg          Config
	OOOThreshold time.Duration // overridden per-conversation to max(this, ts_first_rtt)
}

// New returns an Analyzer using the default OoO threshold.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg, OOOThreshold: DefaultOOOThreshold}
}

// Run classifies in against fwd (the direction the segment belongs to) and
// rev (the other direction), mutating both per spec §4.D, and returns the
// AnalysisRecord to attach to this packet. firstRTT is the conversation's
// ts_first_rtt, if known (spec §9 Open Question: OoO threshold takes
// max(oooThreshold, ts_first_rtt), exactly as specified, not tunable).
func (a *Analyzer) Run(fwd, rev *types.FlowState, in Input, firstRTT *time.Duration) *types.AnalysisRecord {
	rec := &types.AnalysisRecord{}
	seq := types.Sequence(in.Seq)

	switch {
	case in.SegLen == 1 && fwd.NextSeq != types.InvalidSequence && seq.Difference(fwd.NextSeq) == 0 && rev.Window == 0:
		rec.Flags |= types.ZeroWindowProbe

	case in.Window == 0 && !in.SYN && !in.FIN && !in.RST:
		rec.Flags |= types.ZeroWindow

	case fwd.NextSeq != types.InvalidSequence && fwd.NextSeq > 0 && seq.Difference(fwd.NextSeq) < 0 && !in.RST:
		rec.Flags |= types.LostPacket
		fwd.ValidBif = false

	case (in.SegLen == 0 || in.SegLen == 1) && fwd.NextSeq != types.InvalidSequence &&
		seq.Difference(fwd.NextSeq.Add(-1)) == 0 && !in.SYN && !in.FIN && !in.RST:
		rec.Flags |= types.KeepAlive

	case in.SegLen == 0 && uint32(in.Window) != uint32(fwd.Window) && fwd.NextSeq != types.InvalidSequence &&
		seq.Difference(fwd.NextSeq) == 0 && fwd.LastAck != types.InvalidSequence && types.Sequence(in.Ack).Difference(fwd.LastAck) == 0 &&
		!in.SYN && !in.FIN && !in.RST:
		rec.Flags |= types.WindowUpdate

	case in.SegLen > 0 && rev.LastAck != types.InvalidSequence &&
		seq.Add(in.SegLen).Difference(rev.LastAck.Add(int(rev.ScaledWindow()))) == 0 &&
		!in.SYN && !in.FIN && !in.RST:
		rec.Flags |= types.WindowFull

	case in.SegLen == 0 && uint32(in.Window) == uint32(fwd.Window) && fwd.NextSeq != types.InvalidSequence &&
		seq.Difference(fwd.NextSeq) == 0 && fwd.LastAck != types.InvalidSequence && types.Sequence(in.Ack).Difference(fwd.LastAck) == 0:
		classifyDupShape(fwd, rev, in, rec)

	default:
		if rev.MaxSeqToBeAcked != types.InvalidSequence && rev.MaxSeqToBeAcked > 0 &&
			types.Sequence(in.Ack).Difference(rev.MaxSeqToBeAcked) < 0 && in.ACK {
			rec.Flags |= types.AckLostPacket
			rev.MaxSeqToBeAcked = types.Sequence(in.Ack)
		}
		if (in.SegLen > 0 || in.SYN || in.FIN) && fwd.NextSeq != types.InvalidSequence &&
			seq.Difference(fwd.NextSeq) > 0 && !rec.Flags.Has(types.KeepAlive) {
			classifyRetransmission(fwd, rev, in, rec, a.effectiveThreshold(firstRTT))
		}
	}

	a.advance(fwd, rev, in, rec)
	return rec
}

func (a *Analyzer) effectiveThreshold(firstRTT *time.Duration) time.Duration {
	if firstRTT != nil && *firstRTT > a.OOOThreshold {
		return *firstRTT
	}
	return a.OOOThreshold
}

// classifyDupShape distinguishes KEEP_ALIVE_ACK / ZERO_WINDOW_PROBE_ACK /
// DUPLICATE_ACK, all of which share the same seq/ack/window shape (spec
// §4.D rule 7): preference goes to KA-ACK if the reverse direction's most
// recent segment was a keep-alive, then ZWP-ACK if it was a ZWP and both
// windows are currently zero, else plain DUPLICATE_ACK with a counter that
// resets whenever ack advances.
func classifyDupShape(fwd, rev *types.FlowState, in Input, rec *types.AnalysisRecord) {
	switch {
	case rev.LastSegWasKeepAlive:
		rec.Flags |= types.KeepAliveAck
	case rev.LastSegWasZWP && in.Window == 0 && rev.Window == 0:
		rec.Flags |= types.ZeroWindowProbeAck
	default:
		rec.Flags |= types.DuplicateAck
		if fwd.LastNonDupAck != types.InvalidSequence && types.Sequence(in.Ack).Difference(fwd.LastNonDupAck) == 0 {
			fwd.DupAckNum++
		} else {
			fwd.DupAckNum = 1
			fwd.LastNonDupAck = types.Sequence(in.Ack)
			fwd.DupAckFrame = in.Frame
		}
		rec.DupAckNum = fwd.DupAckNum
		rec.DupAckFrame = fwd.DupAckFrame
	}
}

// classifyRetransmission implements spec §4.D rule 9's three-way split plus
// the plain-RETRANSMISSION fallback.
func classifyRetransmission(fwd, rev *types.FlowState, in Input, rec *types.AnalysisRecord, threshold time.Duration) {
	switch {
	case rev.DupAckNum >= 2 && !rev.LastDupAckTime.IsZero() && in.Ts.Sub(rev.LastDupAckTime) < FastRetransmissionWindow:
		rec.Flags |= types.FastRetransmission

	case !fwd.NextSeqTime.IsZero() && in.Ts.Sub(fwd.NextSeqTime) < threshold &&
		fwd.NextSeq.Difference(types.Sequence(in.Seq).Add(in.SegLen)) != 0:
		rec.Flags |= types.OutOfOrder

	case in.SegLen > 0 && rev.LastAck != types.InvalidSequence && rev.LastAck > 0 &&
		types.Sequence(in.Seq).Add(in.SegLen).Difference(rev.LastAck) >= 0:
		rec.Flags |= types.SpuriousRetransmission

	default:
		rec.Flags |= types.Retransmission
		rto := in.Ts.Sub(fwd.NextSeqTime)
		rec.RTO = &rto
		rec.RTOFrame = fwd.NextSeqFrame
	}
}

// advance performs the post-classification bookkeeping common to every
// branch (spec §4.D "After classification, the engine: ...").
func (a *Analyzer) advance(fwd, rev *types.FlowState, in Input, rec *types.AnalysisRecord) {
	seq := types.Sequence(in.Seq)
	isZWP := rec.Flags.Has(types.ZeroWindowProbe)

	if in.SegLen > 0 || in.SYN || in.FIN {
		nextSeq := seq.Add(in.SegLen)
		if in.SYN || in.FIN {
			nextSeq = nextSeq.Add(1)
		}
		fwd.PushUnacked(types.UnackedSegment{Frame: in.Frame, Seq: seq, NextSeq: nextSeq, Ts: in.Ts})
	}

	if !isZWP {
		newNext := seq.Add(in.SegLen)
		if in.SYN || in.FIN {
			newNext = newNext.Add(1)
		}
		if fwd.NextSeq == types.InvalidSequence || fwd.NextSeq.Difference(newNext) > 0 {
			fwd.NextSeq = newNext
			fwd.NextSeqFrame = in.Frame
			fwd.NextSeqTime = in.Ts
		}
	}

	fwd.Window = uint16(in.Window)
	fwd.LastAck = types.Sequence(in.Ack)
	fwd.LastAckTime = in.Ts

	fwd.LastSegWasKeepAlive = rec.Flags.Has(types.KeepAlive)
	fwd.LastSegWasZWP = isZWP
	if rec.Flags.Has(types.DuplicateAck) {
		fwd.LastDupAckTime = in.Ts
	}

	ackSeq := types.Sequence(in.Ack)
	kept := rev.UnackedSegments[:0]
	for _, u := range rev.UnackedSegments {
		if u.NextSeq.Difference(ackSeq) >= 0 {
			frameAcked := in.Frame
			rtt := in.Ts.Sub(u.Ts)
			rec.FrameAcked = frameAcked
			rec.AckRTT = &rtt
			continue
		}
		if u.Seq.Difference(ackSeq) > 0 {
			u.Seq = ackSeq
		}
		kept = append(kept, u)
	}
	rev.UnackedSegments = kept

	if in.SegLen > 0 {
		fwd.MaxSizeAcked = maxU32(fwd.MaxSizeAcked, uint32(in.SegLen))
	}

	if a.cfg.TrackBytesInFlight && fwd.ValidBif && len(fwd.UnackedSegments) > 0 {
		minSeq, maxNext := fwd.UnackedSegments[0].Seq, fwd.UnackedSegments[0].NextSeq
		for _, u := range fwd.UnackedSegments[1:] {
			if u.Seq.Difference(minSeq) > 0 {
				minSeq = u.Seq
			}
			if u.NextSeq.Difference(maxNext) < 0 {
				maxNext = u.NextSeq
			}
		}
		bif := uint64(minSeq.Difference(maxNext))
		if bif > 0 && bif < BifCeiling {
			rec.BytesInFlight = &bif
		}
	}

	// push_bytes_sent resets on each PSH unless the previous segment from
	// this direction was also PSH (spec §4.D, final bullet).
	pshNow := in.PSH
	if pshNow {
		if fwd.PushSetLast {
			fwd.PushBytesSent += uint64(in.SegLen)
		} else {
			fwd.PushBytesSent = uint64(in.SegLen)
		}
	}
	fwd.PushSetLast = pshNow
	rec.PushBytesSent = fwd.PushBytesSent
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
