// Package reassembly implements the Multisegment PDU reassembler (spec
// §4.E): buffering an application-layer PDU's bytes across TCP segment
// boundaries, with optional out-of-order tracking, until a subdissector has
// everything it asked for.
//
// The page/fragment-buffering idiom is adapted from HoneyBadger's
// ordered_coalesce.go (page, pageCache, byte-span bookkeeping), regrounded
// from "flush an ordered byte stream to a Stream" to "fill in one MSP's
// byte range", and from pager.go's page-pool lifecycle -- simplified from
// their channel-fed goroutine form to direct calls, since spec §5 mandates
// strictly sequential single-threaded processing.
package reassembly

import (
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

// Config is the subset of engine configuration driving this package (spec
// §6: allow_desegment, reassemble_out_of_order).
type Config struct {
	AllowDesegment         bool
	ReassembleOutOfOrder   bool
}

// Reassembler buffers MSP fragments for one engine instance. Its page cache
// is a plain scratch-buffer pool; no reassembly state itself lives here --
// that's all on the per-direction FlowState, per spec §5's "conversations
// is the single large mutable map; only the engine mutates it".
type Reassembler struct {
	cfg   Config
	cache *pageCache
}

// New returns a Reassembler. cfg.AllowDesegment gates Feed (spec §4.E); Open
// records an MSP whatever its value.
func New(cfg Config) *Reassembler {
	return &Reassembler{cfg: cfg, cache: newPageCache()}
}

// Open starts a new MSP at seq wanting want bytes, for the subdissector cb
// (spec §4.E: "the subdissector signals desegment_len > 0"). want may be
// types.DesegmentUntilFin or types.DesegmentOneMoreSegment as a sentinel
// instead of a literal byte count.
func (r *Reassembler) Open(fs *types.FlowState, seq types.Sequence, want int, frame uint64, ts time.Time, cb types.Subdissector) *types.MSP {
	msp := &types.MSP{FirstFrame: frame, FirstFrameWithSeq: frame, LastFrame: frame, LastFrameTime: ts, Callback: cb, Seq: seq}
	switch want {
	case types.DesegmentUntilFin:
		fs.Flags |= types.ReassembleUntilFin
		msp.NxtPdu = seq // extended as data arrives; finalized on FIN
	case types.DesegmentOneMoreSegment:
		msp.NxtPdu = seq
		msp.Set(types.ReassembleEntireSegment)
	default:
		msp.NxtPdu = seq.Add(want)
	}
	fs.InsertMSP(msp)
	return msp
}

// retransmittedNote is the info-column annotation spec §4.E specifies for a
// segment whose bytes are entirely already covered by an existing MSP.
const retransmittedNote = "[Retransmitted] TCP segment data"

// Feed offers one segment's payload bytes to the reassembler (spec §4.E
// "Normal flow" + "Out-of-order mode"). It returns the completed PDU (nil if
// none completed yet) and any info-column notes to attach to this packet.
func (r *Reassembler) Feed(fs *types.FlowState, streamID uint64, seq types.Sequence, payload []byte, frame uint64, ts time.Time, visited, fin bool) (*types.PduView, []string) {
	if !r.cfg.AllowDesegment {
		return nil, nil
	}

	segLen := len(payload)
	nextSeq := seq.Add(segLen)

	msp := fs.FindMSPLessEqual(seq)
	if msp == nil {
		if r.cfg.ReassembleOutOfOrder && fs.MaxNextSeq != types.InvalidSequence && fs.MaxNextSeq.Difference(seq) > 0 {
			// a gap opened ahead of any tracked MSP: nothing to extend yet
			// without a subdissector request, so there is nothing this
			// engine can buffer speculatively (spec §4.E only opens MSPs on
			// subdissector request); report nothing. This simplification
			// means the MISSING_FIRST_SEGMENT bookkeeping spec §4.E
			// describes never kicks in for a gap with no MSP at all --
			// only for one extending an MSP already opened.
			return nil, nil
		}
		return nil, nil
	}

	within := msp.Seq.Difference(seq) >= 0 && msp.NxtPdu.Difference(seq) <= 0
	if !within {
		return nil, nil
	}

	fullyCovered := msp.Has(types.GotAllSegments) && msp.Seq.Difference(seq) > 0 && msp.NxtPdu.Difference(nextSeq) <= 0
	if fullyCovered {
		if visited && msp.FirstFrame == frame {
			// first appearance under a visited re-pass: fall through as if
			// seen for the first time (invariant 7 idempotence).
		} else {
			return nil, []string{retransmittedNote}
		}
	}

	if r.cfg.ReassembleOutOfOrder {
		if msp.Has(types.MissingFirstSegment) && seq.Difference(msp.Seq) == 0 {
			msp.FirstFrameWithSeq = frame
			msp.Clear(types.MissingFirstSegment)
		}
		want := msp.Seq.Difference(nextSeq)
		if want < 0 {
			want = 0
		}
		if msp.NxtPdu.Difference(nextSeq) > 0 {
			msp.NxtPdu = msp.Seq.Add(max(want, msp.Len()))
		}
		if fs.MaxNextSeq.Difference(nextSeq) > 0 || fs.MaxNextSeq == types.InvalidSequence {
			fs.MaxNextSeq = nextSeq
		}
	}

	length := segLen
	if msp.Has(types.ReassembleEntireSegment) {
		length = segLen
	} else {
		want := seq.Difference(msp.NxtPdu)
		if segLen < want {
			length = segLen
		} else {
			length = want
		}
	}
	if length > 0 && length <= segLen {
		msp.PutFragment(msp.Seq.Difference(seq), payload[:length])
	}
	msp.LastFrame = frame
	msp.LastFrameTime = ts

	if fin && fs.Flags&types.ReassembleUntilFin != 0 {
		msp.NxtPdu = nextSeq
		fs.Fin = frame
	}

	want := msp.Len()
	data, complete := msp.Assemble(want)
	if !complete {
		return nil, nil
	}
	msp.Set(types.GotAllSegments)

	pdu := &types.PduView{StreamID: streamID, Seq: msp.Seq, Data: data, FirstFrame: msp.FirstFrame, LastFrame: msp.LastFrame}

	if msp.Callback == nil {
		return pdu, nil
	}
	result, err := msp.Callback(*pdu)
	if err != nil {
		return pdu, []string{"subdissector error: " + err.Error()}
	}
	switch result.Want {
	case types.DesegmentComplete:
		return pdu, nil
	case types.DesegmentOneMoreSegment:
		msp.NxtPdu = nextSeq.Add(1)
		msp.Set(types.ReassembleEntireSegment)
		msp.Clear(types.GotAllSegments)
	case types.DesegmentUntilFin:
		fs.Flags |= types.ReassembleUntilFin
		msp.Clear(types.GotAllSegments)
	default:
		if result.Want > 0 {
			msp.NxtPdu = msp.Seq.Add(msp.Len() + result.Want)
			msp.Clear(types.GotAllSegments)
		}
	}
	return pdu, nil
}
