/*
 *    engine.go - per-packet façade for the TCP dissection and
 *    stream-analysis engine.
 *
 *    Adapted from HoneyBadger's Connection / receivePacketState split
 *    (David Stainton, 2014-2015), itself licensed GPLv3.
 */
package engine

import (
	"github.com/dstainton-tcpflow/tcpflow/conversation"
	"github.com/dstainton-tcpflow/tcpflow/mptcp"
	"github.com/dstainton-tcpflow/tcpflow/options"
	"github.com/dstainton-tcpflow/tcpflow/reassembly"
	"github.com/dstainton-tcpflow/tcpflow/seqanalysis"
	"github.com/dstainton-tcpflow/tcpflow/types"
)

// Engine owns the conversation table and is the single entry point the
// display/subdissector surface calls into (spec §4.H "The façade owns the
// conversation table and enforces the 'no state mutation on visited
// frames' invariant").
type Engine struct {
	cfg Config

	table   *conversation.Table
	seq     *seqanalysis.Analyzer
	reasm   *reassembly.Reassembler
	mptcp   *mptcp.Analyzer
	logger  types.Logger
}

// New returns an Engine wired per cfg. logger may be nil.
func New(cfg Config, logger types.Logger) *Engine {
	return &Engine{
		cfg:   cfg,
		table: conversation.NewTable(),
		seq: seqanalysis.New(seqanalysis.Config{
			TrackBytesInFlight: cfg.TrackBytesInFlight,
		}),
		reasm: reassembly.New(reassembly.Config{
			AllowDesegment:       cfg.AllowDesegment,
			ReassembleOutOfOrder: cfg.ReassembleOutOfOrder,
		}),
		mptcp: mptcp.NewAnalyzer(mptcp.Config{
			RelativeSeq:                cfg.MptcpRelativeSeq,
			AnalyzeMappings:            cfg.MptcpAnalyzeMappings,
			InterSubflowRetransmission: cfg.MptcpInterSubflowsRetransmission,
		}),
		logger: logger,
	}
}

// SetReuseGuard installs the port-reuse override hook of spec §9's Open
// Question decision on port-reuse vs. MPTCP.
func (e *Engine) SetReuseGuard(g conversation.ReuseGuard) { e.table.ReuseGuard = g }

// ProcessSegment is the façade's primary entry point (spec §4.H
// process_segment). subdiss is offered any PDU that finishes reassembling
// during this call; it may be nil if the caller has no subdissector.
func (e *Engine) ProcessSegment(seg *types.Segment, subdiss types.Subdissector) *types.Outcome {
	conv, forward, reused := e.table.FindOrCreate(seg, seg.Timestamp)
	fwd, rev := conv.Flow1, conv.Flow2
	if !forward {
		fwd, rev = rev, fwd
	}

	hdr := e.buildHeader(seg, fwd)
	out := &types.Outcome{Header: hdr}
	for _, opt := range hdr.Options {
		out.Notes = append(out.Notes, opt.Notes...)
	}

	if !seg.Visited {
		// base_seq bootstraps to seq on the SYN that opens this direction, or
		// to seq-1 when the first segment seen for a direction is mid-stream
		// (spec §3 FlowState invariant 2), so a later relative view always
		// reads "0" on the handshake's first byte either way.
		if seg.Flags.Has(types.FlagSYN) {
			fwd.SetBaseSeq(types.Sequence(seg.Seq))
		} else {
			fwd.SetBaseSeq(types.Sequence(seg.Seq).Add(-1))
		}
		if seg.Flags.Has(types.FlagSYN) && !seg.Flags.Has(types.FlagACK) {
			conv.TsMruSyn, conv.HasMruSyn = seg.Timestamp, true
		}
		if conv.TsFirstRTT == nil && conv.HasMruSyn && seg.Flags == types.FlagACK {
			rtt := seg.Timestamp.Sub(conv.TsMruSyn)
			conv.TsFirstRTT = &rtt
		}
	}

	if e.cfg.RelativeSeq && fwd.HasBaseSeq() {
		hdr.RelSeq = uint32(fwd.BaseSeq.Difference(types.Sequence(seg.Seq)))
		if seg.Flags.Has(types.FlagACK) && rev.HasBaseSeq() {
			hdr.RelAck = uint32(rev.BaseSeq.Difference(types.Sequence(seg.Ack)))
		}
		hdr.HasRelative = true
	}

	if e.cfg.CalculateTs {
		e.computeTiming(conv, seg, &out.Timing)
	}

	e.runSeqAnalysis(conv, fwd, rev, seg, hdr, reused, out)

	if e.cfg.AllowDesegment {
		e.runReassembly(conv, fwd, seg, subdiss, out)
	}

	if e.cfg.AnalyzeMPTCP {
		e.runMPTCP(conv, fwd, seg, hdr, out)
	}

	conv.LastFrame = seg.Frame
	conv.TsPrev = seg.Timestamp

	if e.logger != nil {
		for _, note := range out.Notes {
			e.logger.LogExpertInfo(types.ExpertInfo{
				Frame: seg.Frame, StreamID: conv.StreamID, Timestamp: seg.Timestamp,
				Severity: "note", Message: note,
			})
		}
	}

	return out
}

func (e *Engine) runSeqAnalysis(conv *types.Conversation, fwd, rev *types.FlowState, seg *types.Segment, hdr *types.HeaderRecord, reused bool, out *types.Outcome) {
	if !e.cfg.AnalyzeSeq {
		return
	}
	key := types.AnalysisKey{Frame: seg.Frame, Seq: seg.Seq, Ack: seg.Ack}
	rec, existed := conv.GetOrCreateAnalysis(key)
	if !existed {
		in := seqanalysis.Input{
			Seq: seg.Seq, Ack: seg.Ack, SegLen: seg.SegLen(),
			Window: hdr.EffectiveWindow,
			SYN:    seg.Flags.Has(types.FlagSYN), FIN: seg.Flags.Has(types.FlagFIN),
			RST:    seg.Flags.Has(types.FlagRST), ACK: seg.Flags.Has(types.FlagACK),
			PSH:    seg.Flags.Has(types.FlagPSH),
			Frame:  seg.Frame, Ts: seg.Timestamp,
		}
		computed := e.seq.Run(fwd, rev, in, conv.TsFirstRTT)
		*rec = *computed
		if reused {
			rec.Flags |= types.ReusedPorts
		}
	}
	out.Analysis = rec
}

func (e *Engine) runReassembly(conv *types.Conversation, fwd *types.FlowState, seg *types.Segment, subdiss types.Subdissector, out *types.Outcome) {
	relSeq := types.Sequence(seg.Seq)
	if fwd.HasBaseSeq() {
		relSeq = types.Sequence(uint32(fwd.BaseSeq.Difference(types.Sequence(seg.Seq))))
	}

	// no_subdissector_on_error (spec §6): a retransmitted or out-of-order
	// segment's bytes are confusing to offer a subdissector cold, so this
	// segment doesn't get to open a new MSP -- reassembly of any MSP already
	// open proceeds unaffected.
	if e.cfg.NoSubdissectorOnError && out.Analysis != nil &&
		out.Analysis.Flags.Has(types.Retransmission|types.FastRetransmission|types.SpuriousRetransmission|types.OutOfOrder) {
		subdiss = nil
	}

	if len(fwd.MultisegmentPDUs) == 0 && subdiss != nil && len(seg.Payload) > 0 {
		// no MSP tracked yet for this direction: offer the subdissector the
		// chance to request desegmentation starting at this segment (spec
		// §4.E "the subdissector signals desegment_len > 0").
		result, err := subdiss(types.PduView{StreamID: conv.StreamID, Seq: relSeq, Data: seg.Payload, FirstFrame: seg.Frame, LastFrame: seg.Frame})
		if err == nil && result.Want != types.DesegmentComplete {
			e.reasm.Open(fwd, relSeq, result.Want, seg.Frame, seg.Timestamp, subdiss)
		} else if err == nil {
			return
		}
	}
	pdu, notes := e.reasm.Feed(fwd, conv.StreamID, relSeq, seg.Payload, seg.Frame, seg.Timestamp, seg.Visited, seg.Flags.Has(types.FlagFIN))
	out.Reassembled = pdu
	out.Notes = append(out.Notes, notes...)
}

func (e *Engine) runMPTCP(conv *types.Conversation, fwd *types.FlowState, seg *types.Segment, hdr *types.HeaderRecord, out *types.Outcome) {
	for i := range hdr.Options {
		opt := &hdr.Options[i]
		if opt.Kind != byte(options.KindMPTCP) {
			continue
		}
		var relSeq uint32
		if fwd.HasBaseSeq() {
			relSeq = uint32(fwd.BaseSeq.Difference(types.Sequence(seg.Seq)))
		}
		mo := e.mptcp.Process(conv, opt, relSeq, seg.SegLen(), seg.Frame, seg.Visited)
		out.Mptcp = mo
		if mo != nil {
			out.Notes = append(out.Notes, mo.Notes...)
		}

		if mo != nil && mo.HasDSN && seg.SegLen() > 0 && !seg.Visited && conv.Mptcp != nil && conv.Mptcp.Meta != nil {
			dsnLow := mo.DSN
			dsnHigh := dsnLow + uint64(seg.SegLen()) - 1
			e.mptcp.RecordAndCheckReinjection(conv.Mptcp.Meta.Token, conv, dsnLow, dsnHigh, seg.Frame, mo)
		}
	}
}

// computeTiming fills in the per-packet timing facts of spec §4.G.
func (e *Engine) computeTiming(conv *types.Conversation, seg *types.Segment, t *types.Timing) {
	t.TsRelative = seg.Timestamp.Sub(conv.TsFirst)
	if !conv.TsPrev.IsZero() {
		t.TsDelta = seg.Timestamp.Sub(conv.TsPrev)
	}
	if conv.TsFirstRTT != nil {
		t.HasFirstRTT, t.FirstRTT = true, *conv.TsFirstRTT
	}
}

// buildHeader performs segment parsing (spec §4.A): header-length
// validation, option parsing, checksum verification, and scaled-window
// computation.
func (e *Engine) buildHeader(seg *types.Segment, fwd *types.FlowState) *types.HeaderRecord {
	hdr := &types.HeaderRecord{
		SrcPort: seg.SrcPort, DstPort: seg.DstPort,
		Seq: seg.Seq, Ack: seg.Ack, Flags: seg.Flags,
		Window: seg.Window, Checksum: seg.Checksum, UrgentPointer: seg.UrgentPointer,
		PayloadLen: len(seg.Payload),
	}

	headerLen := int(seg.DataOffset) * 4
	reportedLen := 20 + len(seg.Options) + len(seg.Payload)
	if headerLen < 20 || headerLen > reportedLen {
		hdr.Error = types.BogusHeaderLength
		hdr.HeaderLen = headerLen
		return hdr
	}
	hdr.HeaderLen = headerLen

	hdr.Options = options.ParseOptions(seg.Options, options.ParseConfig{ExpOptionsWithMagic: e.cfg.ExpOptionsWithMagic})
	for _, opt := range hdr.Options {
		if ws, ok := opt.Parsed.(options.WindowScale); ok && seg.Flags.Has(types.FlagSYN) {
			fwd.WinScale = int8(ws.Shift)
		}
		if sack, ok := opt.Parsed.(options.Sack); ok {
			hdr.SackEdges = sack.Edges
		}
		if mo, ok := opt.Parsed.(*options.MptcpOption); ok {
			hdr.Mptcp = mo
		}
		if ts, ok := opt.Parsed.(options.Timestamps); ok && !e.cfg.IgnoreTimestamps {
			hdr.TSval, hdr.TSecr, hdr.HasTimestamps = ts.TSval, ts.TSecr, true
		}
	}

	if e.cfg.CheckChecksum && !seg.Fragmented && !seg.InErrorPkt && len(seg.Raw) > 0 {
		switch VerifyChecksum(seg.SrcIP, seg.DstIP, seg.Raw, seg.Checksum) {
		case ChecksumMatch:
			hdr.ChecksumStatus = types.ChecksumOK
		case ChecksumRFC1624:
			hdr.ChecksumStatus = types.ChecksumFFFF
		case ChecksumMismatch:
			hdr.ChecksumStatus = types.ChecksumBad
			hdr.Error = types.BadChecksum
		}
	}

	if seg.Flags.Has(types.FlagSYN) {
		hdr.EffectiveWindow = uint32(seg.Window)
	} else {
		scale := fwd.WinScale
		if scale == -1 {
			scale = e.cfg.DefaultWindowScaling
		}
		if scale > 0 {
			hdr.EffectiveWindow = uint32(seg.Window) << uint(scale)
		} else {
			hdr.EffectiveWindow = uint32(seg.Window)
		}
	}

	return hdr
}
