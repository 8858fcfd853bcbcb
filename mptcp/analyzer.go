package mptcp

import (
	"github.com/dstainton-tcpflow/tcpflow/options"
	"github.com/dstainton-tcpflow/tcpflow/types"
)

// Config is the subset of engine configuration that drives MPTCP analysis
// (spec §6 Configuration: analyze_mptcp, mptcp_relative_seq,
// mptcp_analyze_mappings, mptcp_intersubflows_retransmission).
type Config struct {
	RelativeSeq               bool
	AnalyzeMappings           bool
	InterSubflowRetransmission bool
}

// Analyzer links TCP subflows into MptcpAnalysis connections by token,
// converts subflow SSN to connection-wide DSN, and optionally detects
// cross-subflow reinjection (spec §4.F). One Analyzer belongs to one engine
// instance; its token table is the "mptcp_tokens is global to one engine
// instance" state of spec §5.
type Analyzer struct {
	cfg Config

	// tokens maps a 32-bit connection token to its MptcpAnalysis. A later
	// MP_CAPABLE/MP_JOIN presenting a token already in the table attaches its
	// subflow to the existing MptcpAnalysis; two connections with colliding
	// tokens are merged into one, and the collision is not detected.
	tokens map[uint32]*types.MptcpAnalysis

	nextStreamID uint64
}

// NewAnalyzer returns an Analyzer with an empty token table.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg, tokens: make(map[uint32]*types.MptcpAnalysis)}
}

// ensureSubflow lazily attaches a fresh MptcpSubflow to conv on first
// sighting of any MPTCP option (spec §4.F.1 "Subflow initialization").
func (a *Analyzer) ensureSubflow(conv *types.Conversation) *types.MptcpSubflow {
	if conv.Mptcp == nil {
		conv.Mptcp = &types.MptcpSubflow{}
	}
	return conv.Mptcp
}

// bindMeta finds or creates the MptcpAnalysis for token, attaching conv as a
// subflow (spec §4.F.2 "Meta binding").
func (a *Analyzer) bindMeta(token uint32, baseDSN uint64, conv *types.Conversation) *types.MptcpAnalysis {
	analysis, ok := a.tokens[token]
	if !ok {
		analysis = &types.MptcpAnalysis{StreamID: a.nextStreamID}
		a.nextStreamID++
		analysis.Meta[0].SetToken(token)
		analysis.Meta[0].SetBaseDSN(baseDSN)
		a.tokens[token] = analysis
	}
	analysis.AttachSubflow(conv)
	conv.Mptcp.Meta = &analysis.Meta[0]
	return analysis
}

// Process runs the MPTCP analysis for one segment carrying option kind 30
// (spec §4.F). relSeq is the segment's subflow-relative sequence number
// (seq - base_seq); seglen is the payload length. visited mirrors the
// engine's two-pass idempotence flag: mapping registration (§4.F.3) is
// skipped on a visited pass, matching "insert ... on a non-visited frame".
func (a *Analyzer) Process(conv *types.Conversation, opt *options.Option, relSeq uint32, seglen int, frame uint64, visited bool) *types.MptcpOutcome {
	mo, _ := opt.Parsed.(*options.MptcpOption)
	if mo == nil {
		return nil
	}
	subflow := a.ensureSubflow(conv)
	out := &types.MptcpOutcome{}

	switch mo.Subtype {
	case options.MPCapable:
		if mo.HasRecvKey {
			// 20-byte ACK form: the echoed receiver key must match one of
			// this subflow's previously seen SYN/SYN-ACK sender keys (spec
			// §4.B echoed-key mismatch); a miss is a non-fatal expert note,
			// not an analyzer state change.
			if !subflow.HasCapableKey(mo.ReceiverKey) {
				out.Notes = append(out.Notes, options.NoteEchoedKeyMismatch)
			}
		} else {
			subflow.RecordCapableKey(mo.SenderKey)
		}
		token, baseDSN := TokenAndBaseDSN(mo.SenderKey)
		a.bindMeta(token, baseDSN, conv)
		out.Token, out.HasToken = token, true

	case options.MPJoin:
		if mo.ReceiverToken != 0 {
			analysis, ok := a.tokens[mo.ReceiverToken]
			if !ok {
				analysis = &types.MptcpAnalysis{StreamID: a.nextStreamID}
				a.nextStreamID++
				analysis.Meta[0].SetToken(mo.ReceiverToken)
				a.tokens[mo.ReceiverToken] = analysis
			}
			analysis.AttachSubflow(conv)
			subflow.Meta = &analysis.Meta[0]
			out.Token, out.HasToken = mo.ReceiverToken, true
		}
		subflow.AddressID = mo.AddressID

	case options.DSS:
		meta := subflow.Meta
		if mo.HasMapping {
			if a.cfg.AnalyzeMappings && !visited {
				is64 := mo.DssFlags&0x08 != 0 // DSN_8BYTES
				ext := convertMapping(mo.DSN, is64, meta)
				ssnHigh := mo.SSNLow
				if mo.DataLevelLen > 0 {
					ssnHigh = mo.SSNLow + uint32(mo.DataLevelLen) - 1
				}
				subflow.InsertMapping(types.DssMapping{
					RawDSN:      mo.DSN,
					SSNLow:      mo.SSNLow,
					SSNHigh:     ssnHigh,
					ExtendedDSN: ext,
					Frame:       frame,
					InfiniteAt:  mo.DataLevelLen == 0,
				})
			}
		}
	}

	if seglen > 0 {
		a.lookup(conv, subflow, relSeq, out)
	}

	return out
}

// lookup fills in the DSN conversion for a data-carrying segment (spec
// §4.F.4).
func (a *Analyzer) lookup(conv *types.Conversation, subflow *types.MptcpSubflow, relSeq uint32, out *types.MptcpOutcome) {
	mapping, found := lookupMapping(subflow, relSeq)
	if !found {
		out.MappingMissing = true
		return
	}
	out.DSN, out.HasDSN = mapping.ExtendedDSN, true
	if a.cfg.RelativeSeq {
		if rel, ok := relativeDSN(mapping.ExtendedDSN, subflow.Meta); ok {
			out.RelDSN, out.HasRelDSN = rel, true
		}
	}
}

// RecordAndCheckReinjection registers the current packet's DSN range and,
// when inter-subflow reinjection detection is enabled, looks for the same
// range recorded on any other subflow of this MPTCP connection (spec
// §4.F.5, opt-in via mptcp_intersubflows_retransmission).
func (a *Analyzer) RecordAndCheckReinjection(token uint32, conv *types.Conversation, dsnLow, dsnHigh uint64, frame uint64, out *types.MptcpOutcome) {
	if conv.Mptcp == nil {
		return
	}
	conv.Mptcp.RecordPacket(types.PacketRef{Frame: frame, DSNLow: dsnLow, DSNHigh: dsnHigh})
	if !a.cfg.InterSubflowRetransmission {
		return
	}
	analysis, ok := a.tokens[token]
	if !ok {
		return
	}
	ref, earlier, found := findReinjection(analysis, conv, dsnLow, dsnHigh, frame)
	if !found {
		return
	}
	if earlier {
		out.ReinjectionOf = ref.Frame
	} else {
		out.ReinjectedIn = ref.Frame
	}
}
