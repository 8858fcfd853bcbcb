package engine

import (
	"fmt"
	"strings"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

// InfoColumn renders the Wireshark-style info-column string of spec §6
// Output surface: port pair, flags, Seq/Ack/Win/Len, with any anomaly
// annotations prepended.
func InfoColumn(h *types.HeaderRecord, rec *types.AnalysisRecord, notes []string) string {
	var b strings.Builder

	for _, note := range prependedAnnotations(rec, notes) {
		b.WriteString("[")
		b.WriteString(note)
		b.WriteString("] ")
	}

	fmt.Fprintf(&b, "%d > %d [%s]", h.SrcPort, h.DstPort, h.FlagLetters())

	seq, ack := h.Seq, h.Ack
	if h.HasRelative {
		seq, ack = h.RelSeq, h.RelAck
	}
	fmt.Fprintf(&b, " Seq=%d", seq)
	if h.Flags.Has(types.FlagACK) {
		fmt.Fprintf(&b, " Ack=%d", ack)
	}
	fmt.Fprintf(&b, " Win=%d Len=%d", h.EffectiveWindow, h.PayloadLen)
	if h.HasTimestamps {
		fmt.Fprintf(&b, " TSval=%d TSecr=%d", h.TSval, h.TSecr)
	}

	return b.String()
}

// prependedAnnotations orders the bracketed annotations the same way
// Wireshark's TCP dissector does: anomaly flags first, then free-form notes
// (malformed options, MPTCP warnings, reassembly notes).
func prependedAnnotations(rec *types.AnalysisRecord, notes []string) []string {
	var out []string
	if rec != nil {
		// DuplicateAck gets the detailed "frame#count" rendering below instead
		// of its plain Names() entry, so it isn't announced twice.
		plain := rec.Flags &^ types.DuplicateAck
		for _, name := range plain.Names() {
			out = append(out, name)
		}
		if rec.Flags.Has(types.DuplicateAck) {
			out = append(out, fmt.Sprintf("TCP Dup ACK %d#%d", rec.DupAckFrame, rec.DupAckNum))
		}
	}
	out = append(out, notes...)
	return out
}
