package mptcp

import "github.com/dstainton-tcpflow/tcpflow/types"

// dsn32to64 widens a 32-bit DSN against a known base_dsn's high 32 bits
// (spec §4.B "32->64: (base_dsn & 0xFFFFFFFF00000000) | raw").
func dsn32to64(raw uint32, baseDSN uint64) uint64 {
	return (baseDSN & 0xFFFFFFFF00000000) | uint64(raw)
}

// dsn64to32 narrows a 64-bit DSN (spec §4.B "64->32: low 32 bits").
func dsn64to32(dsn uint64) uint32 {
	return uint32(dsn)
}

// relativeDSN subtracts base_dsn from dsn, returning ok=false when the meta
// flow's base_dsn MSBs aren't known yet (spec §4.B "Requires
// META_HAS_BASE_DSN_MSB, otherwise the conversion fails and the analyzer
// emits the raw value only").
func relativeDSN(dsn uint64, meta *types.MetaFlow) (rel uint64, ok bool) {
	if meta == nil || meta.StaticFlags&types.MetaHasBaseDSNMSB == 0 {
		return 0, false
	}
	return dsn - meta.BaseDSN, true
}

// convertMapping builds the ExtendedDSN field of a DssMapping given the raw
// wire DSN and whether it arrived as a 32- or 64-bit value (spec §4.B).
func convertMapping(rawDSN uint64, is64 bool, meta *types.MetaFlow) uint64 {
	if is64 {
		return rawDSN
	}
	if meta == nil || !meta.HasBaseDSN() {
		return rawDSN
	}
	return dsn32to64(uint32(rawDSN), meta.BaseDSN)
}

// lookupMapping returns the first mapping, in SSNLow order, whose range
// contains relSeq (spec §4.F.4). Only the segment's first byte is matched:
// a mapping that starts later inside the segment is not found.
func lookupMapping(subflow *types.MptcpSubflow, relSeq uint32) (types.DssMapping, bool) {
	return subflow.Lookup(relSeq)
}

// findReinjection queries every other subflow of the same MptcpAnalysis for
// a DSN range overlapping [dsnLow, dsnHigh], per spec §4.F.5. It returns the
// first match found and whether the current frame is later (a "reinjection
// of" that earlier packet) or earlier (the current packet was later
// "reinjected in").
func findReinjection(conn *types.MptcpAnalysis, self *types.Conversation, dsnLow, dsnHigh uint64, frame uint64) (ref types.PacketRef, earlier bool, found bool) {
	for _, c := range conn.Subflows {
		if c == self || c.Mptcp == nil {
			continue
		}
		if r, ok := c.Mptcp.FindOverlap(dsnLow, dsnHigh, 0); ok {
			return r, r.Frame < frame, true
		}
	}
	return types.PacketRef{}, false, false
}
