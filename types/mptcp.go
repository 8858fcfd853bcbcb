package types

// MetaFlowStaticFlags records facts about a MetaFlow that, once true, never
// go false again (mirrors FlowState's BASE_SEQ_SET idiom).
type MetaFlowStaticFlags uint8

const (
	MetaHasToken MetaFlowStaticFlags = 1 << iota
	MetaHasBaseDSN
	MetaHasBaseDSNMSB // needed before a 32-bit DSN can be converted relative (§4.B)
)

// MetaFlow is one endpoint's view of an MPTCP connection-level flow (spec
// §3 MetaFlow). MptcpAnalysis.Meta holds exactly two: the two directions of
// the original subflow that established the connection.
type MetaFlow struct {
	Key          FlowKey
	Token        uint32
	BaseDSN      uint64
	StaticFlags  MetaFlowStaticFlags
	IPSrc, IPDst []byte
	SPort, DPort uint16
}

func (m *MetaFlow) HasToken() bool   { return m.StaticFlags&MetaHasToken != 0 }
func (m *MetaFlow) HasBaseDSN() bool { return m.StaticFlags&MetaHasBaseDSN != 0 }

// SetToken records the connection token exactly once.
func (m *MetaFlow) SetToken(token uint32) {
	if m.HasToken() {
		return
	}
	m.Token = token
	m.StaticFlags |= MetaHasToken
}

// SetBaseDSN records the base DSN exactly once.
func (m *MetaFlow) SetBaseDSN(baseDSN uint64) {
	if m.HasBaseDSN() {
		return
	}
	m.BaseDSN = baseDSN
	m.StaticFlags |= MetaHasBaseDSN | MetaHasBaseDSNMSB
}

// DssMapping is one DSS mapping interval registered by a DSS option with
// MAPPING_PRESENT (spec §3 DssMapping, §4.F.3). SSN range is a closed
// interval [SSNLow, SSNHigh].
type DssMapping struct {
	RawDSN        uint64
	SSNLow        uint32
	SSNHigh       uint32
	ExtendedDSN   uint64 // the 64-bit DSN this mapping's RawDSN converts to
	Frame         uint64
	InfiniteAt    bool // DataLevelLen == 0 at registration (infinite mapping, §4.B)
}

// Contains reports whether ssn falls within this mapping's SSN range.
func (d DssMapping) Contains(ssn uint32) bool {
	return ssn >= d.SSNLow && ssn <= d.SSNHigh
}

// PacketRef is a minimal frame/DSN-range record used by the cross-subflow
// reinjection detector (spec §4.F.5).
type PacketRef struct {
	Frame   uint64
	DSNLow  uint64
	DSNHigh uint64
}

// MptcpSubflow is one TCP Conversation's MPTCP-specific state (spec §3
// MptcpSubflow). SsnToDsnMappings is kept sorted by SSNLow and scanned
// linearly in that order on lookup (§4.F.4); DsnToPacketMap backs
// reinjection detection (§4.F.5, opt-in).
type MptcpSubflow struct {
	Meta             *MetaFlow
	AddressID        uint8
	Nonce            uint32
	SsnToDsnMappings []DssMapping
	DsnToPacketMap   []PacketRef

	// CapableKeys records each distinct sender key presented by the 12-byte
	// MP_CAPABLE SYN/SYN-ACK forms seen on this subflow, so the 20-byte ACK
	// form's echoed key can be checked against them (spec §4.B echoed-key
	// mismatch).
	CapableKeys []uint64
}

// RecordCapableKey adds key to CapableKeys if not already present.
func (s *MptcpSubflow) RecordCapableKey(key uint64) {
	for _, k := range s.CapableKeys {
		if k == key {
			return
		}
	}
	s.CapableKeys = append(s.CapableKeys, key)
}

// HasCapableKey reports whether key matches a previously recorded
// MP_CAPABLE SYN/SYN-ACK sender key.
func (s *MptcpSubflow) HasCapableKey(key uint64) bool {
	for _, k := range s.CapableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// InsertMapping appends a DssMapping keeping SsnToDsnMappings sorted by
// SSNLow (spec §4.F.3: "insert ... into the forward subflow's
// ssn_to_dsn_mappings").
func (s *MptcpSubflow) InsertMapping(m DssMapping) {
	i := 0
	for i < len(s.SsnToDsnMappings) && s.SsnToDsnMappings[i].SSNLow < m.SSNLow {
		i++
	}
	s.SsnToDsnMappings = append(s.SsnToDsnMappings, DssMapping{})
	copy(s.SsnToDsnMappings[i+1:], s.SsnToDsnMappings[i:])
	s.SsnToDsnMappings[i] = m
}

// Lookup returns the first mapping whose SSN range contains ssn, or ok=false
// if none does (spec §4.F.4 "mapping_missing").
func (s *MptcpSubflow) Lookup(ssn uint32) (DssMapping, bool) {
	for _, m := range s.SsnToDsnMappings {
		if m.Contains(ssn) {
			return m, true
		}
	}
	return DssMapping{}, false
}

// RecordPacket registers a packet's DSN range for reinjection detection.
func (s *MptcpSubflow) RecordPacket(ref PacketRef) {
	s.DsnToPacketMap = append(s.DsnToPacketMap, ref)
}

// FindOverlap returns the first recorded packet whose DSN range overlaps
// [dsnLow, dsnHigh], excluding the packet with the same frame number.
func (s *MptcpSubflow) FindOverlap(dsnLow, dsnHigh uint64, excludeFrame uint64) (PacketRef, bool) {
	for _, ref := range s.DsnToPacketMap {
		if ref.Frame == excludeFrame {
			continue
		}
		if ref.DSNLow <= dsnHigh && dsnLow <= ref.DSNHigh {
			return ref, true
		}
	}
	return PacketRef{}, false
}

// MptcpAnalysis is one MPTCP connection: two MetaFlow directions, its
// attached subflow Conversations, and the Conversation that first
// established it (spec §3 MptcpAnalysis).
type MptcpAnalysis struct {
	StreamID uint64
	Meta     [2]MetaFlow
	Subflows []*Conversation
	Master   *Conversation
}

// AttachSubflow adds conv to this MPTCP connection if it isn't already
// attached (spec §4.F.1 "Subflow initialization").
func (a *MptcpAnalysis) AttachSubflow(conv *Conversation) {
	for _, c := range a.Subflows {
		if c == conv {
			return
		}
	}
	a.Subflows = append(a.Subflows, conv)
	if a.Master == nil {
		a.Master = conv
	}
}
