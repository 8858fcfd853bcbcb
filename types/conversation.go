package types

import "time"

// AnalysisFlags is the per-packet anomaly-group outcome bitset (spec §3
// AnalysisRecord.flags).
type AnalysisFlags uint32

const (
	Retransmission AnalysisFlags = 1 << iota
	FastRetransmission
	SpuriousRetransmission
	OutOfOrder
	LostPacket
	AckLostPacket
	KeepAlive
	KeepAliveAck
	WindowUpdate
	WindowFull
	ZeroWindow
	ZeroWindowProbe
	ZeroWindowProbeAck
	DuplicateAck
	ReusedPorts
)

func (f AnalysisFlags) Has(flag AnalysisFlags) bool { return f&flag != 0 }

// Names returns the set flags' names as a slice, in declaration order, for
// the info column (spec §6 Output surface).
func (f AnalysisFlags) Names() []string {
	var names []string
	order := []struct {
		flag AnalysisFlags
		name string
	}{
		{Retransmission, "TCP Retransmission"},
		{FastRetransmission, "TCP Fast Retransmission"},
		{SpuriousRetransmission, "TCP Spurious Retransmission"},
		{OutOfOrder, "TCP Out-Of-Order"},
		{LostPacket, "TCP Previous segment not captured"},
		{AckLostPacket, "TCP ACKed unseen segment"},
		{KeepAlive, "TCP Keep-Alive"},
		{KeepAliveAck, "TCP Keep-Alive ACK"},
		{WindowUpdate, "TCP Window Update"},
		{WindowFull, "TCP Window Full"},
		{ZeroWindow, "TCP Zero Window"},
		{ZeroWindowProbe, "TCP Zero Window Probe"},
		{ZeroWindowProbeAck, "TCP Zero Window Probe Ack"},
		{DuplicateAck, "TCP Dup ACK"},
		{ReusedPorts, "TCP Port numbers reused"},
	}
	for _, o := range order {
		if f.Has(o.flag) {
			names = append(names, o.name)
		}
	}
	return names
}

// AnalysisKey identifies one AnalysisRecord by (frame, seq, ack), so it can
// be looked up (not recreated) on a visited pass (spec §3 / invariant 7).
type AnalysisKey struct {
	Frame uint64
	Seq   uint32
	Ack   uint32
}

// AnalysisRecord is the per-packet outcome of sequence analysis (spec §3).
type AnalysisRecord struct {
	Flags AnalysisFlags

	FrameAcked uint64
	AckRTT     *time.Duration

	RTO      *time.Duration
	RTOFrame uint64

	BytesInFlight *uint64

	PushBytesSent uint64

	DupAckNum   int
	DupAckFrame uint64
}

// Conversation is the bidirectional association of two FlowStates sharing a
// 4-tuple (spec §3 Conversation).
type Conversation struct {
	StreamID uint64

	Flow1Key FlowKey // canonical forward-direction key
	Flow1    *FlowState
	Flow2    *FlowState

	TsFirst    time.Time
	TsPrev     time.Time
	TsMruSyn   time.Time
	HasMruSyn  bool
	TsFirstRTT *time.Duration

	ServerPort uint16
	HasServerPort bool

	AckedTable map[AnalysisKey]*AnalysisRecord

	Mptcp *MptcpSubflow

	LastFrame uint64
}

// NewConversation allocates a Conversation with a freshly assigned stream ID
// and zeroed flow state (spec §4.C find_or_create).
func NewConversation(streamID uint64, key FlowKey, ts time.Time) *Conversation {
	return &Conversation{
		StreamID:   streamID,
		Flow1Key:   key,
		Flow1:      NewFlowState(),
		Flow2:      NewFlowState(),
		TsFirst:    ts,
		TsPrev:     ts,
		AckedTable: make(map[AnalysisKey]*AnalysisRecord),
	}
}

// FlowFor returns (thisDirection, otherDirection) FlowState pointers for the
// given FlowKey, and whether key is the forward (Flow1) direction.
func (c *Conversation) FlowFor(key FlowKey) (this, other *FlowState, forward bool) {
	if key.Equal(c.Flow1Key) {
		return c.Flow1, c.Flow2, true
	}
	return c.Flow2, c.Flow1, false
}

// GetOrCreateAnalysis retrieves the AnalysisRecord for (frame, seq, ack),
// creating it on first lookup (spec §3 lifecycle), or returning the
// existing one unchanged on a visited pass (invariant 7).
func (c *Conversation) GetOrCreateAnalysis(key AnalysisKey) (*AnalysisRecord, bool) {
	if rec, ok := c.AckedTable[key]; ok {
		return rec, true
	}
	rec := &AnalysisRecord{}
	c.AckedTable[key] = rec
	return rec, false
}
