package conversation

import (
	"testing"
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

func clientSyn(seq uint32) *types.Segment {
	return &types.Segment{
		SrcIP: []byte{10, 0, 0, 1}, DstIP: []byte{10, 0, 0, 2},
		SrcPort: 5555, DstPort: 80,
		Seq: seq, Flags: types.FlagSYN,
	}
}

func serverReply(ack uint32) *types.Segment {
	return &types.Segment{
		SrcIP: []byte{10, 0, 0, 2}, DstIP: []byte{10, 0, 0, 1},
		SrcPort: 80, DstPort: 5555,
		Seq: 9000, Ack: ack, Flags: types.FlagSYN | types.FlagACK,
	}
}

// TestFindOrCreateNewConversation confirms a fresh 4-tuple allocates exactly
// one Conversation and is found again on a subsequent lookup in either
// direction.
func TestFindOrCreateNewConversation(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	conv1, fwd1, reused1 := tbl.FindOrCreate(clientSyn(1000), now)
	if reused1 {
		t.Fatal("first sighting of a 4-tuple must never report REUSED_PORTS")
	}

	conv2, fwd2, reused2 := tbl.FindOrCreate(serverReply(1001), now)
	if reused2 {
		t.Fatal("the reply within the same conversation must not be reused")
	}
	if fwd1 == fwd2 {
		t.Error("expected the two sides of one conversation to map to opposite directions")
	}
	if conv1 != conv2 {
		t.Error("expected both directions of one 4-tuple to share a Conversation")
	}
}

// flowOf returns whichever of conv's two FlowStates the given direction flag
// (as returned by FindOrCreate) names.
func flowOf(conv *types.Conversation, forward bool) *types.FlowState {
	if forward {
		return conv.Flow1
	}
	return conv.Flow2
}

// TestFindOrCreatePortReuseRekeys confirms a new SYN with a seq mismatching
// the stored base_seq on an already-established direction rekeys into a
// brand-new Conversation tagged REUSED_PORTS.
func TestFindOrCreatePortReuseRekeys(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	first := clientSyn(1000)
	conv1, fwd1, _ := tbl.FindOrCreate(first, now)
	flowOf(conv1, fwd1).SetBaseSeq(types.Sequence(1000))

	conv2, _, reused := tbl.FindOrCreate(clientSyn(5000), now.Add(time.Minute))
	if !reused {
		t.Fatal("expected a SYN with a mismatched seq to rekey as REUSED_PORTS")
	}
	if conv1 == conv2 {
		t.Error("expected a distinct Conversation after the port-reuse rekey")
	}
	if conv2.StreamID == conv1.StreamID {
		t.Error("expected the rekeyed Conversation to get a new stream ID")
	}
}

// TestFindOrCreateReuseGuardSuppresses confirms a ReuseGuard veto keeps the
// existing Conversation instead of rekeying.
func TestFindOrCreateReuseGuardSuppresses(t *testing.T) {
	tbl := NewTable()
	tbl.ReuseGuard = func(seg *types.Segment, existing *types.Conversation) bool { return true }
	now := time.Now()

	conv1, fwd1, _ := tbl.FindOrCreate(clientSyn(1000), now)
	flowOf(conv1, fwd1).SetBaseSeq(types.Sequence(1000))

	conv2, _, reused := tbl.FindOrCreate(clientSyn(5000), now)
	if reused {
		t.Error("expected the ReuseGuard veto to suppress the rekey")
	}
	if conv1 != conv2 {
		t.Error("expected the suppressed rekey to return the existing Conversation")
	}
}

// TestFindOrCreateMatchingSeqDoesNotRekey confirms a repeated SYN carrying
// the same seq as the stored base_seq is treated as a retransmitted SYN, not
// a port reuse.
func TestFindOrCreateMatchingSeqDoesNotRekey(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	conv1, fwd1, _ := tbl.FindOrCreate(clientSyn(1000), now)
	flowOf(conv1, fwd1).SetBaseSeq(types.Sequence(1000))

	conv2, _, reused := tbl.FindOrCreate(clientSyn(1000), now)
	if reused {
		t.Error("a retransmitted SYN with an unchanged seq must not be treated as port reuse")
	}
	if conv1 != conv2 {
		t.Error("expected the same Conversation for a retransmitted SYN")
	}
}
