package mptcp

import (
	"net"
	"testing"
	"time"

	"github.com/dstainton-tcpflow/tcpflow/options"
	"github.com/dstainton-tcpflow/tcpflow/types"
)

func newConv() *types.Conversation {
	key := types.NewFlowKeyFromAddrs(net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, 2}, 5555, 80)
	return types.NewConversation(1, key, time.Now())
}

// TestProcessMPCapableBindsMeta confirms an MP_CAPABLE option derives the
// connection token/base_dsn and binds them onto the conversation's subflow.
func TestProcessMPCapableBindsMeta(t *testing.T) {
	a := NewAnalyzer(Config{})
	conv := newConv()

	mo := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 0x0123456789abcdef}
	opt := &options.Option{Kind: options.KindMPTCP, Parsed: mo}

	out := a.Process(conv, opt, 0, 0, 1, false)
	if out == nil || !out.HasToken {
		t.Fatal("expected MP_CAPABLE to derive and report a token")
	}
	wantToken, wantBaseDSN := TokenAndBaseDSN(0x0123456789abcdef)
	if out.Token != wantToken {
		t.Errorf("expected token %#x, got %#x", wantToken, out.Token)
	}
	if conv.Mptcp == nil || conv.Mptcp.Meta == nil {
		t.Fatal("expected the subflow's Meta to be bound")
	}
	if conv.Mptcp.Meta.Token != wantToken {
		t.Errorf("expected bound meta token %#x, got %#x", wantToken, conv.Mptcp.Meta.Token)
	}
	if conv.Mptcp.Meta.BaseDSN != wantBaseDSN {
		t.Errorf("expected bound meta base_dsn %#x, got %#x", wantBaseDSN, conv.Mptcp.Meta.BaseDSN)
	}
}

// TestProcessDSSRegistersMappingAndResolvesDSN confirms a DSS mapping
// option is registered on the subflow, and a later data segment landing
// inside that mapping's SSN range resolves to the registered extended DSN.
func TestProcessDSSRegistersMappingAndResolvesDSN(t *testing.T) {
	a := NewAnalyzer(Config{AnalyzeMappings: true, RelativeSeq: true})
	conv := newConv()

	capable := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 42}
	a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: capable}, 0, 0, 1, false)
	_, baseDSN := TokenAndBaseDSN(42)

	dss := &options.MptcpOption{
		Subtype: options.DSS, HasMapping: true, DssFlags: 0x08, // DSN_8BYTES: DSN carried as-is
		DSN: 5000, SSNLow: 100, DataLevelLen: 10,
	}
	a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: dss}, 0, 0, 2, false)

	if len(conv.Mptcp.SsnToDsnMappings) != 1 {
		t.Fatalf("expected one registered mapping, got %d", len(conv.Mptcp.SsnToDsnMappings))
	}

	out := a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: &options.MptcpOption{Subtype: options.DSS}}, 105, 3, 3, false)
	if !out.HasDSN || out.DSN != 5000 {
		t.Errorf("expected the registered DSN 5000 for ssn 105 inside [100,109], got hasDSN=%v dsn=%d", out.HasDSN, out.DSN)
	}
	wantRel := 5000 - baseDSN
	if !out.HasRelDSN || out.RelDSN != wantRel {
		t.Errorf("expected relative DSN %d, got hasRelDSN=%v relDSN=%d", wantRel, out.HasRelDSN, out.RelDSN)
	}
}

// TestProcessDSSSkipsRegistrationOnVisitedPass confirms mapping insertion
// obeys the two-pass idempotence invariant: nothing new is registered when
// visited is true.
func TestProcessDSSSkipsRegistrationOnVisitedPass(t *testing.T) {
	a := NewAnalyzer(Config{AnalyzeMappings: true})
	conv := newConv()
	a.ensureSubflow(conv)

	dss := &options.MptcpOption{Subtype: options.DSS, HasMapping: true, DSN: 1, SSNLow: 0, DataLevelLen: 5}
	a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: dss}, 0, 0, 1, true)

	if len(conv.Mptcp.SsnToDsnMappings) != 0 {
		t.Errorf("expected no mapping registered on a visited pass, got %d", len(conv.Mptcp.SsnToDsnMappings))
	}
}

// TestProcessMappingMissingReports confirms a data-carrying segment with no
// matching mapping sets MappingMissing rather than an arbitrary DSN.
func TestProcessMappingMissingReports(t *testing.T) {
	a := NewAnalyzer(Config{})
	conv := newConv()
	a.ensureSubflow(conv)

	out := a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: &options.MptcpOption{Subtype: options.DSS}}, 500, 4, 1, false)
	if !out.MappingMissing {
		t.Error("expected MappingMissing when no DSS mapping covers this segment's ssn range")
	}
	if out.HasDSN {
		t.Error("expected no DSN reported when the mapping lookup misses")
	}
}

// TestProcessMPCapableEchoedKeyMismatch confirms the 20-byte ACK form's
// echoed receiver key is checked against the subflow's previously observed
// SYN/SYN-ACK sender keys, raising a note only on a genuine mismatch.
func TestProcessMPCapableEchoedKeyMismatch(t *testing.T) {
	a := NewAnalyzer(Config{})
	conv := newConv()

	syn := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 0xAAAA}
	a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: syn}, 0, 0, 1, false)

	synAck := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 0xBBBB}
	a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: synAck}, 0, 0, 2, false)

	matching := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 0xAAAA, ReceiverKey: 0xBBBB, HasRecvKey: true}
	out := a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: matching}, 0, 0, 3, false)
	for _, note := range out.Notes {
		if note == options.NoteEchoedKeyMismatch {
			t.Errorf("expected no echoed-key-mismatch note when the ACK echoes a key seen in the handshake, got %v", out.Notes)
		}
	}

	mismatching := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 0xAAAA, ReceiverKey: 0xCCCC, HasRecvKey: true}
	out2 := a.Process(conv, &options.Option{Kind: options.KindMPTCP, Parsed: mismatching}, 0, 0, 4, false)
	found := false
	for _, note := range out2.Notes {
		if note == options.NoteEchoedKeyMismatch {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an echoed-key-mismatch note when the ACK echoes an unseen key, got %v", out2.Notes)
	}
}

// TestRecordAndCheckReinjectionDetectsOverlap confirms a DSN range recorded
// on one subflow is detected as a reinjection when the same range appears
// on another subflow of the same connection.
func TestRecordAndCheckReinjectionDetectsOverlap(t *testing.T) {
	a := NewAnalyzer(Config{InterSubflowRetransmission: true})

	convA := newConv()
	capable := &options.MptcpOption{Subtype: options.MPCapable, SenderKey: 7}
	a.Process(convA, &options.Option{Kind: options.KindMPTCP, Parsed: capable}, 0, 0, 1, false)
	token, _ := TokenAndBaseDSN(7)

	convB := types.NewConversation(2, types.NewFlowKeyFromAddrs(net.IP{10, 0, 0, 3}, net.IP{10, 0, 0, 4}, 6666, 80), time.Now())
	join := &options.MptcpOption{Subtype: options.MPJoin, ReceiverToken: token}
	a.Process(convB, &options.Option{Kind: options.KindMPTCP, Parsed: join}, 0, 0, 2, false)

	outA := &types.MptcpOutcome{}
	a.RecordAndCheckReinjection(token, convA, 1000, 1099, 1, outA)

	outB := &types.MptcpOutcome{}
	a.RecordAndCheckReinjection(token, convB, 1050, 1149, 2, outB)

	if outB.ReinjectionOf != 1 {
		t.Errorf("expected the second subflow's overlapping range to be flagged as a reinjection of frame 1, got %+v", outB)
	}
}
