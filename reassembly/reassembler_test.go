package reassembly

import (
	"testing"
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

// TestFeedAssemblesAcrossTwoSegments confirms an MSP opened for a fixed byte
// count completes only once both fragments arrive, and hands the assembled
// bytes to the subdissector.
func TestFeedAssemblesAcrossTwoSegments(t *testing.T) {
	fs := types.NewFlowState()
	r := New(Config{AllowDesegment: true})

	var got types.PduView
	cb := func(pdu types.PduView) (types.DesegmentResult, error) {
		got = pdu
		return types.DesegmentResult{Want: types.DesegmentComplete}, nil
	}
	r.Open(fs, types.Sequence(1000), 10, 1, time.Now(), cb)

	pdu, notes := r.Feed(fs, 1, types.Sequence(1000), []byte("hello"), 1, time.Now(), false, false)
	if pdu != nil || notes != nil {
		t.Fatalf("expected no completion after the first fragment, got pdu=%v notes=%v", pdu, notes)
	}

	pdu, notes = r.Feed(fs, 1, types.Sequence(1005), []byte("world"), 2, time.Now(), false, false)
	if pdu == nil {
		t.Fatalf("expected the PDU to complete on the second fragment, notes=%v", notes)
	}
	if string(pdu.Data) != "helloworld" {
		t.Errorf("expected assembled data %q, got %q", "helloworld", pdu.Data)
	}
	if string(got.Data) != "helloworld" {
		t.Errorf("expected subdissector to see %q, got %q", "helloworld", got.Data)
	}
}

// TestFeedDisabledWithoutAllowDesegment confirms the reassembler is a no-op
// when allow_desegment is off.
func TestFeedDisabledWithoutAllowDesegment(t *testing.T) {
	fs := types.NewFlowState()
	r := New(Config{AllowDesegment: false})
	r.Open(fs, types.Sequence(1000), 10, 1, time.Now(), nil)

	pdu, notes := r.Feed(fs, 1, types.Sequence(1000), []byte("hello world"), 1, time.Now(), false, false)
	if pdu != nil || notes != nil {
		t.Errorf("expected reassembler to no-op when AllowDesegment is false, got pdu=%v notes=%v", pdu, notes)
	}
}

// TestFeedRetransmittedNote confirms a segment whose bytes are already fully
// covered by a completed MSP's range is flagged rather than re-fed.
func TestFeedRetransmittedNote(t *testing.T) {
	fs := types.NewFlowState()
	r := New(Config{AllowDesegment: true})
	r.Open(fs, types.Sequence(1000), 5, 1, time.Now(), nil)

	pdu, notes := r.Feed(fs, 1, types.Sequence(1000), []byte("hello"), 1, time.Now(), false, false)
	if pdu == nil {
		t.Fatalf("expected the MSP to complete on its only fragment")
	}

	pdu, notes = r.Feed(fs, 1, types.Sequence(1001), []byte("ell"), 2, time.Now(), false, false)
	if pdu != nil {
		t.Errorf("expected no re-completion on a fully covered resend, got %v", pdu)
	}
	if len(notes) != 1 || notes[0] != retransmittedNote {
		t.Errorf("expected the retransmitted note, got %v", notes)
	}
}

// TestFeedOneMoreSegmentExtendsMSP exercises the DesegmentOneMoreSegment
// tail-loop: the subdissector asks for exactly one further segment, which
// should re-arm the MSP instead of finalizing it.
func TestFeedOneMoreSegmentExtendsMSP(t *testing.T) {
	fs := types.NewFlowState()
	r := New(Config{AllowDesegment: true})

	calls := 0
	cb := func(pdu types.PduView) (types.DesegmentResult, error) {
		calls++
		if calls == 1 {
			return types.DesegmentResult{Want: types.DesegmentOneMoreSegment}, nil
		}
		return types.DesegmentResult{Want: types.DesegmentComplete}, nil
	}
	r.Open(fs, types.Sequence(2000), 4, 1, time.Now(), cb)

	pdu, _ := r.Feed(fs, 1, types.Sequence(2000), []byte("abcd"), 1, time.Now(), false, false)
	if pdu == nil {
		t.Fatalf("expected the first 4-byte chunk to complete the initial MSP")
	}
	if calls != 1 {
		t.Fatalf("expected the subdissector to run once so far, got %d", calls)
	}

	pdu, _ = r.Feed(fs, 1, types.Sequence(2004), []byte("efgh"), 2, time.Now(), false, false)
	if pdu == nil {
		t.Fatalf("expected the extended MSP to complete once the extra segment arrives")
	}
	if calls != 2 {
		t.Errorf("expected the subdissector to run a second time, got %d", calls)
	}
}
