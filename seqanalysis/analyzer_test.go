package seqanalysis

import (
	"testing"
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

func freshPair() (*types.FlowState, *types.FlowState) {
	return types.NewFlowState(), types.NewFlowState()
}

// TestRunLostPacket exercises rule 3: a gap between the observed seq and the
// forward direction's tracked next-seq, with the reverse window nonzero so
// it can't instead be read as a zero-window probe.
func TestRunLostPacket(t *testing.T) {
	fwd, rev := freshPair()
	rev.Window = 8192
	fwd.NextSeq = types.Sequence(1000)

	a := New(Config{TrackBytesInFlight: true})
	rec := a.Run(fwd, rev, Input{
		Seq: 2000, Ack: 500, SegLen: 100, Window: 8192, ACK: true, Ts: time.Now(),
	}, nil)

	if !rec.Flags.Has(types.LostPacket) {
		t.Errorf("expected LOST_PACKET, got flags %v", rec.Flags)
	}
	if fwd.ValidBif {
		t.Error("expected valid_bif to be invalidated on a detected gap")
	}
}

// TestRunZeroWindowThenProbe drives a zero-window segment followed by a
// 1-byte probe at the tracked next-seq, matching rule 1 (ZWP takes priority
// over rule 2 ZERO_WINDOW because the probe-length check is listed first).
func TestRunZeroWindowThenProbe(t *testing.T) {
	fwd, rev := freshPair()
	fwd.NextSeq = types.Sequence(1000)
	a := New(Config{TrackBytesInFlight: true})

	zw := a.Run(fwd, rev, Input{Seq: 1000, Ack: 1, Window: 0, ACK: true, Ts: time.Now()}, nil)
	if !zw.Flags.Has(types.ZeroWindow) {
		t.Fatalf("expected ZERO_WINDOW on the first segment, got %v", zw.Flags)
	}

	rev.Window = 0
	probe := a.Run(fwd, rev, Input{
		Seq: 1000, Ack: 1, SegLen: 1, Window: 100, ACK: true, Ts: time.Now(),
	}, nil)
	if !probe.Flags.Has(types.ZeroWindowProbe) {
		t.Errorf("expected ZERO_WINDOW_PROBE, got %v", probe.Flags)
	}
}

// TestRunDuplicateAckIncrements confirms that repeated identical ACKs with
// an unchanged window increment FlowState.DupAckNum rather than resetting it
// (rule 7 default case).
func TestRunDuplicateAckIncrements(t *testing.T) {
	fwd, rev := freshPair()
	fwd.NextSeq = types.Sequence(1000)
	fwd.Window = 100
	fwd.LastAck = types.Sequence(500)
	a := New(Config{TrackBytesInFlight: true})

	in := Input{Seq: 1000, Ack: 500, Window: 100, ACK: true, Ts: time.Now()}
	first := a.Run(fwd, rev, in, nil)
	second := a.Run(fwd, rev, in, nil)

	if !first.Flags.Has(types.DuplicateAck) || !second.Flags.Has(types.DuplicateAck) {
		t.Fatalf("expected both segments classified DUPLICATE_ACK, got %v / %v", first.Flags, second.Flags)
	}
	if second.DupAckNum != 2 {
		t.Errorf("expected DupAckNum to reach 2, got %d", second.DupAckNum)
	}
}

// TestRunFastRetransmission checks rule 9's first branch: a resend arriving
// soon after 2+ duplicate ACKs on the reverse direction.
func TestRunFastRetransmission(t *testing.T) {
	fwd, rev := freshPair()
	fwd.NextSeq = types.Sequence(2000)
	fwd.NextSeqTime = time.Now().Add(-time.Second)
	rev.DupAckNum = 3
	rev.LastDupAckTime = time.Now()

	a := New(Config{TrackBytesInFlight: true})
	rec := a.Run(fwd, rev, Input{
		Seq: 1000, Ack: 1, SegLen: 500, Window: 8192, ACK: true, Ts: time.Now(),
	}, nil)

	if !rec.Flags.Has(types.FastRetransmission) {
		t.Errorf("expected FAST_RETRANSMISSION, got %v", rec.Flags)
	}
}

// TestRunPlainRetransmissionSetsRTO exercises rule 9's fallback branch and
// confirms an RTO duration is attached.
func TestRunPlainRetransmissionSetsRTO(t *testing.T) {
	fwd, rev := freshPair()
	fwd.NextSeq = types.Sequence(2000)
	fwd.NextSeqTime = time.Now().Add(-500 * time.Millisecond)
	fwd.NextSeqFrame = 7

	a := New(Config{TrackBytesInFlight: true})
	rec := a.Run(fwd, rev, Input{
		Seq: 1000, Ack: 1, SegLen: 500, Window: 8192, ACK: true, Ts: time.Now(),
	}, nil)

	if !rec.Flags.Has(types.Retransmission) {
		t.Fatalf("expected RETRANSMISSION, got %v", rec.Flags)
	}
	if rec.RTO == nil {
		t.Error("expected an RTO duration to be attached")
	}
	if rec.RTOFrame != 7 {
		t.Errorf("expected RTOFrame 7, got %d", rec.RTOFrame)
	}
}

// TestRunAdvanceTracksBytesInFlight confirms that after an initial data
// segment, NextSeq advances to cover it and the UnackedSegment it leaves
// behind feeds BytesInFlight.
func TestRunAdvanceTracksBytesInFlight(t *testing.T) {
	fwd, rev := freshPair()
	a := New(Config{TrackBytesInFlight: true})

	rec := a.Run(fwd, rev, Input{Seq: 1000, Ack: 1, SegLen: 1000, ACK: true, Ts: time.Now()}, nil)
	if fwd.NextSeq != types.Sequence(2000) {
		t.Fatalf("expected NextSeq to advance to 2000, got %d", fwd.NextSeq)
	}
	if len(fwd.UnackedSegments) != 1 {
		t.Fatalf("expected one unacked segment tracked, got %d", len(fwd.UnackedSegments))
	}
	if rec.BytesInFlight == nil || *rec.BytesInFlight != 1000 {
		t.Errorf("expected BytesInFlight 1000, got %v", rec.BytesInFlight)
	}
}

// TestRunTrackBytesInFlightDisabled confirms Config{TrackBytesInFlight:
// false} withholds BytesInFlight even in the same scenario
// TestRunAdvanceTracksBytesInFlight shows it being computed under
// Config{TrackBytesInFlight: true}.
func TestRunTrackBytesInFlightDisabled(t *testing.T) {
	fwd, rev := freshPair()
	a := New(Config{})

	rec := a.Run(fwd, rev, Input{Seq: 1000, Ack: 1, SegLen: 1000, ACK: true, Ts: time.Now()}, nil)
	if len(fwd.UnackedSegments) != 1 {
		t.Fatalf("expected one unacked segment tracked, got %d", len(fwd.UnackedSegments))
	}
	if rec.BytesInFlight != nil {
		t.Errorf("expected no BytesInFlight when TrackBytesInFlight is disabled, got %d", *rec.BytesInFlight)
	}
}
