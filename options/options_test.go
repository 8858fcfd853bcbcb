package options

import "testing"

func TestParseOptionsMSSAndWindowScale(t *testing.T) {
	buf := []byte{
		byte(KindMSS), 4, 0x05, 0xB4, // MSS 1460
		byte(KindWindowScale), 3, 7, // shift 7
		byte(KindNOP),
		byte(KindEOL),
	}
	opts := ParseOptions(buf, ParseConfig{})
	if len(opts) != 4 {
		t.Fatalf("expected 4 decoded options, got %d", len(opts))
	}
	mss, ok := opts[0].Parsed.(MSS)
	if !ok || mss.Value != 1460 {
		t.Errorf("expected MSS 1460, got %+v", opts[0].Parsed)
	}
	ws, ok := opts[1].Parsed.(WindowScale)
	if !ok || ws.Shift != 7 || ws.Clamped {
		t.Errorf("expected unclamped shift 7, got %+v", opts[1].Parsed)
	}
}

func TestParseOptionsWindowScaleClamped(t *testing.T) {
	buf := []byte{byte(KindWindowScale), 3, 20}
	opts := ParseOptions(buf, ParseConfig{})
	ws := opts[0].Parsed.(WindowScale)
	if !ws.Clamped || ws.Shift != 14 {
		t.Errorf("expected shift clamped to 14, got %+v", ws)
	}
}

func TestParseOptionsTruncatedLength(t *testing.T) {
	buf := []byte{byte(KindMSS), 4, 0x05} // declares 4 bytes but only 1 payload byte present
	opts := ParseOptions(buf, ParseConfig{})
	if len(opts) != 1 || !opts[0].Malformed {
		t.Errorf("expected a single malformed option, got %+v", opts)
	}
}

func TestParseOptionsSack(t *testing.T) {
	buf := []byte{byte(KindSACK), 10, 0, 0, 0, 10, 0, 0, 0, 20}
	opts := ParseOptions(buf, ParseConfig{})
	sack, ok := opts[0].Parsed.(Sack)
	if !ok || len(sack.Edges) != 1 || sack.Edges[0].Left != 10 || sack.Edges[0].Right != 20 {
		t.Errorf("unexpected SACK decode: %+v", opts[0])
	}
}

func TestParseOptionsFourConsecutiveNops(t *testing.T) {
	buf := []byte{byte(KindNOP), byte(KindNOP), byte(KindNOP), byte(KindNOP)}
	opts := ParseOptions(buf, ParseConfig{})
	if len(opts) != 4 {
		t.Fatalf("expected 4 NOPs, got %d", len(opts))
	}
	if len(opts[3].Notes) == 0 {
		t.Error("expected a note on the 4th consecutive NOP")
	}
}
