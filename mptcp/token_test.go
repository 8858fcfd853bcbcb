package mptcp

import (
	"crypto/sha1"
	"encoding/binary"
	"testing"
)

func TestTokenAndBaseDSN(t *testing.T) {
	const key = uint64(0x1122334455667788)

	var keyBE [8]byte
	binary.BigEndian.PutUint64(keyBE[:], key)
	sum := sha1.Sum(keyBE[:])
	wantToken := binary.BigEndian.Uint32(sum[0:4])
	wantBaseDSN := binary.BigEndian.Uint64(sum[12:20])

	token, baseDSN := TokenAndBaseDSN(key)
	if token != wantToken {
		t.Errorf("token: got %#x, want %#x", token, wantToken)
	}
	if baseDSN != wantBaseDSN {
		t.Errorf("baseDSN: got %#x, want %#x", baseDSN, wantBaseDSN)
	}
}

func TestTokenAndBaseDSNDeterministic(t *testing.T) {
	token1, dsn1 := TokenAndBaseDSN(42)
	token2, dsn2 := TokenAndBaseDSN(42)
	if token1 != token2 || dsn1 != dsn2 {
		t.Error("TokenAndBaseDSN must be a pure function of key")
	}
	token3, _ := TokenAndBaseDSN(43)
	if token1 == token3 {
		t.Error("different keys should (overwhelmingly likely) derive different tokens")
	}
}
