// Package mptcp implements the Multipath TCP analyzer (spec §4.F): linking
// TCP subflows into a MptcpAnalysis by token, converting subflow SSN to
// connection-wide DSN via DSS mapping intervals, and detecting cross-subflow
// reinjection. The data types it operates on (types.MptcpAnalysis,
// types.MetaFlow, types.MptcpSubflow, types.DssMapping) live in the types
// package alongside Conversation to avoid an import cycle (see DESIGN.md).
package mptcp

import (
	"crypto/sha1"
	"encoding/binary"
)

// TokenAndBaseDSN derives the 32-bit connection token and 64-bit base DSN
// from an MP_CAPABLE key, per spec §4.B / testable property 4:
// token = high 32 bits of SHA1(key_be), base_dsn = low 64 bits of SHA1(key_be).
func TokenAndBaseDSN(key uint64) (token uint32, baseDSN uint64) {
	var keyBE [8]byte
	binary.BigEndian.PutUint64(keyBE[:], key)
	sum := sha1.Sum(keyBE[:])
	token = binary.BigEndian.Uint32(sum[0:4])
	baseDSN = binary.BigEndian.Uint64(sum[12:20])
	return token, baseDSN
}
