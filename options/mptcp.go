package options

import "encoding/binary"

// MptcpSubtype is the high nibble of an MPTCP option's first payload byte.
type MptcpSubtype uint8

const (
	MPCapable    MptcpSubtype = 0
	MPJoin       MptcpSubtype = 1
	DSS          MptcpSubtype = 2
	AddAddr      MptcpSubtype = 3
	RemoveAddr   MptcpSubtype = 4
	MPPrio       MptcpSubtype = 5
	MPFail       MptcpSubtype = 6
	MPFastclose  MptcpSubtype = 7
)

// MPTCP algorithm/crypto errors, attached as Option.Notes (spec §4.B /
// §7: MptcpMissingAlgorithm, MptcpUnsupportedAlgorithm).
const (
	noteMissingAlgorithm     = "MPTCP: missing_algorithm"
	noteUnsupportedAlgorithm = "MPTCP: unsupported_algorithm"
	noteInfiniteMapping      = "MPTCP: infinite mapping"
)

// NoteEchoedKeyMismatch is the expert note for spec §4.B / §7's
// MptcpEchoedKeyMismatch: the 20-byte MP_CAPABLE ACK form's echoed key
// doesn't match either key exchanged in the SYN/SYN-ACK. Exported because,
// unlike the other option-level notes above, this one can only be raised
// once the subtype's cross-packet key state is known -- the mptcp package
// owns that state, not this decoder.
const NoteEchoedKeyMismatch = "MPTCP: echoed key mismatch"

// MptcpOption is the decoded form of TCP option kind 30. Exactly one of the
// subtype-specific fields below is meaningful, selected by Subtype.
type MptcpOption struct {
	Subtype MptcpSubtype

	// MP_CAPABLE
	SenderKey   uint64
	ReceiverKey uint64 // only set on the 20-byte ACK form
	HasRecvKey  bool
	ChecksumReq bool

	// MP_JOIN
	Backup       bool
	AddressID    uint8
	ReceiverToken uint32 // SYN form
	SenderRandom  uint32 // SYN / SYN-ACK form
	SenderHMAC    []byte // SYN-ACK (truncated) / ACK (full) form

	// DSS
	DssFlags      uint8
	DataAck       uint64
	HasDataAck    bool
	DataAck8Bytes bool
	DSN           uint64
	SSNLow        uint32
	DataLevelLen  uint16
	HasMapping    bool
	Checksum      uint16

	// ADD_ADDR / REMOVE_ADDR
	Address   []byte
	Port      uint16
	HasPort   bool

	// MP_PRIO
	// (Backup field reused)

	// MP_FAIL
	FailDSN uint64

	// MP_FASTCLOSE
	ReceiverKeyFastclose uint64
}

const (
	dssDataAckPresent  = 0x01
	dssDataAck8Bytes   = 0x02
	dssMappingPresent  = 0x04
	dssDSN8Bytes       = 0x08
	dssDataFin         = 0x10
)

// decodeMptcpOption dispatches on the high nibble of the first payload byte
// (spec §4.B "MPTCP option (kind 30)").
func decodeMptcpOption(payload []byte, opt *Option) *MptcpOption {
	if len(payload) < 1 {
		opt.Malformed = true
		return nil
	}
	subtype := MptcpSubtype(payload[0] >> 4)
	m := &MptcpOption{Subtype: subtype}
	switch subtype {
	case MPCapable:
		decodeMPCapable(payload, m, opt)
	case MPJoin:
		decodeMPJoin(payload, m, opt)
	case DSS:
		decodeDSS(payload, m, opt)
	case AddAddr:
		decodeAddAddr(payload, m, opt)
	case RemoveAddr:
		if len(payload) >= 2 {
			m.AddressID = payload[1]
		}
	case MPPrio:
		if len(payload) >= 1 {
			m.Backup = payload[0]&0x01 != 0
		}
		if len(payload) >= 2 {
			m.AddressID = payload[1]
		}
	case MPFail:
		if len(payload) < 10 {
			opt.Malformed = true
			return m
		}
		m.FailDSN = binary.BigEndian.Uint64(payload[2:10])
	case MPFastclose:
		if len(payload) < 10 {
			opt.Malformed = true
			return m
		}
		m.ReceiverKeyFastclose = binary.BigEndian.Uint64(payload[2:10])
	default:
		// unknown MPTCP subtype: only Subtype is decoded; the raw bytes stay
		// in Option.Payload.
		opt.Notes = append(opt.Notes, "MPTCP: unknown subtype")
	}
	return m
}

func decodeMPCapable(payload []byte, m *MptcpOption, opt *Option) {
	// byte0: subtype(4) | version(4); byte1: flags (checksum-required bit 0)
	if len(payload) < 2 {
		opt.Malformed = true
		return
	}
	flags := payload[1]
	m.ChecksumReq = flags&0x80 != 0
	crypto := flags & 0x7F
	switch {
	case crypto == 0:
		opt.Notes = append(opt.Notes, noteMissingAlgorithm)
	case crypto != 0x01:
		opt.Notes = append(opt.Notes, noteUnsupportedAlgorithm)
	}
	// payload excludes the kind and len octets, so the 12- and 20-byte
	// option forms carry 10 and 18 payload bytes.
	switch len(payload) {
	case 10: // SYN / SYN-ACK: subtype+ver, flags, 8-byte key
		m.SenderKey = binary.BigEndian.Uint64(payload[2:10])
	case 18: // ACK: subtype+ver, flags, sender key, receiver key
		m.SenderKey = binary.BigEndian.Uint64(payload[2:10])
		m.ReceiverKey = binary.BigEndian.Uint64(payload[10:18])
		m.HasRecvKey = true
	default:
		opt.Malformed = true
	}
}

func decodeMPJoin(payload []byte, m *MptcpOption, opt *Option) {
	if len(payload) < 2 {
		opt.Malformed = true
		return
	}
	m.Backup = payload[1]&0x01 != 0
	// payload excludes the kind and len octets, so the 12-, 16- and 24-byte
	// option forms carry 10, 14 and 22 payload bytes.
	switch len(payload) {
	case 10: // SYN: subtype+flags, backup+addrID, token, random
		m.AddressID = payload[1]
		m.ReceiverToken = binary.BigEndian.Uint32(payload[2:6])
		m.SenderRandom = binary.BigEndian.Uint32(payload[6:10])
	case 14: // SYN-ACK: subtype+flags, backup+addrID, random, truncated HMAC(8 bytes)
		m.AddressID = payload[1]
		m.SenderRandom = binary.BigEndian.Uint32(payload[2:6])
		m.SenderHMAC = append([]byte(nil), payload[6:14]...)
	case 22: // ACK: subtype+flags(reserved), HMAC(20 bytes)
		m.SenderHMAC = append([]byte(nil), payload[2:22]...)
	default:
		opt.Malformed = true
	}
}

func decodeDSS(payload []byte, m *MptcpOption, opt *Option) {
	if len(payload) < 2 {
		opt.Malformed = true
		return
	}
	flags := payload[1]
	m.DssFlags = flags
	m.HasDataAck = flags&dssDataAckPresent != 0
	m.DataAck8Bytes = flags&dssDataAck8Bytes != 0
	m.HasMapping = flags&dssMappingPresent != 0
	dsn8 := flags&dssDSN8Bytes != 0

	i := 2
	if m.HasDataAck {
		if m.DataAck8Bytes {
			if len(payload) < i+8 {
				opt.Malformed = true
				return
			}
			m.DataAck = binary.BigEndian.Uint64(payload[i : i+8])
			i += 8
		} else {
			if len(payload) < i+4 {
				opt.Malformed = true
				return
			}
			m.DataAck = uint64(binary.BigEndian.Uint32(payload[i : i+4]))
			i += 4
		}
	}
	if m.HasMapping {
		dsnWidth := 4
		if dsn8 {
			dsnWidth = 8
		}
		if len(payload) < i+dsnWidth+4+2+2 {
			opt.Malformed = true
			return
		}
		if dsn8 {
			m.DSN = binary.BigEndian.Uint64(payload[i : i+8])
		} else {
			m.DSN = uint64(binary.BigEndian.Uint32(payload[i : i+4]))
		}
		i += dsnWidth
		m.SSNLow = binary.BigEndian.Uint32(payload[i : i+4])
		i += 4
		m.DataLevelLen = binary.BigEndian.Uint16(payload[i : i+2])
		i += 2
		m.Checksum = binary.BigEndian.Uint16(payload[i : i+2])
		if m.DataLevelLen == 0 {
			opt.Notes = append(opt.Notes, noteInfiniteMapping)
		}
	}
}

func decodeAddAddr(payload []byte, m *MptcpOption, opt *Option) {
	if len(payload) < 2 {
		opt.Malformed = true
		return
	}
	m.AddressID = payload[1]
	rest := payload[2:]
	switch len(rest) {
	case 4, 6: // IPv4, optionally + port
		m.Address = append([]byte(nil), rest[:4]...)
		if len(rest) == 6 {
			m.Port = binary.BigEndian.Uint16(rest[4:6])
			m.HasPort = true
		}
	case 16, 18: // IPv6, optionally + port
		m.Address = append([]byte(nil), rest[:16]...)
		if len(rest) == 18 {
			m.Port = binary.BigEndian.Uint16(rest[16:18])
			m.HasPort = true
		}
	default:
		opt.Malformed = true
	}
}
