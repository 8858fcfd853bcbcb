/*
 *    config.go - engine configuration for the TCP dissection and
 *    stream-analysis engine.
 *
 *    Adapted from HoneyBadger's ConnectionOptions (David Stainton,
 *    2014-2015), itself licensed GPLv3.
 */
package engine

// Config is the full set of toggles the façade honors (spec §6
// Configuration), mirroring the flat-struct-of-options shape
// ConnectionOptions used rather than a flag-parsing layer -- callers build
// one directly.
type Config struct {
	CheckChecksum bool

	AllowDesegment       bool
	ReassembleOutOfOrder bool // requires AllowDesegment

	AnalyzeSeq bool

	RelativeSeq bool

	// DefaultWindowScaling is used when a direction's win_scale is unknown
	// (-1): value in [-1, 14]. -1 means "don't scale".
	DefaultWindowScaling int8

	TrackBytesInFlight bool
	CalculateTs        bool
	IgnoreTimestamps   bool
	NoSubdissectorOnError bool
	TryHeuristicFirst     bool

	ExpOptionsWithMagic bool

	AnalyzeMPTCP                     bool
	MptcpRelativeSeq                bool
	MptcpAnalyzeMappings            bool
	MptcpInterSubflowsRetransmission bool
}

// DefaultConfig returns the configuration HoneyBadger's own defaults would
// suggest for a passive dissector: checksums and sequence analysis on,
// reassembly available but not out-of-order, MPTCP off until asked for.
func DefaultConfig() Config {
	return Config{
		CheckChecksum:        true,
		AllowDesegment:       true,
		AnalyzeSeq:           true,
		RelativeSeq:          true,
		DefaultWindowScaling: -1,
		TrackBytesInFlight:   true,
		CalculateTs:          true,
	}
}
