// Package conversation implements the conversation table of spec §4.C:
// keyed lookup from a segment's 4-tuple to its Conversation, direction
// assignment, and port-reuse rekeying.
//
// Grounded on HoneyBadger's ConnectionPool (connection_pool.go): same
// map-from-flow-hash-to-value shape, renamed to this module's
// Conversation/FlowKey vocabulary. The teacher's sync.RWMutex is
// deliberately not carried forward -- spec §5 specifies a single
// engine-owned map mutated only by the engine on non-visited passes, so
// there is no concurrent writer to guard against here.
package conversation

import (
	"time"

	"github.com/dstainton-tcpflow/tcpflow/types"
)

// ReuseGuard lets a caller veto the default unconditional port-reuse
// heuristic (spec §9 "Open question: port-reuse vs. MPTCP" -- "expose a
// hook for MPTCP-aware overrides; do not silently change the heuristic").
// Returning true suppresses the rekey for this SYN.
type ReuseGuard func(seg *types.Segment, existing *types.Conversation) bool

// Table is the engine's single conversation map (spec §5 "conversations is
// the single large mutable map; only the engine mutates it").
type Table struct {
	byV4 map[types.ConversationHash4]*types.Conversation
	byV6 map[types.ConversationHash16]*types.Conversation

	nextStreamID uint64

	// ReuseGuard defaults to nil, preserving the unconditional legacy
	// heuristic; set it to opt into MPTCP-aware suppression.
	ReuseGuard ReuseGuard
}

// NewTable returns an empty conversation table.
func NewTable() *Table {
	return &Table{
		byV4: make(map[types.ConversationHash4]*types.Conversation),
		byV6: make(map[types.ConversationHash16]*types.Conversation),
	}
}

func (t *Table) lookup(key types.FlowKey) (*types.Conversation, bool) {
	if key.IsIPv6() {
		conv, ok := t.byV6[key.Hash6()]
		return conv, ok
	}
	conv, ok := t.byV4[key.Hash4()]
	return conv, ok
}

func (t *Table) store(key types.FlowKey, conv *types.Conversation) {
	if key.IsIPv6() {
		t.byV6[key.Hash6()] = conv
	} else {
		t.byV4[key.Hash4()] = conv
	}
}

// create allocates and stores a fresh Conversation for key, with the given
// canonical Flow1Key orientation.
func (t *Table) create(canonical types.FlowKey, ts time.Time) *types.Conversation {
	conv := types.NewConversation(t.nextStreamID, canonical, ts)
	t.nextStreamID++
	t.store(canonical, conv)
	return conv
}

// canonicalKey returns key oriented so Direction() reports Forward, the
// orientation Conversation.Flow1Key is always stored under.
func canonicalKey(key types.FlowKey) types.FlowKey {
	if key.Direction() == types.DirectionForward {
		return key
	}
	return key.Reverse()
}

// FindOrCreate returns the Conversation for seg's 4-tuple, creating one on
// first sighting, and applies the port-reuse rekey of spec §4.C when a pure
// SYN (or SYN-ACK) arrives with a seq that doesn't match the stored
// base_seq for its direction. It returns the conversation, whether seg maps
// to the forward direction (Flow1) of that conversation, and whether this
// call just rekeyed to a brand-new conversation (REUSED_PORTS).
func (t *Table) FindOrCreate(seg *types.Segment, ts time.Time) (conv *types.Conversation, forward bool, reused bool) {
	key := seg.FlowKey()
	canonical := canonicalKey(key)

	existing, ok := t.lookup(canonical)
	if !ok {
		conv = t.create(canonical, ts)
		_, _, forward = conv.FlowFor(key)
		return conv, forward, false
	}

	if seg.Flags.Has(types.FlagSYN) {
		this, _, fwd := existing.FlowFor(key)
		suppressed := t.ReuseGuard != nil && t.ReuseGuard(seg, existing)
		if !suppressed && this.HasBaseSeq() && this.BaseSeq.Difference(types.Sequence(seg.Seq)) != 0 {
			conv = t.create(canonical, ts)
			_, _, forward = conv.FlowFor(key)
			return conv, forward, true
		}
		return existing, fwd, false
	}

	_, _, forward = existing.FlowFor(key)
	return existing, forward, false
}
