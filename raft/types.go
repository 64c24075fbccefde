// Package raft implements the per-node consensus state machine of a
// leader-based replicated log: role transitions, vote and term arithmetic,
// election timing, heartbeat/replication scheduling, and commit-index
// advancement. It consumes a LogStorage and Network capability and exposes
// committed log ids through a Metrics watcher; it never applies commands
// itself.
package raft

import (
	"fmt"

	"raftcore/membership"
)

// Term is a monotonically increasing election epoch.
type Term uint64

// NodeID is an opaque, totally-ordered, comparable identifier for a member
// of the cluster. It is used as a map key and compared with plain string
// ordering. It is an alias of membership.NodeID so the engine and the
// membership table agree on identity without an import cycle (membership
// has no dependency on raft).
type NodeID = membership.NodeID

// Vote is the durable authorization a node has issued. committed=true
// marks a vote acknowledged by a quorum: the voter has established itself
// as leader for Term.
//
// Total order is lexicographic on (Term, Committed, VotedFor), with
// false < true for Committed. A node only ever accepts a foreign vote that
// is strictly greater than its own.
type Vote struct {
	Term      Term
	VotedFor  NodeID
	Committed bool
}

// ZeroVote is the initial vote of a freshly initialized node.
var ZeroVote = Vote{}

// Less reports whether v sorts strictly before other under the vote total
// order.
func (v Vote) Less(other Vote) bool {
	if v.Term != other.Term {
		return v.Term < other.Term
	}
	if v.Committed != other.Committed {
		return !v.Committed // false < true
	}
	return v.VotedFor < other.VotedFor
}

// Greater reports whether v sorts strictly after other.
func (v Vote) Greater(other Vote) bool {
	return other.Less(v)
}

// Equal reports whether v and other are the identical vote.
func (v Vote) Equal(other Vote) bool {
	return v == other
}

func (v Vote) String() string {
	return fmt.Sprintf("Vote{term=%d, votedFor=%q, committed=%v}", v.Term, v.VotedFor, v.Committed)
}

// LogID identifies a position in the replicated log by (Term, Index).
// A zero Index with the zero Term denotes "no entry" (the synthetic index-0
// sentinel written by Initialize); callers that need an explicit absent
// value use *LogID == nil.
type LogID struct {
	Term  Term
	Index uint64
}

// LessLogID reports whether id sorts strictly before other, lexicographically on
// (Term, Index). A nil LogID sorts before any non-nil LogID.
func LessLogID(id, other *LogID) bool {
	if id == nil {
		return other != nil
	}
	if other == nil {
		return false
	}
	if id.Term != other.Term {
		return id.Term < other.Term
	}
	return id.Index < other.Index
}

// GreaterOrEqualLogID reports whether id is >= other under the same order
// LessLogID defines.
func GreaterOrEqualLogID(id, other *LogID) bool {
	return !LessLogID(id, other)
}

func (id LogID) String() string {
	return fmt.Sprintf("(term=%d, index=%d)", id.Term, id.Index)
}

// Entry is a single position in the replicated log: an id plus an opaque,
// ordered batch of application commands. The engine never inspects Payload.
type Entry struct {
	LogID   LogID
	Payload [][]byte
}

// RunningState is published on the metrics watch channel to report whether
// the engine is healthy or has been poisoned by a Fatal error.
type RunningState int

const (
	// Running is the normal operating state.
	Running RunningState = iota
	// FatalState means the engine has stopped processing after a
	// durability failure or invariant violation; it refuses new writes.
	FatalState
)

func (s RunningState) String() string {
	switch s {
	case Running:
		return "Running"
	case FatalState:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Role is the engine's place in the Raft role state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}
