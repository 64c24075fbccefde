package raft

import "context"

// LogStorage is the durable, append-only, truncatable contract consumed by
// the engine (spec §4.6). It is single-writer — only the engine goroutine
// calls the mutating methods — but Read/ReadRange/LastLogID/ReadVote must
// be safe to call concurrently from an external applier that may lag the
// writer.
//
// Append, Truncate, SaveVote, and Initialize must be durable (fsynced, or
// equivalent) before they return: the engine relies on that to satisfy the
// "vote before reply" and "entries before ack" ordering guarantees in
// spec §5.
type LogStorage interface {
	// Append durably stores entries, each at its own LogID.Index. The
	// engine appends at the index after the current last log index; the
	// implementations in package logstore do not check this and overwrite
	// any entry already stored at the same index.
	Append(ctx context.Context, entries []Entry) error

	// Truncate durably removes every entry at or after fromIndex.
	Truncate(ctx context.Context, fromIndex uint64) error

	// Read returns the entry at index, or (Entry{}, false) if absent.
	Read(ctx context.Context, index uint64) (Entry, bool, error)

	// ReadRange returns entries in [lo, hi], inclusive, skipping absent
	// indices.
	ReadRange(ctx context.Context, lo, hi uint64) ([]Entry, error)

	// LastLogID returns the id of the last entry in the log, or nil if the
	// log (including the sentinel written by Initialize) is empty.
	LastLogID(ctx context.Context) (*LogID, error)

	// SaveVote durably persists v as the node's vote. Callers must ensure v
	// is strictly greater than the previously saved vote; SaveVote itself
	// does not re-check monotonicity (the engine is the sole writer and
	// enforces it once, in Engine.acceptForeignVote).
	SaveVote(ctx context.Context, v Vote) error

	// ReadVote returns the most recently saved vote, or ZeroVote if none
	// has ever been saved.
	ReadVote(ctx context.Context) (Vote, error)

	// Initialize writes the synthetic entry-0 sentinel iff the log is
	// empty and returns ErrAlreadyInitialized otherwise. The sentinel has
	// an empty payload: members is not recorded in the log.
	Initialize(ctx context.Context, members map[NodeID]Node) error
}

// Node is the record of one cluster member as passed to Initialize; it
// mirrors membership.Node without requiring LogStorage implementations to
// import the membership package directly.
type Node struct {
	ID      NodeID
	Address string
}
